package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hestia-immo/parapheur/internal/api/handlers"
	"github.com/hestia-immo/parapheur/internal/api/middleware"
	"github.com/hestia-immo/parapheur/internal/config"
	"github.com/hestia-immo/parapheur/internal/services"
	"github.com/hestia-immo/parapheur/pkg/metrics"
)

type Router struct {
	engine         *gin.Engine
	logger         *zap.Logger
	metrics        *metrics.MetricsCollector
	docHandler     *handlers.DocumentHandler
	signingHandler *handlers.SigningHandler
	tsaHandler     *handlers.TSAHandler
	reqMiddleware  *middleware.RequestMiddleware
}

func NewRouter(
	logger *zap.Logger,
	collector *metrics.MetricsCollector,
	cfg *config.Configuration,
	documentService *services.DocumentService,
	journalService *services.JournalService,
	orchestrator *services.SignatureOrchestrator,
	tsaService *services.TSAService,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	reqMiddleware := middleware.NewRequestMiddleware(logger)

	engine.Use(reqMiddleware.ProcessRequest())
	engine.Use(reqMiddleware.RecoverPanic())
	engine.Use(reqMiddleware.OTPAttemptMiddleware())

	return &Router{
		engine:         engine,
		logger:         logger,
		metrics:        collector,
		docHandler:     handlers.NewDocumentHandler(documentService, journalService, cfg, logger),
		signingHandler: handlers.NewSigningHandler(orchestrator, logger),
		tsaHandler:     handlers.NewTSAHandler(tsaService, logger),
		reqMiddleware:  reqMiddleware,
	}
}

func (r *Router) SetupRoutes() {
	r.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "up", "name": "parapheur"})
	})

	r.engine.GET("/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"counters":  r.metrics.GetCounters(),
			"latencies": r.metrics.GetLatencies(),
			"sizes":     r.metrics.GetSizes(),
		})
	})

	r.engine.POST("/tsa", r.tsaHandler.Timestamp)

	documents := r.engine.Group("/documents")
	{
		documents.POST("", r.docHandler.CreateDocument)
		documents.GET("", r.docHandler.ListDocuments)
		documents.GET("/:id", r.docHandler.GetDocument)
		documents.PATCH("/:id", r.docHandler.UpdateDocument)
		documents.POST("/:id/cancel", r.docHandler.CancelDocument)
		documents.GET("/:id/download", r.docHandler.DownloadDocument)
		documents.GET("/:id/journal", r.docHandler.ExportJournal)
		documents.POST("/:id/flow", r.signingHandler.CreateFlow)
		documents.DELETE("/:id/flow", r.signingHandler.ResetFlow)
	}

	sign := r.engine.Group("/sign")
	{
		sign.GET("/:token", r.signingHandler.AccessLink)
		sign.POST("/:token/otp", r.signingHandler.RequestOTP)
		sign.POST("/:token/complete", r.signingHandler.CompleteSignature)
	}
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}

func (r *Router) Run(addr string) error {
	r.logger.Info("Starting HTTP server", zap.String("address", addr))
	return r.engine.Run(addr)
}
