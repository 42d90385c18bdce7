package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hestia-immo/parapheur/internal/api"
	"github.com/hestia-immo/parapheur/internal/config"
	"github.com/hestia-immo/parapheur/internal/db"
	"github.com/hestia-immo/parapheur/internal/services"
	"github.com/hestia-immo/parapheur/pkg/logger"
	"github.com/hestia-immo/parapheur/pkg/metrics"
)

func main() {
	var cfg *config.Configuration
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		var err error
		cfg, err = config.LoadConfig(path)
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
	} else {
		cfg = config.InitializeDefaultConfig()
	}

	zapLogger, err := logger.NewLogger(os.Getenv("ENVIRONMENT"))
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()
	zap.ReplaceGlobals(zapLogger)

	config.LogConfig(zapLogger)

	database, err := db.InitDB(cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to initialize database", zap.Error(err))
	}

	metricsCollector := metrics.NewMetricsCollector()

	trustService, err := services.NewTrustService(cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to load trust material", zap.Error(err))
	}

	tsaService, err := services.NewTSAService(database, trustService, cfg, zapLogger, metricsCollector)
	if err != nil {
		zapLogger.Fatal("Failed to initialize timestamp authority", zap.Error(err))
	}
	tsaURL, err := tsaService.StartLoopback()
	if err != nil {
		zapLogger.Fatal("Failed to start loopback timestamp listener", zap.Error(err))
	}

	engine := services.NewPDFEngineService(trustService, cfg, zapLogger, metricsCollector)
	engine.SetTSAURL(tsaURL)

	issuerService := services.NewCertIssuerService(trustService, cfg, zapLogger)
	stampService := services.NewStampService(cfg, zapLogger)
	anchorService := services.NewAnchorService(zapLogger)
	extractService := services.NewExtractService(zapLogger)
	journalService := services.NewJournalService(database, extractService, zapLogger)
	documentService := services.NewDocumentService(database, engine, zapLogger, metricsCollector)
	orchestrator := services.NewSignatureOrchestrator(
		database,
		documentService,
		issuerService,
		stampService,
		anchorService,
		engine,
		extractService,
		journalService,
		cfg,
		zapLogger,
		metricsCollector,
	)

	// Notification delivery is handled by the calling platform; the core
	// only surfaces the event.
	orchestrator.OnFullySigned(func(documentID string) {
		zapLogger.Info("Document fully signed", zap.String("document_id", documentID))
	})

	router := api.NewRouter(zapLogger, metricsCollector, cfg, documentService, journalService, orchestrator, tsaService)
	router.SetupRoutes()

	port := cfg.Server.Port
	go func() {
		if err := router.Run(":" + port); err != nil {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()
	zapLogger.Info("Server started", zap.String("port", port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down server...")

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tsaService.Shutdown(ctxShutdown); err != nil {
		zapLogger.Warn("Loopback timestamp listener did not stop cleanly", zap.Error(err))
	}

	sqlDB, err := database.DB()
	if err == nil {
		sqlDB.Close()
	}
	zapLogger.Info("Server gracefully stopped")
}
