package handlers

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hestia-immo/parapheur/internal/services"
)

// TSAHandler exposes the internal timestamp authority over the public API.
// The same responder also runs on a loopback listener for the PDF engine.
type TSAHandler struct {
	tsaService *services.TSAService
	logger     *zap.Logger
}

func NewTSAHandler(tsaService *services.TSAService, logger *zap.Logger) *TSAHandler {
	return &TSAHandler{
		tsaService: tsaService,
		logger:     logger.With(zap.String("handler", "tsa")),
	}
}

// Timestamp handles application/timestamp-query requests.
func (h *TSAHandler) Timestamp(c *gin.Context) {
	h.tsaService.ServeHTTP(c.Writer, c.Request)
}
