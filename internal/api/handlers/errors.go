package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hestia-immo/parapheur/internal/services"
)

// respondServiceError maps service errors to HTTP statuses. Unknown errors
// never leak their message to the client.
func respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrDocumentNotFound),
		errors.Is(err, services.ErrRequestNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})

	case errors.Is(err, services.ErrDocumentLocked),
		errors.Is(err, services.ErrDocumentFinalized),
		errors.Is(err, services.ErrDocumentCancelled),
		errors.Is(err, services.ErrFlowExists),
		errors.Is(err, services.ErrAlreadySigned),
		errors.Is(err, services.ErrNotYourTurn),
		errors.Is(err, services.ErrNotCertified):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})

	case errors.Is(err, services.ErrOTPInvalid),
		errors.Is(err, services.ErrOTPExpired),
		errors.Is(err, services.ErrOTPRequired):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})

	case errors.Is(err, services.ErrInvalidKind),
		errors.Is(err, services.ErrEmptyDocument),
		errors.Is(err, services.ErrNoSigners),
		errors.Is(err, services.ErrBadSignerOrder),
		errors.Is(err, services.ErrSignerIdentityIncomplete),
		errors.Is(err, services.ErrDocumentUnreadable),
		errors.Is(err, services.ErrAnchorAmbiguous):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
