package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hestia-immo/parapheur/internal/api/middleware"
	"github.com/hestia-immo/parapheur/internal/db/models"
	"github.com/hestia-immo/parapheur/internal/services"
)

type SigningHandler struct {
	orchestrator *services.SignatureOrchestrator
	logger       *zap.Logger
}

func NewSigningHandler(orchestrator *services.SignatureOrchestrator, logger *zap.Logger) *SigningHandler {
	return &SigningHandler{
		orchestrator: orchestrator,
		logger:       logger.With(zap.String("handler", "signing")),
	}
}

type createFlowRequest struct {
	Signers []services.SignerSpec `json:"signers" binding:"required"`
}

type signatureRequestResponse struct {
	ID          string            `json:"id"`
	Order       int               `json:"order"`
	SignerRole  models.SignerRole `json:"signer_role"`
	SignerName  string            `json:"signer_name"`
	SignerEmail string            `json:"signer_email"`
	LinkToken   string            `json:"link_token"`
	Signed      bool              `json:"signed"`
}

// CreateFlow certifies the document and registers its signers.
func (h *SigningHandler) CreateFlow(c *gin.Context) {
	var body createFlowRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	requests, err := h.orchestrator.CreateFlow(c.Param("id"), body.Signers)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	out := make([]signatureRequestResponse, 0, len(requests))
	for _, r := range requests {
		out = append(out, signatureRequestResponse{
			ID:          r.ID,
			Order:       r.Order,
			SignerRole:  r.SignerRole,
			SignerName:  r.SignerName,
			SignerEmail: r.SignerEmail,
			LinkToken:   r.LinkToken,
			Signed:      r.Signed,
		})
	}
	c.JSON(http.StatusCreated, gin.H{"requests": out})
}

// ResetFlow removes the signers and the certification of a DRAFT document
// so it can be edited and re-submitted.
func (h *SigningHandler) ResetFlow(c *gin.Context) {
	if err := h.orchestrator.ResetFlow(c.Param("id")); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

// AccessLink shows a signer the state of their signature.
func (h *SigningHandler) AccessLink(c *gin.Context) {
	ctx, err := h.orchestrator.AccessLink(c.Param("token"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, ctx)
}

// RequestOTP issues or reissues the signer's code. Delivery happens out of
// band; the code is returned here because this service has no mailer.
func (h *SigningHandler) RequestOTP(c *gin.Context) {
	req, code, err := h.orchestrator.RequestOTP(c.Param("token"))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"signer_email": req.SignerEmail,
		"otp":          code,
		"expires_in":   "10m",
	})
}

// CompleteSignature validates the code and applies the signature. The
// optional handwritten signature image comes as a multipart PNG.
func (h *SigningHandler) CompleteSignature(c *gin.Context) {
	otp := c.PostForm("otp")
	if otp == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "otp is required"})
		return
	}

	var signatureImage []byte
	if header, err := c.FormFile("signature_image"); err == nil {
		file, err := header.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable signature image"})
			return
		}
		defer file.Close()
		signatureImage, err = io.ReadAll(io.LimitReader(file, 4<<20))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable signature image"})
			return
		}
	}

	prov := services.Provenance{
		ClientIP:  middleware.ClientIP(c),
		UserAgent: c.Request.UserAgent(),
		Referer:   c.Request.Referer(),
	}

	record, status, err := h.orchestrator.CompleteSignature(c.Param("token"), otp, signatureImage, prov)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"document_id":     record.DocumentID,
		"document_status": status,
		"signer_email":    record.SignerEmail,
		"pdf_hash_after":  record.PDFHashAfter,
		"tsa_serial":      record.TSASerial,
		"tsa_degraded":    record.TSADegraded,
		"signed_field":    record.SignedFieldName,
	})
}
