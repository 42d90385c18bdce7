package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hestia-immo/parapheur/internal/config"
	"github.com/hestia-immo/parapheur/internal/db/models"
	"github.com/hestia-immo/parapheur/internal/services"
)

const maxUploadSize = 25 << 20

type DocumentHandler struct {
	documentService *services.DocumentService
	journalService  *services.JournalService
	certifier       string
	logger          *zap.Logger
}

func NewDocumentHandler(
	documentService *services.DocumentService,
	journalService *services.JournalService,
	cfg *config.Configuration,
	logger *zap.Logger,
) *DocumentHandler {
	return &DocumentHandler{
		documentService: documentService,
		journalService:  journalService,
		certifier:       cfg.Certificates.Organization,
		logger:          logger.With(zap.String("handler", "document")),
	}
}

type documentResponse struct {
	ID          string                `json:"id"`
	Kind        models.DocumentKind   `json:"kind"`
	Title       string                `json:"title"`
	Status      models.DocumentStatus `json:"status"`
	CertifiedAt *string               `json:"certified_at,omitempty"`
	CreatedAt   string                `json:"created_at"`
}

func toDocumentResponse(doc *models.Document) documentResponse {
	resp := documentResponse{
		ID:        doc.ID,
		Kind:      doc.Kind,
		Title:     doc.Title,
		Status:    doc.Status,
		CreatedAt: doc.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
	if doc.CertifiedAt != nil {
		t := doc.CertifiedAt.UTC().Format("2006-01-02T15:04:05Z07:00")
		resp.CertifiedAt = &t
	}
	return resp
}

// CreateDocument accepts a multipart upload with the PDF and its metadata.
func (h *DocumentHandler) CreateDocument(c *gin.Context) {
	kind := models.DocumentKind(c.PostForm("kind"))
	title := c.PostForm("title")
	if title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title is required"})
		return
	}

	pdfBytes, err := readUploadedPDF(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	doc, err := h.documentService.CreateDocument(kind, title, pdfBytes)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toDocumentResponse(doc))
}

func (h *DocumentHandler) GetDocument(c *gin.Context) {
	doc, err := h.documentService.GetDocument(c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, toDocumentResponse(doc))
}

func (h *DocumentHandler) ListDocuments(c *gin.Context) {
	status := models.DocumentStatus(c.Query("status"))
	docs, err := h.documentService.ListDocuments(status)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	out := make([]documentResponse, 0, len(docs))
	for i := range docs {
		out = append(out, toDocumentResponse(&docs[i]))
	}
	c.JSON(http.StatusOK, gin.H{"documents": out, "count": len(out)})
}

// UpdateDocument replaces the title or the PDF of a DRAFT document.
func (h *DocumentHandler) UpdateDocument(c *gin.Context) {
	title := c.PostForm("title")

	var pdfBytes []byte
	if _, err := c.FormFile("file"); err == nil {
		pdfBytes, err = readUploadedPDF(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	doc, err := h.documentService.UpdateDocument(c.Param("id"), title, pdfBytes)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, toDocumentResponse(doc))
}

func (h *DocumentHandler) CancelDocument(c *gin.Context) {
	doc, err := h.documentService.CancelDocument(c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, toDocumentResponse(doc))
}

// DownloadDocument streams the latest artifact, signed revisions included.
func (h *DocumentHandler) DownloadDocument(c *gin.Context) {
	doc, err := h.documentService.GetDocument(c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	content := doc.CurrentPDF()
	if len(content) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "document has no content"})
		return
	}

	filename := fmt.Sprintf("%s_%s.pdf", doc.Kind.FilePrefix(), doc.ID)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/pdf", content)
}

// ExportJournal returns the forensic proof journal of the document.
func (h *DocumentHandler) ExportJournal(c *gin.Context) {
	doc, err := h.documentService.GetDocument(c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	journal, err := h.journalService.Export(doc, h.certifier)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, journal)
}

func readUploadedPDF(c *gin.Context) ([]byte, error) {
	header, err := c.FormFile("file")
	if err != nil {
		return nil, errors.New("file is required")
	}
	if header.Size > maxUploadSize {
		return nil, errors.New("file too large")
	}

	file, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return io.ReadAll(io.LimitReader(file, maxUploadSize))
}
