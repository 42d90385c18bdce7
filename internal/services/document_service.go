package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/hestia-immo/parapheur/internal/db/models"
	"github.com/hestia-immo/parapheur/pkg/metrics"
)

var (
	ErrDocumentNotFound  = errors.New("document not found")
	ErrDocumentLocked    = errors.New("document is locked for edits")
	ErrDocumentFinalized = errors.New("document is already signed")
	ErrDocumentCancelled = errors.New("document is cancelled")
	ErrInvalidKind       = errors.New("unknown document kind")
	ErrEmptyDocument     = errors.New("document has no content")
)

// PDFValidator is the slice of the PDF engine the lifecycle needs: enough
// to reject uploads that are not readable PDFs.
type PDFValidator interface {
	PageCount(pdfBytes []byte) (int, error)
}

// DocumentService owns the document lifecycle. A document is DRAFT until
// the first OTP goes out, SIGNING while signatures are being collected and
// SIGNED once every required signature has a proof record. SIGNED and
// CANCELLED are terminal.
type DocumentService struct {
	db      *gorm.DB
	engine  PDFValidator
	logger  *zap.Logger
	metrics *metrics.MetricsCollector
}

func NewDocumentService(db *gorm.DB, engine PDFValidator, logger *zap.Logger, collector *metrics.MetricsCollector) *DocumentService {
	return &DocumentService{
		db:      db,
		engine:  engine,
		logger:  logger.With(zap.String("service", "document_service")),
		metrics: collector,
	}
}

// CreateDocument registers an externally generated PDF as a new DRAFT.
func (ds *DocumentService) CreateDocument(kind models.DocumentKind, title string, pdfBytes []byte) (*models.Document, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	if len(pdfBytes) == 0 {
		return nil, ErrEmptyDocument
	}
	if _, err := ds.engine.PageCount(pdfBytes); err != nil {
		return nil, err
	}

	doc := &models.Document{
		ID:          uuid.New().String(),
		Kind:        kind,
		Title:       title,
		Status:      models.StatusDraft,
		OriginalPDF: pdfBytes,
	}
	if err := ds.db.Create(doc).Error; err != nil {
		return nil, err
	}

	ds.metrics.IncrementCounter("documents_total", map[string]string{"kind": string(kind)})
	ds.logger.Info("Document created",
		zap.String("document_id", doc.ID),
		zap.String("kind", string(kind)),
		zap.Int("size", len(pdfBytes)),
	)
	return doc, nil
}

func (ds *DocumentService) GetDocument(documentID string) (*models.Document, error) {
	var doc models.Document
	if err := ds.db.First(&doc, "id = ?", documentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	return &doc, nil
}

func (ds *DocumentService) ListDocuments(status models.DocumentStatus) ([]models.Document, error) {
	var docs []models.Document
	query := ds.db.Order("created_at DESC")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Find(&docs).Error; err != nil {
		return nil, err
	}
	return docs, nil
}

// UpdateDocument replaces title or content. Rejected once the signing flow
// has started: the certified artifact must not drift from what signers saw.
func (ds *DocumentService) UpdateDocument(documentID, title string, pdfBytes []byte) (*models.Document, error) {
	doc, err := ds.GetDocument(documentID)
	if err != nil {
		return nil, err
	}
	if doc.Locked() {
		return nil, ErrDocumentLocked
	}
	if doc.Status == models.StatusCancelled {
		return nil, ErrDocumentCancelled
	}

	if title != "" {
		doc.Title = title
	}
	if len(pdfBytes) > 0 {
		if _, err := ds.engine.PageCount(pdfBytes); err != nil {
			return nil, err
		}
		doc.OriginalPDF = pdfBytes
		doc.LatestPDF = nil
	}
	if err := ds.db.Save(doc).Error; err != nil {
		return nil, err
	}

	ds.logger.Info("Document updated", zap.String("document_id", doc.ID))
	return doc, nil
}

// CancelDocument aborts the flow. Allowed from DRAFT and SIGNING; a SIGNED
// document can never be cancelled.
func (ds *DocumentService) CancelDocument(documentID string) (*models.Document, error) {
	doc, err := ds.GetDocument(documentID)
	if err != nil {
		return nil, err
	}
	switch doc.Status {
	case models.StatusSigned:
		return nil, ErrDocumentFinalized
	case models.StatusCancelled:
		return doc, nil
	}

	now := time.Now().UTC()
	doc.Status = models.StatusCancelled
	doc.CancelledAt = &now
	if err := ds.db.Save(doc).Error; err != nil {
		return nil, err
	}

	ds.metrics.IncrementCounter("documents_cancelled", nil)
	ds.logger.Info("Document cancelled", zap.String("document_id", doc.ID))
	return doc, nil
}

// RefreshStatus recomputes the status from the persisted proof records.
// The count of proofs, never an in-memory flag, decides when the document
// flips to SIGNED, so a finalization replayed after a crash converges on
// the same result.
func (ds *DocumentService) RefreshStatus(tx *gorm.DB, documentID string) (models.DocumentStatus, error) {
	var doc models.Document
	if err := tx.First(&doc, "id = ?", documentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrDocumentNotFound
		}
		return "", err
	}
	if doc.Status == models.StatusCancelled {
		return doc.Status, nil
	}

	var requests, proofs int64
	if err := tx.Model(&models.SignatureRequest{}).Where("document_id = ?", documentID).Count(&requests).Error; err != nil {
		return "", err
	}
	if err := tx.Model(&models.ProofRecord{}).Where("document_id = ?", documentID).Count(&proofs).Error; err != nil {
		return "", err
	}

	status := doc.Status
	if requests > 0 && proofs >= requests {
		status = models.StatusSigned
	}
	if status != doc.Status {
		if err := tx.Model(&doc).Update("status", status).Error; err != nil {
			return "", err
		}
		ds.logger.Info("Document status changed",
			zap.String("document_id", documentID),
			zap.String("from", string(doc.Status)),
			zap.String("to", string(status)),
		)
	}
	return status, nil
}
