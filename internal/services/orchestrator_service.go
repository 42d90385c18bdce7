package services

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/hestia-immo/parapheur/internal/config"
	"github.com/hestia-immo/parapheur/internal/db/models"
	"github.com/hestia-immo/parapheur/pkg/metrics"
)

var (
	ErrRequestNotFound = errors.New("signature request not found")
	ErrFlowExists      = errors.New("signing flow already created")
	ErrNoSigners       = errors.New("at least one signer is required")
	ErrBadSignerOrder  = errors.New("signer orders must be contiguous from 1")
	ErrNotYourTurn     = errors.New("not this signer's turn")
	ErrOTPRequired     = errors.New("no code was requested for this signature")
	ErrOTPInvalid      = errors.New("wrong code")
	ErrOTPExpired      = errors.New("code expired")
	ErrAlreadySigned   = errors.New("signature already completed")
	ErrNotCertified    = errors.New("document is not certified")
	ErrArtifactSuspect = errors.New("signed artifact failed verification")
)

// SignerSpec describes one required signer when a flow is created.
type SignerSpec struct {
	Name  string            `json:"name"`
	Email string            `json:"email"`
	Role  models.SignerRole `json:"role"`
	Order int               `json:"order"`
}

// SigningContext is what a signer sees when opening their link.
type SigningContext struct {
	DocumentID    string                `json:"document_id"`
	DocumentTitle string                `json:"document_title"`
	DocumentKind  models.DocumentKind   `json:"document_kind"`
	Status        models.DocumentStatus `json:"status"`
	SignerName    string                `json:"signer_name"`
	SignerEmail   string                `json:"signer_email"`
	Order         int                   `json:"order"`
	Signed        bool                  `json:"signed"`
	IsTurn        bool                  `json:"is_turn"`
}

// SigningEngine is the slice of the PDF engine the orchestrator needs.
type SigningEngine interface {
	Certify(pdfBytes []byte, kind models.DocumentKind) ([]byte, error)
	Approve(pdfBytes []byte, req *models.SignatureRequest, identity *SignerIdentity, stampPNG []byte, placement *StampPlacement) ([]byte, error)
	PageCount(pdfBytes []byte) (int, error)
}

// EvidenceReader extracts signature evidence from signed artifacts.
type EvidenceReader interface {
	LatestEvidence(pdfBytes []byte) (*SignatureEvidence, error)
	IsCertified(pdfBytes []byte) (bool, error)
}

// IdentityIssuer mints ephemeral signer identities.
type IdentityIssuer interface {
	IssueSignerCertificate(name, email string, role models.SignerRole) (*SignerIdentity, error)
}

// StampComposer renders the visual stamp image.
type StampComposer interface {
	ComposeStamp(signatureImage []byte, name, email string, at time.Time) ([]byte, error)
}

// AnchorFinder locates stamp placement markers in page text.
type AnchorFinder interface {
	FindMarker(pdfBytes []byte, marker string) (*StampPlacement, error)
}

// SignatureOrchestrator drives the multi-party flow: flow creation with
// upfront certification, OTP issuance, turn enforcement and the full
// completion pipeline down to the proof record. Signing is strictly
// sequential; the signer with the lowest unsigned order is the only one
// allowed to act.
type SignatureOrchestrator struct {
	db        *gorm.DB
	documents *DocumentService
	issuer    IdentityIssuer
	stamps    StampComposer
	anchors   AnchorFinder
	engine    SigningEngine
	extract   EvidenceReader
	journal   *JournalService
	logger    *zap.Logger
	metrics   *metrics.MetricsCollector

	otpExpiry   time.Duration
	defaultPage int
	defaultBox  []float64

	onFullySigned func(documentID string)
}

func NewSignatureOrchestrator(
	db *gorm.DB,
	documents *DocumentService,
	issuer IdentityIssuer,
	stamps StampComposer,
	anchors AnchorFinder,
	engine SigningEngine,
	extract EvidenceReader,
	journal *JournalService,
	cfg *config.Configuration,
	logger *zap.Logger,
	collector *metrics.MetricsCollector,
) *SignatureOrchestrator {
	return &SignatureOrchestrator{
		db:          db,
		documents:   documents,
		issuer:      issuer,
		stamps:      stamps,
		anchors:     anchors,
		engine:      engine,
		extract:     extract,
		journal:     journal,
		logger:      logger.With(zap.String("service", "signature_orchestrator")),
		metrics:     collector,
		otpExpiry:   cfg.Signing.OTPExpiry,
		defaultPage: cfg.Signing.DefaultStampPage,
		defaultBox:  cfg.Signing.DefaultStampBox,
	}
}

// OnFullySigned registers a callback invoked after the last signature
// lands and the document flips to SIGNED. Notification delivery lives
// outside this service.
func (so *SignatureOrchestrator) OnFullySigned(fn func(documentID string)) {
	so.onFullySigned = fn
}

// CreateFlow registers the signers and certifies the document. The
// certification is the first signature on the artifact and locks it down
// before any signer link is ever opened. Documents that already carry a
// certification are not certified twice.
func (so *SignatureOrchestrator) CreateFlow(documentID string, signers []SignerSpec) ([]models.SignatureRequest, error) {
	if len(signers) == 0 {
		return nil, ErrNoSigners
	}

	seen := make(map[int]bool, len(signers))
	for _, s := range signers {
		if s.Name == "" || s.Email == "" || !s.Role.Valid() {
			return nil, fmt.Errorf("%w: name, email and role are required", ErrSignerIdentityIncomplete)
		}
		if s.Order < 1 || s.Order > len(signers) || seen[s.Order] {
			return nil, ErrBadSignerOrder
		}
		seen[s.Order] = true
	}

	doc, err := so.documents.GetDocument(documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status != models.StatusDraft {
		if doc.Status == models.StatusCancelled {
			return nil, ErrDocumentCancelled
		}
		return nil, ErrFlowExists
	}

	var existing int64
	if err := so.db.Model(&models.SignatureRequest{}).Where("document_id = ?", documentID).Count(&existing).Error; err != nil {
		return nil, err
	}
	if existing > 0 {
		return nil, ErrFlowExists
	}

	if doc.CertifiedAt == nil {
		certified, err := so.engine.Certify(doc.OriginalPDF, doc.Kind)
		if err != nil {
			return nil, err
		}
		now := time.Now().UTC()
		doc.LatestPDF = certified
		doc.CertifiedAt = &now
		if err := so.db.Save(doc).Error; err != nil {
			return nil, err
		}
	} else {
		// CertifiedAt says so, the artifact has to agree.
		certified, err := so.extract.IsCertified(doc.CurrentPDF())
		if err != nil {
			return nil, err
		}
		if !certified {
			return nil, ErrNotCertified
		}
	}

	requests := make([]models.SignatureRequest, 0, len(signers))
	for _, s := range signers {
		requests = append(requests, models.SignatureRequest{
			ID:          uuid.New().String(),
			DocumentID:  documentID,
			Order:       s.Order,
			SignerRole:  s.Role,
			SignerName:  s.Name,
			SignerEmail: s.Email,
			LinkToken:   uuid.New().String(),
		})
	}
	if err := so.db.Create(&requests).Error; err != nil {
		return nil, err
	}

	so.metrics.IncrementCounter("signing_flows_total", map[string]string{"kind": string(doc.Kind)})
	so.logger.Info("Signing flow created",
		zap.String("document_id", documentID),
		zap.Int("signers", len(signers)),
	)
	return requests, nil
}

// AccessLink resolves a signer link into its signing context.
func (so *SignatureOrchestrator) AccessLink(linkToken string) (*SigningContext, error) {
	req, err := so.requestByToken(linkToken)
	if err != nil {
		return nil, err
	}
	doc, err := so.documents.GetDocument(req.DocumentID)
	if err != nil {
		return nil, err
	}

	isTurn, err := so.isTurn(req)
	if err != nil {
		return nil, err
	}

	return &SigningContext{
		DocumentID:    doc.ID,
		DocumentTitle: doc.Title,
		DocumentKind:  doc.Kind,
		Status:        doc.Status,
		SignerName:    req.SignerName,
		SignerEmail:   req.SignerEmail,
		Order:         req.Order,
		Signed:        req.Signed,
		IsTurn:        isTurn && doc.Status != models.StatusCancelled && doc.Status != models.StatusSigned,
	}, nil
}

// RequestOTP issues a fresh 6-digit code for the signer. Calling it again
// replaces the previous code. The first issuance for the first signer
// moves the document from DRAFT to SIGNING.
func (so *SignatureOrchestrator) RequestOTP(linkToken string) (*models.SignatureRequest, string, error) {
	req, err := so.requestByToken(linkToken)
	if err != nil {
		return nil, "", err
	}
	if req.Signed {
		return nil, "", ErrAlreadySigned
	}

	doc, err := so.documents.GetDocument(req.DocumentID)
	if err != nil {
		return nil, "", err
	}
	if doc.Status == models.StatusCancelled {
		return nil, "", ErrDocumentCancelled
	}
	if doc.Status == models.StatusSigned {
		return nil, "", ErrDocumentFinalized
	}

	isTurn, err := so.isTurn(req)
	if err != nil {
		return nil, "", err
	}
	if !isTurn {
		return nil, "", ErrNotYourTurn
	}

	code, err := generateOTP()
	if err != nil {
		return nil, "", err
	}
	now := time.Now().UTC()
	req.OTPCode = code
	req.OTPGeneratedAt = &now
	if err := so.db.Save(req).Error; err != nil {
		return nil, "", err
	}

	if doc.Status == models.StatusDraft {
		if err := so.db.Model(doc).Update("status", models.StatusSigning).Error; err != nil {
			return nil, "", err
		}
		so.logger.Info("Document entered signing",
			zap.String("document_id", doc.ID))
	}

	so.metrics.IncrementCounter("otp_issued_total", nil)
	so.logger.Info("Code issued",
		zap.String("document_id", req.DocumentID),
		zap.String("signer", req.SignerEmail),
		zap.Int("order", req.Order),
	)
	return req, code, nil
}

// CompleteSignature validates the code, runs the signing pipeline and
// persists the outcome atomically. Nothing is written unless the signed
// artifact reads back with valid evidence covering the whole file.
func (so *SignatureOrchestrator) CompleteSignature(linkToken, otp string, signatureImage []byte, prov Provenance) (*models.ProofRecord, models.DocumentStatus, error) {
	req, err := so.requestByToken(linkToken)
	if err != nil {
		return nil, "", err
	}
	if req.Signed {
		return nil, "", ErrAlreadySigned
	}

	doc, err := so.documents.GetDocument(req.DocumentID)
	if err != nil {
		return nil, "", err
	}
	if doc.Status == models.StatusCancelled {
		return nil, "", ErrDocumentCancelled
	}
	if doc.CertifiedAt == nil || len(doc.LatestPDF) == 0 {
		return nil, "", ErrNotCertified
	}

	if err := so.checkOTP(req, otp); err != nil {
		so.metrics.IncrementCounter("otp_checks_total", map[string]string{"status": "failed"})
		return nil, "", err
	}
	so.metrics.IncrementCounter("otp_checks_total", map[string]string{"status": "ok"})

	isTurn, err := so.isTurn(req)
	if err != nil {
		return nil, "", err
	}
	if !isTurn {
		return nil, "", ErrNotYourTurn
	}

	pdfBefore := doc.CurrentPDF()

	identity, err := so.issuer.IssueSignerCertificate(req.SignerName, req.SignerEmail, req.SignerRole)
	if err != nil {
		return nil, "", err
	}

	stampPNG, err := so.stamps.ComposeStamp(signatureImage, req.SignerName, req.SignerEmail, time.Now())
	if err != nil {
		return nil, "", err
	}

	placement, err := so.resolvePlacement(pdfBefore, req)
	if err != nil {
		return nil, "", err
	}

	pdfAfter, err := so.engine.Approve(pdfBefore, req, identity, stampPNG, placement)
	if err != nil {
		return nil, "", err
	}

	evidence, err := so.extract.LatestEvidence(pdfAfter)
	if err != nil {
		return nil, "", err
	}
	if !evidence.CoversWholeFile {
		return nil, "", fmt.Errorf("%w: latest signature does not cover the file", ErrArtifactSuspect)
	}

	record, err := so.journal.BuildRecord(req, evidence, prov, pdfBefore, pdfAfter, identity.SelfSigned)
	if err != nil {
		return nil, "", err
	}

	var status models.DocumentStatus
	err = so.db.Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		res := tx.Model(&models.SignatureRequest{}).
			Where("id = ? AND signed = ?", req.ID, false).
			Updates(map[string]interface{}{"signed": true, "signed_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrAlreadySigned
		}

		if err := tx.Model(&models.Document{}).
			Where("id = ?", doc.ID).
			Update("latest_pdf", pdfAfter).Error; err != nil {
			return err
		}

		if err := so.journal.Persist(tx, record); err != nil {
			return err
		}

		status, err = so.documents.RefreshStatus(tx, doc.ID)
		return err
	})
	if err != nil {
		return nil, "", err
	}

	so.metrics.IncrementCounter("signatures_completed_total", map[string]string{"role": string(req.SignerRole)})
	so.logger.Info("Signature completed",
		zap.String("document_id", doc.ID),
		zap.String("signer", req.SignerEmail),
		zap.Int("order", req.Order),
		zap.String("status", string(status)),
	)

	if status == models.StatusSigned && so.onFullySigned != nil {
		so.onFullySigned(doc.ID)
	}
	return record, status, nil
}

// ResetFlow removes the signers and the certification so the document can
// be edited again. Only legal while the document is still DRAFT, before
// any code went out.
func (so *SignatureOrchestrator) ResetFlow(documentID string) error {
	doc, err := so.documents.GetDocument(documentID)
	if err != nil {
		return err
	}
	if doc.Status != models.StatusDraft {
		if doc.Status == models.StatusCancelled {
			return ErrDocumentCancelled
		}
		return ErrDocumentLocked
	}

	err = so.db.Transaction(func(tx *gorm.DB) error {
		// Hard delete: soft-deleted rows would keep their slot in the
		// per-document order index and block a fresh flow.
		if err := tx.Unscoped().Where("document_id = ?", documentID).Delete(&models.SignatureRequest{}).Error; err != nil {
			return err
		}
		return tx.Model(&models.Document{}).
			Where("id = ?", documentID).
			Updates(map[string]interface{}{"latest_pdf": nil, "certified_at": nil}).Error
	})
	if err != nil {
		return err
	}

	so.logger.Info("Signing flow reset", zap.String("document_id", documentID))
	return nil
}

func (so *SignatureOrchestrator) requestByToken(linkToken string) (*models.SignatureRequest, error) {
	var req models.SignatureRequest
	if err := so.db.First(&req, "link_token = ?", linkToken).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	return &req, nil
}

// isTurn reports whether the request holds the lowest unsigned order of
// its document.
func (so *SignatureOrchestrator) isTurn(req *models.SignatureRequest) (bool, error) {
	var next models.SignatureRequest
	err := so.db.Where("document_id = ? AND signed = ?", req.DocumentID, false).
		Order("signing_order ASC").
		First(&next).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return next.ID == req.ID, nil
}

// checkOTP distinguishes a wrong code from an expired one: expiry is only
// reported for the right code, so probing reveals nothing about validity
// windows.
func (so *SignatureOrchestrator) checkOTP(req *models.SignatureRequest, otp string) error {
	if req.OTPCode == "" || req.OTPGeneratedAt == nil {
		return ErrOTPRequired
	}
	if otp != req.OTPCode {
		return ErrOTPInvalid
	}
	if time.Since(*req.OTPGeneratedAt) > so.otpExpiry {
		return ErrOTPExpired
	}
	return nil
}

// resolvePlacement finds the signer's anchor marker. A missing marker
// falls back to the configured default box, an ambiguous one is fatal.
func (so *SignatureOrchestrator) resolvePlacement(pdfBytes []byte, req *models.SignatureRequest) (*StampPlacement, error) {
	placement, err := so.anchors.FindMarker(pdfBytes, req.AnchorMarker())
	if err == nil {
		return placement, nil
	}
	if !errors.Is(err, ErrAnchorNotFound) {
		return nil, err
	}

	if len(so.defaultBox) != 4 {
		return nil, err
	}

	page := so.defaultPage
	if page < 1 {
		count, cerr := so.engine.PageCount(pdfBytes)
		if cerr != nil {
			return nil, cerr
		}
		page = count
	}

	so.logger.Warn("Anchor marker missing, using default stamp box",
		zap.String("signer", req.SignerEmail),
		zap.Int("page", page),
	)
	return &StampPlacement{
		Page:        uint32(page),
		LowerLeftX:  so.defaultBox[0],
		LowerLeftY:  so.defaultBox[1],
		UpperRightX: so.defaultBox[2],
		UpperRightY: so.defaultBox[3],
	}, nil
}

func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
