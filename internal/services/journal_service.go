package services

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/hestia-immo/parapheur/internal/db/models"
)

var ErrProofIncomplete = errors.New("proof record incomplete")

// Provenance captures where the completing HTTP request came from.
type Provenance struct {
	ClientIP  string
	UserAgent string
	Referer   string
}

// SignatureCounter reports how many filled signature fields an artifact
// carries.
type SignatureCounter interface {
	SignatureCount(pdfBytes []byte) (int, error)
}

// JournalService writes and exports the forensic proof journal. Records
// are append-only: one per completed signature, never updated, never
// deleted. Everything certificate- and timestamp-related is extracted from
// the signed artifact, not copied from in-memory signing state.
type JournalService struct {
	db      *gorm.DB
	counter SignatureCounter
	logger  *zap.Logger
}

func NewJournalService(db *gorm.DB, counter SignatureCounter, logger *zap.Logger) *JournalService {
	return &JournalService{
		db:      db,
		counter: counter,
		logger:  logger.With(zap.String("service", "journal_service")),
	}
}

// PDFHash is the hex SHA-256 of an artifact, the hash format used
// throughout the journal.
func PDFHash(pdfBytes []byte) string {
	sum := sha256.Sum256(pdfBytes)
	return hex.EncodeToString(sum[:])
}

// BuildRecord assembles a proof record from the request, the extracted
// evidence and the raw artifacts around the signing pass.
func (js *JournalService) BuildRecord(req *models.SignatureRequest, evidence *SignatureEvidence, prov Provenance, pdfBefore, pdfAfter []byte, selfSigned bool) (*models.ProofRecord, error) {
	if evidence == nil || evidence.Certificate == nil {
		return nil, ErrProofIncomplete
	}
	// A proof without OTP evidence is worthless in a dispute; refuse to
	// build one no matter what the caller already checked.
	if req.OTPCode == "" || req.OTPGeneratedAt == nil {
		return nil, fmt.Errorf("%w: no OTP evidence for signer %s", ErrProofIncomplete, req.SignerEmail)
	}

	fingerprint := sha256.Sum256(evidence.Certificate.Raw)

	record := &models.ProofRecord{
		ID:                 uuid.New().String(),
		DocumentID:         req.DocumentID,
		SignatureRequestID: req.ID,
		SignerName:         req.SignerName,
		SignerEmail:        req.SignerEmail,
		SignerRole:         req.SignerRole,

		OTPCode:        req.OTPCode,
		OTPGeneratedAt: req.OTPGeneratedAt,
		OTPValidatedAt: time.Now().UTC(),

		ClientIP:  prov.ClientIP,
		UserAgent: prov.UserAgent,
		Referer:   prov.Referer,

		PDFHashBefore: PDFHash(pdfBefore),
		PDFHashAfter:  PDFHash(pdfAfter),

		CertificatePEM:         evidence.CertificatePEM,
		CertificateFingerprint: hex.EncodeToString(fingerprint[:]),
		CertificateSubject:     evidence.Certificate.Subject.String(),
		CertificateIssuer:      evidence.Certificate.Issuer.String(),
		CertificateNotBefore:   evidence.Certificate.NotBefore,
		CertificateNotAfter:    evidence.Certificate.NotAfter,

		TSADegraded:     evidence.Timestamp == nil || selfSigned,
		SignedFieldName: evidence.FieldName,
	}

	if evidence.Timestamp != nil {
		tsaTime := evidence.Timestamp.Time
		record.TSATime = &tsaTime
		record.TSASerial = evidence.Timestamp.SerialNumber.String()
		record.TSATokenDER = evidence.TimestampDER
	}

	return record, nil
}

// Persist writes the record inside the caller's transaction. The unique
// index on the request id makes a replayed finalization a no-op instead of
// a duplicate proof.
func (js *JournalService) Persist(tx *gorm.DB, record *models.ProofRecord) error {
	if err := tx.Create(record).Error; err != nil {
		return err
	}
	js.logger.Info("Proof record written",
		zap.String("document_id", record.DocumentID),
		zap.String("signer", record.SignerEmail),
		zap.String("pdf_hash_after", record.PDFHashAfter),
		zap.Bool("tsa_degraded", record.TSADegraded),
	)
	return nil
}

// JournalExport is the serialized proof journal for one document.
type JournalExport struct {
	Document      JournalDocument    `json:"document"`
	Certification JournalCert        `json:"certification"`
	Signatures    []JournalSignature `json:"signatures"`
	Audit         JournalAudit       `json:"audit"`
}

type JournalDocument struct {
	ID           string  `json:"id"`
	Kind         string  `json:"type"`
	Title        string  `json:"title"`
	CreatedAt    string  `json:"created_at"`
	PDFHashFinal *string `json:"pdf_hash_final"`
}

type JournalCert struct {
	Certifier   string  `json:"certifier"`
	CertifiedAt *string `json:"certified_at"`
}

type JournalSignature struct {
	SignerName             string  `json:"signer_name"`
	SignerEmail            string  `json:"signer_email"`
	SignerRole             string  `json:"signer_role"`
	SignedAt               string  `json:"signed_at"`
	OTPValidated           bool    `json:"otp_validated"`
	IPAddress              string  `json:"ip_address"`
	UserAgent              string  `json:"user_agent"`
	PDFHashBefore          string  `json:"pdf_hash_before"`
	PDFHashAfter           string  `json:"pdf_hash_after"`
	CertificateFingerprint string  `json:"certificate_fingerprint"`
	CertificateSubject     string  `json:"certificate_subject"`
	TSATime                *string `json:"tsa_timestamp"`
	TSASerial              string  `json:"tsa_serial"`
	TSADegraded            bool    `json:"tsa_degraded"`
	SignedFieldName        string  `json:"signed_field_name"`
}

type JournalAudit struct {
	GeneratedAt     string `json:"generated_at"`
	TotalSignatures int    `json:"total_signatures"`
	// Filled signature fields counted in the final artifact itself,
	// certification included. Cross-checks the record count.
	ArtifactSignatures int `json:"artifact_signatures"`
}

// Export builds the journal for a document, ordered by signing time.
func (js *JournalService) Export(doc *models.Document, certifier string) (*JournalExport, error) {
	var records []models.ProofRecord
	if err := js.db.Where("document_id = ?", doc.ID).Order("otp_validated_at ASC").Find(&records).Error; err != nil {
		return nil, err
	}

	export := &JournalExport{
		Document: JournalDocument{
			ID:        doc.ID,
			Kind:      string(doc.Kind),
			Title:     doc.Title,
			CreatedAt: doc.CreatedAt.UTC().Format(time.RFC3339),
		},
		Certification: JournalCert{
			Certifier: certifier,
		},
		Audit: JournalAudit{
			GeneratedAt:     time.Now().UTC().Format(time.RFC3339),
			TotalSignatures: len(records),
		},
	}

	if len(doc.LatestPDF) > 0 {
		hash := PDFHash(doc.LatestPDF)
		export.Document.PDFHashFinal = &hash

		count, err := js.counter.SignatureCount(doc.LatestPDF)
		if err != nil {
			return nil, fmt.Errorf("failed to count signatures in artifact: %w", err)
		}
		export.Audit.ArtifactSignatures = count
	}
	if doc.CertifiedAt != nil {
		certifiedAt := doc.CertifiedAt.UTC().Format(time.RFC3339)
		export.Certification.CertifiedAt = &certifiedAt
	}

	for _, r := range records {
		sig := JournalSignature{
			SignerName:             r.SignerName,
			SignerEmail:            r.SignerEmail,
			SignerRole:             string(r.SignerRole),
			SignedAt:               r.OTPValidatedAt.UTC().Format(time.RFC3339),
			OTPValidated:           true,
			IPAddress:              r.ClientIP,
			UserAgent:              r.UserAgent,
			PDFHashBefore:          r.PDFHashBefore,
			PDFHashAfter:           r.PDFHashAfter,
			CertificateFingerprint: r.CertificateFingerprint,
			CertificateSubject:     r.CertificateSubject,
			TSASerial:              r.TSASerial,
			TSADegraded:            r.TSADegraded,
			SignedFieldName:        r.SignedFieldName,
		}
		if r.TSATime != nil {
			t := r.TSATime.UTC().Format(time.RFC3339)
			sig.TSATime = &t
		}
		export.Signatures = append(export.Signatures, sig)
	}
	return export, nil
}
