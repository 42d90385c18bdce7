package models

import (
	"time"

	"gorm.io/gorm"
)

// ProofRecord is the forensic journal entry written after every completed
// signature. One row per signature, append-only: rows are never updated or
// deleted, and a document is SIGNED exactly when its proof count equals its
// request count.
type ProofRecord struct {
	gorm.Model
	ID                 string `gorm:"primaryKey"`
	DocumentID         string `gorm:"index;not null"`
	SignatureRequestID string `gorm:"uniqueIndex;not null"`

	SignerName  string `gorm:"not null"`
	SignerEmail string `gorm:"not null"`
	SignerRole  SignerRole

	// OTP evidence: the exact code validated and when it was issued and
	// checked. Stored verbatim, the code is single-use by construction.
	OTPCode        string
	OTPGeneratedAt *time.Time
	OTPValidatedAt time.Time

	// HTTP provenance of the completing request.
	ClientIP  string
	UserAgent string
	Referer   string

	// Artifact hashes around the signing pass, hex-encoded SHA-256.
	PDFHashBefore string `gorm:"not null"`
	PDFHashAfter  string `gorm:"not null"`

	// Signer certificate as embedded in the signature.
	CertificatePEM         string `gorm:"type:text"`
	CertificateFingerprint string
	CertificateSubject     string
	CertificateIssuer      string
	CertificateNotBefore   time.Time
	CertificateNotAfter    time.Time

	// Timestamp authority evidence extracted from the embedded token.
	TSATime     *time.Time
	TSASerial   string
	TSATokenDER []byte `gorm:"type:bytea"`
	TSADegraded bool

	// Name of the AcroForm field the signature landed in, read back from
	// the signed artifact rather than trusted from memory.
	SignedFieldName string
}

func (ProofRecord) TableName() string {
	return "proof_records"
}
