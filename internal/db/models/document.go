package models

import (
	"time"

	"gorm.io/gorm"
)

type DocumentStatus string

const (
	StatusDraft     DocumentStatus = "DRAFT"
	StatusSigning   DocumentStatus = "SIGNING"
	StatusSigned    DocumentStatus = "SIGNED"
	StatusCancelled DocumentStatus = "CANCELLED"
)

// DocumentKind enumerates the signable document types handled by the
// platform. The kind only influences display names, file prefixes and the
// certification reason; the signing flow itself is identical for all kinds.
type DocumentKind string

const (
	KindLease     DocumentKind = "lease"
	KindInventory DocumentKind = "inventory"
	KindReceipt   DocumentKind = "receipt"
	KindAmendment DocumentKind = "amendment"
	KindInsurance DocumentKind = "insurance"
)

func (k DocumentKind) DisplayName() string {
	switch k {
	case KindLease:
		return "Contrat de bail"
	case KindInventory:
		return "État des lieux"
	case KindReceipt:
		return "Quittance de loyer"
	case KindAmendment:
		return "Avenant au bail"
	case KindInsurance:
		return "Assurance"
	default:
		return string(k)
	}
}

func (k DocumentKind) FilePrefix() string {
	switch k {
	case KindLease:
		return "bail"
	case KindInventory:
		return "etat_lieux"
	case KindReceipt:
		return "quittance"
	case KindAmendment:
		return "avenant"
	case KindInsurance:
		return "assurance"
	default:
		return string(k)
	}
}

func (k DocumentKind) Valid() bool {
	switch k {
	case KindLease, KindInventory, KindReceipt, KindAmendment, KindInsurance:
		return true
	}
	return false
}

// Document is the signable envelope around an externally generated PDF.
// OriginalPDF is set once and never mutated; LatestPDF is replaced after
// every successful signing step and frozen once the document is SIGNED.
type Document struct {
	gorm.Model
	ID          string         `gorm:"primaryKey"`
	Kind        DocumentKind   `gorm:"not null"`
	Title       string         `gorm:"not null"`
	Status      DocumentStatus `gorm:"not null;default:'DRAFT'"`
	OriginalPDF []byte         `gorm:"type:bytea"`
	LatestPDF   []byte         `gorm:"type:bytea"`
	CertifiedAt *time.Time
	CancelledAt *time.Time
}

// Locked reports whether business-field edits on the underlying document
// must be rejected by the caller.
func (d *Document) Locked() bool {
	return d.Status == StatusSigning || d.Status == StatusSigned
}

// CurrentPDF returns the artifact the next signature applies to.
func (d *Document) CurrentPDF() []byte {
	if len(d.LatestPDF) > 0 {
		return d.LatestPDF
	}
	return d.OriginalPDF
}
