package models

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// SignerRole tags which side of the rental relationship a signer belongs
// to. Exactly one role per request, carried on the row itself.
type SignerRole string

const (
	RoleLandlord SignerRole = "LANDLORD"
	RoleTenant   SignerRole = "TENANT"
	RoleAgent    SignerRole = "AGENT"
)

func (r SignerRole) Valid() bool {
	switch r {
	case RoleLandlord, RoleTenant, RoleAgent:
		return true
	}
	return false
}

// SignatureRequest is one required signer on a document. Order is the
// 1-based position in the signing sequence and is unique per document.
// LinkToken is the opaque identifier the business layer embeds in the
// signer-facing link.
type SignatureRequest struct {
	gorm.Model
	ID             string     `gorm:"primaryKey"`
	DocumentID     string     `gorm:"not null;uniqueIndex:idx_doc_order,priority:1"`
	Order          int        `gorm:"column:signing_order;not null;uniqueIndex:idx_doc_order,priority:2"`
	SignerRole     SignerRole `gorm:"not null"`
	SignerName     string     `gorm:"not null"`
	SignerEmail    string     `gorm:"not null"`
	LinkToken      string     `gorm:"uniqueIndex;not null"`
	OTPCode        string
	OTPGeneratedAt *time.Time
	Signed         bool `gorm:"not null;default:false"`
	SignedAt       *time.Time
}

func (SignatureRequest) TableName() string {
	return "signature_requests"
}

// AnchorMarker is the per-signer text marker searched for in the page
// content to position the visual stamp.
func (sr *SignatureRequest) AnchorMarker() string {
	return fmt.Sprintf("[[signature:%s]]", strings.ToLower(sr.SignerEmail))
}

// FieldHint names the signature event in logs and in the proof journal.
func (sr *SignatureRequest) FieldHint() string {
	return fmt.Sprintf("signature_%s_%d", strings.ToLower(string(sr.SignerRole)), sr.Order)
}
