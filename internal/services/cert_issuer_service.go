package services

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hestia-immo/parapheur/internal/config"
	"github.com/hestia-immo/parapheur/internal/db/models"
)

var ErrSignerIdentityIncomplete = errors.New("signer identity incomplete")

// Adobe document-signing extended key usage.
var oidDocumentSigning = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 36}

var oidEmailAddress = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 1}

// SignerIdentity is a freshly issued keypair and certificate for exactly
// one signing operation. The private key never leaves process memory.
type SignerIdentity struct {
	Certificate *x509.Certificate
	Key         crypto.Signer
	Chain       []*x509.Certificate
	SelfSigned  bool
}

// CertIssuerService mints ephemeral signer certificates chained to the
// internal certificate authority. When no CA material is available the
// certificate is self-signed instead; the degradation is logged but never
// blocks the signing flow.
type CertIssuerService struct {
	trust  *TrustService
	logger *zap.Logger
	org    string
}

func NewCertIssuerService(trust *TrustService, cfg *config.Configuration, logger *zap.Logger) *CertIssuerService {
	return &CertIssuerService{
		trust:  trust,
		logger: logger.With(zap.String("service", "cert_issuer_service")),
		org:    cfg.Certificates.Organization,
	}
}

// IssueSignerCertificate creates a one-shot RSA-2048 identity for the
// given signer. Validity is one year, which comfortably outlives the few
// seconds the certificate is actually used for.
func (cis *CertIssuerService) IssueSignerCertificate(name, email string, role models.SignerRole) (*SignerIdentity, error) {
	if strings.TrimSpace(name) == "" || strings.TrimSpace(email) == "" {
		return nil, ErrSignerIdentityIncomplete
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signer key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate certificate serial: %w", err)
	}

	roleLabel := roleUnit(role)
	now := time.Now().UTC()

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Country:            []string{"FR"},
			Province:           []string{"Hauts-de-France"},
			Locality:           []string{"Arras"},
			Organization:       []string{cis.org},
			OrganizationalUnit: []string{"Hestia " + roleLabel},
			CommonName:         name,
			ExtraNames: []pkix.AttributeTypeAndValue{
				{Type: oidEmailAddress, Value: email},
			},
		},
		NotBefore:             now,
		NotAfter:              now.AddDate(1, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment | x509.KeyUsageContentCommitment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageEmailProtection, x509.ExtKeyUsageClientAuth},
		UnknownExtKeyUsage:    []asn1.ObjectIdentifier{oidDocumentSigning},
		BasicConstraintsValid: true,
		EmailAddresses:        []string{email},
	}

	caCert, caKey := cis.trust.CAIdentity()
	if caCert != nil && caKey != nil {
		der, err := x509.CreateCertificate(rand.Reader, template, caCert, key.Public(), caKey)
		if err != nil {
			return nil, fmt.Errorf("failed to issue signer certificate: %w", err)
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("failed to parse issued certificate: %w", err)
		}

		cis.logger.Info("Signer certificate issued",
			zap.String("subject", cert.Subject.CommonName),
			zap.String("email", email),
			zap.String("serial", cert.SerialNumber.String()),
		)
		return &SignerIdentity{
			Certificate: cert,
			Key:         key,
			Chain:       []*x509.Certificate{cert, caCert},
		}, nil
	}

	// No authority available, fall back to a self-signed certificate.
	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	if err != nil {
		return nil, fmt.Errorf("failed to self-sign signer certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse self-signed certificate: %w", err)
	}

	cis.logger.Warn("Signer certificate self-signed, no authority material available",
		zap.String("subject", cert.Subject.CommonName),
		zap.String("email", email),
	)
	return &SignerIdentity{
		Certificate: cert,
		Key:         key,
		Chain:       []*x509.Certificate{cert},
		SelfSigned:  true,
	}, nil
}

func roleUnit(role models.SignerRole) string {
	switch role {
	case models.RoleLandlord:
		return "Landlord"
	case models.RoleTenant:
		return "Tenant"
	case models.RoleAgent:
		return "Agent"
	default:
		return "Signer"
	}
}
