package services_test

import (
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hestia-immo/parapheur/internal/db/models"
	"github.com/hestia-immo/parapheur/internal/services"
)

func TestIssueSignerCertificateChainsToCA(t *testing.T) {
	trust, cfg := newTestTrust(t)
	issuer := services.NewCertIssuerService(trust, cfg, zap.NewNop())

	identity, err := issuer.IssueSignerCertificate("Alice Martin", "alice@example.com", models.RoleLandlord)
	require.NoError(t, err)
	require.False(t, identity.SelfSigned)
	require.Len(t, identity.Chain, 2)

	cert := identity.Certificate
	require.Equal(t, "Alice Martin", cert.Subject.CommonName)
	require.Contains(t, cert.Subject.OrganizationalUnit, "Hestia Landlord")
	require.Contains(t, cert.EmailAddresses, "alice@example.com")
	require.Equal(t, "Hestia Certificate Authority", cert.Issuer.CommonName)

	require.NotZero(t, cert.KeyUsage&x509.KeyUsageDigitalSignature)
	require.NotZero(t, cert.KeyUsage&x509.KeyUsageContentCommitment)
	require.Contains(t, cert.ExtKeyUsage, x509.ExtKeyUsageEmailProtection)

	// The issued certificate verifies against the internal authority.
	caCert, _ := trust.CAIdentity()
	roots := x509.NewCertPool()
	roots.AddCert(caCert)
	_, err = cert.Verify(x509.VerifyOptions{
		Roots:     roots,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	require.NoError(t, err)
}

func TestIssueSignerCertificateFreshKeyPerCall(t *testing.T) {
	trust, cfg := newTestTrust(t)
	issuer := services.NewCertIssuerService(trust, cfg, zap.NewNop())

	first, err := issuer.IssueSignerCertificate("Alice Martin", "alice@example.com", models.RoleLandlord)
	require.NoError(t, err)
	second, err := issuer.IssueSignerCertificate("Alice Martin", "alice@example.com", models.RoleLandlord)
	require.NoError(t, err)

	require.NotEqual(t, first.Certificate.SerialNumber, second.Certificate.SerialNumber)
	require.NotEqual(t, first.Certificate.Raw, second.Certificate.Raw)
}

func TestIssueSignerCertificateSelfSignsWithoutCA(t *testing.T) {
	dir := t.TempDir()
	writeTrustMaterial(t, dir)
	require.NoError(t, os.Remove(filepath.Join(dir, "hestia_certificate_authority.pem")))
	require.NoError(t, os.Remove(filepath.Join(dir, "hestia_certificate_authority_key.pem")))

	cfg := newTestConfig(t, dir)
	trust, err := services.NewTrustService(cfg, zap.NewNop())
	require.NoError(t, err)
	issuer := services.NewCertIssuerService(trust, cfg, zap.NewNop())

	identity, err := issuer.IssueSignerCertificate("Alice Martin", "alice@example.com", models.RoleTenant)
	require.NoError(t, err)
	require.True(t, identity.SelfSigned)
	require.Len(t, identity.Chain, 1)
	require.Equal(t, identity.Certificate.Subject.String(), identity.Certificate.Issuer.String())
}

func TestIssueSignerCertificateRequiresIdentity(t *testing.T) {
	trust, cfg := newTestTrust(t)
	issuer := services.NewCertIssuerService(trust, cfg, zap.NewNop())

	_, err := issuer.IssueSignerCertificate("", "alice@example.com", models.RoleLandlord)
	require.ErrorIs(t, err, services.ErrSignerIdentityIncomplete)

	_, err = issuer.IssueSignerCertificate("Alice Martin", "  ", models.RoleLandlord)
	require.ErrorIs(t, err, services.ErrSignerIdentityIncomplete)
}
