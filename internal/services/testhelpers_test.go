package services_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	pkcs12 "software.sslmate.com/src/go-pkcs12"

	"github.com/hestia-immo/parapheur/internal/config"
	"github.com/hestia-immo/parapheur/internal/db"
	"github.com/hestia-immo/parapheur/internal/services"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := database.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.Migrate(database))
	return database
}

func newTestConfig(t *testing.T, certDir string) *config.Configuration {
	t.Helper()

	cfg := &config.Configuration{}
	cfg.Certificates.Dir = certDir
	cfg.Certificates.SealPKCS12 = "hestia_server.pfx"
	cfg.Certificates.CACert = "hestia_certificate_authority.pem"
	cfg.Certificates.CAKey = "hestia_certificate_authority_key.pem"
	cfg.Certificates.TSACert = "hestia_tsa.pem"
	cfg.Certificates.TSAKey = "hestia_tsa_key.pem"
	cfg.Certificates.SealPassphrase = "test-seal"
	cfg.Certificates.Organization = "HB CONSULTING (Hestia)"
	cfg.TSA.PolicyOID = "1.3.6.1.4.1.57264.1.1"
	cfg.TSA.RequestTimeout = 5 * time.Second
	cfg.Signing.OTPExpiry = 10 * time.Minute
	cfg.Signing.ComplianceCaption = "Signature conforme eIDAS"
	cfg.Signing.SignatureLocation = "France"
	cfg.Signing.TimeZone = "Europe/Paris"
	cfg.Signing.DefaultStampPage = -1
	cfg.Signing.DefaultStampBox = []float64{425, 20, 575, 150}
	return cfg
}

// writeTrustMaterial generates a CA, a TSA identity and a seal PKCS#12 in
// dir, the same layout the key generator produces.
func writeTrustMaterial(t *testing.T, dir string) {
	t.Helper()

	caKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	caTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"HB CONSULTING (Hestia)"},
			CommonName:   "Hestia Certificate Authority",
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().AddDate(1, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, caKey.Public(), caKey)
	require.NoError(t, err)
	caCert, err := x509.ParseCertificate(caDER)
	require.NoError(t, err)

	writeTestCert(t, dir, "hestia_certificate_authority.pem", caDER)
	writeTestKey(t, dir, "hestia_certificate_authority_key.pem", caKey)

	tsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tsaTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject: pkix.Name{
			Organization: []string{"HB CONSULTING (Hestia)"},
			CommonName:   "Hestia TSA",
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().AddDate(1, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageTimeStamping},
		BasicConstraintsValid: true,
	}
	tsaDER, err := x509.CreateCertificate(rand.Reader, tsaTemplate, caCert, tsaKey.Public(), caKey)
	require.NoError(t, err)

	writeTestCert(t, dir, "hestia_tsa.pem", tsaDER)
	writeTestKey(t, dir, "hestia_tsa_key.pem", tsaKey)

	sealKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	sealTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(3),
		Subject: pkix.Name{
			Organization: []string{"HB CONSULTING (Hestia)"},
			CommonName:   "Hestia Seal",
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().AddDate(1, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageEmailProtection},
		BasicConstraintsValid: true,
	}
	sealDER, err := x509.CreateCertificate(rand.Reader, sealTemplate, caCert, sealKey.Public(), caKey)
	require.NoError(t, err)
	sealCert, err := x509.ParseCertificate(sealDER)
	require.NoError(t, err)

	pfx, err := pkcs12.Modern.Encode(sealKey, sealCert, []*x509.Certificate{caCert}, "test-seal")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hestia_server.pfx"), pfx, 0o600))
}

func writeTestCert(t *testing.T, dir, name string, der []byte) {
	t.Helper()
	data := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o600))
}

func writeTestKey(t *testing.T, dir, name string, key *rsa.PrivateKey) {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	data := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o600))
}

func newTestTrust(t *testing.T) (*services.TrustService, *config.Configuration) {
	t.Helper()

	dir := t.TempDir()
	writeTrustMaterial(t, dir)
	cfg := newTestConfig(t, dir)

	trust, err := services.NewTrustService(cfg, zap.NewNop())
	require.NoError(t, err)
	return trust, cfg
}
