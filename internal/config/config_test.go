package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hestia-immo/parapheur/internal/config"
)

func TestDefaultConfiguration(t *testing.T) {
	cfg := config.InitializeDefaultConfig()

	require.Equal(t, "8000", cfg.Server.Port)
	require.Equal(t, "parapheur", cfg.Database.Name)
	require.Equal(t, "certificates", cfg.Certificates.Dir)
	require.Equal(t, "hestia_server.pfx", cfg.Certificates.SealPKCS12)
	require.Equal(t, "1.3.6.1.4.1.57264.1.1", cfg.TSA.PolicyOID)
	require.Equal(t, 5*time.Second, cfg.TSA.RequestTimeout)
	require.Equal(t, 10*time.Minute, cfg.Signing.OTPExpiry)
	require.Equal(t, "Signature conforme eIDAS", cfg.Signing.ComplianceCaption)
	require.Equal(t, -1, cfg.Signing.DefaultStampPage)
	require.Equal(t, []float64{425, 20, 575, 150}, cfg.Signing.DefaultStampBox)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("PASSWORD_CERT_SERVER", "seal-secret")
	t.Setenv("PASSWORD_CERT_CA", "ca-secret")
	t.Setenv("PASSWORD_CERT_TSA", "tsa-secret")
	t.Setenv("DATABASE_PASSWORD", "db-secret")
	t.Setenv("PORT", "9000")

	cfg := config.InitializeDefaultConfig()

	require.Equal(t, "seal-secret", cfg.Certificates.SealPassphrase)
	require.Equal(t, "ca-secret", cfg.Certificates.CAPassphrase)
	require.Equal(t, "tsa-secret", cfg.Certificates.TSAPassphrase)
	require.Equal(t, "db-secret", cfg.Database.Password)
	require.Equal(t, "9000", cfg.Server.Port)
}
