package services

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	pkcs12 "software.sslmate.com/src/go-pkcs12"

	"github.com/hestia-immo/parapheur/internal/config"
)

var (
	ErrTrustMaterialMissing = errors.New("trust material file missing")
	ErrTrustMaterialInvalid = errors.New("trust material invalid")
	ErrPassphraseNotSet     = errors.New("trust material passphrase not set")
)

// TrustService loads and holds the three long-lived identities of the
// platform: the company seal (PKCS#12), the internal certificate authority
// and the timestamp authority keypair. Material is loaded once at startup.
// The seal and the TSA keypair are mandatory; a missing CA only degrades
// signer certificate issuance to self-signed, so it is logged and
// tolerated.
type TrustService struct {
	logger *zap.Logger

	sealCert  *x509.Certificate
	sealKey   crypto.Signer
	sealChain []*x509.Certificate

	caCert *x509.Certificate
	caKey  crypto.Signer

	tsaCert *x509.Certificate
	tsaKey  crypto.Signer
}

func NewTrustService(cfg *config.Configuration, logger *zap.Logger) (*TrustService, error) {
	ts := &TrustService{
		logger: logger.With(zap.String("service", "trust_service")),
	}

	certs := cfg.Certificates

	sealPath := filepath.Join(certs.Dir, certs.SealPKCS12)
	if err := ts.loadSeal(sealPath, certs.SealPassphrase); err != nil {
		return nil, fmt.Errorf("seal identity: %w", err)
	}

	caCert, caKey, err := ts.loadPEMIdentity(
		filepath.Join(certs.Dir, certs.CACert),
		filepath.Join(certs.Dir, certs.CAKey),
		certs.CAPassphrase,
	)
	switch {
	case err == nil:
		ts.caCert, ts.caKey = caCert, caKey
	case errors.Is(err, ErrTrustMaterialMissing):
		ts.logger.Warn("Certificate authority material missing, signer certificates will be self-signed",
			zap.Error(err))
	default:
		return nil, fmt.Errorf("certificate authority identity: %w", err)
	}

	tsaCert, tsaKey, err := ts.loadPEMIdentity(
		filepath.Join(certs.Dir, certs.TSACert),
		filepath.Join(certs.Dir, certs.TSAKey),
		certs.TSAPassphrase,
	)
	if err != nil {
		return nil, fmt.Errorf("timestamp authority identity: %w", err)
	}
	ts.tsaCert, ts.tsaKey = tsaCert, tsaKey

	caSubject := ""
	if ts.caCert != nil {
		caSubject = ts.caCert.Subject.CommonName
	}
	ts.logger.Info("Trust material loaded",
		zap.String("seal_subject", ts.sealCert.Subject.CommonName),
		zap.String("ca_subject", caSubject),
		zap.String("tsa_subject", ts.tsaCert.Subject.CommonName),
		zap.Int("seal_chain_length", len(ts.sealChain)),
	)
	return ts, nil
}

func (ts *TrustService) loadSeal(path, passphrase string) error {
	// A missing passphrase is a configuration error, not a decode error;
	// report it as such before touching the store.
	if passphrase == "" {
		return fmt.Errorf("%w: PASSWORD_CERT_SERVER is empty", ErrPassphraseNotSet)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrTrustMaterialMissing, path)
		}
		return err
	}

	key, cert, chain, err := pkcs12.DecodeChain(data, passphrase)
	if err != nil {
		return fmt.Errorf("%w: failed to decode PKCS#12 store: %v", ErrTrustMaterialInvalid, err)
	}

	signer, ok := key.(crypto.Signer)
	if !ok {
		return fmt.Errorf("%w: PKCS#12 private key does not implement crypto.Signer", ErrTrustMaterialInvalid)
	}

	ts.sealCert = cert
	ts.sealKey = signer
	ts.sealChain = chain
	return nil
}

func (ts *TrustService) loadPEMIdentity(certPath, keyPath, passphrase string) (*x509.Certificate, crypto.Signer, error) {
	certData, err := os.ReadFile(certPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("%w: %s", ErrTrustMaterialMissing, certPath)
		}
		return nil, nil, err
	}

	block, _ := pem.Decode(certData)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, nil, fmt.Errorf("%w: no certificate PEM block in %s", ErrTrustMaterialInvalid, certPath)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrTrustMaterialInvalid, err)
	}

	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("%w: %s", ErrTrustMaterialMissing, keyPath)
		}
		return nil, nil, err
	}

	key, err := parsePrivateKeyPEM(keyData, passphrase)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrTrustMaterialInvalid, keyPath, err)
	}
	return cert, key, nil
}

// parsePrivateKeyPEM handles the key encodings found in the key store:
// PKCS#8 (optionally encrypted with the legacy PEM scheme), PKCS#1 and EC.
func parsePrivateKeyPEM(data []byte, passphrase string) (crypto.Signer, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	keyBytes := block.Bytes
	if x509.IsEncryptedPEMBlock(block) {
		decrypted, err := x509.DecryptPEMBlock(block, []byte(passphrase))
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt private key: %w", err)
		}
		keyBytes = decrypted
	}

	if key, err := x509.ParsePKCS8PrivateKey(keyBytes); err == nil {
		switch k := key.(type) {
		case *rsa.PrivateKey:
			return k, nil
		case *ecdsa.PrivateKey:
			return k, nil
		default:
			return nil, errors.New("unsupported private key type")
		}
	}
	if key, err := x509.ParsePKCS1PrivateKey(keyBytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(keyBytes); err == nil {
		return key, nil
	}
	return nil, errors.New("unrecognized private key encoding")
}

// SealIdentity returns the company seal used for certification signatures.
// The chain excludes the leaf itself.
func (ts *TrustService) SealIdentity() (*x509.Certificate, crypto.Signer, []*x509.Certificate) {
	return ts.sealCert, ts.sealKey, ts.sealChain
}

// CAIdentity returns the internal authority used to issue ephemeral signer
// certificates.
func (ts *TrustService) CAIdentity() (*x509.Certificate, crypto.Signer) {
	return ts.caCert, ts.caKey
}

// TSAIdentity returns the timestamp authority keypair.
func (ts *TrustService) TSAIdentity() (*x509.Certificate, crypto.Signer) {
	return ts.tsaCert, ts.tsaKey
}
