// Command genkeys generates the development trust material: the internal
// certificate authority, the timestamp authority and the company seal.
// Production deployments replace the seal with the CertEurope PKCS#12 and
// never run this tool.
package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"flag"
	"log"
	"math/big"
	"os"
	"path/filepath"
	"time"

	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

func main() {
	dir := flag.String("dir", "certificates", "output directory")
	org := flag.String("org", "HB CONSULTING (Hestia)", "organization name")
	sealPassword := flag.String("seal-password", os.Getenv("PASSWORD_CERT_SERVER"), "PKCS#12 passphrase for the seal")
	flag.Parse()

	if err := os.MkdirAll(*dir, 0o700); err != nil {
		log.Fatalf("failed to create output directory: %v", err)
	}

	caCert, caKey := mustCreateCA(*org)
	writePEM(*dir, "hestia_certificate_authority.pem", "CERTIFICATE", caCert.Raw)
	writeKeyPEM(*dir, "hestia_certificate_authority_key.pem", caKey)

	tsaCert, tsaKey := mustIssue(*org, "Hestia TSA", caCert, caKey, func(t *x509.Certificate) {
		t.KeyUsage = x509.KeyUsageDigitalSignature
		t.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageTimeStamping}
	})
	writePEM(*dir, "hestia_tsa.pem", "CERTIFICATE", tsaCert.Raw)
	writeKeyPEM(*dir, "hestia_tsa_key.pem", tsaKey)

	sealCert, sealKey := mustIssue(*org, "Hestia Seal", caCert, caKey, func(t *x509.Certificate) {
		t.KeyUsage = x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment
		t.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageEmailProtection}
	})

	pfx, err := pkcs12.Modern.Encode(sealKey, sealCert, []*x509.Certificate{caCert}, *sealPassword)
	if err != nil {
		log.Fatalf("failed to encode seal PKCS#12: %v", err)
	}
	writeFile(*dir, "hestia_server.pfx", pfx)

	log.Printf("trust material written to %s", *dir)
}

func mustCreateCA(org string) (*x509.Certificate, *rsa.PrivateKey) {
	key, err := rsa.GenerateKey(rand.Reader, 3072)
	if err != nil {
		log.Fatalf("failed to generate CA key: %v", err)
	}

	template := &x509.Certificate{
		SerialNumber: randomSerial(),
		Subject: pkix.Name{
			Country:      []string{"FR"},
			Organization: []string{org},
			CommonName:   "Hestia Certificate Authority",
		},
		NotBefore:             time.Now().UTC(),
		NotAfter:              time.Now().UTC().AddDate(10, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            1,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	if err != nil {
		log.Fatalf("failed to create CA certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		log.Fatalf("failed to parse CA certificate: %v", err)
	}
	return cert, key
}

func mustIssue(org, cn string, caCert *x509.Certificate, caKey *rsa.PrivateKey, customize func(*x509.Certificate)) (*x509.Certificate, *rsa.PrivateKey) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		log.Fatalf("failed to generate key for %s: %v", cn, err)
	}

	template := &x509.Certificate{
		SerialNumber: randomSerial(),
		Subject: pkix.Name{
			Country:      []string{"FR"},
			Organization: []string{org},
			CommonName:   cn,
		},
		NotBefore:             time.Now().UTC(),
		NotAfter:              time.Now().UTC().AddDate(5, 0, 0),
		BasicConstraintsValid: true,
	}
	customize(template)

	der, err := x509.CreateCertificate(rand.Reader, template, caCert, key.Public(), caKey)
	if err != nil {
		log.Fatalf("failed to issue certificate for %s: %v", cn, err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		log.Fatalf("failed to parse certificate for %s: %v", cn, err)
	}
	return cert, key
}

func randomSerial() *big.Int {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		log.Fatalf("failed to generate serial: %v", err)
	}
	return serial
}

func writePEM(dir, name, blockType string, der []byte) {
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	writeFile(dir, name, data)
}

func writeKeyPEM(dir, name string, key *rsa.PrivateKey) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		log.Fatalf("failed to marshal key %s: %v", name, err)
	}
	writePEM(dir, name, "PRIVATE KEY", der)
}

func writeFile(dir, name string, data []byte) {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		log.Fatalf("failed to write %s: %v", path, err)
	}
}
