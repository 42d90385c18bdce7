package services

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"github.com/digitorus/pdf"
	"github.com/digitorus/pdfsign/sign"
	"go.uber.org/zap"

	"github.com/hestia-immo/parapheur/internal/config"
	"github.com/hestia-immo/parapheur/internal/db/models"
	"github.com/hestia-immo/parapheur/pkg/metrics"
)

var (
	ErrDocumentUnreadable = errors.New("document is not a readable PDF")
	ErrSigningFailed      = errors.New("signing pass failed")
)

// PDFEngineService applies signatures as incremental updates. Every pass
// rewrites nothing of the existing bytes: the previous revision remains
// intact inside the output, which is what makes earlier signatures stay
// verifiable.
type PDFEngineService struct {
	trust   *TrustService
	logger  *zap.Logger
	metrics *metrics.MetricsCollector

	tsaURL   string
	location string
	contact  string
}

func NewPDFEngineService(trust *TrustService, cfg *config.Configuration, logger *zap.Logger, collector *metrics.MetricsCollector) *PDFEngineService {
	return &PDFEngineService{
		trust:    trust,
		logger:   logger.With(zap.String("service", "pdf_engine_service")),
		metrics:  collector,
		location: cfg.Signing.SignatureLocation,
		contact:  "contact@hestia-immo.fr",
	}
}

// SetTSAURL points the engine at the timestamp authority. Called once at
// startup after the loopback listener is bound.
func (pe *PDFEngineService) SetTSAURL(url string) {
	pe.tsaURL = url
}

// PageCount returns the number of pages, used to resolve "last page"
// stamp placement.
func (pe *PDFEngineService) PageCount(pdfBytes []byte) (int, error) {
	rdr, err := pdf.NewReader(bytes.NewReader(pdfBytes), int64(len(pdfBytes)))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDocumentUnreadable, err)
	}
	return rdr.NumPage(), nil
}

// Certify applies the company certification signature. It is invisible,
// must be the first signature on the document and locks it down to
// form-fill and signature changes only.
func (pe *PDFEngineService) Certify(pdfBytes []byte, kind models.DocumentKind) ([]byte, error) {
	start := time.Now()

	sealCert, sealKey, sealChain := pe.trust.SealIdentity()

	data := sign.SignData{
		Signature: sign.SignDataSignature{
			CertType:   sign.CertificationSignature,
			DocMDPPerm: sign.AllowFillingExistingFormFieldsAndSignaturesPerms,
			Info: sign.SignDataSignatureInfo{
				Name:        sealCert.Subject.CommonName,
				Location:    pe.location,
				Reason:      fmt.Sprintf("Certification Hestia - %s", kind.DisplayName()),
				ContactInfo: pe.contact,
				Date:        time.Now(),
			},
		},
		Signer:            sealKey,
		DigestAlgorithm:   crypto.SHA256,
		Certificate:       sealCert,
		CertificateChains: pe.chains(sealCert, sealChain),
		TSA:               sign.TSA{URL: pe.tsaURL},
	}

	out, err := pe.signPass(pdfBytes, data)
	if err != nil {
		pe.metrics.IncrementCounter("pdf_sign_total", map[string]string{"kind": "certify_error"})
		return nil, err
	}

	pe.metrics.IncrementCounter("pdf_sign_total", map[string]string{"kind": "certify"})
	pe.metrics.ObserveLatency("pdf_certify", time.Since(start))
	pe.metrics.ObserveSize("pdf_artifact", float64(len(out)))

	pe.logger.Info("Document certified",
		zap.String("kind", string(kind)),
		zap.Int("size_before", len(pdfBytes)),
		zap.Int("size_after", len(out)),
	)
	return out, nil
}

// Approve applies one signer's approval signature with a visible stamp.
func (pe *PDFEngineService) Approve(pdfBytes []byte, req *models.SignatureRequest, identity *SignerIdentity, stampPNG []byte, placement *StampPlacement) ([]byte, error) {
	start := time.Now()

	data := sign.SignData{
		Signature: sign.SignDataSignature{
			CertType: sign.ApprovalSignature,
			Info: sign.SignDataSignatureInfo{
				Name:        req.SignerName,
				Location:    pe.location,
				Reason:      fmt.Sprintf("Signature de %s (%s)", req.SignerName, req.SignerEmail),
				ContactInfo: req.SignerEmail,
				Date:        time.Now(),
			},
		},
		Signer:            identity.Key,
		DigestAlgorithm:   crypto.SHA256,
		Certificate:       identity.Certificate,
		CertificateChains: [][]*x509.Certificate{identity.Chain},
		TSA:               sign.TSA{URL: pe.tsaURL},
		Appearance: sign.Appearance{
			Visible:     true,
			Page:        placement.Page,
			LowerLeftX:  placement.LowerLeftX,
			LowerLeftY:  placement.LowerLeftY,
			UpperRightX: placement.UpperRightX,
			UpperRightY: placement.UpperRightY,
			Image:       stampPNG,
		},
	}

	out, err := pe.signPass(pdfBytes, data)
	if err != nil {
		pe.metrics.IncrementCounter("pdf_sign_total", map[string]string{"kind": "approve_error"})
		return nil, err
	}

	pe.metrics.IncrementCounter("pdf_sign_total", map[string]string{"kind": "approve"})
	pe.metrics.ObserveLatency("pdf_approve", time.Since(start))
	pe.metrics.ObserveSize("pdf_artifact", float64(len(out)))

	pe.logger.Info("Approval signature applied",
		zap.String("signer", req.SignerEmail),
		zap.Int("order", req.Order),
		zap.Uint32("stamp_page", placement.Page),
	)
	return out, nil
}

func (pe *PDFEngineService) signPass(pdfBytes []byte, data sign.SignData) ([]byte, error) {
	input := bytes.NewReader(pdfBytes)
	rdr, err := pdf.NewReader(input, int64(len(pdfBytes)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDocumentUnreadable, err)
	}

	var out bytes.Buffer
	if err := sign.Sign(input, &out, rdr, int64(len(pdfBytes)), data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}
	return out.Bytes(), nil
}

func (pe *PDFEngineService) chains(leaf *x509.Certificate, rest []*x509.Certificate) [][]*x509.Certificate {
	chain := make([]*x509.Certificate, 0, len(rest)+1)
	chain = append(chain, leaf)
	chain = append(chain, rest...)
	return [][]*x509.Certificate{chain}
}
