package services

import (
	"bytes"
	"crypto/x509"
	"encoding/asn1"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/digitorus/pdf"
	"github.com/digitorus/pkcs7"
	"github.com/digitorus/timestamp"
	"go.uber.org/zap"
)

var (
	ErrNoSignatureFound = errors.New("no signature found in document")
	ErrEvidenceInvalid  = errors.New("signature evidence invalid")
)

// RFC 3161 id-aa-timeStampToken unsigned attribute.
var oidTimeStampToken = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 14}

// SignatureEvidence is everything the proof journal records about one
// signature, read back from the signed artifact itself rather than from
// in-memory state.
type SignatureEvidence struct {
	FieldName       string
	Certificate     *x509.Certificate
	CertificatePEM  string
	Timestamp       *timestamp.Timestamp
	TimestampDER    []byte
	CoversWholeFile bool
}

// ExtractService reads signature evidence out of signed PDFs. It walks the
// AcroForm signature fields, picks the newest signature by ByteRange
// coverage and parses the embedded CMS container.
type ExtractService struct {
	logger *zap.Logger
}

func NewExtractService(logger *zap.Logger) *ExtractService {
	return &ExtractService{
		logger: logger.With(zap.String("service", "extract_service")),
	}
}

type sigField struct {
	name     string
	value    pdf.Value
	rangeEnd int64
}

// LatestEvidence returns the evidence of the most recent signature: the
// one whose ByteRange extends furthest into the file. When that signature
// does not cover the whole artifact the evidence is flagged, the caller
// decides whether that is fatal.
func (es *ExtractService) LatestEvidence(pdfBytes []byte) (*SignatureEvidence, error) {
	fields, err := es.signatureFields(pdfBytes)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrNoSignatureFound
	}

	latest := fields[0]
	for _, f := range fields[1:] {
		if f.rangeEnd > latest.rangeEnd {
			latest = f
		}
	}

	contents := []byte(latest.value.Key("Contents").RawString())
	contents = bytes.TrimRight(contents, "\x00")
	if len(contents) == 0 {
		return nil, fmt.Errorf("%w: empty signature contents in field %q", ErrEvidenceInvalid, latest.name)
	}

	p7, err := pkcs7.Parse(contents)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse CMS container: %v", ErrEvidenceInvalid, err)
	}

	evidence := &SignatureEvidence{
		FieldName:       latest.name,
		CoversWholeFile: latest.rangeEnd == int64(len(pdfBytes)),
	}

	if cert := signerCertificate(p7); cert != nil {
		evidence.Certificate = cert
		evidence.CertificatePEM = string(pem.EncodeToMemory(&pem.Block{
			Type:  "CERTIFICATE",
			Bytes: cert.Raw,
		}))
	} else {
		return nil, fmt.Errorf("%w: no signer certificate in field %q", ErrEvidenceInvalid, latest.name)
	}

	for _, s := range p7.Signers {
		for _, attr := range s.UnauthenticatedAttributes {
			if attr.Type.Equal(oidTimeStampToken) {
				ts, err := timestamp.Parse(attr.Value.Bytes)
				if err != nil {
					return nil, fmt.Errorf("%w: failed to parse timestamp token: %v", ErrEvidenceInvalid, err)
				}
				evidence.Timestamp = ts
				evidence.TimestampDER = append([]byte(nil), attr.Value.Bytes...)
			}
		}
	}

	es.logger.Debug("Signature evidence extracted",
		zap.String("field", evidence.FieldName),
		zap.Bool("covers_whole_file", evidence.CoversWholeFile),
		zap.Bool("timestamped", evidence.Timestamp != nil),
	)
	return evidence, nil
}

// IsCertified reports whether the document carries a DocMDP certification
// signature.
func (es *ExtractService) IsCertified(pdfBytes []byte) (bool, error) {
	fields, err := es.signatureFields(pdfBytes)
	if err != nil {
		return false, err
	}

	for _, f := range fields {
		refs := f.value.Key("Reference")
		if refs.IsNull() || refs.Kind() != pdf.Array {
			continue
		}
		for i := 0; i < refs.Len(); i++ {
			if refs.Index(i).Key("TransformMethod").Name() == "DocMDP" {
				return true, nil
			}
		}
	}
	return false, nil
}

// SignatureCount returns how many filled signature fields the artifact
// carries, certification included.
func (es *ExtractService) SignatureCount(pdfBytes []byte) (int, error) {
	fields, err := es.signatureFields(pdfBytes)
	if err != nil {
		return 0, err
	}
	return len(fields), nil
}

func (es *ExtractService) signatureFields(pdfBytes []byte) ([]sigField, error) {
	rdr, err := pdf.NewReader(bytes.NewReader(pdfBytes), int64(len(pdfBytes)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDocumentUnreadable, err)
	}

	acroFields := rdr.Trailer().Key("Root").Key("AcroForm").Key("Fields")
	if acroFields.IsNull() || acroFields.Kind() != pdf.Array {
		return nil, nil
	}

	var out []sigField
	for i := 0; i < acroFields.Len(); i++ {
		collectSignatureFields(acroFields.Index(i), &out)
	}
	return out, nil
}

func collectSignatureFields(field pdf.Value, out *[]sigField) {
	kids := field.Key("Kids")
	if !kids.IsNull() && kids.Kind() == pdf.Array {
		for i := 0; i < kids.Len(); i++ {
			collectSignatureFields(kids.Index(i), out)
		}
	}

	if field.Key("FT").Name() != "Sig" {
		return
	}
	value := field.Key("V")
	if value.IsNull() {
		return
	}
	br := value.Key("ByteRange")
	if br.IsNull() || br.Len() < 4 {
		return
	}

	*out = append(*out, sigField{
		name:     field.Key("T").Text(),
		value:    value,
		rangeEnd: br.Index(2).Int64() + br.Index(3).Int64(),
	})
}

func signerCertificate(p7 *pkcs7.PKCS7) *x509.Certificate {
	if len(p7.Signers) > 0 {
		si := p7.Signers[0]
		for _, cert := range p7.Certificates {
			if cert.SerialNumber.Cmp(si.IssuerAndSerialNumber.SerialNumber) == 0 &&
				bytes.Equal(cert.RawIssuer, si.IssuerAndSerialNumber.IssuerName.FullBytes) {
				return cert
			}
		}
	}
	if len(p7.Certificates) > 0 {
		return p7.Certificates[0]
	}
	return nil
}
