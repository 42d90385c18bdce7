package services

import (
	"context"
	"encoding/asn1"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/digitorus/timestamp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/hestia-immo/parapheur/internal/config"
	"github.com/hestia-immo/parapheur/internal/db/models"
	"github.com/hestia-immo/parapheur/pkg/metrics"
)

var (
	ErrTSARequestInvalid = errors.New("invalid timestamp request")
	ErrTSAUnavailable    = errors.New("timestamp authority unavailable")
	ErrTSATimeout        = errors.New("timestamp request timed out")
)

// TSAService is the internal RFC 3161 timestamp authority. Serial numbers
// are allocated by inserting a row and reading back the auto-increment
// primary key, so a serial handed out for a request that later fails is
// simply burned; the sequence stays strictly increasing across restarts.
//
// Besides the public endpoint, the service runs on a loopback listener so
// the PDF engine can reach it over plain HTTP the way any external TSA
// would be reached.
type TSAService struct {
	db      *gorm.DB
	trust   *TrustService
	logger  *zap.Logger
	metrics *metrics.MetricsCollector

	policyOID asn1.ObjectIdentifier
	timeout   time.Duration

	listener net.Listener
	server   *http.Server
}

func NewTSAService(db *gorm.DB, trust *TrustService, cfg *config.Configuration, logger *zap.Logger, collector *metrics.MetricsCollector) (*TSAService, error) {
	oid, err := parseOID(cfg.TSA.PolicyOID)
	if err != nil {
		return nil, fmt.Errorf("invalid TSA policy OID %q: %w", cfg.TSA.PolicyOID, err)
	}

	return &TSAService{
		db:        db,
		trust:     trust,
		logger:    logger.With(zap.String("service", "tsa_service")),
		metrics:   collector,
		policyOID: oid,
		timeout:   cfg.TSA.RequestTimeout,
	}, nil
}

func parseOID(s string) (asn1.ObjectIdentifier, error) {
	parts := strings.Split(s, ".")
	oid := make(asn1.ObjectIdentifier, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		oid = append(oid, n)
	}
	return oid, nil
}

// NextSerial burns one row in the serial table and returns its primary key.
// Allocation is bounded by the configured request timeout; a slow database
// surfaces as ErrTSATimeout instead of hanging the signing pass.
func (s *TSAService) NextSerial() (*big.Int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	row := &models.TsaSerial{}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: serial allocation: %v", ErrTSATimeout, err)
		}
		return nil, fmt.Errorf("%w: failed to allocate serial: %v", ErrTSAUnavailable, err)
	}
	return new(big.Int).SetUint64(uint64(row.ID)), nil
}

// CreateToken parses a DER TimeStampReq and returns a full DER
// TimeStampResp carrying a signed token.
func (s *TSAService) CreateToken(reqDER []byte) ([]byte, error) {
	start := time.Now()

	req, err := timestamp.ParseRequest(reqDER)
	if err != nil {
		s.metrics.IncrementCounter("tsa_requests_total", map[string]string{"status": "rejected"})
		return nil, fmt.Errorf("%w: %v", ErrTSARequestInvalid, err)
	}

	serial, err := s.NextSerial()
	if err != nil {
		s.metrics.IncrementCounter("tsa_requests_total", map[string]string{"status": "error"})
		return nil, err
	}

	tsaCert, tsaKey := s.trust.TSAIdentity()

	tok := timestamp.Timestamp{
		HashAlgorithm:     req.HashAlgorithm,
		HashedMessage:     req.HashedMessage,
		Time:              time.Now().UTC(),
		Accuracy:          time.Second,
		SerialNumber:      serial,
		Policy:            s.policyOID,
		Nonce:             req.Nonce,
		AddTSACertificate: req.Certificates,
	}

	respDER, err := tok.CreateResponse(tsaCert, tsaKey)
	if err != nil {
		s.metrics.IncrementCounter("tsa_requests_total", map[string]string{"status": "error"})
		return nil, fmt.Errorf("%w: failed to sign token: %v", ErrTSAUnavailable, err)
	}

	s.metrics.IncrementCounter("tsa_requests_total", map[string]string{"status": "granted"})
	s.metrics.ObserveLatency("tsa_issue", time.Since(start))

	s.logger.Info("Timestamp token issued",
		zap.String("serial", serial.String()),
		zap.String("hash_algorithm", req.HashAlgorithm.String()),
	)
	return respDER, nil
}

// ServeHTTP handles an RFC 3161 request over HTTP. Used both by the public
// route and by the loopback listener.
func (s *TSAService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 64*1024))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	respDER, err := s.CreateToken(body)
	if err != nil {
		s.logger.Warn("Timestamp request failed", zap.Error(err))
		status := timestamp.Rejection
		failure := timestamp.BadRequest
		switch {
		case errors.Is(err, ErrTSATimeout):
			failure = timestamp.TimeNotAvailable
		case !errors.Is(err, ErrTSARequestInvalid):
			failure = timestamp.SystemFailure
		}
		if errResp, e := timestamp.CreateErrorResponse(status, failure); e == nil {
			w.Header().Set("Content-Type", "application/timestamp-reply")
			_, _ = w.Write(errResp)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/timestamp-reply")
	_, _ = w.Write(respDER)
}

// StartLoopback binds the TSA to an ephemeral loopback port and returns
// the URL the PDF engine should use.
func (s *TSAService) StartLoopback() (string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTSAUnavailable, err)
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:      s,
		ReadTimeout:  s.timeout,
		WriteTimeout: s.timeout,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Loopback TSA listener stopped", zap.Error(err))
		}
	}()

	url := fmt.Sprintf("http://%s/tsa", ln.Addr().String())
	s.logger.Info("Loopback TSA listener started", zap.String("url", url))
	return url, nil
}

// Shutdown stops the loopback listener.
func (s *TSAService) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
