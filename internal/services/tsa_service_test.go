package services_test

import (
	"bytes"
	"context"
	"crypto"
	"net/http"
	"sync"
	"testing"

	"github.com/digitorus/timestamp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hestia-immo/parapheur/internal/services"
	"github.com/hestia-immo/parapheur/pkg/metrics"
)

func newTestTSA(t *testing.T) *services.TSAService {
	t.Helper()

	trust, cfg := newTestTrust(t)
	database := newTestDB(t)

	tsa, err := services.NewTSAService(database, trust, cfg, zap.NewNop(), metrics.NewMetricsCollector())
	require.NoError(t, err)
	return tsa
}

func TestTSATokenRoundTrip(t *testing.T) {
	tsa := newTestTSA(t)

	reqDER, err := timestamp.CreateRequest(bytes.NewReader([]byte("artifact bytes")), &timestamp.RequestOptions{
		Hash:         crypto.SHA256,
		Certificates: true,
	})
	require.NoError(t, err)

	respDER, err := tsa.CreateToken(reqDER)
	require.NoError(t, err)

	tok, err := timestamp.ParseResponse(respDER)
	require.NoError(t, err)
	require.Equal(t, crypto.SHA256, tok.HashAlgorithm)
	require.NotNil(t, tok.SerialNumber)
	require.False(t, tok.Time.IsZero())
}

func TestTSARejectsGarbage(t *testing.T) {
	tsa := newTestTSA(t)

	_, err := tsa.CreateToken([]byte("not a timestamp request"))
	require.ErrorIs(t, err, services.ErrTSARequestInvalid)
}

func TestTSASerialsAreUniqueAndIncreasing(t *testing.T) {
	tsa := newTestTSA(t)

	first, err := tsa.NextSerial()
	require.NoError(t, err)
	second, err := tsa.NextSerial()
	require.NoError(t, err)
	require.Equal(t, 1, second.Cmp(first))
}

func TestTSASerialsUniqueUnderConcurrency(t *testing.T) {
	tsa := newTestTSA(t)

	const workers = 100
	serials := make([]string, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			serial, err := tsa.NextSerial()
			if err != nil {
				t.Error(err)
				return
			}
			serials[i] = serial.String()
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, workers)
	for _, s := range serials {
		require.NotEmpty(t, s)
		require.False(t, seen[s], "serial %s allocated twice", s)
		seen[s] = true
	}
}

func TestTSALoopbackListener(t *testing.T) {
	tsa := newTestTSA(t)

	url, err := tsa.StartLoopback()
	require.NoError(t, err)
	t.Cleanup(func() { _ = tsa.Shutdown(context.Background()) })

	reqDER, err := timestamp.CreateRequest(bytes.NewReader([]byte("loopback payload")), &timestamp.RequestOptions{
		Hash:         crypto.SHA256,
		Certificates: true,
	})
	require.NoError(t, err)

	resp, err := http.Post(url, "application/timestamp-query", bytes.NewReader(reqDER))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/timestamp-reply", resp.Header.Get("Content-Type"))

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)

	tok, err := timestamp.ParseResponse(buf.Bytes())
	require.NoError(t, err)
	require.NotNil(t, tok.SerialNumber)
}
