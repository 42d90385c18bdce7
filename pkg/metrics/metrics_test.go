package metrics_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hestia-immo/parapheur/pkg/metrics"
)

func TestCounters(t *testing.T) {
	mc := metrics.NewMetricsCollector()

	mc.IncrementCounter("tsa_requests_total", map[string]string{"status": "granted"})
	mc.IncrementCounter("tsa_requests_total", map[string]string{"status": "granted"})
	mc.IncrementCounter("tsa_requests_total", map[string]string{"status": "rejected"})

	counters := mc.GetCounters()
	require.Equal(t, int64(2), counters["tsa_requests_total"]["status:granted"])
	require.Equal(t, int64(1), counters["tsa_requests_total"]["status:rejected"])
}

func TestLatencies(t *testing.T) {
	mc := metrics.NewMetricsCollector()

	mc.ObserveLatency("pdf_certify", 100*time.Millisecond)
	mc.ObserveLatency("pdf_certify", 300*time.Millisecond)

	latencies := mc.GetLatencies()
	require.InDelta(t, 200, latencies["pdf_certify"]["avg_ms"], 0.01)
}

func TestSizesKeepLastHundred(t *testing.T) {
	mc := metrics.NewMetricsCollector()

	for i := 1; i <= 150; i++ {
		mc.ObserveSize("pdf_artifact", float64(i))
	}

	sizes := mc.GetSizes()
	// Only observations 51..150 remain.
	require.Equal(t, float64(150), sizes["pdf_artifact"]["max_bytes"])
	require.InDelta(t, 100.5, sizes["pdf_artifact"]["avg_bytes"], 0.01)
}
