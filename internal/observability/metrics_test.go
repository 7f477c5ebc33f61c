package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func value(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	var m dto.Metric
	require.NoError(t, (<-ch).Write(&m))
	switch {
	case m.Counter != nil:
		return m.Counter.GetValue()
	case m.Gauge != nil:
		return m.Gauge.GetValue()
	}
	t.Fatalf("unexpected metric type")
	return 0
}

func TestRecorders(t *testing.T) {
	in := value(t, linkFrames.WithLabelValues(DirectionIn))
	RecordFrame(DirectionIn)
	RecordFrame(DirectionIn)
	assert.Equal(t, in+2, value(t, linkFrames.WithLabelValues(DirectionIn)))

	hits := value(t, cacheResolves.WithLabelValues(ResolveHit))
	RecordResolve(ResolveHit)
	assert.Equal(t, hits+1, value(t, cacheResolves.WithLabelValues(ResolveHit)))

	entries := value(t, cacheEntries)
	AddCacheEntries(3)
	AddCacheEntries(-1)
	assert.Equal(t, entries+2, value(t, cacheEntries))

	decode := value(t, decodeErrors)
	RecordDecodeError()
	assert.Equal(t, decode+1, value(t, decodeErrors))
}

func TestRegisterMetricsIsIdempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		RegisterMetrics()
		RegisterMetrics()
	})
}
