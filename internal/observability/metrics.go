package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	linkFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ardulink",
			Subsystem: "link",
			Name:      "frames_total",
			Help:      "Protocol frames handled by links.",
		},
		[]string{"direction"},
	)
	decodeErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ardulink",
			Subsystem: "link",
			Name:      "decode_errors_total",
			Help:      "Received frames that matched no known message.",
		},
	)
	writeErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ardulink",
			Subsystem: "link",
			Name:      "write_errors_total",
			Help:      "Frames the transport failed to write.",
		},
	)
	cacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ardulink",
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Shared links currently held by the cache.",
		},
	)
	cacheResolves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ardulink",
			Subsystem: "cache",
			Name:      "resolves_total",
			Help:      "Link resolutions by result (hit, miss, error).",
		},
		[]string{"result"},
	)
)

// RegisterMetrics registers all collectors with the default registry.
// Safe to call more than once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(linkFrames, decodeErrors, writeErrors, cacheEntries, cacheResolves)
	})
}

// Frame directions.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

func RecordFrame(direction string) { linkFrames.WithLabelValues(direction).Inc() }
func RecordDecodeError()           { decodeErrors.Inc() }
func RecordWriteError()            { writeErrors.Inc() }

// Cache resolve results.
const (
	ResolveHit   = "hit"
	ResolveMiss  = "miss"
	ResolveError = "error"
)

func RecordResolve(result string) { cacheResolves.WithLabelValues(result).Inc() }
func AddCacheEntries(delta int)   { cacheEntries.Add(float64(delta)) }
