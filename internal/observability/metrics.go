// Package observability provides Prometheus instrumentation for the relay.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Relay modes, used as metric label values.
const (
	ModeChat    = "chat"
	ModeCompare = "compare"
)

// Metrics holds the relay's Prometheus collectors. All methods are safe on
// a nil receiver, so components can be constructed without metrics in tests.
type Metrics struct {
	chunksRelayed  *prometheus.CounterVec
	upstreamErrors *prometheus.CounterVec
	decodeWarnings prometheus.Counter
	activeSessions prometheus.Gauge
	runDuration    prometheus.Histogram
}

// NewMetrics creates and registers the relay collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		chunksRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_chunks_total",
			Help: "Chunks relayed to clients, by model and relay mode.",
		}, []string{"model", "mode"}),
		upstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_upstream_errors_total",
			Help: "Upstream sessions ending in an unavailable or read error, by model.",
		}, []string{"model"}),
		decodeWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_decode_warnings_total",
			Help: "Malformed or truncated backend stream lines skipped by the decoder.",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_active_sessions",
			Help: "Upstream sessions currently open.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_comparison_run_duration_seconds",
			Help:    "Wall-clock duration of completed comparison runs.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
	reg.MustRegister(m.chunksRelayed, m.upstreamErrors, m.decodeWarnings, m.activeSessions, m.runDuration)
	return m
}

// ChunkRelayed counts one chunk delivered to a client.
func (m *Metrics) ChunkRelayed(model, mode string) {
	if m == nil {
		return
	}
	m.chunksRelayed.WithLabelValues(model, mode).Inc()
}

// UpstreamError counts one session that ended in error.
func (m *Metrics) UpstreamError(model string) {
	if m == nil {
		return
	}
	m.upstreamErrors.WithLabelValues(model).Inc()
}

// DecodeWarning counts one skipped stream line.
func (m *Metrics) DecodeWarning() {
	if m == nil {
		return
	}
	m.decodeWarnings.Inc()
}

// SessionOpened marks one upstream session as active.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

// SessionClosed marks one upstream session as finished.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

// RunCompleted records the duration of a finished comparison run.
func (m *Metrics) RunCompleted(d time.Duration) {
	if m == nil {
		return
	}
	m.runDuration.Observe(d.Seconds())
}
