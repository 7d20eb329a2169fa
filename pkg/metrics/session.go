package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SessionMetrics tracks the per-scope connection caches.
// All methods are nil-safe: calls on a nil *SessionMetrics are no-ops.
type SessionMetrics struct {
	// Dials counts supplier calls by result.
	// Label values: "success", "error", "nil_connection".
	Dials *prometheus.CounterVec

	// Hits counts Acquire calls served from the cache.
	Hits prometheus.Counter

	// Releases counts connections closed and evicted.
	// Label values: "release", "release_all".
	Releases *prometheus.CounterVec

	// OpenConnections tracks connections currently held across all scopes.
	OpenConnections prometheus.Gauge
}

// NewSessionMetrics creates and registers session metrics with the given
// registerer. If reg is nil, metrics are created but not registered.
func NewSessionMetrics(reg prometheus.Registerer) *SessionMetrics {
	m := &SessionMetrics{
		Dials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "dials_total",
			Help:      "Total number of connection supplier calls by result",
		}, []string{"result"}),
		Hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "cache_hits_total",
			Help:      "Total number of acquires served by the scope cache",
		}),
		Releases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "releases_total",
			Help:      "Total number of cached connections closed",
		}, []string{"kind"}),
		OpenConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "open_connections",
			Help:      "Current number of cached connections across all scopes",
		}),
	}

	if reg != nil {
		m.Dials = registerOrReuse(reg, m.Dials).(*prometheus.CounterVec)
		m.Hits = registerOrReuse(reg, m.Hits).(prometheus.Counter)
		m.Releases = registerOrReuse(reg, m.Releases).(*prometheus.CounterVec)
		m.OpenConnections = registerOrReuse(reg, m.OpenConnections).(prometheus.Gauge)
	}

	return m
}

// RecordDial records a supplier call outcome.
func (m *SessionMetrics) RecordDial(result string) {
	if m == nil {
		return
	}
	m.Dials.WithLabelValues(result).Inc()
	if result == "success" {
		m.OpenConnections.Inc()
	}
}

// RecordHit records an acquire served from cache.
func (m *SessionMetrics) RecordHit() {
	if m == nil {
		return
	}
	m.Hits.Inc()
}

// RecordRelease records n connections closed by the given kind of release.
func (m *SessionMetrics) RecordRelease(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Releases.WithLabelValues(kind).Add(float64(n))
	m.OpenConnections.Sub(float64(n))
}
