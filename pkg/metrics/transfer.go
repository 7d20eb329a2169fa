package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TransferMetrics tracks file transfers and progress events.
// All methods are nil-safe: calls on a nil *TransferMetrics are no-ops.
type TransferMetrics struct {
	Transfers     *prometheus.CounterVec
	Bytes         *prometheus.CounterVec
	Streams       *prometheus.HistogramVec
	Duration      *prometheus.HistogramVec
	StatusEvents  *prometheus.CounterVec
	ActiveStreams prometheus.Gauge
}

// NewTransferMetrics creates and registers transfer metrics with the given
// registerer. If reg is nil, metrics are created but not registered.
func NewTransferMetrics(reg prometheus.Registerer) *TransferMetrics {
	m := &TransferMetrics{
		Transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "total",
			Help:      "Total number of file transfers by direction and status",
		}, []string{"direction", "status"}),
		Bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "bytes_total",
			Help:      "Total bytes moved by direction",
		}, []string{"direction"}),
		Streams: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "streams",
			Help:      "Number of parallel streams per transfer",
			Buckets:   []float64{1, 2, 4, 8, 16, 32},
		}, []string{"direction"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "duration_seconds",
			Help:      "Duration of file transfers in seconds",
			Buckets: []float64{
				0.01, // small objects
				0.1,
				1,
				10,
				60,  // ~GB over LAN
				300, // large objects over WAN
				1800,
			},
		}, []string{"direction"}),
		StatusEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "status_events_total",
			Help:      "Total number of progress status events delivered to listeners",
		}, []string{"direction"}),
		ActiveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "active_streams",
			Help:      "Current number of running transfer streams",
		}),
	}

	if reg != nil {
		m.Transfers = registerOrReuse(reg, m.Transfers).(*prometheus.CounterVec)
		m.Bytes = registerOrReuse(reg, m.Bytes).(*prometheus.CounterVec)
		m.Streams = registerOrReuse(reg, m.Streams).(*prometheus.HistogramVec)
		m.Duration = registerOrReuse(reg, m.Duration).(*prometheus.HistogramVec)
		m.StatusEvents = registerOrReuse(reg, m.StatusEvents).(*prometheus.CounterVec)
		m.ActiveStreams = registerOrReuse(reg, m.ActiveStreams).(prometheus.Gauge)
	}

	return m
}

// ObserveTransfer records a finished transfer.
func (m *TransferMetrics) ObserveTransfer(direction string, streams int, bytes int64, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.Transfers.WithLabelValues(direction, statusLabel(err)).Inc()
	m.Streams.WithLabelValues(direction).Observe(float64(streams))
	m.Duration.WithLabelValues(direction).Observe(d.Seconds())
	if bytes > 0 {
		m.Bytes.WithLabelValues(direction).Add(float64(bytes))
	}
}

// RecordStatusEvent counts an emitted progress status.
func (m *TransferMetrics) RecordStatusEvent(direction string) {
	if m == nil {
		return
	}
	m.StatusEvents.WithLabelValues(direction).Inc()
}

// StreamStarted increments the active stream gauge.
func (m *TransferMetrics) StreamStarted() {
	if m == nil {
		return
	}
	m.ActiveStreams.Inc()
}

// StreamFinished decrements the active stream gauge.
func (m *TransferMetrics) StreamFinished() {
	if m == nil {
		return
	}
	m.ActiveStreams.Dec()
}
