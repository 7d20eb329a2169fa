package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// S3Metrics tracks calls made by the S3 transport.
// All methods are nil-safe: calls on a nil *S3Metrics are no-ops.
type S3Metrics struct {
	operationsTotal       *prometheus.CounterVec
	operationDuration     *prometheus.HistogramVec
	bytesTransferred      *prometheus.CounterVec
	activeUploads         prometheus.Gauge
	multipartAbortedTotal prometheus.Counter
}

// NewS3Metrics creates and registers S3 transport metrics with the given
// registerer. If reg is nil, metrics are created but not registered.
func NewS3Metrics(reg prometheus.Registerer) *S3Metrics {
	m := &S3Metrics{
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "s3",
			Name:      "operations_total",
			Help:      "Total number of S3 operations by operation type and status",
		}, []string{"operation", "status"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "s3",
			Name:      "operation_duration_milliseconds",
			Help:      "Duration of S3 operations in milliseconds",
			Buckets: []float64{
				10,    // 10ms - HeadObject
				50,    // 50ms
				100,   // 100ms
				500,   // 500ms
				1000,  // 1s - medium parts
				5000,  // 5s - large parts
				10000, // 10s
				30000, // 30s - very large ranges
			},
		}, []string{"operation"}),
		bytesTransferred: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "s3",
			Name:      "bytes_transferred_total",
			Help:      "Total bytes transferred via S3 operations",
		}, []string{"operation", "direction"}),
		activeUploads: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "s3",
			Name:      "active_uploads",
			Help:      "Current number of open multipart uploads",
		}),
		multipartAbortedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "s3",
			Name:      "multipart_aborted_total",
			Help:      "Total number of multipart uploads aborted",
		}),
	}

	if reg != nil {
		m.operationsTotal = registerOrReuse(reg, m.operationsTotal).(*prometheus.CounterVec)
		m.operationDuration = registerOrReuse(reg, m.operationDuration).(*prometheus.HistogramVec)
		m.bytesTransferred = registerOrReuse(reg, m.bytesTransferred).(*prometheus.CounterVec)
		m.activeUploads = registerOrReuse(reg, m.activeUploads).(prometheus.Gauge)
		m.multipartAbortedTotal = registerOrReuse(reg, m.multipartAbortedTotal).(prometheus.Counter)
	}

	return m
}

// ObserveOperation records an S3 operation with its duration and outcome.
func (m *S3Metrics) ObserveOperation(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(operation, statusLabel(err)).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds() * 1000)
}

// RecordBytes records bytes moved by an operation.
func (m *S3Metrics) RecordBytes(operation string, bytes int64) {
	if m == nil || bytes <= 0 {
		return
	}

	direction := "write"
	if operation == "GetObject" {
		direction = "read"
	}
	m.bytesTransferred.WithLabelValues(operation, direction).Add(float64(bytes))
}

// UploadStarted increments the open multipart upload gauge.
func (m *S3Metrics) UploadStarted() {
	if m == nil {
		return
	}
	m.activeUploads.Inc()
}

// UploadFinished decrements the open multipart upload gauge and counts aborts.
func (m *S3Metrics) UploadFinished(aborted bool) {
	if m == nil {
		return
	}
	m.activeUploads.Dec()
	if aborted {
		m.multipartAbortedTotal.Inc()
	}
}
