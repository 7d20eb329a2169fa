package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PoolMetrics tracks the transfer worker pool.
// All methods are nil-safe: calls on a nil *PoolMetrics are no-ops.
type PoolMetrics struct {
	// Created counts pool constructions. Stays at 1 per Manager.
	Created prometheus.Counter

	// Tasks counts task outcomes.
	// Label values: "submitted", "rejected", "completed", "failed", "panicked".
	Tasks *prometheus.CounterVec

	// Workers tracks live worker goroutines.
	Workers prometheus.Gauge

	// Queued tracks tasks waiting for a worker.
	Queued prometheus.Gauge

	// TaskDuration observes task run time in seconds.
	TaskDuration prometheus.Histogram
}

// NewPoolMetrics creates and registers pool metrics with the given
// registerer. If reg is nil, metrics are created but not registered.
func NewPoolMetrics(reg prometheus.Registerer) *PoolMetrics {
	m := &PoolMetrics{
		Created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "created_total",
			Help:      "Total number of transfer pools constructed",
		}),
		Tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "tasks_total",
			Help:      "Total number of pool tasks by outcome",
		}, []string{"outcome"}),
		Workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "workers",
			Help:      "Current number of pool workers",
		}),
		Queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "queued_tasks",
			Help:      "Current number of tasks waiting for a worker",
		}),
		TaskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "task_duration_seconds",
			Help:      "Duration of pool tasks in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8), // 10ms .. ~160s
		}),
	}

	if reg != nil {
		m.Created = registerOrReuse(reg, m.Created).(prometheus.Counter)
		m.Tasks = registerOrReuse(reg, m.Tasks).(*prometheus.CounterVec)
		m.Workers = registerOrReuse(reg, m.Workers).(prometheus.Gauge)
		m.Queued = registerOrReuse(reg, m.Queued).(prometheus.Gauge)
		m.TaskDuration = registerOrReuse(reg, m.TaskDuration).(prometheus.Histogram)
	}

	return m
}

// RecordCreated records a pool construction.
func (m *PoolMetrics) RecordCreated() {
	if m == nil {
		return
	}
	m.Created.Inc()
}

// RecordTask increments the task counter for outcome.
func (m *PoolMetrics) RecordTask(outcome string) {
	if m == nil {
		return
	}
	m.Tasks.WithLabelValues(outcome).Inc()
}

// ObserveTask records a finished task.
func (m *PoolMetrics) ObserveTask(d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "completed"
	if err != nil {
		outcome = "failed"
	}
	m.Tasks.WithLabelValues(outcome).Inc()
	m.TaskDuration.Observe(d.Seconds())
}

// SetWorkers sets the live worker gauge.
func (m *PoolMetrics) SetWorkers(n int) {
	if m == nil {
		return
	}
	m.Workers.Set(float64(n))
}

// SetQueued sets the queue depth gauge.
func (m *PoolMetrics) SetQueued(n int) {
	if m == nil {
		return
	}
	m.Queued.Set(float64(n))
}
