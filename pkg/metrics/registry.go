// Package metrics provides the Prometheus instrumentation for the session
// runtime: connection cache, transfer pool, transfers and the S3 transport.
//
// Every metrics struct is nil-safe. Components accept a nil pointer when
// metrics are disabled, which costs a single branch per call.
//
// Example usage:
//
//	metrics.InitRegistry()
//	poolMetrics := metrics.NewPoolMetrics(metrics.GetRegistry())
//	pool := workpool.New(cfg, poolMetrics)
//
//	// Without metrics
//	pool := workpool.New(cfg, nil)
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "gorods"

var (
	registryMu sync.RWMutex
	registry   *prometheus.Registry
)

// InitRegistry creates the process-wide registry with Go runtime and process
// collectors. Calling it again is a no-op.
func InitRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()

	if registry != nil {
		return
	}

	registry = prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry != nil
}

// GetRegistry returns the process-wide registry, or nil if metrics are disabled.
//
// The return type is prometheus.Registerer so a nil registry is a nil
// interface rather than a typed nil.
func GetRegistry() prometheus.Registerer {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if registry == nil {
		return nil
	}
	return registry
}

// Gatherer returns the process-wide registry as a Gatherer, or nil.
func Gatherer() prometheus.Gatherer {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if registry == nil {
		return nil
	}
	return registry
}

// resetRegistry drops the process-wide registry (for testing).
func resetRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = nil
}

// registerOrReuse registers a collector with the given registerer.
// If the collector is already registered, it returns the existing one
// so that a second Manager in the same process shares the series.
// Panics on non-AlreadyRegisteredError failures.
func registerOrReuse(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
		panic(err)
	}
	return c
}

// statusLabel maps an error to the "status" label value.
func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
