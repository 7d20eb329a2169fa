// Package session hands out connections to remote zones and owns the
// shared transfer pool.
//
// A Manager is shared by the whole process. Connections are never shared:
// each goroutine that needs one creates its own Scope with NewScope, acquires
// connections through it and releases them when done.
//
//	mgr := session.NewManager(supplier)
//	scope := mgr.NewScope()
//	defer scope.ReleaseAll()
//	conn, err := scope.Acquire(ctx, acct)
package session

import (
	"context"
	"sync"

	"github.com/marmos91/gorods/internal/logger"
	"github.com/marmos91/gorods/pkg/metrics"
	"github.com/marmos91/gorods/pkg/transport"
	"github.com/marmos91/gorods/pkg/workpool"
)

// Manager is safe for concurrent use.
type Manager struct {
	// mu guards supplier and props. The pool has its own lock.
	mu       sync.RWMutex
	supplier transport.Supplier
	props    Properties

	pool poolCoordinator

	sessionMetrics *metrics.SessionMetrics
	poolMetrics    *metrics.PoolMetrics
}

// Option configures a Manager.
type Option func(*Manager)

// WithProperties replaces DefaultProperties. Zero fields take their
// defaults first; properties that still fail Validate are ignored with a
// warning.
func WithProperties(p Properties) Option {
	return func(m *Manager) {
		p.ApplyDefaults()
		if err := p.Validate(); err != nil {
			logger.Warn("Ignoring invalid session properties", logger.KeyError, err)
			return
		}
		m.props = p
	}
}

// WithSessionMetrics records dials, cache hits and releases.
func WithSessionMetrics(sm *metrics.SessionMetrics) Option {
	return func(m *Manager) { m.sessionMetrics = sm }
}

// WithPoolMetrics records transfer pool activity.
func WithPoolMetrics(pm *metrics.PoolMetrics) Option {
	return func(m *Manager) { m.poolMetrics = pm }
}

// NewManager creates a manager that dials through supplier. supplier may be
// nil and set later with SetSupplier; until then Acquire fails with a
// Configuration error.
func NewManager(supplier transport.Supplier, opts ...Option) *Manager {
	m := &Manager{
		supplier: supplier,
		props:    DefaultProperties(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewScope creates an empty connection scope bound to the manager.
func (m *Manager) NewScope() *Scope {
	return newScope(m)
}

// Supplier returns the connection supplier, or nil.
func (m *Manager) Supplier() transport.Supplier {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.supplier
}

// SetSupplier replaces the connection supplier. Connections already cached
// in scopes are unaffected.
func (m *Manager) SetSupplier(s transport.Supplier) {
	m.mu.Lock()
	m.supplier = s
	m.mu.Unlock()
}

// Properties returns a copy of the current properties.
func (m *Manager) Properties() Properties {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.props
}

// SetProperties validates and replaces the properties. An existing transfer
// pool keeps the shape it was created with.
func (m *Manager) SetProperties(p Properties) error {
	if err := p.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	m.props = p
	m.mu.Unlock()

	if m.pool.created() {
		logger.Info("Transfer pool already created, new pool settings apply to the next process")
	}
	return nil
}

// TransferPool returns the shared transfer pool, creating it on first use
// from the properties in effect at that moment. It returns nil, nil when
// use_transfer_threads_pool is false.
func (m *Manager) TransferPool() (*workpool.Pool, error) {
	return m.pool.get(m)
}

// Close shuts down the transfer pool, waiting for queued streams until ctx
// is done. Scopes are owned by their callers and are not touched.
func (m *Manager) Close(ctx context.Context) error {
	return m.pool.shutdown(ctx)
}
