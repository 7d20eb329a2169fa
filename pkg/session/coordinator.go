package session

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/marmos91/gorods/internal/logger"
	"github.com/marmos91/gorods/pkg/workpool"
)

// newPool is replaced in tests to count constructions.
var newPool = workpool.New

// poolCoordinator creates the transfer pool at most once. Readers take the
// atomic fast path; only the first callers contend on mu.
type poolCoordinator struct {
	pool atomic.Pointer[workpool.Pool]
	mu   sync.Mutex
}

func (c *poolCoordinator) created() bool {
	return c.pool.Load() != nil
}

func (c *poolCoordinator) get(m *Manager) (*workpool.Pool, error) {
	props := m.Properties()
	if !props.UseTransferThreadsPool {
		return nil, nil
	}

	if p := c.pool.Load(); p != nil {
		return p, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if p := c.pool.Load(); p != nil {
		return p, nil
	}

	cfg := workpool.Config{
		Name:        "transfer",
		CoreWorkers: props.TransferThreadCorePoolSize,
		MaxWorkers:  props.TransferThreadMaxPoolSize,
		IdleTimeout: props.PoolIdleTimeout(),
		QueueSize:   props.TransferThreadMaxPoolSize,
	}

	p := newPool(cfg, m.poolMetrics)
	c.pool.Store(p)

	logger.Info("Created transfer pool",
		logger.KeyCoreWorkers, cfg.CoreWorkers,
		logger.KeyMaxWorkers, cfg.MaxWorkers,
		logger.KeyIdleTimeout, cfg.IdleTimeout)
	return p, nil
}

func (c *poolCoordinator) shutdown(ctx context.Context) error {
	p := c.pool.Load()
	if p == nil {
		return nil
	}
	return p.Shutdown(ctx)
}
