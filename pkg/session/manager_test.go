package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/gorods/internal/bytesize"
	rodserrors "github.com/marmos91/gorods/pkg/errors"
	"github.com/marmos91/gorods/pkg/metrics"
	"github.com/marmos91/gorods/pkg/transport/memory"
	"github.com/marmos91/gorods/pkg/workpool"
)

func poolProperties(core, maxWorkers int) Properties {
	p := DefaultProperties()
	p.UseTransferThreadsPool = true
	p.TransferThreadCorePoolSize = core
	p.TransferThreadMaxPoolSize = maxWorkers
	p.TransferThreadPoolTimeoutMillis = 1000
	return p
}

// countPools swaps the pool constructor for one that counts calls.
func countPools(t *testing.T) *atomic.Int32 {
	t.Helper()
	var n atomic.Int32
	orig := newPool
	newPool = func(cfg workpool.Config, m *metrics.PoolMetrics) *workpool.Pool {
		n.Add(1)
		// Widen the race window between the fast-path check and creation.
		time.Sleep(5 * time.Millisecond)
		return orig(cfg, m)
	}
	t.Cleanup(func() { newPool = orig })
	return &n
}

func TestTransferPool_DisabledReturnsNil(t *testing.T) {
	created := countPools(t)
	mgr := NewManager(memory.NewZone())

	pool, err := mgr.TransferPool()
	require.NoError(t, err)
	assert.Nil(t, pool)
	assert.Zero(t, created.Load())
	assert.NoError(t, mgr.Close(context.Background()))
}

func TestTransferPool_SingletonUnderConcurrentFirstUse(t *testing.T) {
	created := countPools(t)
	mgr := NewManager(memory.NewZone(), WithProperties(poolProperties(1, 4)))
	defer func() { _ = mgr.Close(context.Background()) }()

	const callers = 20
	pools := make([]*workpool.Pool, callers)

	var (
		start sync.WaitGroup
		done  sync.WaitGroup
	)
	start.Add(1)
	for i := range callers {
		done.Add(1)
		go func() {
			defer done.Done()
			start.Wait()
			p, err := mgr.TransferPool()
			assert.NoError(t, err)
			pools[i] = p
		}()
	}
	start.Done()
	done.Wait()

	assert.Equal(t, int32(1), created.Load())
	for _, p := range pools {
		assert.Same(t, pools[0], p)
	}
}

func TestTransferPool_ShapeFromProperties(t *testing.T) {
	mgr := NewManager(memory.NewZone(), WithProperties(poolProperties(2, 6)))
	defer func() { _ = mgr.Close(context.Background()) }()

	pool, err := mgr.TransferPool()
	require.NoError(t, err)
	require.NotNil(t, pool)

	cfg := pool.Config()
	assert.Equal(t, 2, cfg.CoreWorkers)
	assert.Equal(t, 6, cfg.MaxWorkers)
	assert.Equal(t, 6, cfg.QueueSize)
	assert.Equal(t, time.Second, cfg.IdleTimeout)
}

func TestTransferPool_ReconfigureHasNoEffect(t *testing.T) {
	created := countPools(t)
	mgr := NewManager(memory.NewZone(), WithProperties(poolProperties(1, 2)))
	defer func() { _ = mgr.Close(context.Background()) }()

	first, err := mgr.TransferPool()
	require.NoError(t, err)

	require.NoError(t, mgr.SetProperties(poolProperties(4, 8)))
	second, err := mgr.TransferPool()
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 2, second.Config().MaxWorkers)
	assert.Equal(t, int32(1), created.Load())
	assert.Equal(t, 8, mgr.Properties().TransferThreadMaxPoolSize)
}

func TestTransferPool_Backpressure(t *testing.T) {
	props := poolProperties(1, 2)
	mgr := NewManager(memory.NewZone(), WithProperties(props))
	defer func() { _ = mgr.Close(context.Background()) }()

	pool, err := mgr.TransferPool()
	require.NoError(t, err)

	release := make(chan struct{})
	var futures []*workpool.Future
	rejected := 0
	for range 5 {
		f, err := pool.Submit(func() error {
			<-release
			return nil
		})
		if err != nil {
			assert.ErrorIs(t, err, rodserrors.CapacityExceeded)
			rejected++
			continue
		}
		futures = append(futures, f)
	}
	assert.GreaterOrEqual(t, rejected, 1)

	close(release)
	for _, f := range futures {
		assert.NoError(t, f.Wait(context.Background()))
	}
}

func TestClose_ShutsDownPool(t *testing.T) {
	mgr := NewManager(memory.NewZone(), WithProperties(poolProperties(1, 1)))
	pool, err := mgr.TransferPool()
	require.NoError(t, err)

	require.NoError(t, mgr.Close(context.Background()))
	_, err = pool.Submit(func() error { return nil })
	assert.ErrorIs(t, err, rodserrors.PoolShutdown)
}

func TestSetProperties_Validates(t *testing.T) {
	mgr := NewManager(nil)

	bad := DefaultProperties()
	bad.TransferThreadCorePoolSize = 10
	bad.TransferThreadMaxPoolSize = 2
	assert.Error(t, mgr.SetProperties(bad))

	bad = DefaultProperties()
	bad.UseTransferThreadsPool = true
	bad.TransferThreadMaxPoolSize = 0
	assert.Error(t, mgr.SetProperties(bad))

	assert.Equal(t, DefaultProperties(), mgr.Properties())
}

func TestDefaultProperties(t *testing.T) {
	p := DefaultProperties()

	assert.Equal(t, 4, p.MaxParallelThreads)
	assert.True(t, p.UseParallelTransfer)
	assert.False(t, p.UseTransferThreadsPool)
	assert.Equal(t, 25, p.ThrottleMessageThreshold)
	assert.Equal(t, 32*bytesize.MiB, p.PartSize)
	assert.Equal(t, time.Minute, p.PoolIdleTimeout())
	assert.NoError(t, p.Validate())
}

func TestApplyDefaults(t *testing.T) {
	var p Properties
	p.ApplyDefaults()

	d := DefaultProperties()
	assert.Equal(t, d.MaxParallelThreads, p.MaxParallelThreads)
	assert.Equal(t, d.CopyBufferSize, p.CopyBufferSize)
	assert.Equal(t, d.ThrottleMessageThreshold, p.ThrottleMessageThreshold)
	assert.False(t, p.UseParallelTransfer, "booleans keep their explicit value")
}

func TestTransferOptions(t *testing.T) {
	mgr := NewManager(nil)

	opts := mgr.TransferOptions()
	assert.Equal(t, 4, opts.MaxThreads)
	assert.Equal(t, ModeStandard, opts.Mode)
	assert.Equal(t, int64(32*bytesize.MiB), opts.PartSize)
	assert.Equal(t, 64*1024, opts.BufferSize)
	assert.Equal(t, 25, opts.IntraFileThreshold)

	p := DefaultProperties()
	p.UseParallelTransfer = false
	p.MaxParallelThreads = 8
	require.NoError(t, mgr.SetProperties(p))

	opts = mgr.TransferOptions()
	assert.Equal(t, ModeNoParallel, opts.Mode)
	assert.Equal(t, 8, opts.MaxThreads)
	assert.Equal(t, "no_parallel", opts.Mode.String())
}

func TestTransferOptions_WithDefaults(t *testing.T) {
	opts := TransferOptions{}.WithDefaults()

	assert.Equal(t, 1, opts.MaxThreads)
	assert.Equal(t, int64(32*bytesize.MiB), opts.ParallelThreshold)
	assert.Equal(t, 64*1024, opts.BufferSize)
	assert.Equal(t, 25, opts.IntraFileThreshold)
}

func TestWithProperties_AppliesDefaults(t *testing.T) {
	p := DefaultProperties()
	p.UseTransferThreadsPool = true
	p.TransferThreadMaxPoolSize = 0
	p.PartSize = 0

	mgr := NewManager(memory.NewZone(), WithProperties(p))
	defer func() { _ = mgr.Close(context.Background()) }()

	d := DefaultProperties()
	assert.Equal(t, d.TransferThreadMaxPoolSize, mgr.Properties().TransferThreadMaxPoolSize)
	assert.Equal(t, d.PartSize.Int64(), mgr.TransferOptions().PartSize)

	pool, err := mgr.TransferPool()
	require.NoError(t, err)
	require.NotNil(t, pool)
	assert.Equal(t, d.TransferThreadMaxPoolSize, pool.Config().MaxWorkers)
	assert.Equal(t, d.TransferThreadMaxPoolSize, pool.Config().QueueSize)
}

func TestWithProperties_IgnoresInvalid(t *testing.T) {
	p := DefaultProperties()
	p.TransferThreadCorePoolSize = 32
	p.TransferThreadMaxPoolSize = 2

	mgr := NewManager(nil, WithProperties(p))
	assert.Equal(t, DefaultProperties(), mgr.Properties())
}
