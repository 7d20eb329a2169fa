package workpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rodserrors "github.com/marmos91/gorods/pkg/errors"
	"github.com/marmos91/gorods/pkg/metrics"
)

func blockingTask(release <-chan struct{}, started *atomic.Int32) Task {
	return func() error {
		started.Add(1)
		<-release
		return nil
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{CoreWorkers: 8, MaxWorkers: 4}.withDefaults()

	assert.Equal(t, 4, cfg.CoreWorkers)
	assert.Equal(t, 4, cfg.QueueSize)
	assert.Equal(t, 60*time.Second, cfg.IdleTimeout)
	assert.Equal(t, "transfer", cfg.Name)
}

func TestPool_RunsTasks(t *testing.T) {
	p := New(Config{CoreWorkers: 2, MaxWorkers: 4}, nil)
	defer func() { _ = p.Shutdown(context.Background()) }()

	var count atomic.Int32
	futures := make([]*Future, 0, 4)
	for range 4 {
		f, err := p.Submit(func() error {
			count.Add(1)
			return nil
		})
		require.NoError(t, err)
		futures = append(futures, f)
	}

	for _, f := range futures {
		require.NoError(t, f.Wait(context.Background()))
	}
	assert.Equal(t, int32(4), count.Load())
	assert.Equal(t, uint64(4), p.Stats().Completed)
}

func TestPool_Backpressure(t *testing.T) {
	p := New(Config{CoreWorkers: 1, MaxWorkers: 2, QueueSize: 2, IdleTimeout: time.Minute}, nil)
	defer func() { _ = p.Shutdown(context.Background()) }()

	release := make(chan struct{})
	var started atomic.Int32

	var (
		accepted []*Future
		rejected int
	)
	for range 5 {
		f, err := p.Submit(blockingTask(release, &started))
		if err != nil {
			require.True(t, rodserrors.IsCapacityExceededError(err), "unexpected error: %v", err)
			rejected++
			continue
		}
		accepted = append(accepted, f)
	}

	// core worker + queue of 2 + one surplus worker = 4 accepted.
	assert.Equal(t, 1, rejected)
	assert.Len(t, accepted, 4)

	stats := p.Stats()
	assert.Equal(t, 2, stats.Workers)
	assert.Equal(t, 2, stats.Queued)
	assert.Equal(t, uint64(1), stats.Rejected)

	close(release)
	for _, f := range accepted {
		require.NoError(t, f.Wait(context.Background()))
	}
	assert.Equal(t, int32(4), started.Load())
}

func TestPool_AcceptsAgainAfterDrain(t *testing.T) {
	p := New(Config{CoreWorkers: 1, MaxWorkers: 1, QueueSize: 1}, nil)
	defer func() { _ = p.Shutdown(context.Background()) }()

	release := make(chan struct{})
	var started atomic.Int32

	f1, err := p.Submit(blockingTask(release, &started))
	require.NoError(t, err)
	f2, err := p.Submit(blockingTask(release, &started))
	require.NoError(t, err)
	_, err = p.Submit(blockingTask(release, &started))
	require.ErrorIs(t, err, rodserrors.CapacityExceeded)

	close(release)
	require.NoError(t, f1.Wait(context.Background()))
	require.NoError(t, f2.Wait(context.Background()))

	f3, err := p.Submit(func() error { return nil })
	require.NoError(t, err)
	assert.NoError(t, f3.Wait(context.Background()))
}

func TestPool_TaskErrorAndPanic(t *testing.T) {
	p := New(Config{CoreWorkers: 1, MaxWorkers: 1}, nil)
	defer func() { _ = p.Shutdown(context.Background()) }()

	boom := errors.New("boom")
	f, err := p.Submit(func() error { return boom })
	require.NoError(t, err)
	assert.ErrorIs(t, f.Wait(context.Background()), boom)

	f, err = p.Submit(func() error { panic("stream exploded") })
	require.NoError(t, err)
	err = f.Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stream exploded")

	// The worker survives the panic.
	f, err = p.Submit(func() error { return nil })
	require.NoError(t, err)
	assert.NoError(t, f.Wait(context.Background()))

	stats := p.Stats()
	assert.Equal(t, uint64(2), stats.Failed)
	assert.Equal(t, uint64(1), stats.Completed)
}

func TestPool_NilTask(t *testing.T) {
	p := New(Config{MaxWorkers: 1}, nil)
	_, err := p.Submit(nil)
	assert.True(t, rodserrors.IsCode(err, rodserrors.ErrInvalidArgument))
}

func TestPool_SurplusWorkersRetire(t *testing.T) {
	p := New(Config{CoreWorkers: 1, MaxWorkers: 3, QueueSize: 1, IdleTimeout: 20 * time.Millisecond}, nil)
	defer func() { _ = p.Shutdown(context.Background()) }()

	release := make(chan struct{})
	var started atomic.Int32
	var futures []*Future
	for range 4 {
		f, err := p.Submit(blockingTask(release, &started))
		require.NoError(t, err)
		futures = append(futures, f)
	}
	assert.Equal(t, 3, p.Stats().Workers)

	close(release)
	for _, f := range futures {
		require.NoError(t, f.Wait(context.Background()))
	}

	assert.Eventually(t, func() bool { return p.Stats().Workers == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestPool_ZeroCoreStillRunsQueuedWork(t *testing.T) {
	p := New(Config{CoreWorkers: 0, MaxWorkers: 2, IdleTimeout: 10 * time.Millisecond}, nil)
	defer func() { _ = p.Shutdown(context.Background()) }()

	for range 3 {
		f, err := p.Submit(func() error { return nil })
		require.NoError(t, err)
		require.NoError(t, f.Wait(context.Background()))
		time.Sleep(20 * time.Millisecond)
	}
}

func TestPool_ShutdownDrainsQueue(t *testing.T) {
	p := New(Config{CoreWorkers: 1, MaxWorkers: 1, QueueSize: 4}, nil)

	var mu sync.Mutex
	var order []int
	for i := range 4 {
		_, err := p.Submit(func() error {
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		})
		require.NoError(t, err)
	}

	require.NoError(t, p.Shutdown(context.Background()))
	assert.Equal(t, []int{0, 1, 2, 3}, order)
	assert.Equal(t, 0, p.Stats().Workers)

	_, err := p.Submit(func() error { return nil })
	assert.True(t, rodserrors.IsCode(err, rodserrors.ErrPoolShutdown))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestPool_ShutdownTimeout(t *testing.T) {
	p := New(Config{CoreWorkers: 1, MaxWorkers: 1}, nil)

	release := make(chan struct{})
	var started atomic.Int32
	_, err := p.Submit(blockingTask(release, &started))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Shutdown(ctx), context.DeadlineExceeded)

	close(release)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestPool_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewPoolMetrics(reg)
	p := New(Config{CoreWorkers: 1, MaxWorkers: 1, QueueSize: 1}, m)
	defer func() { _ = p.Shutdown(context.Background()) }()

	release := make(chan struct{})
	var started atomic.Int32
	f1, _ := p.Submit(blockingTask(release, &started))
	f2, _ := p.Submit(blockingTask(release, &started))
	_, err := p.Submit(blockingTask(release, &started))
	require.Error(t, err)
	close(release)
	require.NoError(t, f1.Wait(context.Background()))
	require.NoError(t, f2.Wait(context.Background()))

	var metric dto.Metric
	require.NoError(t, m.Tasks.WithLabelValues("rejected").Write(&metric))
	assert.Equal(t, float64(1), metric.GetCounter().GetValue())
	require.NoError(t, m.Created.Write(&metric))
	assert.Equal(t, float64(1), metric.GetCounter().GetValue())
}

func TestFuture_WaitHonoursContext(t *testing.T) {
	f := newFuture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, f.Wait(ctx), context.Canceled)

	f.complete(nil)
	<-f.Done()
	assert.NoError(t, f.Err())
}
