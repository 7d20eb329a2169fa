package transfer

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/gorods/pkg/account"
	rodserrors "github.com/marmos91/gorods/pkg/errors"
	"github.com/marmos91/gorods/pkg/metrics"
	"github.com/marmos91/gorods/pkg/progress"
	"github.com/marmos91/gorods/pkg/session"
	"github.com/marmos91/gorods/pkg/transport"
	"github.com/marmos91/gorods/pkg/transport/memory"
)

var rods = account.New("irods.example.org", 1247, "tempZone", "rods", "rods")

// events records every status a transfer delivers.
type events struct {
	mu     sync.Mutex
	all    []progress.Status
	failOn progress.State
	fail   error
	hook   func(progress.Status)
}

func (e *events) OnStatus(s progress.Status) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.hook != nil {
		e.hook(s)
	}
	if e.fail != nil && s.State == e.failOn {
		return e.fail
	}
	e.all = append(e.all, s)
	return nil
}

func (e *events) states() []progress.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]progress.State, len(e.all))
	for i, s := range e.all {
		out[i] = s.State
	}
	return out
}

func (e *events) inProgress() []int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []int64
	for _, s := range e.all {
		if s.State == progress.InProgress {
			out = append(out, s.BytesTransferred)
		}
	}
	return out
}

func payload(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func writeLocal(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "local.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// parallelOptions split a 10KiB file into four streams of 20 buffers each.
func parallelOptions() Options {
	return Options{TransferOptions: session.TransferOptions{
		MaxThreads:         4,
		Mode:               session.ModeStandard,
		PartSize:           1024,
		ParallelThreshold:  1024,
		BufferSize:         128,
		IntraFileThreshold: 25,
	}}
}

func poolManager(zone transport.Supplier, core, maxWorkers int) *session.Manager {
	p := session.DefaultProperties()
	p.UseTransferThreadsPool = true
	p.TransferThreadCorePoolSize = core
	p.TransferThreadMaxPoolSize = maxWorkers
	return session.NewManager(zone, session.WithProperties(p))
}

func TestPut_SingleStream(t *testing.T) {
	zone := memory.NewZone()
	mgr := session.NewManager(zone)
	scope := mgr.NewScope()
	defer func() { _ = scope.ReleaseAll() }()

	data := []byte("hello zone")
	local := writeLocal(t, data)
	ev := &events{}

	res, err := NewEngine(mgr).Put(context.Background(), scope, rods, local, "/tempZone/home/rods/hello.txt", Options{}, ev)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Streams)
	assert.Equal(t, int64(len(data)), res.Bytes)
	assert.Equal(t, progress.Put, res.Direction)
	assert.NotEmpty(t, res.TransferID)
	assert.Contains(t, res.ContentType, "text/plain")

	stored, ok := zone.Load("/tempZone/home/rods/hello.txt")
	require.True(t, ok)
	assert.Equal(t, data, stored)

	assert.Equal(t, []progress.State{progress.Started, progress.InProgress, progress.Complete}, ev.states())
	assert.Equal(t, int64(1), zone.Dials(), "single stream reuses the caller's connection")
}

func TestPut_ParallelWithoutPool(t *testing.T) {
	zone := memory.NewZone()
	mgr := session.NewManager(zone)
	scope := mgr.NewScope()
	defer func() { _ = scope.ReleaseAll() }()

	data := payload(10 * 1024)
	local := writeLocal(t, data)
	ev := &events{}

	res, err := NewEngine(mgr).Put(context.Background(), scope, rods, local, "/tempZone/home/rods/big.bin", parallelOptions(), ev)
	require.NoError(t, err)

	assert.Equal(t, 4, res.Streams)
	require.Len(t, res.Parts, 4)
	stored, ok := zone.Load("/tempZone/home/rods/big.bin")
	require.True(t, ok)
	assert.True(t, bytes.Equal(data, stored))

	// One connection for the caller plus one per stream; stream connections
	// are released when their stream ends.
	assert.Equal(t, int64(5), zone.Dials())
	assert.Equal(t, int64(1), zone.OpenConns())
	assert.Zero(t, zone.PendingUploads())

	// 80 buffers at threshold 25: events at 26, 51 and 76 plus the final flush.
	totals := ev.inProgress()
	require.Len(t, totals, 4)
	for i := 1; i < len(totals); i++ {
		assert.Greater(t, totals[i], totals[i-1])
	}
	assert.Equal(t, int64(len(data)), totals[len(totals)-1])
	assert.Equal(t, progress.Complete, ev.states()[len(ev.states())-1])
}

func TestPut_ParallelOnPool(t *testing.T) {
	zone := memory.NewZone()
	mgr := poolManager(zone, 2, 4)
	defer func() { _ = mgr.Close(context.Background()) }()
	scope := mgr.NewScope()
	defer func() { _ = scope.ReleaseAll() }()

	data := payload(10 * 1024)
	local := writeLocal(t, data)

	res, err := NewEngine(mgr).Put(context.Background(), scope, rods, local, "/tempZone/home/rods/pooled.bin", parallelOptions(), nil)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Streams)

	stored, ok := zone.Load("/tempZone/home/rods/pooled.bin")
	require.True(t, ok)
	assert.True(t, bytes.Equal(data, stored))

	pool, err := mgr.TransferPool()
	require.NoError(t, err)
	assert.Equal(t, uint64(4), pool.Stats().Completed)
}

func TestPut_PoolSaturation(t *testing.T) {
	zone := memory.NewZone()

	// Stream dials block until the gate opens so the single worker and the
	// one queue slot stay occupied while the remaining streams are submitted.
	gate := make(chan struct{})
	var dials atomic.Int32
	supplier := transport.SupplierFunc(func(ctx context.Context, acct account.Account) (transport.Conn, error) {
		if dials.Add(1) > 1 {
			<-gate
		}
		return zone.Connect(ctx, acct)
	})
	timer := time.AfterFunc(100*time.Millisecond, func() { close(gate) })
	defer timer.Stop()

	mgr := poolManager(supplier, 1, 1)
	defer func() { _ = mgr.Close(context.Background()) }()
	scope := mgr.NewScope()
	defer func() { _ = scope.ReleaseAll() }()

	local := writeLocal(t, payload(10*1024))

	_, err := NewEngine(mgr).Put(context.Background(), scope, rods, local, "/tempZone/home/rods/x.bin", parallelOptions(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, rodserrors.CapacityExceeded)

	_, stored := zone.Load("/tempZone/home/rods/x.bin")
	assert.False(t, stored)
	assert.Zero(t, zone.PendingUploads(), "upload aborted")
}

func TestPut_ListenerFaultAbortsUpload(t *testing.T) {
	zone := memory.NewZone()
	mgr := session.NewManager(zone)
	scope := mgr.NewScope()
	defer func() { _ = scope.ReleaseAll() }()

	local := writeLocal(t, payload(10*1024))
	boom := errors.New("ui went away")
	ev := &events{failOn: progress.InProgress, fail: boom}

	_, err := NewEngine(mgr).Put(context.Background(), scope, rods, local, "/tempZone/home/rods/x.bin", parallelOptions(), ev)
	require.Error(t, err)
	assert.ErrorIs(t, err, rodserrors.CallbackFault)
	assert.ErrorIs(t, err, boom)

	_, stored := zone.Load("/tempZone/home/rods/x.bin")
	assert.False(t, stored)
	assert.Zero(t, zone.PendingUploads())
	assert.Equal(t, progress.Failure, ev.states()[len(ev.states())-1])
}

func TestPut_StreamFailureIsReportedAfterSiblingsFinish(t *testing.T) {
	zone := memory.NewZone()
	var dials atomic.Int32
	refused := errors.New("connection refused")
	supplier := transport.SupplierFunc(func(ctx context.Context, acct account.Account) (transport.Conn, error) {
		// The caller's dial and the first stream succeed; the second stream fails.
		if dials.Add(1) == 3 {
			return nil, refused
		}
		return zone.Connect(ctx, acct)
	})
	mgr := session.NewManager(supplier)
	scope := mgr.NewScope()
	defer func() { _ = scope.ReleaseAll() }()

	opts := parallelOptions()
	opts.MaxThreads = 2
	opts.PartSize = 5 * 1024
	local := writeLocal(t, payload(10*1024))

	_, err := NewEngine(mgr).Put(context.Background(), scope, rods, local, "/tempZone/home/rods/x.bin", opts, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, rodserrors.Connection)
	assert.ErrorIs(t, err, refused)

	assert.Equal(t, int32(3), dials.Load())
	assert.Equal(t, int64(1), zone.OpenConns(), "stream connections released")
	assert.Zero(t, zone.PendingUploads())
}

func TestPut_CancelledBeforeStart(t *testing.T) {
	zone := memory.NewZone()
	mgr := session.NewManager(zone)
	scope := mgr.NewScope()

	opts := parallelOptions()
	opts.Control = NewControl()
	opts.Control.Cancel()

	_, err := NewEngine(mgr).Put(context.Background(), scope, rods, writeLocal(t, payload(100)), "/tempZone/x", opts, nil)
	assert.ErrorIs(t, err, rodserrors.Cancelled)
	assert.Zero(t, zone.Dials())
}

func TestPut_CancelledMidTransfer(t *testing.T) {
	zone := memory.NewZone()
	mgr := session.NewManager(zone)
	scope := mgr.NewScope()
	defer func() { _ = scope.ReleaseAll() }()

	opts := parallelOptions()
	opts.Control = NewControl()
	ev := &events{hook: func(s progress.Status) {
		if s.State == progress.InProgress {
			opts.Control.Cancel()
		}
	}}

	_, err := NewEngine(mgr).Put(context.Background(), scope, rods, writeLocal(t, payload(10*1024)), "/tempZone/x", opts, ev)
	require.Error(t, err)
	assert.ErrorIs(t, err, rodserrors.Cancelled)
	assert.Zero(t, zone.PendingUploads())
}

func TestPut_ExistingObject(t *testing.T) {
	zone := memory.NewZone()
	zone.Store("/tempZone/home/rods/a", []byte("old"))
	mgr := session.NewManager(zone)
	scope := mgr.NewScope()
	defer func() { _ = scope.ReleaseAll() }()

	local := writeLocal(t, []byte("new"))
	engine := NewEngine(mgr)

	_, err := engine.Put(context.Background(), scope, rods, local, "/tempZone/home/rods/a", Options{}, nil)
	require.Error(t, err)

	opts := Options{}
	opts.Overwrite = true
	_, err = engine.Put(context.Background(), scope, rods, local, "/tempZone/home/rods/a", opts, nil)
	require.NoError(t, err)
	stored, _ := zone.Load("/tempZone/home/rods/a")
	assert.Equal(t, []byte("new"), stored)
}

func TestPut_InvalidArguments(t *testing.T) {
	mgr := session.NewManager(memory.NewZone())
	engine := NewEngine(mgr)

	_, err := engine.Put(context.Background(), nil, rods, "x", "/z/x", Options{}, nil)
	assert.ErrorIs(t, err, rodserrors.InvalidArgument)

	_, err = engine.Put(context.Background(), mgr.NewScope(), rods, t.TempDir(), "/z/x", Options{}, nil)
	assert.ErrorIs(t, err, rodserrors.InvalidArgument)

	_, err = engine.Put(context.Background(), mgr.NewScope(), rods, filepath.Join(t.TempDir(), "missing"), "/z/x", Options{}, nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestGet_Parallel(t *testing.T) {
	zone := memory.NewZone()
	data := payload(10 * 1024)
	zone.Store("/tempZone/home/rods/big.bin", data)

	mgr := session.NewManager(zone)
	scope := mgr.NewScope()
	defer func() { _ = scope.ReleaseAll() }()

	local := filepath.Join(t.TempDir(), "out.bin")
	ev := &events{}

	res, err := NewEngine(mgr).Get(context.Background(), scope, rods, "/tempZone/home/rods/big.bin", local, parallelOptions(), ev)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Streams)
	assert.Equal(t, progress.Get, res.Direction)

	got, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))

	totals := ev.inProgress()
	require.NotEmpty(t, totals)
	assert.Equal(t, int64(len(data)), totals[len(totals)-1])
	assert.Equal(t, []progress.State{progress.Started}, ev.states()[:1])
}

func TestGet_OnPoolWithMetrics(t *testing.T) {
	zone := memory.NewZone()
	data := payload(4096)
	zone.Store("/tempZone/f", data)

	mgr := poolManager(zone, 1, 4)
	defer func() { _ = mgr.Close(context.Background()) }()
	scope := mgr.NewScope()
	defer func() { _ = scope.ReleaseAll() }()

	tm := metrics.NewTransferMetrics(prometheus.NewRegistry())
	local := filepath.Join(t.TempDir(), "f")

	_, err := NewEngine(mgr, WithMetrics(tm)).Get(context.Background(), scope, rods, "/tempZone/f", local, parallelOptions(), nil)
	require.NoError(t, err)

	var m dto.Metric
	require.NoError(t, tm.Transfers.WithLabelValues("get", "success").Write(&m))
	assert.Equal(t, float64(1), m.GetCounter().GetValue())
	require.NoError(t, tm.Bytes.WithLabelValues("get").Write(&m))
	assert.Equal(t, float64(len(data)), m.GetCounter().GetValue())
	require.NoError(t, tm.ActiveStreams.Write(&m))
	assert.Zero(t, m.GetGauge().GetValue())
}

func TestGet_NotFound(t *testing.T) {
	mgr := session.NewManager(memory.NewZone())
	scope := mgr.NewScope()
	defer func() { _ = scope.ReleaseAll() }()

	local := filepath.Join(t.TempDir(), "out")
	_, err := NewEngine(mgr).Get(context.Background(), scope, rods, "/tempZone/missing", local, Options{}, nil)
	assert.True(t, rodserrors.IsNotFoundError(err))
	assert.NoFileExists(t, local)
}

func TestGet_NotFoundReportsFailure(t *testing.T) {
	mgr := session.NewManager(memory.NewZone())
	scope := mgr.NewScope()
	defer func() { _ = scope.ReleaseAll() }()

	tm := metrics.NewTransferMetrics(prometheus.NewRegistry())
	ev := &events{}
	local := filepath.Join(t.TempDir(), "out")

	_, err := NewEngine(mgr, WithMetrics(tm)).Get(context.Background(), scope, rods, "/tempZone/missing", local, Options{}, ev)
	require.True(t, rodserrors.IsNotFoundError(err))

	assert.Equal(t, []progress.State{progress.Failure}, ev.states())
	assert.True(t, rodserrors.IsNotFoundError(ev.all[0].Err))

	var m dto.Metric
	require.NoError(t, tm.Transfers.WithLabelValues("get", "error").Write(&m))
	assert.Equal(t, float64(1), m.GetCounter().GetValue())
}

func TestGet_RefusesToClobberWithoutOverwrite(t *testing.T) {
	zone := memory.NewZone()
	zone.Store("/tempZone/f", []byte("remote"))
	mgr := session.NewManager(zone)
	scope := mgr.NewScope()
	defer func() { _ = scope.ReleaseAll() }()

	local := writeLocal(t, []byte("precious"))
	engine := NewEngine(mgr)

	_, err := engine.Get(context.Background(), scope, rods, "/tempZone/f", local, Options{}, nil)
	require.Error(t, err)
	got, _ := os.ReadFile(local)
	assert.Equal(t, []byte("precious"), got)

	opts := Options{}
	opts.Overwrite = true
	_, err = engine.Get(context.Background(), scope, rods, "/tempZone/f", local, opts, nil)
	require.NoError(t, err)
	got, _ = os.ReadFile(local)
	assert.Equal(t, []byte("remote"), got)
}

func TestGet_ListenerFaultRemovesPartialFile(t *testing.T) {
	zone := memory.NewZone()
	zone.Store("/tempZone/f", payload(10*1024))
	mgr := session.NewManager(zone)
	scope := mgr.NewScope()
	defer func() { _ = scope.ReleaseAll() }()

	local := filepath.Join(t.TempDir(), "out")
	ev := &events{failOn: progress.InProgress, fail: errors.New("disk full")}

	_, err := NewEngine(mgr).Get(context.Background(), scope, rods, "/tempZone/f", local, parallelOptions(), ev)
	assert.ErrorIs(t, err, rodserrors.CallbackFault)
	assert.NoFileExists(t, local)
}

func TestGet_EmptyObject(t *testing.T) {
	zone := memory.NewZone()
	zone.Store("/tempZone/empty", nil)
	mgr := session.NewManager(zone)
	scope := mgr.NewScope()
	defer func() { _ = scope.ReleaseAll() }()

	local := filepath.Join(t.TempDir(), "empty")
	res, err := NewEngine(mgr).Get(context.Background(), scope, rods, "/tempZone/empty", local, parallelOptions(), nil)
	require.NoError(t, err)
	assert.Zero(t, res.Bytes)
	assert.Equal(t, 1, res.Streams)

	info, err := os.Stat(local)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestDefaultOptions(t *testing.T) {
	mgr := session.NewManager(memory.NewZone())
	opts := NewEngine(mgr).DefaultOptions()
	assert.Equal(t, 4, opts.MaxThreads)
	assert.Nil(t, opts.Control)
}
