// Package transfer moves files between the local filesystem and a zone,
// splitting large files into parallel streams.
//
// The caller's Scope opens and finalizes the transfer. Each extra stream
// runs either on the Manager's transfer pool or, when the pool is disabled,
// on a goroutine bounded by MaxThreads. Every stream owns a Scope and a
// connection of its own and reports progress to the transfer's shared
// aggregator.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/marmos91/gorods/internal/logger"
	"github.com/marmos91/gorods/internal/telemetry"
	"github.com/marmos91/gorods/pkg/account"
	"github.com/marmos91/gorods/pkg/bufpool"
	rodserrors "github.com/marmos91/gorods/pkg/errors"
	"github.com/marmos91/gorods/pkg/metrics"
	"github.com/marmos91/gorods/pkg/progress"
	"github.com/marmos91/gorods/pkg/session"
	"github.com/marmos91/gorods/pkg/transport"
	"github.com/marmos91/gorods/pkg/workpool"
)

// Options tune one transfer.
type Options struct {
	session.TransferOptions

	// Control cancels the transfer cooperatively. May be nil.
	Control *Control

	// ContentType overrides detection on put.
	ContentType string
}

// Result summarizes a finished transfer.
type Result struct {
	TransferID  string
	Direction   progress.Direction
	LocalPath   string
	RemotePath  string
	Bytes       int64
	Streams     int
	Duration    time.Duration
	ContentType string
	Parts       []transport.Part
}

// Engine runs puts and gets. It is safe for concurrent use; each call must
// pass its own Scope.
type Engine struct {
	mgr     *session.Manager
	metrics *metrics.TransferMetrics
	buffers *bufpool.Pool
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithMetrics records transfer metrics.
func WithMetrics(m *metrics.TransferMetrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithBufferPool replaces the package buffer pool.
func WithBufferPool(p *bufpool.Pool) EngineOption {
	return func(e *Engine) { e.buffers = p }
}

// NewEngine creates an engine that opens stream connections through mgr.
func NewEngine(mgr *session.Manager, opts ...EngineOption) *Engine {
	e := &Engine{mgr: mgr}
	for _, opt := range opts {
		opt(e)
	}
	if e.buffers == nil {
		e.buffers = bufpool.NewPool(nil)
	}
	return e
}

// DefaultOptions returns options built from the manager's properties.
func (e *Engine) DefaultOptions() Options {
	return Options{TransferOptions: e.mgr.TransferOptions()}
}

// streamFunc moves one range over conn.
type streamFunc func(ctx context.Context, conn transport.Conn, r Range) (transport.Part, error)

// job is the state shared by every stream of one transfer.
type job struct {
	id        string
	direction progress.Direction
	acct      account.Account
	remote    string
	local     string
	size      int64
	opts      Options
	agg       *progress.Aggregator
	listener  progress.Listener
	lc        *logger.LogContext
	start     time.Time
}

func (e *Engine) newJob(ctx context.Context, dir progress.Direction, acct account.Account, local, remote string,
	size int64, opts Options, listener progress.Listener) (context.Context, *job, error) {
	if listener == nil {
		listener = progress.ListenerFunc(func(progress.Status) error { return nil })
	}
	opts.TransferOptions = opts.WithDefaults()

	j := &job{
		id:        uuid.NewString(),
		direction: dir,
		acct:      acct,
		remote:    remote,
		local:     local,
		opts:      opts,
		listener:  listener,
		start:     time.Now(),
	}
	if err := e.resize(j, size); err != nil {
		return ctx, nil, err
	}

	j.lc = logger.NewLogContext(j.id, dir.String(), acct.String())
	return logger.WithContext(ctx, j.lc), j, nil
}

// resize sets the job size and starts a fresh aggregator for it. Gets
// learn their size only after the job is created.
func (e *Engine) resize(j *job, size int64) error {
	agg, err := progress.New(j.direction, size, j.listener,
		progress.WithThreshold(j.opts.IntraFileThreshold),
		progress.WithTransferID(j.id),
		progress.WithPath(j.remote),
		progress.WithMetrics(e.metrics))
	if err != nil {
		return err
	}
	j.size = size
	j.agg = agg
	return nil
}

func (j *job) status(state progress.State, err error) progress.Status {
	return progress.Status{
		State:            state,
		Direction:        j.direction,
		TransferID:       j.id,
		Path:             j.remote,
		TotalBytes:       j.size,
		BytesTransferred: j.agg.Transferred(),
		Err:              err,
	}
}

// runStreams moves every range and returns the parts in range order. The
// first range runs on conn in the calling goroutine when it is the only one.
// Otherwise every range runs as its own task with its own connection. All
// started streams are awaited; their errors are joined.
func (e *Engine) runStreams(ctx context.Context, j *job, conn transport.Conn, ranges []Range, fn streamFunc) ([]transport.Part, error) {
	parts := make([]transport.Part, len(ranges))

	if len(ranges) == 1 {
		p, err := e.runStream(ctx, j, ranges[0], func(ctx context.Context, r Range) (transport.Part, error) {
			return fn(ctx, conn, r)
		})
		parts[0] = p
		return parts, err
	}

	task := func(r Range) error {
		p, err := e.runStream(ctx, j, r, func(ctx context.Context, r Range) (transport.Part, error) {
			scope := e.mgr.NewScope()
			defer func() {
				if err := scope.ReleaseAll(); err != nil {
					logger.WarnCtx(ctx, "Error releasing stream connections", logger.KeyError, err)
				}
			}()

			c, err := scope.Acquire(ctx, j.acct)
			if err != nil {
				return transport.Part{}, err
			}
			return fn(ctx, c, r)
		})
		parts[r.Index] = p
		return err
	}

	pool, err := e.mgr.TransferPool()
	if err != nil {
		return nil, err
	}
	if pool != nil {
		cfg := pool.Config()
		telemetry.SetAttributes(ctx, telemetry.PoolShape(cfg.CoreWorkers, cfg.MaxWorkers, cfg.QueueSize)...)
		return parts, submitAll(pool, ranges, task)
	}
	return parts, runBounded(j.opts.MaxThreads, ranges, task)
}

// submitAll submits one pool task per range. Submission stops at the first
// rejection, but already accepted tasks are still awaited.
func submitAll(pool *workpool.Pool, ranges []Range, task func(Range) error) error {
	futures := make([]*workpool.Future, 0, len(ranges))
	var submitErr error
	for _, r := range ranges {
		f, err := pool.Submit(func() error { return task(r) })
		if err != nil {
			submitErr = fmt.Errorf("submit stream %d: %w", r.Index, err)
			break
		}
		futures = append(futures, f)
	}

	errs := []error{submitErr}
	for _, f := range futures {
		<-f.Done()
		errs = append(errs, f.Err())
	}
	return errors.Join(errs...)
}

// runBounded runs one goroutine per range, at most limit at a time. A
// failed stream does not stop its siblings.
func runBounded(limit int, ranges []Range, task func(Range) error) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(max(limit, 1))
	for _, r := range ranges {
		g.Go(func() error {
			if err := task(r); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// runStream wraps one stream with its span, log fields and metrics.
func (e *Engine) runStream(ctx context.Context, j *job, r Range, fn func(context.Context, Range) (transport.Part, error)) (transport.Part, error) {
	if err := j.opts.Control.check("transfer.stream"); err != nil {
		return transport.Part{}, err
	}

	ctx = logger.WithContext(ctx, j.lc.WithStream(r.Index))
	ctx, span := telemetry.StartStreamSpan(ctx, r.Index, r.Offset, r.Length)
	defer span.End()

	e.metrics.StreamStarted()
	defer e.metrics.StreamFinished()

	start := time.Now()
	logger.DebugCtx(ctx, "Stream started", logger.KeyOffset, r.Offset, logger.KeyLength, r.Length)

	p, err := fn(ctx, r)
	if err != nil {
		telemetry.RecordError(ctx, err)
		logger.WarnCtx(ctx, "Stream failed",
			logger.KeyOffset, r.Offset,
			logger.KeyLength, r.Length,
			logger.KeyError, err,
			logger.KeyErrorCode, rodserrors.CodeOf(err).String())
		return p, fmt.Errorf("stream %d [%d,%d): %w", r.Index, r.Offset, r.End(), err)
	}

	logger.DebugCtx(ctx, "Stream finished",
		logger.KeyBytes, p.Length,
		logger.KeyDurationMs, logger.Duration(start))
	return p, nil
}

// finish flushes the aggregator, delivers the terminal status and records
// metrics. It returns err, or the listener's failure when err is nil.
func (e *Engine) finish(ctx context.Context, j *job, streams int, err error) (*Result, error) {
	if err == nil {
		err = j.agg.Flush()
	}

	state := progress.Complete
	if err != nil {
		state = progress.Failure
	}
	if lerr := j.listener.OnStatus(j.status(state, err)); lerr != nil && err == nil {
		err = rodserrors.NewCallbackFaultError("transfer.finish", lerr)
	}

	d := time.Since(j.start)
	e.metrics.ObserveTransfer(j.direction.String(), streams, j.agg.Transferred(), d, err)

	if err != nil {
		telemetry.RecordError(ctx, err)
		logger.WarnCtx(ctx, "Transfer failed",
			logger.KeyPath, j.remote,
			logger.KeyLocalPath, j.local,
			logger.KeyStreams, streams,
			logger.KeyError, err)
		return nil, err
	}

	telemetry.SetAttributes(ctx, telemetry.Bytes(j.agg.Transferred()))
	logger.InfoCtx(ctx, "Transfer complete",
		logger.KeyPath, j.remote,
		logger.KeyLocalPath, j.local,
		logger.KeyBytes, j.agg.Transferred(),
		logger.KeyStreams, streams,
		logger.KeyDurationMs, float64(d.Microseconds())/1000)

	return &Result{
		TransferID: j.id,
		Direction:  j.direction,
		LocalPath:  j.local,
		RemotePath: j.remote,
		Bytes:      j.agg.Transferred(),
		Streams:    streams,
		Duration:   d,
	}, nil
}
