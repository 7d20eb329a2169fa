// Package workpool is a bounded worker pool for transfer streams.
//
// Dispatch follows a core/max policy:
//
//  1. fewer than CoreWorkers workers: start a worker for the task
//  2. otherwise: enqueue if the queue has room
//  3. otherwise, fewer than MaxWorkers workers: start a worker for the task
//  4. otherwise: reject with a CapacityExceeded error
//
// Workers above CoreWorkers exit after IdleTimeout without work. Submit
// never blocks.
package workpool

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/marmos91/gorods/internal/logger"
	rodserrors "github.com/marmos91/gorods/pkg/errors"
	"github.com/marmos91/gorods/pkg/metrics"
)

// Task is a unit of work run by a pool worker.
type Task func() error

// Config is the pool shape. It is captured when the pool is created and
// never changes afterwards.
type Config struct {
	Name        string
	CoreWorkers int
	MaxWorkers  int
	IdleTimeout time.Duration

	// QueueSize defaults to MaxWorkers when zero.
	QueueSize int
}

func (c Config) withDefaults() Config {
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 1
	}
	if c.CoreWorkers < 0 {
		c.CoreWorkers = 0
	}
	if c.CoreWorkers > c.MaxWorkers {
		c.CoreWorkers = c.MaxWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = c.MaxWorkers
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.Name == "" {
		c.Name = "transfer"
	}
	return c
}

type job struct {
	task   Task
	future *Future
}

// Pool runs submitted tasks on a bounded set of goroutines.
type Pool struct {
	cfg     Config
	metrics *metrics.PoolMetrics
	queue   chan *job

	mu       sync.Mutex
	workers  int
	active   int
	shutdown bool
	wg       sync.WaitGroup

	submitted, completed, failed, rejected uint64
}

// New creates a pool. No goroutines start until the first Submit.
// m may be nil.
func New(cfg Config, m *metrics.PoolMetrics) *Pool {
	cfg = cfg.withDefaults()

	m.RecordCreated()
	logger.Debug("Transfer pool created",
		"pool", cfg.Name,
		logger.KeyCoreWorkers, cfg.CoreWorkers,
		logger.KeyMaxWorkers, cfg.MaxWorkers,
		logger.KeyQueued, cfg.QueueSize,
		logger.KeyIdleTimeout, cfg.IdleTimeout)

	return &Pool{
		cfg:     cfg,
		metrics: m,
		queue:   make(chan *job, cfg.QueueSize),
	}
}

// Config returns the configuration the pool was created with.
func (p *Pool) Config() Config {
	return p.cfg
}

// Submit schedules task and returns a Future for its result. It returns a
// CapacityExceeded error when the queue is full and MaxWorkers are busy,
// and a PoolShutdown error after Shutdown.
func (p *Pool) Submit(task Task) (*Future, error) {
	if task == nil {
		return nil, rodserrors.NewInvalidArgumentError("workpool.Submit", "nil task")
	}

	j := &job{task: task, future: newFuture()}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.shutdown {
		return nil, rodserrors.NewPoolShutdownError("workpool.Submit")
	}

	if p.workers < p.cfg.CoreWorkers {
		p.startWorkerLocked(j)
		return p.acceptedLocked(j), nil
	}

	select {
	case p.queue <- j:
		// A worker may have timed out between the check above and now.
		if p.workers == 0 {
			p.startWorkerLocked(nil)
		}
		p.metrics.SetQueued(len(p.queue))
		return p.acceptedLocked(j), nil
	default:
	}

	if p.workers < p.cfg.MaxWorkers {
		p.startWorkerLocked(j)
		return p.acceptedLocked(j), nil
	}

	p.rejected++
	p.metrics.RecordTask("rejected")
	logger.Debug("Transfer pool saturated, rejecting task",
		"pool", p.cfg.Name,
		logger.KeyWorkers, p.workers,
		logger.KeyQueued, len(p.queue))
	return nil, rodserrors.NewCapacityExceededError("workpool.Submit", p.workers, len(p.queue))
}

func (p *Pool) acceptedLocked(j *job) *Future {
	p.submitted++
	p.metrics.RecordTask("submitted")
	return j.future
}

func (p *Pool) startWorkerLocked(first *job) {
	p.workers++
	p.metrics.SetWorkers(p.workers)
	p.wg.Add(1)
	go p.worker(first)
}

// worker runs first (if any) and then drains the queue until it is closed
// or, for non-core workers, until IdleTimeout passes without work.
func (p *Pool) worker(first *job) {
	defer p.wg.Done()

	if first != nil {
		p.run(first)
	}

	idle := time.NewTimer(p.cfg.IdleTimeout)
	defer idle.Stop()

	for {
		if !p.mayTimeOut() {
			j, ok := <-p.queue
			if !ok {
				p.exit()
				return
			}
			p.run(j)
			continue
		}

		idle.Reset(p.cfg.IdleTimeout)
		select {
		case j, ok := <-p.queue:
			if !ok {
				p.exit()
				return
			}
			p.run(j)
		case <-idle.C:
			if p.tryRetire() {
				return
			}
		}
	}
}

func (p *Pool) mayTimeOut() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workers > p.cfg.CoreWorkers
}

// tryRetire removes an idle surplus worker. The last worker stays while
// work is queued.
func (p *Pool) tryRetire() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.workers <= p.cfg.CoreWorkers {
		return false
	}
	if len(p.queue) > 0 && p.workers == 1 {
		return false
	}
	p.workers--
	p.metrics.SetWorkers(p.workers)
	logger.Debug("Idle transfer worker retired", "pool", p.cfg.Name, logger.KeyWorkers, p.workers)
	return true
}

func (p *Pool) exit() {
	p.mu.Lock()
	p.workers--
	p.metrics.SetWorkers(p.workers)
	p.mu.Unlock()
}

func (p *Pool) run(j *job) {
	p.mu.Lock()
	p.active++
	p.metrics.SetQueued(len(p.queue))
	p.mu.Unlock()

	start := time.Now()
	err := safeRun(j.task)
	p.metrics.ObserveTask(time.Since(start), err)

	p.mu.Lock()
	p.active--
	if err != nil {
		p.failed++
	} else {
		p.completed++
	}
	p.mu.Unlock()

	j.future.complete(err)
}

// safeRun converts a task panic into an error so one bad stream cannot take
// the worker down with it.
func safeRun(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Transfer task panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task()
}

// Shutdown stops accepting tasks, lets workers drain the queue and waits
// for them until ctx is done. It is safe to call more than once.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.shutdown {
		p.shutdown = true
		close(p.queue)
		logger.Debug("Stopping transfer pool", "pool", p.cfg.Name, logger.KeyQueued, len(p.queue))
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		logger.Warn("Transfer pool stop timed out", "pool", p.cfg.Name, logger.KeyQueued, p.Stats().Queued)
		return ctx.Err()
	}
}

// Stats is a point-in-time snapshot of pool counters.
type Stats struct {
	Workers   int
	Active    int
	Queued    int
	Submitted uint64
	Completed uint64
	Failed    uint64
	Rejected  uint64
	Shutdown  bool
}

// Stats returns current counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Workers:   p.workers,
		Active:    p.active,
		Queued:    len(p.queue),
		Submitted: p.submitted,
		Completed: p.completed,
		Failed:    p.failed,
		Rejected:  p.rejected,
		Shutdown:  p.shutdown,
	}
}
