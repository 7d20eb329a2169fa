// Package progress turns byte-count notifications from concurrent transfer
// streams into throttled status events.
//
// One Aggregator exists per file transfer. Every stream of the transfer
// calls OnProgress after each buffer it moves; the aggregator counts the
// calls and, once more than Threshold have arrived since the last event,
// delivers a single InProgress Status carrying the cumulative byte total.
package progress

import (
	"sync"

	"github.com/marmos91/gorods/internal/logger"
	rodserrors "github.com/marmos91/gorods/pkg/errors"
	"github.com/marmos91/gorods/pkg/metrics"
)

// DefaultThreshold is the number of notifications folded into one event.
const DefaultThreshold = 25

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithThreshold overrides DefaultThreshold. Values below 1 are ignored.
func WithThreshold(n int) Option {
	return func(a *Aggregator) {
		if n >= 1 {
			a.threshold = n
		}
	}
}

// WithTransferID tags every emitted Status with id.
func WithTransferID(id string) Option {
	return func(a *Aggregator) { a.transferID = id }
}

// WithPath tags every emitted Status with the remote path.
func WithPath(path string) Option {
	return func(a *Aggregator) { a.path = path }
}

// WithMetrics counts emitted events.
func WithMetrics(m *metrics.TransferMetrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// Aggregator is safe for concurrent use by the streams of one transfer.
type Aggregator struct {
	direction  Direction
	totalBytes int64
	listener   Listener
	threshold  int
	transferID string
	path       string
	metrics    *metrics.TransferMetrics

	mu          sync.Mutex
	transferred int64
	pending     int // notifications in the current window
	unreported  int // notifications since the last event
	emitted     int
	fault       error
}

// New creates an aggregator for a transfer of totalBytes.
func New(direction Direction, totalBytes int64, listener Listener, opts ...Option) (*Aggregator, error) {
	if listener == nil {
		return nil, rodserrors.NewInvalidArgumentError("progress.New", "nil listener")
	}
	if totalBytes < 0 {
		return nil, rodserrors.NewInvalidArgumentError("progress.New", "negative total bytes")
	}

	a := &Aggregator{
		direction:  direction,
		totalBytes: totalBytes,
		listener:   listener,
		threshold:  DefaultThreshold,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// OnProgress records n more bytes. When the current window holds more than
// Threshold notifications an InProgress event is delivered before
// OnProgress returns. The notification that triggers an event also opens
// the next window.
//
// After the listener has failed, OnProgress returns the same CallbackFault
// on every call and records nothing.
func (a *Aggregator) OnProgress(n int64) error {
	if n < 0 {
		return rodserrors.NewInvalidArgumentError("progress.OnProgress", "negative byte count")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.fault != nil {
		return a.fault
	}

	a.pending++
	a.unreported++
	a.transferred += n

	if a.pending <= a.threshold {
		return nil
	}
	if err := a.emitLocked(); err != nil {
		return err
	}
	a.pending = 1
	return nil
}

// Flush delivers an InProgress event for notifications that have not yet
// been reported. It does nothing when every notification has already been
// reported, and returns the fault when the aggregator has failed.
func (a *Aggregator) Flush() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.fault != nil {
		return a.fault
	}
	if a.unreported == 0 {
		return nil
	}
	if err := a.emitLocked(); err != nil {
		return err
	}
	a.pending = 0
	return nil
}

func (a *Aggregator) emitLocked() error {
	status := Status{
		State:            InProgress,
		Direction:        a.direction,
		TransferID:       a.transferID,
		Path:             a.path,
		TotalBytes:       a.totalBytes,
		BytesTransferred: a.transferred,
	}

	if err := a.listener.OnStatus(status); err != nil {
		a.fault = rodserrors.NewCallbackFaultError("progress.OnProgress", err)
		logger.Warn("Progress listener failed, aggregation stopped",
			logger.KeyTransferID, a.transferID,
			logger.KeyDirection, a.direction.String(),
			logger.KeyBytes, a.transferred,
			logger.KeyError, err)
		return a.fault
	}

	a.emitted++
	a.unreported = 0
	a.metrics.RecordStatusEvent(a.direction.String())
	return nil
}

// Transferred returns the cumulative byte count.
func (a *Aggregator) Transferred() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.transferred
}

// Emitted returns the number of InProgress events delivered.
func (a *Aggregator) Emitted() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.emitted
}

// Err returns the CallbackFault that terminated the aggregator, if any.
func (a *Aggregator) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fault
}

// Direction returns the transfer direction.
func (a *Aggregator) Direction() Direction { return a.direction }

// TotalBytes returns the expected transfer size.
func (a *Aggregator) TotalBytes() int64 { return a.totalBytes }

// Threshold returns the number of notifications folded into one event.
func (a *Aggregator) Threshold() int { return a.threshold }
