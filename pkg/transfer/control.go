package transfer

import (
	"sync/atomic"

	rodserrors "github.com/marmos91/gorods/pkg/errors"
)

// Control is a cooperative cancellation flag shared by the streams of a
// transfer. Streams check it before they start and between buffers; an
// in-flight transport call is never interrupted.
//
// A nil *Control is never cancelled.
type Control struct {
	cancelled atomic.Bool
}

// NewControl returns a Control that is not cancelled.
func NewControl() *Control {
	return &Control{}
}

// Cancel asks every stream using c to stop at its next check.
func (c *Control) Cancel() {
	if c != nil {
		c.cancelled.Store(true)
	}
}

// Cancelled reports whether Cancel has been called.
func (c *Control) Cancelled() bool {
	return c != nil && c.cancelled.Load()
}

func (c *Control) check(op string) error {
	if c.Cancelled() {
		return rodserrors.NewCancelledError(op)
	}
	return nil
}
