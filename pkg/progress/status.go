package progress

import "fmt"

// Direction identifies which way bytes flow in a transfer.
type Direction int

const (
	Put Direction = iota
	Get
)

func (d Direction) String() string {
	switch d {
	case Put:
		return "put"
	case Get:
		return "get"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// State is the kind of status event delivered to a Listener.
type State int

const (
	// InProgress is a throttled intra-file byte count update.
	InProgress State = iota
	// Started is sent once before the first stream runs.
	Started
	// Complete is sent once after every stream succeeded.
	Complete
	// Failure is sent once when the transfer failed. Status.Err is set.
	Failure
)

func (s State) String() string {
	switch s {
	case InProgress:
		return "in_progress"
	case Started:
		return "started"
	case Complete:
		return "complete"
	case Failure:
		return "failure"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status is one event delivered to a Listener.
type Status struct {
	State            State
	Direction        Direction
	TransferID       string
	Path             string
	TotalBytes       int64
	BytesTransferred int64
	Err              error
}

// Percent returns the completed share of TotalBytes in the range [0, 100].
func (s Status) Percent() float64 {
	if s.TotalBytes <= 0 {
		if s.State == Complete {
			return 100
		}
		return 0
	}
	p := float64(s.BytesTransferred) * 100 / float64(s.TotalBytes)
	return min(p, 100)
}

// Listener receives status events. A returned error terminates the
// aggregator that delivered the event and is reported to the stream that
// triggered it.
type Listener interface {
	OnStatus(Status) error
}

// ListenerFunc adapts a function to a Listener.
type ListenerFunc func(Status) error

// OnStatus calls f(s).
func (f ListenerFunc) OnStatus(s Status) error {
	return f(s)
}
