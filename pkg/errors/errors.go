// Package errors provides the error codes and the coded error type shared by
// the session, pool, progress and transfer packages.
//
// This is a leaf package with no internal dependencies so that transport
// implementations can return coded errors without importing the session layer.
//
// Import graph: errors <- account <- transport <- workpool/progress <- session <- transfer
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies an error.
type ErrorCode int

const (
	// ErrConfiguration indicates the runtime is missing a required
	// collaborator or has an invalid setting (e.g. no connection supplier).
	ErrConfiguration ErrorCode = iota + 1

	// ErrInvalidArgument indicates a caller-supplied argument is invalid.
	ErrInvalidArgument

	// ErrConnection indicates a connection could not be obtained from the
	// supplier, or the supplier returned no connection.
	ErrConnection

	// ErrCapacityExceeded indicates the transfer pool rejected a task because
	// its queue is full and all workers are busy.
	ErrCapacityExceeded

	// ErrCallbackFault indicates a progress listener failed while handling a
	// status event.
	ErrCallbackFault

	// ErrPoolShutdown indicates the transfer pool no longer accepts tasks.
	ErrPoolShutdown

	// ErrNotFound indicates the requested object does not exist in the zone.
	ErrNotFound

	// ErrClosed indicates an operation on a closed connection.
	ErrClosed

	// ErrCancelled indicates a transfer was cancelled through its control flag.
	ErrCancelled
)

// String returns a human-readable name for the error code.
func (e ErrorCode) String() string {
	switch e {
	case ErrConfiguration:
		return "Configuration"
	case ErrInvalidArgument:
		return "InvalidArgument"
	case ErrConnection:
		return "Connection"
	case ErrCapacityExceeded:
		return "CapacityExceeded"
	case ErrCallbackFault:
		return "CallbackFault"
	case ErrPoolShutdown:
		return "PoolShutdown"
	case ErrNotFound:
		return "NotFound"
	case ErrClosed:
		return "Closed"
	case ErrCancelled:
		return "Cancelled"
	default:
		return fmt.Sprintf("Unknown(%d)", e)
	}
}

// Error is an error carrying an ErrorCode, the operation that failed and an
// optional underlying cause.
type Error struct {
	Code    ErrorCode
	Op      string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Code.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code. This lets
// callers match on a code sentinel:
//
//	errors.Is(err, rodserrors.CapacityExceeded)
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Message == "" && t.Err == nil && t.Code == e.Code
}

// Code sentinels for use with errors.Is.
var (
	Configuration    = &Error{Code: ErrConfiguration}
	InvalidArgument  = &Error{Code: ErrInvalidArgument}
	Connection       = &Error{Code: ErrConnection}
	CapacityExceeded = &Error{Code: ErrCapacityExceeded}
	CallbackFault    = &Error{Code: ErrCallbackFault}
	PoolShutdown     = &Error{Code: ErrPoolShutdown}
	NotFound         = &Error{Code: ErrNotFound}
	Closed           = &Error{Code: ErrClosed}
	Cancelled        = &Error{Code: ErrCancelled}
)

// ErrNilConnection is the cause attached to a Connection error when the
// supplier reports success but hands back no connection.
var ErrNilConnection = stderrors.New("null connection returned from connection supplier")

// ============================================================================
// Factory Functions
// ============================================================================

// NewConfigurationError creates a Configuration error.
func NewConfigurationError(op, message string) *Error {
	return &Error{Code: ErrConfiguration, Op: op, Message: message}
}

// NewInvalidArgumentError creates an InvalidArgument error.
func NewInvalidArgumentError(op, message string) *Error {
	return &Error{Code: ErrInvalidArgument, Op: op, Message: message}
}

// NewConnectionError creates a Connection error wrapping the supplier's cause.
func NewConnectionError(op string, cause error) *Error {
	return &Error{Code: ErrConnection, Op: op, Message: "cannot obtain connection", Err: cause}
}

// NewCapacityExceededError creates a CapacityExceeded error.
func NewCapacityExceededError(op string, workers, queued int) *Error {
	return &Error{
		Code:    ErrCapacityExceeded,
		Op:      op,
		Message: fmt.Sprintf("transfer pool saturated (workers: %d, queued: %d)", workers, queued),
	}
}

// NewCallbackFaultError creates a CallbackFault error wrapping the listener's error.
func NewCallbackFaultError(op string, cause error) *Error {
	return &Error{Code: ErrCallbackFault, Op: op, Message: "progress listener failed", Err: cause}
}

// NewPoolShutdownError creates a PoolShutdown error.
func NewPoolShutdownError(op string) *Error {
	return &Error{Code: ErrPoolShutdown, Op: op, Message: "transfer pool is shut down"}
}

// NewNotFoundError creates a NotFound error for a logical path.
func NewNotFoundError(op, path string) *Error {
	return &Error{Code: ErrNotFound, Op: op, Message: fmt.Sprintf("%s not found", path)}
}

// NewClosedError creates a Closed error.
func NewClosedError(op string) *Error {
	return &Error{Code: ErrClosed, Op: op, Message: "connection is closed"}
}

// NewCancelledError creates a Cancelled error.
func NewCancelledError(op string) *Error {
	return &Error{Code: ErrCancelled, Op: op, Message: "transfer cancelled"}
}

// ============================================================================
// Error Type Checking Helpers
// ============================================================================

// CodeOf returns the code of the first *Error in err's chain, or 0.
func CodeOf(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return 0
}

// IsCode reports whether any *Error in err's chain carries code.
func IsCode(err error, code ErrorCode) bool {
	return stderrors.Is(err, &Error{Code: code})
}

// IsNotFoundError returns true if the error is a NotFound error.
func IsNotFoundError(err error) bool {
	return IsCode(err, ErrNotFound)
}

// IsCapacityExceededError returns true if the pool rejected a task.
func IsCapacityExceededError(err error) bool {
	return IsCode(err, ErrCapacityExceeded)
}
