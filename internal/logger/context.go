package logger

import (
	"context"
	"time"
)

type contextKey struct{}

var logContextKey = contextKey{}

// LogContext holds transfer-scoped logging fields.
type LogContext struct {
	TraceID    string
	SpanID     string
	TransferID string
	Direction  string // put, get
	Account    string // account.String(), never the password
	Stream     int    // stream index, -1 when not inside a stream
	StartTime  time.Time
}

// NewLogContext creates a LogContext for a transfer.
func NewLogContext(transferID, direction, account string) *LogContext {
	return &LogContext{
		TransferID: transferID,
		Direction:  direction,
		Account:    account,
		Stream:     -1,
		StartTime:  time.Now(),
	}
}

// WithContext returns a new context carrying lc.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext returns the LogContext in ctx, or nil.
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// Clone returns a copy of lc.
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	c := *lc
	return &c
}

// WithStream returns a copy tagged with a stream index.
func (lc *LogContext) WithStream(stream int) *LogContext {
	c := lc.Clone()
	if c != nil {
		c.Stream = stream
	}
	return c
}

// WithTrace returns a copy with trace info set.
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	c := lc.Clone()
	if c != nil {
		c.TraceID = traceID
		c.SpanID = spanID
	}
	return c
}

// DurationMs returns milliseconds since StartTime.
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
