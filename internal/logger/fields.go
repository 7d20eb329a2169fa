package logger

import (
	"log/slog"
)

// Standard field keys. Use these consistently so log queries can join
// session, pool and transfer events.
const (
	// Tracing
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// Account & connection
	KeyAccount      = "account"
	KeyZone         = "zone"
	KeyHost         = "host"
	KeyConnectionID = "connection_id"
	KeyCached       = "cached"
	KeyScope        = "scope"

	// Transfers
	KeyTransferID = "transfer_id"
	KeyDirection  = "direction"
	KeyStream     = "stream"
	KeyStreams    = "streams"
	KeyPath       = "path"
	KeyLocalPath  = "local_path"
	KeyOffset     = "offset"
	KeyLength     = "length"
	KeyBytes      = "bytes"
	KeyTotalBytes = "total_bytes"
	KeyUploadID   = "upload_id"

	// Pool
	KeyWorkers     = "workers"
	KeyCoreWorkers = "core_workers"
	KeyMaxWorkers  = "max_workers"
	KeyQueued      = "queued"
	KeyIdleTimeout = "idle_timeout"

	// Operation metadata
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyErrorCode  = "error_code"
	KeyOperation  = "operation"
	KeyBackend    = "backend"
	KeyBucket     = "bucket"
	KeyKey        = "key"
)

// TraceID creates a trace ID attribute.
func TraceID(id string) slog.Attr { return slog.String(KeyTraceID, id) }

// SpanID creates a span ID attribute.
func SpanID(id string) slog.Attr { return slog.String(KeySpanID, id) }

// Account creates an account attribute. Pass account.String(), which never
// contains the password.
func Account(s string) slog.Attr { return slog.String(KeyAccount, s) }

// Zone creates a zone attribute.
func Zone(name string) slog.Attr { return slog.String(KeyZone, name) }

// Host creates a host attribute.
func Host(h string) slog.Attr { return slog.String(KeyHost, h) }

// ConnectionID creates a connection ID attribute.
func ConnectionID(id string) slog.Attr { return slog.String(KeyConnectionID, id) }

// TransferID creates a transfer ID attribute.
func TransferID(id string) slog.Attr { return slog.String(KeyTransferID, id) }

// Direction creates a transfer direction attribute.
func Direction(d string) slog.Attr { return slog.String(KeyDirection, d) }

// Stream creates a stream index attribute.
func Stream(i int) slog.Attr { return slog.Int(KeyStream, i) }

// Path creates a logical path attribute.
func Path(p string) slog.Attr { return slog.String(KeyPath, p) }

// Offset creates a byte offset attribute.
func Offset(off int64) slog.Attr { return slog.Int64(KeyOffset, off) }

// Length creates a byte length attribute.
func Length(n int64) slog.Attr { return slog.Int64(KeyLength, n) }

// Bytes creates a byte count attribute.
func Bytes(n int64) slog.Attr { return slog.Int64(KeyBytes, n) }

// DurationMs creates a duration attribute in milliseconds.
func DurationMs(ms float64) slog.Attr { return slog.Float64(KeyDurationMs, ms) }

// Err creates an error attribute. Returns an empty attribute for nil so the
// handlers drop it.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Operation creates an operation name attribute.
func Operation(op string) slog.Attr { return slog.String(KeyOperation, op) }
