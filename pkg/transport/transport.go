// Package transport defines the connection contract the session runtime
// depends on. Implementations live in subpackages (memory, fs, s3, badger)
// and are selected by the factory package from configuration.
//
// A Conn is owned by exactly one session scope. Multi-stream transfers open
// one Conn per stream and coordinate through an upload id, so implementations
// must keep upload state at the zone level rather than inside a Conn.
package transport

import (
	"context"
	"io"
	"time"

	"github.com/marmos91/gorods/pkg/account"
)

// ObjectInfo describes a data object in a zone.
type ObjectInfo struct {
	Path        string
	Size        int64
	ModTime     time.Time
	ContentType string
	Resource    string
}

// PutOptions controls how a new data object is created.
type PutOptions struct {
	ContentType string
	Resource    string
	Overwrite   bool
}

// PutRangeRequest carries one stream's byte range of a multi-stream upload.
type PutRangeRequest struct {
	Path     string
	UploadID string
	Index    int
	Offset   int64
	Length   int64
	Body     io.Reader
}

// Part records a completed range of an upload.
type Part struct {
	Index  int
	Offset int64
	Length int64
	ETag   string
}

// Conn is a live connection to a zone on behalf of one account.
//
// Conn is not safe for concurrent use.
type Conn interface {
	// ID returns a unique identifier for logging.
	ID() string

	// Account returns the identity the connection was opened for.
	Account() account.Account

	// Stat returns object metadata or a NotFound error.
	Stat(ctx context.Context, path string) (ObjectInfo, error)

	// BeginPut starts an upload of size bytes and returns its id.
	BeginPut(ctx context.Context, path string, size int64, opts PutOptions) (string, error)

	// PutRange uploads a single range of an upload started with BeginPut.
	// Ranges of the same upload may arrive on different connections.
	PutRange(ctx context.Context, req PutRangeRequest) (Part, error)

	// CompletePut assembles the parts and publishes the object.
	CompletePut(ctx context.Context, path, uploadID string, parts []Part) error

	// AbortPut discards an unfinished upload.
	AbortPut(ctx context.Context, path, uploadID string) error

	// GetRange writes length bytes starting at offset to w.
	GetRange(ctx context.Context, path string, offset, length int64, w io.Writer) (int64, error)

	// Close releases the connection. It is idempotent.
	Close() error

	// Closed reports whether Close has been called.
	Closed() bool
}

// Supplier opens new connections. The session runtime never dials by itself.
type Supplier interface {
	Connect(ctx context.Context, acct account.Account) (Conn, error)
}

// SupplierFunc adapts a function to the Supplier interface.
type SupplierFunc func(ctx context.Context, acct account.Account) (Conn, error)

// Connect calls f(ctx, acct).
func (f SupplierFunc) Connect(ctx context.Context, acct account.Account) (Conn, error) {
	return f(ctx, acct)
}
