// Package memory provides an in-process zone and connection supplier for
// testing and offline use.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/gorods/pkg/account"
	rodserrors "github.com/marmos91/gorods/pkg/errors"
	"github.com/marmos91/gorods/pkg/transport"
)

type object struct {
	data []byte
	info transport.ObjectInfo
}

type upload struct {
	path string
	size int64
	opts transport.PutOptions
	data []byte
}

// Zone is an in-memory zone shared by every connection it supplies.
// Zone implements transport.Supplier.
type Zone struct {
	mu      sync.RWMutex
	objects map[string]*object
	uploads map[string]*upload

	dialErr error
	nilConn bool

	dials atomic.Int64
	open  atomic.Int64
}

// NewZone creates an empty in-memory zone.
func NewZone() *Zone {
	return &Zone{
		objects: make(map[string]*object),
		uploads: make(map[string]*upload),
	}
}

// Connect opens a new connection to the zone.
func (z *Zone) Connect(ctx context.Context, acct account.Account) (transport.Conn, error) {
	z.dials.Add(1)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	z.mu.RLock()
	dialErr, nilConn := z.dialErr, z.nilConn
	z.mu.RUnlock()

	if dialErr != nil {
		return nil, dialErr
	}
	if nilConn {
		return nil, nil
	}

	z.open.Add(1)
	return &conn{id: uuid.NewString(), acct: acct, zone: z}, nil
}

// SetDialError makes every subsequent Connect fail with err. Pass nil to
// restore normal behavior.
func (z *Zone) SetDialError(err error) {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.dialErr = err
}

// SetNilConn makes Connect report success without returning a connection.
func (z *Zone) SetNilConn(v bool) {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.nilConn = v
}

// Dials returns the number of Connect calls (for testing).
func (z *Zone) Dials() int64 {
	return z.dials.Load()
}

// OpenConns returns the number of connections not yet closed (for testing).
func (z *Zone) OpenConns() int64 {
	return z.open.Load()
}

// PendingUploads returns the number of uploads neither completed nor aborted.
func (z *Zone) PendingUploads() int {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return len(z.uploads)
}

// Store places an object directly in the zone.
func (z *Zone) Store(path string, data []byte) {
	z.mu.Lock()
	defer z.mu.Unlock()

	copied := bytes.Clone(data)
	now := time.Now()
	z.objects[path] = &object{
		data: copied,
		info: transport.ObjectInfo{Path: path, Size: int64(len(copied)), ModTime: now},
	}
}

// Load returns a copy of an object's content.
func (z *Zone) Load(path string) ([]byte, bool) {
	z.mu.RLock()
	defer z.mu.RUnlock()

	obj, ok := z.objects[path]
	if !ok {
		return nil, false
	}
	return bytes.Clone(obj.data), true
}

// Paths lists every object path in sorted order.
func (z *Zone) Paths() []string {
	z.mu.RLock()
	defer z.mu.RUnlock()

	paths := make([]string, 0, len(z.objects))
	for p := range z.objects {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// conn is a connection to a Zone.
type conn struct {
	id     string
	acct   account.Account
	zone   *Zone
	closed bool
}

func (c *conn) ID() string               { return c.id }
func (c *conn) Account() account.Account { return c.acct }
func (c *conn) Closed() bool             { return c.closed }

func (c *conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.zone.open.Add(-1)
	return nil
}

func (c *conn) Stat(ctx context.Context, path string) (transport.ObjectInfo, error) {
	if c.closed {
		return transport.ObjectInfo{}, rodserrors.NewClosedError("memory.Stat")
	}

	c.zone.mu.RLock()
	defer c.zone.mu.RUnlock()

	obj, ok := c.zone.objects[path]
	if !ok {
		return transport.ObjectInfo{}, rodserrors.NewNotFoundError("memory.Stat", path)
	}
	return obj.info, nil
}

func (c *conn) BeginPut(ctx context.Context, path string, size int64, opts transport.PutOptions) (string, error) {
	if c.closed {
		return "", rodserrors.NewClosedError("memory.BeginPut")
	}
	if size < 0 {
		return "", rodserrors.NewInvalidArgumentError("memory.BeginPut", fmt.Sprintf("negative size %d", size))
	}

	c.zone.mu.Lock()
	defer c.zone.mu.Unlock()

	if _, exists := c.zone.objects[path]; exists && !opts.Overwrite {
		return "", rodserrors.NewInvalidArgumentError("memory.BeginPut", fmt.Sprintf("%s already exists", path))
	}

	id := uuid.NewString()
	c.zone.uploads[id] = &upload{path: path, size: size, opts: opts, data: make([]byte, size)}
	return id, nil
}

func (c *conn) PutRange(ctx context.Context, req transport.PutRangeRequest) (transport.Part, error) {
	if c.closed {
		return transport.Part{}, rodserrors.NewClosedError("memory.PutRange")
	}

	// Read outside the zone lock; the body may be slow.
	buf := make([]byte, req.Length)
	if _, err := io.ReadFull(req.Body, buf); err != nil {
		return transport.Part{}, fmt.Errorf("read range %d: %w", req.Index, err)
	}

	c.zone.mu.Lock()
	defer c.zone.mu.Unlock()

	up, ok := c.zone.uploads[req.UploadID]
	if !ok || up.path != req.Path {
		return transport.Part{}, rodserrors.NewNotFoundError("memory.PutRange", "upload "+req.UploadID)
	}
	if req.Offset < 0 || req.Offset+req.Length > up.size {
		return transport.Part{}, rodserrors.NewInvalidArgumentError("memory.PutRange",
			fmt.Sprintf("range [%d, %d) outside object of %d bytes", req.Offset, req.Offset+req.Length, up.size))
	}

	copy(up.data[req.Offset:], buf)
	return transport.Part{
		Index:  req.Index,
		Offset: req.Offset,
		Length: req.Length,
		ETag:   fmt.Sprintf("%s-%d", req.UploadID[:8], req.Index),
	}, nil
}

func (c *conn) CompletePut(ctx context.Context, path, uploadID string, parts []transport.Part) error {
	if c.closed {
		return rodserrors.NewClosedError("memory.CompletePut")
	}

	c.zone.mu.Lock()
	defer c.zone.mu.Unlock()

	up, ok := c.zone.uploads[uploadID]
	if !ok || up.path != path {
		return rodserrors.NewNotFoundError("memory.CompletePut", "upload "+uploadID)
	}
	if err := transport.CheckParts("memory.CompletePut", parts, up.size); err != nil {
		return err
	}

	now := time.Now()
	c.zone.objects[path] = &object{
		data: up.data,
		info: transport.ObjectInfo{
			Path:        path,
			Size:        up.size,
			ModTime:     now,
			ContentType: up.opts.ContentType,
			Resource:    up.opts.Resource,
		},
	}
	delete(c.zone.uploads, uploadID)
	return nil
}

func (c *conn) AbortPut(ctx context.Context, path, uploadID string) error {
	if c.closed {
		return rodserrors.NewClosedError("memory.AbortPut")
	}

	c.zone.mu.Lock()
	defer c.zone.mu.Unlock()

	delete(c.zone.uploads, uploadID)
	return nil
}

func (c *conn) GetRange(ctx context.Context, path string, offset, length int64, w io.Writer) (int64, error) {
	if c.closed {
		return 0, rodserrors.NewClosedError("memory.GetRange")
	}

	c.zone.mu.RLock()
	obj, ok := c.zone.objects[path]
	if !ok {
		c.zone.mu.RUnlock()
		return 0, rodserrors.NewNotFoundError("memory.GetRange", path)
	}
	size := int64(len(obj.data))
	if offset < 0 || offset > size {
		c.zone.mu.RUnlock()
		return 0, rodserrors.NewInvalidArgumentError("memory.GetRange",
			fmt.Sprintf("offset %d outside object of %d bytes", offset, size))
	}
	end := min(offset+length, size)
	chunk := bytes.Clone(obj.data[offset:end])
	c.zone.mu.RUnlock()

	n, err := w.Write(chunk)
	return int64(n), err
}

// Ensure Zone implements transport.Supplier.
var _ transport.Supplier = (*Zone)(nil)
