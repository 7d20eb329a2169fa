// Package fs provides a filesystem-backed zone. Object paths map onto a
// directory tree under a root; a multi-stream upload writes its ranges into a
// sibling .part file that is renamed into place when the upload completes.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/marmos91/gorods/internal/logger"
	"github.com/marmos91/gorods/pkg/account"
	"github.com/marmos91/gorods/pkg/bufpool"
	rodserrors "github.com/marmos91/gorods/pkg/errors"
	"github.com/marmos91/gorods/pkg/transport"
)

// Config holds configuration for a filesystem zone.
type Config struct {
	// Root is the directory object paths are resolved against.
	Root string

	// CreateDir creates Root if it doesn't exist.
	// Default: true
	CreateDir bool

	// DirMode is the permission mode for created directories.
	// Default: 0755
	DirMode os.FileMode

	// FileMode is the permission mode for created files.
	// Default: 0644
	FileMode os.FileMode
}

// DefaultConfig returns the default configuration for root.
func DefaultConfig(root string) Config {
	return Config{
		Root:      root,
		CreateDir: true,
		DirMode:   0o755,
		FileMode:  0o644,
	}
}

type upload struct {
	path     string
	target   string
	partPath string
	size     int64
}

// Zone is a directory-backed zone. Zone implements transport.Supplier.
type Zone struct {
	root     string
	dirMode  os.FileMode
	fileMode os.FileMode

	mu      sync.Mutex
	uploads map[string]*upload

	open atomic.Int64
}

// New creates a filesystem zone with the given configuration.
func New(cfg Config) (*Zone, error) {
	if cfg.Root == "" {
		return nil, rodserrors.NewConfigurationError("fs.New", "root is required")
	}
	if cfg.DirMode == 0 {
		cfg.DirMode = 0o755
	}
	if cfg.FileMode == 0 {
		cfg.FileMode = 0o644
	}

	if cfg.CreateDir {
		if err := os.MkdirAll(cfg.Root, cfg.DirMode); err != nil {
			return nil, fmt.Errorf("create zone root: %w", err)
		}
	}

	info, err := os.Stat(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("stat zone root: %w", err)
	}
	if !info.IsDir() {
		return nil, rodserrors.NewConfigurationError("fs.New", cfg.Root+" is not a directory")
	}

	return &Zone{
		root:     cfg.Root,
		dirMode:  cfg.DirMode,
		fileMode: cfg.FileMode,
		uploads:  make(map[string]*upload),
	}, nil
}

// NewWithRoot creates a filesystem zone with the default configuration.
func NewWithRoot(root string) (*Zone, error) {
	return New(DefaultConfig(root))
}

// Root returns the zone's root directory.
func (z *Zone) Root() string {
	return z.root
}

// OpenConns returns the number of connections not yet closed.
func (z *Zone) OpenConns() int64 {
	return z.open.Load()
}

// PendingUploads returns the number of uploads neither completed nor aborted.
func (z *Zone) PendingUploads() int {
	z.mu.Lock()
	defer z.mu.Unlock()
	return len(z.uploads)
}

// Connect opens a new connection to the zone.
func (z *Zone) Connect(ctx context.Context, acct account.Account) (transport.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	z.open.Add(1)
	c := &conn{id: uuid.NewString(), acct: acct, zone: z}
	logger.DebugCtx(ctx, "fs connection opened",
		logger.KeyConnectionID, c.id, logger.KeyBackend, "fs", logger.KeyAccount, acct.String())
	return c, nil
}

// resolve maps an absolute object path onto the filesystem. The path is
// cleaned first so ".." can never leave the root.
func (z *Zone) resolve(op, objPath string) (string, error) {
	if !strings.HasPrefix(objPath, "/") {
		return "", rodserrors.NewInvalidArgumentError(op, fmt.Sprintf("path %q is not absolute", objPath))
	}
	clean := path.Clean(objPath)
	if clean == "/" {
		return "", rodserrors.NewInvalidArgumentError(op, "path names the zone root")
	}
	return filepath.Join(z.root, filepath.FromSlash(clean)), nil
}

func (z *Zone) lookup(op, objPath, uploadID string) (*upload, error) {
	z.mu.Lock()
	defer z.mu.Unlock()

	up, ok := z.uploads[uploadID]
	if !ok || up.path != objPath {
		return nil, rodserrors.NewNotFoundError(op, "upload "+uploadID)
	}
	return up, nil
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

func (c *conn) Stat(ctx context.Context, objPath string) (transport.ObjectInfo, error) {
	const op = "fs.Stat"
	if c.closed {
		return transport.ObjectInfo{}, rodserrors.NewClosedError(op)
	}

	target, err := c.zone.resolve(op, objPath)
	if err != nil {
		return transport.ObjectInfo{}, err
	}

	info, err := os.Stat(target)
	if errors.Is(err, iofs.ErrNotExist) {
		return transport.ObjectInfo{}, rodserrors.NewNotFoundError(op, objPath)
	}
	if err != nil {
		return transport.ObjectInfo{}, err
	}
	if info.IsDir() {
		return transport.ObjectInfo{}, rodserrors.NewInvalidArgumentError(op, objPath+" is a collection")
	}

	// Content type is not persisted; sniff it from the stored bytes.
	contentType := ""
	if info.Size() > 0 {
		if mt, err := mimetype.DetectFile(target); err == nil {
			contentType = mt.String()
		}
	}

	return transport.ObjectInfo{
		Path:        objPath,
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		ContentType: contentType,
		Resource:    c.acct.DefaultResource,
	}, nil
}

func (c *conn) BeginPut(ctx context.Context, objPath string, size int64, opts transport.PutOptions) (string, error) {
	const op = "fs.BeginPut"
	if c.closed {
		return "", rodserrors.NewClosedError(op)
	}
	if size < 0 {
		return "", rodserrors.NewInvalidArgumentError(op, fmt.Sprintf("negative size %d", size))
	}

	target, err := c.zone.resolve(op, objPath)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(target); err == nil && !opts.Overwrite {
		return "", rodserrors.NewInvalidArgumentError(op, fmt.Sprintf("%s already exists", objPath))
	}

	if err := os.MkdirAll(filepath.Dir(target), c.zone.dirMode); err != nil {
		return "", fmt.Errorf("create collection: %w", err)
	}

	id := uuid.NewString()
	partPath := fmt.Sprintf("%s.%s.part", target, id[:8])

	f, err := os.OpenFile(partPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, c.zone.fileMode)
	if err != nil {
		return "", fmt.Errorf("create part file: %w", err)
	}
	// Preallocate so ranges can land in any order.
	if err := f.Truncate(size); err != nil {
		_ = f.Close()
		_ = os.Remove(partPath)
		return "", fmt.Errorf("size part file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(partPath)
		return "", err
	}

	c.zone.mu.Lock()
	c.zone.uploads[id] = &upload{path: objPath, target: target, partPath: partPath, size: size}
	c.zone.mu.Unlock()

	logger.DebugCtx(ctx, "fs upload started", logger.KeyPath, objPath, logger.KeyUploadID, id, logger.KeyTotalBytes, size)
	return id, nil
}

func (c *conn) PutRange(ctx context.Context, req transport.PutRangeRequest) (transport.Part, error) {
	const op = "fs.PutRange"
	if c.closed {
		return transport.Part{}, rodserrors.NewClosedError(op)
	}

	up, err := c.zone.lookup(op, req.Path, req.UploadID)
	if err != nil {
		return transport.Part{}, err
	}
	if req.Offset < 0 || req.Length < 0 || req.Offset+req.Length > up.size {
		return transport.Part{}, rodserrors.NewInvalidArgumentError(op,
			fmt.Sprintf("range [%d, %d) outside object of %d bytes", req.Offset, req.Offset+req.Length, up.size))
	}

	f, err := os.OpenFile(up.partPath, os.O_WRONLY, 0)
	if err != nil {
		return transport.Part{}, fmt.Errorf("open part file: %w", err)
	}
	defer f.Close()

	buf := bufpool.Get(bufpool.DefaultSmallSize)
	defer bufpool.Put(buf)

	w := io.NewOffsetWriter(f, req.Offset)
	n, err := io.CopyBuffer(w, io.LimitReader(req.Body, req.Length), buf)
	if err != nil {
		return transport.Part{}, fmt.Errorf("write range %d: %w", req.Index, err)
	}
	if n != req.Length {
		return transport.Part{}, fmt.Errorf("write range %d: %w", req.Index, io.ErrUnexpectedEOF)
	}
	if err := f.Sync(); err != nil {
		return transport.Part{}, err
	}

	return transport.Part{
		Index:  req.Index,
		Offset: req.Offset,
		Length: req.Length,
		ETag:   fmt.Sprintf("%s-%d", req.UploadID[:8], req.Index),
	}, nil
}

func (c *conn) CompletePut(ctx context.Context, objPath, uploadID string, parts []transport.Part) error {
	const op = "fs.CompletePut"
	if c.closed {
		return rodserrors.NewClosedError(op)
	}

	up, err := c.zone.lookup(op, objPath, uploadID)
	if err != nil {
		return err
	}
	if err := transport.CheckParts(op, parts, up.size); err != nil {
		return err
	}

	if err := os.Rename(up.partPath, up.target); err != nil {
		return fmt.Errorf("publish object: %w", err)
	}

	c.zone.mu.Lock()
	delete(c.zone.uploads, uploadID)
	c.zone.mu.Unlock()
	return nil
}

func (c *conn) AbortPut(ctx context.Context, objPath, uploadID string) error {
	const op = "fs.AbortPut"
	if c.closed {
		return rodserrors.NewClosedError(op)
	}

	c.zone.mu.Lock()
	up, ok := c.zone.uploads[uploadID]
	delete(c.zone.uploads, uploadID)
	c.zone.mu.Unlock()

	if !ok {
		return nil
	}
	if err := os.Remove(up.partPath); err != nil && !errors.Is(err, iofs.ErrNotExist) {
		return fmt.Errorf("remove part file: %w", err)
	}
	return nil
}

func (c *conn) GetRange(ctx context.Context, objPath string, offset, length int64, w io.Writer) (int64, error) {
	const op = "fs.GetRange"
	if c.closed {
		return 0, rodserrors.NewClosedError(op)
	}

	target, err := c.zone.resolve(op, objPath)
	if err != nil {
		return 0, err
	}

	f, err := os.Open(target)
	if errors.Is(err, iofs.ErrNotExist) {
		return 0, rodserrors.NewNotFoundError(op, objPath)
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	size := info.Size()
	if offset < 0 || offset > size {
		return 0, rodserrors.NewInvalidArgumentError(op,
			fmt.Sprintf("offset %d outside object of %d bytes", offset, size))
	}

	buf := bufpool.Get(bufpool.DefaultSmallSize)
	defer bufpool.Put(buf)

	return io.CopyBuffer(w, io.NewSectionReader(f, offset, min(length, size-offset)), buf)
}

// Ensure Zone implements transport.Supplier.
var _ transport.Supplier = (*Zone)(nil)
