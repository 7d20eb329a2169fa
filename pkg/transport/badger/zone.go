// Package badger provides a zone stored in an embedded BadgerDB, either on
// disk or entirely in memory.
package badger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/marmos91/gorods/internal/logger"
	"github.com/marmos91/gorods/pkg/account"
	"github.com/marmos91/gorods/pkg/bufpool"
	rodserrors "github.com/marmos91/gorods/pkg/errors"
	"github.com/marmos91/gorods/pkg/transport"
)

// DefaultChunkSize is the largest value written per chunk record.
const DefaultChunkSize = 1 << 20

// Config holds configuration for a badger zone.
type Config struct {
	// Dir is the database directory. Ignored when InMemory is set.
	Dir string

	// InMemory keeps the whole zone in memory.
	InMemory bool

	// ChunkSize bounds the size of a single chunk record.
	// Default: 1MiB
	ChunkSize int
}

// Zone is a BadgerDB-backed zone. Zone implements transport.Supplier.
type Zone struct {
	db        *badgerdb.DB
	chunkSize int

	mu     sync.RWMutex
	closed bool

	open atomic.Int64
}

// New opens a badger zone.
func New(cfg Config) (*Zone, error) {
	if !cfg.InMemory && cfg.Dir == "" {
		return nil, rodserrors.NewConfigurationError("badger.New", "dir is required unless in_memory is set")
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}

	opts := badgerdb.DefaultOptions(cfg.Dir)
	if cfg.InMemory {
		opts = badgerdb.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(nil)

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger zone: %w", err)
	}

	return &Zone{db: db, chunkSize: cfg.ChunkSize}, nil
}

// NewInMemory opens an in-memory badger zone.
func NewInMemory() (*Zone, error) {
	return New(Config{InMemory: true})
}

// Close closes the database. Connections opened before Close fail afterwards.
func (z *Zone) Close() error {
	z.mu.Lock()
	defer z.mu.Unlock()

	if z.closed {
		return nil
	}
	z.closed = true
	return z.db.Close()
}

// OpenConns returns the number of connections not yet closed.
func (z *Zone) OpenConns() int64 {
	return z.open.Load()
}

// PendingUploads returns the number of uploads neither completed nor aborted.
func (z *Zone) PendingUploads() (int, error) {
	n := 0
	err := z.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefixUpload)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Connect opens a new connection to the zone.
func (z *Zone) Connect(ctx context.Context, acct account.Account) (transport.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	z.mu.RLock()
	closed := z.closed
	z.mu.RUnlock()
	if closed {
		return nil, rodserrors.NewClosedError("badger.Connect")
	}

	z.open.Add(1)
	c := &conn{id: uuid.NewString(), acct: acct, zone: z}
	logger.DebugCtx(ctx, "badger connection opened",
		logger.KeyConnectionID, c.id, logger.KeyBackend, "badger", logger.KeyAccount, acct.String())
	return c, nil
}

func (z *Zone) getManifest(txn *badgerdb.Txn, path string) (*manifest, error) {
	item, err := txn.Get(keyObject(path))
	if err != nil {
		return nil, err
	}
	var m *manifest
	err = item.Value(func(val []byte) error {
		m, err = decode[manifest](val)
		return err
	})
	return m, err
}

func (z *Zone) getUpload(op, path, uploadID string) (*uploadRecord, error) {
	var up *uploadRecord
	err := z.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(keyUpload(uploadID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			up, err = decode[uploadRecord](val)
			return err
		})
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) || (err == nil && up.Path != path) {
		return nil, rodserrors.NewNotFoundError(op, "upload "+uploadID)
	}
	return up, err
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
	const op = "badger.Stat"
	if c.closed {
		return transport.ObjectInfo{}, rodserrors.NewClosedError(op)
	}

	var m *manifest
	err := c.zone.db.View(func(txn *badgerdb.Txn) error {
		var err error
		m, err = c.zone.getManifest(txn, path)
		return err
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return transport.ObjectInfo{}, rodserrors.NewNotFoundError(op, path)
	}
	if err != nil {
		return transport.ObjectInfo{}, err
	}

	return transport.ObjectInfo{
		Path:        path,
		Size:        m.Size,
		ModTime:     m.ModTime,
		ContentType: m.ContentType,
		Resource:    m.Resource,
	}, nil
}

func (c *conn) BeginPut(ctx context.Context, path string, size int64, opts transport.PutOptions) (string, error) {
	const op = "badger.BeginPut"
	if c.closed {
		return "", rodserrors.NewClosedError(op)
	}
	if size < 0 {
		return "", rodserrors.NewInvalidArgumentError(op, fmt.Sprintf("negative size %d", size))
	}

	id := uuid.NewString()
	resource := opts.Resource
	if resource == "" {
		resource = c.acct.DefaultResource
	}
	record, err := encode(uploadRecord{
		Path:        path,
		Size:        size,
		ContentType: opts.ContentType,
		Resource:    resource,
		Started:     time.Now(),
	})
	if err != nil {
		return "", err
	}

	err = c.zone.db.Update(func(txn *badgerdb.Txn) error {
		if !opts.Overwrite {
			_, err := txn.Get(keyObject(path))
			if err == nil {
				return rodserrors.NewInvalidArgumentError(op, fmt.Sprintf("%s already exists", path))
			}
			if !errors.Is(err, badgerdb.ErrKeyNotFound) {
				return err
			}
		}
		return txn.Set(keyUpload(id), record)
	})
	if err != nil {
		return "", err
	}

	logger.DebugCtx(ctx, "badger upload started", logger.KeyPath, path, logger.KeyUploadID, id, logger.KeyTotalBytes, size)
	return id, nil
}

func (c *conn) PutRange(ctx context.Context, req transport.PutRangeRequest) (transport.Part, error) {
	const op = "badger.PutRange"
	if c.closed {
		return transport.Part{}, rodserrors.NewClosedError(op)
	}

	up, err := c.zone.getUpload(op, req.Path, req.UploadID)
	if err != nil {
		return transport.Part{}, err
	}
	if req.Offset < 0 || req.Length < 0 || req.Offset+req.Length > up.Size {
		return transport.Part{}, rodserrors.NewInvalidArgumentError(op,
			fmt.Sprintf("range [%d, %d) outside object of %d bytes", req.Offset, req.Offset+req.Length, up.Size))
	}

	buf := bufpool.Get(c.zone.chunkSize)
	defer bufpool.Put(buf)

	wb := c.zone.db.NewWriteBatch()
	defer wb.Cancel()

	body := io.LimitReader(req.Body, req.Length)
	off := req.Offset
	for off < req.Offset+req.Length {
		if err := ctx.Err(); err != nil {
			return transport.Part{}, err
		}

		n, err := io.ReadFull(body, buf[:min(int64(len(buf)), req.Offset+req.Length-off)])
		if err != nil {
			return transport.Part{}, fmt.Errorf("read range %d: %w", req.Index, err)
		}
		// The batch keeps the value until Flush; buf is reused.
		if err := wb.Set(keyChunk(req.UploadID, off), bytes.Clone(buf[:n])); err != nil {
			return transport.Part{}, err
		}
		off += int64(n)
	}
	if err := wb.Flush(); err != nil {
		return transport.Part{}, fmt.Errorf("write range %d: %w", req.Index, err)
	}

	return transport.Part{
		Index:  req.Index,
		Offset: req.Offset,
		Length: req.Length,
		ETag:   fmt.Sprintf("%s-%d", req.UploadID[:8], req.Index),
	}, nil
}

func (c *conn) CompletePut(ctx context.Context, path, uploadID string, parts []transport.Part) error {
	const op = "badger.CompletePut"
	if c.closed {
		return rodserrors.NewClosedError(op)
	}

	up, err := c.zone.getUpload(op, path, uploadID)
	if err != nil {
		return err
	}
	if err := transport.CheckParts(op, parts, up.Size); err != nil {
		return err
	}

	record, err := encode(manifest{
		UploadID:    uploadID,
		Size:        up.Size,
		ModTime:     time.Now(),
		ContentType: up.ContentType,
		Resource:    up.Resource,
		Parts:       len(parts),
	})
	if err != nil {
		return err
	}

	var replaced string
	err = c.zone.db.Update(func(txn *badgerdb.Txn) error {
		old, err := c.zone.getManifest(txn, path)
		switch {
		case err == nil:
			replaced = old.UploadID
		case !errors.Is(err, badgerdb.ErrKeyNotFound):
			return err
		}

		if err := txn.Set(keyObject(path), record); err != nil {
			return err
		}
		return txn.Delete(keyUpload(uploadID))
	})
	if err != nil {
		return err
	}

	if replaced != "" && replaced != uploadID {
		if err := c.zone.db.DropPrefix(keyChunkPrefix(replaced)); err != nil {
			logger.WarnCtx(ctx, "failed to drop replaced chunks", logger.KeyPath, path, logger.KeyError, err)
		}
	}
	return nil
}

func (c *conn) AbortPut(ctx context.Context, path, uploadID string) error {
	const op = "badger.AbortPut"
	if c.closed {
		return rodserrors.NewClosedError(op)
	}

	if err := c.zone.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete(keyUpload(uploadID))
	}); err != nil {
		return err
	}
	return c.zone.db.DropPrefix(keyChunkPrefix(uploadID))
}

func (c *conn) GetRange(ctx context.Context, path string, offset, length int64, w io.Writer) (int64, error) {
	const op = "badger.GetRange"
	if c.closed {
		return 0, rodserrors.NewClosedError(op)
	}

	var written int64
	err := c.zone.db.View(func(txn *badgerdb.Txn) error {
		m, err := c.zone.getManifest(txn, path)
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return rodserrors.NewNotFoundError(op, path)
		}
		if err != nil {
			return err
		}
		if offset < 0 || offset > m.Size {
			return rodserrors.NewInvalidArgumentError(op,
				fmt.Sprintf("offset %d outside object of %d bytes", offset, m.Size))
		}
		end := min(offset+length, m.Size)

		prefix := keyChunkPrefix(m.UploadID)
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// A chunk covering offset starts less than chunkSize bytes before it.
		seek := max(0, offset-int64(c.zone.chunkSize)+1)
		for it.Seek(keyChunk(m.UploadID, seek)); it.ValidForPrefix(prefix) && offset+written < end; it.Next() {
			item := it.Item()
			start, err := chunkOffset(item.Key(), len(prefix))
			if err != nil {
				return err
			}
			pos := offset + written
			if start+item.ValueSize() <= pos {
				continue
			}
			if start > pos {
				return fmt.Errorf("object %s is missing bytes at %d", path, pos)
			}

			err = item.Value(func(val []byte) error {
				from := pos - start
				to := min(int64(len(val)), end-start)
				n, err := w.Write(val[from:to])
				written += int64(n)
				return err
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return written, err
}

// Ensure Zone implements transport.Supplier.
var _ transport.Supplier = (*Zone)(nil)
