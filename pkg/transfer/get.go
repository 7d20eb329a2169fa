package transfer

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/marmos91/gorods/internal/logger"
	"github.com/marmos91/gorods/internal/telemetry"
	"github.com/marmos91/gorods/pkg/account"
	rodserrors "github.com/marmos91/gorods/pkg/errors"
	"github.com/marmos91/gorods/pkg/progress"
	"github.com/marmos91/gorods/pkg/session"
	"github.com/marmos91/gorods/pkg/transport"
)

// Get downloads remotePath from acct's zone into localPath. An existing
// local file is replaced only when Overwrite is set. On failure the partial
// local file is removed. listener may be nil.
func (e *Engine) Get(ctx context.Context, scope *session.Scope, acct account.Account,
	remotePath, localPath string, opts Options, listener progress.Listener) (*Result, error) {
	const op = "transfer.Get"

	if scope == nil {
		return nil, rodserrors.NewInvalidArgumentError(op, "nil scope")
	}
	if localPath == "" {
		return nil, rodserrors.NewInvalidArgumentError(op, "empty local path")
	}
	if err := opts.Control.check(op); err != nil {
		return nil, err
	}

	ctx, j, err := e.newJob(ctx, progress.Get, acct, localPath, remotePath, 0, opts, listener)
	if err != nil {
		return nil, err
	}

	conn, err := scope.Acquire(ctx, acct)
	if err != nil {
		return e.finish(ctx, j, 0, err)
	}

	info, err := conn.Stat(ctx, remotePath)
	if err != nil {
		return e.finish(ctx, j, 0, err)
	}
	size := info.Size
	if err := e.resize(j, size); err != nil {
		return e.finish(ctx, j, 0, err)
	}

	ranges := Plan(size, j.opts.TransferOptions)
	ctx, span := telemetry.StartTransferSpan(ctx, telemetry.SpanTransferGet, j.id, remotePath, size,
		telemetry.LocalPath(localPath),
		telemetry.Account(acct.String()),
		telemetry.Streams(len(ranges)))
	defer span.End()

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if !j.opts.Overwrite {
		flags |= os.O_EXCL
	}
	file, err := os.OpenFile(localPath, flags, 0o644)
	if err != nil {
		return e.finish(ctx, j, len(ranges), fmt.Errorf("create %s: %w", localPath, err))
	}

	fail := func(err error) (*Result, error) {
		_ = file.Close()
		if rerr := os.Remove(localPath); rerr != nil && !os.IsNotExist(rerr) {
			logger.WarnCtx(ctx, "Failed to remove partial download", logger.KeyLocalPath, localPath, logger.KeyError, rerr)
		}
		return e.finish(ctx, j, len(ranges), err)
	}

	if err := file.Truncate(size); err != nil {
		return fail(fmt.Errorf("preallocate %s: %w", localPath, err))
	}

	logger.InfoCtx(ctx, "Starting get",
		logger.KeyPath, remotePath,
		logger.KeyLocalPath, localPath,
		logger.KeyTotalBytes, size,
		logger.KeyStreams, len(ranges))

	if err := j.listener.OnStatus(j.status(progress.Started, nil)); err != nil {
		return fail(rodserrors.NewCallbackFaultError(op, err))
	}

	parts, err := e.runStreams(ctx, j, conn, ranges, func(ctx context.Context, c transport.Conn, r Range) (transport.Part, error) {
		w := newProgressWriter(io.NewOffsetWriter(file, r.Offset), j.opts.BufferSize, j.agg, j.opts.Control)
		n, err := c.GetRange(ctx, remotePath, r.Offset, r.Length, w)
		if err != nil {
			return transport.Part{}, err
		}
		if n != r.Length {
			return transport.Part{}, fmt.Errorf("short read: got %d of %d bytes: %w", n, r.Length, io.ErrUnexpectedEOF)
		}
		return transport.Part{Index: r.Index, Offset: r.Offset, Length: n}, nil
	})
	if err != nil {
		return fail(err)
	}

	if err := file.Sync(); err != nil {
		return fail(fmt.Errorf("sync %s: %w", localPath, err))
	}
	if err := file.Close(); err != nil {
		return e.finish(ctx, j, len(ranges), fmt.Errorf("close %s: %w", localPath, err))
	}

	res, err := e.finish(ctx, j, len(ranges), nil)
	if res != nil {
		res.ContentType = info.ContentType
		res.Parts = parts
	}
	return res, err
}
