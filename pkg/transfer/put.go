package transfer

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/gabriel-vasile/mimetype"

	"github.com/marmos91/gorods/internal/logger"
	"github.com/marmos91/gorods/internal/telemetry"
	"github.com/marmos91/gorods/pkg/account"
	rodserrors "github.com/marmos91/gorods/pkg/errors"
	"github.com/marmos91/gorods/pkg/progress"
	"github.com/marmos91/gorods/pkg/session"
	"github.com/marmos91/gorods/pkg/transport"
)

// Put uploads the local file to remotePath in acct's zone.
//
// scope supplies the connection that starts and completes the upload; extra
// streams open their own. On any stream failure the upload is aborted and
// the joined stream errors are returned. listener may be nil.
func (e *Engine) Put(ctx context.Context, scope *session.Scope, acct account.Account,
	localPath, remotePath string, opts Options, listener progress.Listener) (*Result, error) {
	const op = "transfer.Put"

	if scope == nil {
		return nil, rodserrors.NewInvalidArgumentError(op, "nil scope")
	}
	if remotePath == "" {
		return nil, rodserrors.NewInvalidArgumentError(op, "empty remote path")
	}
	if err := opts.Control.check(op); err != nil {
		return nil, err
	}

	file, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", localPath, err)
	}
	defer func() { _ = file.Close() }()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", localPath, err)
	}
	if info.IsDir() {
		return nil, rodserrors.NewInvalidArgumentError(op, localPath+" is a directory")
	}
	size := info.Size()

	ctx, j, err := e.newJob(ctx, progress.Put, acct, localPath, remotePath, size, opts, listener)
	if err != nil {
		return nil, err
	}

	ranges := Plan(size, j.opts.TransferOptions)
	ctx, span := telemetry.StartTransferSpan(ctx, telemetry.SpanTransferPut, j.id, remotePath, size,
		telemetry.LocalPath(localPath),
		telemetry.Account(acct.String()),
		telemetry.Streams(len(ranges)))
	defer span.End()

	contentType := j.opts.ContentType
	if contentType == "" {
		contentType = detectContentType(file)
	}

	logger.InfoCtx(ctx, "Starting put",
		logger.KeyLocalPath, localPath,
		logger.KeyPath, remotePath,
		logger.KeyTotalBytes, size,
		logger.KeyStreams, len(ranges))

	conn, err := scope.Acquire(ctx, acct)
	if err != nil {
		return e.finish(ctx, j, len(ranges), err)
	}

	uploadID, err := conn.BeginPut(ctx, remotePath, size, transport.PutOptions{
		ContentType: contentType,
		Resource:    firstNonEmpty(j.opts.Resource, acct.DefaultResource),
		Overwrite:   j.opts.Overwrite,
	})
	if err != nil {
		return e.finish(ctx, j, len(ranges), fmt.Errorf("begin put %s: %w", remotePath, err))
	}
	logger.DebugCtx(ctx, "Upload started", logger.KeyUploadID, uploadID)

	if err := j.listener.OnStatus(j.status(progress.Started, nil)); err != nil {
		e.abort(ctx, conn, remotePath, uploadID)
		return e.finish(ctx, j, len(ranges), rodserrors.NewCallbackFaultError(op, err))
	}

	parts, err := e.runStreams(ctx, j, conn, ranges, func(ctx context.Context, c transport.Conn, r Range) (transport.Part, error) {
		buf := e.buffers.Get(j.opts.BufferSize)
		defer e.buffers.Put(buf)

		body := newProgressReader(io.NewSectionReader(file, r.Offset, r.Length), buf, j.agg, j.opts.Control)
		return c.PutRange(ctx, transport.PutRangeRequest{
			Path:     remotePath,
			UploadID: uploadID,
			Index:    r.Index,
			Offset:   r.Offset,
			Length:   r.Length,
			Body:     body,
		})
	})
	if err != nil {
		e.abort(ctx, conn, remotePath, uploadID)
		return e.finish(ctx, j, len(ranges), err)
	}

	if err := conn.CompletePut(ctx, remotePath, uploadID, parts); err != nil {
		e.abort(ctx, conn, remotePath, uploadID)
		return e.finish(ctx, j, len(ranges), fmt.Errorf("complete put %s: %w", remotePath, err))
	}

	res, err := e.finish(ctx, j, len(ranges), nil)
	if res != nil {
		res.ContentType = contentType
		res.Parts = parts
	}
	return res, err
}

func (e *Engine) abort(ctx context.Context, conn transport.Conn, path, uploadID string) {
	// The transfer context may already be cancelled; the abort must still run.
	if err := conn.AbortPut(context.WithoutCancel(ctx), path, uploadID); err != nil {
		logger.WarnCtx(ctx, "Failed to abort upload",
			logger.KeyPath, path,
			logger.KeyUploadID, uploadID,
			logger.KeyError, err)
	}
}

// detectContentType sniffs the head of f. It falls back to
// application/octet-stream.
func detectContentType(f *os.File) string {
	head := make([]byte, 3072)
	n, err := f.ReadAt(head, 0)
	if n == 0 && err != nil {
		return "application/octet-stream"
	}
	return mimetype.Detect(head[:n]).String()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
