package transfer

import (
	"errors"
	"io"

	"github.com/marmos91/gorods/pkg/progress"
)

// progressReader feeds a put stream. It fills one buffer at a time from src
// and reports every filled buffer to the aggregator as one notification.
type progressReader struct {
	src     io.Reader
	buf     []byte
	pending []byte
	agg     *progress.Aggregator
	ctrl    *Control
	err     error
	read    int64
}

func newProgressReader(src io.Reader, buf []byte, agg *progress.Aggregator, ctrl *Control) *progressReader {
	return &progressReader{src: src, buf: buf, agg: agg, ctrl: ctrl}
}

func (r *progressReader) Read(p []byte) (int, error) {
	if len(r.pending) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		if err := r.ctrl.check("transfer.put"); err != nil {
			r.err = err
			return 0, err
		}

		n, err := io.ReadFull(r.src, r.buf)
		if n > 0 {
			r.pending = r.buf[:n]
			r.read += int64(n)
			if perr := r.agg.OnProgress(int64(n)); perr != nil {
				r.err = perr
				r.pending = nil
				return 0, perr
			}
		}
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				err = io.EOF
			}
			r.err = err
		}
		if n == 0 {
			return 0, r.err
		}
	}

	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

// progressWriter receives a get stream. Writes are split into chunks of at
// most chunk bytes; each chunk written is one notification.
type progressWriter struct {
	dst     io.Writer
	chunk   int
	agg     *progress.Aggregator
	ctrl    *Control
	written int64
}

func newProgressWriter(dst io.Writer, chunk int, agg *progress.Aggregator, ctrl *Control) *progressWriter {
	return &progressWriter{dst: dst, chunk: max(chunk, 1), agg: agg, ctrl: ctrl}
}

func (w *progressWriter) Write(p []byte) (int, error) {
	var total int
	for len(p) > 0 {
		if err := w.ctrl.check("transfer.get"); err != nil {
			return total, err
		}

		n := min(len(p), w.chunk)
		written, err := w.dst.Write(p[:n])
		total += written
		w.written += int64(written)
		if written > 0 {
			if perr := w.agg.OnProgress(int64(written)); perr != nil {
				return total, perr
			}
		}
		if err != nil {
			return total, err
		}
		p = p[n:]
	}
	return total, nil
}
