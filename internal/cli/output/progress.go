package output

import (
	"fmt"
	"io"
	"sync"

	"github.com/marmos91/gorods/internal/bytesize"
	"github.com/marmos91/gorods/pkg/progress"
)

// Progress prints transfer status events, one line each. It implements
// progress.Listener.
type Progress struct {
	mu    sync.Mutex
	w     io.Writer
	quiet bool
}

// NewProgress creates a Progress writing to w. A quiet Progress prints
// only failures.
func NewProgress(w io.Writer, quiet bool) *Progress {
	return &Progress{w: w, quiet: quiet}
}

// OnStatus implements progress.Listener. Write errors are returned so the
// transfer can stop when the terminal goes away.
func (p *Progress) OnStatus(s progress.Status) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.quiet && s.State != progress.Failure {
		return nil
	}

	var err error
	switch s.State {
	case progress.Started:
		_, err = fmt.Fprintf(p.w, "%s %s (%s)\n", s.Direction, s.Path, bytesize.ByteSize(max(s.TotalBytes, 0)))
	case progress.InProgress:
		_, err = fmt.Fprintf(p.w, "  %5.1f%%  %s / %s\n", s.Percent(),
			bytesize.ByteSize(s.BytesTransferred), bytesize.ByteSize(max(s.TotalBytes, 0)))
	case progress.Complete:
		_, err = fmt.Fprintf(p.w, "%s %s complete\n", s.Direction, s.Path)
	case progress.Failure:
		_, err = fmt.Fprintf(p.w, "%s %s failed: %v\n", s.Direction, s.Path, s.Err)
	}
	return err
}

var _ progress.Listener = (*Progress)(nil)
