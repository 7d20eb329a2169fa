package transfer

import (
	"github.com/marmos91/gorods/pkg/session"
)

// Range is the byte range moved by one stream.
type Range struct {
	Index  int
	Offset int64
	Length int64
}

// End returns the offset one past the last byte of r.
func (r Range) End() int64 {
	return r.Offset + r.Length
}

// Plan splits a file of size bytes into stream ranges.
//
// A single range is used when parallel transfer is disabled, when the file
// is below ParallelThreshold, or when MaxThreads is at most one. Otherwise
// the file is cut into min(MaxThreads, ceil(size/PartSize)) contiguous
// ranges of near-equal length.
func Plan(size int64, opts session.TransferOptions) []Range {
	opts = opts.WithDefaults()

	if size <= 0 || opts.Mode == session.ModeNoParallel ||
		size < opts.ParallelThreshold || opts.MaxThreads <= 1 {
		return []Range{{Index: 0, Offset: 0, Length: max(size, 0)}}
	}

	parts := (size + opts.PartSize - 1) / opts.PartSize
	n := min(int64(opts.MaxThreads), parts)
	if n <= 1 {
		return []Range{{Index: 0, Offset: 0, Length: size}}
	}

	ranges := make([]Range, n)
	base, extra := size/n, size%n
	var off int64
	for i := range n {
		length := base
		if i < extra {
			length++
		}
		ranges[i] = Range{Index: int(i), Offset: off, Length: length}
		off += length
	}
	return ranges
}
