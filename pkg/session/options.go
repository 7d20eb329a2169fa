package session

import "github.com/marmos91/gorods/internal/bytesize"

// TransferMode selects whether a file may be split into parallel streams.
type TransferMode int

const (
	// ModeStandard allows parallel streams for files above the threshold.
	ModeStandard TransferMode = iota
	// ModeNoParallel always uses a single stream.
	ModeNoParallel
)

func (m TransferMode) String() string {
	if m == ModeNoParallel {
		return "no_parallel"
	}
	return "standard"
}

// TransferOptions tune a single transfer. Callers usually start from
// Manager.TransferOptions and adjust individual fields.
type TransferOptions struct {
	MaxThreads         int
	Mode               TransferMode
	PartSize           int64
	ParallelThreshold  int64
	BufferSize         int
	IntraFileThreshold int
	Overwrite          bool
	Resource           string
}

// TransferOptions builds per-transfer defaults from the current properties.
func (m *Manager) TransferOptions() TransferOptions {
	p := m.Properties()
	p.ApplyDefaults()

	mode := ModeNoParallel
	if p.UseParallelTransfer {
		mode = ModeStandard
	}

	return TransferOptions{
		MaxThreads:         p.MaxParallelThreads,
		Mode:               mode,
		PartSize:           p.PartSize.Int64(),
		ParallelThreshold:  p.ParallelThreshold.Int64(),
		BufferSize:         int(p.CopyBufferSize.Int64()),
		IntraFileThreshold: p.ThrottleMessageThreshold,
	}
}

// WithDefaults fills unset fields from DefaultProperties.
func (o TransferOptions) WithDefaults() TransferOptions {
	d := DefaultProperties()
	if o.MaxThreads <= 0 {
		o.MaxThreads = 1
	}
	if o.PartSize <= 0 {
		o.PartSize = d.PartSize.Int64()
	}
	if o.ParallelThreshold <= 0 {
		o.ParallelThreshold = d.ParallelThreshold.Int64()
	}
	if o.BufferSize <= 0 {
		o.BufferSize = int(64 * bytesize.KiB)
	}
	if o.IntraFileThreshold <= 0 {
		o.IntraFileThreshold = d.ThrottleMessageThreshold
	}
	return o
}
