package session

import (
	"fmt"
	"time"

	"github.com/marmos91/gorods/internal/bytesize"
)

// Properties holds the tunables read by the session runtime. It is the
// `transfer:` section of the configuration file.
//
// Pool settings are read once, when the transfer pool is first created.
// Changing them afterwards has no effect on the existing pool.
type Properties struct {
	// MaxParallelThreads caps the number of streams of one file transfer.
	// Default: 4
	MaxParallelThreads int `mapstructure:"max_parallel_threads" validate:"gte=0" yaml:"max_parallel_threads"`

	// UseParallelTransfer enables multi-stream transfers of large files.
	// Default: true
	UseParallelTransfer bool `mapstructure:"use_parallel_transfer" yaml:"use_parallel_transfer"`

	// UseTransferThreadsPool runs streams on a shared bounded pool instead of
	// per-transfer goroutines.
	// Default: false
	UseTransferThreadsPool bool `mapstructure:"use_transfer_threads_pool" yaml:"use_transfer_threads_pool"`

	// TransferThreadCorePoolSize is the number of workers kept alive.
	// Default: 0
	TransferThreadCorePoolSize int `mapstructure:"transfer_thread_core_pool_size" validate:"gte=0" yaml:"transfer_thread_core_pool_size"`

	// TransferThreadMaxPoolSize is the worker ceiling and the queue capacity.
	// Default: 16
	TransferThreadMaxPoolSize int `mapstructure:"transfer_thread_max_pool_size" validate:"gte=0" yaml:"transfer_thread_max_pool_size"`

	// TransferThreadPoolTimeoutMillis is how long a surplus worker idles
	// before exiting.
	// Default: 60000
	TransferThreadPoolTimeoutMillis int `mapstructure:"transfer_thread_pool_timeout_millis" validate:"gte=0" yaml:"transfer_thread_pool_timeout_millis"`

	// ThrottleMessageThreshold is the number of byte-count notifications
	// folded into one progress event.
	// Default: 25
	ThrottleMessageThreshold int `mapstructure:"throttle_message_threshold" validate:"gte=0" yaml:"throttle_message_threshold"`

	// ParallelThreshold is the file size below which transfers use a single
	// stream.
	// Default: 32Mi
	ParallelThreshold bytesize.ByteSize `mapstructure:"parallel_threshold" yaml:"parallel_threshold"`

	// PartSize is the preferred byte range of one stream.
	// Default: 32Mi
	PartSize bytesize.ByteSize `mapstructure:"part_size" yaml:"part_size"`

	// CopyBufferSize is the buffer used by each stream. Each filled buffer is
	// one progress notification.
	// Default: 64Ki
	CopyBufferSize bytesize.ByteSize `mapstructure:"copy_buffer_size" yaml:"copy_buffer_size"`
}

// DefaultProperties returns the built-in defaults.
func DefaultProperties() Properties {
	return Properties{
		MaxParallelThreads:              4,
		UseParallelTransfer:             true,
		UseTransferThreadsPool:          false,
		TransferThreadCorePoolSize:      0,
		TransferThreadMaxPoolSize:       16,
		TransferThreadPoolTimeoutMillis: 60000,
		ThrottleMessageThreshold:        25,
		ParallelThreshold:               32 * bytesize.MiB,
		PartSize:                        32 * bytesize.MiB,
		CopyBufferSize:                  64 * bytesize.KiB,
	}
}

// ApplyDefaults fills zero fields that have no meaningful zero value.
func (p *Properties) ApplyDefaults() {
	d := DefaultProperties()
	if p.MaxParallelThreads == 0 {
		p.MaxParallelThreads = d.MaxParallelThreads
	}
	if p.TransferThreadMaxPoolSize == 0 {
		p.TransferThreadMaxPoolSize = d.TransferThreadMaxPoolSize
	}
	if p.TransferThreadPoolTimeoutMillis == 0 {
		p.TransferThreadPoolTimeoutMillis = d.TransferThreadPoolTimeoutMillis
	}
	if p.ThrottleMessageThreshold == 0 {
		p.ThrottleMessageThreshold = d.ThrottleMessageThreshold
	}
	if p.ParallelThreshold == 0 {
		p.ParallelThreshold = d.ParallelThreshold
	}
	if p.PartSize == 0 {
		p.PartSize = d.PartSize
	}
	if p.CopyBufferSize == 0 {
		p.CopyBufferSize = d.CopyBufferSize
	}
}

// Validate checks the cross-field constraints that struct tags cannot.
func (p Properties) Validate() error {
	if p.MaxParallelThreads < 0 {
		return fmt.Errorf("max_parallel_threads must be >= 0, got %d", p.MaxParallelThreads)
	}
	if p.TransferThreadCorePoolSize < 0 || p.TransferThreadMaxPoolSize < 0 {
		return fmt.Errorf("pool sizes must be >= 0")
	}
	if p.UseTransferThreadsPool && p.TransferThreadMaxPoolSize < 1 {
		return fmt.Errorf("transfer_thread_max_pool_size must be >= 1 when the pool is enabled")
	}
	if p.TransferThreadCorePoolSize > p.TransferThreadMaxPoolSize {
		return fmt.Errorf("transfer_thread_core_pool_size (%d) exceeds transfer_thread_max_pool_size (%d)",
			p.TransferThreadCorePoolSize, p.TransferThreadMaxPoolSize)
	}
	if p.TransferThreadPoolTimeoutMillis < 0 {
		return fmt.Errorf("transfer_thread_pool_timeout_millis must be >= 0")
	}
	if p.ThrottleMessageThreshold < 0 {
		return fmt.Errorf("throttle_message_threshold must be >= 0")
	}
	return nil
}

// PoolIdleTimeout returns TransferThreadPoolTimeoutMillis as a duration.
func (p Properties) PoolIdleTimeout() time.Duration {
	return time.Duration(p.TransferThreadPoolTimeoutMillis) * time.Millisecond
}
