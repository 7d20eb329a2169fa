// Package bufpool provides reusable copy buffers for transfer streams.
//
// Every running stream holds one buffer for its whole lifetime, so a busy
// client with a large transfer pool would otherwise allocate and discard
// many megabytes per file. Buffers are grouped into three size classes:
//
//   - Small (default 64KiB): the default copy buffer
//   - Medium (default 1MiB): tuned copy buffers for fast links
//   - Large (default 8MiB): very large copy buffers
//
// Requests above the large class are allocated directly and never pooled.
//
//	buf := bufpool.Get(size)
//	defer bufpool.Put(buf)
package bufpool

import (
	"sync"
	"sync/atomic"
)

// Default size classes.
const (
	DefaultSmallSize  = 64 << 10
	DefaultMediumSize = 1 << 20
	DefaultLargeSize  = 8 << 20
)

// Config holds the size classes of a Pool. Zero fields take the defaults.
type Config struct {
	SmallSize  int
	MediumSize int
	LargeSize  int
}

// DefaultConfig returns the default size classes.
func DefaultConfig() Config {
	return Config{
		SmallSize:  DefaultSmallSize,
		MediumSize: DefaultMediumSize,
		LargeSize:  DefaultLargeSize,
	}
}

type class struct {
	size int
	pool sync.Pool
}

func newClass(size int) *class {
	c := &class{size: size}
	c.pool.New = func() any {
		buf := make([]byte, c.size)
		return &buf
	}
	return c
}

// Pool is a set of size-classed buffer pools. It is safe for concurrent use.
type Pool struct {
	classes [3]*class

	gets      atomic.Uint64
	oversized atomic.Uint64
}

// NewPool creates a pool. A nil cfg uses DefaultConfig.
func NewPool(cfg *Config) *Pool {
	c := DefaultConfig()
	if cfg != nil {
		if cfg.SmallSize > 0 {
			c.SmallSize = cfg.SmallSize
		}
		if cfg.MediumSize > 0 {
			c.MediumSize = cfg.MediumSize
		}
		if cfg.LargeSize > 0 {
			c.LargeSize = cfg.LargeSize
		}
	}

	return &Pool{classes: [3]*class{
		newClass(c.SmallSize),
		newClass(c.MediumSize),
		newClass(c.LargeSize),
	}}
}

// Get returns a slice of length size backed by a pooled buffer when one of
// the size classes fits. Return it with Put.
func (p *Pool) Get(size int) []byte {
	p.gets.Add(1)
	for _, c := range p.classes {
		if size <= c.size {
			buf := *c.pool.Get().(*[]byte)
			return buf[:size]
		}
	}
	p.oversized.Add(1)
	return make([]byte, size)
}

// Put returns buf to its size class. Buffers whose capacity matches no class
// are left to the garbage collector.
func (p *Pool) Put(buf []byte) {
	if buf == nil {
		return
	}
	for _, c := range p.classes {
		if cap(buf) == c.size {
			full := buf[:c.size]
			c.pool.Put(&full)
			return
		}
	}
}

// Stats reports how many buffers were requested and how many of those were
// too large to pool.
type Stats struct {
	Gets      uint64
	Oversized uint64
}

// Stats returns the pool counters.
func (p *Pool) Stats() Stats {
	return Stats{Gets: p.gets.Load(), Oversized: p.oversized.Load()}
}

var global = NewPool(nil)

// Get returns a buffer of length size from the package pool.
func Get(size int) []byte {
	return global.Get(size)
}

// Put returns a buffer to the package pool.
func Put(buf []byte) {
	global.Put(buf)
}
