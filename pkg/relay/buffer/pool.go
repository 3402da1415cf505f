// Package buffer provides the pooled byte-buffer allocator the rest of
// relay builds on: request/response/chunk/header buffers are all
// acquired from and released to a Pool rather than allocated directly.
package buffer

import (
	"sync"
	"sync/atomic"
)

// Size classes a Pool rounds requests up to. Sizes below Class2KB are
// served from Class2KB; requests above ClassMax fall back to a direct
// allocation that is never pooled.
const (
	Class2KB  = 2 * 1024
	Class4KB  = 4 * 1024
	Class8KB  = 8 * 1024
	Class16KB = 16 * 1024
	Class32KB = 32 * 1024
	Class64KB = 64 * 1024
	ClassMax  = Class64KB
)

var classSizes = [...]int{Class2KB, Class4KB, Class8KB, Class16KB, Class32KB, Class64KB}

// Pool is a thread-safe, size-classed byte-buffer pool. Buffers
// acquired from a Pool are owned by the caller until Release is called;
// Pool never tracks outstanding buffers itself (callers, e.g.
// httpconn.Connection, own that accounting via content-view refcounts).
type Pool struct {
	classes [len(classSizes)]sizedPool
}

type sizedPool struct {
	size int
	pool sync.Pool

	gets   atomic.Uint64
	puts   atomic.Uint64
	hits   atomic.Uint64
	misses atomic.Uint64
}

// New creates a Pool with the standard size classes.
func New() *Pool {
	p := &Pool{}
	for i, size := range classSizes {
		sz := size
		p.classes[i].size = sz
		p.classes[i].pool.New = func() interface{} {
			p.classes[i].misses.Add(1)
			buf := make([]byte, sz)
			return &buf
		}
	}
	return p
}

func classFor(n int) int {
	for i, sz := range classSizes {
		if n <= sz {
			return i
		}
	}
	return -1
}

// Acquire returns a buffer with capacity at least n, sliced to length n.
// Buffers above ClassMax are allocated directly and are not returned to
// the pool by Release (Release silently drops them).
func (p *Pool) Acquire(n int) []byte {
	idx := classFor(n)
	if idx < 0 {
		return make([]byte, n)
	}
	c := &p.classes[idx]
	c.gets.Add(1)
	bufp := c.pool.Get().(*[]byte)
	if bufp != nil {
		c.hits.Add(1)
	}
	buf := (*bufp)[:cap(*bufp)]
	return buf[:n]
}

// Release returns a buffer previously obtained from Acquire. The slice
// length is ignored; only its capacity determines the size class.
func (p *Pool) Release(buf []byte) {
	idx := classFor(cap(buf))
	if idx < 0 {
		return
	}
	c := &p.classes[idx]
	c.puts.Add(1)
	full := buf[:cap(buf)]
	c.pool.Put(&full)
}

// ClassMetrics reports counters for a single size class.
type ClassMetrics struct {
	Size           int
	Gets, Puts     uint64
	Hits, Misses   uint64
}

// Metrics snapshots counters across all size classes. Used by
// connector.Stats and, behind the prometheus build tag, exported as
// Prometheus gauges.
func (p *Pool) Metrics() []ClassMetrics {
	out := make([]ClassMetrics, len(p.classes))
	for i := range p.classes {
		c := &p.classes[i]
		out[i] = ClassMetrics{
			Size:   c.size,
			Gets:   c.gets.Load(),
			Puts:   c.puts.Load(),
			Hits:   c.hits.Load(),
			Misses: c.misses.Load(),
		}
	}
	return out
}
