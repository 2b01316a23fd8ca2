// Package pool provides fixed-size, thread-safe object pools for the
// envelope headers, byte blocks and metadata records that flow through a
// stream at high rate. It exists so the hot path (one allocation per
// envelope per hop) does not pressure the garbage collector the way a
// naive make([]byte, n) per message would.
//
// Grounded on Utils/Pool (original_source) and generalized with Go's
// sync.Pool, which a C++ custom allocator has no stdlib analogue for.
package pool

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// MaxBlockSize bounds how large a single pooled byte block may be.
// Allocation requests beyond it fail rather than silently inflating the
// pool with oversized entries that would never be reused efficiently.
const MaxBlockSize = 40 * 1024

// AllocationStats is a point-in-time snapshot of a Pool's usage.
type AllocationStats struct {
	Allocations uint64
	Frees       uint64
	HighWater   uint64
	InUse       uint64
}

// Pool is a thread-safe fixed-size object pool. T is the pooled type;
// new values are produced by newFn when the pool has nothing to reuse.
type Pool[T any] struct {
	name string
	pool sync.Pool

	allocations uint64
	frees       uint64
	inUse       int64
	highWater   uint64
}

// New creates a Pool whose New function is newFn.
func New[T any](name string, newFn func() T) *Pool[T] {
	p := &Pool[T]{name: name}
	p.pool.New = func() any { return newFn() }
	return p
}

// Get returns a pooled value, allocating a new one if the pool is empty.
func (p *Pool[T]) Get() T {
	atomic.AddUint64(&p.allocations, 1)
	inUse := uint64(atomic.AddInt64(&p.inUse, 1))
	for {
		hw := atomic.LoadUint64(&p.highWater)
		if inUse <= hw || atomic.CompareAndSwapUint64(&p.highWater, hw, inUse) {
			break
		}
	}
	return p.pool.Get().(T)
}

// Put returns a value to the pool for reuse.
func (p *Pool[T]) Put(v T) {
	atomic.AddUint64(&p.frees, 1)
	atomic.AddInt64(&p.inUse, -1)
	p.pool.Put(v)
}

// Stats returns a snapshot of the pool's allocation counters.
func (p *Pool[T]) Stats() AllocationStats {
	return AllocationStats{
		Allocations: atomic.LoadUint64(&p.allocations),
		Frees:       atomic.LoadUint64(&p.frees),
		HighWater:   atomic.LoadUint64(&p.highWater),
		InUse:       uint64(atomic.LoadInt64(&p.inUse)),
	}
}

// Name returns the pool's diagnostic name (e.g. "envelope", "block").
func (p *Pool[T]) Name() string { return p.name }

// BlockPool is a Pool of []byte capped at MaxBlockSize.
type BlockPool struct {
	inner *Pool[[]byte]
}

// NewBlockPool creates a BlockPool whose Get returns slices of cap
// capacity, bounded by MaxBlockSize.
func NewBlockPool(capacity int) (*BlockPool, error) {
	if capacity > MaxBlockSize {
		return nil, fmt.Errorf("pool: requested block capacity %d exceeds max %d", capacity, MaxBlockSize)
	}
	return &BlockPool{
		inner: New("block", func() []byte { return make([]byte, 0, capacity) }),
	}, nil
}

// Get returns a zero-length slice with at least the pool's configured
// capacity.
func (b *BlockPool) Get() []byte { return b.inner.Get()[:0] }

// Put returns a slice to the pool for reuse.
func (b *BlockPool) Put(buf []byte) { b.inner.Put(buf) } //nolint:staticcheck

// Stats returns the underlying pool's allocation snapshot.
func (b *BlockPool) Stats() AllocationStats { return b.inner.Stats() }
