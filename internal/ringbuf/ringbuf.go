// Package ringbuf is the per-symbol tick inbox of the strategy engine.
//
// The dispatcher goroutine is the only writer and the symbol's worker the only
// reader, so the two cursors need atomics but no locks. A full inbox rejects
// the new tick; queued ticks are never overwritten, which keeps a symbol's
// stream gap-free up to the point of the first rejection.
package ringbuf

import (
	"math/bits"
	"sync/atomic"

	"kdtrader/internal/model"
)

// cursor sits on its own cache line so the writer and reader do not contend.
type cursor struct {
	pos atomic.Uint64
	_   [56]byte
}

// Ring holds up to Cap() ticks in arrival order.
type Ring struct {
	slots []model.Tick
	mask  uint64

	write cursor // next slot the dispatcher fills
	read  cursor // next slot the worker takes

	rejected atomic.Uint64
}

// New returns an inbox holding at least capacity ticks (rounded up to a power
// of two, minimum 2).
func New(capacity int) *Ring {
	n := max(nextPow2(capacity), 2)
	return &Ring{slots: make([]model.Tick, n), mask: uint64(n - 1)}
}

// Push queues t. It reports false, and counts a rejection, when the inbox is
// full. Writer side only.
func (r *Ring) Push(t model.Tick) bool {
	w := r.write.pos.Load()
	if w-r.read.pos.Load() == uint64(len(r.slots)) {
		r.rejected.Add(1)
		return false
	}
	r.slots[w&r.mask] = t
	r.write.pos.Store(w + 1)
	return true
}

// Pop takes the oldest queued tick. Reader side only.
func (r *Ring) Pop() (model.Tick, bool) {
	rd := r.read.pos.Load()
	if rd == r.write.pos.Load() {
		return model.Tick{}, false
	}
	i := rd & r.mask
	t := r.slots[i]
	r.slots[i] = model.Tick{}
	r.read.pos.Store(rd + 1)
	return t, true
}

// Len is the number of queued ticks.
func (r *Ring) Len() int { return int(r.write.pos.Load() - r.read.pos.Load()) }

func (r *Ring) Cap() int { return len(r.slots) }

// Rejected counts pushes refused because the inbox was full.
func (r *Ring) Rejected() uint64 { return r.rejected.Load() }

func nextPow2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}
