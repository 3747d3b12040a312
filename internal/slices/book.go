// Package slices implements fixed-fraction capital allocation.
//
// Equity is divided into SlicesTotal equal slices; entries reserve a whole
// number of slices and a full exit frees them all at once.
package slices

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

// ErrNoSlices is returned when a book is created with no slices.
var ErrNoSlices = errors.New("slices: total must be positive")

// Book tracks how many slices of one symbol's equity are committed.
// It is owned by the symbol's processing goroutine; the lock only makes
// concurrent reads from status and metrics code safe.
type Book struct {
	mu     sync.RWMutex
	equity float64
	total  int
	inUse  int
}

// New creates a Book with the given starting equity and slice count.
func New(equity float64, total int) (*Book, error) {
	if total <= 0 {
		return nil, ErrNoSlices
	}
	if equity < 0 || math.IsNaN(equity) {
		return nil, fmt.Errorf("slices: invalid equity %v", equity)
	}
	return &Book{equity: equity, total: total}, nil
}

// SliceValue is floor(equity / total).
func (b *Book) SliceValue() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sliceValue()
}

func (b *Book) sliceValue() float64 {
	return math.Floor(b.equity / float64(b.total))
}

// CanAdd reports whether n more slices fit.
func (b *Book) CanAdd(n int) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.inUse+n <= b.total
}

// Reserve commits n slices and returns their notional value.
// When n slices do not fit it returns 0 and leaves the book unchanged.
func (b *Book) Reserve(n int) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inUse+n > b.total {
		return 0
	}
	b.inUse += n
	return b.sliceValue() * float64(n)
}

// Unreserve rolls back n slices reserved earlier in the same decision.
func (b *Book) Unreserve(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inUse -= n
	if b.inUse < 0 {
		b.inUse = 0
	}
}

// FreeAll releases every slice.
func (b *Book) FreeAll() {
	b.mu.Lock()
	b.inUse = 0
	b.mu.Unlock()
}

// SetEquity replaces the equity used to size future slices.
func (b *Book) SetEquity(equity float64) {
	b.mu.Lock()
	b.equity = equity
	b.mu.Unlock()
}

func (b *Book) Equity() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.equity
}

func (b *Book) InUse() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.inUse
}

func (b *Book) Total() int { return b.total }
