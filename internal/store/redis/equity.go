package redis

import (
	"context"
	"log"
	"math"
	"sync/atomic"
	"time"
)

type equityReader interface {
	ReadEquity(ctx context.Context) (float64, error)
}

// EquityCache serves the latest known equity from memory and refreshes it
// from Redis in the background, so traders never wait on the network.
type EquityCache struct {
	src  equityReader
	cb   *CircuitBreaker
	bits atomic.Uint64
}

// NewEquityCache starts from fallback until the first successful refresh.
// cb may be nil.
func NewEquityCache(src equityReader, cb *CircuitBreaker, fallback float64) *EquityCache {
	c := &EquityCache{src: src, cb: cb}
	c.bits.Store(math.Float64bits(fallback))
	return c
}

// Equity returns the cached equity.
func (c *EquityCache) Equity() float64 {
	return math.Float64frombits(c.bits.Load())
}

// Refresh reads equity once. Non-positive values are ignored.
func (c *EquityCache) Refresh(ctx context.Context) error {
	read := func() error {
		eq, err := c.src.ReadEquity(ctx)
		if err != nil {
			return err
		}
		if eq > 0 {
			c.bits.Store(math.Float64bits(eq))
		}
		return nil
	}
	if c.cb == nil {
		return read()
	}
	return c.cb.Execute(read)
}

// Run refreshes every interval until ctx is cancelled.
func (c *EquityCache) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		rctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := c.Refresh(rctx); err != nil && err != ErrCircuitOpen && ctx.Err() == nil {
			log.Printf("[redis] equity refresh: %v", err)
		}
		cancel()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
