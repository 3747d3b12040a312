// Package agg samples a tick stream into fixed-interval closing prices,
// the bar shape the sqlite bars table and replay sources use.
package agg

import (
	"context"
	"log"
	"sync"
	"time"

	"kdtrader/internal/model"
)

// barState holds the in-progress bar for one symbol.
type barState struct {
	bucket time.Time
	bar    model.Tick
}

// Aggregator builds interval bars from ticks. Each bar carries the bucket
// start as TS and the last price seen in the bucket.
type Aggregator struct {
	mu       sync.Mutex
	states   map[string]*barState
	interval time.Duration
	now      func() time.Time

	flushInterval time.Duration

	// OnDroppedTick is called for ticks older than the open bucket.
	OnDroppedTick func()
}

// New creates an Aggregator with the given bar interval (minimum 1s).
func New(interval time.Duration) *Aggregator {
	if interval < time.Second {
		interval = time.Second
	}
	return &Aggregator{
		states:        make(map[string]*barState),
		interval:      interval,
		now:           time.Now,
		flushInterval: interval / 4,
	}
}

// Run consumes ticks and sends finished bars to barCh. Blocks until ctx is
// cancelled or tickCh is closed; open bars are flushed on exit.
func (a *Aggregator) Run(ctx context.Context, tickCh <-chan model.Tick, barCh chan<- model.Tick) {
	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.flushAll(barCh)
			return

		case t, ok := <-tickCh:
			if !ok {
				a.flushAll(barCh)
				return
			}
			a.processTick(t, barCh)

		case <-ticker.C:
			a.flushOld(barCh)
		}
	}
}

func (a *Aggregator) processTick(t model.Tick, barCh chan<- model.Tick) {
	if !t.Valid() {
		return
	}
	bucket := t.TS.Truncate(a.interval)

	a.mu.Lock()
	state, exists := a.states[t.Symbol]

	if exists && bucket.Before(state.bucket) {
		// Late tick for a finished bucket.
		a.mu.Unlock()
		if a.OnDroppedTick != nil {
			a.OnDroppedTick()
		}
		return
	}
	defer a.mu.Unlock()

	if exists && bucket.After(state.bucket) {
		a.emit(state, barCh)
		delete(a.states, t.Symbol)
		exists = false
	}

	if !exists {
		a.states[t.Symbol] = &barState{
			bucket: bucket,
			bar:    model.Tick{Symbol: t.Symbol, Price: t.Price, TS: bucket.UTC()},
		}
		return
	}
	state.bar.Price = t.Price
}

// flushOld emits bars whose bucket ended before now.
func (a *Aggregator) flushOld(barCh chan<- model.Tick) {
	now := a.now()

	a.mu.Lock()
	defer a.mu.Unlock()

	for sym, state := range a.states {
		if !state.bucket.Add(a.interval).After(now) {
			a.emit(state, barCh)
			delete(a.states, sym)
		}
	}
}

func (a *Aggregator) flushAll(barCh chan<- model.Tick) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for sym, state := range a.states {
		a.emit(state, barCh)
		delete(a.states, sym)
	}
}

// emit is non-blocking.
func (a *Aggregator) emit(state *barState, barCh chan<- model.Tick) {
	select {
	case barCh <- state.bar:
	default:
		log.Printf("[agg] barCh full, dropping %s bar ts=%v", state.bar.Symbol, state.bar.TS)
	}
}
