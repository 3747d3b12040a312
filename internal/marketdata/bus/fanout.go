// Package bus copies the live tick stream to every consumer that needs it,
// currently the strategy engine and the bar recorder.
package bus

import (
	"context"
	"log"
	"sync"
	"sync/atomic"

	"kdtrader/internal/model"
)

type subscriber struct {
	name    string
	ch      chan model.Tick
	dropped atomic.Uint64
}

// FanOut delivers each input tick to every named subscriber. A subscriber whose
// buffer is full misses that tick; the others still get it.
type FanOut struct {
	mu      sync.RWMutex
	subs    []*subscriber
	bufSize int

	// OnDrop replaces the default log line when a subscriber misses a tick.
	OnDrop func(subscriber string, t model.Tick)
}

// New returns a FanOut whose subscriber channels buffer bufSize ticks.
func New(bufSize int) *FanOut {
	return &FanOut{bufSize: bufSize}
}

// Subscribe registers a consumer and returns its channel. Subscribe before
// Run; the channel is closed when Run returns.
func (f *FanOut) Subscribe(name string) <-chan model.Tick {
	s := &subscriber{name: name, ch: make(chan model.Tick, f.bufSize)}
	f.mu.Lock()
	f.subs = append(f.subs, s)
	f.mu.Unlock()
	return s.ch
}

// Run copies input to the subscribers until input closes or ctx ends.
func (f *FanOut) Run(ctx context.Context, input <-chan model.Tick) {
	defer f.closeAll()
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-input:
			if !ok {
				return
			}
			f.deliver(t)
		}
	}
}

func (f *FanOut) deliver(t model.Tick) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, s := range f.subs {
		select {
		case s.ch <- t:
			continue
		default:
		}
		n := s.dropped.Add(1)
		switch {
		case f.OnDrop != nil:
			f.OnDrop(s.name, t)
		case n == 1 || n%1000 == 0:
			log.Printf("[bus] %s is behind, %d ticks missed (latest %s)", s.name, n, t.Symbol)
		}
	}
}

func (f *FanOut) closeAll() {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, s := range f.subs {
		close(s.ch)
	}
}

// SubscriberStat describes one consumer's backlog.
type SubscriberStat struct {
	Name     string
	Queued   int
	Capacity int
	Dropped  uint64
}

// Stats reports every subscriber in subscription order.
func (f *FanOut) Stats() []SubscriberStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]SubscriberStat, len(f.subs))
	for i, s := range f.subs {
		out[i] = SubscriberStat{Name: s.name, Queued: len(s.ch), Capacity: cap(s.ch), Dropped: s.dropped.Load()}
	}
	return out
}
