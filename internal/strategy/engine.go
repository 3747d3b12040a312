package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"kdtrader/internal/indicator"
	"kdtrader/internal/model"
	"kdtrader/internal/ringbuf"
)

// ReadingFunc observes every processed tick with its indicator reading.
// It runs on the symbol's worker goroutine.
type ReadingFunc func(t model.Tick, r indicator.Reading, pos model.Position)

// Engine dispatches live ticks to per-symbol workers. Each symbol has one
// worker goroutine and an SPSC inbox, so a symbol's ticks are processed in
// arrival order while symbols run in parallel.
type Engine struct {
	inboxSize int
	workers   map[string]*worker
	onTick    func(model.Tick)
	onReading ReadingFunc
	onDrop    func(symbol string)
	onLatency func(time.Duration)
	log       *slog.Logger
}

type worker struct {
	pipe   *Pipeline
	inbox  *ringbuf.Ring
	notify chan struct{}
}

// EngineOption customises an Engine.
type EngineOption func(*Engine)

func WithReadingHook(fn ReadingFunc) EngineOption {
	return func(e *Engine) { e.onReading = fn }
}

// WithTickHook sees every valid tick on its worker goroutine before the
// pipeline processes it. Orders the tick triggers are submitted after the
// hook returns.
func WithTickHook(fn func(model.Tick)) EngineOption {
	return func(e *Engine) { e.onTick = fn }
}

// WithDropHook is called when a symbol's inbox is full and a tick is dropped.
func WithDropHook(fn func(symbol string)) EngineOption {
	return func(e *Engine) { e.onDrop = fn }
}

// WithLatencyHook receives the indicator plus decision time of every tick.
func WithLatencyHook(fn func(time.Duration)) EngineOption {
	return func(e *Engine) { e.onLatency = fn }
}

func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.log = l }
}

// NewEngine creates an engine whose per-symbol inboxes hold inboxSize ticks.
func NewEngine(inboxSize int, opts ...EngineOption) *Engine {
	e := &Engine{
		inboxSize: inboxSize,
		workers:   make(map[string]*worker),
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register adds a symbol pipeline. It must be called before Run.
func (e *Engine) Register(p *Pipeline) error {
	sym := p.Symbol()
	if _, dup := e.workers[sym]; dup {
		return fmt.Errorf("strategy: symbol %s registered twice", sym)
	}
	e.workers[sym] = &worker{
		pipe:   p,
		inbox:  ringbuf.New(e.inboxSize),
		notify: make(chan struct{}, 1),
	}
	return nil
}

// Symbols returns the registered symbols in sorted order.
func (e *Engine) Symbols() []string {
	out := make([]string, 0, len(e.workers))
	for sym := range e.workers {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Positions returns a snapshot of every symbol's position.
func (e *Engine) Positions() []model.Position {
	out := make([]model.Position, 0, len(e.workers))
	for _, sym := range e.Symbols() {
		out = append(out, e.workers[sym].pipe.Snapshot())
	}
	return out
}

// Run routes ticks to their symbol workers until ctx is cancelled or ticks
// is closed. Ticks for unregistered symbols are ignored. On return every
// worker has drained its inbox and exited.
func (e *Engine) Run(ctx context.Context, ticks <-chan model.Tick) {
	var wg sync.WaitGroup
	done := make(chan struct{})
	for _, w := range e.workers {
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			e.work(w, done)
		}(w)
	}
	e.log.Info("strategy engine started", "symbols", len(e.workers))

	defer func() {
		close(done)
		wg.Wait()
		e.log.Info("strategy engine stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-ticks:
			if !ok {
				return
			}
			w, found := e.workers[t.Symbol]
			if !found {
				continue
			}
			if !w.inbox.Push(t) {
				if e.onDrop != nil {
					e.onDrop(t.Symbol)
				}
				continue
			}
			select {
			case w.notify <- struct{}{}:
			default:
			}
		}
	}
}

func (e *Engine) work(w *worker, done <-chan struct{}) {
	for {
		e.drain(w)
		select {
		case <-w.notify:
		case <-done:
			e.drain(w)
			return
		}
	}
}

func (e *Engine) drain(w *worker) {
	for {
		t, ok := w.inbox.Pop()
		if !ok {
			return
		}
		if e.onTick != nil && t.Valid() {
			e.onTick(t)
		}
		start := time.Now()
		r := w.pipe.Process(t)
		if e.onLatency != nil {
			e.onLatency(time.Since(start))
		}
		if e.onReading != nil {
			e.onReading(t, r, w.pipe.Snapshot())
		}
	}
}
