// Package backtest replays historical observations through the same indicator
// engine and trader the live bot uses, filling every order instantly at the
// observed price, and aggregates P&L per symbol.
package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"kdtrader/config"
	"kdtrader/internal/indicator"
	"kdtrader/internal/model"
	"kdtrader/internal/portfolio"
	"kdtrader/internal/slices"
	"kdtrader/internal/strategy"
)

// SymbolResult is the outcome of one symbol's replay.
type SymbolResult struct {
	Symbol            string  `json:"symbol"`
	RealizedPnL       float64 `json:"realized_pnl"`
	UnrealizedPnL     float64 `json:"unrealized_pnl"`
	EndingQty         int64   `json:"position_qty_end"`
	EndingSlicesInUse int     `json:"slices_in_use_end"`
	Observations      int     `json:"observations"`
	Trades            int     `json:"trades"`
	LastPrice         float64 `json:"last_price"`
	Err               string  `json:"error,omitempty"`
}

// Summary aggregates every symbol.
type Summary struct {
	SymbolCount        int     `json:"symbol_count"`
	TotalRealizedPnL   float64 `json:"total_realized_pnl"`
	TotalUnrealizedPnL float64 `json:"total_unrealized_pnl"`
}

// Result is one replay run.
type Result struct {
	RunID    string         `json:"run_id"`
	Started  time.Time      `json:"started"`
	Finished time.Time      `json:"finished"`
	Symbols  []SymbolResult `json:"metrics"`
	Summary  Summary        `json:"summary"`
}

// Failed returns the symbols whose replay errored.
func (r *Result) Failed() []SymbolResult {
	var out []SymbolResult
	for _, s := range r.Symbols {
		if s.Err != "" {
			out = append(out, s)
		}
	}
	return out
}

// Option configures Run.
type Option func(*runner)

// WithJournal records the run in bt_runs.
func WithJournal(j model.Journal) Option { return func(r *runner) { r.journal = j } }

// WithLogger sets the logger; the traders inside stay quiet unless debug is on.
func WithLogger(l *slog.Logger) Option { return func(r *runner) { r.log = l } }

// WithRunParams attaches extra run parameters (date range, source) to the journal row.
func WithRunParams(p map[string]any) Option { return func(r *runner) { r.extra = p } }

type runner struct {
	journal model.Journal
	log     *slog.Logger
	extra   map[string]any
}

// Run replays every symbol concurrently, one goroutine per symbol. A data
// error fails only its own symbol and is reported in that SymbolResult.
// Configuration errors are returned before any replay starts.
func Run(ctx context.Context, cfg *config.Config, symbols []string, open SourceFactory, opts ...Option) (*Result, error) {
	r := &runner{log: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	if len(symbols) == 0 {
		return nil, errors.New("backtest: no symbols")
	}

	// Build everything first so bad config fails the whole run.
	sims := make([]*simulation, len(symbols))
	for i, sym := range symbols {
		sim, err := newSimulation(cfg.ForSymbol(sym), r.log)
		if err != nil {
			return nil, fmt.Errorf("backtest: %s: %w", sym, err)
		}
		sims[i] = sim
	}

	res := &Result{RunID: uuid.NewString(), Started: time.Now().UTC()}
	res.Symbols = make([]SymbolResult, len(symbols))

	var wg sync.WaitGroup
	for i, sim := range sims {
		i, sim := i, sim
		wg.Add(1)
		go func() {
			defer wg.Done()
			res.Symbols[i] = sim.run(ctx, open)
		}()
	}
	wg.Wait()

	res.Finished = time.Now().UTC()
	res.Summary = summarize(res.Symbols)

	r.log.Info("backtest.done", "run_id", res.RunID, "symbols", res.Summary.SymbolCount,
		"realized", res.Summary.TotalRealizedPnL, "unrealized", res.Summary.TotalUnrealizedPnL)

	if r.journal != nil {
		if err := r.record(ctx, cfg, symbols, res); err != nil {
			r.log.Error("backtest journal failed", "run_id", res.RunID, "error", err)
		}
	}
	return res, ctx.Err()
}

func (r *runner) record(ctx context.Context, cfg *config.Config, symbols []string, res *Result) error {
	params := map[string]any{"symbols": symbols, "strategy": cfg.Strategy, "slices": cfg.Slices, "risk": cfg.Risk}
	for k, v := range r.extra {
		params[k] = v
	}
	p, err := json.Marshal(params)
	if err != nil {
		return err
	}
	m, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return r.journal.InsertBacktestRun(ctx, model.BacktestRun{
		RunID:    res.RunID,
		Started:  res.Started,
		Finished: res.Finished,
		Params:   p,
		Metrics:  m,
	})
}

func summarize(rs []SymbolResult) Summary {
	s := Summary{SymbolCount: len(rs)}
	realized, unrealized := decimal.Zero, decimal.Zero
	for _, r := range rs {
		realized = realized.Add(decimal.NewFromFloat(r.RealizedPnL))
		unrealized = unrealized.Add(decimal.NewFromFloat(r.UnrealizedPnL))
	}
	s.TotalRealizedPnL = realized.Round(2).InexactFloat64()
	s.TotalUnrealizedPnL = unrealized.Round(2).InexactFloat64()
	return s
}

// round2 rounds money to cents.
func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// simSink fills every intent immediately and fully at the current price.
type simSink struct {
	symbol  string
	price   float64
	now     time.Time
	tracker *portfolio.PnLTracker
	trades  int
}

func (s *simSink) Submit(intent model.OrderIntent) {
	s.tracker.RecordTrade(portfolio.Trade{
		Symbol: s.symbol,
		Side:   intent.Side,
		Qty:    intent.Qty,
		Price:  s.price,
		TS:     s.now,
	})
	s.trades++
}

type simulation struct {
	symbol string
	sink   *simSink
	trader *strategy.Trader
	pipe   *strategy.Pipeline
}

func newSimulation(sc config.SymbolConfig, log *slog.Logger) (*simulation, error) {
	engine, err := indicator.NewEngine(sc.Indicator())
	if err != nil {
		return nil, err
	}
	book, err := slices.New(sc.Risk.Equity, sc.Slices.Total)
	if err != nil {
		return nil, err
	}
	gates, err := sc.Gates()
	if err != nil {
		return nil, err
	}
	sink := &simSink{symbol: sc.Symbol, tracker: portfolio.NewPnLTracker()}
	trader, err := strategy.NewTrader(sc.Symbol, book, sc.Params(), sink,
		strategy.WithEntryGates(gates...), strategy.WithLogger(log))
	if err != nil {
		return nil, err
	}
	return &simulation{
		symbol: sc.Symbol,
		sink:   sink,
		trader: trader,
		pipe:   strategy.NewPipeline(engine, trader),
	}, nil
}

func (s *simulation) run(ctx context.Context, open SourceFactory) SymbolResult {
	out := SymbolResult{Symbol: s.symbol}
	src, err := open(ctx, s.symbol)
	if err != nil {
		out.Err = err.Error()
		return out
	}

	for {
		if out.Observations%1024 == 0 && ctx.Err() != nil {
			out.Err = ctx.Err().Error()
			break
		}
		t, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			out.Err = err.Error()
			break
		}
		if !t.Valid() {
			continue
		}
		s.sink.price, s.sink.now = t.Price, t.TS
		s.pipe.Process(t)
		s.sink.tracker.Mark(s.symbol, t.Price)
		out.Observations++
	}

	if out.Err != "" {
		// A failed symbol contributes nothing to the totals.
		out.Observations = 0
		return out
	}

	pos := s.trader.Position()
	out.RealizedPnL = round2(s.sink.tracker.Realized(s.symbol))
	out.UnrealizedPnL = round2(s.sink.tracker.Unrealized(s.symbol))
	out.EndingQty = pos.Qty
	out.EndingSlicesInUse = pos.SlicesInUse
	out.Trades = s.sink.trades
	out.LastPrice = pos.LastPrice
	return out
}

// SortByRealized orders results best first.
func SortByRealized(rs []SymbolResult) {
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].RealizedPnL > rs[j].RealizedPnL })
}
