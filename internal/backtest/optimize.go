package backtest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"kdtrader/config"
	"kdtrader/internal/marketdata/replay"
	"kdtrader/internal/model"
)

// GridPoint is one parameter combination.
type GridPoint struct {
	TakeProfitPct  float64 `json:"take_profit_pct"`
	Oversold       float64 `json:"oversold"`
	Overbought     float64 `json:"overbought"`
	AddCooldownSec float64 `json:"add_cooldown_sec"`
	PerEntryLow    int     `json:"per_entry_low"`
	PerEntryMid    int     `json:"per_entry_mid"`
}

// Apply returns a copy of cfg with the point's values in the base sections.
// Per-symbol overrides still win over them.
func (p GridPoint) Apply(cfg config.Config) config.Config {
	cfg.Strategy.TakeProfitPct = p.TakeProfitPct
	cfg.Strategy.Oversold = p.Oversold
	cfg.Strategy.Overbought = p.Overbought
	cfg.Strategy.AddCooldownSec = p.AddCooldownSec
	cfg.Slices.PerEntryLow = p.PerEntryLow
	cfg.Slices.PerEntryMid = p.PerEntryMid
	return cfg
}

// Trial is the outcome of one grid point.
type Trial struct {
	Point   GridPoint `json:"params"`
	Summary Summary   `json:"summary"`
	Err     string    `json:"error,omitempty"`
}

// Grid expands the cartesian product of the ranges. Empty ranges fall back
// to the base value. Points with oversold >= overbought are skipped.
func Grid(o config.Optimize, base config.Config) []GridPoint {
	tps := orDefault(o.TakeProfitPct, base.Strategy.TakeProfitPct)
	oss := orDefault(o.Oversold, base.Strategy.Oversold)
	obs := orDefault(o.Overbought, base.Strategy.Overbought)
	cds := orDefault(o.AddCooldownSec, base.Strategy.AddCooldownSec)
	lows := orDefault(o.PerEntryLow, base.Slices.PerEntryLow)
	mids := orDefault(o.PerEntryMid, base.Slices.PerEntryMid)

	var pts []GridPoint
	for _, tp := range tps {
		for _, ovs := range oss {
			for _, ob := range obs {
				if ovs >= ob {
					continue
				}
				for _, cd := range cds {
					for _, lo := range lows {
						for _, mid := range mids {
							pts = append(pts, GridPoint{tp, ovs, ob, cd, lo, mid})
						}
					}
				}
			}
		}
	}
	return pts
}

func orDefault[T any](xs []T, v T) []T {
	if len(xs) == 0 {
		return []T{v}
	}
	return xs
}

// Optimize runs every grid point over the same preloaded data and returns the
// best topN trials ranked by total realized P&L. workers <= 0 uses GOMAXPROCS.
func Optimize(ctx context.Context, cfg *config.Config, symbols []string, open SourceFactory, points []GridPoint, topN, workers int) ([]Trial, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("backtest: empty parameter grid")
	}
	cached, err := preload(ctx, symbols, open)
	if err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	trials := make([]Trial, len(points))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, pt := range points {
		i, pt := i, pt
		g.Go(func() error {
			c := pt.Apply(*cfg)
			trials[i].Point = pt
			res, err := Run(gctx, &c, symbols, cached, WithLogger(quiet))
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				trials[i].Err = err.Error()
				return nil
			}
			trials[i].Summary = res.Summary
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(trials, func(i, j int) bool {
		if (trials[i].Err == "") != (trials[j].Err == "") {
			return trials[i].Err == ""
		}
		return trials[i].Summary.TotalRealizedPnL > trials[j].Summary.TotalRealizedPnL
	})
	if topN > 0 && len(trials) > topN {
		trials = trials[:topN]
	}
	return trials, nil
}

// preload reads each symbol once. A symbol whose source fails keeps failing
// in every trial through the returned factory.
func preload(ctx context.Context, symbols []string, open SourceFactory) (SourceFactory, error) {
	type entry struct {
		ticks []model.Tick
		err   error
	}
	data := make(map[string]entry, len(symbols))
	for _, sym := range symbols {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		src, err := open(ctx, sym)
		if err != nil {
			data[sym] = entry{err: err}
			continue
		}
		ticks, err := replay.Collect(src)
		data[sym] = entry{ticks: ticks, err: err}
	}
	return func(_ context.Context, sym string) (replay.Source, error) {
		e := data[sym]
		if e.err != nil {
			return nil, e.err
		}
		return replay.NewSliceSource(e.ticks), nil
	}, nil
}
