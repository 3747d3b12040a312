package backtest

import (
	"context"
	"testing"

	"kdtrader/config"
	"kdtrader/internal/model"
)

func TestGrid_SkipsInvertedBands(t *testing.T) {
	base := config.Default()
	pts := Grid(config.Optimize{
		TakeProfitPct: []float64{0.05, 0.1},
		Oversold:      []float64{20, 85},
		Overbought:    []float64{80},
	}, base)
	// 85 >= 80 is dropped: 2 take-profits x 1 valid band pair.
	if len(pts) != 2 {
		t.Fatalf("len = %d, want 2", len(pts))
	}
	if pts[0].PerEntryLow != base.Slices.PerEntryLow || pts[0].AddCooldownSec != 0 {
		t.Errorf("empty ranges should use base values: %+v", pts[0])
	}
}

func TestGridPoint_ApplyCopies(t *testing.T) {
	base := config.Default()
	c := GridPoint{TakeProfitPct: 0.2, Oversold: 10, Overbought: 90, PerEntryLow: 3, PerEntryMid: 2}.Apply(base)
	if c.Strategy.TakeProfitPct != 0.2 || c.Slices.PerEntryMid != 2 {
		t.Errorf("applied = %+v", c.Strategy)
	}
	if base.Strategy.TakeProfitPct != 0.11 {
		t.Error("Apply mutated the base config")
	}
}

func TestOptimize_RanksByRealized(t *testing.T) {
	cfg := config.Default()
	data := map[string][]model.Tick{"AAA": wave("AAA", 1500)}
	pts := Grid(config.Optimize{
		TakeProfitPct: []float64{0.01, 0.05, 0.11},
		PerEntryLow:   []int{1, 4},
	}, cfg)

	trials, err := Optimize(context.Background(), &cfg, []string{"AAA"}, sliceFactory(data), pts, 4, 2)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if len(trials) != 4 {
		t.Fatalf("topN not applied: %d", len(trials))
	}
	for i := 1; i < len(trials); i++ {
		if trials[i].Summary.TotalRealizedPnL > trials[i-1].Summary.TotalRealizedPnL {
			t.Fatalf("not sorted at %d: %+v", i, trials)
		}
	}
}

func TestOptimize_EmptyGrid(t *testing.T) {
	cfg := config.Default()
	if _, err := Optimize(context.Background(), &cfg, []string{"A"}, sliceFactory(nil), nil, 1, 1); err == nil {
		t.Fatal("expected error")
	}
}
