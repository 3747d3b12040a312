package portfolio

import (
	"testing"

	"kdtrader/internal/model"
)

func TestPortfolio_LastPricePrefersTickPrice(t *testing.T) {
	pf := New()
	if _, ok := pf.LastPrice("TQQQ"); ok {
		t.Fatal("unknown symbol must have no price")
	}

	pf.Update(model.Position{Symbol: "TQQQ", LastPrice: 50})
	if px, _ := pf.LastPrice("TQQQ"); px != 50 {
		t.Fatalf("price = %v, want snapshot 50", px)
	}

	// The tick price lands before the snapshot of the same tick.
	pf.SetLastPrice("TQQQ", 51.25)
	if px, _ := pf.LastPrice("TQQQ"); px != 51.25 {
		t.Fatalf("price = %v, want 51.25", px)
	}
	pf.SetLastPrice("TQQQ", 0)
	if px, _ := pf.LastPrice("TQQQ"); px != 51.25 {
		t.Fatalf("zero price must be ignored, got %v", px)
	}
}

func TestPortfolio_Totals(t *testing.T) {
	pf := New()
	pf.Update(model.Position{Symbol: "SOXL", Qty: 10, AvgPrice: 30, LastPrice: 31, SlicesInUse: 2})
	pf.Update(model.Position{Symbol: "TQQQ", Qty: 4, AvgPrice: 60, LastPrice: 58, SlicesInUse: 1})

	if got := pf.SlicesInUse(); got != 3 {
		t.Errorf("slices = %d, want 3", got)
	}
	if got := pf.TotalUnrealizedPnL(); got != 2 {
		t.Errorf("unrealized = %v, want 2", got)
	}
	if ps := pf.GetPositions(); len(ps) != 2 || ps[0].Symbol != "SOXL" {
		t.Errorf("positions = %+v", ps)
	}
}
