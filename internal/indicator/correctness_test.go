package indicator

import (
	"math"
	"testing"

	"github.com/markcheno/go-talib"
)

// ────────────────────────────────────────────────────────────
// Helper
// ────────────────────────────────────────────────────────────

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

// oscillating returns a non-degenerate series: +0.3 on even steps, -0.2 on odd.
func oscillating(n int) []float64 {
	out := make([]float64, n)
	price := 100.0
	for i := range out {
		if i%2 == 0 {
			price += 0.3
		} else {
			price -= 0.2
		}
		out[i] = price
	}
	return out
}

// ────────────────────────────────────────────────────────────
// WilderRSI Correctness
// ────────────────────────────────────────────────────────────

func TestWilderRSI_WarmUpLength(t *testing.T) {
	for _, period := range []int{1, 2, 5, 14, 21} {
		rsi := NewWilderRSI(period)
		prices := oscillating(period + 10)
		for i, p := range prices {
			call := i + 1
			v, ok := rsi.Update(p)
			if call <= period+1 {
				if ok {
					t.Fatalf("period=%d call %d: expected no value, got %.4f", period, call, v)
				}
				continue
			}
			if !ok {
				t.Fatalf("period=%d call %d: expected a value", period, call)
			}
			if v < 0 || v > 100 {
				t.Fatalf("period=%d call %d: RSI %.4f outside [0,100]", period, call, v)
			}
		}
	}
}

func TestWilderRSI_Correctness_Period3(t *testing.T) {
	// Prices: 10, 11, 10, 12, 13, 11
	// Call 1 primes. Calls 2-4 accumulate: gain=1+2=3, loss=1.
	// Call 5: avgGain=1, avgLoss=1/3 → RS=3 → RSI=75 (the +1 of call 5 is not part of the seed)
	// Call 6 (-2): gain=(3*2+0)/3=2, loss=(1*2+2)/3=4/3 → RS=1.5 → RSI=60
	rsi := NewWilderRSI(3)
	prices := []float64{10, 11, 10, 12, 13, 11}
	expected := []float64{0, 0, 0, 0, 75, 60}
	ready := []bool{false, false, false, false, true, true}

	for i, p := range prices {
		v, ok := rsi.Update(p)
		if ok != ready[i] {
			t.Fatalf("call %d: ok=%v, want %v", i+1, ok, ready[i])
		}
		if ready[i] {
			assertClose(t, "RSI(3)", v, expected[i], 1e-9)
		}
	}
	if v, ok := rsi.Value(); !ok || math.Abs(v-60) > 1e-9 {
		t.Errorf("Value() = %.4f,%v want 60,true", v, ok)
	}
}

func TestWilderRSI_ZeroLossIs100(t *testing.T) {
	rsi := NewWilderRSI(5)
	var v float64
	var ok bool
	for i := 0; i < 20; i++ {
		v, ok = rsi.Update(100 + float64(i))
	}
	if !ok {
		t.Fatal("expected RSI to be ready")
	}
	assertClose(t, "RSI rising", v, 100, 0)
}

func TestWilderRSI_FlatPriceIs100(t *testing.T) {
	// No gain and no loss: zero average loss is treated as infinite RS.
	rsi := NewWilderRSI(3)
	var v float64
	for i := 0; i < 6; i++ {
		v, _ = rsi.Update(50)
	}
	assertClose(t, "RSI flat", v, 100, 0)
}

func TestWilderRSI_FallingIsZero(t *testing.T) {
	rsi := NewWilderRSI(4)
	var v float64
	var ok bool
	for i := 0; i < 12; i++ {
		v, ok = rsi.Update(200 - float64(i))
	}
	if !ok {
		t.Fatal("expected RSI to be ready")
	}
	assertClose(t, "RSI falling", v, 0, 1e-9)
}

// ────────────────────────────────────────────────────────────
// RollingSMA Correctness
// ────────────────────────────────────────────────────────────

func TestRollingSMA_Correctness_Period3(t *testing.T) {
	// SMA after value 3: (100+102+104)/3 = 102
	// SMA after value 4: (102+104+103)/3 = 103
	// SMA after value 5: (104+103+105)/3 = 104
	sma := NewRollingSMA(3)
	values := []float64{100, 102, 104, 103, 105}
	expected := []float64{0, 0, 102.0, 103.0, 104.0}
	ready := []bool{false, false, true, true, true}

	for i, v := range values {
		got, ok := sma.Update(v)
		if ok != ready[i] {
			t.Errorf("value %d: ok=%v, want %v", i, ok, ready[i])
		}
		if sma.Ready() != ready[i] {
			t.Errorf("value %d: Ready()=%v, want %v", i, sma.Ready(), ready[i])
		}
		if ready[i] {
			assertClose(t, "SMA(3)", got, expected[i], 0.0001)
		}
	}
}

func TestRollingSMA_ConstantConvergesExactly(t *testing.T) {
	for _, period := range []int{1, 3, 7, 20} {
		sma := NewRollingSMA(period)
		for i := 0; i < period*3; i++ {
			got, ok := sma.Update(2.5)
			if i+1 < period {
				if ok {
					t.Fatalf("period=%d update %d: expected not ready", period, i+1)
				}
				continue
			}
			if !ok || got != 2.5 {
				t.Fatalf("period=%d update %d: got %v,%v want 2.5,true", period, i+1, got, ok)
			}
		}
	}
}

func TestRollingSMA_SumMatchesWindow(t *testing.T) {
	sma := NewRollingSMA(4)
	values := []float64{1, 2, 3, 4, 5, 6, 7}
	for i, v := range values {
		sma.Update(v)
		lo := i - 3
		if lo < 0 {
			lo = 0
		}
		want := 0.0
		for _, w := range values[lo : i+1] {
			want += w
		}
		assertClose(t, "SMA sum", sma.Sum(), want, 1e-9)
		if sma.Len() != i+1-lo {
			t.Errorf("update %d: Len()=%d want %d", i, sma.Len(), i+1-lo)
		}
	}
}

func TestRollingSMA_MatchesTALib(t *testing.T) {
	values := oscillating(60)
	for i := range values {
		values[i] += math.Sin(float64(i) / 3)
	}
	const period = 9
	ref := talib.Sma(values, period)

	sma := NewRollingSMA(period)
	for i, v := range values {
		got, ok := sma.Update(v)
		if i < period-1 {
			continue
		}
		if !ok {
			t.Fatalf("index %d: expected ready", i)
		}
		assertClose(t, "SMA vs talib", got, ref[i], 1e-9)
	}
}

func TestRollingSMA_Reset(t *testing.T) {
	sma := NewRollingSMA(2)
	sma.Update(10)
	sma.Update(20)
	sma.Reset()
	if sma.Ready() || sma.Sum() != 0 {
		t.Fatalf("expected empty SMA after Reset, sum=%v", sma.Sum())
	}
	if _, ok := sma.Update(5); ok {
		t.Fatal("expected not ready after one value")
	}
}

// ────────────────────────────────────────────────────────────
// EMA Correctness
// ────────────────────────────────────────────────────────────

func TestEMA_Correctness_Period3(t *testing.T) {
	// EMA(3): multiplier = 2/(3+1) = 0.5
	// Seed: (100+102+104)/3 = 102.0
	// Value 4: 103*0.5 + 102.0*0.5 = 102.5
	// Value 5: 105*0.5 + 102.5*0.5 = 103.75
	ema := NewEMA(3)
	values := []float64{100, 102, 104, 103, 105}
	expected := []float64{0, 0, 102.0, 102.5, 103.75}
	ready := []bool{false, false, true, true, true}

	for i, v := range values {
		got, ok := ema.Update(v)
		if ok != ready[i] {
			t.Errorf("value %d: ok=%v, want %v", i, ok, ready[i])
		}
		if ready[i] {
			assertClose(t, "EMA(3)", got, expected[i], 0.0001)
		}
	}
}

// ────────────────────────────────────────────────────────────
// SMMA Correctness (Wilder's Smoothing)
// ────────────────────────────────────────────────────────────

func TestSMMA_Correctness_Period3(t *testing.T) {
	// Seed = (100+102+104)/3 = 102.0
	// Value 4: (102.0*2 + 103)/3 = 102.3333
	// Value 5: (102.3333*2 + 105)/3 = 103.2222
	smma := NewSMMA(3)
	values := []float64{100, 102, 104, 103, 105}
	expected := []float64{0, 0, 102.0, 102.3333, 103.2222}
	ready := []bool{false, false, true, true, true}

	for i, v := range values {
		got, ok := smma.Update(v)
		if ok != ready[i] {
			t.Errorf("value %d: ok=%v, want %v", i, ok, ready[i])
		}
		if ready[i] {
			assertClose(t, "SMMA(3)", got, expected[i], 0.001)
		}
	}
}

func TestNewMovingAverage(t *testing.T) {
	cases := map[string]string{"sma": "SMA", "": "SMA", "EMA": "EMA", " smma ": "SMMA"}
	for kind, name := range cases {
		ma, err := NewMovingAverage(kind, 5)
		if err != nil {
			t.Fatalf("%q: unexpected error %v", kind, err)
		}
		if ma.Name() != name {
			t.Errorf("%q: got %s, want %s", kind, ma.Name(), name)
		}
	}
	if _, err := NewMovingAverage("WMA", 5); err == nil {
		t.Error("expected error for unknown type")
	}
	if _, err := NewMovingAverage("SMA", 0); err == nil {
		t.Error("expected error for zero period")
	}
}

// ────────────────────────────────────────────────────────────
// StochRSI Correctness
// ────────────────────────────────────────────────────────────

func TestStochRSI_WarmUpAndRange(t *testing.T) {
	s := NewStochRSI(14, 14, 3, 3)
	var k, d float64
	var ok bool
	for _, p := range oscillating(120) {
		k, d, ok = s.Update(p)
	}
	if !ok {
		t.Fatal("expected %K/%D after 120 ticks")
	}
	if k < 0 || k > 100 || d < 0 || d > 100 {
		t.Fatalf("K=%.4f D=%.4f outside [0,100]", k, d)
	}
}

func TestStochRSI_FirstPairIndex(t *testing.T) {
	cases := []Config{
		{14, 14, 3, 3},
		{5, 4, 2, 2},
		{3, 1, 1, 1},
		{7, 10, 4, 5},
	}
	for _, cfg := range cases {
		s := NewStochRSI(cfg.RSIPeriod, cfg.StochPeriod, cfg.KPeriod, cfg.DPeriod)
		first := 0
		for i, p := range oscillating(cfg.WarmUp() + 20) {
			_, _, ok := s.Update(p)
			if ok && first == 0 {
				first = i + 1
			}
			if first != 0 && !ok {
				t.Fatalf("%+v: lost %%K/%%D at observation %d", cfg, i+1)
			}
		}
		if first != cfg.WarmUp() {
			t.Errorf("%+v: first pair at observation %d, want %d", cfg, first, cfg.WarmUp())
		}
	}
}

func TestStochRSI_DegenerateWindowIs50(t *testing.T) {
	// Flat prices give RSI 100 on every call; a zero-range window maps to 50.
	s := NewStochRSI(3, 3, 2, 2)
	var k, d float64
	var ok bool
	for i := 0; i < 20; i++ {
		k, d, ok = s.Update(42)
	}
	if !ok {
		t.Fatal("expected values")
	}
	assertClose(t, "K flat", k, 50, 0)
	assertClose(t, "D flat", d, 50, 0)
}

func TestStochRSI_RSIExposedPerUpdate(t *testing.T) {
	s := NewStochRSI(3, 3, 1, 1)
	for i, p := range []float64{10, 11, 10, 12} {
		s.Update(p)
		if _, ok := s.RSI(); ok {
			t.Fatalf("update %d: RSI should not be defined yet", i+1)
		}
	}
	s.Update(13)
	v, ok := s.RSI()
	if !ok {
		t.Fatal("expected RSI on update 5")
	}
	assertClose(t, "RSI via StochRSI", v, 75, 1e-9)
}
