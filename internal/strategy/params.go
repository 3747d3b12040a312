package strategy

import (
	"errors"
	"fmt"
	"math"
)

// Params are the per-symbol decision thresholds of a Trader.
type Params struct {
	Oversold   float64 // %K below this buys SlicesPerEntryLow
	Overbought float64 // %K at or above this never buys; bearish cross above it may sell

	RSIBuyThreshold  float64 // batches start only below this RSI
	RSIBuyMultiplier float64 // LOC price = average cost * multiplier
	RSILowBand       float64
	RSIMidBand       float64
	RSISellConfirm   float64 // KD sell needs the last RSI above this

	TakeProfitPct float64
	StopLossPct   float64 // 0 disables the stop

	EnableKDBuys      bool
	SlicesPerEntryLow int
	SlicesPerEntryMid int
	MinLot            int64
}

// DefaultParams returns the stock thresholds.
func DefaultParams() Params {
	return Params{
		Oversold:          20,
		Overbought:        80,
		RSIBuyThreshold:   50,
		RSIBuyMultiplier:  1.1,
		RSILowBand:        20,
		RSIMidBand:        80,
		RSISellConfirm:    80,
		TakeProfitPct:     0.11,
		EnableKDBuys:      true,
		SlicesPerEntryLow: 4,
		SlicesPerEntryMid: 1,
		MinLot:            1,
	}
}

// Validate rejects parameter sets the handlers cannot run with.
func (p Params) Validate() error {
	var errs []error
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"oversold", p.Oversold},
		{"overbought", p.Overbought},
		{"rsi_buy_threshold", p.RSIBuyThreshold},
		{"rsi_buy_multiplier", p.RSIBuyMultiplier},
		{"take_profit_pct", p.TakeProfitPct},
		{"stop_loss_pct", p.StopLossPct},
	} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			errs = append(errs, fmt.Errorf("%s must be finite", f.name))
		}
	}
	if !(p.Oversold > 0 && p.Oversold < p.Overbought && p.Overbought <= 100) {
		errs = append(errs, fmt.Errorf("need 0 < oversold (%v) < overbought (%v) <= 100", p.Oversold, p.Overbought))
	}
	if p.RSIBuyMultiplier <= 0 {
		errs = append(errs, fmt.Errorf("rsi_buy_multiplier must be positive, got %v", p.RSIBuyMultiplier))
	}
	if p.RSILowBand < 0 || p.RSILowBand > p.RSIMidBand || p.RSIMidBand > 100 {
		errs = append(errs, fmt.Errorf("need 0 <= rsi_low_band (%v) <= rsi_mid_band (%v) <= 100", p.RSILowBand, p.RSIMidBand))
	}
	if p.TakeProfitPct < 0 {
		errs = append(errs, fmt.Errorf("take_profit_pct must not be negative, got %v", p.TakeProfitPct))
	}
	if p.StopLossPct < 0 || p.StopLossPct >= 1 {
		errs = append(errs, fmt.Errorf("stop_loss_pct must be in [0,1), got %v", p.StopLossPct))
	}
	if p.SlicesPerEntryLow < 0 || p.SlicesPerEntryMid < 0 {
		errs = append(errs, errors.New("slices per entry must not be negative"))
	}
	if p.MinLot < 0 {
		errs = append(errs, fmt.Errorf("min_lot must not be negative, got %d", p.MinLot))
	}
	return errors.Join(errs...)
}
