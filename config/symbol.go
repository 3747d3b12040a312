package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"kdtrader/internal/indicator"
	"kdtrader/internal/strategy"
)

// Override is a per-symbol partial configuration. Nil fields inherit the
// base value.
type Override struct {
	Strategy *StrategyOverride `yaml:"strategy"`
	Slices   *SlicesOverride   `yaml:"slices"`
	Risk     *RiskOverride     `yaml:"risk"`
}

type StrategyOverride struct {
	Oversold         *float64       `yaml:"oversold"`
	Overbought       *float64       `yaml:"overbought"`
	RSIBuyThreshold  *float64       `yaml:"rsi_buy_threshold"`
	RSIBuyMultiplier *float64       `yaml:"rsi_buy_multiplier"`
	RSILowBand       *float64       `yaml:"rsi_low_band"`
	RSIMidBand       *float64       `yaml:"rsi_mid_band"`
	RSISellConfirm   *float64       `yaml:"rsi_sell_confirm"`
	TakeProfitPct    *float64       `yaml:"take_profit_pct"`
	StopLossPct      *float64       `yaml:"stop_loss_pct"`
	EnableKDBuys     *bool          `yaml:"enable_kd_buys"`
	AddCooldownSec   *float64       `yaml:"add_cooldown_sec"`
	MinLot           *int64         `yaml:"min_lot"`
	RSIPeriod        *int           `yaml:"rsi_period"`
	StochPeriod      *int           `yaml:"stoch_period"`
	KPeriod          *int           `yaml:"k_period"`
	DPeriod          *int           `yaml:"d_period"`
	Trend            *TrendOverride `yaml:"trend"`
}

type TrendOverride struct {
	Enabled *bool   `yaml:"enabled"`
	Type    *string `yaml:"type"`
	Period  *int    `yaml:"period"`
}

type SlicesOverride struct {
	Total       *int `yaml:"total"`
	PerEntryLow *int `yaml:"per_entry_low"`
	PerEntryMid *int `yaml:"per_entry_mid"`
}

type RiskOverride struct {
	Equity *float64 `yaml:"equity"`
}

// SymbolConfig is the merged view for one symbol.
type SymbolConfig struct {
	Symbol   string
	Strategy Strategy
	Slices   Slices
	Risk     Risk
}

// ForSymbol returns the base sections with the symbol's override merged on top.
func (c *Config) ForSymbol(symbol string) SymbolConfig {
	symbol = strings.ToUpper(symbol)
	sc := SymbolConfig{Symbol: symbol, Strategy: c.Strategy, Slices: c.Slices, Risk: c.Risk}
	if ov, ok := c.Symbols[symbol]; ok {
		sc = Merge(sc, ov)
	}
	return sc
}

// Merge overlays ov onto base section by section. Set fields win, nil fields
// keep the base value, nested sections merge recursively.
func Merge(base SymbolConfig, ov Override) SymbolConfig {
	if ov.Strategy != nil {
		base.Strategy = mergeStrategy(base.Strategy, *ov.Strategy)
	}
	if ov.Slices != nil {
		base.Slices = mergeSlices(base.Slices, *ov.Slices)
	}
	if ov.Risk != nil {
		set(&base.Risk.Equity, ov.Risk.Equity)
	}
	return base
}

func mergeStrategy(s Strategy, o StrategyOverride) Strategy {
	set(&s.Oversold, o.Oversold)
	set(&s.Overbought, o.Overbought)
	set(&s.RSIBuyThreshold, o.RSIBuyThreshold)
	set(&s.RSIBuyMultiplier, o.RSIBuyMultiplier)
	set(&s.RSILowBand, o.RSILowBand)
	set(&s.RSIMidBand, o.RSIMidBand)
	set(&s.RSISellConfirm, o.RSISellConfirm)
	set(&s.TakeProfitPct, o.TakeProfitPct)
	set(&s.StopLossPct, o.StopLossPct)
	set(&s.EnableKDBuys, o.EnableKDBuys)
	set(&s.AddCooldownSec, o.AddCooldownSec)
	set(&s.MinLot, o.MinLot)
	set(&s.RSIPeriod, o.RSIPeriod)
	set(&s.StochPeriod, o.StochPeriod)
	set(&s.KPeriod, o.KPeriod)
	set(&s.DPeriod, o.DPeriod)
	if o.Trend != nil {
		set(&s.Trend.Enabled, o.Trend.Enabled)
		set(&s.Trend.Type, o.Trend.Type)
		set(&s.Trend.Period, o.Trend.Period)
	}
	return s
}

func mergeSlices(s Slices, o SlicesOverride) Slices {
	set(&s.Total, o.Total)
	set(&s.PerEntryLow, o.PerEntryLow)
	set(&s.PerEntryMid, o.PerEntryMid)
	return s
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// Params converts the merged view into trader parameters.
func (s SymbolConfig) Params() strategy.Params {
	st := s.Strategy
	return strategy.Params{
		Oversold:          st.Oversold,
		Overbought:        st.Overbought,
		RSIBuyThreshold:   st.RSIBuyThreshold,
		RSIBuyMultiplier:  st.RSIBuyMultiplier,
		RSILowBand:        st.RSILowBand,
		RSIMidBand:        st.RSIMidBand,
		RSISellConfirm:    st.RSISellConfirm,
		TakeProfitPct:     st.TakeProfitPct,
		StopLossPct:       st.StopLossPct,
		EnableKDBuys:      st.EnableKDBuys,
		SlicesPerEntryLow: s.Slices.PerEntryLow,
		SlicesPerEntryMid: s.Slices.PerEntryMid,
		MinLot:            st.MinLot,
	}
}

// Indicator returns the Stochastic-RSI periods.
func (s SymbolConfig) Indicator() indicator.Config {
	return indicator.Config{
		RSIPeriod:   s.Strategy.RSIPeriod,
		StochPeriod: s.Strategy.StochPeriod,
		KPeriod:     s.Strategy.KPeriod,
		DPeriod:     s.Strategy.DPeriod,
	}
}

// Gates builds the enabled entry gates, or nil when none are enabled.
func (s SymbolConfig) Gates() ([]strategy.EntryGate, error) {
	var gates []strategy.EntryGate
	if s.Strategy.AddCooldownSec > 0 {
		gates = append(gates, strategy.NewCooldown(time.Duration(s.Strategy.AddCooldownSec*float64(time.Second))))
	}
	if s.Strategy.Trend.Enabled {
		tf, err := strategy.NewTrendFilter(s.Strategy.Trend.Type, s.Strategy.Trend.Period)
		if err != nil {
			return nil, err
		}
		gates = append(gates, tf)
	}
	return gates, nil
}

// Validate checks the merged view.
func (s SymbolConfig) Validate() error {
	var errs []error
	if err := s.Params().Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := s.Indicator().Validate(); err != nil {
		errs = append(errs, err)
	}
	if s.Slices.Total <= 0 {
		errs = append(errs, fmt.Errorf("slices.total must be positive, got %d", s.Slices.Total))
	}
	if s.Risk.Equity <= 0 {
		errs = append(errs, fmt.Errorf("risk.equity must be positive, got %v", s.Risk.Equity))
	}
	if s.Strategy.AddCooldownSec < 0 {
		errs = append(errs, errors.New("add_cooldown_sec must not be negative"))
	}
	if s.Strategy.Trend.Enabled {
		if _, err := s.Gates(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
