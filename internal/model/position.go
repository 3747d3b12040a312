package model

import "time"

// Position is a read-only view of one symbol's trader state.
type Position struct {
	Symbol      string  `json:"symbol"`
	Qty         int64   `json:"qty"`
	AvgPrice    float64 `json:"avg_price"`
	LastPrice   float64 `json:"last_price"`
	SlicesInUse int     `json:"slices_in_use"`
	BatchActive bool    `json:"batch_active"`
}

// UnrealizedPnL returns (last - avg) * qty, or 0 when flat.
func (p *Position) UnrealizedPnL() float64 {
	if p.Qty <= 0 {
		return 0
	}
	return (p.LastPrice - p.AvgPrice) * float64(p.Qty)
}

// SignalRecord is one indicator reading journaled by the live bot.
type SignalRecord struct {
	Symbol string    `json:"symbol"`
	Side   string    `json:"side"` // TICK for plain readings
	K      float64   `json:"k"`
	D      float64   `json:"d"`
	Note   string    `json:"note,omitempty"`
	TS     time.Time `json:"ts"`
}

// BacktestRun is the persisted summary of one replay.
type BacktestRun struct {
	RunID    string    `json:"run_id"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	Params   []byte    `json:"params"`  // JSON
	Metrics  []byte    `json:"metrics"` // JSON
}
