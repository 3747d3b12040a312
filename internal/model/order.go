package model

import (
	"fmt"
	"time"
)

// Side is the direction of an order intent.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType is how the broker should price an order.
type OrderType string

const (
	OrderMarket       OrderType = "MARKET"
	OrderLimitOnClose OrderType = "LIMIT_ON_CLOSE"
)

// Short returns the compact code used in notifications ("MKT" / "LOC").
func (o OrderType) Short() string {
	switch o {
	case OrderMarket:
		return "MKT"
	case OrderLimitOnClose:
		return "LOC"
	default:
		return string(o)
	}
}

// OrderIntent is a decided order produced by a trader. It is handed to a sink
// and never retained by the producer.
type OrderIntent struct {
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Qty        int64     `json:"qty"`
	Type       OrderType `json:"type"`
	LimitPrice float64   `json:"limit_price,omitempty"` // only for LIMIT_ON_CLOSE
	Reason     string    `json:"reason"`
	TS         time.Time `json:"ts"`
}

// HasLimit reports whether the intent carries a limit price.
func (o *OrderIntent) HasLimit() bool {
	return o.Type == OrderLimitOnClose && o.LimitPrice > 0
}

func (o OrderIntent) String() string {
	if o.HasLimit() {
		return fmt.Sprintf("%s %s %d %s @%.4f", o.Symbol, o.Side, o.Qty, o.Type.Short(), o.LimitPrice)
	}
	return fmt.Sprintf("%s %s %d %s", o.Symbol, o.Side, o.Qty, o.Type.Short())
}

// OrderStatus values written to the journal.
const (
	StatusSubmitted = "SUBMITTED"
	StatusRejected  = "REJECTED"
)

// OrderRecord is the persisted form of a routed order.
type OrderRecord struct {
	ClOrdID    string    `json:"clordid"`
	BrokerID   string    `json:"broker_id"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Qty        int64     `json:"qty"`
	Type       OrderType `json:"type"`
	LimitPrice float64   `json:"limit_price"`
	Status     string    `json:"status"`
	Mode       string    `json:"mode"` // paper, live
	Reason     string    `json:"reason"`
	TS         time.Time `json:"ts"`
}
