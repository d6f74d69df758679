package types

import (
	"time"
)

// PositionStatus is the lifecycle state of a tracked position.
type PositionStatus string

const (
	PositionOpen    PositionStatus = "OPEN"
	PositionClosing PositionStatus = "CLOSING"
	PositionClosed  PositionStatus = "CLOSED"
)

// Position is the engine's record of an open exposure to a symbol. At most
// one non-CLOSED Position exists per symbol; the ledger enforces it.
type Position struct {
	Symbol     string         `json:"symbol"`
	Side       Side           `json:"side"` // entry direction, BUY or SELL
	EntryPrice float64        `json:"entry_price"`
	Quantity   float64        `json:"quantity"`
	OpenedAt   time.Time      `json:"opened_at"`
	StopLoss   float64        `json:"stop_loss,omitempty"`
	TakeProfit float64        `json:"take_profit,omitempty"`
	Status     PositionStatus `json:"status"`

	ExitPrice   float64   `json:"exit_price,omitempty"`
	RealizedPnL float64   `json:"realized_pnl,omitempty"`
	ClosedAt    time.Time `json:"closed_at,omitempty"`
	CloseReason string    `json:"close_reason,omitempty"`
}

// Live reports whether the position still counts against risk limits.
func (p *Position) Live() bool {
	if p == nil {
		return false
	}
	return p.Status == PositionOpen || p.Status == PositionClosing
}

// Notional returns quantity × entry price, the committed stake in quote
// currency at open time.
func (p *Position) Notional() float64 {
	if p == nil {
		return 0
	}
	return p.Quantity * p.EntryPrice
}

// FillSource attributes a ledger mutation to its origin. Every mutation is
// either a confirmed exchange fill or a reconciliation correction.
type FillSource string

const (
	FillSourceOrder     FillSource = "order"
	FillSourceReconcile FillSource = "reconcile"
)

// Fill is a confirmed execution applied to the ledger.
type Fill struct {
	Symbol   string     `json:"symbol"`
	Side     Side       `json:"side"`
	Quantity float64    `json:"quantity"`
	Price    float64    `json:"price"`
	OrderID  string     `json:"order_id,omitempty"`
	Source   FillSource `json:"source"`
	FilledAt time.Time  `json:"filled_at"`
}
