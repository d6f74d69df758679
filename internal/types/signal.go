package types

import (
	"time"
)

// Side is a signal / order direction.
type Side string

const (
	SideBuy   Side = "BUY"
	SideSell  Side = "SELL"
	SideClose Side = "CLOSE"
)

func (s Side) Valid() bool {
	switch s {
	case SideBuy, SideSell, SideClose:
		return true
	}
	return false
}

// Exit reports whether the side reduces an existing position.
func (s Side) Exit() bool {
	return s == SideSell || s == SideClose
}

// Signal is a directional trading suggestion produced by strategy logic.
// It is immutable once created and ephemeral: consumed by the dispatcher,
// never persisted (the audit trail records the orders it produced).
type Signal struct {
	Symbol    string         `json:"symbol"`
	Side      Side           `json:"side"`
	Price     float64        `json:"price"` // hint; executor places market orders
	Reason    string         `json:"reason"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	EmittedAt time.Time      `json:"emitted_at"`
}
