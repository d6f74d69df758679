package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// idempotencyNS namespaces the UUIDv5 derivation so keys cannot collide with
// other uuid producers in the process.
var idempotencyNS = uuid.MustParse("7b0265b3-6f9c-4a41-9bcd-3f3a8c2f5a10")

// OrderIntent is a sized, risk-approved order awaiting submission. Created by
// the risk gate, consumed exactly once by the executor.
type OrderIntent struct {
	Symbol   string  `json:"symbol"`
	Side     Side    `json:"side"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`  // limit price; ignored when Market
	Market   bool    `json:"market"` // market order flag

	// IdempotencyKey is derived deterministically from the originating
	// signal, so a retried submission cannot duplicate an order.
	IdempotencyKey string `json:"idempotency_key"`

	StopLoss   float64 `json:"stop_loss,omitempty"`
	TakeProfit float64 `json:"take_profit,omitempty"`

	SignalReason string    `json:"signal_reason,omitempty"`
	EmittedAt    time.Time `json:"emitted_at"`
}

// IdempotencyKey derives the client order id for a signal. Same signal, same
// key: the exchange adapter treats a duplicate key as a no-op returning the
// original order's state.
func IdempotencyKey(symbol string, side Side, emittedAt time.Time) string {
	seed := fmt.Sprintf("%s|%d|%s", strings.ToUpper(strings.TrimSpace(symbol)), emittedAt.UnixNano(), side)
	return "mrl-" + uuid.NewSHA1(idempotencyNS, []byte(seed)).String()
}
