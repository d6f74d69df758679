package store

import (
	"context"
	"io"

	"marlin/internal/types"
)

// PositionStore persists ledger positions so the engine survives restarts.
// Load is performed once per symbol at startup before any signal is accepted
// for it.
type PositionStore interface {
	// Save upserts the current state of a position, keyed by symbol plus
	// opened-at.
	Save(ctx context.Context, pos types.Position) error

	// LoadLive returns the live (non-CLOSED) position for the symbol, or nil
	// when there is none.
	LoadLive(ctx context.Context, symbol string) (*types.Position, error)

	// ListLive returns every live position, ordered by symbol.
	ListLive(ctx context.Context) ([]types.Position, error)
}

// OrderAudit is one submission attempt's outcome, kept for the audit trail.
type OrderAudit struct {
	IdempotencyKey string
	Symbol         string
	Side           string
	Quantity       float64
	Status         string
	ExchangeID     string
	AvgPrice       float64
	Attempts       int
	Error          string
	Metadata       map[string]any
}

// OrderStore records order submissions and their fills.
type OrderStore interface {
	RecordOrder(ctx context.Context, audit OrderAudit) error
	RecordFill(ctx context.Context, fill types.Fill) error
}

// EventStore appends engine observability events for later inspection.
type EventStore interface {
	AppendEvent(ctx context.Context, eventType, symbol string, fields map[string]any) error
}

// Store aggregates the persistence surfaces behind one handle.
type Store interface {
	PositionStore
	OrderStore
	EventStore
	Close() error
}

// Combined bundles independent backends behind the Store surface. Positions
// and orders may live in one database while the event journal lives in
// another.
type Combined struct {
	PositionStore
	OrderStore
	EventStore
	closers []io.Closer
}

func NewCombined(pos PositionStore, orders OrderStore, events EventStore, closers ...io.Closer) *Combined {
	return &Combined{
		PositionStore: pos,
		OrderStore:    orders,
		EventStore:    events,
		closers:       closers,
	}
}

func (c *Combined) Close() error {
	var first error
	for _, cl := range c.closers {
		if err := cl.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
