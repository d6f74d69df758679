// Package ledger holds the authoritative in-process record of open
// positions. It is mutated only by confirmed executor fills and by
// reconciliation corrections; never by a risk decision alone.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"marlin/internal/events"
	"marlin/internal/logger"
	"marlin/internal/store"
	"marlin/internal/types"

	"github.com/shopspring/decimal"
)

var (
	// ErrDuplicatePosition guards the single-live-position invariant. The
	// risk gate should have prevented this; the ledger re-checks anyway.
	ErrDuplicatePosition = errors.New("live position already exists for symbol")

	// ErrNoPosition is returned when a close or adjustment targets a symbol
	// the ledger does not track.
	ErrNoPosition = errors.New("no live position for symbol")
)

// ConsistencyError reports an internal invariant violation. The dispatcher
// parks the symbol until a reconciliation pass has run.
type ConsistencyError struct {
	Symbol string
	Detail string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("ledger consistency fault on %s: %s", e.Symbol, e.Detail)
}

// Ledger is the sole owner of Position records. Callers in the signal path
// are already serialized per symbol by the dispatcher; the internal mutex
// exists because the reconciler mutates concurrently with that path.
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]*types.Position

	store store.PositionStore
	sink  events.Sink
}

func New(ps store.PositionStore, sink events.Sink) *Ledger {
	return &Ledger{
		positions: make(map[string]*types.Position),
		store:     ps,
		sink:      sink,
	}
}

// Hydrate loads persisted live positions at startup. Must complete before the
// dispatcher accepts any signal.
func (l *Ledger) Hydrate(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	live, err := l.store.ListLive(ctx)
	if err != nil {
		return fmt.Errorf("ledger hydrate: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range live {
		pos := live[i]
		l.positions[pos.Symbol] = &pos
	}
	logger.Infof("Ledger: hydrated %d live positions", len(live))
	return nil
}

// Open creates the position for a confirmed entry fill.
func (l *Ledger) Open(fill types.Fill, stopLoss, takeProfit float64) (*types.Position, error) {
	if fill.Symbol == "" || fill.Quantity <= 0 || fill.Price <= 0 {
		return nil, &ConsistencyError{Symbol: fill.Symbol, Detail: fmt.Sprintf("open with degenerate fill qty=%v price=%v", fill.Quantity, fill.Price)}
	}

	l.mu.Lock()
	if existing := l.positions[fill.Symbol]; existing.Live() {
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicatePosition, fill.Symbol)
	}
	pos := &types.Position{
		Symbol:     fill.Symbol,
		Side:       fill.Side,
		EntryPrice: fill.Price,
		Quantity:   fill.Quantity,
		OpenedAt:   orNow(fill.FilledAt),
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		Status:     types.PositionOpen,
	}
	l.positions[fill.Symbol] = pos
	snapshot := *pos
	l.mu.Unlock()

	l.persist(snapshot)
	events.Emit(l.sink, events.PositionOpened, snapshot.Symbol, map[string]any{
		"side":     string(snapshot.Side),
		"quantity": snapshot.Quantity,
		"entry":    snapshot.EntryPrice,
		"order_id": fill.OrderID,
	})
	return &snapshot, nil
}

// MarkClosing transitions OPEN -> CLOSING once a close intent is accepted.
func (l *Ledger) MarkClosing(symbol string) error {
	l.mu.Lock()
	pos := l.positions[symbol]
	if !pos.Live() {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoPosition, symbol)
	}
	pos.Status = types.PositionClosing
	snapshot := *pos
	l.mu.Unlock()

	l.persist(snapshot)
	return nil
}

// Close finalizes the position with the matching exit fill and records the
// realized profit, sign-adjusted for direction.
func (l *Ledger) Close(fill types.Fill, reason string) (*types.Position, error) {
	l.mu.Lock()
	pos := l.positions[fill.Symbol]
	if !pos.Live() {
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNoPosition, fill.Symbol)
	}
	pos.Status = types.PositionClosed
	pos.ExitPrice = fill.Price
	pos.ClosedAt = orNow(fill.FilledAt)
	pos.CloseReason = reason
	pos.RealizedPnL = realizedPnL(pos.Side, pos.EntryPrice, fill.Price, pos.Quantity)
	snapshot := *pos
	delete(l.positions, fill.Symbol)
	l.mu.Unlock()

	l.persist(snapshot)
	events.Emit(l.sink, events.PositionClosed, snapshot.Symbol, map[string]any{
		"exit":         snapshot.ExitPrice,
		"realized_pnl": snapshot.RealizedPnL,
		"reason":       reason,
		"source":       string(fill.Source),
	})
	return &snapshot, nil
}

// AdjustQuantity sets the ledger quantity to the exchange-reported value.
// Reconciliation only; the correction is persisted and attributed.
func (l *Ledger) AdjustQuantity(symbol string, quantity float64) (*types.Position, error) {
	if quantity <= 0 {
		return nil, &ConsistencyError{Symbol: symbol, Detail: fmt.Sprintf("adjust to non-positive quantity %v", quantity)}
	}
	l.mu.Lock()
	pos := l.positions[symbol]
	if !pos.Live() {
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNoPosition, symbol)
	}
	pos.Quantity = quantity
	snapshot := *pos
	l.mu.Unlock()

	l.persist(snapshot)
	return &snapshot, nil
}

// Snapshot returns a copy of the live position for the symbol, or nil.
func (l *Ledger) Snapshot(symbol string) *types.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[symbol]
	if !ok || !pos.Live() {
		return nil
	}
	cp := *pos
	return &cp
}

// All returns copies of every live position, ordered by symbol.
func (l *Ledger) All() []types.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]types.Position, 0, len(l.positions))
	for _, pos := range l.positions {
		if pos.Live() {
			out = append(out, *pos)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// LiveCount returns the number of live positions, the figure the risk gate
// checks against max_open_positions.
func (l *Ledger) LiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, pos := range l.positions {
		if pos.Live() {
			n++
		}
	}
	return n
}

func (l *Ledger) persist(pos types.Position) {
	if l.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.store.Save(ctx, pos); err != nil {
		logger.Warnf("Ledger: persist %s failed: %v", pos.Symbol, err)
	}
}

// realizedPnL = (exit − entry) × qty for BUY entries, (entry − exit) × qty
// for SELL entries. Decimal math so reported PnL matches statement arithmetic.
func realizedPnL(side types.Side, entry, exit, qty float64) float64 {
	e := decimal.NewFromFloat(entry)
	x := decimal.NewFromFloat(exit)
	q := decimal.NewFromFloat(qty)
	diff := x.Sub(e)
	if side == types.SideSell {
		diff = e.Sub(x)
	}
	pnl, _ := diff.Mul(q).Float64()
	return pnl
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
