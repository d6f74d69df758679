// Package risk implements the pure validation and sizing gate between
// strategy signals and order execution. No I/O happens here.
package risk

import (
	"fmt"

	"marlin/internal/gateway/exchange"
	"marlin/internal/types"

	"github.com/shopspring/decimal"
)

// Parameters are the per-strategy risk limits. Immutable for the lifetime of
// a run; loaded once from config.
type Parameters struct {
	PositionSizeFraction float64 // fraction of equity committed per position, (0,1]
	MaxOpenPositions     int     // >= 1
	StopLossPct          float64 // >= 0, 0 disables
	TakeProfitPct        float64 // >= 0, 0 disables
}

func (p Parameters) Validate() error {
	if p.PositionSizeFraction <= 0 || p.PositionSizeFraction > 1 {
		return fmt.Errorf("position_size_fraction must be in (0,1], got %v", p.PositionSizeFraction)
	}
	if p.MaxOpenPositions < 1 {
		return fmt.Errorf("max_open_positions must be >= 1, got %d", p.MaxOpenPositions)
	}
	if p.StopLossPct < 0 {
		return fmt.Errorf("stop_loss_pct must be >= 0, got %v", p.StopLossPct)
	}
	if p.TakeProfitPct < 0 {
		return fmt.Errorf("take_profit_pct must be >= 0, got %v", p.TakeProfitPct)
	}
	return nil
}

// RejectReason enumerates why the gate refused a signal.
type RejectReason string

const (
	PositionAlreadyOpen  RejectReason = "PositionAlreadyOpen"
	MaxPositionsReached  RejectReason = "MaxPositionsReached"
	NoPositionToClose    RejectReason = "NoPositionToClose"
	BelowMinimumNotional RejectReason = "BelowMinimumNotional"
	InvalidSignal        RejectReason = "InvalidSignal"
)

// ValidationError is a gate rejection. Recoverable: logged, never retried.
type ValidationError struct {
	Reason RejectReason
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

func reject(reason RejectReason, format string, v ...any) *ValidationError {
	return &ValidationError{Reason: reason, Detail: fmt.Sprintf(format, v...)}
}

// Snapshot is the ledger view the gate decides against: the live position for
// the signal's symbol (nil if none) and the number of live positions overall.
type Snapshot struct {
	Position  *types.Position
	LiveCount int
}

// Gate sizes and validates signals against the configured limits.
type Gate struct {
	params Parameters
}

func NewGate(params Parameters) (*Gate, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Gate{params: params}, nil
}

func (g *Gate) Params() Parameters { return g.params }

// Evaluate applies the rules in order; the first failing rule wins.
// Deterministic given its inputs, so rejections are never retried.
func (g *Gate) Evaluate(sig types.Signal, snap Snapshot, equity float64, filters exchange.SymbolFilters) (*types.OrderIntent, *ValidationError) {
	if sig.Symbol == "" || !sig.Side.Valid() {
		return nil, reject(InvalidSignal, "symbol=%q side=%q", sig.Symbol, sig.Side)
	}

	if sig.Side == types.SideBuy {
		if snap.Position.Live() {
			return nil, reject(PositionAlreadyOpen, "%s already has a live position", sig.Symbol)
		}
		if snap.LiveCount >= g.params.MaxOpenPositions {
			return nil, reject(MaxPositionsReached, "%d/%d positions open", snap.LiveCount, g.params.MaxOpenPositions)
		}
		return g.sizeEntry(sig, equity, filters)
	}

	// SELL / CLOSE
	if !snap.Position.Live() {
		return nil, reject(NoPositionToClose, "no live position for %s", sig.Symbol)
	}
	return &types.OrderIntent{
		Symbol:         sig.Symbol,
		Side:           sig.Side,
		Quantity:       snap.Position.Quantity,
		Market:         true,
		IdempotencyKey: types.IdempotencyKey(sig.Symbol, sig.Side, sig.EmittedAt),
		SignalReason:   sig.Reason,
		EmittedAt:      sig.EmittedAt,
	}, nil
}

// sizeEntry computes quantity = (equity × fraction) / price, floored to the
// venue's lot step. Decimal arithmetic end to end; float rounding must not
// decide a notional boundary.
func (g *Gate) sizeEntry(sig types.Signal, equity float64, filters exchange.SymbolFilters) (*types.OrderIntent, *ValidationError) {
	if sig.Price <= 0 {
		return nil, reject(InvalidSignal, "price hint %v not positive", sig.Price)
	}
	if equity <= 0 {
		return nil, reject(BelowMinimumNotional, "account equity %v not positive", equity)
	}

	price := decimal.NewFromFloat(sig.Price)
	stake := decimal.NewFromFloat(equity).Mul(decimal.NewFromFloat(g.params.PositionSizeFraction))
	qty := stake.Div(price)

	if filters.LotStep > 0 {
		step := decimal.NewFromFloat(filters.LotStep)
		qty = qty.Div(step).Floor().Mul(step)
	}
	if filters.MinQty > 0 && qty.LessThan(decimal.NewFromFloat(filters.MinQty)) {
		return nil, reject(BelowMinimumNotional, "qty %s under minimum %v", qty, filters.MinQty)
	}

	notional := qty.Mul(price)
	if filters.MinNotional > 0 && notional.LessThan(decimal.NewFromFloat(filters.MinNotional)) {
		return nil, reject(BelowMinimumNotional, "notional %s under minimum %v", notional, filters.MinNotional)
	}
	if qty.IsZero() || qty.IsNegative() {
		return nil, reject(BelowMinimumNotional, "sized quantity %s not positive", qty)
	}

	quantity, _ := qty.Float64()
	intent := &types.OrderIntent{
		Symbol:         sig.Symbol,
		Side:           types.SideBuy,
		Quantity:       quantity,
		Market:         true,
		IdempotencyKey: types.IdempotencyKey(sig.Symbol, types.SideBuy, sig.EmittedAt),
		SignalReason:   sig.Reason,
		EmittedAt:      sig.EmittedAt,
	}
	if g.params.StopLossPct > 0 {
		intent.StopLoss = round(sig.Price*(1-g.params.StopLossPct/100), filters.PricePrec)
	}
	if g.params.TakeProfitPct > 0 {
		intent.TakeProfit = round(sig.Price*(1+g.params.TakeProfitPct/100), filters.PricePrec)
	}
	return intent, nil
}

func round(v float64, prec int) float64 {
	if prec <= 0 {
		return v
	}
	f, _ := decimal.NewFromFloat(v).Round(int32(prec)).Float64()
	return f
}
