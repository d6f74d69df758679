// Package reconcile cross-checks the position ledger against
// exchange-reported account state and repairs drift. It is the system's
// source of eventual consistency: the ledger is only as correct as the last
// pass here, and that bounded staleness window is accepted behaviour.
package reconcile

import (
	"context"
	"errors"
	"math"
	"time"

	"marlin/internal/events"
	"marlin/internal/gateway/exchange"
	"marlin/internal/ledger"
	"marlin/internal/logger"
	"marlin/internal/scheduler"
	"marlin/internal/types"
)

// Config bounds the loop's cadence and drift sensitivity.
type Config struct {
	Interval    time.Duration
	Tolerance   float64 // absolute base-asset drift treated as noise
	DustEpsilon float64 // below this the exchange balance counts as flat
	CallTimeout time.Duration
	// Universe lists the symbols the engine trades; used to report (never
	// adopt) untracked exchange balances.
	Universe []string
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.Tolerance <= 0 {
		c.Tolerance = 1e-8
	}
	if c.DustEpsilon <= 0 {
		c.DustEpsilon = 1e-8
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 5 * time.Second
	}
	return c
}

// Loop periodically compares each live ledger position against the venue.
type Loop struct {
	venue exchange.Exchange
	book  *ledger.Ledger
	sink  events.Sink
	cfg   Config

	sched *scheduler.IntervalScheduler

	// onPass is invoked with each symbol checked in a pass; the dispatcher
	// uses it to unpark symbols held after a consistency fault.
	onPass func(symbol string)
}

func New(venue exchange.Exchange, book *ledger.Ledger, sink events.Sink, cfg Config) *Loop {
	return &Loop{
		venue: venue,
		book:  book,
		sink:  sink,
		cfg:   cfg.withDefaults(),
	}
}

// SetPassHook registers the per-symbol completion callback. Wiring-time only.
func (l *Loop) SetPassHook(fn func(symbol string)) { l.onPass = fn }

// Nudge schedules an out-of-band pass; the executor calls this after every
// terminal order outcome.
func (l *Loop) Nudge(string) {
	if l.sched != nil {
		l.sched.Nudge()
	}
}

// Run blocks until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	l.sched = scheduler.NewIntervalScheduler(ctx, l.cfg.Interval)
	l.sched.RunImmediately = true
	l.sched.Start(func() { l.Pass(ctx) })
	return nil
}

// Pass runs one reconciliation sweep. Exported so tests and the admin API can
// trigger it directly.
func (l *Loop) Pass(ctx context.Context) {
	tracked := make(map[string]bool)
	for _, pos := range l.book.All() {
		tracked[pos.Symbol] = true
		l.reconcileSymbol(ctx, pos)
	}
	l.reportUntracked(ctx, tracked)
}

func (l *Loop) reconcileSymbol(ctx context.Context, pos types.Position) {
	defer func() {
		if l.onPass != nil {
			l.onPass(pos.Symbol)
		}
	}()

	callCtx, cancel := context.WithTimeout(ctx, l.cfg.CallTimeout)
	qty, err := l.venue.AccountPosition(callCtx, pos.Symbol)
	cancel()
	if err != nil {
		logger.Warnf("Reconcile: %s balance fetch failed: %v", pos.Symbol, err)
		return
	}

	switch {
	case qty <= l.cfg.DustEpsilon:
		// The position was closed outside the engine's own order flow
		// (manual intervention, liquidation). Exit price is unknown here, so
		// the reconciliation fill carries the entry price and PnL stays 0
		// until a better source reports it.
		fill := types.Fill{
			Symbol:   pos.Symbol,
			Side:     exitSide(pos.Side),
			Quantity: pos.Quantity,
			Price:    pos.EntryPrice,
			Source:   types.FillSourceReconcile,
			FilledAt: time.Now(),
		}
		if _, err := l.book.Close(fill, "reconcile:exchange-flat"); err != nil {
			if !errors.Is(err, ledger.ErrNoPosition) {
				logger.Errorf("Reconcile: force close %s failed: %v", pos.Symbol, err)
			}
			return
		}
		events.Emit(l.sink, events.DriftDetected, pos.Symbol, map[string]any{
			"kind":       "exchange_flat",
			"before_qty": pos.Quantity,
			"after_qty":  0.0,
		})

	case math.Abs(qty-pos.Quantity) > l.cfg.Tolerance:
		if _, err := l.book.AdjustQuantity(pos.Symbol, qty); err != nil {
			if !errors.Is(err, ledger.ErrNoPosition) {
				logger.Errorf("Reconcile: adjust %s failed: %v", pos.Symbol, err)
			}
			return
		}
		events.Emit(l.sink, events.DriftDetected, pos.Symbol, map[string]any{
			"kind":       "quantity_drift",
			"before_qty": pos.Quantity,
			"after_qty":  qty,
		})
	}
}

// reportUntracked surfaces exchange balances for universe symbols the ledger
// does not track. They are reported, never adopted: the engine must not take
// ownership of positions it did not open.
func (l *Loop) reportUntracked(ctx context.Context, tracked map[string]bool) {
	for _, symbol := range l.cfg.Universe {
		if tracked[symbol] {
			continue
		}
		callCtx, cancel := context.WithTimeout(ctx, l.cfg.CallTimeout)
		qty, err := l.venue.AccountPosition(callCtx, symbol)
		cancel()
		if err != nil {
			logger.Debugf("Reconcile: untracked balance fetch %s: %v", symbol, err)
			continue
		}
		if qty > l.cfg.DustEpsilon {
			events.Emit(l.sink, events.UntrackedBalance, symbol, map[string]any{
				"quantity": qty,
			})
		}
	}
}

func exitSide(entry types.Side) types.Side {
	if entry == types.SideSell {
		return types.SideBuy
	}
	return types.SideSell
}
