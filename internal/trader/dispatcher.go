// Package trader hosts the signal dispatcher: one sequential worker per
// symbol, fed by a bounded queue. Within a symbol everything from risk
// evaluation through ledger mutation runs strictly in emission order; across
// symbols the workers are fully independent. No global lock exists.
package trader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"marlin/internal/events"
	"marlin/internal/executor"
	"marlin/internal/gateway/exchange"
	"marlin/internal/ledger"
	"marlin/internal/logger"
	"marlin/internal/market"
	"marlin/internal/pkg/symbol"
	"marlin/internal/risk"
	"marlin/internal/types"
)

var (
	// ErrIncompleteData rejects signals whose indicator window has not
	// warmed up. The signal is dropped, never queued: a stale decision is
	// worse than a missed one.
	ErrIncompleteData = errors.New("indicator data incomplete")

	// ErrQueueFull rejects signals when a symbol's worker is saturated.
	ErrQueueFull = errors.New("symbol queue full")

	// ErrStopped rejects signals after shutdown began.
	ErrStopped = errors.New("dispatcher stopped")
)

// Config bounds dispatcher behaviour.
type Config struct {
	QueueSize int
	// OpTimeout caps one signal's full pipeline (risk -> submit -> ledger).
	OpTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = 3 * time.Minute
	}
	return c
}

// Dispatcher routes signals to per-symbol workers.
type Dispatcher struct {
	gate  *risk.Gate
	exec  *executor.Executor
	book  *ledger.Ledger
	venue exchange.Exchange
	sink  events.Sink
	cfg   Config

	// required lists the indicators the configured strategies need; a signal
	// arriving with an incomplete set is rejected with ErrIncompleteData.
	// Stored atomically: profile reloads replace it while the feed
	// goroutine reads it.
	required atomic.Pointer[[]string]

	// nudge asks the reconciler for an out-of-band pass after a
	// consistency fault.
	nudge func(symbol string)

	mu      sync.Mutex
	workers map[string]*worker
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDispatcher(gate *risk.Gate, exec *executor.Executor, book *ledger.Ledger, venue exchange.Exchange, sink events.Sink, cfg Config) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		gate:    gate,
		exec:    exec,
		book:    book,
		venue:   venue,
		sink:    sink,
		cfg:     cfg.withDefaults(),
		workers: make(map[string]*worker),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SetRequiredIndicators declares the indicator names signals must arrive
// with. Called at wiring time and again on every profile reload, so the
// slice is swapped atomically rather than assigned.
func (d *Dispatcher) SetRequiredIndicators(names []string) {
	cp := append([]string(nil), names...)
	d.required.Store(&cp)
}

func (d *Dispatcher) requiredIndicators() []string {
	if p := d.required.Load(); p != nil {
		return *p
	}
	return nil
}

// SetReconcileNudge registers the reconciler hook. Wiring-time only.
func (d *Dispatcher) SetReconcileNudge(fn func(symbol string)) { d.nudge = fn }

// Dispatch validates a strategy-emitted signal against its tick's indicator
// set and enqueues it on the symbol's worker. Same-symbol signals are
// processed strictly in emission order.
func (d *Dispatcher) Dispatch(sig types.Signal, indicators market.IndicatorSet) error {
	if !indicators.Complete(d.requiredIndicators()) {
		logger.Debugf("Dispatcher: %s signal dropped, indicators incomplete", sig.Symbol)
		return fmt.Errorf("%w: %s", ErrIncompleteData, sig.Symbol)
	}
	return d.enqueue(sig)
}

// Inject enqueues an operator-issued signal, bypassing the indicator
// completeness check (the admin API has no indicator context).
func (d *Dispatcher) Inject(sig types.Signal) error {
	return d.enqueue(sig)
}

// CheckProtectiveExits compares a closed candle against the symbol's live
// position and enqueues a CLOSE when the stop-loss or take-profit level was
// crossed. Positions already in CLOSING have an exit in flight and are
// skipped.
func (d *Dispatcher) CheckProtectiveExits(candle market.Candle) {
	pos := d.book.Snapshot(candle.Symbol)
	if pos == nil || pos.Status != types.PositionOpen || pos.Side != types.SideBuy {
		return
	}

	var reason string
	switch {
	case pos.StopLoss > 0 && candle.Low <= pos.StopLoss:
		reason = fmt.Sprintf("stop loss %.8g hit (low %.8g)", pos.StopLoss, candle.Low)
	case pos.TakeProfit > 0 && candle.High >= pos.TakeProfit:
		reason = fmt.Sprintf("take profit %.8g hit (high %.8g)", pos.TakeProfit, candle.High)
	default:
		return
	}

	sig := types.Signal{
		Symbol:    candle.Symbol,
		Side:      types.SideClose,
		Price:     candle.Close,
		Reason:    reason,
		EmittedAt: candle.CloseTime,
	}
	if err := d.enqueue(sig); err != nil {
		logger.Warnf("Dispatcher: protective exit for %s not enqueued: %v", candle.Symbol, err)
	}
}

func (d *Dispatcher) enqueue(sig types.Signal) error {
	norm := symbol.Normalize(sig.Symbol)
	if norm == "" {
		return fmt.Errorf("unparseable symbol %q", sig.Symbol)
	}
	sig.Symbol = norm
	if !sig.Side.Valid() {
		return fmt.Errorf("invalid side %q for %s", sig.Side, sig.Symbol)
	}
	if sig.EmittedAt.IsZero() {
		sig.EmittedAt = time.Now()
	}

	w, err := d.workerFor(norm)
	if err != nil {
		return err
	}
	return w.enqueue(sig)
}

func (d *Dispatcher) workerFor(sym string) (*worker, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return nil, ErrStopped
	}
	w, ok := d.workers[sym]
	if !ok {
		w = newWorker(d, sym)
		d.workers[sym] = w
		d.wg.Add(1)
		go w.run()
	}
	return w, nil
}

// Resume unparks a symbol after a reconciliation pass has inspected it. The
// reconciler's pass hook calls this for every symbol it checked.
func (d *Dispatcher) Resume(sym string) {
	d.mu.Lock()
	w := d.workers[symbol.Normalize(sym)]
	d.mu.Unlock()
	if w != nil {
		w.unpark()
	}
}

// Parked reports whether the symbol's processing is held behind a
// consistency fault. Admin surface.
func (d *Dispatcher) Parked(sym string) bool {
	d.mu.Lock()
	w := d.workers[symbol.Normalize(sym)]
	d.mu.Unlock()
	return w != nil && w.isParked()
}

// Stop drains nothing: queued signals are abandoned, in-flight pipeline steps
// get their context canceled. Exchange truth is re-established by the next
// reconcile pass after restart.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
	logger.Infof("Dispatcher: stopped")
}
