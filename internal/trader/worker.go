package trader

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"marlin/internal/events"
	"marlin/internal/executor"
	"marlin/internal/gateway/exchange"
	"marlin/internal/ledger"
	"marlin/internal/logger"
	"marlin/internal/risk"
	"marlin/internal/types"
)

// worker is the per-symbol serialization unit: a single goroutine draining a
// bounded FIFO queue. It never holds any other symbol's processing.
type worker struct {
	d      *Dispatcher
	symbol string
	queue  chan types.Signal

	// pendingExits counts queued SELL/CLOSE signals. A queued BUY is
	// superseded (dropped before submission) while any exit is pending.
	pendingExits atomic.Int32

	// parked holds processing after a consistency fault until a
	// reconciliation pass clears the symbol.
	parked atomic.Bool
}

func newWorker(d *Dispatcher, sym string) *worker {
	return &worker{
		d:      d,
		symbol: sym,
		queue:  make(chan types.Signal, d.cfg.QueueSize),
	}
}

func (w *worker) enqueue(sig types.Signal) error {
	// Count the exit before the send: the worker may drain the signal (and
	// run its deferred decrement) before a post-send increment would land.
	exit := sig.Side.Exit()
	if exit {
		w.pendingExits.Add(1)
	}
	select {
	case w.queue <- sig:
		return nil
	default:
		if exit {
			w.pendingExits.Add(-1)
		}
		return fmt.Errorf("%w: %s", ErrQueueFull, w.symbol)
	}
}

func (w *worker) run() {
	defer w.d.wg.Done()
	logger.Debugf("Worker %s: started", w.symbol)
	for {
		select {
		case <-w.d.ctx.Done():
			logger.Debugf("Worker %s: stopping", w.symbol)
			return
		case sig := <-w.queue:
			w.handle(sig)
		}
	}
}

// handle runs one signal through the pipeline. Panics are contained to the
// symbol: a bad signal must not take down the other workers.
func (w *worker) handle(sig types.Signal) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Worker %s: panic handling %s signal: %v", w.symbol, sig.Side, r)
			debug.PrintStack()
		}
		if dur := time.Since(start); dur > 30*time.Second {
			logger.Warnf("Worker %s: slow signal %s took %v", w.symbol, sig.Side, dur)
		}
	}()

	if sig.Side.Exit() {
		defer w.pendingExits.Add(-1)
	}

	if w.parked.Load() {
		logger.Warnf("Worker %s: parked after consistency fault, %s signal dropped", w.symbol, sig.Side)
		return
	}

	if sig.Side == types.SideBuy && w.pendingExits.Load() > 0 {
		// A later exit supersedes this entry before submission starts.
		logger.Infof("Worker %s: BUY superseded by queued exit, dropped", w.symbol)
		return
	}

	ctx, cancel := context.WithTimeout(w.d.ctx, w.d.cfg.OpTimeout)
	defer cancel()
	w.process(ctx, sig)
}

func (w *worker) process(ctx context.Context, sig types.Signal) {
	intent, rejection := w.evaluate(ctx, sig)
	if rejection != nil {
		logger.Infof("Worker %s: %s rejected: %s", w.symbol, sig.Side, rejection)
		events.Emit(w.d.sink, events.OrderRejected, w.symbol, map[string]any{
			"side":   string(sig.Side),
			"reason": string(rejection.Reason),
			"detail": rejection.Detail,
		})
		return
	}
	if intent == nil {
		return // pre-gate failure, already logged
	}

	if sig.Side == types.SideBuy {
		w.openFlow(ctx, sig, intent)
		return
	}
	w.closeFlow(ctx, sig, intent)
}

// evaluate gathers the gate's inputs (the only I/O before the pure decision)
// and runs the rules.
func (w *worker) evaluate(ctx context.Context, sig types.Signal) (*types.OrderIntent, *risk.ValidationError) {
	filters, err := w.d.venue.SymbolFilters(ctx, w.symbol)
	if err != nil {
		logger.Warnf("Worker %s: symbol filters unavailable, signal dropped: %v", w.symbol, err)
		return nil, nil
	}

	equity := 0.0
	if sig.Side == types.SideBuy {
		equity, err = w.d.venue.Equity(ctx)
		if err != nil {
			logger.Warnf("Worker %s: equity unavailable, BUY dropped: %v", w.symbol, err)
			return nil, nil
		}
	}

	snap := risk.Snapshot{
		Position:  w.d.book.Snapshot(w.symbol),
		LiveCount: w.d.book.LiveCount(),
	}
	return w.d.gate.Evaluate(sig, snap, equity, filters)
}

func (w *worker) openFlow(ctx context.Context, sig types.Signal, intent *types.OrderIntent) {
	fill, err := w.d.exec.Execute(ctx, *intent)
	if err != nil {
		w.reportExecFailure(sig, err)
		return
	}

	if _, err := w.d.book.Open(*fill, intent.StopLoss, intent.TakeProfit); err != nil {
		w.faultOn(err)
		return
	}
	logger.Infof("Worker %s: position opened qty=%v entry=%v", w.symbol, fill.Quantity, fill.Price)
}

func (w *worker) closeFlow(ctx context.Context, sig types.Signal, intent *types.OrderIntent) {
	if err := w.d.book.MarkClosing(w.symbol); err != nil {
		w.faultOn(err)
		return
	}

	fill, err := w.d.exec.Execute(ctx, *intent)
	if err != nil {
		// Position stays CLOSING; the next reconcile pass settles it from
		// exchange truth.
		w.reportExecFailure(sig, err)
		return
	}

	if _, err := w.d.book.Close(*fill, sig.Reason); err != nil {
		w.faultOn(err)
		return
	}
	logger.Infof("Worker %s: position closed exit=%v", w.symbol, fill.Price)
}

func (w *worker) reportExecFailure(sig types.Signal, err error) {
	var rejected *executor.RejectedError
	switch {
	case errors.As(err, &rejected):
		// Terminal rejection; the executor already emitted OrderRejected.
		logger.Warnf("Worker %s: %s order rejected by venue: %v", w.symbol, sig.Side, err)
	case errors.Is(err, executor.ErrAttemptsExhausted):
		logger.Errorf("Worker %s: %s submission attempts exhausted: %v", w.symbol, sig.Side, err)
		events.Emit(w.d.sink, events.ExchangeDegraded, w.symbol, map[string]any{
			"side":  string(sig.Side),
			"error": err.Error(),
		})
	case errors.Is(err, executor.ErrNotFilled):
		logger.Warnf("Worker %s: %s order closed without fill: %v", w.symbol, sig.Side, err)
	case exchange.IsTransient(err) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		logger.Warnf("Worker %s: %s submission aborted: %v", w.symbol, sig.Side, err)
	default:
		logger.Errorf("Worker %s: %s unexpected executor failure: %v", w.symbol, sig.Side, err)
	}
}

// faultOn parks the symbol on a ledger invariant violation and nudges the
// reconciler; signals for this symbol are dropped until a pass clears it.
// Other symbols are unaffected.
func (w *worker) faultOn(err error) {
	var consistency *ledger.ConsistencyError
	if !errors.As(err, &consistency) &&
		!errors.Is(err, ledger.ErrDuplicatePosition) &&
		!errors.Is(err, ledger.ErrNoPosition) {
		logger.Errorf("Worker %s: ledger failure: %v", w.symbol, err)
		return
	}

	w.parked.Store(true)
	logger.Errorf("Worker %s: consistency fault, parking symbol: %v", w.symbol, err)
	events.Emit(w.d.sink, events.ConsistencyFault, w.symbol, map[string]any{
		"error": err.Error(),
	})
	if w.d.nudge != nil {
		w.d.nudge(w.symbol)
	}
}

func (w *worker) unpark() {
	if w.parked.CompareAndSwap(true, false) {
		logger.Infof("Worker %s: unparked after reconcile pass", w.symbol)
	}
}

func (w *worker) isParked() bool { return w.parked.Load() }
