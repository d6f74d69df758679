// Package executor drives approved order intents to a terminal exchange
// state. It is the only component that calls the venue's order placement and
// order status operations.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marlin/internal/events"
	"marlin/internal/gateway/exchange"
	"marlin/internal/logger"
	"marlin/internal/pkg/backoff"
	"marlin/internal/pkg/circuit"
	"marlin/internal/store"
	"marlin/internal/types"
)

// RejectedError is a definitive venue rejection surfaced to the dispatcher.
// The signal is dropped; nothing is retried and no position is mutated.
type RejectedError struct {
	Intent types.OrderIntent
	Err    error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("order rejected for %s %s: %v", e.Intent.Symbol, e.Intent.Side, e.Err)
}

func (e *RejectedError) Unwrap() error { return e.Err }

// ErrAttemptsExhausted is returned when every submission attempt failed with
// a transient error.
var ErrAttemptsExhausted = errors.New("submission attempts exhausted")

// ErrNotFilled is returned when the venue closed the order without a fill
// (canceled or expired).
var ErrNotFilled = errors.New("order terminal without fill")

// Config bounds the executor's retry and polling behaviour.
type Config struct {
	MaxAttempts  int
	Backoff      backoff.Policy
	CallTimeout  time.Duration
	PollInterval time.Duration
	PollBudget   time.Duration

	// BreakerThreshold consecutive transient failures open the submission
	// breaker for BreakerCooldown.
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:      4,
		Backoff:          backoff.Default(),
		CallTimeout:      10 * time.Second,
		PollInterval:     2 * time.Second,
		PollBudget:       2 * time.Minute,
		BreakerThreshold: 5,
		BreakerCooldown:  30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.Backoff.Base <= 0 {
		c.Backoff = d.Backoff
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.PollBudget <= 0 {
		c.PollBudget = d.PollBudget
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = d.BreakerThreshold
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = d.BreakerCooldown
	}
	return c
}

// Executor submits intents idempotently and reports confirmed fills.
type Executor struct {
	venue   exchange.Exchange
	cfg     Config
	breaker *circuit.Breaker
	sink    events.Sink
	orders  store.OrderStore

	// onTerminal nudges the reconciler after any terminal outcome.
	onTerminal func(symbol string)
}

func New(venue exchange.Exchange, cfg Config, sink events.Sink, orders store.OrderStore) *Executor {
	cfg = cfg.withDefaults()
	return &Executor{
		venue:   venue,
		cfg:     cfg,
		breaker: circuit.NewBreaker("exchange-submit", cfg.BreakerThreshold, cfg.BreakerCooldown),
		sink:    sink,
		orders:  orders,
	}
}

// SetTerminalHook registers the reconciler nudge. Called once during wiring.
func (e *Executor) SetTerminalHook(fn func(symbol string)) { e.onTerminal = fn }

// Execute drives the intent to a terminal state and returns the confirmed
// fill. Submission retries reuse the same idempotency key, so at most one
// exchange order can exist for the intent regardless of how many attempts
// were made.
func (e *Executor) Execute(ctx context.Context, intent types.OrderIntent) (*types.Fill, error) {
	defer e.nudge(intent.Symbol)

	result, attempts, err := e.submit(ctx, intent)
	if err != nil {
		e.recordAudit(ctx, intent, nil, attempts, err)
		if exchange.IsTerminal(err) {
			events.Emit(e.sink, events.OrderRejected, intent.Symbol, map[string]any{
				"side":   string(intent.Side),
				"reason": err.Error(),
				"key":    intent.IdempotencyKey,
			})
			return nil, &RejectedError{Intent: intent, Err: err}
		}
		return nil, err
	}

	record, err := e.awaitTerminal(ctx, intent, result)
	if err != nil {
		e.recordAudit(ctx, intent, record, attempts, err)
		return nil, err
	}

	fill := &types.Fill{
		Symbol:   intent.Symbol,
		Side:     intent.Side,
		Quantity: record.FilledQty,
		Price:    record.AvgPrice,
		OrderID:  record.OrderID,
		Source:   types.FillSourceOrder,
		FilledAt: orNow(record.UpdatedAt),
	}
	e.recordAudit(ctx, intent, record, attempts, nil)
	e.recordFill(ctx, *fill)
	e.snapshotEquity(ctx, intent.Symbol)
	return fill, nil
}

// snapshotEquity records the stake balance after each confirmed fill, giving
// the audit trail a balance trace alongside the fills.
func (e *Executor) snapshotEquity(ctx context.Context, symbol string) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	equity, err := e.venue.Equity(callCtx)
	if err != nil {
		logger.Debugf("equity snapshot for %s skipped: %v", symbol, err)
		return
	}
	events.Emit(e.sink, events.BalanceSnapshot, symbol, map[string]any{"equity": equity})
}

// submit places the order, retrying transient failures with backoff. The
// breaker opens after repeated failures so a degraded venue does not absorb
// every symbol's signal flow.
func (e *Executor) submit(ctx context.Context, intent types.OrderIntent) (*exchange.OrderResult, int, error) {
	req := exchange.OrderRequest{
		Symbol:        intent.Symbol,
		Side:          orderSide(intent.Side),
		Quantity:      intent.Quantity,
		Price:         intent.Price,
		Market:        intent.Market,
		ClientOrderID: intent.IdempotencyKey,
	}

	var lastErr error
	for attempt := 0; attempt < e.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := e.cfg.Backoff.Sleep(ctx, attempt-1); err != nil {
				return nil, attempt, err
			}
		}

		if !e.breaker.Allow() {
			lastErr = circuit.ErrOpen
			events.Emit(e.sink, events.ExchangeDegraded, intent.Symbol, map[string]any{"state": e.breaker.State().String()})
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		result, err := e.venue.PlaceOrder(callCtx, req)
		cancel()

		if err == nil {
			e.breaker.RecordSuccess()
			return result, attempt + 1, nil
		}
		if exchange.IsTerminal(err) {
			// A venue rejection is not a venue outage.
			e.breaker.RecordSuccess()
			return nil, attempt + 1, err
		}
		e.breaker.RecordFailure()
		lastErr = err
		logger.Warnf("Executor: submit %s %s attempt %d/%d failed: %v",
			intent.Symbol, intent.Side, attempt+1, e.cfg.MaxAttempts, err)
	}
	return nil, e.cfg.MaxAttempts, fmt.Errorf("%w after %d attempts: %v", ErrAttemptsExhausted, e.cfg.MaxAttempts, lastErr)
}

// awaitTerminal polls order status until the venue reports a final state.
// The submission result may already be terminal (market orders usually are).
func (e *Executor) awaitTerminal(ctx context.Context, intent types.OrderIntent, res *exchange.OrderResult) (*exchange.OrderRecord, error) {
	if res.Status.Terminal() {
		return e.recordFromResult(intent, res), nil
	}

	deadline := time.Now().Add(e.cfg.PollBudget)
	for {
		if time.Now().After(deadline) {
			return nil, exchange.Transient("await-terminal", fmt.Errorf("order %s not terminal within %s", res.OrderID, e.cfg.PollBudget))
		}

		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		record, err := e.venue.GetOrderStatus(callCtx, intent.Symbol, res.OrderID)
		cancel()
		if err != nil {
			if !exchange.IsTransient(err) && !errors.Is(err, exchange.ErrOrderNotFound) {
				return nil, err
			}
			logger.Debugf("Executor: status poll %s/%s: %v", intent.Symbol, res.OrderID, err)
		} else if record.Status.Terminal() {
			if record.Status == exchange.OrderStatusFilled ||
				(record.Status == exchange.OrderStatusCanceled && record.FilledQty > 0) {
				// A canceled order with partial fills still moved the account;
				// report what actually filled.
				return record, nil
			}
			if record.Status == exchange.OrderStatusRejected {
				return record, exchange.Terminal("order-status", 0, fmt.Errorf("order %s rejected by venue", res.OrderID))
			}
			return record, fmt.Errorf("%w: order %s status %s", ErrNotFilled, res.OrderID, record.Status)
		}

		timer := time.NewTimer(e.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (e *Executor) recordFromResult(intent types.OrderIntent, res *exchange.OrderResult) *exchange.OrderRecord {
	return &exchange.OrderRecord{
		OrderID:       res.OrderID,
		ClientOrderID: res.ClientOrderID,
		Symbol:        intent.Symbol,
		Side:          orderSide(intent.Side),
		Status:        res.Status,
		Quantity:      intent.Quantity,
		FilledQty:     res.FilledQty,
		AvgPrice:      res.AvgPrice,
		UpdatedAt:     orNow(res.TransactAt),
	}
}

func (e *Executor) recordAudit(ctx context.Context, intent types.OrderIntent, record *exchange.OrderRecord, attempts int, failure error) {
	if e.orders == nil {
		return
	}
	audit := store.OrderAudit{
		IdempotencyKey: intent.IdempotencyKey,
		Symbol:         intent.Symbol,
		Side:           string(intent.Side),
		Quantity:       intent.Quantity,
		Attempts:       attempts,
		Metadata:       map[string]any{"reason": intent.SignalReason},
	}
	if record != nil {
		audit.Status = string(record.Status)
		audit.ExchangeID = record.OrderID
		audit.AvgPrice = record.AvgPrice
	}
	if failure != nil {
		audit.Error = failure.Error()
		if audit.Status == "" {
			audit.Status = "FAILED"
		}
	}
	if err := e.orders.RecordOrder(ctx, audit); err != nil {
		logger.Warnf("Executor: order audit %s failed: %v", intent.IdempotencyKey, err)
	}
}

func (e *Executor) recordFill(ctx context.Context, fill types.Fill) {
	if e.orders == nil {
		return
	}
	if err := e.orders.RecordFill(ctx, fill); err != nil {
		logger.Warnf("Executor: fill audit %s failed: %v", fill.OrderID, err)
	}
}

func (e *Executor) nudge(symbol string) {
	if e.onTerminal != nil {
		e.onTerminal(symbol)
	}
}

// orderSide maps the engine side to the venue's wire side. CLOSE liquidates a
// long entry, so it sells.
func orderSide(s types.Side) string {
	if s == types.SideBuy {
		return "BUY"
	}
	return "SELL"
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
