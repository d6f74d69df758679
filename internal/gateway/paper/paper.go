// Package paper is an in-memory venue implementing the exchange contract.
// It backs dry-run mode and the engine's tests: fills are immediate at the
// set mark price, balances are virtual, and transient failures can be
// injected to exercise the retry path.
package paper

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"marlin/internal/gateway/exchange"
	"marlin/internal/market"
	symbolpkg "marlin/internal/pkg/symbol"
)

type Venue struct {
	mu sync.Mutex

	equity   float64
	prices   map[string]float64
	holdings map[string]float64 // base asset -> quantity
	filters  map[string]exchange.SymbolFilters

	ordersByClientID map[string]*exchange.OrderRecord
	ordersByID       map[string]*exchange.OrderRecord
	nextID           int64

	// failures queued for injection; each PlaceOrder consumes one.
	pendingFailures []error

	candles map[string][]market.Candle
}

func New(equity float64) *Venue {
	return &Venue{
		equity:           equity,
		prices:           make(map[string]float64),
		holdings:         make(map[string]float64),
		filters:          make(map[string]exchange.SymbolFilters),
		ordersByClientID: make(map[string]*exchange.OrderRecord),
		ordersByID:       make(map[string]*exchange.OrderRecord),
		nextID:           1000,
		candles:          make(map[string][]market.Candle),
	}
}

func (v *Venue) Name() string { return "paper" }

// SetPrice sets the mark price market orders fill at.
func (v *Venue) SetPrice(symbol string, price float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.prices[symbol] = price
}

// SetFilters overrides the default (unconstrained) symbol filters.
func (v *Venue) SetFilters(symbol string, f exchange.SymbolFilters) {
	v.mu.Lock()
	defer v.mu.Unlock()
	f.Symbol = symbol
	v.filters[symbol] = f
}

// SetHolding force-sets a base-asset balance, simulating activity outside
// the engine's order flow (manual close, liquidation).
func (v *Venue) SetHolding(symbol string, qty float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.holdings[symbolpkg.Parse(symbol).Base] = qty
}

// FailNext queues errors returned by upcoming PlaceOrder calls, in order.
func (v *Venue) FailNext(errs ...error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pendingFailures = append(v.pendingFailures, errs...)
}

// OrderCount reports how many distinct orders the venue holds, the figure
// idempotency tests assert on.
func (v *Venue) OrderCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.ordersByID)
}

func (v *Venue) PlaceOrder(_ context.Context, req exchange.OrderRequest) (*exchange.OrderResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if len(v.pendingFailures) > 0 {
		err := v.pendingFailures[0]
		v.pendingFailures = v.pendingFailures[1:]
		return nil, err
	}

	// Idempotency contract: duplicate client order id returns the original
	// order's state, it never creates a second order.
	if existing, ok := v.ordersByClientID[req.ClientOrderID]; ok {
		return resultFrom(existing), nil
	}

	price := req.Price
	if req.Market {
		price = v.prices[req.Symbol]
		if price <= 0 {
			return nil, exchange.Terminal("place-order", 0, fmt.Errorf("no mark price for %s", req.Symbol))
		}
	}

	base := symbolpkg.Parse(req.Symbol).Base
	notional := price * req.Quantity
	switch strings.ToUpper(req.Side) {
	case "BUY":
		if notional > v.equity {
			return nil, exchange.Terminal("place-order", -2010, fmt.Errorf("insufficient balance: need %.2f, have %.2f", notional, v.equity))
		}
		v.equity -= notional
		v.holdings[base] += req.Quantity
	case "SELL":
		if v.holdings[base] < req.Quantity {
			// Sell whatever is actually held; the fill reports the truth.
			req.Quantity = v.holdings[base]
		}
		v.equity += price * req.Quantity
		v.holdings[base] -= req.Quantity
	default:
		return nil, exchange.Terminal("place-order", 0, fmt.Errorf("bad side %q", req.Side))
	}

	v.nextID++
	record := &exchange.OrderRecord{
		OrderID:       fmt.Sprintf("paper-%d", v.nextID),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          strings.ToUpper(req.Side),
		Status:        exchange.OrderStatusFilled,
		Quantity:      req.Quantity,
		FilledQty:     req.Quantity,
		AvgPrice:      price,
		UpdatedAt:     time.Now(),
	}
	v.ordersByClientID[req.ClientOrderID] = record
	v.ordersByID[record.OrderID] = record
	return resultFrom(record), nil
}

func (v *Venue) GetOrderStatus(_ context.Context, _ string, orderID string) (*exchange.OrderRecord, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	record, ok := v.ordersByID[orderID]
	if !ok {
		return nil, exchange.ErrOrderNotFound
	}
	cp := *record
	return &cp, nil
}

func (v *Venue) CancelOrder(_ context.Context, _ string, orderID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	record, ok := v.ordersByID[orderID]
	if !ok {
		return exchange.ErrOrderNotFound
	}
	if record.Status.Terminal() {
		return nil // venue truth wins over a late cancel
	}
	record.Status = exchange.OrderStatusCanceled
	return nil
}

func (v *Venue) AccountPosition(_ context.Context, symbol string) (float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.holdings[symbolpkg.Parse(symbol).Base], nil
}

func (v *Venue) Equity(_ context.Context) (float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.equity, nil
}

func (v *Venue) SymbolFilters(_ context.Context, symbol string) (exchange.SymbolFilters, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if f, ok := v.filters[symbol]; ok {
		return f, nil
	}
	return exchange.SymbolFilters{Symbol: symbol}, nil
}

// PushCandles appends candles for the symbol; Candles drains nothing, it
// returns the tail like a real klines endpoint. The latest candle's close
// also becomes the mark price.
func (v *Venue) PushCandles(symbol string, candles ...market.Candle) {
	v.mu.Lock()
	defer v.mu.Unlock()
	sym := symbolpkg.Normalize(symbol)
	v.candles[sym] = append(v.candles[sym], candles...)
	if len(candles) > 0 {
		v.prices[sym] = candles[len(candles)-1].Close
	}
}

func (v *Venue) Candles(_ context.Context, symbol, _ string, limit int) ([]market.Candle, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	all := v.candles[symbolpkg.Normalize(symbol)]
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	out := make([]market.Candle, limit)
	copy(out, all[len(all)-limit:])
	return out, nil
}

func resultFrom(record *exchange.OrderRecord) *exchange.OrderResult {
	return &exchange.OrderResult{
		OrderID:       record.OrderID,
		ClientOrderID: record.ClientOrderID,
		Status:        record.Status,
		FilledQty:     record.FilledQty,
		AvgPrice:      record.AvgPrice,
		TransactAt:    record.UpdatedAt,
	}
}
