// Package exchange defines a common abstraction for trading venues. The
// engine works against this contract so backends (Binance spot, paper) can be
// swapped without touching execution logic.
package exchange

import (
	"time"
)

// OrderStatus mirrors the venue's order lifecycle. The engine never treats an
// order as final until the venue reports FILLED or CANCELED.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// Terminal reports whether the venue will never change this status again.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// OrderRequest is a submission to the venue. ClientOrderID carries the
// engine's idempotency key.
type OrderRequest struct {
	Symbol        string
	Side          string // "BUY" or "SELL"
	Quantity      float64
	Price         float64 // limit price; 0 for market
	Market        bool
	ClientOrderID string
}

// OrderResult is the venue's acknowledgement of a submission.
type OrderResult struct {
	OrderID       string
	ClientOrderID string
	Status        OrderStatus
	FilledQty     float64
	AvgPrice      float64
	TransactAt    time.Time
}

// OrderRecord is the venue-reported state of an order: external truth,
// read-only from the engine's perspective.
type OrderRecord struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Side          string
	Status        OrderStatus
	Quantity      float64
	FilledQty     float64
	AvgPrice      float64
	UpdatedAt     time.Time
}

// SymbolFilters are the venue's trading constraints for one symbol. The risk
// gate floors quantities to LotStep and rejects notionals under MinNotional.
type SymbolFilters struct {
	Symbol      string
	LotStep     float64 // minimum quantity increment
	MinQty      float64
	MinNotional float64 // minimum quote value per order
	PricePrec   int
	QtyPrec     int
}
