package exchange

import "context"

// Exchange is the adapter contract between the engine and a concrete venue.
// Every call must be safe to retry: PlaceOrder is keyed by the intent's
// idempotency key and a duplicate submission must return the original order's
// state instead of creating a second order.
type Exchange interface {
	Name() string

	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)

	GetOrderStatus(ctx context.Context, symbol, orderID string) (*OrderRecord, error)

	CancelOrder(ctx context.Context, symbol, orderID string) error

	// AccountPosition returns the exchange-reported base-asset quantity for
	// the symbol (free + locked for spot).
	AccountPosition(ctx context.Context, symbol string) (float64, error)

	// Equity returns the account's quote-currency equity used for sizing.
	Equity(ctx context.Context) (float64, error)

	// SymbolFilters returns the venue's trading constraints for a symbol.
	// Implementations cache; the risk gate treats the result as configuration.
	SymbolFilters(ctx context.Context, symbol string) (SymbolFilters, error)
}
