// Package binance adapts the spot REST API to the engine's exchange
// contract. Idempotency rides on newClientOrderId: a duplicate submission is
// answered with the original order's state instead of a second order.
package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"marlin/internal/gateway/exchange"
	"marlin/internal/logger"
	"marlin/internal/market"
	symbolpkg "marlin/internal/pkg/symbol"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/tidwall/gjson"
)

// Terminal binance error codes: definitive rejections, never retried.
// -1013 filter failure, -1111 bad precision, -1121 invalid symbol,
// -2010 order would be rejected (insufficient balance, duplicate id).
var terminalCodes = map[int64]bool{
	-1013: true,
	-1111: true,
	-1121: true,
	-2010: true,
	-2011: true,
}

const duplicateOrderCode = -2010

type Spot struct {
	cfg    Config
	client *binance.Client

	filtersMu sync.Mutex
	filters   map[string]cachedFilters
}

type cachedFilters struct {
	value     exchange.SymbolFilters
	fetchedAt time.Time
}

func New(cfg Config) *Spot {
	final := cfg.withDefaults()
	binance.UseTestnet = final.Testnet
	client := binance.NewClient(final.APIKey, final.APISecret)
	if final.RESTBaseURL != "" {
		client.BaseURL = final.RESTBaseURL
	}
	client.HTTPClient = &http.Client{Timeout: final.HTTPTimeout}
	return &Spot{
		cfg:     final,
		client:  client,
		filters: make(map[string]cachedFilters),
	}
}

func (s *Spot) Name() string { return "binance-spot" }

func (s *Spot) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderResult, error) {
	svc := s.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(binance.SideType(req.Side)).
		Quantity(formatQty(req.Quantity)).
		NewClientOrderID(req.ClientOrderID)
	if req.Market {
		svc = svc.Type(binance.OrderTypeMarket)
	} else {
		svc = svc.Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Price(formatQty(req.Price))
	}

	res, err := svc.Do(ctx)
	if err != nil {
		if apiErr := asAPIError(err); apiErr != nil && apiErr.Code == duplicateOrderCode &&
			strings.Contains(strings.ToLower(apiErr.Message), "duplicate") {
			// The key already landed; return the original order's state.
			logger.Infof("binance: duplicate client order id %s, fetching original", req.ClientOrderID)
			return s.resultByClientID(ctx, req.Symbol, req.ClientOrderID)
		}
		return nil, classify("place-order", err)
	}

	return &exchange.OrderResult{
		OrderID:       strconv.FormatInt(res.OrderID, 10),
		ClientOrderID: res.ClientOrderID,
		Status:        exchange.OrderStatus(res.Status),
		FilledQty:     parseFloat(res.ExecutedQuantity),
		AvgPrice:      avgPrice(res.CummulativeQuoteQuantity, res.ExecutedQuantity),
		TransactAt:    time.UnixMilli(res.TransactTime),
	}, nil
}

func (s *Spot) resultByClientID(ctx context.Context, sym, clientID string) (*exchange.OrderResult, error) {
	order, err := s.client.NewGetOrderService().
		Symbol(sym).
		OrigClientOrderID(clientID).
		Do(ctx)
	if err != nil {
		return nil, classify("get-order-by-client-id", err)
	}
	return &exchange.OrderResult{
		OrderID:       strconv.FormatInt(order.OrderID, 10),
		ClientOrderID: order.ClientOrderID,
		Status:        exchange.OrderStatus(order.Status),
		FilledQty:     parseFloat(order.ExecutedQuantity),
		AvgPrice:      avgPrice(order.CummulativeQuoteQuantity, order.ExecutedQuantity),
		TransactAt:    time.UnixMilli(order.UpdateTime),
	}, nil
}

func (s *Spot) GetOrderStatus(ctx context.Context, sym, orderID string) (*exchange.OrderRecord, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return nil, exchange.Terminal("get-order", 0, fmt.Errorf("bad order id %q: %w", orderID, err))
	}
	order, err := s.client.NewGetOrderService().Symbol(sym).OrderID(id).Do(ctx)
	if err != nil {
		if apiErr := asAPIError(err); apiErr != nil && apiErr.Code == -2013 {
			return nil, exchange.ErrOrderNotFound
		}
		return nil, classify("get-order", err)
	}
	return &exchange.OrderRecord{
		OrderID:       strconv.FormatInt(order.OrderID, 10),
		ClientOrderID: order.ClientOrderID,
		Symbol:        order.Symbol,
		Side:          string(order.Side),
		Status:        exchange.OrderStatus(order.Status),
		Quantity:      parseFloat(order.OrigQuantity),
		FilledQty:     parseFloat(order.ExecutedQuantity),
		AvgPrice:      avgPrice(order.CummulativeQuoteQuantity, order.ExecutedQuantity),
		UpdatedAt:     time.UnixMilli(order.UpdateTime),
	}, nil
}

func (s *Spot) CancelOrder(ctx context.Context, sym, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return exchange.Terminal("cancel-order", 0, fmt.Errorf("bad order id %q: %w", orderID, err))
	}
	if _, err := s.client.NewCancelOrderService().Symbol(sym).OrderID(id).Do(ctx); err != nil {
		if apiErr := asAPIError(err); apiErr != nil && apiErr.Code == -2011 {
			// Already terminal on the venue; the caller treats venue truth
			// as authoritative.
			return nil
		}
		return classify("cancel-order", err)
	}
	return nil
}

// AccountPosition returns free+locked base-asset quantity for the symbol.
func (s *Spot) AccountPosition(ctx context.Context, sym string) (float64, error) {
	base := symbolpkg.Parse(sym).Base
	if base == "" {
		return 0, exchange.Terminal("account-position", 0, fmt.Errorf("unparseable symbol %q", sym))
	}
	account, err := s.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, classify("account-position", err)
	}
	for _, bal := range account.Balances {
		if strings.EqualFold(bal.Asset, base) {
			return parseFloat(bal.Free) + parseFloat(bal.Locked), nil
		}
	}
	return 0, nil
}

// Equity reports the stake-currency balance. Spot sizing only commits the
// quote asset, so that balance is the sizing base.
func (s *Spot) Equity(ctx context.Context) (float64, error) {
	account, err := s.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, classify("equity", err)
	}
	for _, bal := range account.Balances {
		if strings.EqualFold(bal.Asset, s.cfg.StakeCurrency) {
			return parseFloat(bal.Free) + parseFloat(bal.Locked), nil
		}
	}
	return 0, nil
}

// SymbolFilters fetches and caches the venue's LOT_SIZE and NOTIONAL
// constraints. Filters change rarely; the TTL only bounds staleness after a
// venue-side filter update.
func (s *Spot) SymbolFilters(ctx context.Context, sym string) (exchange.SymbolFilters, error) {
	s.filtersMu.Lock()
	cached, ok := s.filters[sym]
	s.filtersMu.Unlock()
	if ok && time.Since(cached.fetchedAt) < s.cfg.FiltersTTL {
		return cached.value, nil
	}

	info, err := s.client.NewExchangeInfoService().Symbols(sym).Do(ctx)
	if err != nil {
		if ok {
			// Serve stale over failing the signal.
			return cached.value, nil
		}
		return exchange.SymbolFilters{}, classify("exchange-info", err)
	}

	for _, symInfo := range info.Symbols {
		if !strings.EqualFold(symInfo.Symbol, sym) {
			continue
		}
		filters := parseFilters(sym, symInfo.Filters)
		filters.PricePrec = symInfo.QuotePrecision
		filters.QtyPrec = symInfo.BaseAssetPrecision
		s.filtersMu.Lock()
		s.filters[sym] = cachedFilters{value: filters, fetchedAt: time.Now()}
		s.filtersMu.Unlock()
		return filters, nil
	}
	return exchange.SymbolFilters{}, exchange.Terminal("exchange-info", 0, fmt.Errorf("symbol %s unknown to venue", sym))
}

// parseFilters walks the raw filter array. The venue has shipped the minimum
// notional under both MIN_NOTIONAL and NOTIONAL depending on API era, so both
// are accepted.
func parseFilters(sym string, raw []map[string]interface{}) exchange.SymbolFilters {
	out := exchange.SymbolFilters{Symbol: sym}
	blob, err := json.Marshal(raw)
	if err != nil {
		logger.Warnf("binance: filters for %s not serializable: %v", sym, err)
		return out
	}
	gjson.ParseBytes(blob).ForEach(func(_, f gjson.Result) bool {
		switch f.Get("filterType").String() {
		case "LOT_SIZE":
			out.LotStep = f.Get("stepSize").Float()
			out.MinQty = f.Get("minQty").Float()
		case "MIN_NOTIONAL", "NOTIONAL":
			out.MinNotional = f.Get("minNotional").Float()
		}
		return true
	})
	return out
}

func classify(op string, err error) error {
	if apiErr := asAPIError(err); apiErr != nil {
		if terminalCodes[apiErr.Code] {
			return exchange.Terminal(op, int(apiErr.Code), err)
		}
		// Rate limits (-1003) and 5xx-mapped codes retry.
		return exchange.Transient(op, err)
	}
	return exchange.Transient(op, err)
}

// Candles fetches the most recent klines. The last element is usually the
// still-forming bar; the feed layer decides which bars count as closed.
func (s *Spot) Candles(ctx context.Context, sym, interval string, limit int) ([]market.Candle, error) {
	if limit <= 0 {
		limit = 2
	}
	klines, err := s.client.NewKlinesService().
		Symbol(symbolpkg.Normalize(sym)).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, classify("klines", err)
	}
	out := make([]market.Candle, 0, len(klines))
	for _, k := range klines {
		out = append(out, market.Candle{
			Symbol:    symbolpkg.Normalize(sym),
			OpenTime:  time.UnixMilli(k.OpenTime),
			CloseTime: time.UnixMilli(k.CloseTime),
			Open:      parseFloat(k.Open),
			High:      parseFloat(k.High),
			Low:       parseFloat(k.Low),
			Close:     parseFloat(k.Close),
			Volume:    parseFloat(k.Volume),
		})
	}
	return out, nil
}

func asAPIError(err error) *common.APIError {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}

func avgPrice(cumQuote, executed string) float64 {
	qty := parseFloat(executed)
	if qty <= 0 {
		return 0
	}
	return parseFloat(cumQuote) / qty
}

func formatQty(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
