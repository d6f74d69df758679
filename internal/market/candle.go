// Package market defines the boundary types delivered by the market-data /
// indicator producer. The engine consumes these; it never fetches candles
// itself.
package market

import (
	"time"
)

// Candle is one closed OHLCV bar for a symbol.
type Candle struct {
	Symbol    string    `json:"symbol"`
	OpenTime  time.Time `json:"open_time"`
	CloseTime time.Time `json:"close_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// IndicatorSet maps indicator name ("rsi14", "bb_upper") to its value at the
// candle close.
type IndicatorSet map[string]float64

// Complete reports whether every required indicator is present. A missing or
// NaN-free check is the producer's job; absence here means the warm-up window
// has not filled yet.
func (s IndicatorSet) Complete(required []string) bool {
	for _, name := range required {
		if _, ok := s[name]; !ok {
			return false
		}
	}
	return true
}

// Tick is the per-candle delivery unit handed to the dispatcher: the closed
// candle plus whatever indicators the producer has computed for it.
type Tick struct {
	Candle     Candle       `json:"candle"`
	Indicators IndicatorSet `json:"indicators"`
}
