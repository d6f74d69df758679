package strategy

import (
	"fmt"
	"time"

	"marlin/internal/market"
	"marlin/internal/types"
)

const rsiSchema = `{
	"type": "object",
	"properties": {
		"period":     {"type": "integer", "minimum": 2, "maximum": 200},
		"oversold":   {"type": "number", "minimum": 0, "maximum": 100},
		"overbought": {"type": "number", "minimum": 0, "maximum": 100}
	},
	"additionalProperties": false
}`

func init() {
	Register("rsi_threshold", NewRSIThreshold)
}

// RSIThreshold buys when RSI drops under the oversold line and closes when it
// crosses the overbought line.
type RSIThreshold struct {
	period     int
	oversold   float64
	overbought float64
	key        string
}

func NewRSIThreshold(params map[string]any) (Strategy, error) {
	if err := validateParams("rsi_threshold", rsiSchema, params); err != nil {
		return nil, err
	}
	s := &RSIThreshold{
		period:     intParam(params, "period", 14),
		oversold:   floatParam(params, "oversold", 30),
		overbought: floatParam(params, "overbought", 70),
	}
	if s.oversold >= s.overbought {
		return nil, fmt.Errorf("rsi_threshold: oversold %v must be under overbought %v", s.oversold, s.overbought)
	}
	s.key = fmt.Sprintf("rsi%d", s.period)
	return s, nil
}

func (s *RSIThreshold) Name() string { return "rsi_threshold" }

func (s *RSIThreshold) RequiredIndicators() []string { return []string{s.key} }

func (s *RSIThreshold) Decide(candle market.Candle, indicators market.IndicatorSet) *types.Signal {
	rsi, ok := indicators[s.key]
	if !ok {
		return nil
	}
	switch {
	case rsi <= s.oversold:
		return s.signal(candle, types.SideBuy, fmt.Sprintf("rsi %.2f <= oversold %.2f", rsi, s.oversold))
	case rsi >= s.overbought:
		return s.signal(candle, types.SideClose, fmt.Sprintf("rsi %.2f >= overbought %.2f", rsi, s.overbought))
	}
	return nil
}

func (s *RSIThreshold) signal(candle market.Candle, side types.Side, reason string) *types.Signal {
	return &types.Signal{
		Symbol:    candle.Symbol,
		Side:      side,
		Price:     candle.Close,
		Reason:    reason,
		Metadata:  map[string]any{"strategy": s.Name()},
		EmittedAt: emittedAt(candle),
	}
}

// emittedAt pins the signal timestamp to the candle close so the idempotency
// key is stable across a replayed candle.
func emittedAt(candle market.Candle) time.Time {
	if !candle.CloseTime.IsZero() {
		return candle.CloseTime
	}
	return time.Now()
}
