package strategy

import (
	"fmt"

	"marlin/internal/market"
	"marlin/internal/types"
)

const bbandsSchema = `{
	"type": "object",
	"properties": {
		"period":       {"type": "integer", "minimum": 5, "maximum": 200},
		"rsi_period":   {"type": "integer", "minimum": 2, "maximum": 200},
		"rsi_oversold": {"type": "number", "minimum": 0, "maximum": 100}
	},
	"additionalProperties": false
}`

func init() {
	Register("bbands_rsi_mean_reversion", NewBBandsRSI)
}

// BBandsRSI is a mean-reversion variant: enter when the close pierces the
// lower Bollinger band while RSI confirms oversold, exit at the middle band.
type BBandsRSI struct {
	period      int
	rsiPeriod   int
	rsiOversold float64

	lowerKey, middleKey, rsiKey string
}

func NewBBandsRSI(params map[string]any) (Strategy, error) {
	if err := validateParams("bbands_rsi_mean_reversion", bbandsSchema, params); err != nil {
		return nil, err
	}
	s := &BBandsRSI{
		period:      intParam(params, "period", 20),
		rsiPeriod:   intParam(params, "rsi_period", 14),
		rsiOversold: floatParam(params, "rsi_oversold", 35),
	}
	s.lowerKey = fmt.Sprintf("bb_lower%d", s.period)
	s.middleKey = fmt.Sprintf("bb_middle%d", s.period)
	s.rsiKey = fmt.Sprintf("rsi%d", s.rsiPeriod)
	return s, nil
}

func (s *BBandsRSI) Name() string { return "bbands_rsi_mean_reversion" }

func (s *BBandsRSI) RequiredIndicators() []string {
	return []string{s.lowerKey, s.middleKey, s.rsiKey}
}

func (s *BBandsRSI) Decide(candle market.Candle, indicators market.IndicatorSet) *types.Signal {
	lower, okL := indicators[s.lowerKey]
	middle, okM := indicators[s.middleKey]
	rsi, okR := indicators[s.rsiKey]
	if !okL || !okM || !okR {
		return nil
	}

	switch {
	case candle.Close <= lower && rsi <= s.rsiOversold:
		return &types.Signal{
			Symbol:    candle.Symbol,
			Side:      types.SideBuy,
			Price:     candle.Close,
			Reason:    fmt.Sprintf("close %.4f under lower band %.4f, rsi %.2f", candle.Close, lower, rsi),
			Metadata:  map[string]any{"strategy": s.Name()},
			EmittedAt: emittedAt(candle),
		}
	case candle.Close >= middle:
		return &types.Signal{
			Symbol:    candle.Symbol,
			Side:      types.SideClose,
			Price:     candle.Close,
			Reason:    fmt.Sprintf("close %.4f reverted to middle band %.4f", candle.Close, middle),
			Metadata:  map[string]any{"strategy": s.Name()},
			EmittedAt: emittedAt(candle),
		}
	}
	return nil
}
