package strategy

import (
	"strconv"
	"strings"
	"sync"

	"marlin/internal/market"
	"marlin/internal/types"

	"github.com/markcheno/go-talib"
)

// Runner is the in-process indicator producer: it keeps a rolling close
// window per symbol, computes whatever the strategy declared, and asks it to
// decide. The engine treats Runner as an external collaborator; any producer
// delivering (candle, indicators, decision) tuples can replace it.
type Runner struct {
	strat  Strategy
	window int

	mu     sync.Mutex
	closes map[string][]float64
}

func NewRunner(strat Strategy, window int) *Runner {
	if window <= 0 {
		window = 200
	}
	return &Runner{
		strat:  strat,
		window: window,
		closes: make(map[string][]float64),
	}
}

// OnCandle ingests one closed candle and returns the decision tick. The
// signal is nil when the strategy stays flat; the indicator set is returned
// regardless so the dispatcher can verify completeness.
func (r *Runner) OnCandle(candle market.Candle) (*types.Signal, market.IndicatorSet) {
	closes := r.extend(candle)
	indicators := r.compute(closes)
	if !indicators.Complete(r.strat.RequiredIndicators()) {
		return nil, indicators
	}
	return r.strat.Decide(candle, indicators), indicators
}

func (r *Runner) extend(candle market.Candle) []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	series := append(r.closes[candle.Symbol], candle.Close)
	if len(series) > r.window {
		series = series[len(series)-r.window:]
	}
	r.closes[candle.Symbol] = series
	out := make([]float64, len(series))
	copy(out, series)
	return out
}

// compute evaluates each declared indicator name against the close window.
// Names encode the function and period: "rsi14", "sma20", "ema9",
// "bb_lower20" / "bb_middle20" / "bb_upper20".
func (r *Runner) compute(closes []float64) market.IndicatorSet {
	set := make(market.IndicatorSet)
	for _, name := range r.strat.RequiredIndicators() {
		fn, period, ok := parseIndicator(name)
		if !ok || len(closes) < period+1 {
			continue
		}
		switch fn {
		case "rsi":
			set[name] = last(talib.Rsi(closes, period))
		case "sma":
			set[name] = last(talib.Sma(closes, period))
		case "ema":
			set[name] = last(talib.Ema(closes, period))
		case "bb_upper", "bb_middle", "bb_lower":
			upper, middle, lower := talib.BBands(closes, period, 2.0, 2.0, talib.SMA)
			switch fn {
			case "bb_upper":
				set[name] = last(upper)
			case "bb_middle":
				set[name] = last(middle)
			case "bb_lower":
				set[name] = last(lower)
			}
		}
	}
	return set
}

func parseIndicator(name string) (fn string, period int, ok bool) {
	idx := len(name)
	for idx > 0 && name[idx-1] >= '0' && name[idx-1] <= '9' {
		idx--
	}
	if idx == len(name) {
		return "", 0, false
	}
	period, err := strconv.Atoi(name[idx:])
	if err != nil || period <= 0 {
		return "", 0, false
	}
	fn = strings.ToLower(name[:idx])
	switch fn {
	case "rsi", "sma", "ema", "bb_upper", "bb_middle", "bb_lower":
		return fn, period, true
	}
	return "", 0, false
}

func last(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}
