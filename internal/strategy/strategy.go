// Package strategy defines the capability interface strategy variants
// implement: declare the indicators you need, then decide on each closed
// candle. Variants are independent values constructed from config params;
// there is no shared base state.
package strategy

import (
	"fmt"
	"sort"
	"sync"

	"marlin/internal/market"
	"marlin/internal/types"
)

// Strategy maps a candle plus its indicators to an optional signal.
type Strategy interface {
	Name() string

	// RequiredIndicators names the indicator values Decide expects in the
	// tick's IndicatorSet. The dispatcher rejects signals whose set is
	// incomplete.
	RequiredIndicators() []string

	// Decide returns a signal or nil. It must be pure: same candle and
	// indicators, same answer.
	Decide(candle market.Candle, indicators market.IndicatorSet) *types.Signal
}

// Factory builds a strategy variant from its config params, after schema
// validation.
type Factory func(params map[string]any) (Strategy, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a strategy variant available by name. Called from variant
// init functions.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// New constructs the named variant.
func New(name string, params map[string]any) (Strategy, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (known: %v)", name, Names())
	}
	return f(params)
}

// Names lists registered variants, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
