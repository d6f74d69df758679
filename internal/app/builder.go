package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"marlin/internal/config"
	cfgloader "marlin/internal/config/loader"
	"marlin/internal/events"
	"marlin/internal/executor"
	"marlin/internal/gateway/binance"
	"marlin/internal/gateway/exchange"
	"marlin/internal/gateway/notifier"
	"marlin/internal/gateway/paper"
	"marlin/internal/ledger"
	"marlin/internal/logger"
	"marlin/internal/market"
	"marlin/internal/pkg/backoff"
	"marlin/internal/pkg/symbol"
	"marlin/internal/reconcile"
	"marlin/internal/risk"
	"marlin/internal/store"
	"marlin/internal/store/gormstore"
	"marlin/internal/store/journal"
	"marlin/internal/strategy"
	"marlin/internal/trader"
	livehttp "marlin/internal/transport/http/live"
	"marlin/internal/types"
)

// AppBuilder wires the engine together. The *Fn fields exist so tests can
// swap a dependency without touching the rest of the graph.
type AppBuilder struct {
	cfg *config.Config

	venueFn  func(config.ExchangeConfig) (exchange.Exchange, market.Source, error)
	storesFn func(config.StoreConfig) (store.Store, *journal.Journal, error)
	adminFn  func(livehttp.ServerConfig) (*livehttp.Server, error)
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:      cfg,
		venueFn:  buildVenue,
		storesFn: buildStores,
		adminFn:  livehttp.NewServer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// WithVenue overrides the exchange construction (tests inject the paper
// venue directly).
func WithVenue(venue exchange.Exchange, source market.Source) AppBuilderOption {
	return func(b *AppBuilder) {
		b.venueFn = func(config.ExchangeConfig) (exchange.Exchange, market.Source, error) {
			return venue, source, nil
		}
	}
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := b.cfg

	st, journalDB, err := b.storesFn(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("store init failed: %w", err)
	}

	fanout := events.NewFanout(events.LogSink{})
	if journalDB != nil {
		fanout.Attach(journal.NewSink(journalDB))
	}
	if cfg.Notify.Telegram.Enabled {
		tg := notifier.NewTelegram(cfg.Notify.Telegram.BotToken, cfg.Notify.Telegram.ChatID)
		fanout.Attach(notifier.NewEventSink(tg))
		logger.Infof("telegram notifier enabled")
	}

	venue, source, err := b.venueFn(cfg.Exchange)
	if err != nil {
		return nil, fmt.Errorf("venue init failed: %w", err)
	}
	logger.Infof("venue: %s", venue.Name())

	gate, err := risk.NewGate(risk.Parameters{
		PositionSizeFraction: cfg.Risk.PositionSizeFraction,
		MaxOpenPositions:     cfg.Risk.MaxOpenPositions,
		StopLossPct:          cfg.Risk.StopLossPct,
		TakeProfitPct:        cfg.Risk.TakeProfitPct,
	})
	if err != nil {
		return nil, fmt.Errorf("risk gate init failed: %w", err)
	}

	exec := executor.New(venue, executor.Config{
		MaxAttempts: cfg.Executor.MaxAttempts,
		Backoff: backoff.Policy{
			Base: time.Duration(cfg.Executor.BackoffBaseMs) * time.Millisecond,
			Max:  time.Duration(cfg.Executor.BackoffMaxMs) * time.Millisecond,
		},
		CallTimeout:      time.Duration(cfg.Executor.CallTimeoutSeconds) * time.Second,
		PollInterval:     time.Duration(cfg.Executor.PollIntervalSeconds) * time.Second,
		PollBudget:       time.Duration(cfg.Executor.PollBudgetSeconds) * time.Second,
		BreakerThreshold: cfg.Executor.BreakerThreshold,
		BreakerCooldown:  time.Duration(cfg.Executor.BreakerCooldownSeconds) * time.Second,
	}, fanout, st)

	book := ledger.New(st, fanout)
	if err := book.Hydrate(ctx); err != nil {
		return nil, fmt.Errorf("ledger hydrate failed: %w", err)
	}

	universe := symbol.NormalizeList(cfg.Trading.Symbols)

	dispatcher := trader.NewDispatcher(gate, exec, book, venue, fanout, trader.Config{
		QueueSize: cfg.Trading.QueueSize,
		OpTimeout: cfg.Trading.OpTimeout(),
	})

	loop := reconcile.New(venue, book, fanout, reconcile.Config{
		Interval:    cfg.Reconcile.Interval(),
		Tolerance:   cfg.Reconcile.Tolerance,
		DustEpsilon: cfg.Reconcile.DustEpsilon,
		Universe:    universe,
	})

	exec.SetTerminalHook(loop.Nudge)
	loop.SetPassHook(dispatcher.Resume)
	dispatcher.SetReconcileNudge(loop.Nudge)

	profiles, runners, err := buildStrategies(cfg.Strategy, universe)
	if err != nil {
		return nil, err
	}
	dispatcher.SetRequiredIndicators(runners.required())
	if profiles != nil {
		profiles.Subscribe(func(snap cfgloader.ProfileSnapshot) {
			if err := runners.rebuild(snap, cfg.Strategy, universe); err != nil {
				logger.Errorf("profile update rejected, keeping previous strategies: %v", err)
				return
			}
			dispatcher.SetRequiredIndicators(runners.required())
		})
	}

	var feed *market.Feed
	if source != nil {
		feed, err = market.NewFeed(source, universe, cfg.Trading.Interval, func(candle market.Candle) {
			dispatcher.CheckProtectiveExits(candle)
			sig, indicators := runners.onCandle(candle)
			if sig == nil {
				return
			}
			if err := dispatcher.Dispatch(*sig, indicators); err != nil {
				if errors.Is(err, trader.ErrIncompleteData) {
					logger.Debugf("signal for %s dropped, indicators incomplete", candle.Symbol)
					return
				}
				logger.Warnf("dispatch %s failed: %v", candle.Symbol, err)
			}
		})
		if err != nil {
			return nil, fmt.Errorf("feed init failed: %w", err)
		}
	}

	adminHTTP, err := b.adminFn(livehttp.ServerConfig{
		Addr:     cfg.App.HTTPAddr,
		Book:     book,
		Injector: dispatcher,
		Events:   journalDB,
		Nudger:   loop,
		Symbols:  universe,
	})
	if err != nil {
		return nil, fmt.Errorf("admin http init failed: %w", err)
	}
	logger.Infof("admin API listening on %s", adminHTTP.Addr())

	return &App{
		cfg:        cfg,
		dispatcher: dispatcher,
		reconciler: loop,
		feed:       feed,
		adminHTTP:  adminHTTP,
		store:      st,
		profiles:   profiles,
	}, nil
}

func buildStores(cfg config.StoreConfig) (store.Store, *journal.Journal, error) {
	gorm, err := gormstore.New(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	journalDB, err := journal.New(cfg.JournalPath)
	if err != nil {
		return nil, nil, err
	}
	combined := store.NewCombined(gorm, gorm, journalDB, gorm, journalDB)
	return combined, journalDB, nil
}

func buildVenue(cfg config.ExchangeConfig) (exchange.Exchange, market.Source, error) {
	if cfg.Paper() {
		logger.Warnf("paper venue active, no real orders will be placed")
		v := paper.New(10_000)
		return v, v, nil
	}
	spot := binance.New(binance.Config{
		APIKey:        cfg.APIKey,
		APISecret:     cfg.APISecret,
		Testnet:       cfg.Testnet,
		RESTBaseURL:   cfg.RESTBaseURL,
		HTTPTimeout:   cfg.HTTPTimeout(),
		StakeCurrency: cfg.StakeCurrency,
		FiltersTTL:    cfg.FiltersTTL(),
	})
	return spot, spot, nil
}

// strategySet holds one runner per symbol and swaps the whole set atomically
// on profile reload.
type strategySet struct {
	mu      sync.RWMutex
	runners map[string]*strategy.Runner
	names   []string // union of required indicator names
}

func buildStrategies(cfg config.StrategyConfig, universe []string) (*cfgloader.ProfileLoader, *strategySet, error) {
	set := &strategySet{}

	var profiles *cfgloader.ProfileLoader
	if path := strings.TrimSpace(cfg.ProfilesPath); path != "" {
		if _, err := os.Stat(path); err == nil {
			loaded, err := cfgloader.NewProfileLoader(path)
			if err != nil {
				return nil, nil, fmt.Errorf("profile loader failed: %w", err)
			}
			profiles = loaded
		} else {
			logger.Warnf("profiles file %s not found, using strategy.name for all symbols", path)
		}
	}

	var snap cfgloader.ProfileSnapshot
	if profiles != nil {
		snap = profiles.Snapshot()
	}
	if err := set.rebuild(snap, cfg, universe); err != nil {
		if profiles != nil {
			_ = profiles.Close()
		}
		return nil, nil, err
	}
	return profiles, set, nil
}

// rebuild constructs fresh runners for the universe. The default strategy
// from the main config covers symbols no profile claims.
func (s *strategySet) rebuild(snap cfgloader.ProfileSnapshot, cfg config.StrategyConfig, universe []string) error {
	runners := make(map[string]*strategy.Runner, len(universe))
	seen := make(map[string]bool)
	var names []string

	for _, sym := range universe {
		stratName, params := cfg.Name, cfg.Params
		if prof, ok := snap.For(sym); ok {
			stratName, params = prof.Strategy, prof.Params
		}
		strat, err := strategy.New(stratName, params)
		if err != nil {
			return fmt.Errorf("strategy %q for %s: %w", stratName, sym, err)
		}
		runners[sym] = strategy.NewRunner(strat, 0)
		for _, name := range strat.RequiredIndicators() {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)

	s.mu.Lock()
	s.runners = runners
	s.names = names
	s.mu.Unlock()
	return nil
}

func (s *strategySet) onCandle(candle market.Candle) (*types.Signal, market.IndicatorSet) {
	s.mu.RLock()
	runner := s.runners[candle.Symbol]
	s.mu.RUnlock()
	if runner == nil {
		return nil, nil
	}
	return runner.OnCandle(candle)
}

func (s *strategySet) required() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}
