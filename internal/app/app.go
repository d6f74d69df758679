// Package app assembles the engine: stores, venue, risk gate, executor,
// ledger, dispatcher, reconciler, strategy runners and the admin API.
package app

import (
	"context"
	"fmt"

	"marlin/internal/config"
	cfgloader "marlin/internal/config/loader"
	"marlin/internal/logger"
	"marlin/internal/market"
	"marlin/internal/reconcile"
	"marlin/internal/store"
	"marlin/internal/trader"
	livehttp "marlin/internal/transport/http/live"

	"golang.org/x/sync/errgroup"
)

// App owns the run lifecycle of every engine component.
type App struct {
	cfg *config.Config

	dispatcher *trader.Dispatcher
	reconciler *reconcile.Loop
	feed       *market.Feed
	adminHTTP  *livehttp.Server

	store    store.Store
	profiles *cfgloader.ProfileLoader
}

// NewApp builds the application from config without starting anything.
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run starts the reconciler, the candle feed and the admin API, and blocks
// until the context is canceled or a component fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}

	group, ctx := errgroup.WithContext(ctx)

	if a.adminHTTP != nil {
		group.Go(func() error {
			if err := a.adminHTTP.Start(ctx); err != nil {
				return fmt.Errorf("admin http server error: %w", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		return a.reconciler.Run(ctx)
	})

	if a.feed != nil {
		group.Go(func() error {
			return a.feed.Run(ctx)
		})
	}

	err := group.Wait()

	a.dispatcher.Stop()
	if a.profiles != nil {
		_ = a.profiles.Close()
	}
	if a.store != nil {
		if cerr := a.store.Close(); cerr != nil {
			logger.Warnf("store close failed: %v", cerr)
		}
	}
	return err
}

// Dispatcher exposes the signal entry point for test and replay harnesses.
func (a *App) Dispatcher() *trader.Dispatcher {
	if a == nil {
		return nil
	}
	return a.dispatcher
}
