package market

import (
	"context"
	"fmt"
	"time"

	"marlin/internal/logger"
	"marlin/internal/scheduler"
)

// Source fetches closed candles for a symbol. The binance and paper gateways
// implement it.
type Source interface {
	Candles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
}

// Handler receives each newly closed candle, one symbol at a time.
type Handler func(Candle)

// Feed polls the source once per candle interval and delivers the latest
// closed candle per symbol, deduplicated by close time.
type Feed struct {
	source   Source
	symbols  []string
	interval string
	poll     time.Duration
	handler  Handler

	lastClose map[string]time.Time
}

func NewFeed(source Source, symbols []string, interval string, handler Handler) (*Feed, error) {
	poll, ok := scheduler.ParseIntervalDuration(interval)
	if !ok {
		return nil, fmt.Errorf("invalid candle interval %q", interval)
	}
	return &Feed{
		source:    source,
		symbols:   append([]string(nil), symbols...),
		interval:  interval,
		poll:      poll,
		handler:   handler,
		lastClose: make(map[string]time.Time, len(symbols)),
	}, nil
}

// Run polls until ctx is canceled. The poll cadence is a quarter of the
// candle interval so a freshly closed bar is picked up promptly, floored at
// one second.
func (f *Feed) Run(ctx context.Context) error {
	cadence := f.poll / 4
	if cadence < time.Second {
		cadence = time.Second
	}
	sched := scheduler.NewIntervalScheduler(ctx, cadence)
	sched.RunImmediately = true
	sched.Start(func() { f.pass(ctx) })
	return nil
}

func (f *Feed) pass(ctx context.Context) {
	for _, sym := range f.symbols {
		select {
		case <-ctx.Done():
			return
		default:
		}
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		candles, err := f.source.Candles(callCtx, sym, f.interval, 2)
		cancel()
		if err != nil {
			logger.Warnf("candle fetch %s failed: %v", sym, err)
			continue
		}
		candle, ok := latestClosed(candles)
		if !ok {
			continue
		}
		if !candle.CloseTime.After(f.lastClose[sym]) {
			continue
		}
		f.lastClose[sym] = candle.CloseTime
		f.handler(candle)
	}
}

// latestClosed picks the newest candle whose close time has passed. Venues
// return the still-forming bar last.
func latestClosed(candles []Candle) (Candle, bool) {
	now := time.Now()
	for i := len(candles) - 1; i >= 0; i-- {
		if candles[i].CloseTime.Before(now) {
			return candles[i], true
		}
	}
	return Candle{}, false
}
