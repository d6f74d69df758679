package executor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"marlin/internal/gateway/exchange"
	"marlin/internal/gateway/paper"
	"marlin/internal/pkg/backoff"
	"marlin/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		MaxAttempts:  4,
		Backoff:      backoff.Policy{Base: time.Millisecond, Max: 5 * time.Millisecond},
		CallTimeout:  time.Second,
		PollInterval: time.Millisecond,
		PollBudget:   time.Second,
	}
}

func buyIntent(symbol string) types.OrderIntent {
	return types.OrderIntent{
		Symbol:         symbol,
		Side:           types.SideBuy,
		Quantity:       10,
		Market:         true,
		IdempotencyKey: types.IdempotencyKey(symbol, types.SideBuy, time.Now()),
		EmittedAt:      time.Now(),
	}
}

func TestExecuteFills(t *testing.T) {
	venue := paper.New(10_000)
	venue.SetPrice("BTCUSDT", 100)
	exec := New(venue, testConfig(), nil, nil)

	fill, err := exec.Execute(context.Background(), buyIntent("BTCUSDT"))
	require.NoError(t, err)
	assert.Equal(t, 10.0, fill.Quantity)
	assert.Equal(t, 100.0, fill.Price)
	assert.Equal(t, types.FillSourceOrder, fill.Source)
	assert.Equal(t, 1, venue.OrderCount())
}

func TestExecuteRetriesTransientThenFills(t *testing.T) {
	venue := paper.New(10_000)
	venue.SetPrice("BTCUSDT", 100)
	venue.FailNext(
		exchange.Transient("place-order", fmt.Errorf("timeout")),
		exchange.Transient("place-order", fmt.Errorf("timeout")),
	)
	exec := New(venue, testConfig(), nil, nil)

	fill, err := exec.Execute(context.Background(), buyIntent("BTCUSDT"))
	require.NoError(t, err)
	assert.Equal(t, 10.0, fill.Quantity)
	// Two failed attempts plus one success must leave exactly one order.
	assert.Equal(t, 1, venue.OrderCount())
}

func TestExecuteTerminalRejectionNotRetried(t *testing.T) {
	venue := paper.New(10_000)
	venue.SetPrice("BTCUSDT", 100)
	venue.FailNext(exchange.Terminal("place-order", -2010, fmt.Errorf("insufficient balance")))
	exec := New(venue, testConfig(), nil, nil)

	_, err := exec.Execute(context.Background(), buyIntent("BTCUSDT"))
	require.Error(t, err)
	var rejected *RejectedError
	assert.True(t, errors.As(err, &rejected))
	assert.Equal(t, 0, venue.OrderCount(), "rejection must not be retried")
}

func TestExecuteAttemptsExhausted(t *testing.T) {
	venue := paper.New(10_000)
	venue.SetPrice("BTCUSDT", 100)
	venue.FailNext(
		exchange.Transient("place-order", fmt.Errorf("timeout")),
		exchange.Transient("place-order", fmt.Errorf("timeout")),
		exchange.Transient("place-order", fmt.Errorf("timeout")),
		exchange.Transient("place-order", fmt.Errorf("timeout")),
	)
	cfg := testConfig()
	cfg.BreakerThreshold = 10 // keep the breaker out of this test
	exec := New(venue, cfg, nil, nil)

	_, err := exec.Execute(context.Background(), buyIntent("BTCUSDT"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAttemptsExhausted)
	assert.Equal(t, 0, venue.OrderCount())
}

func TestExecuteDoubleSubmitSameKey(t *testing.T) {
	venue := paper.New(10_000)
	venue.SetPrice("BTCUSDT", 100)
	exec := New(venue, testConfig(), nil, nil)

	intent := buyIntent("BTCUSDT")
	first, err := exec.Execute(context.Background(), intent)
	require.NoError(t, err)

	// Same intent again: venue answers with the original order, no second
	// order and no second fill quantity.
	second, err := exec.Execute(context.Background(), intent)
	require.NoError(t, err)
	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, 1, venue.OrderCount())
}

func TestTerminalHookFires(t *testing.T) {
	venue := paper.New(10_000)
	venue.SetPrice("BTCUSDT", 100)
	exec := New(venue, testConfig(), nil, nil)

	var nudged []string
	exec.SetTerminalHook(func(symbol string) { nudged = append(nudged, symbol) })

	_, err := exec.Execute(context.Background(), buyIntent("BTCUSDT"))
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT"}, nudged)
}
