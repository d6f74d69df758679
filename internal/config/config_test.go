package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalPaper = `
exchange:
  venue: paper
trading:
  symbols: ["BTC/USDT"]
`

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", minimalPaper)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9990", cfg.App.HTTPAddr)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, "USDT", cfg.Exchange.StakeCurrency)
	assert.True(t, cfg.Exchange.Paper())
	assert.Equal(t, "1m", cfg.Trading.Interval)
	assert.Equal(t, 64, cfg.Trading.QueueSize)
	assert.Equal(t, 0.1, cfg.Risk.PositionSizeFraction)
	assert.Equal(t, 3, cfg.Risk.MaxOpenPositions)
	assert.Equal(t, 4, cfg.Executor.MaxAttempts)
	assert.Equal(t, 5, cfg.Executor.BreakerThreshold)
	assert.Equal(t, 60, cfg.Reconcile.IntervalSeconds)
	assert.Equal(t, "rsi_threshold", cfg.Strategy.Name)
}

func TestLoadExplicitZeroSurvivesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", minimalPaper+`
risk:
  stop_loss_pct: 0
  take_profit_pct: 0
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.0, cfg.Risk.StopLossPct)
	assert.Equal(t, 0.0, cfg.Risk.TakeProfitPct)
}

func TestLoadBinanceRequiresCredentials(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", `
exchange:
  venue: binance
trading:
  symbols: ["BTCUSDT"]
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key")
}

func TestLoadValidationFailures(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"BadVenue", `
exchange:
  venue: kraken
trading:
  symbols: ["BTCUSDT"]
`},
		{"NoSymbols", `
exchange:
  venue: paper
trading:
  symbols: []
`},
		{"BadSymbol", `
exchange:
  venue: paper
trading:
  symbols: ["???"]
`},
		{"BadInterval", `
exchange:
  venue: paper
trading:
  symbols: ["BTCUSDT"]
  interval: "fast"
`},
		{"FractionOutOfRange", `
exchange:
  venue: paper
trading:
  symbols: ["BTCUSDT"]
risk:
  position_size_fraction: 1.5
`},
		{"TelegramMissingToken", `
exchange:
  venue: paper
trading:
  symbols: ["BTCUSDT"]
notify:
  telegram:
    enabled: true
`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			path := writeConfig(t, dir, "config.yaml", tc.yaml)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadIncludeMerge(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "base.yaml", `
exchange:
  venue: paper
trading:
  symbols: ["BTCUSDT"]
  queue_size: 16
`)
	path := writeConfig(t, dir, "config.yaml", `
include:
  - base.yaml
trading:
  queue_size: 32
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	// The including file wins over its includes.
	assert.Equal(t, 32, cfg.Trading.QueueSize)
	assert.Equal(t, []string{"BTCUSDT"}, cfg.Trading.Symbols)
	assert.True(t, cfg.Exchange.Paper())
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "a.yaml", "include: [b.yaml]\n")
	writeConfig(t, dir, "b.yaml", "include: [a.yaml]\n")

	_, err := Load(filepath.Join(dir, "a.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestIsValidInterval(t *testing.T) {
	valid := []string{"1m", "5m", "15m", "1h", "4h", "1d", "1w", "30s"}
	for _, s := range valid {
		assert.True(t, IsValidInterval(s), s)
	}
	invalid := []string{"", "m", "1", "1x", "m1", "1.5m", "1M"}
	for _, s := range invalid {
		assert.False(t, IsValidInterval(s), s)
	}
}
