package config

import (
	"fmt"
	"strings"

	"marlin/internal/pkg/symbol"
)

func validate(c *Config) error {
	if err := c.Exchange.validate(); err != nil {
		return err
	}
	if err := c.Trading.validate(); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := c.Executor.validate(); err != nil {
		return err
	}
	if err := c.Reconcile.validate(); err != nil {
		return err
	}
	if err := c.Strategy.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (e *ExchangeConfig) validate() error {
	venue := strings.ToLower(strings.TrimSpace(e.Venue))
	switch venue {
	case "binance":
		if strings.TrimSpace(e.APIKey) == "" || strings.TrimSpace(e.APISecret) == "" {
			return fmt.Errorf("exchange.api_key and exchange.api_secret are required for venue binance")
		}
	case "paper":
	default:
		return fmt.Errorf("exchange.venue must be 'binance' or 'paper', got %q", e.Venue)
	}
	if e.TimeoutSeconds <= 0 {
		return fmt.Errorf("exchange.timeout_seconds must be > 0")
	}
	return nil
}

func (t *TradingConfig) validate() error {
	if len(t.Symbols) == 0 {
		return fmt.Errorf("trading.symbols requires at least one symbol")
	}
	for _, s := range t.Symbols {
		if !symbol.IsValid(symbol.Normalize(s)) {
			return fmt.Errorf("trading.symbols contains invalid symbol %q", s)
		}
	}
	if !IsValidInterval(t.Interval) {
		return fmt.Errorf("trading.interval %q is not a valid interval", t.Interval)
	}
	if t.QueueSize <= 0 {
		return fmt.Errorf("trading.queue_size must be > 0")
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if r.PositionSizeFraction <= 0 || r.PositionSizeFraction > 1 {
		return fmt.Errorf("risk.position_size_fraction must be in (0, 1]")
	}
	if r.MaxOpenPositions <= 0 {
		return fmt.Errorf("risk.max_open_positions must be > 0")
	}
	if r.StopLossPct < 0 || r.StopLossPct >= 100 {
		return fmt.Errorf("risk.stop_loss_pct must be in [0, 100)")
	}
	if r.TakeProfitPct < 0 {
		return fmt.Errorf("risk.take_profit_pct must be >= 0")
	}
	return nil
}

func (e *ExecutorConfig) validate() error {
	if e.MaxAttempts <= 0 {
		return fmt.Errorf("executor.max_attempts must be > 0")
	}
	if e.BackoffBaseMs <= 0 || e.BackoffMaxMs < e.BackoffBaseMs {
		return fmt.Errorf("executor backoff requires 0 < backoff_base_ms <= backoff_max_ms")
	}
	if e.PollIntervalSeconds <= 0 || e.PollBudgetSeconds < e.PollIntervalSeconds {
		return fmt.Errorf("executor polling requires 0 < poll_interval_seconds <= poll_budget_seconds")
	}
	return nil
}

func (r *ReconcileConfig) validate() error {
	if r.IntervalSeconds <= 0 {
		return fmt.Errorf("reconcile.interval_seconds must be > 0")
	}
	if r.Tolerance <= 0 {
		return fmt.Errorf("reconcile.tolerance must be > 0")
	}
	return nil
}

func (s *StrategyConfig) validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("strategy.name cannot be empty")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled {
		if n.Telegram.BotToken == "" || n.Telegram.ChatID == "" {
			return fmt.Errorf("telegram notification enabled but missing bot_token or chat_id")
		}
	}
	return nil
}

// IsValidInterval accepts digits followed by one of s/m/h/d/w.
func IsValidInterval(s string) bool {
	if len(s) < 2 {
		return false
	}
	suf := s[len(s)-1]
	if suf != 's' && suf != 'm' && suf != 'h' && suf != 'd' && suf != 'w' {
		return false
	}
	for i := 0; i < len(s)-1; i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
