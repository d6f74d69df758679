package config

import (
	"strings"
)

const (
	defaultAppEnv      = "dev"
	defaultAppLogLevel = "info"
	defaultAppHTTPAddr = ":9990"
	defaultAppLogPath  = "/data/logs/marlin.log"

	defaultExchangeVenue      = "binance"
	defaultExchangeStake      = "USDT"
	defaultExchangeTimeout    = 15
	defaultExchangeFiltersTTL = 3600

	defaultTradingInterval  = "1m"
	defaultTradingQueueSize = 64
	defaultTradingOpTimeout = 180

	defaultRiskSizeFraction = 0.1
	defaultRiskMaxPositions = 3

	defaultExecMaxAttempts     = 4
	defaultExecBackoffBaseMs   = 500
	defaultExecBackoffMaxMs    = 30000
	defaultExecCallTimeout     = 10
	defaultExecPollInterval    = 2
	defaultExecPollBudget      = 120
	defaultExecBreakerMisses   = 5
	defaultExecBreakerCooldown = 30

	defaultReconcileInterval = 60
	defaultReconcileTol      = 1e-8
	defaultReconcileDust     = 1e-8

	defaultStrategyName  = "rsi_threshold"
	defaultProfilesPath  = "configs/profiles.yaml"
	defaultStoreDBPath   = "/data/db/marlin.db"
	defaultJournalDBPath = "/data/db/marlin-events.db"
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Exchange.applyDefaults(keys)
	c.Trading.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	c.Executor.applyDefaults(keys)
	c.Reconcile.applyDefaults(keys)
	c.Strategy.applyDefaults(keys)
	c.Store.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (e *ExchangeConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("exchange.venue", &e.Venue, defaultExchangeVenue),
		stringFieldDefault("exchange.stake_currency", &e.StakeCurrency, defaultExchangeStake),
		fieldDefault{
			key:   "exchange.timeout_seconds",
			need:  func() bool { return e.TimeoutSeconds <= 0 },
			apply: func() { e.TimeoutSeconds = defaultExchangeTimeout },
		},
		fieldDefault{
			key:   "exchange.filters_ttl_seconds",
			need:  func() bool { return e.FiltersTTLSeconds <= 0 },
			apply: func() { e.FiltersTTLSeconds = defaultExchangeFiltersTTL },
		},
	)
	e.StakeCurrency = strings.ToUpper(strings.TrimSpace(e.StakeCurrency))
}

func (t *TradingConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("trading.interval", &t.Interval, defaultTradingInterval),
		fieldDefault{
			key:   "trading.queue_size",
			need:  func() bool { return t.QueueSize <= 0 },
			apply: func() { t.QueueSize = defaultTradingQueueSize },
		},
		fieldDefault{
			key:   "trading.op_timeout_seconds",
			need:  func() bool { return t.OpTimeoutSeconds <= 0 },
			apply: func() { t.OpTimeoutSeconds = defaultTradingOpTimeout },
		},
	)
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "risk.position_size_fraction",
			need:  func() bool { return r.PositionSizeFraction <= 0 || r.PositionSizeFraction > 1 },
			apply: func() { r.PositionSizeFraction = defaultRiskSizeFraction },
		},
		fieldDefault{
			key:   "risk.max_open_positions",
			need:  func() bool { return r.MaxOpenPositions <= 0 },
			apply: func() { r.MaxOpenPositions = defaultRiskMaxPositions },
		},
	)
	if r.StopLossPct < 0 {
		r.StopLossPct = 0
	}
	if r.TakeProfitPct < 0 {
		r.TakeProfitPct = 0
	}
}

func (e *ExecutorConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("executor.max_attempts", &e.MaxAttempts, defaultExecMaxAttempts),
		intFieldDefault("executor.backoff_base_ms", &e.BackoffBaseMs, defaultExecBackoffBaseMs),
		intFieldDefault("executor.backoff_max_ms", &e.BackoffMaxMs, defaultExecBackoffMaxMs),
		intFieldDefault("executor.call_timeout_seconds", &e.CallTimeoutSeconds, defaultExecCallTimeout),
		intFieldDefault("executor.poll_interval_seconds", &e.PollIntervalSeconds, defaultExecPollInterval),
		intFieldDefault("executor.poll_budget_seconds", &e.PollBudgetSeconds, defaultExecPollBudget),
		intFieldDefault("executor.breaker_threshold", &e.BreakerThreshold, defaultExecBreakerMisses),
		intFieldDefault("executor.breaker_cooldown_seconds", &e.BreakerCooldownSeconds, defaultExecBreakerCooldown),
	)
}

func (r *ReconcileConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("reconcile.interval_seconds", &r.IntervalSeconds, defaultReconcileInterval),
		fieldDefault{
			key:   "reconcile.tolerance",
			need:  func() bool { return r.Tolerance <= 0 },
			apply: func() { r.Tolerance = defaultReconcileTol },
		},
		fieldDefault{
			key:   "reconcile.dust_epsilon",
			need:  func() bool { return r.DustEpsilon <= 0 },
			apply: func() { r.DustEpsilon = defaultReconcileDust },
		},
	)
}

func (s *StrategyConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("strategy.name", &s.Name, defaultStrategyName),
		stringFieldDefault("strategy.profiles_path", &s.ProfilesPath, defaultProfilesPath),
	)
	if s.Params == nil {
		s.Params = make(map[string]any)
	}
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.db_path", &s.DBPath, defaultStoreDBPath),
		stringFieldDefault("store.journal_path", &s.JournalPath, defaultJournalDBPath),
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
