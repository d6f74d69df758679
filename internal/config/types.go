package config

import (
	"strings"
	"time"
)

// Config is the engine's main configuration carrier.
type Config struct {
	App       AppConfig       `toml:"app"`
	Exchange  ExchangeConfig  `toml:"exchange"`
	Trading   TradingConfig   `toml:"trading"`
	Risk      RiskConfig      `toml:"risk"`
	Executor  ExecutorConfig  `toml:"executor"`
	Reconcile ReconcileConfig `toml:"reconcile"`
	Strategy  StrategyConfig  `toml:"strategy"`
	Store     StoreConfig     `toml:"store"`
	Notify    NotifyConfig    `toml:"notify"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
	HTTPAddr string `toml:"http_addr"`
}

// ExchangeConfig selects and configures the execution venue.
type ExchangeConfig struct {
	Venue              string `toml:"venue"` // "binance" | "paper"
	APIKey             string `toml:"api_key"`
	APISecret          string `toml:"api_secret"`
	Testnet            bool   `toml:"testnet"`
	RESTBaseURL        string `toml:"rest_base_url"`
	StakeCurrency      string `toml:"stake_currency"`
	TimeoutSeconds     int    `toml:"timeout_seconds"`
	FiltersTTLSeconds  int    `toml:"filters_ttl_seconds"`
}

func (e ExchangeConfig) HTTPTimeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

func (e ExchangeConfig) FiltersTTL() time.Duration {
	return time.Duration(e.FiltersTTLSeconds) * time.Second
}

func (e ExchangeConfig) Paper() bool {
	return strings.EqualFold(strings.TrimSpace(e.Venue), "paper")
}

// TradingConfig scopes the symbol universe and dispatch behavior.
type TradingConfig struct {
	Symbols          []string `toml:"symbols"`
	Interval         string   `toml:"interval"` // candle interval fed to the strategy
	QueueSize        int      `toml:"queue_size"`
	OpTimeoutSeconds int      `toml:"op_timeout_seconds"`
}

func (t TradingConfig) OpTimeout() time.Duration {
	return time.Duration(t.OpTimeoutSeconds) * time.Second
}

// RiskConfig holds the sizing and limit knobs applied to every entry.
type RiskConfig struct {
	PositionSizeFraction float64 `toml:"position_size_fraction"` // fraction of equity per entry, (0,1]
	MaxOpenPositions     int     `toml:"max_open_positions"`
	StopLossPct          float64 `toml:"stop_loss_pct"`
	TakeProfitPct        float64 `toml:"take_profit_pct"`
}

// ExecutorConfig tunes order submission retries and venue health tracking.
type ExecutorConfig struct {
	MaxAttempts            int `toml:"max_attempts"`
	BackoffBaseMs          int `toml:"backoff_base_ms"`
	BackoffMaxMs           int `toml:"backoff_max_ms"`
	CallTimeoutSeconds     int `toml:"call_timeout_seconds"`
	PollIntervalSeconds    int `toml:"poll_interval_seconds"`
	PollBudgetSeconds      int `toml:"poll_budget_seconds"`
	BreakerThreshold       int `toml:"breaker_threshold"`
	BreakerCooldownSeconds int `toml:"breaker_cooldown_seconds"`
}

// ReconcileConfig tunes the periodic exchange/ledger comparison.
type ReconcileConfig struct {
	IntervalSeconds int     `toml:"interval_seconds"`
	Tolerance       float64 `toml:"tolerance"`
	DustEpsilon     float64 `toml:"dust_epsilon"`
}

func (r ReconcileConfig) Interval() time.Duration {
	return time.Duration(r.IntervalSeconds) * time.Second
}

// StrategyConfig names the active strategy and its parameter source.
type StrategyConfig struct {
	Name         string         `toml:"name"`
	ProfilesPath string         `toml:"profiles_path"`
	Params       map[string]any `toml:"params"`
}

type StoreConfig struct {
	DBPath      string `toml:"db_path"`
	JournalPath string `toml:"journal_path"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

// keySet tracks field paths explicitly set in the config files, so defaults
// never clobber an intentional zero value.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault describes the default rule for a single field.
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
