package binance

import (
	"strings"
	"time"
)

type Config struct {
	APIKey    string
	APISecret string

	// Testnet routes all calls to the spot testnet.
	Testnet     bool
	RESTBaseURL string
	HTTPTimeout time.Duration

	// StakeCurrency is the quote asset whose balance counts as equity.
	StakeCurrency string

	// FiltersTTL bounds how long cached symbol filters are served before a
	// refresh.
	FiltersTTL time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	out.RESTBaseURL = strings.TrimSpace(out.RESTBaseURL)
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	out.StakeCurrency = strings.ToUpper(strings.TrimSpace(out.StakeCurrency))
	if out.StakeCurrency == "" {
		out.StakeCurrency = "USDT"
	}
	if out.FiltersTTL <= 0 {
		out.FiltersTTL = time.Hour
	}
	return out
}
