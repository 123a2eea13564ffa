package config

import (
	"fmt"
	"net/url"

	"github.com/Klingon-tech/klingwallet/internal/log"
	"github.com/Klingon-tech/klingwallet/pkg/currency"
)

// Storage backends.
const (
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// Validate checks runtime config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	switch cfg.Network {
	case Mainnet, Testnet, Regtest:
	default:
		return fmt.Errorf("network must be %q, %q or %q", Mainnet, Testnet, Regtest)
	}
	if _, err := currency.Lookup(currency.ID(cfg.Currency), string(cfg.Network)); err != nil {
		return err
	}

	if cfg.Explorer.URL == "" {
		return fmt.Errorf("explorer.url is required for %s/%s", cfg.Currency, cfg.Network)
	}
	u, err := url.Parse(cfg.Explorer.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("explorer.url must be an http(s) URL")
	}
	if cfg.Explorer.Timeout <= 0 {
		return fmt.Errorf("explorer.timeout must be positive")
	}
	if cfg.Explorer.MaxRetries < 0 {
		return fmt.Errorf("explorer.maxretries must not be negative")
	}
	if cfg.Explorer.RateLimit < 0 {
		return fmt.Errorf("explorer.ratelimit must not be negative")
	}
	if cfg.Explorer.FeeCacheTTL < 0 {
		return fmt.Errorf("explorer.feecachettl must not be negative")
	}

	if cfg.Sync.GapLimit < 1 {
		return fmt.Errorf("sync.gaplimit must be at least 1")
	}
	if cfg.Sync.Concurrency < 1 {
		return fmt.Errorf("sync.concurrency must be at least 1")
	}

	if cfg.Policy.MaxOutputValue < 0 {
		return fmt.Errorf("policy.maxoutputvalue must not be negative")
	}
	if cfg.Policy.DustRelayFeePerKb < 0 {
		return fmt.Errorf("policy.dustrelayfee must not be negative")
	}

	switch cfg.Storage.Backend {
	case BackendBadger, BackendMemory:
	default:
		return fmt.Errorf("storage.backend must be %q or %q", BackendBadger, BackendMemory)
	}

	if !log.ValidLevel(cfg.Log.Level) {
		return fmt.Errorf("log.level %q is not a known level", cfg.Log.Level)
	}
	return nil
}
