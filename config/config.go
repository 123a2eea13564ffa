// Package config handles application configuration.
//
// Settings come from three layers, later ones winning: per-network
// defaults, the klingwallet.conf file in the data directory, and
// command-line flags.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// NetworkType identifies the chain network of a currency.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
	Regtest NetworkType = "regtest"
)

// Config holds the wallet engine's runtime configuration.
type Config struct {
	// Core
	Network  NetworkType `conf:"network"`
	Currency string      `conf:"currency"`
	DataDir  string      `conf:"datadir"`

	// Block explorer
	Explorer ExplorerConfig

	// Address discovery
	Sync SyncConfig

	// Transaction policy applied to new accounts
	Policy PolicyConfig

	// Account persistence
	Storage StorageConfig

	// Logging
	Log LogConfig
}

// ExplorerConfig holds the Esplora client settings.
type ExplorerConfig struct {
	URL         string        `conf:"explorer.url"`
	Timeout     time.Duration `conf:"explorer.timeout"`
	MaxRetries  int           `conf:"explorer.maxretries"`
	RateLimit   float64       `conf:"explorer.ratelimit"` // requests per second, 0 = unlimited
	FeeCacheTTL time.Duration `conf:"explorer.feecachettl"`
}

// SyncConfig holds address scan settings.
type SyncConfig struct {
	GapLimit    int `conf:"sync.gaplimit"`
	Concurrency int `conf:"sync.concurrency"`
}

// PolicyConfig holds transaction policy settings. Zero values select the
// engine defaults.
type PolicyConfig struct {
	MaxOutputValue    int64 `conf:"policy.maxoutputvalue"`
	DustRelayFeePerKb int64 `conf:"policy.dustrelayfee"`
}

// StorageConfig holds account store settings.
type StorageConfig struct {
	Backend string `conf:"storage.backend"` // badger or memory
	Sealed  bool   `conf:"storage.sealed"`
	// Password seals the store. Never read from the config file.
	Password string
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.klingwallet
//	macOS:   ~/Library/Application Support/Klingwallet
//	Windows: %APPDATA%\Klingwallet
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".klingwallet"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Klingwallet")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "Klingwallet")
		}
		return filepath.Join(home, "AppData", "Roaming", "Klingwallet")
	default:
		return filepath.Join(home, ".klingwallet")
	}
}

// ChainDataDir returns the currency and network specific data directory.
func (c *Config) ChainDataDir() string {
	return filepath.Join(c.DataDir, c.Currency, string(c.Network))
}

// StorageDir returns the account database directory.
func (c *Config) StorageDir() string {
	return c.ChainDataDir()
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "klingwallet.conf")
}

// EnsureDataDirs creates the data directory structure and a default config
// file if they don't already exist. Safe to call on every start.
func EnsureDataDirs(cfg *Config) error {
	for _, dir := range []string{cfg.DataDir, cfg.ChainDataDir(), cfg.LogsDir()} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}
	configPath := cfg.ConfigFile()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := WriteDefaultConfig(configPath, cfg); err != nil {
			return err
		}
	}
	return nil
}
