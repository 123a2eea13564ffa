package config

import (
	"time"

	"github.com/Klingon-tech/klingwallet/pkg/currency"
)

// DefaultCurrency is used when none is configured.
const DefaultCurrency = string(currency.Bitcoin)

// Default explorer endpoints per currency and network.
var defaultExplorerURLs = map[currency.ID]map[NetworkType]string{
	currency.Bitcoin: {
		Mainnet: "https://blockstream.info/api",
		Testnet: "https://blockstream.info/testnet/api",
		Regtest: "http://127.0.0.1:3002",
	},
	currency.Litecoin: {
		Mainnet: "https://litecoinspace.org/api",
		Testnet: "https://litecoinspace.org/testnet/api",
	},
}

// DefaultExplorerURL returns the default Esplora endpoint, or "" when the
// currency has none.
func DefaultExplorerURL(cur string, network NetworkType) string {
	return defaultExplorerURLs[currency.ID(cur)][network]
}

// Default returns the default configuration for a currency and network.
func Default(cur string, network NetworkType) *Config {
	return &Config{
		Network:  network,
		Currency: cur,
		DataDir:  DefaultDataDir(),
		Explorer: ExplorerConfig{
			URL:         DefaultExplorerURL(cur, network),
			Timeout:     30 * time.Second,
			MaxRetries:  0,
			RateLimit:   0,
			FeeCacheTTL: time.Minute,
		},
		Sync: SyncConfig{
			GapLimit:    20,
			Concurrency: 4,
		},
		Storage: StorageConfig{
			Backend: BackendBadger,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
