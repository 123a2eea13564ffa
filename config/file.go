package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadFile reads key = value pairs from a .conf file. Lines starting with
// # are comments. A missing file yields no values.
func LoadFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("line %d: invalid format (expected key = value)", lineNum)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}
		values[key] = value
	}

	return values, scanner.Err()
}

// ApplyFileConfig applies file values to cfg.
func ApplyFileConfig(cfg *Config, values map[string]string) error {
	for key, value := range values {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return nil
}

func setConfigValue(cfg *Config, key, value string) error {
	var err error
	switch key {
	// Core
	case "network":
		cfg.Network = NetworkType(strings.ToLower(value))
	case "currency":
		cfg.Currency = strings.ToLower(value)
	case "datadir":
		cfg.DataDir = value

	// Explorer
	case "explorer.url", "explorer":
		cfg.Explorer.URL = value
	case "explorer.timeout":
		cfg.Explorer.Timeout, err = time.ParseDuration(value)
	case "explorer.maxretries":
		cfg.Explorer.MaxRetries, err = strconv.Atoi(value)
	case "explorer.ratelimit":
		cfg.Explorer.RateLimit, err = strconv.ParseFloat(value, 64)
	case "explorer.feecachettl":
		cfg.Explorer.FeeCacheTTL, err = time.ParseDuration(value)

	// Sync
	case "sync.gaplimit":
		cfg.Sync.GapLimit, err = strconv.Atoi(value)
	case "sync.concurrency":
		cfg.Sync.Concurrency, err = strconv.Atoi(value)

	// Policy
	case "policy.maxoutputvalue":
		cfg.Policy.MaxOutputValue, err = strconv.ParseInt(value, 10, 64)
	case "policy.dustrelayfee":
		cfg.Policy.DustRelayFeePerKb, err = strconv.ParseInt(value, 10, 64)

	// Storage
	case "storage.backend":
		cfg.Storage.Backend = strings.ToLower(value)
	case "storage.sealed":
		cfg.Storage.Sealed = parseBool(value)

	// Logging
	case "log.level":
		cfg.Log.Level = value
	case "log.file":
		cfg.Log.File = value
	case "log.json":
		cfg.Log.JSON = parseBool(value)

	default:
		// Unknown keys are ignored
	}
	return err
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// WriteDefaultConfig writes a commented configuration file for cfg.
func WriteDefaultConfig(path string, cfg *Config) error {
	content := `# Klingwallet Configuration

# Currency: bitcoin, litecoin or dogecoin
# currency = ` + cfg.Currency + `

# Network: mainnet, testnet or regtest
# network = ` + string(cfg.Network) + `

# ============================================================================
# Block explorer (Esplora REST API)
# ============================================================================

# Defaults to a public endpoint for the currency and network.
# explorer.url = ` + cfg.Explorer.URL + `
explorer.timeout = ` + cfg.Explorer.Timeout.String() + `
# Transport retries per request (0 = none)
explorer.maxretries = ` + strconv.Itoa(cfg.Explorer.MaxRetries) + `
# Requests per second (0 = unlimited)
# explorer.ratelimit = 0
explorer.feecachettl = ` + cfg.Explorer.FeeCacheTTL.String() + `

# ============================================================================
# Address discovery
# ============================================================================

sync.gaplimit = ` + strconv.Itoa(cfg.Sync.GapLimit) + `
sync.concurrency = ` + strconv.Itoa(cfg.Sync.Concurrency) + `

# ============================================================================
# Transaction policy (0 = engine default)
# ============================================================================

# policy.maxoutputvalue = 0
# policy.dustrelayfee = 1000

# ============================================================================
# Storage
# ============================================================================

# badger or memory
storage.backend = ` + cfg.Storage.Backend + `
# Encrypt stored accounts with a password (prompted on start)
storage.sealed = ` + strconv.FormatBool(cfg.Storage.Sealed) + `

# ============================================================================
# Logging
# ============================================================================

log.level = ` + cfg.Log.Level + `
# log.file =
log.json = false
`
	return os.WriteFile(path, []byte(content), 0600)
}
