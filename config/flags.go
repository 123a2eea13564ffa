package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrHelp is returned by Load when -help was requested.
var ErrHelp = flag.ErrHelp

// Flags holds parsed command-line flags.
type Flags struct {
	Help    bool
	Version bool

	// Core
	Network  string
	Currency string
	DataDir  string
	Config   string

	// Explorer
	Explorer    string
	MaxRetries  int
	RateLimit   float64
	GapLimit    int
	Concurrency int

	// Storage
	Backend string
	Sealed  bool

	// Logging
	LogLevel string
	LogFile  string
	LogJSON  bool

	// Remaining args (the command and its arguments)
	Args []string

	// Explicitly-set flags, so zero values can override the file.
	SetMaxRetries bool
	SetRateLimit  bool
	SetSealed     bool
	SetLogJSON    bool
}

// ParseFlags parses global flags from args. Parsing stops at the first
// non-flag argument, which starts the command.
func ParseFlags(args []string) (*Flags, error) {
	f := &Flags{}
	fs := flag.NewFlagSet("klingwallet", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.BoolVar(&f.Help, "help", false, "Show help message")
	fs.BoolVar(&f.Help, "h", false, "Show help message (shorthand)")
	fs.BoolVar(&f.Version, "version", false, "Show version information")

	// Core
	fs.StringVar(&f.Network, "network", "", "Network type (mainnet, testnet or regtest)")
	fs.StringVar(&f.Currency, "currency", "", "Currency (bitcoin, litecoin or dogecoin)")
	fs.StringVar(&f.DataDir, "datadir", "", "Data directory path")
	fs.StringVar(&f.Config, "config", "", "Config file path")
	fs.StringVar(&f.Config, "c", "", "Config file path (shorthand)")

	// Explorer
	fs.StringVar(&f.Explorer, "explorer", "", "Esplora API base URL")
	fs.IntVar(&f.MaxRetries, "max-retries", 0, "Explorer transport retries")
	fs.Float64Var(&f.RateLimit, "rate-limit", 0, "Explorer requests per second (0 = unlimited)")
	fs.IntVar(&f.GapLimit, "gap-limit", 0, "Unused addresses that end a chain scan")
	fs.IntVar(&f.Concurrency, "concurrency", 0, "Parallel explorer requests")

	// Storage
	fs.StringVar(&f.Backend, "storage", "", "Account storage backend (badger or memory)")
	fs.BoolVar(&f.Sealed, "sealed", false, "Encrypt stored accounts with a password")

	// Logging
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.LogFile, "log-file", "", "Log file path")
	fs.BoolVar(&f.LogJSON, "log-json", false, "Output logs as JSON")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			f.Help = true
			return f, nil
		}
		return nil, err
	}

	f.SetMaxRetries = isFlagSet(fs, "max-retries")
	f.SetRateLimit = isFlagSet(fs, "rate-limit")
	f.SetSealed = isFlagSet(fs, "sealed")
	f.SetLogJSON = isFlagSet(fs, "log-json")
	f.Args = fs.Args()
	return f, nil
}

// ApplyFlags applies command-line flags to a Config struct.
func ApplyFlags(cfg *Config, f *Flags) {
	// Core
	if f.Network != "" {
		cfg.Network = NetworkType(strings.ToLower(f.Network))
	}
	if f.Currency != "" {
		cfg.Currency = strings.ToLower(f.Currency)
	}
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}

	// Explorer
	if f.Explorer != "" {
		cfg.Explorer.URL = f.Explorer
	}
	if f.SetMaxRetries {
		cfg.Explorer.MaxRetries = f.MaxRetries
	}
	if f.SetRateLimit {
		cfg.Explorer.RateLimit = f.RateLimit
	}
	if f.GapLimit != 0 {
		cfg.Sync.GapLimit = f.GapLimit
	}
	if f.Concurrency != 0 {
		cfg.Sync.Concurrency = f.Concurrency
	}

	// Storage
	if f.Backend != "" {
		cfg.Storage.Backend = strings.ToLower(f.Backend)
	}
	if f.SetSealed {
		cfg.Storage.Sealed = f.Sealed
	}

	// Logging
	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}
	if f.SetLogJSON {
		cfg.Log.JSON = f.LogJSON
	}
}

// isFlagSet checks if a flag was explicitly set.
func isFlagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// PrintUsage writes the global options help to w.
func PrintUsage(w io.Writer) {
	usage := `Global Options:
  --currency      Currency: bitcoin (default), litecoin or dogecoin
  --network       Network: mainnet (default), testnet or regtest
  --datadir       Data directory (default: ~/.klingwallet)
  --config, -c    Config file path (default: <datadir>/klingwallet.conf)

Explorer Options:
  --explorer      Esplora API base URL (default per currency and network)
  --max-retries   Transport retries per request (default: 0)
  --rate-limit    Requests per second, 0 = unlimited (default: 0)
  --gap-limit     Unused addresses that end a chain scan (default: 20)
  --concurrency   Parallel explorer requests (default: 4)

Storage Options:
  --storage       Backend: badger (default) or memory
  --sealed        Encrypt stored accounts with a password

Logging Options:
  --log-level     Log level: debug, info, warn, error (default: info)
  --log-file      Log file path (default: stderr)
  --log-json      Output logs as JSON
`
	fmt.Fprint(w, usage)
}

// Load loads configuration with the following precedence:
// 1. Default values
// 2. Auto-create data dirs + default config (idempotent)
// 3. Config file
// 4. Command-line flags
//
// It returns ErrHelp, with the parsed flags, when help was requested.
func Load(args []string) (*Config, *Flags, error) {
	flags, err := ParseFlags(args)
	if err != nil {
		return nil, nil, err
	}
	if flags.Help {
		return nil, flags, ErrHelp
	}

	// Currency and network select the defaults.
	cur := strings.ToLower(flags.Currency)
	if cur == "" {
		cur = DefaultCurrency
	}
	network := Mainnet
	if flags.Network != "" {
		network = NetworkType(strings.ToLower(flags.Network))
	}

	cfg := Default(cur, network)
	if flags.DataDir != "" {
		cfg.DataDir = flags.DataDir
	}

	if err := EnsureDataDirs(cfg); err != nil {
		return nil, nil, fmt.Errorf("ensuring data dirs: %w", err)
	}

	configPath := flags.Config
	if configPath == "" {
		configPath = cfg.ConfigFile()
	}
	fileValues, err := LoadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config file: %w", err)
	}
	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, nil, fmt.Errorf("applying config file: %w", err)
	}

	// Flags (highest precedence)
	ApplyFlags(cfg, flags)

	// The file or flags may switch currency or network. Follow with the
	// explorer default unless one was set explicitly.
	if flags.Explorer == "" && fileValues["explorer.url"] == "" && fileValues["explorer"] == "" {
		cfg.Explorer.URL = DefaultExplorerURL(cfg.Currency, cfg.Network)
	}

	if err := Validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, flags, nil
}

// LoadFromFile loads config from defaults and the data directory's config
// file only, with no command-line flags.
func LoadFromFile(dataDir, cur string, network NetworkType) (*Config, error) {
	cfg := Default(cur, network)
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	fileValues, err := LoadFile(cfg.ConfigFile())
	if err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}
	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, fmt.Errorf("applying config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// PasswordFromEnv returns the storage password from KLINGWALLET_PASSWORD.
func PasswordFromEnv() string {
	return os.Getenv("KLINGWALLET_PASSWORD")
}
