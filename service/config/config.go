package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Ledger backends selectable with LEDGER_BACKEND.
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Default ledger locations when LEDGER_PATH is unset.
const (
	DefaultLedgerPath = "solwatch.json"
	DefaultSQLitePath = "solwatch.db"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr   string
	LogLevel     string
	RateLimitRPM int

	// Ledger configuration
	LedgerBackend string
	LedgerPath    string
	DatabaseURL   string

	// Solana configuration
	SolanaRPCURL     string
	SolanaWSURL      string
	PollInterval     time.Duration
	FetchMaxAttempts int
	FetchBackoff     time.Duration

	// Monitor configuration
	EventQueueSize int

	// Alert delivery
	NATSURL     string
	ExplorerURL string
	ChartURL    string

	// Enrichment
	RedisAddr          string
	EnrichmentCacheTTL time.Duration
	TokenListURL       string
	CoinGeckoURL       string
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info"))
	if v, err := parseInt("RATE_LIMIT_RPM", 120); err != nil {
		errs = append(errs, err)
	} else {
		cfg.RateLimitRPM = v
	}

	// Ledger configuration
	cfg.LedgerBackend = strings.ToLower(getEnvOrDefault("LEDGER_BACKEND", BackendFile))
	cfg.LedgerPath = os.Getenv("LEDGER_PATH")
	if cfg.LedgerPath == "" {
		switch cfg.LedgerBackend {
		case BackendFile:
			cfg.LedgerPath = DefaultLedgerPath
		case BackendSQLite:
			cfg.LedgerPath = DefaultSQLitePath
		}
	}
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.LedgerBackend == BackendPostgres && cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required when LEDGER_BACKEND=postgres"))
	}

	// Solana configuration
	cfg.SolanaRPCURL = os.Getenv("SOLANA_RPC_URL")
	if cfg.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URL is required"))
	}
	cfg.SolanaWSURL = os.Getenv("SOLANA_WS_URL")

	if v, err := parseDuration("POLL_INTERVAL", "5s"); err != nil {
		errs = append(errs, err)
	} else {
		cfg.PollInterval = v
	}
	if v, err := parseInt("FETCH_MAX_ATTEMPTS", 5); err != nil {
		errs = append(errs, err)
	} else {
		cfg.FetchMaxAttempts = v
	}
	if v, err := parseDuration("FETCH_BACKOFF", "500ms"); err != nil {
		errs = append(errs, err)
	} else {
		cfg.FetchBackoff = v
	}

	// Monitor configuration
	if v, err := parseInt("EVENT_QUEUE_SIZE", 16); err != nil {
		errs = append(errs, err)
	} else {
		cfg.EventQueueSize = v
	}

	// Alert delivery
	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.ExplorerURL = getEnvOrDefault("EXPLORER_URL", "https://solscan.io/tx/")
	cfg.ChartURL = getEnvOrDefault("CHART_URL", "https://dexscreener.com/solana/")

	// Enrichment
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	if v, err := parseDuration("ENRICHMENT_CACHE_TTL", "5m"); err != nil {
		errs = append(errs, err)
	} else {
		cfg.EnrichmentCacheTTL = v
	}
	cfg.TokenListURL = getEnvOrDefault("TOKEN_LIST_URL", "https://tokens.jup.ag")
	cfg.CoinGeckoURL = getEnvOrDefault("COINGECKO_URL", "https://api.coingecko.com/api/v3")

	if len(errs) == 0 {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SolanaRPCURL is required"))
	}

	switch c.LedgerBackend {
	case BackendFile, BackendSQLite:
		if c.LedgerPath == "" {
			errs = append(errs, fmt.Errorf("LedgerPath is required for the %s backend", c.LedgerBackend))
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("DatabaseURL is required for the postgres backend"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("LedgerBackend %q is not one of file, sqlite, postgres, memory", c.LedgerBackend))
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LogLevel %q is not one of debug, info, warn, error", c.LogLevel))
	}

	if c.PollInterval < time.Second {
		errs = append(errs, fmt.Errorf("PollInterval must be at least 1 second"))
	}

	if c.FetchMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("FetchMaxAttempts must be at least 1"))
	}

	if c.FetchBackoff <= 0 {
		errs = append(errs, fmt.Errorf("FetchBackoff must be positive"))
	}

	if c.EventQueueSize < 1 {
		errs = append(errs, fmt.Errorf("EventQueueSize must be at least 1"))
	}

	if c.RateLimitRPM < 0 {
		errs = append(errs, fmt.Errorf("RateLimitRPM cannot be negative"))
	}

	if c.EnrichmentCacheTTL < 0 {
		errs = append(errs, fmt.Errorf("EnrichmentCacheTTL cannot be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}
