// ABOUTME: Configuration loading and parsing for the verity client.
// ABOUTME: YAML files with ${ENV} expansion, VERITY_* environment overrides, and duration parsing.

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the complete client configuration.
type Config struct {
	Provider ProviderConfig `yaml:"provider"`
	Query    QueryConfig    `yaml:"query"`
	Session  SessionConfig  `yaml:"session"`
	Cache    CacheConfig    `yaml:"cache"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ProviderConfig holds identity-provider connection settings.
type ProviderConfig struct {
	// URL is the project base URL, without the /auth/v1 suffix.
	URL string `yaml:"url" env:"VERITY_PROVIDER_URL"`
	// AnonKey is the anonymous API key sent on every request.
	AnonKey string `yaml:"anon_key" env:"VERITY_ANON_KEY"`
	// AutoRefresh enables background token refresh for long-lived
	// invocations.
	AutoRefresh bool `yaml:"auto_refresh" env:"VERITY_AUTO_REFRESH"`

	// SettleDelay is the wait between a sign-in and the first profile
	// fetch. The provider's token propagation is eventually consistent; an
	// immediate fetch can race it. Shorten or zero this only if the
	// provider is known to make tokens durable synchronously.
	SettleDelay time.Duration `yaml:"-" env:"-"`
	// RefreshMargin is how long before expiry a session counts as stale.
	RefreshMargin time.Duration `yaml:"-" env:"-"`

	// Raw string values for YAML unmarshaling and env override
	SettleDelayRaw   string `yaml:"settle_delay" env:"VERITY_SETTLE_DELAY"`
	RefreshMarginRaw string `yaml:"refresh_margin" env:"VERITY_REFRESH_MARGIN"`
}

// QueryConfig holds retrieval tunables used when the caller does not
// override them per query.
type QueryConfig struct {
	MatchThreshold float64 `yaml:"match_threshold" env:"VERITY_MATCH_THRESHOLD"`
	MatchCount     int     `yaml:"match_count" env:"VERITY_MATCH_COUNT"`
}

// SessionConfig holds session persistence settings.
type SessionConfig struct {
	// File is the path of the persisted session JSON file.
	File string `yaml:"file" env:"VERITY_SESSION_FILE"`
}

// CacheConfig holds local profile cache settings.
type CacheConfig struct {
	// Path is the SQLite database path. Empty disables the cache.
	Path string `yaml:"path" env:"VERITY_CACHE_PATH"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"VERITY_LOG_LEVEL"`
	Format string `yaml:"format" env:"VERITY_LOG_FORMAT"`
}

// Default returns the built-in defaults, before any file or environment
// values are applied.
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			AutoRefresh:      true,
			SettleDelayRaw:   "1s",
			RefreshMarginRaw: "30s",
		},
		Query: QueryConfig{
			MatchThreshold: 0.5,
			MatchCount:     5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a configuration file and returns the parsed Config with
// environment overrides applied. A missing file is not an error: defaults
// plus environment variables alone can form a complete configuration.
// ${VAR_NAME} patterns inside the file are expanded before parsing.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Environment-only configuration
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		expanded := expandEnvVars(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	// Direct VERITY_* variables win over file values
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment overrides: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present.
func (c *Config) Validate() error {
	if c.Provider.URL == "" {
		return fmt.Errorf("provider.url is required (or set VERITY_PROVIDER_URL)")
	}
	if c.Provider.AnonKey == "" {
		return fmt.Errorf("provider.anon_key is required (or set VERITY_ANON_KEY)")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Provider.SettleDelayRaw != "" {
		cfg.Provider.SettleDelay, err = time.ParseDuration(cfg.Provider.SettleDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing settle_delay %q: %w", cfg.Provider.SettleDelayRaw, err)
		}
	}

	if cfg.Provider.RefreshMarginRaw != "" {
		cfg.Provider.RefreshMargin, err = time.ParseDuration(cfg.Provider.RefreshMarginRaw)
		if err != nil {
			return fmt.Errorf("parsing refresh_margin %q: %w", cfg.Provider.RefreshMarginRaw, err)
		}
	}

	return nil
}
