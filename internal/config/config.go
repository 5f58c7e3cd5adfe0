package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Defaults for every tunable. Environment variables override them under
// the JOURNALFILL_ prefix (JOURNALFILL_CONCURRENCY, JOURNALFILL_DB_PATH...).
const (
	DefaultDBPath       = "journal.sqlite3"
	DefaultRunLogPath   = "backfill_runs.sqlite3"
	DefaultConcurrency  = 12
	DefaultBatchSize    = 300
	DefaultTimeout      = 30 * time.Second
	DefaultMaxRetries   = 5
	DefaultRetryInitial = 400 * time.Millisecond
	DefaultRetryMax     = 3 * time.Second
)

type Config struct {
	APIKey      string `mapstructure:"api_key"`
	BaseURL     string `mapstructure:"base_url"`
	DBPath      string `mapstructure:"db_path"`
	RunLogPath  string `mapstructure:"run_log_path"`
	Calendar    string `mapstructure:"calendar"`
	Concurrency int    `mapstructure:"concurrency"`
	BatchSize   int    `mapstructure:"batch_size"`
	Adjusted    bool   `mapstructure:"adjusted"`

	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryInitial time.Duration `mapstructure:"retry_initial"`
	RetryMax     time.Duration `mapstructure:"retry_max"`
}

// Load resolves configuration from the environment on top of the defaults.
// POLYGON_API_KEY is honored as an api key fallback since that is the name
// provider docs tell users to export.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("JOURNALFILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("api_key", "")
	v.SetDefault("base_url", "")
	v.SetDefault("db_path", DefaultDBPath)
	v.SetDefault("run_log_path", DefaultRunLogPath)
	v.SetDefault("calendar", "")
	v.SetDefault("concurrency", DefaultConcurrency)
	v.SetDefault("batch_size", DefaultBatchSize)
	v.SetDefault("adjusted", false)
	v.SetDefault("timeout", DefaultTimeout)
	v.SetDefault("max_retries", DefaultMaxRetries)
	v.SetDefault("retry_initial", DefaultRetryInitial)
	v.SetDefault("retry_max", DefaultRetryMax)

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
		dc.DecodeHook = mapstructure.StringToTimeDurationHookFunc()
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}

	if strings.TrimSpace(cfg.APIKey) == "" {
		pv := viper.New()
		pv.AutomaticEnv()
		cfg.APIKey = pv.GetString("POLYGON_API_KEY")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("api key is required: set JOURNALFILL_API_KEY or POLYGON_API_KEY")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	return nil
}
