// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/grqaser-crawler/internal/crawler"
)

// Supported store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Store   StoreConfig   `mapstructure:"store"`
	Fetcher FetcherConfig `mapstructure:"fetcher"`
	Run     RunConfig     `mapstructure:"run"`
	RunLog  RunLogConfig  `mapstructure:"runlog"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// StoreConfig selects and sizes the persistence backend.
type StoreConfig struct {
	Driver      string `mapstructure:"driver"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
	MaxConns    int32  `mapstructure:"max_conns"`
	MinConns    int32  `mapstructure:"min_conns"`
}

// FetcherConfig configures page retrieval.
type FetcherConfig struct {
	BaseURL             string  `mapstructure:"base_url"`
	UserAgent           string  `mapstructure:"user_agent"`
	RespectRobots       bool    `mapstructure:"respect_robots"`
	Headless            bool    `mapstructure:"headless"`
	HeadlessMaxParallel int     `mapstructure:"headless_max_parallel"`
	PromotionThreshold  int     `mapstructure:"promotion_threshold"`
	RatePerSecond       float64 `mapstructure:"rate_per_second"`
	Burst               int     `mapstructure:"burst"`
}

// RepairConfig toggles the conditions that select books for a targeted update.
type RepairConfig struct {
	MissingAudio     bool `mapstructure:"missing_audio"`
	UnknownAuthor    bool `mapstructure:"unknown_author"`
	MissingCover     bool `mapstructure:"missing_cover"`
	BundleAudio      bool `mapstructure:"bundle_audio"`
	MissingChapters  bool `mapstructure:"missing_chapters"`
	IncompleteStatus bool `mapstructure:"incomplete_status"`
}

// RunConfig is the single explicit mode selection struct.
type RunConfig struct {
	Mode            string       `mapstructure:"mode"`
	TargetCount     int          `mapstructure:"target_count"`
	MaxListingPages int          `mapstructure:"max_listing_pages"`
	SeedPages       int          `mapstructure:"seed_pages"`
	Seeds           []string     `mapstructure:"seeds"`
	DetailPriority  int          `mapstructure:"detail_priority"`
	UpdateLimit     int          `mapstructure:"update_limit"`
	TestLimit       int          `mapstructure:"test_limit"`
	Concurrency     int          `mapstructure:"concurrency"`
	DelayMs         int          `mapstructure:"delay_ms"`
	TimeoutMs       int          `mapstructure:"timeout_ms"`
	MaxRetries      int          `mapstructure:"max_retries"`
	BackoffBaseMs   int          `mapstructure:"backoff_base_ms"`
	CleanupNonAudio bool         `mapstructure:"cleanup_non_audio"`
	Repair          RepairConfig `mapstructure:"repair"`
}

// RunLogConfig sizes the run log hub.
type RunLogConfig struct {
	BufferSize int  `mapstructure:"buffer_size"`
	MaxBatch   int  `mapstructure:"max_batch"`
	MaxWaitMs  int  `mapstructure:"max_wait_ms"`
	Persist    bool `mapstructure:"persist"`
	Echo       bool `mapstructure:"echo"`
}

// MetricsConfig controls the health and metrics listener. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GRQASER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.sqlite_path", "data/grqaser.db")
	v.SetDefault("store.max_conns", 8)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("fetcher.base_url", "https://grqaser.org")
	v.SetDefault("fetcher.user_agent", "grqaser-crawler/1.0")
	v.SetDefault("fetcher.respect_robots", true)
	v.SetDefault("fetcher.headless", false)
	v.SetDefault("fetcher.headless_max_parallel", 1)
	v.SetDefault("fetcher.promotion_threshold", 2048)
	v.SetDefault("fetcher.rate_per_second", 1.0)
	v.SetDefault("fetcher.burst", 1)
	v.SetDefault("run.mode", ModeDiscovery)
	v.SetDefault("run.target_count", 1000)
	v.SetDefault("run.max_listing_pages", 50)
	v.SetDefault("run.seed_pages", 5)
	v.SetDefault("run.detail_priority", 5)
	v.SetDefault("run.update_limit", 100)
	v.SetDefault("run.test_limit", 5)
	v.SetDefault("run.concurrency", 3)
	v.SetDefault("run.delay_ms", 1000)
	v.SetDefault("run.timeout_ms", 30000)
	v.SetDefault("run.max_retries", crawler.DefaultMaxRetries)
	v.SetDefault("run.backoff_base_ms", 1000)
	v.SetDefault("run.cleanup_non_audio", false)
	v.SetDefault("run.repair.missing_audio", true)
	v.SetDefault("run.repair.unknown_author", true)
	v.SetDefault("run.repair.bundle_audio", true)
	v.SetDefault("runlog.buffer_size", 1024)
	v.SetDefault("runlog.max_batch", 100)
	v.SetDefault("runlog.max_wait_ms", 500)
	v.SetDefault("runlog.persist", true)
	v.SetDefault("runlog.echo", false)
	v.SetDefault("metrics.addr", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			return errors.New("store.sqlite_path must be set for the sqlite driver")
		}
	case DriverPostgres:
		if c.Store.PostgresDSN == "" {
			return errors.New("store.postgres_dsn must be set for the postgres driver")
		}
	default:
		return fmt.Errorf("store.driver %q is not one of memory, sqlite, postgres", c.Store.Driver)
	}
	if _, err := crawler.NormalizeURL(c.Fetcher.BaseURL); err != nil {
		return fmt.Errorf("fetcher.base_url: %w", err)
	}
	if c.Fetcher.Headless && c.Fetcher.HeadlessMaxParallel <= 0 {
		return errors.New("fetcher.headless_max_parallel must be > 0 when headless is enabled")
	}
	if c.Fetcher.RatePerSecond < 0 {
		return errors.New("fetcher.rate_per_second must be >= 0")
	}
	if _, ok := ParseModeName(c.Run.Mode); !ok {
		return fmt.Errorf("run.mode %q is not one of %s, %s, %s", c.Run.Mode, ModeDiscovery, ModeTargetedUpdate, ModeBoundedTest)
	}
	if c.Run.Concurrency <= 0 {
		return errors.New("run.concurrency must be > 0")
	}
	if c.Run.MaxRetries <= 0 {
		return errors.New("run.max_retries must be > 0")
	}
	if c.Run.TimeoutMs <= 0 {
		return errors.New("run.timeout_ms must be > 0")
	}
	if c.Run.DelayMs < 0 || c.Run.BackoffBaseMs < 0 {
		return errors.New("run.delay_ms and run.backoff_base_ms must be >= 0")
	}
	if c.Run.TargetCount < 0 || c.Run.MaxListingPages < 0 || c.Run.UpdateLimit < 0 || c.Run.TestLimit < 0 {
		return errors.New("run limits must be >= 0")
	}
	return nil
}

// Delay is the politeness pause between discovery entries.
func (c RunConfig) Delay() time.Duration {
	return time.Duration(c.DelayMs) * time.Millisecond
}

// Timeout bounds a single page fetch.
func (c RunConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// BackoffBase is the first retry delay before doubling.
func (c RunConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMs) * time.Millisecond
}

// MaxWait is the longest a run log entry waits before being flushed.
func (c RunLogConfig) MaxWait() time.Duration {
	return time.Duration(c.MaxWaitMs) * time.Millisecond
}

// Criteria converts the repair toggles into a store query.
func (c RepairConfig) Criteria(limit int) crawler.RepairCriteria {
	return crawler.RepairCriteria{
		MissingAudio:     c.MissingAudio,
		UnknownAuthor:    c.UnknownAuthor,
		MissingCover:     c.MissingCover,
		BundleAudio:      c.BundleAudio,
		MissingChapters:  c.MissingChapters,
		IncompleteStatus: c.IncompleteStatus,
		Limit:            limit,
	}
}
