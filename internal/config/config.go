// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Frontier FrontierConfig `mapstructure:"frontier"`
	Chunker  ChunkerConfig  `mapstructure:"chunker"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Blob     BlobConfig     `mapstructure:"blob"`
	Sink     SinkConfig     `mapstructure:"sink"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls the status HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CrawlerConfig governs the fetch pipeline and page budget.
type CrawlerConfig struct {
	Concurrency         int    `mapstructure:"concurrency"`
	MaxDepth            int    `mapstructure:"max_depth"`
	MaxPages            int    `mapstructure:"max_pages"`
	RequestDelaySeconds int    `mapstructure:"request_delay_seconds"`
	TimeoutSeconds      int    `mapstructure:"timeout_seconds"`
	UserAgent           string `mapstructure:"user_agent"`
	OutputDir           string `mapstructure:"output_dir"`
}

// FrontierConfig selects and tunes the frontier store.
type FrontierConfig struct {
	Driver              string `mapstructure:"driver"`
	DSN                 string `mapstructure:"dsn"`
	MaxRetryAttempts    int    `mapstructure:"max_retry_attempts"`
	LeaseTimeoutSeconds int    `mapstructure:"lease_timeout_seconds"`
	BackoffBaseSeconds  int    `mapstructure:"backoff_base_seconds"`
	BackoffMaxSeconds   int    `mapstructure:"backoff_max_seconds"`
}

// ChunkerConfig tunes segmentation bounds.
type ChunkerConfig struct {
	MinTokens       int     `mapstructure:"min_tokens"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	OverlapFraction float64 `mapstructure:"overlap_fraction"`
	HeadingLevel    int     `mapstructure:"heading_level"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	MaxParallel       int     `mapstructure:"max_parallel"`
	NavTimeoutSeconds int     `mapstructure:"nav_timeout_seconds"`
	DomainQPS         float64 `mapstructure:"domain_qps"`
}

// BlobConfig selects where raw page snapshots go.
type BlobConfig struct {
	Driver string `mapstructure:"driver"` // none, local, gcs
	Bucket string `mapstructure:"bucket"`
	Dir    string `mapstructure:"dir"`
	Prefix string `mapstructure:"prefix"`
}

// SinkConfig selects where chunk records go.
type SinkConfig struct {
	Driver string `mapstructure:"driver"` // jsonl, postgres, both
	DSN    string `mapstructure:"dsn"`
}

// NotifyConfig holds metadata for publish-subscribe notifications.
type NotifyConfig struct {
	Driver    string `mapstructure:"driver"` // none, pubsub
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RAGHARVEST")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.max_depth", 3)
	v.SetDefault("crawler.max_pages", 0)
	v.SetDefault("crawler.request_delay_seconds", 1)
	v.SetDefault("crawler.timeout_seconds", 30)
	v.SetDefault("crawler.user_agent", "ragharvest/1.0")
	v.SetDefault("crawler.output_dir", "out")
	v.SetDefault("frontier.driver", "memory")
	v.SetDefault("frontier.max_retry_attempts", 3)
	v.SetDefault("frontier.lease_timeout_seconds", 300)
	v.SetDefault("frontier.backoff_base_seconds", 30)
	v.SetDefault("frontier.backoff_max_seconds", 900)
	v.SetDefault("chunker.min_tokens", 200)
	v.SetDefault("chunker.max_tokens", 1000)
	v.SetDefault("chunker.overlap_fraction", 0.1)
	v.SetDefault("chunker.heading_level", 2)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.domain_qps", 0.5)
	v.SetDefault("blob.driver", "none")
	v.SetDefault("blob.prefix", "pages")
	v.SetDefault("sink.driver", "jsonl")
	v.SetDefault("notify.driver", "none")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.MaxDepth < 0 {
		return fmt.Errorf("crawler.max_depth must be >= 0")
	}
	if c.Crawler.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.timeout_seconds must be > 0")
	}
	switch c.Frontier.Driver {
	case "memory":
	case "postgres":
		if c.Frontier.DSN == "" {
			return fmt.Errorf("frontier.dsn must be set for the postgres driver")
		}
	default:
		return fmt.Errorf("frontier.driver must be memory or postgres")
	}
	if c.Frontier.MaxRetryAttempts <= 0 {
		return fmt.Errorf("frontier.max_retry_attempts must be > 0")
	}
	if c.Chunker.MinTokens <= 0 || c.Chunker.MinTokens >= c.Chunker.MaxTokens {
		return fmt.Errorf("chunker.min_tokens must be > 0 and < chunker.max_tokens")
	}
	if c.Chunker.OverlapFraction < 0 || c.Chunker.OverlapFraction >= 1 {
		return fmt.Errorf("chunker.overlap_fraction must be in [0, 1)")
	}
	if c.Chunker.HeadingLevel < 1 || c.Chunker.HeadingLevel > 6 {
		return fmt.Errorf("chunker.heading_level must be in [1, 6]")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	switch c.Blob.Driver {
	case "none", "local":
	case "gcs":
		if c.Blob.Bucket == "" {
			return fmt.Errorf("blob.bucket must be set for the gcs driver")
		}
	default:
		return fmt.Errorf("blob.driver must be none, local, or gcs")
	}
	switch c.Sink.Driver {
	case "jsonl":
	case "postgres", "both":
		if c.Sink.DSN == "" && c.Frontier.DSN == "" {
			return fmt.Errorf("sink.dsn must be set for the postgres sink")
		}
	default:
		return fmt.Errorf("sink.driver must be jsonl, postgres, or both")
	}
	switch c.Notify.Driver {
	case "none":
	case "pubsub":
		if c.Notify.ProjectID == "" || c.Notify.Topic == "" {
			return fmt.Errorf("notify.project_id and notify.topic must be set for pubsub")
		}
	default:
		return fmt.Errorf("notify.driver must be none or pubsub")
	}
	return nil
}

// RequestTimeout converts the configured HTTP timeout.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Crawler.TimeoutSeconds) * time.Second
}

// RequestDelay converts the per-domain politeness delay.
func (c Config) RequestDelay() time.Duration {
	return time.Duration(c.Crawler.RequestDelaySeconds) * time.Second
}

// LeaseTimeout converts the frontier lease expiry.
func (c Config) LeaseTimeout() time.Duration {
	return time.Duration(c.Frontier.LeaseTimeoutSeconds) * time.Second
}
