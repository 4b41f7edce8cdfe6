// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	DB        DBConfig        `mapstructure:"db"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Crawls    CrawlsConfig    `mapstructure:"crawls"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig maps bearer tokens to the org they grant read/write access to.
type AuthConfig struct {
	Enabled   bool              `mapstructure:"enabled"`
	OrgTokens map[string]string `mapstructure:"org_tokens"`
}

// DBConfig selects and configures the store backend.
type DBConfig struct {
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
}

// QueueConfig governs queue query behavior.
type QueueConfig struct {
	MatchLimit      int `mapstructure:"match_limit"`
	MaxPageSize     int `mapstructure:"max_page_size"`
	DefaultPageSize int `mapstructure:"default_page_size"`
	QueryTimeoutMs  int `mapstructure:"query_timeout_ms"`
}

// CrawlsConfig supplies defaults applied to new crawl jobs.
type CrawlsConfig struct {
	DefaultScale   int    `mapstructure:"default_scale"`
	MaxScale       int    `mapstructure:"max_scale"`
	DefaultChannel string `mapstructure:"default_channel"`
	DefaultStorage string `mapstructure:"default_storage"`
	DefaultTTLSec  int64  `mapstructure:"default_ttl_seconds"`
}

// LifecycleConfig controls the reconcile loop.
type LifecycleConfig struct {
	ReconcileIntervalMs int `mapstructure:"reconcile_interval_ms"`
}

// IngestConfig selects the discovery queue backend.
type IngestConfig struct {
	Provider       string `mapstructure:"provider"`
	QueueDepth     int    `mapstructure:"queue_depth"`
	ProjectID      string `mapstructure:"project_id"`
	SubscriptionID string `mapstructure:"subscription_id"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLQUEUE")
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
	v.SetDefault("db.provider", "memory")
	v.SetDefault("queue.match_limit", 1000)
	v.SetDefault("queue.max_page_size", 1000)
	v.SetDefault("queue.default_page_size", 50)
	v.SetDefault("queue.query_timeout_ms", 3000)
	v.SetDefault("crawls.default_scale", 1)
	v.SetDefault("crawls.max_scale", 8)
	v.SetDefault("crawls.default_channel", "default")
	v.SetDefault("crawls.default_storage", "default")
	v.SetDefault("crawls.default_ttl_seconds", 30)
	v.SetDefault("lifecycle.reconcile_interval_ms", 1000)
	v.SetDefault("ingest.provider", "memory")
	v.SetDefault("ingest.queue_depth", 1024)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.DB.Provider {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when db.provider is postgres")
		}
	default:
		return fmt.Errorf("unknown db.provider: %s", c.DB.Provider)
	}
	switch c.Ingest.Provider {
	case "memory":
		if c.Ingest.QueueDepth <= 0 {
			return fmt.Errorf("ingest.queue_depth must be > 0")
		}
	case "pubsub":
		if c.Ingest.ProjectID == "" || c.Ingest.SubscriptionID == "" {
			return fmt.Errorf("ingest.project_id and ingest.subscription_id must be set for pubsub")
		}
	default:
		return fmt.Errorf("unknown ingest.provider: %s", c.Ingest.Provider)
	}
	if c.Queue.MatchLimit <= 0 {
		return fmt.Errorf("queue.match_limit must be > 0")
	}
	if c.Queue.MaxPageSize <= 0 || c.Queue.DefaultPageSize <= 0 {
		return fmt.Errorf("queue page sizes must be > 0")
	}
	if c.Queue.DefaultPageSize > c.Queue.MaxPageSize {
		return fmt.Errorf("queue.default_page_size must not exceed queue.max_page_size")
	}
	if c.Queue.QueryTimeoutMs <= 0 {
		return fmt.Errorf("queue.query_timeout_ms must be > 0")
	}
	if c.Crawls.MaxScale <= 0 || c.Crawls.DefaultScale <= 0 || c.Crawls.DefaultScale > c.Crawls.MaxScale {
		return fmt.Errorf("crawls scale bounds invalid")
	}
	if c.Lifecycle.ReconcileIntervalMs <= 0 {
		return fmt.Errorf("lifecycle.reconcile_interval_ms must be > 0")
	}
	if c.Auth.Enabled && len(c.Auth.OrgTokens) == 0 {
		return fmt.Errorf("auth.org_tokens must be set when auth is enabled")
	}
	return nil
}

// QueryTimeout returns the per-request timeout for queue queries. It is kept
// below the client poll interval so a slow query never blocks the next poll.
func (c Config) QueryTimeout() time.Duration {
	return time.Duration(c.Queue.QueryTimeoutMs) * time.Millisecond
}

// ReconcileInterval returns the lifecycle reconcile period.
func (c Config) ReconcileInterval() time.Duration {
	return time.Duration(c.Lifecycle.ReconcileIntervalMs) * time.Millisecond
}
