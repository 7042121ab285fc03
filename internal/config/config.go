// Package config loads and validates backlink monitor configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	collyfetcher "github.com/JakeFAU/backlink-monitor/internal/fetcher/colly"
	"github.com/JakeFAU/backlink-monitor/internal/scheduler"
	"github.com/JakeFAU/backlink-monitor/internal/seo"
	"github.com/JakeFAU/backlink-monitor/internal/storage/gcs"
	"github.com/JakeFAU/backlink-monitor/internal/storage/local"
	"github.com/JakeFAU/backlink-monitor/internal/storage/postgres"
	"github.com/JakeFAU/backlink-monitor/internal/telemetry"
	"github.com/JakeFAU/backlink-monitor/internal/urlguard"
)

// EnvPrefix namespaces environment overrides, e.g. BACKLINK_SERVER_PORT.
const EnvPrefix = "BACKLINK"

// Backend names accepted in configuration.
const (
	DatabaseMemory   = "memory"
	DatabasePostgres = "postgres"

	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"

	PublisherNone   = "none"
	PublisherMemory = "memory"
	PublisherPubSub = "pubsub"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Auth      AuthConfig       `mapstructure:"auth"`
	Logging   LoggingConfig    `mapstructure:"logging"`
	Fetch     FetchConfig      `mapstructure:"fetch"`
	URLGuard  URLGuardConfig   `mapstructure:"urlguard"`
	Database  DatabaseConfig   `mapstructure:"database"`
	Storage   StorageConfig    `mapstructure:"storage"`
	Publisher PublisherConfig  `mapstructure:"publisher"`
	SEO       seo.Config       `mapstructure:"seo"`
	Webhook   WebhookConfig    `mapstructure:"webhook"`
	Workers   WorkersConfig    `mapstructure:"workers"`
	Cron      CronConfig       `mapstructure:"cron"`
	Telemetry telemetry.Config `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// FetchConfig governs how source pages are retrieved.
type FetchConfig struct {
	UserAgent    string        `mapstructure:"user_agent"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxBodySize  int           `mapstructure:"max_body_size"`
	PerHostRPS   float64       `mapstructure:"per_host_rps"`
	PerHostBurst int           `mapstructure:"per_host_burst"`
}

// URLGuardConfig overrides the blocked address ranges. Empty means the built-in list.
type URLGuardConfig struct {
	BlockedRanges []string `mapstructure:"blocked_ranges"`
}

// DatabaseConfig picks the backlink store.
type DatabaseConfig struct {
	Driver   string          `mapstructure:"driver"`
	Postgres postgres.Config `mapstructure:"postgres"`
}

// StorageConfig picks where page snapshots go.
type StorageConfig struct {
	Provider  string       `mapstructure:"provider"`
	Snapshots bool         `mapstructure:"snapshots"`
	Local     local.Config `mapstructure:"local"`
	GCS       gcs.Config   `mapstructure:"gcs"`
}

// PublisherConfig holds metadata for alert event notifications.
type PublisherConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// WebhookConfig controls outbound alert delivery.
type WebhookConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// PoolConfig sizes one worker pool and its retry budget.
type PoolConfig struct {
	Size           int           `mapstructure:"size"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	BackoffBase    time.Duration `mapstructure:"backoff_base"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
}

// WorkersConfig configures the verification and delivery pools.
type WorkersConfig struct {
	QueueDepth int        `mapstructure:"queue_depth"`
	Verify     PoolConfig `mapstructure:"verify"`
	Deliver    PoolConfig `mapstructure:"deliver"`
}

// CronConfig lists recurring verification batches for serve.
type CronConfig struct {
	Enabled bool            `mapstructure:"enabled"`
	Jobs    []scheduler.Job `mapstructure:"jobs"`
}

// Load builds a Config from an optional .env file, an optional config file and the environment.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("fetch.user_agent", collyfetcher.DefaultUserAgent)
	v.SetDefault("fetch.timeout", 30*time.Second)
	v.SetDefault("fetch.max_body_size", 10*1024*1024)
	v.SetDefault("fetch.per_host_rps", 1.0)
	v.SetDefault("fetch.per_host_burst", 2)
	v.SetDefault("urlguard.blocked_ranges", []string{})
	v.SetDefault("database.driver", DatabaseMemory)
	v.SetDefault("database.postgres.dsn", "")
	v.SetDefault("database.postgres.max_conns", 10)
	v.SetDefault("database.postgres.min_conns", 0)
	v.SetDefault("database.postgres.max_conn_lifetime", time.Hour)
	v.SetDefault("storage.provider", StorageMemory)
	v.SetDefault("storage.snapshots", false)
	v.SetDefault("storage.local.base_dir", "data/snapshots")
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("storage.gcs.prefix", "backlinks")
	v.SetDefault("publisher.provider", PublisherNone)
	v.SetDefault("publisher.project_id", "")
	v.SetDefault("publisher.topic", "backlink-alerts")
	v.SetDefault("seo.provider", seo.ProviderNone)
	v.SetDefault("seo.endpoint", "")
	v.SetDefault("seo.api_key", "")
	v.SetDefault("seo.timeout", 10*time.Second)
	v.SetDefault("webhook.timeout", 10*time.Second)
	v.SetDefault("workers.queue_depth", 256)
	v.SetDefault("workers.verify.size", 4)
	v.SetDefault("workers.verify.max_attempts", 3)
	v.SetDefault("workers.verify.attempt_timeout", 120*time.Second)
	v.SetDefault("workers.verify.backoff_base", time.Second)
	v.SetDefault("workers.verify.backoff_max", 30*time.Second)
	v.SetDefault("workers.deliver.size", 2)
	v.SetDefault("workers.deliver.max_attempts", 3)
	v.SetDefault("workers.deliver.attempt_timeout", 15*time.Second)
	v.SetDefault("workers.deliver.backoff_base", time.Second)
	v.SetDefault("workers.deliver.backoff_max", 10*time.Second)
	v.SetDefault("telemetry.exporter", telemetry.ExporterNone)
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("telemetry.service_version", "dev")
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.jobs", []map[string]any{
		{"name": "daily", "schedule": "0 3 * * *", "frequency": "daily", "status": "all"},
		{"name": "weekly", "schedule": "0 4 * * 0", "frequency": "weekly", "status": "all"},
	})
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be > 0")
	}
	if _, err := urlguard.ParseRanges(c.URLGuard.BlockedRanges); err != nil {
		return fmt.Errorf("urlguard.blocked_ranges: %w", err)
	}

	switch c.Database.Driver {
	case DatabaseMemory:
	case DatabasePostgres:
		if c.Database.Postgres.DSN == "" {
			return fmt.Errorf("database.postgres.dsn must be set when driver is postgres")
		}
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}

	switch c.Storage.Provider {
	case StorageMemory:
	case StorageLocal:
		if strings.TrimSpace(c.Storage.Local.BaseDir) == "" {
			return fmt.Errorf("storage.local.base_dir must be set when provider is local")
		}
	case StorageGCS:
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket must be set when provider is gcs")
		}
	default:
		return fmt.Errorf("unknown storage.provider %q", c.Storage.Provider)
	}

	switch c.Publisher.Provider {
	case PublisherNone, PublisherMemory:
	case PublisherPubSub:
		if c.Publisher.ProjectID == "" || c.Publisher.Topic == "" {
			return fmt.Errorf("publisher.project_id and publisher.topic must be set when provider is pubsub")
		}
	default:
		return fmt.Errorf("unknown publisher.provider %q", c.Publisher.Provider)
	}

	if _, err := seo.New(c.SEO); err != nil {
		return fmt.Errorf("seo: %w", err)
	}
	if c.Workers.QueueDepth <= 0 {
		return fmt.Errorf("workers.queue_depth must be > 0")
	}
	if err := c.Workers.Verify.validate("workers.verify"); err != nil {
		return err
	}
	if err := c.Workers.Deliver.validate("workers.deliver"); err != nil {
		return err
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	for _, job := range c.Cron.Jobs {
		if job.Schedule == "" {
			return fmt.Errorf("cron job %q: schedule is required", job.Name)
		}
		if _, err := job.Selection(); err != nil {
			return fmt.Errorf("cron job %q: %w", job.Name, err)
		}
	}
	return nil
}

func (p PoolConfig) validate(key string) error {
	if p.Size <= 0 {
		return fmt.Errorf("%s.size must be > 0", key)
	}
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("%s.max_attempts must be > 0", key)
	}
	if p.AttemptTimeout <= 0 {
		return fmt.Errorf("%s.attempt_timeout must be > 0", key)
	}
	return nil
}
