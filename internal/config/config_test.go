package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	collyfetcher "github.com/JakeFAU/backlink-monitor/internal/fetcher/colly"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, collyfetcher.DefaultUserAgent, cfg.Fetch.UserAgent)
	require.Equal(t, 30*time.Second, cfg.Fetch.Timeout)
	require.Equal(t, DatabaseMemory, cfg.Database.Driver)
	require.Equal(t, StorageMemory, cfg.Storage.Provider)
	require.Equal(t, PublisherNone, cfg.Publisher.Provider)
	require.Equal(t, 3, cfg.Workers.Verify.MaxAttempts)
	require.Equal(t, 120*time.Second, cfg.Workers.Verify.AttemptTimeout)
	require.Equal(t, 3, cfg.Workers.Deliver.MaxAttempts)
	require.Equal(t, 15*time.Second, cfg.Workers.Deliver.AttemptTimeout)
	require.Len(t, cfg.Cron.Jobs, 2)
	require.Equal(t, "daily", cfg.Cron.Jobs[0].Frequency)
	require.Equal(t, "none", cfg.Telemetry.Exporter)
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
fetch:
  timeout: 5s
  per_host_rps: 0.5
urlguard:
  blocked_ranges: ["10.0.0.0/8"]
database:
  driver: postgres
  postgres:
    dsn: postgres://localhost/backlinks
    max_conns: 4
storage:
  provider: gcs
  snapshots: true
  gcs:
    bucket: snapshots
publisher:
  provider: pubsub
  project_id: proj
  topic: alerts
seo:
  provider: http
  endpoint: https://seo.example.com/metrics
workers:
  verify:
    size: 8
    attempt_timeout: 60s
cron:
  jobs:
    - name: nightly-lost
      schedule: "30 1 * * *"
      frequency: all
      status: lost
      limit: 100
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, "secret", cfg.Auth.APIKey)
	require.Equal(t, 5*time.Second, cfg.Fetch.Timeout)
	require.InDelta(t, 0.5, cfg.Fetch.PerHostRPS, 0.0001)
	require.Equal(t, []string{"10.0.0.0/8"}, cfg.URLGuard.BlockedRanges)
	require.Equal(t, "postgres://localhost/backlinks", cfg.Database.Postgres.DSN)
	require.EqualValues(t, 4, cfg.Database.Postgres.MaxConns)
	require.True(t, cfg.Storage.Snapshots)
	require.Equal(t, "snapshots", cfg.Storage.GCS.Bucket)
	require.Equal(t, "backlinks", cfg.Storage.GCS.Prefix)
	require.Equal(t, "alerts", cfg.Publisher.Topic)
	require.Equal(t, "http", cfg.SEO.Provider)
	require.Equal(t, 8, cfg.Workers.Verify.Size)
	require.Equal(t, 60*time.Second, cfg.Workers.Verify.AttemptTimeout)
	require.Equal(t, 3, cfg.Workers.Verify.MaxAttempts)
	require.Len(t, cfg.Cron.Jobs, 1)
	require.Equal(t, "lost", cfg.Cron.Jobs[0].Status)
	require.Equal(t, 100, cfg.Cron.Jobs[0].Limit)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("BACKLINK_SERVER_PORT", "7070")
	t.Setenv("BACKLINK_WORKERS_DELIVER_SIZE", "5")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
	require.Equal(t, 5, cfg.Workers.Deliver.Size)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read config")
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"auth missing api key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"invalid fetch timeout", func(c *Config) { c.Fetch.Timeout = 0 }, "fetch.timeout"},
		{"bad blocked range", func(c *Config) { c.URLGuard.BlockedRanges = []string{"nope"} }, "urlguard.blocked_ranges"},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = DatabasePostgres }, "database.postgres.dsn"},
		{"unknown database", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"local without dir", func(c *Config) {
			c.Storage.Provider = StorageLocal
			c.Storage.Local.BaseDir = " "
		}, "storage.local.base_dir"},
		{"gcs without bucket", func(c *Config) { c.Storage.Provider = StorageGCS }, "storage.gcs.bucket"},
		{"unknown storage", func(c *Config) { c.Storage.Provider = "s3" }, "storage.provider"},
		{"pubsub without project", func(c *Config) { c.Publisher.Provider = PublisherPubSub }, "publisher.project_id"},
		{"unknown publisher", func(c *Config) { c.Publisher.Provider = "kafka" }, "publisher.provider"},
		{"unknown seo provider", func(c *Config) { c.SEO.Provider = "moz" }, "seo"},
		{"http seo without endpoint", func(c *Config) { c.SEO.Provider = "http" }, "seo"},
		{"queue depth", func(c *Config) { c.Workers.QueueDepth = 0 }, "workers.queue_depth"},
		{"verify size", func(c *Config) { c.Workers.Verify.Size = 0 }, "workers.verify.size"},
		{"deliver attempts", func(c *Config) { c.Workers.Deliver.MaxAttempts = 0 }, "workers.deliver.max_attempts"},
		{"deliver timeout", func(c *Config) { c.Workers.Deliver.AttemptTimeout = 0 }, "workers.deliver.attempt_timeout"},
		{"unknown trace exporter", func(c *Config) { c.Telemetry.Exporter = "zipkin" }, "telemetry"},
		{"cron without schedule", func(c *Config) {
			c.Cron.Jobs = append(c.Cron.Jobs[:0:0], c.Cron.Jobs[0])
			c.Cron.Jobs[0].Schedule = ""
		}, "schedule is required"},
		{"cron bad frequency", func(c *Config) {
			c.Cron.Jobs = append(c.Cron.Jobs[:0:0], c.Cron.Jobs[0])
			c.Cron.Jobs[0].Frequency = "hourly"
		}, "cron job"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			require.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}
