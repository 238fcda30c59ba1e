package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 5, cfg.Importer.Concurrency)
	require.Equal(t, 200*time.Millisecond, cfg.ItemDelay())
	require.Equal(t, "file", cfg.Importer.DefaultSink)
	require.Equal(t, "https://nvapi.nicovideo.jp", cfg.Upstream.APIBaseURL)
	require.Equal(t, 100, cfg.Upstream.PageSize)
	require.Equal(t, 15*time.Second, cfg.HTTPTimeout())
	require.Equal(t, "/thumbnails", cfg.Output.ThumbnailDir)
	require.Contains(t, cfg.Server.OGPAllowedHosts, "www.nicovideo.jp")
	require.False(t, cfg.PublishEnabled())
	require.False(t, cfg.SinkEnabled("gcs"))
	require.True(t, cfg.SinkEnabled("memory"))
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
logging:
  development: false
  level: debug
importer:
  concurrency: 8
  delay_ms: 0
  default_sink: postgres
upstream:
  max_pages: 3
http:
  timeout_seconds: 45
  rate_limit_rps: 2.5
  rate_limit_burst: 2
headless:
  enabled: true
  max_parallel: 2
output:
  data_dir: /var/lib/mylist
gcs:
  bucket: playlists
postgres:
  dsn: postgres://localhost/mylist
  table: playlists
pubsub:
  project_id: proj
  topic: imports
server:
  port: 9090
  ogp_allowed_hosts: ["example.com"]
auth:
  enabled: true
  api_key: secret
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.False(t, cfg.Logging.Development)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, 8, cfg.Importer.Concurrency)
	require.Equal(t, time.Duration(0), cfg.ItemDelay())
	require.Equal(t, "postgres", cfg.Importer.DefaultSink)
	require.Equal(t, 3, cfg.Upstream.MaxPages)
	require.InDelta(t, 2.5, cfg.HTTP.RateLimitRPS, 0.001)
	require.True(t, cfg.Headless.Enabled)
	require.Equal(t, "/var/lib/mylist", cfg.Output.DataDir)
	require.True(t, cfg.SinkEnabled("gcs"))
	require.Equal(t, "playlists", cfg.Postgres.Table)
	require.True(t, cfg.PublishEnabled())
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, []string{"example.com"}, cfg.Server.OGPAllowedHosts)
	require.Equal(t, "secret", cfg.Auth.APIKey)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MYLIST_IMPORTER_CONCURRENCY", "3")
	t.Setenv("MYLIST_GCS_BUCKET", "env-bucket")
	t.Setenv("MYLIST_IMPORTER_DEFAULT_SINK", "gcs")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 3, cfg.Importer.Concurrency)
	require.Equal(t, "env-bucket", cfg.GCS.Bucket)
	require.Equal(t, "gcs", cfg.Importer.DefaultSink)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read config")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	require.NoError(t, err)

	cases := map[string]func(*Config){
		"concurrency":       func(c *Config) { c.Importer.Concurrency = 0 },
		"negative delay":    func(c *Config) { c.Importer.DelayMS = -1 },
		"unknown sink":      func(c *Config) { c.Importer.DefaultSink = "s3" },
		"unconfigured sink": func(c *Config) { c.Importer.DefaultSink = "cms" },
		"page size":         func(c *Config) { c.Upstream.PageSize = 101 },
		"max pages":         func(c *Config) { c.Upstream.MaxPages = 0 },
		"timeout":           func(c *Config) { c.HTTP.TimeoutSeconds = 0 },
		"rate":              func(c *Config) { c.HTTP.RateLimitRPS = -1 },
		"headless":          func(c *Config) { c.Headless.Enabled = true; c.Headless.MaxParallel = 0 },
		"data dir":          func(c *Config) { c.Output.DataDir = " " },
		"cms key":           func(c *Config) { c.CMS.BaseURL = "https://x.microcms.io/api/v1" },
		"pubsub pair":       func(c *Config) { c.PubSub.Topic = "imports" },
		"port":              func(c *Config) { c.Server.Port = 0 },
		"auth":              func(c *Config) { c.Auth.Enabled = true },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
