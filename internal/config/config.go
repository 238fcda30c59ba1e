// Package config loads and validates importer configuration via Viper.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. MYLIST_GCS_BUCKET.
const EnvPrefix = "MYLIST"

// Sink names accepted by importer.default_sink.
var knownSinks = []string{"file", "gcs", "cms", "postgres", "memory"}

// Config captures all knobs loaded via Viper.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Importer ImporterConfig `mapstructure:"importer"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Output   OutputConfig   `mapstructure:"output"`
	GCS      GCSConfig      `mapstructure:"gcs"`
	CMS      CMSConfig      `mapstructure:"cms"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ImporterConfig governs the enrichment worker pool.
type ImporterConfig struct {
	Concurrency int    `mapstructure:"concurrency"`
	DelayMS     int    `mapstructure:"delay_ms"`
	DefaultSink string `mapstructure:"default_sink"`
}

// UpstreamConfig locates the list API, the feed and item pages.
type UpstreamConfig struct {
	APIBaseURL      string `mapstructure:"api_base_url"`
	FeedBaseURL     string `mapstructure:"feed_base_url"`
	WatchBaseURL    string `mapstructure:"watch_base_url"`
	PageSize        int    `mapstructure:"page_size"`
	MaxPages        int    `mapstructure:"max_pages"`
	FrontendID      string `mapstructure:"frontend_id"`
	FrontendVersion string `mapstructure:"frontend_version"`
}

// HTTPConfig configures the outbound collector.
type HTTPConfig struct {
	UserAgent      string  `mapstructure:"user_agent"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	RespectRobots  bool    `mapstructure:"respect_robots"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// HeadlessConfig configures the rendered-page fallback.
type HeadlessConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	MaxParallel    int  `mapstructure:"max_parallel"`
	NavTimeoutSec  int  `mapstructure:"nav_timeout_seconds"`
	SettleMS       int  `mapstructure:"settle_ms"`
	RenderMinBytes int  `mapstructure:"render_min_bytes"`
}

// OutputConfig controls the file sink and thumbnail paths in records.
type OutputConfig struct {
	DataDir      string `mapstructure:"data_dir"`
	ThumbnailDir string `mapstructure:"thumbnail_dir"`
	ThumbnailExt string `mapstructure:"thumbnail_ext"`
}

// GCSConfig enables the blob sink when Bucket is set.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// CMSConfig enables the headless CMS sink when BaseURL is set.
type CMSConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	Endpoint       string `mapstructure:"endpoint"`
	APIKey         string `mapstructure:"api_key"`
	APIKeyHeader   string `mapstructure:"api_key_header"`
	LabelField     string `mapstructure:"label_field"`
	RecordsField   string `mapstructure:"records_field"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// PostgresConfig enables the relational sink when DSN is set.
type PostgresConfig struct {
	DSN         string `mapstructure:"dsn"`
	Table       string `mapstructure:"table"`
	MaxConns    int32  `mapstructure:"max_conns"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

// PubSubConfig enables completion events when ProjectID and Topic are set.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Port                   int      `mapstructure:"port"`
	RequestTimeoutSeconds  int      `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int      `mapstructure:"shutdown_timeout_seconds"`
	OGPAllowedHosts        []string `mapstructure:"ogp_allowed_hosts"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// Load builds a Config from defaults, an optional file and the environment.
func Load(path string) (Config, error) {
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

// Every key gets a default so AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")

	v.SetDefault("importer.concurrency", 5)
	v.SetDefault("importer.delay_ms", 200)
	v.SetDefault("importer.default_sink", "file")

	v.SetDefault("upstream.api_base_url", "https://nvapi.nicovideo.jp")
	v.SetDefault("upstream.feed_base_url", "https://www.nicovideo.jp")
	v.SetDefault("upstream.watch_base_url", "https://www.nicovideo.jp/watch/")
	v.SetDefault("upstream.page_size", 100)
	v.SetDefault("upstream.max_pages", 10)
	v.SetDefault("upstream.frontend_id", "6")
	v.SetDefault("upstream.frontend_version", "0")

	v.SetDefault("http.user_agent", "mylist-importer/0.1")
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("http.rate_limit_rps", 0)
	v.SetDefault("http.rate_limit_burst", 1)

	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.settle_ms", 300)
	v.SetDefault("headless.render_min_bytes", 2048)

	v.SetDefault("output.data_dir", "src/data/playlists")
	v.SetDefault("output.thumbnail_dir", "/thumbnails")
	v.SetDefault("output.thumbnail_ext", ".jpg")

	v.SetDefault("gcs.bucket", "")
	v.SetDefault("gcs.prefix", "playlists")

	v.SetDefault("cms.base_url", "")
	v.SetDefault("cms.endpoint", "monthly-playlists")
	v.SetDefault("cms.api_key", "")
	v.SetDefault("cms.api_key_header", "X-MICROCMS-API-KEY")
	v.SetDefault("cms.label_field", "yearMonth")
	v.SetDefault("cms.records_field", "videos")
	v.SetDefault("cms.timeout_seconds", 15)

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.table", "monthly_playlists")
	v.SetDefault("postgres.max_conns", 4)
	v.SetDefault("postgres.auto_migrate", false)

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 120)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("server.ogp_allowed_hosts", []string{"www.nicovideo.jp", "nicovideo.jp", "sp.nicovideo.jp"})

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Importer.Concurrency <= 0 {
		return fmt.Errorf("importer.concurrency must be > 0")
	}
	if c.Importer.DelayMS < 0 {
		return fmt.Errorf("importer.delay_ms must be >= 0")
	}
	if !slices.Contains(knownSinks, c.Importer.DefaultSink) {
		return fmt.Errorf("importer.default_sink must be one of %s", strings.Join(knownSinks, ", "))
	}
	if !c.SinkEnabled(c.Importer.DefaultSink) {
		return fmt.Errorf("importer.default_sink %q is not configured", c.Importer.DefaultSink)
	}
	if c.Upstream.PageSize <= 0 || c.Upstream.PageSize > 100 {
		return fmt.Errorf("upstream.page_size must be between 1 and 100")
	}
	if c.Upstream.MaxPages <= 0 {
		return fmt.Errorf("upstream.max_pages must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.RateLimitRPS < 0 {
		return fmt.Errorf("http.rate_limit_rps must be >= 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if strings.TrimSpace(c.Output.DataDir) == "" {
		return fmt.Errorf("output.data_dir is required")
	}
	if c.CMS.BaseURL != "" && c.CMS.APIKey == "" {
		return fmt.Errorf("cms.api_key must be set when cms.base_url is set")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic must be set together")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// SinkEnabled reports whether the named sink has the settings it needs.
func (c Config) SinkEnabled(name string) bool {
	switch name {
	case "file", "memory":
		return true
	case "gcs":
		return c.GCS.Bucket != ""
	case "cms":
		return c.CMS.BaseURL != ""
	case "postgres":
		return c.Postgres.DSN != ""
	default:
		return false
	}
}

// PublishEnabled reports whether completion events go to Pub/Sub.
func (c Config) PublishEnabled() bool {
	return c.PubSub.ProjectID != "" && c.PubSub.Topic != ""
}

// HTTPTimeout converts http.timeout_seconds to a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// ItemDelay converts importer.delay_ms to a duration.
func (c Config) ItemDelay() time.Duration {
	return time.Duration(c.Importer.DelayMS) * time.Millisecond
}
