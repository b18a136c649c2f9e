// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Rasterizer backends.
const (
	RasterizerVector   = "vector"
	RasterizerHeadless = "headless"
)

// Event publisher backends.
const (
	EventsMemory = "memory"
	EventsPubSub = "pubsub"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Scraper   ScraperConfig   `mapstructure:"scraper"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Assets    AssetsConfig    `mapstructure:"assets"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Retention RetentionConfig `mapstructure:"retention"`
	Events    EventsConfig    `mapstructure:"events"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ScraperConfig governs the single page fetch.
type ScraperConfig struct {
	UserAgent     string        `mapstructure:"user_agent"`
	PageTimeout   time.Duration `mapstructure:"page_timeout"`
	MaxPageBytes  int           `mapstructure:"max_page_bytes"`
	RespectRobots bool          `mapstructure:"respect_robots"`
	JitterMin     time.Duration `mapstructure:"jitter_min"`
	JitterMax     time.Duration `mapstructure:"jitter_max"`
}

// RetryConfig configures page fetch retries.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// AssetsConfig configures image downloads and conversion.
type AssetsConfig struct {
	MaxImageSize       int64          `mapstructure:"max_image_size"`
	Concurrency        int            `mapstructure:"concurrency"`
	Timeout            time.Duration  `mapstructure:"timeout"`
	ChunkSize          int            `mapstructure:"chunk_size"`
	JitterMin          time.Duration  `mapstructure:"jitter_min"`
	JitterMax          time.Duration  `mapstructure:"jitter_max"`
	PerHostRPS         float64        `mapstructure:"per_host_rps"`
	PerHostBurst       int            `mapstructure:"per_host_burst"`
	Rasterizer         string         `mapstructure:"rasterizer"`
	MaxRasterDimension int            `mapstructure:"max_raster_dimension"`
	Headless           HeadlessConfig `mapstructure:"headless"`
}

// HeadlessConfig configures the chromedp rasterizer.
type HeadlessConfig struct {
	MaxParallel   int           `mapstructure:"max_parallel"`
	RenderTimeout time.Duration `mapstructure:"render_timeout"`
	ExecPath      string        `mapstructure:"exec_path"`
	NoSandbox     bool          `mapstructure:"no_sandbox"`
}

// StorageConfig sets where sessions live.
type StorageConfig struct {
	OutputDir string `mapstructure:"output_dir"`
}

// RetentionConfig controls session reclamation.
type RetentionConfig struct {
	Enabled              bool          `mapstructure:"enabled"`
	TTLHours             float64       `mapstructure:"ttl_hours"`
	Interval             time.Duration `mapstructure:"interval"`
	CleanupAfterDownload bool          `mapstructure:"cleanup_after_download"`
	CleanupDelay         time.Duration `mapstructure:"cleanup_delay"`
}

// TTL returns the session time-to-live as a duration.
func (r RetentionConfig) TTL() time.Duration {
	return time.Duration(r.TTLHours * float64(time.Hour))
}

// EventsConfig holds metadata for scrape and purge notifications.
type EventsConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
	Capacity  int    `mapstructure:"capacity"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
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
	v.SetDefault("server.request_timeout", "5m")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("scraper.user_agent", "")
	v.SetDefault("scraper.page_timeout", "30s")
	v.SetDefault("scraper.max_page_bytes", 10<<20)
	v.SetDefault("scraper.respect_robots", false)
	v.SetDefault("scraper.jitter_min", "100ms")
	v.SetDefault("scraper.jitter_max", "500ms")
	v.SetDefault("retry.max_attempts", 2)
	v.SetDefault("retry.base_delay", "1s")
	v.SetDefault("retry.max_delay", "30s")
	v.SetDefault("assets.max_image_size", 10<<20)
	v.SetDefault("assets.concurrency", 10)
	v.SetDefault("assets.timeout", "10s")
	v.SetDefault("assets.chunk_size", 32<<10)
	v.SetDefault("assets.jitter_min", "50ms")
	v.SetDefault("assets.jitter_max", "200ms")
	v.SetDefault("assets.per_host_rps", 0)
	v.SetDefault("assets.per_host_burst", 1)
	v.SetDefault("assets.rasterizer", RasterizerVector)
	v.SetDefault("assets.max_raster_dimension", 4096)
	v.SetDefault("assets.headless.max_parallel", 1)
	v.SetDefault("assets.headless.render_timeout", "15s")
	v.SetDefault("assets.headless.exec_path", "")
	v.SetDefault("assets.headless.no_sandbox", false)
	v.SetDefault("storage.output_dir", "output")
	v.SetDefault("retention.enabled", true)
	v.SetDefault("retention.ttl_hours", 24)
	v.SetDefault("retention.interval", "1h")
	v.SetDefault("retention.cleanup_after_download", false)
	v.SetDefault("retention.cleanup_delay", "1s")
	v.SetDefault("events.backend", EventsMemory)
	v.SetDefault("events.project_id", "")
	v.SetDefault("events.topic", "scrape-events")
	v.SetDefault("events.capacity", 1000)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Scraper.PageTimeout <= 0 {
		return fmt.Errorf("scraper.page_timeout must be > 0")
	}
	if c.Scraper.JitterMax < c.Scraper.JitterMin {
		return fmt.Errorf("scraper.jitter_max must be >= scraper.jitter_min")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	if c.Assets.MaxImageSize <= 0 {
		return fmt.Errorf("assets.max_image_size must be > 0")
	}
	if c.Assets.Concurrency <= 0 {
		return fmt.Errorf("assets.concurrency must be > 0")
	}
	if c.Assets.JitterMax < c.Assets.JitterMin {
		return fmt.Errorf("assets.jitter_max must be >= assets.jitter_min")
	}
	switch c.Assets.Rasterizer {
	case RasterizerVector, RasterizerHeadless:
	default:
		return fmt.Errorf("assets.rasterizer must be %q or %q", RasterizerVector, RasterizerHeadless)
	}
	if strings.TrimSpace(c.Storage.OutputDir) == "" {
		return fmt.Errorf("storage.output_dir is required")
	}
	if c.Retention.TTLHours <= 0 {
		return fmt.Errorf("retention.ttl_hours must be > 0")
	}
	if c.Retention.Enabled && c.Retention.Interval <= 0 {
		return fmt.Errorf("retention.interval must be > 0 when retention is enabled")
	}
	switch c.Events.Backend {
	case EventsMemory:
	case EventsPubSub:
		if c.Events.ProjectID == "" || c.Events.Topic == "" {
			return fmt.Errorf("events.project_id and events.topic are required for the pubsub backend")
		}
	default:
		return fmt.Errorf("events.backend must be %q or %q", EventsMemory, EventsPubSub)
	}
	return nil
}
