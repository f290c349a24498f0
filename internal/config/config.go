// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. APPCRAWLER_STORE_DRIVER.
const EnvPrefix = "APPCRAWLER"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Buffer   BufferConfig   `mapstructure:"buffer"`
	Store    StoreConfig    `mapstructure:"store"`
	Export   ExportConfig   `mapstructure:"export"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Progress ProgressConfig `mapstructure:"progress"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// CrawlerConfig governs discovery, fetching and pagination.
type CrawlerConfig struct {
	AllowedDomains     []string      `mapstructure:"allowed_domains"`
	SitemapURLs        []string      `mapstructure:"sitemap_urls"`
	ListingPattern     string        `mapstructure:"listing_pattern"`
	UserAgent          string        `mapstructure:"user_agent"`
	Concurrency        int           `mapstructure:"concurrency"`
	DelayMin           time.Duration `mapstructure:"delay_min"`
	DelayMax           time.Duration `mapstructure:"delay_max"`
	RateLimitPerDomain float64       `mapstructure:"rate_limit_per_domain"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	MaxAttempts        int           `mapstructure:"max_attempts"`
	RetryStatusCodes   []int         `mapstructure:"retry_status_codes"`
	BackoffBase        time.Duration `mapstructure:"backoff_base"`
	BackoffMax         time.Duration `mapstructure:"backoff_max"`
	ReviewPageCap      int           `mapstructure:"review_page_cap"`
	RespectRobots      bool          `mapstructure:"respect_robots"`
	QueueDepth         int           `mapstructure:"queue_depth"`
	MaxApps            int           `mapstructure:"max_apps"`
}

// BufferConfig controls when buffered records are flushed.
type BufferConfig struct {
	AppBatchSize int `mapstructure:"app_batch_size"`
}

// StoreConfig selects and configures the relational store.
type StoreConfig struct {
	Driver       string `mapstructure:"driver"`
	Path         string `mapstructure:"path"`
	DSN          string `mapstructure:"dsn"`
	MaxConns     int32  `mapstructure:"max_conns"`
	PruneOrphans bool   `mapstructure:"prune_orphans"`
}

// ExportConfig selects the blob destination for CSV exports.
type ExportConfig struct {
	Backend string `mapstructure:"backend"`
	BaseDir string `mapstructure:"base_dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for the run summary notification.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	LogEnabled     bool          `mapstructure:"log_enabled"`
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
}

// ServerConfig controls the admin HTTP server. Port 0 disables it.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
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

// Default returns the configuration used when no file or environment overrides exist.
func Default() Config {
	cfg, err := Load("")
	if err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.allowed_domains", []string{"apps.shopify.com"})
	v.SetDefault("crawler.sitemap_urls", []string{"https://apps.shopify.com/sitemap.xml"})
	v.SetDefault("crawler.listing_pattern", `^https://apps\.shopify\.com/([^/?#]+)$`)
	v.SetDefault("crawler.user_agent", "appstore-crawler/0.1")
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.delay_min", time.Second)
	v.SetDefault("crawler.delay_max", 3*time.Second)
	v.SetDefault("crawler.rate_limit_per_domain", 0)
	v.SetDefault("crawler.request_timeout", 30*time.Second)
	v.SetDefault("crawler.max_attempts", 4)
	v.SetDefault("crawler.retry_status_codes", []int{408, 429, 500, 502, 503, 504, 522, 524})
	v.SetDefault("crawler.backoff_base", 500*time.Millisecond)
	v.SetDefault("crawler.backoff_max", 30*time.Second)
	v.SetDefault("crawler.review_page_cap", 10)
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.queue_depth", 64)
	v.SetDefault("crawler.max_apps", 0)
	v.SetDefault("buffer.app_batch_size", 10)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "appstore.db")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.prune_orphans", true)
	v.SetDefault("export.backend", "local")
	v.SetDefault("export.base_dir", "export")
	v.SetDefault("export.prefix", "tables")
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", true)
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.max_batch_events", 500)
	v.SetDefault("progress.max_batch_wait", time.Second)
	v.SetDefault("server.port", 0)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if len(c.Crawler.AllowedDomains) == 0 {
		return fmt.Errorf("crawler.allowed_domains must not be empty")
	}
	if len(c.Crawler.SitemapURLs) == 0 {
		return fmt.Errorf("crawler.sitemap_urls must not be empty")
	}
	if _, err := regexp.Compile(c.Crawler.ListingPattern); err != nil {
		return fmt.Errorf("crawler.listing_pattern: %w", err)
	}
	if c.Crawler.Concurrency < 1 || c.Crawler.Concurrency > 16 {
		return fmt.Errorf("crawler.concurrency must be between 1 and 16")
	}
	if c.Crawler.DelayMin < 0 || c.Crawler.DelayMax < c.Crawler.DelayMin {
		return fmt.Errorf("crawler.delay_max must be >= crawler.delay_min >= 0")
	}
	if c.Crawler.RateLimitPerDomain < 0 {
		return fmt.Errorf("crawler.rate_limit_per_domain must be >= 0")
	}
	if c.Crawler.RequestTimeout <= 0 {
		return fmt.Errorf("crawler.request_timeout must be > 0")
	}
	if c.Crawler.MaxAttempts < 1 {
		return fmt.Errorf("crawler.max_attempts must be >= 1")
	}
	if c.Crawler.BackoffBase <= 0 || c.Crawler.BackoffMax < c.Crawler.BackoffBase {
		return fmt.Errorf("crawler.backoff_max must be >= crawler.backoff_base > 0")
	}
	if c.Crawler.ReviewPageCap < 0 {
		return fmt.Errorf("crawler.review_page_cap must be >= 0")
	}
	if c.Crawler.QueueDepth <= 0 {
		return fmt.Errorf("crawler.queue_depth must be > 0")
	}
	if c.Buffer.AppBatchSize <= 0 {
		return fmt.Errorf("buffer.app_batch_size must be > 0")
	}
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("store.driver %q is not supported", c.Store.Driver)
	}
	switch c.Export.Backend {
	case "local", "memory":
	case "gcs":
		if c.Export.Bucket == "" {
			return fmt.Errorf("export.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("export.backend %q is not supported", c.Export.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.Server.Port < 0 {
		return fmt.Errorf("server.port must be >= 0")
	}
	return nil
}
