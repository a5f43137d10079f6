package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/radar-downloader/internal/notify"
)

type Config struct {
	Feed     FeedConfig     `mapstructure:"feed"`
	API      APIConfig      `mapstructure:"api"`
	Products []string       `mapstructure:"products"`
	Output   OutputConfig   `mapstructure:"output"`
	Download DownloadConfig `mapstructure:"download"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Status   StatusConfig   `mapstructure:"status"`
	Notify   notify.Config  `mapstructure:"notify"`
}

type FeedConfig struct {
	URL           string `mapstructure:"url"`
	Topic         string `mapstructure:"topic"`
	Host          string `mapstructure:"host"`   // STOMP host header, empty means the URL host
	Origin        string `mapstructure:"origin"` // Origin header sent on the upgrade
	BackoffMinSec int    `mapstructure:"backoff_min_sec"`
	BackoffMaxSec int    `mapstructure:"backoff_max_sec"`
}

type APIConfig struct {
	Endpoint      string `mapstructure:"endpoint"`
	TimeoutSec    int    `mapstructure:"timeout_sec"`
	RetryCount    int    `mapstructure:"retry_count"`
	RetryDelay    int    `mapstructure:"retry_delay_sec"`
	RatePerSecond int    `mapstructure:"rate_per_second"`
}

type OutputConfig struct {
	Directory string `mapstructure:"directory"`
}

type DownloadConfig struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
}

type LoggingConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Directory string `mapstructure:"directory"`
	Level     string `mapstructure:"level"`
}

type StatusConfig struct {
	Addr string `mapstructure:"addr"` // empty disables the status endpoint
}

// flagKeys maps command line flag names to config keys.
var flagKeys = map[string]string{
	"ws-url":       "feed.url",
	"topic":        "feed.topic",
	"api-endpoint": "api.endpoint",
	"products":     "products",
	"output":       "output.directory",
	"workers":      "download.workers",
	"log-level":    "logging.level",
	"status-addr":  "status.addr",
}

// Load resolves the configuration from defaults, an optional YAML file,
// RADAR_* environment variables and flags, in increasing precedence.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("feed.url", DefaultFeedURL)
	v.SetDefault("feed.topic", DefaultFeedTopic)
	v.SetDefault("feed.host", "")
	v.SetDefault("feed.origin", DefaultFeedOrigin)
	v.SetDefault("feed.backoff_min_sec", 1)
	v.SetDefault("feed.backoff_max_sec", 30)
	v.SetDefault("api.endpoint", DefaultAPIEndpoint)
	v.SetDefault("api.timeout_sec", 15)
	v.SetDefault("api.retry_count", 2)
	v.SetDefault("api.retry_delay_sec", 2)
	v.SetDefault("api.rate_per_second", 5)
	v.SetDefault("products", DefaultProducts)
	v.SetDefault("output.directory", DefaultOutputDir)
	v.SetDefault("download.workers", 3)
	v.SetDefault("download.queue_size", 1000)
	v.SetDefault("logging.enabled", false)
	v.SetDefault("logging.directory", "logs")
	v.SetDefault("logging.level", "info")
	v.SetDefault("status.addr", "")
	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.server", "https://ntfy.sh")
	v.SetDefault("notify.topic", "")
	v.SetDefault("notify.priority", "default")
	v.SetDefault("notify.tags", "satellite")
	v.SetDefault("notify.token", "")
	v.SetDefault("notify.on_success", false)

	// Environment variable support
	v.SetEnvPrefix("RADAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Historical variable names
	_ = v.BindEnv("feed.url", "RADAR_FEED_URL", "RADAR_WS_URL")
	_ = v.BindEnv("feed.topic", "RADAR_FEED_TOPIC", "RADAR_WS_TOPIC")
	_ = v.BindEnv("output.directory", "RADAR_OUTPUT_DIRECTORY", "RADAR_OUTPUT_DIR")
	_ = v.BindEnv("logging.level", "RADAR_LOGGING_LEVEL", "RADAR_LOG_LEVEL")
	_ = v.BindEnv("notify.token", "RADAR_NOTIFY_TOKEN", "NTFY_TOKEN")

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("binding flag %s: %w", name, err)
				}
			}
		}
	}

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("radar-downloader")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Products = NormalizeProducts(cfg.Products)
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// NormalizeProducts splits comma separated entries, trims and uppercases them
// and drops blanks and repeats.
func NormalizeProducts(products []string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(products))
	for _, entry := range products {
		for _, p := range strings.Split(entry, ",") {
			p = strings.ToUpper(strings.TrimSpace(p))
			if p == "" || seen[p] {
				continue
			}
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) BackoffMin() time.Duration {
	return time.Duration(c.Feed.BackoffMinSec) * time.Second
}

func (c *Config) BackoffMax() time.Duration {
	return time.Duration(c.Feed.BackoffMaxSec) * time.Second
}

func (c *Config) APITimeout() time.Duration {
	return time.Duration(c.API.TimeoutSec) * time.Second
}

func (c *Config) APIRetryDelay() time.Duration {
	return time.Duration(c.API.RetryDelay) * time.Second
}
