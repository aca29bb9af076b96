package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/tasktree/internal/event"
)

// Config represents the complete tasktree configuration
type Config struct {
	Watcher  WatcherConfig  `mapstructure:"watcher" yaml:"watcher"`
	Resolver ResolverConfig `mapstructure:"resolver" yaml:"resolver"`
	Download DownloadConfig `mapstructure:"download" yaml:"download"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
}

// WatcherConfig controls progress batching
type WatcherConfig struct {
	// FlushIntervalMs is how often buffered progress is delivered (default: 500)
	FlushIntervalMs int `mapstructure:"flush_interval_ms" yaml:"flush_interval_ms"`
}

// ResolverConfig controls the adaptive download URL resolver
type ResolverConfig struct {
	InitialBatch int `mapstructure:"initial_batch" yaml:"initial_batch"`
	MinBatch     int `mapstructure:"min_batch" yaml:"min_batch"`
	MaxBatch     int `mapstructure:"max_batch" yaml:"max_batch"`
	// MaxAttempts caps lookups per file; 0 retries until resolved
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`
	// CacheSize is the number of resolved URLs kept in memory
	CacheSize int `mapstructure:"cache_size" yaml:"cache_size"`
	// RequestsPerSecond throttles lookups; 0 disables throttling
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `mapstructure:"burst" yaml:"burst"`
}

// DownloadConfig controls file downloads and the Curseforge API client
type DownloadConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	RetryMax       int `mapstructure:"retry_max" yaml:"retry_max"`
	// AllowFileAPI enables addon downloads from a manifest's file API
	AllowFileAPI      bool   `mapstructure:"allow_file_api" yaml:"allow_file_api"`
	CurseforgeBaseURL string `mapstructure:"curseforge_base_url" yaml:"curseforge_base_url"`
	APIKey            string `mapstructure:"api_key" yaml:"api_key"`
}

// LoggingConfig controls structured logging
type LoggingConfig struct {
	// Level is the minimum level written: debug, info, warn or error
	Level string `mapstructure:"level" yaml:"level"`
	// Dir receives tasktree.log; empty writes to stderr
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
	// Address is the listen address of the /metrics endpoint
	Address string `mapstructure:"address" yaml:"address"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Watcher: WatcherConfig{
			FlushIntervalMs: 500,
		},
		Resolver: ResolverConfig{
			InitialBatch:      8,
			MinBatch:          2,
			MaxBatch:          16,
			MaxAttempts:       0, // Retry until resolved
			CacheSize:         1024,
			RequestsPerSecond: 0, // No throttling
			Burst:             8,
		},
		Download: DownloadConfig{
			TimeoutSeconds:    120,
			RetryMax:          3,
			AllowFileAPI:      true,
			CurseforgeBaseURL: "https://api.curseforge.com",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Namespace: "tasktree",
			Address:   "127.0.0.1:9464",
		},
	}
}

// FlushInterval returns the flush interval as a time.Duration
func (c *WatcherConfig) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMs) * time.Millisecond
}

// Timeout returns the per-request download timeout as a time.Duration
func (c *DownloadConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("watcher.flush_interval_ms", defaults.Watcher.FlushIntervalMs)

	viper.SetDefault("resolver.initial_batch", defaults.Resolver.InitialBatch)
	viper.SetDefault("resolver.min_batch", defaults.Resolver.MinBatch)
	viper.SetDefault("resolver.max_batch", defaults.Resolver.MaxBatch)
	viper.SetDefault("resolver.max_attempts", defaults.Resolver.MaxAttempts)
	viper.SetDefault("resolver.cache_size", defaults.Resolver.CacheSize)
	viper.SetDefault("resolver.requests_per_second", defaults.Resolver.RequestsPerSecond)
	viper.SetDefault("resolver.burst", defaults.Resolver.Burst)

	viper.SetDefault("download.timeout_seconds", defaults.Download.TimeoutSeconds)
	viper.SetDefault("download.retry_max", defaults.Download.RetryMax)
	viper.SetDefault("download.allow_file_api", defaults.Download.AllowFileAPI)
	viper.SetDefault("download.curseforge_base_url", defaults.Download.CurseforgeBaseURL)
	viper.SetDefault("download.api_key", defaults.Download.APIKey)

	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)

	viper.SetDefault("metrics.enabled", defaults.Metrics.Enabled)
	viper.SetDefault("metrics.namespace", defaults.Metrics.Namespace)
	viper.SetDefault("metrics.address", defaults.Metrics.Address)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration, falling back to defaults when the
// loaded values are invalid
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Watch publishes a ConfigReloadedEvent on bus whenever the config file in
// use changes on disk. It is a no-op when no config file was read.
func Watch(bus *event.Bus) {
	if viper.ConfigFileUsed() == "" {
		return
	}
	viper.OnConfigChange(func(e fsnotify.Event) {
		bus.Publish(event.NewConfigReloadedEvent(e.Name))
	})
	viper.WatchConfig()
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "tasktree")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tasktree"
	}
	return filepath.Join(home, ".config", "tasktree")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
