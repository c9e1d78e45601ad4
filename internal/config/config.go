// Package config provides configuration types, defaults, and persistence
// for the keel runtime.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/viper"

	"github.com/keelruntime/keel/internal/log"
	"github.com/keelruntime/keel/internal/tracing"
)

// Stale-singleton policy for resolutions arriving mid-reconfiguration.
const (
	// PolicyLenient serves a possibly-stale singleton out of the snapshot
	// rather than fail. The default.
	PolicyLenient = "lenient"

	// PolicyStrict skips the snapshot; mid-cycle resolutions answer only
	// from a live registry. Trades availability for consistency.
	PolicyStrict = "strict"
)

// QueueConfig tunes the deferred resolution queue.
type QueueConfig struct {
	// Capacity bounds the queue; requests past it fail immediately.
	Capacity int `mapstructure:"capacity"`

	// DefaultTimeout is applied to deferred requests that do not carry
	// their own.
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ResolveConfig tunes the resolution facade.
type ResolveConfig struct {
	// StalePolicy is "lenient" (serve snapshot singletons mid-cycle) or
	// "strict" (fail instead).
	StalePolicy string `mapstructure:"stale_policy"`

	// SnapshotTTL is the safety-net expiry on snapshot entries, in case a
	// cycle never reaches its clearing step.
	SnapshotTTL time.Duration `mapstructure:"snapshot_ttl"`
}

// PreloadConfig controls the speculative feature preload at boot.
type PreloadConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// StatePath is the file the last-active feature name is read from and
	// saved to. The content is an opaque string owned by the surrounding
	// application.
	StatePath string `mapstructure:"state_path"`
}

// WatcherConfig configures the development trigger watcher.
type WatcherConfig struct {
	// TriggerPath is the file development tooling touches to request a
	// reconfiguration cycle.
	TriggerPath string `mapstructure:"trigger_path"`

	// Debounce coalesces rapid trigger writes into one cycle.
	Debounce time.Duration `mapstructure:"debounce"`
}

// Config holds all options for the keel runtime.
type Config struct {
	Queue   QueueConfig    `mapstructure:"queue"`
	Resolve ResolveConfig  `mapstructure:"resolve"`
	Preload PreloadConfig  `mapstructure:"preload"`
	Watcher WatcherConfig  `mapstructure:"watcher"`
	Tracing tracing.Config `mapstructure:"tracing"`
	Debug   bool           `mapstructure:"debug"`

	// LogPath is the runtime log file. Empty disables file logging.
	LogPath string `mapstructure:"log_path"`
}

// Defaults returns the runtime defaults.
func Defaults() Config {
	return Config{
		Queue: QueueConfig{
			Capacity:       64,
			DefaultTimeout: 5 * time.Second,
		},
		Resolve: ResolveConfig{
			StalePolicy: PolicyLenient,
			SnapshotTTL: 5 * time.Minute,
		},
		Preload: PreloadConfig{
			Enabled:   true,
			StatePath: "",
		},
		Watcher: WatcherConfig{
			TriggerPath: ".keel/reload.trigger",
			Debounce:    250 * time.Millisecond,
		},
		Tracing: tracing.DefaultConfig(),
		Debug:   false,
		LogPath: ".keel/keel.log",
	}
}

// Load reads configuration from path, layered over defaults. A missing
// file is not an error: defaults apply.
func Load(path string) (Config, error) {
	cfg := Defaults()

	v := viper.New()
	v.SetDefault("queue.capacity", cfg.Queue.Capacity)
	v.SetDefault("queue.default_timeout", cfg.Queue.DefaultTimeout)
	v.SetDefault("resolve.stale_policy", cfg.Resolve.StalePolicy)
	v.SetDefault("resolve.snapshot_ttl", cfg.Resolve.SnapshotTTL)
	v.SetDefault("preload.enabled", cfg.Preload.Enabled)
	v.SetDefault("preload.state_path", cfg.Preload.StatePath)
	v.SetDefault("watcher.trigger_path", cfg.Watcher.TriggerPath)
	v.SetDefault("watcher.debounce", cfg.Watcher.Debounce)
	v.SetDefault("tracing.enabled", cfg.Tracing.Enabled)
	v.SetDefault("tracing.exporter", cfg.Tracing.Exporter)
	v.SetDefault("tracing.file_path", cfg.Tracing.FilePath)
	v.SetDefault("tracing.otlp_endpoint", cfg.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", cfg.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", cfg.Tracing.ServiceName)
	v.SetDefault("debug", cfg.Debug)
	v.SetDefault("log_path", cfg.LogPath)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			_, notFound := err.(viper.ConfigFileNotFoundError)
			if !notFound && !errors.Is(err, fs.ErrNotExist) {
				return cfg, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	log.Debug(log.CatConfig, "configuration loaded", "path", path,
		"queue_capacity", cfg.Queue.Capacity, "stale_policy", cfg.Resolve.StalePolicy)
	return cfg, nil
}

// Validate rejects values the runtime cannot operate with.
func (c Config) Validate() error {
	if c.Queue.Capacity <= 0 {
		return fmt.Errorf("queue.capacity must be positive, got %d", c.Queue.Capacity)
	}
	if c.Queue.DefaultTimeout <= 0 {
		return fmt.Errorf("queue.default_timeout must be positive, got %s", c.Queue.DefaultTimeout)
	}
	if c.Resolve.StalePolicy != PolicyLenient && c.Resolve.StalePolicy != PolicyStrict {
		return fmt.Errorf("resolve.stale_policy must be %q or %q, got %q",
			PolicyLenient, PolicyStrict, c.Resolve.StalePolicy)
	}
	return nil
}
