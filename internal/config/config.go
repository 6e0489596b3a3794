package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all microbots configuration
type Config struct {
	Pool     PoolConfig     `mapstructure:"pool" yaml:"pool"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	IPDetect IPDetectConfig `mapstructure:"ipdetect" yaml:"ipdetect"`
	Clock    ClockConfig    `mapstructure:"clock" yaml:"clock"`
	Files    FilesConfig    `mapstructure:"files" yaml:"files"`
	Tracing  TracingConfig  `mapstructure:"tracing" yaml:"tracing"`
}

// PoolConfig controls the activity pool that runs every robot
type PoolConfig struct {
	// Workers is the number of workers started eagerly and kept alive (default: 2)
	Workers int `mapstructure:"workers" yaml:"workers" validate:"min=1,max=1024"`
	// MaxWorkers lets the pool grow past Workers while work is queued.
	// 0 keeps the pool fixed at Workers.
	MaxWorkers int `mapstructure:"max_workers" yaml:"max_workers" validate:"omitempty,gtefield=Workers,max=1024"`
	// IdleTimeout is how long a worker beyond Workers may wait for work before exiting
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout" validate:"gte=0"`
	// QueueSize bounds the number of queued activities. 0 means unbounded.
	QueueSize int `mapstructure:"queue_size" yaml:"queue_size" validate:"gte=0"`
	// NamePrefix is used to name workers "<prefix>-<n>" (default: "robot")
	NamePrefix string `mapstructure:"name_prefix" yaml:"name_prefix" validate:"required,max=32,excludesall= /"`
	// ShutdownTimeout bounds how long shutdown waits for in-flight activities (default: 10s)
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gte=0"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level" yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	// File is the log file path. Empty logs to stderr.
	File string `mapstructure:"file" yaml:"file"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb" validate:"gte=0"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups" validate:"gte=0"`
	// Compress gzips rotated log files
	Compress bool `mapstructure:"compress" yaml:"compress"`
}

// IPDetectConfig controls the public address detector
type IPDetectConfig struct {
	// URL is fetched to learn the public address (default: http://checkip.dyndns.org)
	URL string `mapstructure:"url" yaml:"url" validate:"required,url"`
	// Pattern extracts the address from the response body; it must have a group named "ip"
	Pattern string `mapstructure:"pattern" yaml:"pattern" validate:"required"`
	// Timeout bounds the HTTP request (default: 10s)
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`
}

// ClockConfig controls the clock robot
type ClockConfig struct {
	// Interval between ticks (default: 1s)
	Interval time.Duration `mapstructure:"interval" yaml:"interval" validate:"gt=0"`
	// Ticks stops the clock after this many ticks. 0 runs until interrupted. (default: 5)
	Ticks int `mapstructure:"ticks" yaml:"ticks" validate:"gte=0"`
}

// FilesConfig controls the file finder and directory watcher robots
type FilesConfig struct {
	// Parallelism is how many roots are walked at once (default: 4)
	Parallelism int `mapstructure:"parallelism" yaml:"parallelism" validate:"min=1,max=64"`
	// Debounce coalesces bursts of filesystem events for the same path (default: 100ms)
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce" validate:"gte=0"`
}

// TracingConfig controls OpenTelemetry tracing of dispatches. Tracing is off
// unless Enabled is set and Endpoint names an OTLP/HTTP collector.
type TracingConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Endpoint is the collector URL, e.g. http://localhost:4318
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint" validate:"omitempty,url"`
	// ServiceName is reported as service.name (default: "microbots")
	ServiceName string `mapstructure:"service_name" yaml:"service_name" validate:"required"`
}

// DefaultIPPattern extracts the address from a checkip.dyndns.org style response.
const DefaultIPPattern = `<body>Current IP Address: (?P<ip>[0-9a-fA-F.:]+)</body>`

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Pool: PoolConfig{
			Workers:         2,
			MaxWorkers:      0,
			IdleTimeout:     30 * time.Second,
			QueueSize:       0,
			NamePrefix:      "robot",
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			File:       "",
			MaxSizeMB:  10,
			MaxBackups: 3,
			Compress:   false,
		},
		IPDetect: IPDetectConfig{
			URL:     "http://checkip.dyndns.org",
			Pattern: DefaultIPPattern,
			Timeout: 10 * time.Second,
		},
		Clock: ClockConfig{
			Interval: time.Second,
			Ticks:    5,
		},
		Files: FilesConfig{
			Parallelism: 4,
			Debounce:    100 * time.Millisecond,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Endpoint:    "",
			ServiceName: "microbots",
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Pool defaults
	viper.SetDefault("pool.workers", defaults.Pool.Workers)
	viper.SetDefault("pool.max_workers", defaults.Pool.MaxWorkers)
	viper.SetDefault("pool.idle_timeout", defaults.Pool.IdleTimeout)
	viper.SetDefault("pool.queue_size", defaults.Pool.QueueSize)
	viper.SetDefault("pool.name_prefix", defaults.Pool.NamePrefix)
	viper.SetDefault("pool.shutdown_timeout", defaults.Pool.ShutdownTimeout)

	// Logging defaults
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.file", defaults.Logging.File)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)

	// IP detection defaults
	viper.SetDefault("ipdetect.url", defaults.IPDetect.URL)
	viper.SetDefault("ipdetect.pattern", defaults.IPDetect.Pattern)
	viper.SetDefault("ipdetect.timeout", defaults.IPDetect.Timeout)

	// Clock defaults
	viper.SetDefault("clock.interval", defaults.Clock.Interval)
	viper.SetDefault("clock.ticks", defaults.Clock.Ticks)

	// Files defaults
	viper.SetDefault("files.parallelism", defaults.Files.Parallelism)
	viper.SetDefault("files.debounce", defaults.Files.Debounce)

	// Tracing defaults
	viper.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	viper.SetDefault("tracing.endpoint", defaults.Tracing.Endpoint)
	viper.SetDefault("tracing.service_name", defaults.Tracing.ServiceName)
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

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// EffectiveMaxWorkers returns the worker ceiling, treating 0 as "fixed size".
func (p PoolConfig) EffectiveMaxWorkers() int {
	if p.MaxWorkers < p.Workers {
		return p.Workers
	}
	return p.MaxWorkers
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "microbots")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".microbots"
	}
	return filepath.Join(home, ".config", "microbots")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
