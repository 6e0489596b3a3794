package config

import (
	"strings"
	"testing"
)

func hasFieldError(errs []ValidationError, field string) bool {
	for _, err := range errs {
		if err.Field == field {
			return true
		}
	}
	return false
}

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{Field: "pool.workers", Value: 0, Message: "must be at least 1"}
	want := "pool.workers: must be at least 1 (got: 0)"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		if got := (ValidationErrors{}).Error(); got != "" {
			t.Errorf("Error() = %q, want empty", got)
		}
	})

	t.Run("multiple", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "a", Value: 1, Message: "bad"},
			{Field: "b", Value: 2, Message: "worse"},
		}
		got := errs.Error()
		if !strings.HasPrefix(got, "2 validation errors:") {
			t.Errorf("Error() = %q, want count prefix", got)
		}
		if !strings.Contains(got, "1. a: bad") || !strings.Contains(got, "2. b: worse") {
			t.Errorf("Error() = %q, want both entries", got)
		}
	})
}

func TestConfig_Validate_DefaultConfig(t *testing.T) {
	if errs := Default().Validate(); len(errs) != 0 {
		t.Errorf("Default config should be valid, got %v", errs)
	}
}

func TestConfig_Validate_Pool(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		field   string
		wantErr bool
	}{
		{"zero workers", func(c *Config) { c.Pool.Workers = 0 }, "pool.workers", true},
		{"too many workers", func(c *Config) { c.Pool.Workers = 5000 }, "pool.workers", true},
		{"max below workers", func(c *Config) { c.Pool.Workers = 4; c.Pool.MaxWorkers = 2 }, "pool.max_workers", true},
		{"max zero means fixed", func(c *Config) { c.Pool.Workers = 4; c.Pool.MaxWorkers = 0 }, "pool.max_workers", false},
		{"growable", func(c *Config) { c.Pool.Workers = 2; c.Pool.MaxWorkers = 16 }, "pool.max_workers", false},
		{"negative queue", func(c *Config) { c.Pool.QueueSize = -1 }, "pool.queue_size", true},
		{"empty prefix", func(c *Config) { c.Pool.NamePrefix = "" }, "pool.name_prefix", true},
		{"prefix with space", func(c *Config) { c.Pool.NamePrefix = "my robot" }, "pool.name_prefix", true},
		{"negative shutdown", func(c *Config) { c.Pool.ShutdownTimeout = -1 }, "pool.shutdown_timeout", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			errs := cfg.Validate()
			if got := hasFieldError(errs, tt.field); got != tt.wantErr {
				t.Errorf("error for %s = %v, want %v (errs: %v)", tt.field, got, tt.wantErr, errs)
			}
		})
	}
}

func TestConfig_Validate_Logging(t *testing.T) {
	t.Run("valid log levels", func(t *testing.T) {
		for _, level := range []string{"debug", "info", "warn", "error", ""} {
			cfg := Default()
			cfg.Logging.Level = level
			if hasFieldError(cfg.Validate(), "logging.level") {
				t.Errorf("level %q should be valid", level)
			}
		}
	})

	t.Run("invalid log level", func(t *testing.T) {
		cfg := Default()
		cfg.Logging.Level = "verbose"
		if !hasFieldError(cfg.Validate(), "logging.level") {
			t.Error("expected error for invalid log level")
		}
	})

	t.Run("negative backups", func(t *testing.T) {
		cfg := Default()
		cfg.Logging.MaxBackups = -1
		if !hasFieldError(cfg.Validate(), "logging.max_backups") {
			t.Error("expected error for negative max_backups")
		}
	})
}

func TestConfig_Validate_IPDetect(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		field   string
		wantMsg string
	}{
		{"missing url", func(c *Config) { c.IPDetect.URL = "" }, "ipdetect.url", "is required"},
		{"bad url", func(c *Config) { c.IPDetect.URL = "not a url" }, "ipdetect.url", "must be a valid URL"},
		{"zero timeout", func(c *Config) { c.IPDetect.Timeout = 0 }, "ipdetect.timeout", "must be greater than"},
		{"bad regex", func(c *Config) { c.IPDetect.Pattern = "(" }, "ipdetect.pattern", "invalid regular expression"},
		{"no ip group", func(c *Config) { c.IPDetect.Pattern = `([0-9.]+)` }, "ipdetect.pattern", `capture group named "ip"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			var found *ValidationError
			for _, err := range cfg.Validate() {
				if err.Field == tt.field {
					found = &err
					break
				}
			}
			if found == nil {
				t.Fatalf("expected error for %s", tt.field)
			}
			if !strings.Contains(found.Message, tt.wantMsg) {
				t.Errorf("Message = %q, want it to contain %q", found.Message, tt.wantMsg)
			}
		})
	}
}

func TestConfig_Validate_ClockAndFiles(t *testing.T) {
	cfg := Default()
	cfg.Clock.Interval = 0
	cfg.Clock.Ticks = -1
	cfg.Files.Parallelism = 0

	errs := cfg.Validate()
	for _, field := range []string{"clock.interval", "clock.ticks", "files.parallelism"} {
		if !hasFieldError(errs, field) {
			t.Errorf("expected error for %s", field)
		}
	}
}

func TestConfig_Validate_Tracing(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		field   string
		wantErr bool
	}{
		{"disabled without endpoint", func(c *Config) {}, "tracing.endpoint", false},
		{"enabled without endpoint", func(c *Config) { c.Tracing.Enabled = true }, "tracing.endpoint", true},
		{"enabled with endpoint", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Endpoint = "http://localhost:4318"
		}, "tracing.endpoint", false},
		{"endpoint not a url", func(c *Config) { c.Tracing.Endpoint = "localhost" }, "tracing.endpoint", true},
		{"empty service name", func(c *Config) { c.Tracing.ServiceName = "" }, "tracing.service_name", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			if got := hasFieldError(cfg.Validate(), tt.field); got != tt.wantErr {
				t.Errorf("error for %s = %v, want %v", tt.field, got, tt.wantErr)
			}
		})
	}
}

func TestConfig_Validate_MultipleErrors(t *testing.T) {
	cfg := Default()
	cfg.Pool.Workers = 0
	cfg.Logging.Level = "loud"
	cfg.IPDetect.URL = ""

	if errs := cfg.Validate(); len(errs) < 3 {
		t.Errorf("expected at least 3 errors, got %d: %v", len(errs), errs)
	}
}

func TestValidLogLevels(t *testing.T) {
	levels := ValidLogLevels()
	if len(levels) != 4 {
		t.Errorf("expected 4 levels, got %d", len(levels))
	}
}
