package config

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "pool.workers")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

var (
	structValidator     *validator.Validate
	structValidatorOnce sync.Once
)

// validate returns the shared validator. Field names are reported using the
// mapstructure keys so errors read like config paths.
func validate() *validator.Validate {
	structValidatorOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("mapstructure"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		structValidator = v
	})
	return structValidator
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	if err := validate().Struct(c); err != nil {
		fieldErrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return []ValidationError{{Field: "config", Value: nil, Message: err.Error()}}
		}
		for _, fe := range fieldErrs {
			errors = append(errors, ValidationError{
				Field:   fieldPath(fe.Namespace()),
				Value:   fe.Value(),
				Message: describe(fe),
			})
		}
	}

	errors = append(errors, c.validateIPPattern()...)

	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		errors = append(errors, ValidationError{
			Field:   "tracing.endpoint",
			Value:   c.Tracing.Endpoint,
			Message: "is required when tracing is enabled",
		})
	}

	return errors
}

// validateIPPattern checks what struct tags cannot: the pattern compiles and
// names the capture group the detector reads.
func (c *Config) validateIPPattern() []ValidationError {
	if c.IPDetect.Pattern == "" {
		return nil
	}

	re, err := regexp.Compile(c.IPDetect.Pattern)
	if err != nil {
		return []ValidationError{{
			Field:   "ipdetect.pattern",
			Value:   c.IPDetect.Pattern,
			Message: fmt.Sprintf("invalid regular expression: %v", err),
		}}
	}
	if re.SubexpIndex("ip") < 0 {
		return []ValidationError{{
			Field:   "ipdetect.pattern",
			Value:   c.IPDetect.Pattern,
			Message: `must contain a capture group named "ip"`,
		}}
	}
	return nil
}

// fieldPath strips the root struct name from a validator namespace,
// turning "Config.pool.workers" into "pool.workers".
func fieldPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min", "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max", "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gtefield":
		return fmt.Sprintf("must be 0 or at least %s", strings.ToLower(fe.Param()))
	case "oneof":
		return fmt.Sprintf("must be one of: %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	case "url":
		return "must be a valid URL"
	case "excludesall":
		return "must not contain spaces or slashes"
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}
