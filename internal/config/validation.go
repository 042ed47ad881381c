package config

import (
	"fmt"
	"os"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns validation errors.
func (c *Config) Validate() []error {
	var errs []error

	// Validate server configuration
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.Server.Port),
		})
	}

	if c.Server.TLSEnabled {
		if c.Server.TLSCertPath == "" {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_cert_path",
				Message: "tls_cert_path is required when tls_enabled is true",
			})
		} else if _, err := os.Stat(c.Server.TLSCertPath); os.IsNotExist(err) {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_cert_path",
				Message: fmt.Sprintf("certificate file does not exist: %s", c.Server.TLSCertPath),
			})
		}

		if c.Server.TLSKeyPath == "" {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_key_path",
				Message: "tls_key_path is required when tls_enabled is true",
			})
		} else if _, err := os.Stat(c.Server.TLSKeyPath); os.IsNotExist(err) {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_key_path",
				Message: fmt.Sprintf("key file does not exist: %s", c.Server.TLSKeyPath),
			})
		}
	}

	if c.Server.RateLimitPerMin < 0 {
		errs = append(errs, &ValidationError{
			Field:   "server.rate_limit_per_min",
			Message: fmt.Sprintf("rate_limit_per_min must not be negative, got %d", c.Server.RateLimitPerMin),
		})
	}

	// Validate database configuration
	if c.Database.SQLitePath == "" {
		errs = append(errs, &ValidationError{
			Field:   "database.sqlite_path",
			Message: "sqlite_path is required",
		})
	}

	// Validate logging configuration
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, &ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("level must be one of debug, info, warn, error; got %q", c.Logging.Level),
		})
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, &ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("format must be json or text, got %q", c.Logging.Format),
		})
	}

	// Validate audit configuration
	if c.Audit.LogPath == "" {
		errs = append(errs, &ValidationError{
			Field:   "audit.log_path",
			Message: "log_path is required",
		})
	}
	if c.Audit.MaxSizeMB < 1 {
		errs = append(errs, &ValidationError{
			Field:   "audit.max_size_mb",
			Message: fmt.Sprintf("max_size_mb must be at least 1, got %d", c.Audit.MaxSizeMB),
		})
	}

	// Validate cutover configuration
	if c.Cutover.DefaultTimeoutSeconds < 0 {
		errs = append(errs, &ValidationError{
			Field:   "cutover.default_timeout_seconds",
			Message: fmt.Sprintf("default_timeout_seconds must not be negative, got %d", c.Cutover.DefaultTimeoutSeconds),
		})
	}
	if c.Cutover.CanaryIntervalSeconds < 0 {
		errs = append(errs, &ValidationError{
			Field:   "cutover.canary_interval_seconds",
			Message: fmt.Sprintf("canary_interval_seconds must not be negative, got %d", c.Cutover.CanaryIntervalSeconds),
		})
	}
	if c.Cutover.CanaryInitialPercent < 0 || c.Cutover.CanaryInitialPercent > 100 {
		errs = append(errs, &ValidationError{
			Field:   "cutover.canary_initial_percent",
			Message: fmt.Sprintf("canary_initial_percent must be between 0 and 100, got %d", c.Cutover.CanaryInitialPercent),
		})
	}
	if c.Cutover.CanaryMaxPercent < 0 || c.Cutover.CanaryMaxPercent > 100 {
		errs = append(errs, &ValidationError{
			Field:   "cutover.canary_max_percent",
			Message: fmt.Sprintf("canary_max_percent must be between 0 and 100, got %d", c.Cutover.CanaryMaxPercent),
		})
	}
	if c.Cutover.CanaryInitialPercent > c.Cutover.CanaryMaxPercent {
		errs = append(errs, &ValidationError{
			Field:   "cutover.canary_initial_percent",
			Message: fmt.Sprintf("canary_initial_percent %d exceeds canary_max_percent %d",
				c.Cutover.CanaryInitialPercent, c.Cutover.CanaryMaxPercent),
		})
	}
	if c.Cutover.CanaryStepPercent < 1 && c.Cutover.CanaryMaxPercent > c.Cutover.CanaryInitialPercent {
		errs = append(errs, &ValidationError{
			Field:   "cutover.canary_step_percent",
			Message: fmt.Sprintf("canary_step_percent must be positive to reach %d from %d",
				c.Cutover.CanaryMaxPercent, c.Cutover.CanaryInitialPercent),
		})
	}
	if c.Cutover.CanaryRequiredChecks < 0 {
		errs = append(errs, &ValidationError{
			Field:   "cutover.canary_required_checks",
			Message: fmt.Sprintf("canary_required_checks must not be negative, got %d", c.Cutover.CanaryRequiredChecks),
		})
	}

	return errs
}
