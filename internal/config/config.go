// Package config provides configuration management for cutoverd.
//
// Responsibilities:
//   - Load configuration from YAML files and environment variables
//   - Validate configuration on startup
//   - Provide runtime access to all configuration
//   - Support configuration reloading for settings that tolerate it
//   - Establish reasonable defaults
//
// Configuration Sources (priority order, high to low):
//  1. Environment variables (CUTOVER_* prefix)
//  2. YAML config file (default: /etc/cutover/config.yaml)
//  3. Built-in defaults (lowest priority)
//
// Main Configuration Sections:
//
//  1. Server
//     - port: Listen port (default 8084)
//     - tls_enabled: Enable TLS
//     - tls_cert_path: Path to certificate
//     - tls_key_path: Path to key
//     - allowed_origins: Origins permitted to open WebSocket connections
//     - rate_limit_per_min: Per-client cap on mutating API requests
//
//  2. Database
//     - sqlite_path: Path to SQLite file
//
//  3. Logging
//     - level: "debug" | "info" | "warn" | "error"
//     - format: "json" | "text"
//
//  4. Audit
//     - log_path: Audit log file path
//     - max_size_mb / max_backups / max_age_days / compress: rotation
//
//  5. Cutover
//     - initial_version: Version seeded into the active slot on startup
//     - default_timeout_seconds: Wall-clock bound on one run (0 disables)
//     - canary_interval_seconds: Pause between canary loop iterations
//     - strict_rollback_failure: A failed rollback flips revert success
//     - canary_*: Defaults applied to plans without a canary config
package config

import "context"

// Config contains all configuration fields.
type Config struct {
	// Server configuration
	Server struct {
		Port        int
		TLSEnabled  bool
		TLSCertPath string
		TLSKeyPath  string
		// AllowedOrigins is a list of origins permitted to open WebSocket
		// connections. Use ["*"] to allow any origin (development only).
		AllowedOrigins []string
		// RateLimitPerMin caps mutating API requests per client per minute.
		// Zero disables rate limiting.
		RateLimitPerMin int
	}

	// Database configuration
	Database struct {
		SQLitePath string
	}

	// Logging configuration
	Logging struct {
		Level  string
		Format string
	}

	// Audit log configuration
	Audit struct {
		LogPath    string
		MaxSizeMB  int
		MaxBackups int
		MaxAgeDays int
		Compress   bool
	}

	// Cutover orchestration configuration
	Cutover struct {
		InitialVersion         string
		DefaultTimeoutSeconds  int
		CanaryIntervalSeconds  int
		StrictRollbackFailure  bool
		CanaryInitialPercent   int
		CanaryMaxPercent       int
		CanaryStepPercent      int
		CanaryRequiredChecks   int
		CanaryRollbackOnFailed bool
	}
}

// ConfigManager defines the interface for configuration access.
type ConfigManager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches for configuration changes and reloads (if supported).
	Watch(ctx context.Context) <-chan Config

	// Reload reloads configuration from sources (selective settings).
	Reload(ctx context.Context) error
}

// NewConfigManager creates a new configuration manager.
func NewConfigManager(configPath string) (ConfigManager, error) {
	mgr := &viperConfigManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
	return mgr, nil
}

// NewConfigManagerWithDefaults creates a config manager with default config path.
func NewConfigManagerWithDefaults() (ConfigManager, error) {
	return NewConfigManager("/etc/cutover/config.yaml")
}
