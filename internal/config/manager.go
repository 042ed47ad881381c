package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// viperConfigManager implements ConfigManager using Viper.
type viperConfigManager struct {
	configPath string
	config     *Config
	viper      *viper.Viper
	watchChan  chan Config
}

// Load loads configuration from all sources.
func (m *viperConfigManager) Load(ctx context.Context) error {
	m.viper = viper.New()

	m.viper.SetConfigFile(m.configPath)
	m.viper.SetConfigType("yaml")

	m.viper.SetEnvPrefix("CUTOVER")
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	m.setDefaults()

	// Config file is optional; defaults plus env vars are a valid setup.
	if err := m.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// File not found via viper - OK, use defaults
		} else if os.IsNotExist(err) {
			// File not found via os - OK, use defaults
		} else {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.applyEnvOverrides()

	return nil
}

// Get returns the current configuration.
func (m *viperConfigManager) Get(ctx context.Context) *Config {
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperConfigManager) Validate(ctx context.Context) error {
	errs := m.config.Validate()
	if len(errs) > 0 {
		var errMsgs []string
		for _, err := range errs {
			errMsgs = append(errMsgs, err.Error())
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errMsgs, "\n  - "))
	}
	return nil
}

// Watch watches for configuration changes and reloads.
func (m *viperConfigManager) Watch(ctx context.Context) <-chan Config {
	m.viper.WatchConfig()
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		if err := m.unmarshalConfig(); err != nil {
			return
		}
		select {
		case m.watchChan <- *m.config:
		default:
			// Channel full, skip this update
		}
	})

	return m.watchChan
}

// Reload reloads configuration from sources.
func (m *viperConfigManager) Reload(ctx context.Context) error {
	if err := m.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.applyEnvOverrides()

	return nil
}

// setDefaults sets default values in viper.
func (m *viperConfigManager) setDefaults() {
	defaults := DefaultConfig()

	// Server defaults
	m.viper.SetDefault("server.port", defaults.Server.Port)
	m.viper.SetDefault("server.tls_enabled", defaults.Server.TLSEnabled)
	m.viper.SetDefault("server.tls_cert_path", defaults.Server.TLSCertPath)
	m.viper.SetDefault("server.tls_key_path", defaults.Server.TLSKeyPath)
	m.viper.SetDefault("server.allowed_origins", defaults.Server.AllowedOrigins)
	m.viper.SetDefault("server.rate_limit_per_min", defaults.Server.RateLimitPerMin)

	// Database defaults
	m.viper.SetDefault("database.sqlite_path", defaults.Database.SQLitePath)

	// Logging defaults
	m.viper.SetDefault("logging.level", defaults.Logging.Level)
	m.viper.SetDefault("logging.format", defaults.Logging.Format)

	// Audit defaults
	m.viper.SetDefault("audit.log_path", defaults.Audit.LogPath)
	m.viper.SetDefault("audit.max_size_mb", defaults.Audit.MaxSizeMB)
	m.viper.SetDefault("audit.max_backups", defaults.Audit.MaxBackups)
	m.viper.SetDefault("audit.max_age_days", defaults.Audit.MaxAgeDays)
	m.viper.SetDefault("audit.compress", defaults.Audit.Compress)

	// Cutover defaults
	m.viper.SetDefault("cutover.initial_version", defaults.Cutover.InitialVersion)
	m.viper.SetDefault("cutover.default_timeout_seconds", defaults.Cutover.DefaultTimeoutSeconds)
	m.viper.SetDefault("cutover.canary_interval_seconds", defaults.Cutover.CanaryIntervalSeconds)
	m.viper.SetDefault("cutover.strict_rollback_failure", defaults.Cutover.StrictRollbackFailure)
	m.viper.SetDefault("cutover.canary_initial_percent", defaults.Cutover.CanaryInitialPercent)
	m.viper.SetDefault("cutover.canary_max_percent", defaults.Cutover.CanaryMaxPercent)
	m.viper.SetDefault("cutover.canary_step_percent", defaults.Cutover.CanaryStepPercent)
	m.viper.SetDefault("cutover.canary_required_checks", defaults.Cutover.CanaryRequiredChecks)
	m.viper.SetDefault("cutover.canary_rollback_on_failed", defaults.Cutover.CanaryRollbackOnFailed)
}

// unmarshalConfig unmarshals viper config into Config struct.
func (m *viperConfigManager) unmarshalConfig() error {
	cfg := &Config{}

	// Server
	cfg.Server.Port = m.viper.GetInt("server.port")
	cfg.Server.TLSEnabled = m.viper.GetBool("server.tls_enabled")
	cfg.Server.TLSCertPath = m.viper.GetString("server.tls_cert_path")
	cfg.Server.TLSKeyPath = m.viper.GetString("server.tls_key_path")
	cfg.Server.AllowedOrigins = m.viper.GetStringSlice("server.allowed_origins")
	cfg.Server.RateLimitPerMin = m.viper.GetInt("server.rate_limit_per_min")

	// Database
	cfg.Database.SQLitePath = m.viper.GetString("database.sqlite_path")

	// Logging
	cfg.Logging.Level = m.viper.GetString("logging.level")
	cfg.Logging.Format = m.viper.GetString("logging.format")

	// Audit
	cfg.Audit.LogPath = m.viper.GetString("audit.log_path")
	cfg.Audit.MaxSizeMB = m.viper.GetInt("audit.max_size_mb")
	cfg.Audit.MaxBackups = m.viper.GetInt("audit.max_backups")
	cfg.Audit.MaxAgeDays = m.viper.GetInt("audit.max_age_days")
	cfg.Audit.Compress = m.viper.GetBool("audit.compress")

	// Cutover
	cfg.Cutover.InitialVersion = m.viper.GetString("cutover.initial_version")
	cfg.Cutover.DefaultTimeoutSeconds = m.viper.GetInt("cutover.default_timeout_seconds")
	cfg.Cutover.CanaryIntervalSeconds = m.viper.GetInt("cutover.canary_interval_seconds")
	cfg.Cutover.StrictRollbackFailure = m.viper.GetBool("cutover.strict_rollback_failure")
	cfg.Cutover.CanaryInitialPercent = m.viper.GetInt("cutover.canary_initial_percent")
	cfg.Cutover.CanaryMaxPercent = m.viper.GetInt("cutover.canary_max_percent")
	cfg.Cutover.CanaryStepPercent = m.viper.GetInt("cutover.canary_step_percent")
	cfg.Cutover.CanaryRequiredChecks = m.viper.GetInt("cutover.canary_required_checks")
	cfg.Cutover.CanaryRollbackOnFailed = m.viper.GetBool("cutover.canary_rollback_on_failed")

	m.config = cfg
	return nil
}

// applyEnvOverrides applies environment variable overrides for settings that
// are commonly injected by deployment tooling.
func (m *viperConfigManager) applyEnvOverrides() {
	if path := os.Getenv("CUTOVER_DB_PATH"); path != "" {
		m.config.Database.SQLitePath = path
	}

	if portEnv := os.Getenv("CUTOVER_PORT"); portEnv != "" {
		// Port was explicitly set via environment, so viper has the value
		m.config.Server.Port = m.viper.GetInt("port")
	}

	if version := os.Getenv("CUTOVER_INITIAL_VERSION"); version != "" {
		m.config.Cutover.InitialVersion = version
	}
}
