package config

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Server defaults
	cfg.Server.Port = 8084
	cfg.Server.TLSEnabled = false
	cfg.Server.TLSCertPath = ""
	cfg.Server.TLSKeyPath = ""
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000"}
	cfg.Server.RateLimitPerMin = 120

	// Database defaults
	cfg.Database.SQLitePath = "/var/lib/cutover/cutover.db"

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	// Audit defaults
	cfg.Audit.LogPath = "logs/audit.log"
	cfg.Audit.MaxSizeMB = 100
	cfg.Audit.MaxBackups = 10
	cfg.Audit.MaxAgeDays = 30
	cfg.Audit.Compress = true

	// Cutover defaults
	cfg.Cutover.InitialVersion = "v0"
	cfg.Cutover.DefaultTimeoutSeconds = 1800
	cfg.Cutover.CanaryIntervalSeconds = 10
	cfg.Cutover.StrictRollbackFailure = false
	cfg.Cutover.CanaryInitialPercent = 10
	cfg.Cutover.CanaryMaxPercent = 50
	cfg.Cutover.CanaryStepPercent = 20
	cfg.Cutover.CanaryRequiredChecks = 2
	cfg.Cutover.CanaryRollbackOnFailed = true

	return cfg
}
