package main

// Package main is the entry point for cutoverd, the cutover orchestration
// daemon.
//
// Responsibilities:
//   - Load and validate configuration from YAML and environment variables
//   - Open the SQLite store for run, event, and revert history
//   - Initialize the audit logger with file rotation
//   - Wire the deployment controller, environment, readiness engine,
//     revert manager, and orchestrator
//   - Start the HTTP admin API and WebSocket event stream
//   - Implement graceful shutdown with context cancellation
//
// Port Configuration:
//   - cutoverd admin server: 8084 (configurable via server.port)

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kubilitics/cutover/internal/audit"
	"github.com/kubilitics/cutover/internal/config"
	"github.com/kubilitics/cutover/internal/cutover"
	"github.com/kubilitics/cutover/internal/cutover/revert"
	"github.com/kubilitics/cutover/internal/db"
	"github.com/kubilitics/cutover/internal/deploy"
	"github.com/kubilitics/cutover/internal/deploy/local"
	"github.com/kubilitics/cutover/internal/readiness"
	"github.com/kubilitics/cutover/internal/server"
)

func main() {
	configPath := flag.String("config", "/etc/cutover/config.yaml", "path to config file")
	flag.Parse()

	ctx := context.Background()

	// Load configuration from file and environment variables
	mgr, err := config.NewConfigManager(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create config manager: %v\n", err)
		os.Exit(1)
	}
	if err := mgr.Load(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := mgr.Validate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := mgr.Get(ctx)

	log, err := buildLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Persistent history store
	store, err := db.NewSQLiteStore(cfg.Database.SQLitePath)
	if err != nil {
		log.Fatal("failed to open store", zap.String("path", cfg.Database.SQLitePath), zap.Error(err))
	}
	defer store.Close()

	// Audit trail with rotation
	auditLog, err := audit.NewLogger(&audit.Config{
		AuditLogPath: cfg.Audit.LogPath,
		MaxSize:      cfg.Audit.MaxSizeMB,
		MaxBackups:   cfg.Audit.MaxBackups,
		MaxAge:       cfg.Audit.MaxAgeDays,
		Compress:     cfg.Audit.Compress,
	}, log)
	if err != nil {
		log.Fatal("failed to create audit logger", zap.Error(err))
	}
	defer auditLog.Close()

	// Deployment surface: in-process blue/green controller plus the
	// environment that records events and serves metric readings.
	controller := local.NewController(cfg.Cutover.InitialVersion, log)
	env := local.NewEnvironment(store, log)

	// Readiness gate
	engine := readiness.NewChecker(log)
	engine.Register(readiness.NewCanaryIdleCheck(controller))
	engine.Register(readiness.NewMetricBaselineCheck(env, deploy.MetricErrorRate, 5.0))
	engine.Register(readiness.NewNoRecentRevertCheck(store, 30*time.Minute))

	// Auto-revert manager seeded with the default trigger set
	reverter := revert.NewManager(controller, env, log, revert.DefaultTriggers())
	reverter.SetStrictRollbackFailure(cfg.Cutover.StrictRollbackFailure)

	orch := cutover.NewOrchestrator(controller, env, engine, reverter, &cutover.Options{
		Store:          store,
		Audit:          auditLog,
		Log:            log,
		CanaryInterval: time.Duration(cfg.Cutover.CanaryIntervalSeconds) * time.Second,
	})

	srv, err := server.New(cfg, server.Deps{
		Orchestrator: orch,
		Reverter:     reverter,
		Readiness:    engine,
		Store:        store,
		Environment:  env,
		Log:          log,
	})
	if err != nil {
		log.Fatal("failed to create server", zap.Error(err))
	}

	if err := srv.Start(); err != nil {
		log.Fatal("failed to start server", zap.Error(err))
	}
	log.Info("cutoverd started",
		zap.Int("port", cfg.Server.Port),
		zap.String("initial_version", cfg.Cutover.InitialVersion))

	// Wait for shutdown signal (Ctrl+C or SIGTERM)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info("received shutdown signal")

	if err := srv.Stop(); err != nil {
		log.Error("error stopping server", zap.Error(err))
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

// buildLogger constructs the application logger from the logging config.
func buildLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Logging.Level, err)
	}

	var zc zap.Config
	if cfg.Logging.Format == "text" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
