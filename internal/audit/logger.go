package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger defines the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *Event) error

	// LogCutover logs cutover lifecycle events
	LogCutoverStarted(ctx context.Context, runID, version, previous string) error
	LogCutoverCompleted(ctx context.Context, runID, version string, duration time.Duration) error
	LogCutoverFailed(ctx context.Context, runID, phase string, err error) error
	LogPhaseTransition(ctx context.Context, runID, from, to string) error

	// LogRevert logs revert lifecycle events
	LogRevertExecuted(ctx context.Context, runID, reason string, success bool, duration time.Duration) error
	LogTriggerFired(ctx context.Context, runID, trigger, reason string) error

	// Sync flushes buffered log entries
	Sync() error

	// Close closes the audit logger
	Close() error
}

// Config represents audit logger configuration
type Config struct {
	// AuditLogPath is the path to the audit log file
	AuditLogPath string

	// MaxSize is the maximum size in megabytes before rotation
	MaxSize int

	// MaxBackups is the maximum number of old log files to retain
	MaxBackups int

	// MaxAge is the maximum number of days to retain old log files
	MaxAge int

	// Compress determines if rotated files should be compressed
	Compress bool
}

// DefaultConfig returns default audit logger configuration
func DefaultConfig() *Config {
	return &Config{
		AuditLogPath: "logs/audit.log",
		MaxSize:      100, // megabytes
		MaxBackups:   10,
		MaxAge:       90, // days
		Compress:     true,
	}
}

// auditLogger implements the Logger interface
type auditLogger struct {
	app    *zap.Logger
	sink   *zap.Logger
	config *Config

	mu          sync.Mutex
	buffer      []*Event
	flushTicker *time.Ticker
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewLogger creates a new audit logger writing rotated JSON lines.
// app is the application logger used for internal failures; nil is allowed.
func NewLogger(config *Config, app *zap.Logger) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if app == nil {
		app = zap.NewNop()
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		MessageKey:     "message",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
	}

	rotator := &lumberjack.Logger{
		Filename:   config.AuditLogPath,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}

	// Audit entries are append-only and always recorded at INFO.
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(rotator),
		zapcore.InfoLevel,
	)

	logger := &auditLogger{
		app:         app,
		sink:        zap.New(core),
		config:      config,
		buffer:      make([]*Event, 0, 100),
		flushTicker: time.NewTicker(1 * time.Second),
		stopCh:      make(chan struct{}),
	}

	go logger.autoFlush()

	return logger, nil
}

// Log logs an audit event
func (l *auditLogger) Log(ctx context.Context, event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buffer = append(l.buffer, event)

	// Flush if buffer is full
	if len(l.buffer) >= 100 {
		return l.flushLocked()
	}

	return nil
}

// flushLocked flushes the buffer (caller must hold lock)
func (l *auditLogger) flushLocked() error {
	if len(l.buffer) == 0 {
		return nil
	}

	for _, event := range l.buffer {
		eventJSON, err := json.Marshal(event)
		if err != nil {
			l.app.Error("failed to marshal audit event",
				zap.Error(err),
				zap.String("event_type", string(event.EventType)),
			)
			continue
		}

		l.sink.Info(string(eventJSON),
			zap.String("run_id", event.RunID),
			zap.String("event_type", string(event.EventType)),
			zap.String("result", string(event.Result)),
		)
	}

	l.buffer = l.buffer[:0]

	return nil
}

// autoFlush periodically flushes the buffer
func (l *auditLogger) autoFlush() {
	for {
		select {
		case <-l.flushTicker.C:
			l.mu.Lock()
			_ = l.flushLocked()
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}

// LogCutoverStarted logs when a cutover run begins
func (l *auditLogger) LogCutoverStarted(ctx context.Context, runID, version, previous string) error {
	event := NewEvent(EventCutoverStarted).
		WithRunID(runID).
		WithVersions(version, previous).
		WithResult(ResultPending).
		WithDescription(fmt.Sprintf("Cutover %s started: %s -> %s", runID, previous, version))

	return l.Log(ctx, event)
}

// LogCutoverCompleted logs when a cutover run completes successfully
func (l *auditLogger) LogCutoverCompleted(ctx context.Context, runID, version string, duration time.Duration) error {
	event := NewEvent(EventCutoverCompleted).
		WithRunID(runID).
		WithVersions(version, "").
		WithResult(ResultSuccess).
		WithDuration(duration).
		WithDescription(fmt.Sprintf("Cutover %s completed on %s", runID, version))

	return l.Log(ctx, event)
}

// LogCutoverFailed logs when a cutover run terminates unsuccessfully
func (l *auditLogger) LogCutoverFailed(ctx context.Context, runID, phase string, err error) error {
	event := NewEvent(EventCutoverFailed).
		WithRunID(runID).
		WithPhase(phase).
		WithError(err).
		WithDescription(fmt.Sprintf("Cutover %s failed in phase %s", runID, phase))

	return l.Log(ctx, event)
}

// LogPhaseTransition logs an orchestrator phase change
func (l *auditLogger) LogPhaseTransition(ctx context.Context, runID, from, to string) error {
	event := NewEvent(EventPhaseTransition).
		WithRunID(runID).
		WithPhase(to).
		WithResult(ResultSuccess).
		WithDescription(fmt.Sprintf("Phase %s -> %s", from, to))

	return l.Log(ctx, event)
}

// LogRevertExecuted logs one revert execution
func (l *auditLogger) LogRevertExecuted(ctx context.Context, runID, reason string, success bool, duration time.Duration) error {
	result := ResultSuccess
	if !success {
		result = ResultFailure
	}
	event := NewEvent(EventRevertExecuted).
		WithRunID(runID).
		WithReason(reason).
		WithResult(result).
		WithDuration(duration).
		WithDescription(fmt.Sprintf("Revert executed: %s", reason))

	return l.Log(ctx, event)
}

// LogTriggerFired logs an auto-revert trigger firing
func (l *auditLogger) LogTriggerFired(ctx context.Context, runID, trigger, reason string) error {
	event := NewEvent(EventTriggerFired).
		WithRunID(runID).
		WithTrigger(trigger).
		WithReason(reason).
		WithResult(ResultSuccess).
		WithDescription(fmt.Sprintf("Revert trigger %s fired: %s", trigger, reason))

	return l.Log(ctx, event)
}

// Sync flushes buffered log entries
func (l *auditLogger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.flushLocked(); err != nil {
		return err
	}

	return l.sink.Sync()
}

// Close closes the audit logger
func (l *auditLogger) Close() error {
	l.stopOnce.Do(func() {
		close(l.stopCh)
		l.flushTicker.Stop()
	})

	return l.Sync()
}
