package local

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kubilitics/cutover/internal/db"
	"github.com/kubilitics/cutover/internal/deploy"
	"github.com/kubilitics/cutover/internal/metrics"
)

// MetricFunc supplies a live metric reading. Returning false falls through
// to the environment's static values.
type MetricFunc func(ctx context.Context, kind deploy.MetricKind) (float64, bool)

// Environment implements deploy.Environment on top of the event store.
// Metric readings come from an injected MetricFunc or from static values set
// by the admin API.
type Environment struct {
	mu sync.Mutex

	log      *zap.Logger
	store    db.EventStore
	values   map[deploy.MetricKind]float64
	metricFn MetricFunc
	notify   func(deploy.Event)
}

// NewEnvironment wires an environment. store may be nil, in which case
// events are log-only and not durable.
func NewEnvironment(store db.EventStore, log *zap.Logger) *Environment {
	if log == nil {
		log = zap.NewNop()
	}
	return &Environment{
		log:    log,
		store:  store,
		values: make(map[deploy.MetricKind]float64),
	}
}

// SetMetric sets a static reading for one metric.
func (e *Environment) SetMetric(kind deploy.MetricKind, value float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.values[kind] = value
}

// SetMetricFunc installs a live metric source consulted before static values.
func (e *Environment) SetMetricFunc(fn MetricFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metricFn = fn
}

// OnEvent registers a callback invoked after every durable append. Used by
// the server to fan events out to websocket subscribers.
func (e *Environment) OnEvent(fn func(deploy.Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notify = fn
}

func (e *Environment) MetricValue(ctx context.Context, kind deploy.MetricKind) (float64, error) {
	e.mu.Lock()
	fn := e.metricFn
	value := e.values[kind]
	e.mu.Unlock()

	if fn != nil {
		if v, ok := fn(ctx, kind); ok {
			return v, nil
		}
	}
	return value, nil
}

func (e *Environment) LogEvent(ctx context.Context, ev deploy.Event) error {
	if e.store != nil {
		details := ""
		if len(ev.Details) > 0 {
			b, err := json.Marshal(ev.Details)
			if err != nil {
				return fmt.Errorf("marshal event details: %w", err)
			}
			details = string(b)
		}
		rec := &db.EventRecord{
			EventID:   ev.ID,
			RunID:     ev.RunID,
			Type:      ev.Type,
			Phase:     ev.Phase,
			Version:   ev.Version,
			Reason:    ev.Reason,
			Details:   details,
			Timestamp: ev.Timestamp,
		}
		if err := e.store.AppendEvent(ctx, rec); err != nil {
			return fmt.Errorf("append deployment event: %w", err)
		}
	}

	metrics.EventsLogged.WithLabelValues(ev.Type).Inc()

	e.mu.Lock()
	notify := e.notify
	e.mu.Unlock()
	if notify != nil {
		notify(ev)
	}

	e.log.Debug("deployment event logged",
		zap.String("type", ev.Type),
		zap.String("run_id", ev.RunID),
		zap.String("phase", ev.Phase),
	)
	return nil
}
