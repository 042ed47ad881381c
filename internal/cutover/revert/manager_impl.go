package revert

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kubilitics/cutover/internal/deploy"
	"github.com/kubilitics/cutover/internal/metrics"
)

// manager is the concrete Manager implementation.
type manager struct {
	controller deploy.Controller
	env        deploy.Environment
	log        *zap.Logger

	// now is swapped out by tests to control cooldown windows.
	now func() time.Time

	mu          sync.Mutex
	triggers    []TriggerConfig
	lastFired   map[string]time.Time
	revertCount int
	runID       string
	strict      bool
}

// NewManager creates a revert manager with the given triggers. A nil trigger
// slice installs DefaultTriggers.
func NewManager(controller deploy.Controller, env deploy.Environment, log *zap.Logger, triggers []TriggerConfig) Manager {
	if log == nil {
		log = zap.NewNop()
	}
	if triggers == nil {
		triggers = DefaultTriggers()
	}
	m := &manager{
		controller: controller,
		env:        env,
		log:        log,
		now:        time.Now,
		lastFired:  make(map[string]time.Time),
	}
	for _, t := range triggers {
		m.AddTrigger(t)
	}
	return m
}

func (m *manager) AddTrigger(cfg TriggerConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, t := range m.triggers {
		if t.Name == cfg.Name {
			m.triggers[i] = cfg
			return
		}
	}
	m.triggers = append(m.triggers, cfg)
}

func (m *manager) RemoveTrigger(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, t := range m.triggers {
		if t.Name == name {
			m.triggers = append(m.triggers[:i], m.triggers[i+1:]...)
			delete(m.lastFired, name)
			return true
		}
	}
	return false
}

func (m *manager) Triggers() []TriggerConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TriggerConfig, len(m.triggers))
	copy(out, m.triggers)
	return out
}

func (m *manager) CheckTriggers(ctx context.Context) ([]TriggerState, error) {
	m.mu.Lock()
	triggers := make([]TriggerConfig, len(m.triggers))
	copy(triggers, m.triggers)
	fired := make(map[string]time.Time, len(m.lastFired))
	for k, v := range m.lastFired {
		fired[k] = v
	}
	m.mu.Unlock()

	states := make([]TriggerState, 0, len(triggers))
	for _, t := range triggers {
		value, err := m.env.MetricValue(ctx, t.Metric)
		if err != nil {
			return nil, fmt.Errorf("read metric %s for trigger %s: %w", t.Metric, t.Name, err)
		}
		triggered := value > t.Threshold
		metrics.TriggerEvaluations.WithLabelValues(t.Name, strconv.FormatBool(triggered)).Inc()
		states = append(states, TriggerState{
			Name:            t.Name,
			Metric:          t.Metric,
			CurrentValue:    value,
			Threshold:       t.Threshold,
			Triggered:       triggered,
			AutoRevert:      t.AutoRevert,
			LastTriggeredAt: fired[t.Name],
		})
	}
	return states, nil
}

func (m *manager) MonitorAndAutoRevert(ctx context.Context) (*Result, error) {
	states, err := m.CheckTriggers(ctx)
	if err != nil {
		return nil, err
	}

	for _, st := range states {
		if !st.Triggered || !st.AutoRevert {
			continue
		}

		// First eligible trigger decides the call: either it fires now or,
		// if still cooling down, nothing fires at all.
		cooldown := m.cooldownFor(st.Name)
		now := m.now()

		m.mu.Lock()
		last, firedBefore := m.lastFired[st.Name]
		if firedBefore && now.Sub(last) < cooldown {
			m.mu.Unlock()
			metrics.TriggerCooldownSkips.WithLabelValues(st.Name).Inc()
			m.log.Info("auto-revert suppressed by cooldown",
				zap.String("trigger", st.Name),
				zap.Duration("cooldown", cooldown),
				zap.Time("last_fired", last),
			)
			return nil, nil
		}
		m.lastFired[st.Name] = now
		runID := m.runID
		m.mu.Unlock()

		reason := fmt.Sprintf("trigger %s: %s %.2f exceeds threshold %.2f",
			st.Name, st.Metric, st.CurrentValue, st.Threshold)

		m.logEvent(ctx, deploy.Event{
			ID:     uuid.NewString(),
			RunID:  runID,
			Type:   deploy.EventTriggerFired,
			Reason: reason,
			Details: map[string]string{
				"trigger":       st.Name,
				"metric":        string(st.Metric),
				"current_value": fmt.Sprintf("%.4f", st.CurrentValue),
				"threshold":     fmt.Sprintf("%.4f", st.Threshold),
			},
			Timestamp: now.UTC(),
		})

		res, err := m.ExecuteRevert(ctx, reason)
		if res != nil {
			res.Trigger = st.Name
		}
		return res, err
	}

	return nil, nil
}

func (m *manager) ExecuteRevert(ctx context.Context, reason string) (*Result, error) {
	start := m.now()
	res := &Result{Reason: reason, ExecutedAt: start.UTC(), Actions: []string{}}

	fail := func(err error) (*Result, error) {
		res.Success = false
		res.Error = err.Error()
		res.Duration = m.now().Sub(start)
		metrics.RevertsTotal.WithLabelValues(res.Trigger, "false").Inc()
		m.log.Error("revert failed", zap.String("reason", reason), zap.Error(err))
		return res, nil
	}

	before, err := m.controller.DeploymentState(ctx)
	if err != nil {
		return fail(fmt.Errorf("get deployment state: %w", err))
	}
	res.PreviousVersion = before.ActiveVersion

	cs, err := m.controller.CanaryState(ctx)
	if err != nil {
		return fail(fmt.Errorf("get canary state: %w", err))
	}
	if cs.Active {
		if err := m.controller.AbortCanary(ctx, reason); err != nil {
			res.Actions = append(res.Actions, fmt.Sprintf("canary abort failed: %v", err))
		} else {
			res.Actions = append(res.Actions, "canary aborted")
		}
	}

	rollbackFailed := false
	if err := m.controller.Rollback(ctx, reason); err != nil {
		// Deliberate asymmetry: a failed rollback is a warning in Actions,
		// not an overall failure, unless strict mode is on. The log step
		// below still runs either way.
		rollbackFailed = true
		res.Actions = append(res.Actions, fmt.Sprintf("rollback failed: %v", err))
	} else {
		res.Actions = append(res.Actions, "rolled back to previous version")
	}

	after, err := m.controller.DeploymentState(ctx)
	if err != nil {
		return fail(fmt.Errorf("get post-rollback deployment state: %w", err))
	}
	res.RevertedToVersion = after.ActiveVersion

	m.mu.Lock()
	m.revertCount++
	count := m.revertCount
	runID := m.runID
	strict := m.strict
	m.mu.Unlock()

	actionsJSON, _ := json.Marshal(res.Actions)
	if err := m.env.LogEvent(ctx, deploy.Event{
		ID:     uuid.NewString(),
		RunID:  runID,
		Type:   deploy.EventRevertExecuted,
		Reason: reason,
		Details: map[string]string{
			"actions":             string(actionsJSON),
			"revert_count":        strconv.Itoa(count),
			"previous_version":    res.PreviousVersion,
			"reverted_to_version": res.RevertedToVersion,
		},
		Timestamp: m.now().UTC(),
	}); err != nil {
		return fail(fmt.Errorf("log revert event: %w", err))
	}

	res.Duration = m.now().Sub(start)
	res.Success = !(strict && rollbackFailed)

	metrics.RevertsTotal.WithLabelValues(res.Trigger, strconv.FormatBool(res.Success)).Inc()
	metrics.RevertDuration.Observe(res.Duration.Seconds())
	m.log.Info("revert executed",
		zap.String("reason", reason),
		zap.Bool("success", res.Success),
		zap.Strings("actions", res.Actions),
		zap.String("previous_version", res.PreviousVersion),
		zap.String("reverted_to_version", res.RevertedToVersion),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

func (m *manager) RevertCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revertCount
}

func (m *manager) ResetCooldowns() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastFired = make(map[string]time.Time)
}

func (m *manager) SetRunID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runID = id
}

func (m *manager) SetStrictRollbackFailure(strict bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strict = strict
}

// cooldownFor returns the configured cooldown for a trigger name.
func (m *manager) cooldownFor(name string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.triggers {
		if t.Name == name {
			return t.Cooldown
		}
	}
	return 0
}

// logEvent appends an event best-effort; trigger-fired records must not block
// the revert itself.
func (m *manager) logEvent(ctx context.Context, ev deploy.Event) {
	if err := m.env.LogEvent(ctx, ev); err != nil {
		m.log.Warn("failed to log deployment event",
			zap.String("type", ev.Type),
			zap.Error(err),
		)
	}
}
