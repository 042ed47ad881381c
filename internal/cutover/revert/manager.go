// Package revert provides the instant revert manager for cutover runs.
//
// Responsibilities:
//   - Own the registry of metric-threshold revert triggers
//   - Evaluate live metrics against thresholds (usable by dashboards, not
//     only automation)
//   - Execute the canonical recovery sequence: abort canary, roll back,
//     log a structured event
//   - Enforce per-trigger cooldown windows so one noisy metric cannot
//     thrash the deployment
//   - Track a running revert counter for observability
//
// Cooldown timestamps live in a map owned by each Manager instance, never in
// package state: two orchestrators driving two services must not share
// cooldown bookkeeping.
//
// Revert success semantics: a revert reports Success=true unless deployment
// state retrieval or event logging fails. A failed underlying rollback alone
// only appends a warning to Actions. Callers that cannot tolerate that
// asymmetry enable strict mode, which flips Success when the rollback fails.
package revert

import (
	"context"
	"time"

	"github.com/kubilitics/cutover/internal/deploy"
)

// TriggerConfig is one metric-threshold revert rule.
type TriggerConfig struct {
	// Name uniquely identifies the trigger; re-adding an existing name
	// replaces the previous config.
	Name string `json:"name"`

	// Metric is the production metric this trigger watches.
	Metric deploy.MetricKind `json:"metric"`

	// Threshold fires the trigger when the current value exceeds it.
	Threshold float64 `json:"threshold"`

	// AutoRevert executes a revert when the trigger fires. Triggers without
	// it are informational only.
	AutoRevert bool `json:"auto_revert"`

	// Cooldown is the minimum time between two auto-reverts caused by this
	// trigger.
	Cooldown time.Duration `json:"cooldown"`
}

// TriggerState is the computed evaluation of one trigger. Never stored.
type TriggerState struct {
	Name            string            `json:"name"`
	Metric          deploy.MetricKind `json:"metric"`
	CurrentValue    float64           `json:"current_value"`
	Threshold       float64           `json:"threshold"`
	Triggered       bool              `json:"triggered"`
	AutoRevert      bool              `json:"auto_revert"`
	LastTriggeredAt time.Time         `json:"last_triggered_at,omitempty"`
}

// Result is the terminal record of one revert execution.
type Result struct {
	Success           bool          `json:"success"`
	Reason            string        `json:"reason"`
	Trigger           string        `json:"trigger,omitempty"`
	Duration          time.Duration `json:"duration"`
	Actions           []string      `json:"actions"`
	PreviousVersion   string        `json:"previous_version"`
	RevertedToVersion string        `json:"reverted_to_version"`
	Error             string        `json:"error,omitempty"`
	ExecutedAt        time.Time     `json:"executed_at"`
}

// Manager is the instant revert manager.
type Manager interface {
	// AddTrigger registers a trigger, replacing any existing trigger of the
	// same name.
	AddTrigger(cfg TriggerConfig)

	// RemoveTrigger deletes a trigger by name. Returns false when no trigger
	// with that name exists.
	RemoveTrigger(name string) bool

	// Triggers returns a copy of the registry in registration order.
	Triggers() []TriggerConfig

	// CheckTriggers evaluates every trigger against live metrics, regardless
	// of auto-revert eligibility.
	CheckTriggers(ctx context.Context) ([]TriggerState, error)

	// MonitorAndAutoRevert evaluates triggers and executes a revert for the
	// first triggered auto-revert trigger whose cooldown has elapsed. Returns
	// nil when no eligible trigger fired or the eligible trigger is still
	// cooling down. At most one trigger fires per call.
	MonitorAndAutoRevert(ctx context.Context) (*Result, error)

	// ExecuteRevert runs the canonical recovery sequence for the given
	// reason.
	ExecuteRevert(ctx context.Context, reason string) (*Result, error)

	// RevertCount returns the number of reverts executed by this manager.
	RevertCount() int

	// ResetCooldowns clears all cooldown bookkeeping, typically after the
	// deployment has stabilized.
	ResetCooldowns()

	// SetRunID tags subsequent revert events with the given cutover run.
	SetRunID(id string)

	// SetStrictRollbackFailure controls whether a failed underlying rollback
	// flips the revert's overall Success flag. Off by default.
	SetStrictRollbackFailure(strict bool)
}

// DefaultTriggers returns the trigger set applied when a plan omits its own.
func DefaultTriggers() []TriggerConfig {
	return []TriggerConfig{
		{Name: "high_error_rate", Metric: deploy.MetricErrorRate, Threshold: 5.0, AutoRevert: true, Cooldown: 5 * time.Minute},
		{Name: "p99_latency_spike", Metric: deploy.MetricP99Latency, Threshold: 1000.0, AutoRevert: true, Cooldown: 5 * time.Minute},
		{Name: "db_connection_failures", Metric: deploy.MetricDBConnectionFailures, Threshold: 10.0, AutoRevert: true, Cooldown: 5 * time.Minute},
		{Name: "p95_latency_spike", Metric: deploy.MetricP95Latency, Threshold: 500.0, AutoRevert: false, Cooldown: 5 * time.Minute},
		{Name: "memory_pressure", Metric: deploy.MetricMemoryPressure, Threshold: 90.0, AutoRevert: false, Cooldown: 10 * time.Minute},
		{Name: "cpu_pressure", Metric: deploy.MetricCPUPressure, Threshold: 90.0, AutoRevert: false, Cooldown: 10 * time.Minute},
	}
}
