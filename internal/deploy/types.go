package deploy

import (
	"fmt"
	"time"
)

// Slot identifies one half of the blue/green pair.
type Slot string

const (
	SlotBlue  Slot = "blue"
	SlotGreen Slot = "green"
)

// Other returns the opposite slot.
func (s Slot) Other() Slot {
	if s == SlotBlue {
		return SlotGreen
	}
	return SlotBlue
}

// DeploymentState is a snapshot of the slot pair.
type DeploymentState struct {
	ActiveSlot     Slot   `json:"active_slot"`
	ActiveVersion  string `json:"active_version"`
	StandbyVersion string `json:"standby_version"`
}

// HealthStatus is the result of one health probe.
type HealthStatus struct {
	Healthy bool              `json:"healthy"`
	Checks  map[string]string `json:"checks,omitempty"`
	Message string            `json:"message,omitempty"`
}

// CanarySettings configures a canary at start time. The controller owns the
// resulting CanaryState; the orchestrator only reads it back.
type CanarySettings struct {
	InitialPercentage uint `json:"initial_percentage"`
	MaxPercentage     uint `json:"max_percentage"`
	StepPercentage    uint `json:"step_percentage"`
}

// CanaryState is the live canary bookkeeping owned by the controller.
// ConsecutiveHealthChecks resets to zero on any unhealthy probe.
type CanaryState struct {
	Active                  bool `json:"active"`
	Percentage              uint `json:"percentage"`
	ConsecutiveHealthChecks int  `json:"consecutive_health_checks"`
}

// MetricKind enumerates the production metrics revert triggers evaluate.
type MetricKind string

const (
	MetricErrorRate            MetricKind = "error_rate"
	MetricP95Latency           MetricKind = "p95_latency"
	MetricP99Latency           MetricKind = "p99_latency"
	MetricDBConnectionFailures MetricKind = "db_connection_failures"
	MetricMemoryPressure       MetricKind = "memory_pressure"
	MetricCPUPressure          MetricKind = "cpu_pressure"
)

// MetricKinds lists every supported metric kind.
func MetricKinds() []MetricKind {
	return []MetricKind{
		MetricErrorRate,
		MetricP95Latency,
		MetricP99Latency,
		MetricDBConnectionFailures,
		MetricMemoryPressure,
		MetricCPUPressure,
	}
}

// ParseMetricKind validates a metric kind string.
func ParseMetricKind(s string) (MetricKind, error) {
	for _, k := range MetricKinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown metric kind %q", s)
}

// Event is an append-only audit record of a phase transition or revert
// action. Never mutated after creation.
type Event struct {
	ID        string            `json:"id"`
	RunID     string            `json:"run_id"`
	Type      string            `json:"type"`
	Phase     string            `json:"phase,omitempty"`
	Version   string            `json:"version,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Event types recorded by the core.
const (
	EventPhaseTransition = "phase_transition"
	EventCanaryStarted   = "canary_started"
	EventCanaryAdvanced  = "canary_advanced"
	EventCanaryAborted   = "canary_aborted"
	EventRevertExecuted  = "revert_executed"
	EventTriggerFired    = "trigger_fired"
	EventCutoverStarted  = "cutover_started"
	EventCutoverFinished = "cutover_finished"
)
