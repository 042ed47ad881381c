package audit

import "time"

// EventType represents the type of audit event
type EventType string

const (
	// Cutover lifecycle events
	EventCutoverStarted   EventType = "cutover.started"
	EventCutoverCompleted EventType = "cutover.completed"
	EventCutoverFailed    EventType = "cutover.failed"
	EventPhaseTransition  EventType = "cutover.phase_transition"

	// Canary events
	EventCanaryStarted  EventType = "canary.started"
	EventCanaryAdvanced EventType = "canary.advanced"
	EventCanaryAborted  EventType = "canary.aborted"

	// Revert events
	EventRevertExecuted EventType = "revert.executed"
	EventTriggerFired   EventType = "revert.trigger_fired"
	EventEmergencyStop  EventType = "revert.emergency_stop"

	// Configuration events
	EventConfigLoaded EventType = "config.loaded"
	EventConfigReload EventType = "config.reload"

	// System events
	EventServerStarted  EventType = "system.server_started"
	EventServerShutdown EventType = "system.server_shutdown"
)

// Result represents the outcome of an audited action
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultPending Result = "pending"
)

// Event represents a single audit event
type Event struct {
	// Core fields
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id"`
	EventType EventType `json:"event_type"`
	Result    Result    `json:"result"`

	// Deployment information
	Phase           string `json:"phase,omitempty"`
	Version         string `json:"version,omitempty"`
	PreviousVersion string `json:"previous_version,omitempty"`
	Trigger         string `json:"trigger,omitempty"`

	// Details
	Reason      string                 `json:"reason,omitempty"`
	Description string                 `json:"description,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`

	// Error information
	Error string `json:"error,omitempty"`

	// Duration tracking
	DurationMs int64 `json:"duration_ms,omitempty"`
}

// NewEvent creates a new audit event with default values
func NewEvent(eventType EventType) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Result:    ResultPending,
		Metadata:  make(map[string]interface{}),
	}
}

// WithRunID sets the cutover run this event belongs to
func (e *Event) WithRunID(id string) *Event {
	e.RunID = id
	return e
}

// WithPhase sets the orchestrator phase at event time
func (e *Event) WithPhase(phase string) *Event {
	e.Phase = phase
	return e
}

// WithVersions sets the target and previously active versions
func (e *Event) WithVersions(version, previous string) *Event {
	e.Version = version
	e.PreviousVersion = previous
	return e
}

// WithTrigger sets the revert trigger that caused the event
func (e *Event) WithTrigger(name string) *Event {
	e.Trigger = name
	return e
}

// WithReason sets the machine-readable reason
func (e *Event) WithReason(reason string) *Event {
	e.Reason = reason
	return e
}

// WithDescription sets a human-readable description
func (e *Event) WithDescription(desc string) *Event {
	e.Description = desc
	return e
}

// WithResult sets the result of the event
func (e *Event) WithResult(result Result) *Event {
	e.Result = result
	return e
}

// WithError sets error information
func (e *Event) WithError(err error) *Event {
	if err != nil {
		e.Error = err.Error()
		e.Result = ResultFailure
	}
	return e
}

// WithDuration sets the duration in milliseconds
func (e *Event) WithDuration(duration time.Duration) *Event {
	e.DurationMs = duration.Milliseconds()
	return e
}

// WithMetadata adds metadata to the event
func (e *Event) WithMetadata(key string, value interface{}) *Event {
	e.Metadata[key] = value
	return e
}
