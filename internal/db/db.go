package db

import (
	"context"
	"time"
)

// Store is the persistence interface for the cutover service. It backs the
// Environment's durable event log plus the run and revert history the admin
// API serves.
type Store interface {
	EventStore
	RunStore
	RevertStore

	// Close releases database resources.
	Close() error

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
}

// ─── Deployment events ────────────────────────────────────────────────────────

// EventRecord is a persisted deployment event. Append-only; rows are never
// updated after insertion.
type EventRecord struct {
	ID        int64     `json:"id"`
	EventID   string    `json:"event_id"`
	RunID     string    `json:"run_id"`
	Type      string    `json:"type"`
	Phase     string    `json:"phase"`
	Version   string    `json:"version"`
	Reason    string    `json:"reason"`
	Details   string    `json:"details"` // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

// EventQuery filters deployment events.
type EventQuery struct {
	RunID  string
	Type   string
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

// EventStore persists deployment events durably (at-least-once append).
type EventStore interface {
	// AppendEvent writes a single deployment event.
	AppendEvent(ctx context.Context, rec *EventRecord) error

	// QueryEvents retrieves events matching the query, newest first.
	QueryEvents(ctx context.Context, q EventQuery) ([]*EventRecord, error)
}

// ─── Cutover runs ─────────────────────────────────────────────────────────────

// RunRecord is the persisted terminal state of one cutover run.
type RunRecord struct {
	ID              string    `json:"id"`
	TargetVersion   string    `json:"target_version"`
	PreviousVersion string    `json:"previous_version"`
	Phase           string    `json:"phase"`
	Outcome         string    `json:"outcome"`
	Success         bool      `json:"success"`
	Error           string    `json:"error"`
	DryRun          bool      `json:"dry_run"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
}

// RunStore persists cutover run outcomes.
type RunStore interface {
	// SaveRun inserts or updates a run record by ID.
	SaveRun(ctx context.Context, rec *RunRecord) error

	// GetRun retrieves one run by ID.
	GetRun(ctx context.Context, id string) (*RunRecord, error)

	// ListRuns retrieves runs, newest first.
	ListRuns(ctx context.Context, limit, offset int) ([]*RunRecord, error)
}

// ─── Revert history ───────────────────────────────────────────────────────────

// RevertRecord is a persisted revert execution.
type RevertRecord struct {
	ID                int64     `json:"id"`
	RunID             string    `json:"run_id"`
	Trigger           string    `json:"trigger"` // empty for manual / orchestrator-initiated reverts
	Reason            string    `json:"reason"`
	Success           bool      `json:"success"`
	Actions           string    `json:"actions"` // JSON array of action strings
	PreviousVersion   string    `json:"previous_version"`
	RevertedToVersion string    `json:"reverted_to_version"`
	DurationMs        int64     `json:"duration_ms"`
	ExecutedAt        time.Time `json:"executed_at"`
}

// RevertStore persists revert executions for audit and dashboards.
type RevertStore interface {
	// AppendRevert writes a single revert record.
	AppendRevert(ctx context.Context, rec *RevertRecord) error

	// ListReverts retrieves reverts, newest first.
	ListReverts(ctx context.Context, limit int) ([]*RevertRecord, error)

	// CountReverts returns the total number of recorded reverts.
	CountReverts(ctx context.Context) (int, error)
}
