// Package cutover implements the cutover orchestrator: the phase state
// machine that replaces a running production version with a new one.
//
// Responsibilities:
//   - Sequence readiness checking, standby deployment, health verification,
//     canary-or-direct promotion, and post-promotion verification
//   - Drive the canary progression loop, consulting the revert manager on
//     every cycle
//   - Convert phase-local failures into structured results; reserve errors
//     for truly unexpected faults, after a best-effort emergency revert
//   - Record every phase transition as a durable deployment event
//
// One orchestrator drives one deployment target. Execute is single-flight:
// callers must serialize cutovers per target. EmergencyStop is the one entry
// point safe to call concurrently with an in-progress run.
package cutover

import (
	"context"

	"github.com/kubilitics/cutover/internal/cutover/revert"
)

// Orchestrator runs cutover plans to completion.
type Orchestrator interface {
	// Execute runs the plan through the phase machine and returns its
	// terminal result. Expected failures (readiness blockers, deploy or
	// health failures, canary aborts) are reported in the Result with a nil
	// error. A non-nil error is always an *OrchestratorError and means an
	// unexpected fault occurred after an emergency revert was attempted.
	Execute(ctx context.Context, plan Plan) (*Result, error)

	// DryRun executes the plan with DryRun forced true: readiness is
	// evaluated and reported, no deployment action is taken.
	DryRun(ctx context.Context, plan Plan) (*Result, error)

	// EmergencyStop reverts to the previous version immediately. Safe to
	// call at any time, including mid-canary from another goroutine.
	EmergencyStop(ctx context.Context, reason string) (*revert.Result, error)

	// Phase returns the orchestrator's current phase.
	Phase() Phase
}
