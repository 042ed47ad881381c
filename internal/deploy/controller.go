// Package deploy defines the capability surface the cutover core requires
// from its deployment collaborator.
//
// Responsibilities:
//   - Describe the blue/green slot pair and which slot carries traffic
//   - Place a new version into the standby slot without touching live traffic
//   - Probe health of whatever currently serves (or is about to serve) traffic
//   - Promote the standby slot to active, or roll back to the previous version
//   - Drive a canary: start, advance, abort, and report readiness
//   - Expose live production metrics on the same scale as revert thresholds
//   - Durably append deployment events (at-least-once)
//
// The orchestrator and revert manager never mutate slot or canary state
// directly; every mutation goes through these methods. That discipline is the
// only thing preventing divergent views of what is currently deployed.
package deploy

import "context"

// Controller manages the blue/green slot pair and the canary for one service.
type Controller interface {
	// DeploymentState returns the current slot assignment and versions.
	DeploymentState(ctx context.Context) (DeploymentState, error)

	// DeployToStandby places version into the inactive slot. Live traffic is
	// unaffected regardless of outcome.
	DeployToStandby(ctx context.Context, version string) error

	// HealthCheck probes the deployment. During a standby verification this
	// targets the standby slot; after promotion it targets the active slot.
	HealthCheck(ctx context.Context) (HealthStatus, error)

	// Promote makes the standby slot active, shifting 100% of traffic.
	Promote(ctx context.Context) error

	// Rollback restores the previously active version.
	Rollback(ctx context.Context, reason string) error

	// StartCanary begins routing the configured initial percentage of traffic
	// to the standby slot.
	StartCanary(ctx context.Context, settings CanarySettings) error

	// AdvanceCanary raises the canary traffic share by the configured step,
	// capped at the configured maximum.
	AdvanceCanary(ctx context.Context) error

	// AbortCanary stops the canary and returns all traffic to the active slot.
	AbortCanary(ctx context.Context, reason string) error

	// CanaryState returns the live canary bookkeeping.
	CanaryState(ctx context.Context) (CanaryState, error)

	// CanaryReadyForPromotion reports whether the controller considers the
	// canary to have proven itself ahead of schedule.
	CanaryReadyForPromotion(ctx context.Context) (bool, error)
}

// Environment exposes live production metrics and the durable event log.
type Environment interface {
	// MetricValue returns the current reading for the given metric kind, on
	// the same scale as the corresponding revert trigger threshold.
	MetricValue(ctx context.Context, kind MetricKind) (float64, error)

	// LogEvent durably appends a deployment event. At-least-once; callers
	// tolerate duplicates.
	LogEvent(ctx context.Context, event Event) error
}
