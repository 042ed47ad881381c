package cutover

import (
	"fmt"
	"time"

	"github.com/kubilitics/cutover/internal/cutover/revert"
	"github.com/kubilitics/cutover/internal/deploy"
	"github.com/kubilitics/cutover/internal/readiness"
)

// Phase is the orchestrator's position in the cutover state machine.
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseReadinessCheck Phase = "readiness_check"
	PhaseDeployStandby  Phase = "deploy_standby"
	PhaseHealthCheck    Phase = "health_check"
	PhaseCanaryStart    Phase = "canary_start"
	PhaseCanaryMonitor  Phase = "canary_monitoring"
	PhasePromoting      Phase = "promoting"
	PhaseVerification   Phase = "verification"
	PhaseComplete       Phase = "complete"
	PhaseRollingBack    Phase = "rolling_back"
	PhaseRolledBack     Phase = "rolled_back"
	PhaseFailed         Phase = "failed"
)

// Outcome tags how a run terminated. Exhausting the canary's step budget
// without a disqualifying signal still promotes, but carries its own tag so
// operators can tell confident success from "ran out of steps".
type Outcome string

const (
	OutcomePromoted             Outcome = "promoted"
	OutcomePromotedByExhaustion Outcome = "promoted_by_exhaustion"
	OutcomeFailed               Outcome = "failed"
	OutcomeRolledBack           Outcome = "rolled_back"
	OutcomeDryRun               Outcome = "dry_run"
)

// CanaryConfig controls the incremental traffic shift before full promotion.
type CanaryConfig struct {
	// InitialPercentage is the traffic share the canary starts at.
	InitialPercentage uint `json:"initial_percentage"`

	// MaxPercentage is the ceiling the canary may reach before promotion.
	MaxPercentage uint `json:"max_percentage"`

	// StepPercentage is the increment applied on each advancement.
	StepPercentage uint `json:"step_percentage"`

	// RequiredHealthChecks is the number of consecutive healthy checks the
	// controller must report before the percentage may advance.
	RequiredHealthChecks int `json:"required_health_checks"`

	// RollbackOnFailure aborts the canary on the first unhealthy check
	// instead of retrying.
	RollbackOnFailure bool `json:"rollback_on_failure"`
}

// Validate rejects configs the progression loop cannot run with.
func (c CanaryConfig) Validate() error {
	if c.InitialPercentage > 100 || c.MaxPercentage > 100 {
		return fmt.Errorf("canary percentages must be within 0-100 (initial=%d, max=%d)",
			c.InitialPercentage, c.MaxPercentage)
	}
	if c.InitialPercentage > c.MaxPercentage {
		return fmt.Errorf("canary initial percentage %d exceeds max percentage %d",
			c.InitialPercentage, c.MaxPercentage)
	}
	if c.StepPercentage == 0 && c.MaxPercentage > c.InitialPercentage {
		return fmt.Errorf("canary step percentage must be positive to reach %d from %d",
			c.MaxPercentage, c.InitialPercentage)
	}
	if c.RequiredHealthChecks < 0 {
		return fmt.Errorf("required health checks must not be negative, got %d", c.RequiredHealthChecks)
	}
	return nil
}

// DefaultCanaryConfig is applied when a plan carries a zero-value canary
// config and does not skip the canary.
func DefaultCanaryConfig() CanaryConfig {
	return CanaryConfig{
		InitialPercentage:    10,
		MaxPercentage:        50,
		StepPercentage:       20,
		RequiredHealthChecks: 2,
		RollbackOnFailure:    true,
	}
}

// Plan is the immutable input to one cutover run.
type Plan struct {
	// Version identifies the artifact to deploy.
	Version string `json:"version"`

	// Canary configures the progression loop. Zero value gets defaults.
	Canary CanaryConfig `json:"canary"`

	// RevertTriggers overrides the manager's trigger registry for this run
	// only; the registry is restored when the run ends. Empty keeps
	// whatever the manager already holds.
	RevertTriggers []revert.TriggerConfig `json:"revert_triggers,omitempty"`

	// SkipReadinessCheck bypasses the go/no-go gate.
	SkipReadinessCheck bool `json:"skip_readiness_check"`

	// SkipCanary promotes directly after the standby health check.
	SkipCanary bool `json:"skip_canary"`

	// DryRun evaluates readiness and stops before any deployment action.
	DryRun bool `json:"dry_run"`

	// Timeout bounds the whole run. Zero means no deadline.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Validate rejects plans execute cannot act on.
func (p Plan) Validate() error {
	if p.Version == "" {
		return fmt.Errorf("plan version must not be empty")
	}
	if !p.SkipCanary {
		if err := p.canaryOrDefault().Validate(); err != nil {
			return err
		}
	}
	if p.Timeout < 0 {
		return fmt.Errorf("plan timeout must not be negative")
	}
	return nil
}

func (p Plan) canaryOrDefault() CanaryConfig {
	if p.Canary == (CanaryConfig{}) {
		return DefaultCanaryConfig()
	}
	return p.Canary
}

// Result is the terminal record of one execute call. Produced exactly once,
// never mutated afterwards.
type Result struct {
	RunID   string  `json:"run_id"`
	Success bool    `json:"success"`
	Phase   Phase   `json:"phase"`
	Outcome Outcome `json:"outcome"`

	// PreviousVersion is the version active before this run began,
	// regardless of outcome.
	PreviousVersion string `json:"previous_version"`

	// NewVersion is the plan's target version once it was deployed, even
	// when the run later rolled back.
	NewVersion string `json:"new_version,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Events          []deploy.Event    `json:"events"`
	ReadinessReport *readiness.Report `json:"readiness_report,omitempty"`
	Error           string            `json:"error,omitempty"`
}

// Duration is the wall-clock span of the run.
func (r *Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
