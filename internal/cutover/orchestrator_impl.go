package cutover

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kubilitics/cutover/internal/audit"
	"github.com/kubilitics/cutover/internal/cutover/revert"
	"github.com/kubilitics/cutover/internal/db"
	"github.com/kubilitics/cutover/internal/deploy"
	"github.com/kubilitics/cutover/internal/metrics"
	"github.com/kubilitics/cutover/internal/readiness"
)

// Options carries the optional collaborators of an orchestrator. Store and
// Audit may be nil; runs still execute, they just leave no durable trace
// beyond the environment's event log.
type Options struct {
	Store db.Store
	Audit audit.Logger
	Log   *zap.Logger

	// CanaryInterval is the pause between canary loop iterations. Zero
	// means no pause, which is what tests want.
	CanaryInterval time.Duration
}

type orchestrator struct {
	controller deploy.Controller
	env        deploy.Environment
	readiness  readiness.Engine
	reverter   revert.Manager

	store          db.Store
	auditor        audit.Logger
	log            *zap.Logger
	canaryInterval time.Duration

	// now is swapped out by tests.
	now func() time.Time

	mu    sync.Mutex
	phase Phase
}

// NewOrchestrator wires a cutover orchestrator for one deployment target.
func NewOrchestrator(controller deploy.Controller, env deploy.Environment, engine readiness.Engine, reverter revert.Manager, opts *Options) Orchestrator {
	if opts == nil {
		opts = &Options{}
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &orchestrator{
		controller:     controller,
		env:            env,
		readiness:      engine,
		reverter:       reverter,
		store:          opts.Store,
		auditor:        opts.Audit,
		log:            log,
		canaryInterval: opts.CanaryInterval,
		now:            time.Now,
		phase:          PhaseIdle,
	}
}

func (o *orchestrator) Execute(ctx context.Context, plan Plan) (*Result, error) {
	if err := plan.Validate(); err != nil {
		return nil, &OrchestratorError{Code: CodeInvalidPlan, Phase: o.Phase(), Err: err}
	}
	if plan.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, plan.Timeout)
		defer cancel()
	}

	res := &Result{
		RunID:     uuid.NewString(),
		Phase:     PhaseIdle,
		StartedAt: o.now().UTC(),
		Events:    []deploy.Event{},
	}
	o.mu.Lock()
	o.phase = PhaseIdle
	o.mu.Unlock()

	o.reverter.SetRunID(res.RunID)
	if len(plan.RevertTriggers) > 0 {
		// Plan triggers are scoped to this run; the registry goes back to
		// its prior state once the run ends.
		defer o.restoreTriggers(o.reverter.Triggers())
		for _, t := range plan.RevertTriggers {
			o.reverter.AddTrigger(t)
		}
	}

	o.log.Info("cutover run starting",
		zap.String("run_id", res.RunID),
		zap.String("version", plan.Version),
		zap.Bool("dry_run", plan.DryRun),
		zap.Bool("skip_canary", plan.SkipCanary),
	)

	if err := o.run(ctx, plan, res); err != nil {
		// Unexpected fault. Abort to failed, attempt one emergency revert,
		// and keep the original error as the reported cause even when the
		// revert itself fails.
		o.setPhase(ctx, res, PhaseFailed)
		res.Outcome = OutcomeFailed
		res.Error = err.Error()
		o.emergencyRevert(ctx, res.RunID)
		o.finish(ctx, res, plan)

		code := CodeInternal
		if errors.Is(err, context.DeadlineExceeded) {
			code = CodeTimeout
		}
		return res, &OrchestratorError{Code: code, Phase: res.Phase, Err: err}
	}

	o.finish(ctx, res, plan)
	return res, nil
}

// restoreTriggers rewinds plan-scoped trigger overrides: entries the plan
// replaced get their saved config back, entries the plan introduced are
// removed. Cooldown bookkeeping for surviving triggers is untouched.
func (o *orchestrator) restoreTriggers(saved []revert.TriggerConfig) {
	keep := make(map[string]struct{}, len(saved))
	for _, t := range saved {
		keep[t.Name] = struct{}{}
	}
	for _, t := range o.reverter.Triggers() {
		if _, ok := keep[t.Name]; !ok {
			o.reverter.RemoveTrigger(t.Name)
		}
	}
	for _, t := range saved {
		o.reverter.AddTrigger(t)
	}
}

func (o *orchestrator) DryRun(ctx context.Context, plan Plan) (*Result, error) {
	plan.DryRun = true
	return o.Execute(ctx, plan)
}

func (o *orchestrator) EmergencyStop(ctx context.Context, reason string) (*revert.Result, error) {
	o.log.Warn("emergency stop requested", zap.String("reason", reason))
	rres, err := o.reverter.ExecuteRevert(ctx, reason)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	if rres.Success {
		o.phase = PhaseRolledBack
	} else {
		o.phase = PhaseFailed
	}
	o.mu.Unlock()

	o.persistRevert(ctx, "", rres)
	if o.auditor != nil {
		_ = o.auditor.LogRevertExecuted(ctx, "", reason, rres.Success, rres.Duration)
	}
	return rres, nil
}

func (o *orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// run is the execute body. Expected failure paths fill the result and return
// nil; a non-nil error means an unexpected fault the caller must recover.
func (o *orchestrator) run(ctx context.Context, plan Plan, res *Result) error {
	state, err := o.controller.DeploymentState(ctx)
	if err != nil {
		return fmt.Errorf("get deployment state: %w", err)
	}
	res.PreviousVersion = state.ActiveVersion

	if o.auditor != nil {
		_ = o.auditor.LogCutoverStarted(ctx, res.RunID, plan.Version, res.PreviousVersion)
	}
	o.logEvent(ctx, res, deploy.Event{
		ID:        uuid.NewString(),
		RunID:     res.RunID,
		Type:      deploy.EventCutoverStarted,
		Version:   plan.Version,
		Details:   map[string]string{"previous_version": res.PreviousVersion},
		Timestamp: o.now().UTC(),
	})

	// A dry run always evaluates readiness, that report is its entire point.
	if !plan.SkipReadinessCheck || plan.DryRun {
		o.setPhase(ctx, res, PhaseReadinessCheck)
		report, err := o.readiness.Report(ctx)
		if err != nil {
			return fmt.Errorf("generate readiness report: %w", err)
		}
		res.ReadinessReport = &report

		verdict := "go"
		if !report.Go {
			verdict = "no_go"
		}
		metrics.ReadinessReports.WithLabelValues(verdict).Inc()

		if plan.DryRun {
			o.setPhase(ctx, res, PhaseComplete)
			res.Success = true
			res.Outcome = OutcomeDryRun
			return nil
		}
		if !report.Go {
			o.failRun(ctx, res, "readiness check failed: "+strings.Join(report.BlockingReasons, "; "))
			return nil
		}
	} else if plan.DryRun {
		o.setPhase(ctx, res, PhaseComplete)
		res.Success = true
		res.Outcome = OutcomeDryRun
		return nil
	}

	o.setPhase(ctx, res, PhaseDeployStandby)
	if err := o.controller.DeployToStandby(ctx, plan.Version); err != nil {
		// Nothing has shifted yet, no revert needed.
		o.failRun(ctx, res, fmt.Sprintf("deploy to standby failed: %v", err))
		return nil
	}
	res.NewVersion = plan.Version

	o.setPhase(ctx, res, PhaseHealthCheck)
	hs, err := o.controller.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("standby health check: %w", err)
	}
	if !hs.Healthy {
		// No canary is active yet, a plain rollback suffices.
		if rbErr := o.controller.Rollback(ctx, "standby health check failed"); rbErr != nil {
			o.log.Warn("rollback after standby health failure failed", zap.Error(rbErr))
		}
		msg := "standby health check failed"
		if hs.Message != "" {
			msg += ": " + hs.Message
		}
		o.failRun(ctx, res, msg)
		return nil
	}

	if plan.SkipCanary {
		o.setPhase(ctx, res, PhasePromoting)
		if err := o.controller.Promote(ctx); err != nil {
			o.failRun(ctx, res, fmt.Sprintf("promotion failed: %v", err))
			return nil
		}
		res.Outcome = OutcomePromoted
	} else {
		cfg := plan.canaryOrDefault()

		o.setPhase(ctx, res, PhaseCanaryStart)
		if err := o.controller.StartCanary(ctx, deploy.CanarySettings{
			InitialPercentage: cfg.InitialPercentage,
			MaxPercentage:     cfg.MaxPercentage,
			StepPercentage:    cfg.StepPercentage,
		}); err != nil {
			reason := fmt.Sprintf("canary start failed: %v", err)
			rres, rerr := o.reverter.ExecuteRevert(ctx, reason)
			if rerr != nil {
				o.log.Error("revert after canary start failure errored", zap.Error(rerr))
			} else {
				o.persistRevert(ctx, res.RunID, rres)
			}
			o.setPhase(ctx, res, PhaseRolledBack)
			res.Outcome = OutcomeRolledBack
			res.Error = reason
			return nil
		}
		metrics.CanaryPercentage.Set(float64(cfg.InitialPercentage))
		o.logEvent(ctx, res, deploy.Event{
			ID:      uuid.NewString(),
			RunID:   res.RunID,
			Type:    deploy.EventCanaryStarted,
			Phase:   string(PhaseCanaryStart),
			Version: plan.Version,
			Details: map[string]string{
				"initial_percentage": fmt.Sprintf("%d", cfg.InitialPercentage),
				"max_percentage":     fmt.Sprintf("%d", cfg.MaxPercentage),
			},
			Timestamp: o.now().UTC(),
		})

		o.setPhase(ctx, res, PhaseCanaryMonitor)
		loopOutcome, failReason, err := o.runCanary(ctx, res, cfg)
		metrics.CanaryPercentage.Set(0)
		if err != nil {
			return err
		}
		if failReason != "" {
			o.setPhase(ctx, res, PhaseRolledBack)
			res.Outcome = OutcomeRolledBack
			res.Error = failReason
			return nil
		}

		o.setPhase(ctx, res, PhasePromoting)
		if err := o.controller.Promote(ctx); err != nil {
			// Distinct from a canary failure: the canary passed, the final
			// shift to full traffic did not.
			o.failRun(ctx, res, fmt.Sprintf("canary succeeded but promotion failed: %v", err))
			return nil
		}
		if loopOutcome == canaryExhausted {
			res.Outcome = OutcomePromotedByExhaustion
		} else {
			res.Outcome = OutcomePromoted
		}
	}

	o.setPhase(ctx, res, PhaseVerification)
	hs, err = o.controller.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("post-promotion health check: %w", err)
	}
	if !hs.Healthy {
		// Health regressions that only manifest under full traffic.
		o.setPhase(ctx, res, PhaseRollingBack)
		rres, rerr := o.reverter.ExecuteRevert(ctx, "post-promotion health check failed")
		if rerr != nil {
			o.log.Error("post-promotion revert errored", zap.Error(rerr))
		} else {
			o.persistRevert(ctx, res.RunID, rres)
		}
		o.setPhase(ctx, res, PhaseRolledBack)
		res.Outcome = OutcomeRolledBack
		res.Error = "post-promotion health check failed"
		return nil
	}

	o.setPhase(ctx, res, PhaseComplete)
	res.Success = true
	return nil
}

// failRun terminates the run in the failed phase with the given error text.
func (o *orchestrator) failRun(ctx context.Context, res *Result, msg string) {
	o.setPhase(ctx, res, PhaseFailed)
	res.Outcome = OutcomeFailed
	res.Error = msg
}

// emergencyRevert is the top-level recovery attempt for unexpected faults.
// Its own failures are logged and swallowed so the original error stays the
// reported cause.
func (o *orchestrator) emergencyRevert(ctx context.Context, runID string) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("emergency revert panicked", zap.Any("panic", r))
		}
	}()
	rres, err := o.reverter.ExecuteRevert(ctx, "emergency revert after unexpected failure")
	if err != nil {
		o.log.Error("emergency revert failed", zap.Error(err))
		return
	}
	o.persistRevert(ctx, runID, rres)
}

func (o *orchestrator) setPhase(ctx context.Context, res *Result, next Phase) {
	o.mu.Lock()
	from := o.phase
	o.phase = next
	o.mu.Unlock()

	res.Phase = next
	metrics.PhaseTransitions.WithLabelValues(string(next)).Inc()

	o.logEvent(ctx, res, deploy.Event{
		ID:        uuid.NewString(),
		RunID:     res.RunID,
		Type:      deploy.EventPhaseTransition,
		Phase:     string(next),
		Details:   map[string]string{"from": string(from)},
		Timestamp: o.now().UTC(),
	})
	if o.auditor != nil {
		_ = o.auditor.LogPhaseTransition(ctx, res.RunID, string(from), string(next))
	}
	o.log.Debug("phase transition",
		zap.String("run_id", res.RunID),
		zap.String("from", string(from)),
		zap.String("to", string(next)),
	)
}

// logEvent accumulates the event into the result and appends it to the
// environment's durable log best-effort.
func (o *orchestrator) logEvent(ctx context.Context, res *Result, ev deploy.Event) {
	res.Events = append(res.Events, ev)
	if err := o.env.LogEvent(ctx, ev); err != nil {
		o.log.Warn("failed to log deployment event",
			zap.String("type", ev.Type),
			zap.Error(err),
		)
	}
}

func (o *orchestrator) finish(ctx context.Context, res *Result, plan Plan) {
	res.FinishedAt = o.now().UTC()

	metrics.CutoversTotal.WithLabelValues(string(res.Phase), string(res.Outcome)).Inc()
	metrics.CutoverDuration.WithLabelValues(string(res.Outcome)).Observe(res.Duration().Seconds())

	o.logEvent(ctx, res, deploy.Event{
		ID:      uuid.NewString(),
		RunID:   res.RunID,
		Type:    deploy.EventCutoverFinished,
		Phase:   string(res.Phase),
		Version: plan.Version,
		Reason:  res.Error,
		Details: map[string]string{
			"outcome": string(res.Outcome),
			"success": fmt.Sprintf("%t", res.Success),
		},
		Timestamp: res.FinishedAt,
	})

	if o.auditor != nil {
		if res.Success {
			_ = o.auditor.LogCutoverCompleted(ctx, res.RunID, plan.Version, res.Duration())
		} else {
			_ = o.auditor.LogCutoverFailed(ctx, res.RunID, string(res.Phase), errors.New(res.Error))
		}
	}

	if o.store != nil {
		rec := &db.RunRecord{
			ID:              res.RunID,
			TargetVersion:   plan.Version,
			PreviousVersion: res.PreviousVersion,
			Phase:           string(res.Phase),
			Outcome:         string(res.Outcome),
			Success:         res.Success,
			Error:           res.Error,
			DryRun:          plan.DryRun,
			StartedAt:       res.StartedAt,
			FinishedAt:      res.FinishedAt,
		}
		if err := o.store.SaveRun(ctx, rec); err != nil {
			o.log.Warn("failed to persist run record", zap.String("run_id", res.RunID), zap.Error(err))
		}
	}

	o.log.Info("cutover run finished",
		zap.String("run_id", res.RunID),
		zap.String("phase", string(res.Phase)),
		zap.String("outcome", string(res.Outcome)),
		zap.Bool("success", res.Success),
		zap.Duration("duration", res.Duration()),
	)
}

func (o *orchestrator) persistRevert(ctx context.Context, runID string, rres *revert.Result) {
	if o.store == nil || rres == nil {
		return
	}
	actions, _ := json.Marshal(rres.Actions)
	rec := &db.RevertRecord{
		RunID:             runID,
		Trigger:           rres.Trigger,
		Reason:            rres.Reason,
		Success:           rres.Success,
		Actions:           string(actions),
		PreviousVersion:   rres.PreviousVersion,
		RevertedToVersion: rres.RevertedToVersion,
		DurationMs:        rres.Duration.Milliseconds(),
		ExecutedAt:        rres.ExecutedAt,
	}
	if err := o.store.AppendRevert(ctx, rec); err != nil {
		o.log.Warn("failed to persist revert record", zap.Error(err))
	}
}
