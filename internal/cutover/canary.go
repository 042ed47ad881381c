package cutover

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kubilitics/cutover/internal/deploy"
	"github.com/kubilitics/cutover/internal/metrics"
)

// canaryOutcome distinguishes how the progression loop succeeded.
type canaryOutcome int

const (
	// canaryReady means the controller declared the canary ready for
	// promotion before the step budget ran out.
	canaryReady canaryOutcome = iota

	// canaryExhausted means the loop spent its full step budget without a
	// disqualifying signal. Treated as success, but tagged so the final
	// result can distinguish it from confident readiness.
	canaryExhausted
)

// runCanary drives the canary progression loop once per promotion attempt.
// A non-empty failReason means the canary failed and the run must terminate
// rolled back; a non-nil error is an unexpected fault.
func (o *orchestrator) runCanary(ctx context.Context, res *Result, cfg CanaryConfig) (outcome canaryOutcome, failReason string, err error) {
	maxSteps := 0
	if cfg.StepPercentage > 0 && cfg.MaxPercentage > cfg.InitialPercentage {
		span := float64(cfg.MaxPercentage - cfg.InitialPercentage)
		maxSteps = int(math.Ceil(span / float64(cfg.StepPercentage)))
	}

	o.log.Info("canary loop starting",
		zap.String("run_id", res.RunID),
		zap.Uint("initial_percentage", cfg.InitialPercentage),
		zap.Uint("max_percentage", cfg.MaxPercentage),
		zap.Uint("step_percentage", cfg.StepPercentage),
		zap.Int("max_steps", maxSteps),
	)

	for step := 0; step <= maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return 0, "", fmt.Errorf("canary loop interrupted at step %d: %w", step, err)
		}

		hs, err := o.controller.HealthCheck(ctx)
		if err != nil {
			return 0, "", fmt.Errorf("canary health check at step %d: %w", step, err)
		}
		if !hs.Healthy && cfg.RollbackOnFailure {
			reason := "canary health check failed"
			if hs.Message != "" {
				reason += ": " + hs.Message
			}
			metrics.CanaryStepsTotal.WithLabelValues("aborted").Inc()
			if abortErr := o.controller.AbortCanary(ctx, reason); abortErr != nil {
				o.log.Warn("canary abort failed", zap.Error(abortErr))
			}
			o.logEvent(ctx, res, deploy.Event{
				ID:        uuid.NewString(),
				RunID:     res.RunID,
				Type:      deploy.EventCanaryAborted,
				Phase:     string(PhaseCanaryMonitor),
				Reason:    reason,
				Timestamp: o.now().UTC(),
			})
			return 0, reason, nil
		}

		rres, err := o.reverter.MonitorAndAutoRevert(ctx)
		if err != nil {
			return 0, "", fmt.Errorf("trigger evaluation at step %d: %w", step, err)
		}
		if rres != nil {
			o.persistRevert(ctx, res.RunID, rres)
			if o.auditor != nil {
				_ = o.auditor.LogTriggerFired(ctx, res.RunID, rres.Trigger, rres.Reason)
			}
			metrics.CanaryStepsTotal.WithLabelValues("aborted").Inc()
			return 0, rres.Reason, nil
		}

		ready, err := o.controller.CanaryReadyForPromotion(ctx)
		if err != nil {
			return 0, "", fmt.Errorf("canary readiness query at step %d: %w", step, err)
		}
		if ready {
			o.log.Info("canary ready for promotion", zap.String("run_id", res.RunID), zap.Int("step", step))
			return canaryReady, "", nil
		}

		cs, err := o.controller.CanaryState(ctx)
		if err != nil {
			return 0, "", fmt.Errorf("canary state at step %d: %w", step, err)
		}
		metrics.CanaryPercentage.Set(float64(cs.Percentage))

		if cs.ConsecutiveHealthChecks >= cfg.RequiredHealthChecks && cs.Percentage < cfg.MaxPercentage {
			if err := o.controller.AdvanceCanary(ctx); err != nil {
				return 0, "", fmt.Errorf("advance canary at step %d: %w", step, err)
			}
			metrics.CanaryStepsTotal.WithLabelValues("advanced").Inc()
			o.logEvent(ctx, res, deploy.Event{
				ID:        uuid.NewString(),
				RunID:     res.RunID,
				Type:      deploy.EventCanaryAdvanced,
				Phase:     string(PhaseCanaryMonitor),
				Details:   map[string]string{"step": fmt.Sprintf("%d", step)},
				Timestamp: o.now().UTC(),
			})
		} else {
			metrics.CanaryStepsTotal.WithLabelValues("held").Inc()
		}

		if o.canaryInterval > 0 && step < maxSteps {
			if err := sleepCtx(ctx, o.canaryInterval); err != nil {
				return 0, "", fmt.Errorf("canary loop interrupted at step %d: %w", step, err)
			}
		}
	}

	// Reaching the ceiling without a disqualifying signal counts as a pass.
	o.log.Info("canary step budget exhausted without failure",
		zap.String("run_id", res.RunID),
		zap.Int("max_steps", maxSteps),
	)
	return canaryExhausted, "", nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
