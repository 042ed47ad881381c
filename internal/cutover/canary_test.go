package cutover

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/kubilitics/cutover/internal/cutover/revert"
	"github.com/kubilitics/cutover/internal/deploy"
)

func TestCanary_StepBound(t *testing.T) {
	ctrl := &stubController{active: "v1", activeSlot: deploy.SlotBlue}
	o := newTestOrchestrator(ctrl, &stubEnv{}, goEngine())

	res, err := o.Execute(context.Background(), Plan{
		Version: "v2",
		Canary: CanaryConfig{
			InitialPercentage:    10,
			MaxPercentage:        100,
			StepPercentage:       30,
			RequiredHealthChecks: 0,
		},
	})
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %q in phase %s", res.Error, res.Phase)
	}
	// ceil((100-10)/30) = 3 advancement steps: 10 -> 40 -> 70 -> 100.
	if got := ctrl.called("AdvanceCanary"); got != 3 {
		t.Errorf("expected exactly 3 advancement steps, got %d", got)
	}
	if ctrl.maxSeenPercentage > 100 {
		t.Errorf("canary percentage exceeded 100: %d", ctrl.maxSeenPercentage)
	}
	if res.Outcome != OutcomePromotedByExhaustion {
		t.Errorf("expected promoted_by_exhaustion, got %s", res.Outcome)
	}
}

func TestCanary_AdvanceGatedOnConsecutiveHealthChecks(t *testing.T) {
	ctrl := &stubController{active: "v1", activeSlot: deploy.SlotBlue}
	o := newTestOrchestrator(ctrl, &stubEnv{}, goEngine())

	res, err := o.Execute(context.Background(), Plan{
		Version: "v2",
		Canary: CanaryConfig{
			InitialPercentage:    10,
			MaxPercentage:        50,
			StepPercentage:       20,
			RequiredHealthChecks: 2,
		},
	})
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %q in phase %s", res.Error, res.Phase)
	}
	// First iteration holds (one healthy check so far), the next two advance.
	if got := ctrl.called("AdvanceCanary"); got != 2 {
		t.Errorf("expected 2 advancement steps, got %d", got)
	}
	if ctrl.maxSeenPercentage != 50 {
		t.Errorf("expected canary to reach 50, got %d", ctrl.maxSeenPercentage)
	}
}

func TestCanary_RollbackOnFailureAborts(t *testing.T) {
	// Standby probe healthy, first canary probe unhealthy.
	ctrl := &stubController{
		active:      "v1",
		activeSlot:  deploy.SlotBlue,
		healthQueue: []bool{true, false},
	}
	o := newTestOrchestrator(ctrl, &stubEnv{}, goEngine())

	res, err := o.Execute(context.Background(), Plan{
		Version: "v2",
		Canary: CanaryConfig{
			InitialPercentage:    10,
			MaxPercentage:        50,
			StepPercentage:       20,
			RequiredHealthChecks: 1,
			RollbackOnFailure:    true,
		},
	})
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if res.Phase != PhaseRolledBack {
		t.Errorf("expected phase rolled_back, got %s", res.Phase)
	}
	if ctrl.called("AbortCanary") != 1 {
		t.Errorf("expected one canary abort, got %d", ctrl.called("AbortCanary"))
	}
	if ctrl.called("Promote") != 0 {
		t.Error("promote must not run after a canary abort")
	}
	if !strings.Contains(res.Error, "canary health check failed") {
		t.Errorf("expected canary failure reason, got %q", res.Error)
	}
}

func TestCanary_UnhealthyWithoutRollbackOnFailureRetries(t *testing.T) {
	// One unhealthy canary probe mid-run; loop keeps going and eventually
	// exhausts its budget.
	ctrl := &stubController{
		active:      "v1",
		activeSlot:  deploy.SlotBlue,
		healthQueue: []bool{true, false, true, true, true},
	}
	o := newTestOrchestrator(ctrl, &stubEnv{}, goEngine())

	res, err := o.Execute(context.Background(), Plan{
		Version: "v2",
		Canary: CanaryConfig{
			InitialPercentage:    10,
			MaxPercentage:        30,
			StepPercentage:       10,
			RequiredHealthChecks: 1,
			RollbackOnFailure:    false,
		},
	})
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %q in phase %s", res.Error, res.Phase)
	}
	if ctrl.called("AbortCanary") != 0 {
		t.Error("loop must not abort when rollback-on-failure is off")
	}
}

func TestCanary_EarlyExitOnReady(t *testing.T) {
	ctrl := &stubController{
		active:     "v1",
		activeSlot: deploy.SlotBlue,
		readyAt:    10,
	}
	o := newTestOrchestrator(ctrl, &stubEnv{}, goEngine())

	res, err := o.Execute(context.Background(), Plan{
		Version: "v2",
		Canary: CanaryConfig{
			InitialPercentage:    10,
			MaxPercentage:        100,
			StepPercentage:       30,
			RequiredHealthChecks: 0,
		},
	})
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %q in phase %s", res.Error, res.Phase)
	}
	if res.Outcome != OutcomePromoted {
		t.Errorf("expected confident promoted outcome, got %s", res.Outcome)
	}
	if ctrl.called("AdvanceCanary") != 0 {
		t.Error("loop must exit before advancing once the controller reports ready")
	}
}

func TestCanary_TriggerRevertDuringCanary(t *testing.T) {
	ctrl := &stubController{active: "v1", activeSlot: deploy.SlotBlue}
	env := &stubEnv{values: map[deploy.MetricKind]float64{deploy.MetricErrorRate: 12.0}}
	o := newTestOrchestrator(ctrl, env, goEngine())

	res, err := o.Execute(context.Background(), Plan{
		Version: "v2",
		Canary: CanaryConfig{
			InitialPercentage:    10,
			MaxPercentage:        50,
			StepPercentage:       20,
			RequiredHealthChecks: 1,
		},
		RevertTriggers: []revert.TriggerConfig{
			{Name: "high_error_rate", Metric: deploy.MetricErrorRate, Threshold: 5.0, AutoRevert: true, Cooldown: time.Minute},
		},
	})
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if res.Phase != PhaseRolledBack {
		t.Errorf("expected phase rolled_back, got %s", res.Phase)
	}
	if res.Outcome != OutcomeRolledBack {
		t.Errorf("expected rolled_back outcome, got %s", res.Outcome)
	}
	if !strings.Contains(res.Error, "high_error_rate") {
		t.Errorf("expected trigger name in error, got %q", res.Error)
	}
	if ctrl.called("Rollback") != 1 {
		t.Errorf("expected one rollback via revert manager, got %d", ctrl.called("Rollback"))
	}
}
