package readiness

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/kubilitics/cutover/internal/db"
	"github.com/kubilitics/cutover/internal/deploy"
	"github.com/kubilitics/cutover/internal/deploy/local"
)

type fakeRevertStore struct {
	reverts []*db.RevertRecord
	err     error
}

func (f *fakeRevertStore) AppendRevert(ctx context.Context, rec *db.RevertRecord) error {
	f.reverts = append(f.reverts, rec)
	return nil
}

func (f *fakeRevertStore) ListReverts(ctx context.Context, limit int) ([]*db.RevertRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit > len(f.reverts) {
		limit = len(f.reverts)
	}
	return f.reverts[:limit], nil
}

func (f *fakeRevertStore) CountReverts(ctx context.Context) (int, error) {
	return len(f.reverts), nil
}

func TestReport_NoChecksIsGo(t *testing.T) {
	rep, err := NewChecker(nil).Report(context.Background())
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if !rep.Go || len(rep.Checks) != 0 {
		t.Errorf("expected empty GO report, got %+v", rep)
	}
}

func TestReport_AggregatesFailures(t *testing.T) {
	c := NewChecker(nil)
	c.Register(Check{Name: "passing", Run: func(ctx context.Context) (bool, string, error) {
		return true, "", nil
	}})
	c.Register(Check{Name: "failing", Run: func(ctx context.Context) (bool, string, error) {
		return false, "standby busy", nil
	}})
	c.Register(Check{Name: "erroring", Run: func(ctx context.Context) (bool, string, error) {
		return false, "", errors.New("probe unreachable")
	}})

	rep, err := c.Report(context.Background())
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if rep.Go {
		t.Error("expected NO-GO with failing checks")
	}
	if len(rep.Checks) != 3 {
		t.Fatalf("expected 3 check results, got %d", len(rep.Checks))
	}
	if len(rep.BlockingReasons) != 2 {
		t.Fatalf("expected 2 blocking reasons, got %v", rep.BlockingReasons)
	}
	if !strings.Contains(rep.BlockingReasons[0], "standby busy") {
		t.Errorf("unexpected reason: %s", rep.BlockingReasons[0])
	}
	if !strings.Contains(rep.BlockingReasons[1], "probe unreachable") {
		t.Errorf("check error should surface as a reason, got %s", rep.BlockingReasons[1])
	}
}

func TestCanaryIdleCheck(t *testing.T) {
	ctx := context.Background()
	controller := local.NewController("v1", nil)
	check := NewCanaryIdleCheck(controller)

	passed, _, err := check.Run(ctx)
	if err != nil || !passed {
		t.Fatalf("expected pass with no canary, got passed=%v err=%v", passed, err)
	}

	if err := controller.DeployToStandby(ctx, "v2"); err != nil {
		t.Fatalf("DeployToStandby: %v", err)
	}
	if err := controller.StartCanary(ctx, deploy.CanarySettings{
		InitialPercentage: 10, MaxPercentage: 50, StepPercentage: 20,
	}); err != nil {
		t.Fatalf("StartCanary: %v", err)
	}

	passed, reason, err := check.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if passed || !strings.Contains(reason, "10%") {
		t.Errorf("expected failure naming the live percentage, got passed=%v reason=%q", passed, reason)
	}
}

func TestMetricBaselineCheck(t *testing.T) {
	ctx := context.Background()
	env := local.NewEnvironment(nil, nil)
	check := NewMetricBaselineCheck(env, deploy.MetricErrorRate, 5.0)

	env.SetMetric(deploy.MetricErrorRate, 2.0)
	if passed, _, err := check.Run(ctx); err != nil || !passed {
		t.Errorf("expected pass below ceiling, got passed=%v err=%v", passed, err)
	}

	env.SetMetric(deploy.MetricErrorRate, 7.5)
	passed, reason, err := check.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if passed || !strings.Contains(reason, "7.50") {
		t.Errorf("expected failure naming the reading, got passed=%v reason=%q", passed, reason)
	}
}

func TestVersionNotActiveCheck(t *testing.T) {
	ctx := context.Background()
	controller := local.NewController("v1", nil)
	target := "v1"
	check := NewVersionNotActiveCheck(controller, func() string { return target })

	passed, reason, err := check.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if passed {
		t.Errorf("expected failure for already-active version, reason=%q", reason)
	}

	target = "v2"
	if passed, _, _ := check.Run(ctx); !passed {
		t.Error("expected pass for a new version")
	}
}

func TestNoRecentRevertCheck(t *testing.T) {
	ctx := context.Background()
	store := &fakeRevertStore{}
	check := NewNoRecentRevertCheck(store, 30*time.Minute)

	if passed, _, err := check.Run(ctx); err != nil || !passed {
		t.Fatalf("expected pass with no reverts, got passed=%v err=%v", passed, err)
	}

	store.reverts = []*db.RevertRecord{{
		Trigger:    "high_error_rate",
		ExecutedAt: time.Now().Add(-5 * time.Minute),
	}}
	passed, reason, err := check.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if passed || !strings.Contains(reason, "high_error_rate") {
		t.Errorf("expected failure naming the trigger, got passed=%v reason=%q", passed, reason)
	}

	store.reverts[0].ExecutedAt = time.Now().Add(-2 * time.Hour)
	if passed, _, _ := check.Run(ctx); !passed {
		t.Error("expected pass once the revert aged out of the window")
	}

	store.err = fmt.Errorf("database locked")
	if passed, _, err := check.Run(ctx); passed || err == nil {
		t.Error("expected store errors to propagate as check errors")
	}
}
