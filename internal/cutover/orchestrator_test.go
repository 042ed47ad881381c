package cutover

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kubilitics/cutover/internal/cutover/revert"
	"github.com/kubilitics/cutover/internal/deploy"
	"github.com/kubilitics/cutover/internal/readiness"
)

// stubController is a stateful blue/green fake that records every call.
type stubController struct {
	mu sync.Mutex

	activeSlot deploy.Slot
	active     string
	standby    string
	prevActive string

	canary   deploy.CanaryState
	settings deploy.CanarySettings

	// healthQueue scripts HealthCheck results in call order. Empty means
	// healthy forever.
	healthQueue []bool

	// readyAt makes CanaryReadyForPromotion report true once the canary
	// reaches this percentage. Zero disables it.
	readyAt uint

	deployErr  error
	promoteErr error
	startErr   error
	healthFn   func(ctx context.Context) (deploy.HealthStatus, error)

	maxSeenPercentage uint
	calls             []string
}

func (s *stubController) record(name string) {
	s.calls = append(s.calls, name)
}

func (s *stubController) called(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (s *stubController) DeploymentState(context.Context) (deploy.DeploymentState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("DeploymentState")
	return deploy.DeploymentState{
		ActiveSlot:     s.activeSlot,
		ActiveVersion:  s.active,
		StandbyVersion: s.standby,
	}, nil
}

func (s *stubController) DeployToStandby(_ context.Context, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("DeployToStandby")
	if s.deployErr != nil {
		return s.deployErr
	}
	s.standby = version
	return nil
}

func (s *stubController) HealthCheck(ctx context.Context) (deploy.HealthStatus, error) {
	s.mu.Lock()
	s.record("HealthCheck")
	fn := s.healthFn
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	healthy := true
	if len(s.healthQueue) > 0 {
		healthy = s.healthQueue[0]
		s.healthQueue = s.healthQueue[1:]
	}
	if s.canary.Active {
		if healthy {
			s.canary.ConsecutiveHealthChecks++
		} else {
			s.canary.ConsecutiveHealthChecks = 0
		}
	}
	return deploy.HealthStatus{Healthy: healthy}, nil
}

func (s *stubController) Promote(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Promote")
	if s.promoteErr != nil {
		return s.promoteErr
	}
	s.prevActive = s.active
	s.active = s.standby
	s.activeSlot = s.activeSlot.Other()
	s.canary = deploy.CanaryState{}
	return nil
}

func (s *stubController) Rollback(context.Context, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Rollback")
	if s.prevActive != "" {
		s.active = s.prevActive
		s.activeSlot = s.activeSlot.Other()
	}
	return nil
}

func (s *stubController) StartCanary(_ context.Context, settings deploy.CanarySettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("StartCanary")
	if s.startErr != nil {
		return s.startErr
	}
	s.settings = settings
	s.canary = deploy.CanaryState{Active: true, Percentage: settings.InitialPercentage}
	s.maxSeenPercentage = settings.InitialPercentage
	return nil
}

func (s *stubController) AdvanceCanary(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("AdvanceCanary")
	p := s.canary.Percentage + s.settings.StepPercentage
	if p > s.settings.MaxPercentage {
		p = s.settings.MaxPercentage
	}
	s.canary.Percentage = p
	if p > s.maxSeenPercentage {
		s.maxSeenPercentage = p
	}
	return nil
}

func (s *stubController) AbortCanary(context.Context, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("AbortCanary")
	s.canary = deploy.CanaryState{}
	return nil
}

func (s *stubController) CanaryState(context.Context) (deploy.CanaryState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canary, nil
}

func (s *stubController) CanaryReadyForPromotion(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readyAt > 0 && s.canary.Active && s.canary.Percentage >= s.readyAt, nil
}

// stubEnv serves scripted metrics and collects logged events.
type stubEnv struct {
	mu     sync.Mutex
	values map[deploy.MetricKind]float64
	events []deploy.Event
}

func (s *stubEnv) MetricValue(_ context.Context, kind deploy.MetricKind) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[kind], nil
}

func (s *stubEnv) LogEvent(_ context.Context, ev deploy.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

// stubEngine returns a fixed readiness report.
type stubEngine struct {
	report readiness.Report
	err    error
}

func (s *stubEngine) Report(context.Context) (readiness.Report, error) {
	return s.report, s.err
}

func goEngine() *stubEngine {
	return &stubEngine{report: readiness.Report{Go: true, GeneratedAt: time.Now()}}
}

func newTestOrchestrator(ctrl *stubController, env *stubEnv, engine readiness.Engine) Orchestrator {
	mgr := revert.NewManager(ctrl, env, nil, nil)
	return NewOrchestrator(ctrl, env, engine, mgr, nil)
}

func TestExecute_ReadinessGateBlocksDeploy(t *testing.T) {
	ctrl := &stubController{active: "v1", activeSlot: deploy.SlotBlue}
	engine := &stubEngine{report: readiness.Report{
		Go:              false,
		BlockingReasons: []string{"error rate above baseline", "canary already active"},
	}}
	o := newTestOrchestrator(ctrl, &stubEnv{}, engine)

	res, err := o.Execute(context.Background(), Plan{Version: "v2"})
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if res.Phase != PhaseFailed {
		t.Errorf("expected phase failed, got %s", res.Phase)
	}
	if res.Success {
		t.Error("expected unsuccessful result")
	}
	if ctrl.called("DeployToStandby") != 0 {
		t.Error("deployToStandby must never run behind a no-go readiness report")
	}
	if !strings.Contains(res.Error, "error rate above baseline") || !strings.Contains(res.Error, "canary already active") {
		t.Errorf("expected joined blocking reasons in error, got %q", res.Error)
	}
}

func TestDryRun_NoDeploymentActions(t *testing.T) {
	ctrl := &stubController{active: "v1", activeSlot: deploy.SlotBlue}
	engine := &stubEngine{report: readiness.Report{
		Go:              false,
		BlockingReasons: []string{"error rate above baseline"},
	}}
	o := newTestOrchestrator(ctrl, &stubEnv{}, engine)

	res, err := o.DryRun(context.Background(), Plan{Version: "v2"})
	if err != nil {
		t.Fatalf("DryRun error: %v", err)
	}
	if res.Phase != PhaseComplete {
		t.Errorf("expected phase complete, got %s", res.Phase)
	}
	if res.Outcome != OutcomeDryRun {
		t.Errorf("expected dry_run outcome, got %s", res.Outcome)
	}
	if res.ReadinessReport == nil {
		t.Fatal("expected readiness report in dry-run result")
	}
	if res.ReadinessReport.Go {
		t.Error("expected no-go report carried through")
	}
	for _, call := range []string{"DeployToStandby", "Promote", "Rollback"} {
		if ctrl.called(call) != 0 {
			t.Errorf("dry run must not invoke %s", call)
		}
	}
}

func TestExecute_EndToEnd(t *testing.T) {
	ctrl := &stubController{active: "v1", activeSlot: deploy.SlotBlue}
	env := &stubEnv{}
	o := newTestOrchestrator(ctrl, env, goEngine())

	res, err := o.Execute(context.Background(), Plan{
		Version: "v2",
		Canary: CanaryConfig{
			InitialPercentage:    10,
			MaxPercentage:        50,
			StepPercentage:       20,
			RequiredHealthChecks: 2,
			RollbackOnFailure:    true,
		},
	})
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got error %q in phase %s", res.Error, res.Phase)
	}
	if res.Phase != PhaseComplete {
		t.Errorf("expected phase complete, got %s", res.Phase)
	}
	if res.PreviousVersion != "v1" || res.NewVersion != "v2" {
		t.Errorf("expected v1 -> v2, got %s -> %s", res.PreviousVersion, res.NewVersion)
	}
	if ctrl.active != "v2" {
		t.Errorf("expected live version v2, got %s", ctrl.active)
	}
	if len(res.Events) == 0 {
		t.Error("expected accumulated events in result")
	}
	if len(env.events) == 0 {
		t.Error("expected durable events in environment log")
	}
	var canaryStarted bool
	for _, ev := range res.Events {
		if ev.Type == deploy.EventCanaryStarted {
			canaryStarted = true
		}
	}
	if !canaryStarted {
		t.Error("expected a canary_started event in the run timeline")
	}
}

func TestExecute_PlanTriggerOverridesScopedToRun(t *testing.T) {
	ctrl := &stubController{active: "v1", activeSlot: deploy.SlotBlue}
	env := &stubEnv{}
	mgr := revert.NewManager(ctrl, env, nil, nil)
	o := NewOrchestrator(ctrl, env, goEngine(), mgr, nil)

	res, err := o.Execute(context.Background(), Plan{
		Version:    "v2",
		SkipCanary: true,
		RevertTriggers: []revert.TriggerConfig{
			{Name: "high_error_rate", Metric: deploy.MetricErrorRate, Threshold: 0.5, AutoRevert: true},
			{Name: "run_scoped_latency", Metric: deploy.MetricP95Latency, Threshold: 250, AutoRevert: true},
		},
	})
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Error)
	}

	var sawDefault bool
	for _, tr := range mgr.Triggers() {
		switch tr.Name {
		case "high_error_rate":
			sawDefault = true
			if tr.Threshold != 5.0 {
				t.Errorf("override must not outlive the run: threshold %v, want 5.0", tr.Threshold)
			}
		case "run_scoped_latency":
			t.Error("plan-introduced trigger must be removed when the run ends")
		}
	}
	if !sawDefault {
		t.Error("expected default high_error_rate trigger restored")
	}
}

func TestExecute_StandbyUnhealthyRollsBackPlainly(t *testing.T) {
	ctrl := &stubController{
		active:      "v1",
		activeSlot:  deploy.SlotBlue,
		healthQueue: []bool{false},
	}
	o := newTestOrchestrator(ctrl, &stubEnv{}, goEngine())

	res, err := o.Execute(context.Background(), Plan{Version: "v2", SkipCanary: true})
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if res.Phase != PhaseFailed {
		t.Errorf("expected phase failed, got %s", res.Phase)
	}
	if res.Outcome != OutcomeFailed {
		t.Errorf("expected failed outcome, got %s", res.Outcome)
	}
	if ctrl.called("Rollback") != 1 {
		t.Errorf("expected one plain rollback, got %d", ctrl.called("Rollback"))
	}
	if ctrl.called("Promote") != 0 {
		t.Error("promote must not run after a failed standby health check")
	}
}

func TestExecute_PostPromotionSafetyNet(t *testing.T) {
	// Standby probe healthy, post-promotion probe unhealthy.
	ctrl := &stubController{
		active:      "v1",
		activeSlot:  deploy.SlotBlue,
		healthQueue: []bool{true, false},
	}
	o := newTestOrchestrator(ctrl, &stubEnv{}, goEngine())

	res, err := o.Execute(context.Background(), Plan{Version: "v2", SkipCanary: true})
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if res.Phase != PhaseRolledBack {
		t.Errorf("expected phase rolled_back, got %s", res.Phase)
	}
	if res.Outcome != OutcomeRolledBack {
		t.Errorf("expected rolled_back outcome, got %s", res.Outcome)
	}
	if res.NewVersion != "v2" {
		t.Errorf("attempted version must stay recorded, got %q", res.NewVersion)
	}
	if ctrl.active != "v1" {
		t.Errorf("expected live system restored to v1, got %s", ctrl.active)
	}
	if res.Success {
		t.Error("expected unsuccessful result after rollback")
	}
}

func TestExecute_SkipCanaryPromoteFailure(t *testing.T) {
	ctrl := &stubController{
		active:     "v1",
		activeSlot: deploy.SlotBlue,
		promoteErr: errors.New("traffic switch rejected"),
	}
	o := newTestOrchestrator(ctrl, &stubEnv{}, goEngine())

	res, err := o.Execute(context.Background(), Plan{Version: "v2", SkipCanary: true})
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if res.Phase != PhaseFailed {
		t.Errorf("expected phase failed, got %s", res.Phase)
	}
	if !strings.Contains(res.Error, "traffic switch rejected") {
		t.Errorf("expected promote error surfaced, got %q", res.Error)
	}
}

func TestExecute_UnexpectedFaultKeepsOriginalError(t *testing.T) {
	ctrl := &stubController{active: "v1", activeSlot: deploy.SlotBlue}
	ctrl.healthFn = func(context.Context) (deploy.HealthStatus, error) {
		return deploy.HealthStatus{}, errors.New("probe transport broken")
	}
	o := newTestOrchestrator(ctrl, &stubEnv{}, goEngine())

	res, err := o.Execute(context.Background(), Plan{Version: "v2", SkipCanary: true})
	if err == nil {
		t.Fatal("expected an orchestrator error for an unexpected fault")
	}
	var oerr *OrchestratorError
	if !errors.As(err, &oerr) {
		t.Fatalf("expected *OrchestratorError, got %T", err)
	}
	if oerr.Code != CodeInternal {
		t.Errorf("expected internal code, got %s", oerr.Code)
	}
	// A secondary failure during the emergency revert must not replace the
	// original cause.
	if !strings.Contains(err.Error(), "probe transport broken") {
		t.Errorf("expected original error preserved, got %v", err)
	}
	if res == nil || res.Phase != PhaseFailed {
		t.Errorf("expected failed result alongside the error")
	}
	if ctrl.called("Rollback") == 0 {
		t.Error("expected a best-effort emergency revert attempt")
	}
}

func TestExecute_TimeoutSurfacesAsTimeoutCode(t *testing.T) {
	ctrl := &stubController{active: "v1", activeSlot: deploy.SlotBlue}
	ctrl.healthFn = func(ctx context.Context) (deploy.HealthStatus, error) {
		<-ctx.Done()
		return deploy.HealthStatus{}, ctx.Err()
	}
	o := newTestOrchestrator(ctrl, &stubEnv{}, goEngine())

	_, err := o.Execute(context.Background(), Plan{
		Version:    "v2",
		SkipCanary: true,
		Timeout:    20 * time.Millisecond,
	})
	var oerr *OrchestratorError
	if !errors.As(err, &oerr) {
		t.Fatalf("expected *OrchestratorError, got %v", err)
	}
	if oerr.Code != CodeTimeout {
		t.Errorf("expected timeout code, got %s", oerr.Code)
	}
}

func TestExecute_InvalidPlanRejected(t *testing.T) {
	o := newTestOrchestrator(&stubController{}, &stubEnv{}, goEngine())

	_, err := o.Execute(context.Background(), Plan{})
	var oerr *OrchestratorError
	if !errors.As(err, &oerr) {
		t.Fatalf("expected *OrchestratorError, got %v", err)
	}
	if oerr.Code != CodeInvalidPlan {
		t.Errorf("expected invalid_plan code, got %s", oerr.Code)
	}
}

func TestEmergencyStop(t *testing.T) {
	ctrl := &stubController{active: "v2", prevActive: "v1", activeSlot: deploy.SlotGreen}
	o := newTestOrchestrator(ctrl, &stubEnv{}, goEngine())

	rres, err := o.EmergencyStop(context.Background(), "operator abort")
	if err != nil {
		t.Fatalf("EmergencyStop error: %v", err)
	}
	if !rres.Success {
		t.Errorf("expected successful revert, got error %q", rres.Error)
	}
	if o.Phase() != PhaseRolledBack {
		t.Errorf("expected phase rolled_back, got %s", o.Phase())
	}
	if ctrl.active != "v1" {
		t.Errorf("expected live version restored to v1, got %s", ctrl.active)
	}
}

func TestPlanValidate(t *testing.T) {
	cases := []struct {
		name string
		plan Plan
		ok   bool
	}{
		{"empty version", Plan{}, false},
		{"valid defaults", Plan{Version: "v2"}, true},
		{"initial above max", Plan{Version: "v2", Canary: CanaryConfig{InitialPercentage: 60, MaxPercentage: 50, StepPercentage: 10}}, false},
		{"percentage above 100", Plan{Version: "v2", Canary: CanaryConfig{InitialPercentage: 10, MaxPercentage: 150, StepPercentage: 10}}, false},
		{"zero step with span", Plan{Version: "v2", Canary: CanaryConfig{InitialPercentage: 10, MaxPercentage: 50}}, false},
		{"skip canary ignores canary config", Plan{Version: "v2", SkipCanary: true, Canary: CanaryConfig{InitialPercentage: 60, MaxPercentage: 50}}, true},
		{"negative timeout", Plan{Version: "v2", Timeout: -time.Second}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.plan.Validate()
			if tc.ok && err != nil {
				t.Errorf("expected valid plan, got %v", err)
			}
			if !tc.ok && err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
