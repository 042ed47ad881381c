package readiness

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kubilitics/cutover/internal/db"
	"github.com/kubilitics/cutover/internal/deploy"
)

// Checker is the composite Engine implementation: it runs registered checks
// in registration order and aggregates every failure into blocking reasons.
type Checker struct {
	checks []Check
	log    *zap.Logger
}

// NewChecker creates a checker with no checks registered. A checker with no
// checks always reports GO.
func NewChecker(log *zap.Logger) *Checker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Checker{log: log}
}

// Register appends a check. Not safe to call concurrently with Report.
func (c *Checker) Register(check Check) {
	c.checks = append(c.checks, check)
}

// Report runs every check. A check error counts as a blocking failure rather
// than aborting the report; the operator sees the error text as the reason.
func (c *Checker) Report(ctx context.Context) (Report, error) {
	rep := Report{Go: true, GeneratedAt: time.Now().UTC()}
	for _, check := range c.checks {
		passed, reason, err := check.Run(ctx)
		if err != nil {
			passed = false
			reason = fmt.Sprintf("check error: %v", err)
		}
		rep.Checks = append(rep.Checks, CheckResult{Name: check.Name, Passed: passed, Reason: reason})
		if !passed {
			rep.Go = false
			rep.BlockingReasons = append(rep.BlockingReasons, fmt.Sprintf("%s: %s", check.Name, reason))
			c.log.Warn("readiness check failed",
				zap.String("check", check.Name),
				zap.String("reason", reason),
			)
		}
	}
	return rep, ctx.Err()
}

// NewCanaryIdleCheck fails while a canary is already in flight. Two
// overlapping canaries on one slot pair would fight over traffic shares.
func NewCanaryIdleCheck(controller deploy.Controller) Check {
	return Check{
		Name: "canary_idle",
		Run: func(ctx context.Context) (bool, string, error) {
			cs, err := controller.CanaryState(ctx)
			if err != nil {
				return false, "", err
			}
			if cs.Active {
				return false, fmt.Sprintf("canary already active at %d%%", cs.Percentage), nil
			}
			return true, "", nil
		},
	}
}

// NewMetricBaselineCheck fails when a production metric already exceeds max
// before the cutover begins. Cutting over on top of an incident makes any
// revert trigger useless as a signal.
func NewMetricBaselineCheck(env deploy.Environment, kind deploy.MetricKind, max float64) Check {
	return Check{
		Name: fmt.Sprintf("baseline_%s", kind),
		Run: func(ctx context.Context) (bool, string, error) {
			v, err := env.MetricValue(ctx, kind)
			if err != nil {
				return false, "", err
			}
			if v > max {
				return false, fmt.Sprintf("%s is %.2f, above pre-cutover ceiling %.2f", kind, v, max), nil
			}
			return true, "", nil
		},
	}
}

// NewNoRecentRevertCheck fails when a revert fired within the window. A
// fresh revert usually means the incident behind it is still being worked.
func NewNoRecentRevertCheck(store db.RevertStore, window time.Duration) Check {
	return Check{
		Name: "no_recent_revert",
		Run: func(ctx context.Context) (bool, string, error) {
			reverts, err := store.ListReverts(ctx, 1)
			if err != nil {
				return false, "", err
			}
			if len(reverts) == 0 {
				return true, "", nil
			}
			if age := time.Since(reverts[0].ExecutedAt); age < window {
				return false, fmt.Sprintf("revert %q executed %s ago, within %s window",
					reverts[0].Trigger, age.Round(time.Second), window), nil
			}
			return true, "", nil
		},
	}
}

// NewVersionNotActiveCheck fails when the target version is already live.
func NewVersionNotActiveCheck(controller deploy.Controller, version func() string) Check {
	return Check{
		Name: "version_not_active",
		Run: func(ctx context.Context) (bool, string, error) {
			st, err := controller.DeploymentState(ctx)
			if err != nil {
				return false, "", err
			}
			if v := version(); v != "" && v == st.ActiveVersion {
				return false, fmt.Sprintf("version %s is already active", v), nil
			}
			return true, "", nil
		},
	}
}
