// Package readiness produces the GO/NO-GO verdict consulted before any
// deployment action.
//
// Responsibilities:
//   - Run every registered check against the live environment
//   - Aggregate failures into a single report with blocking reasons
//   - Never mutate deployment state; checks are read-only
//
// The orchestrator only branches on Report.Go and surfaces BlockingReasons;
// everything else here exists for operators reading the report.
package readiness

import (
	"context"
	"time"
)

// Engine generates readiness reports.
type Engine interface {
	// Report runs all checks and returns the aggregated verdict.
	Report(ctx context.Context) (Report, error)
}

// Report is a GO/NO-GO verdict with the reasons blocking a GO.
type Report struct {
	Go              bool          `json:"go"`
	BlockingReasons []string      `json:"blocking_reasons,omitempty"`
	Checks          []CheckResult `json:"checks"`
	GeneratedAt     time.Time     `json:"generated_at"`
}

// CheckResult records the outcome of a single readiness check.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Reason string `json:"reason,omitempty"`
}

// Check is a single named readiness probe. Run returns pass/fail plus a
// human-readable reason for failures.
type Check struct {
	Name string
	Run  func(ctx context.Context) (passed bool, reason string, err error)
}
