package cutover

import "fmt"

// Error codes carried by OrchestratorError. Callers branch on these to map
// unexpected failures to exit codes and alerts.
const (
	CodeInvalidPlan = "invalid_plan"
	CodeTimeout     = "timeout"
	CodeInternal    = "internal"
)

// OrchestratorError marks a truly unexpected failure during execute, after
// the best-effort emergency revert has already been attempted. Normal failure
// paths never produce one; they are reported as Result data instead.
type OrchestratorError struct {
	Code  string
	Phase Phase
	Err   error
}

func (e *OrchestratorError) Error() string {
	return fmt.Sprintf("cutover orchestrator error [%s] in phase %s: %v", e.Code, e.Phase, e.Err)
}

func (e *OrchestratorError) Unwrap() error { return e.Err }
