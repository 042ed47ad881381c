package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cutover service metrics for production monitoring
var (
	// Cutover metrics
	CutoversTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cutover_runs_total",
			Help: "Total number of cutover runs by terminal phase",
		},
		[]string{"phase", "outcome"},
	)

	CutoverDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cutover_run_duration_seconds",
			Help:    "Cutover run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68min
		},
		[]string{"outcome"},
	)

	PhaseTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cutover_phase_transitions_total",
			Help: "Total number of orchestrator phase transitions",
		},
		[]string{"phase"},
	)

	// Canary metrics
	CanaryPercentage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cutover_canary_traffic_percentage",
			Help: "Current canary traffic percentage (0 when no canary is active)",
		},
	)

	CanaryStepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cutover_canary_steps_total",
			Help: "Total number of canary advancement steps",
		},
		[]string{"result"}, // result: advanced/held/aborted
	)

	// Revert metrics
	RevertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cutover_reverts_total",
			Help: "Total number of revert executions",
		},
		[]string{"trigger", "success"},
	)

	RevertDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cutover_revert_duration_seconds",
			Help:    "Revert execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1min
		},
	)

	TriggerEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cutover_trigger_evaluations_total",
			Help: "Total number of revert trigger evaluations",
		},
		[]string{"trigger", "triggered"},
	)

	TriggerCooldownSkips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cutover_trigger_cooldown_skips_total",
			Help: "Auto-reverts skipped because the trigger was still cooling down",
		},
		[]string{"trigger"},
	)

	// Readiness metrics
	ReadinessReports = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cutover_readiness_reports_total",
			Help: "Total number of readiness reports by verdict",
		},
		[]string{"verdict"}, // verdict: go/no_go
	)

	// Event log metrics
	EventsLogged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cutover_deployment_events_total",
			Help: "Total number of deployment events appended to the durable log",
		},
		[]string{"type"},
	)
)
