package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kubilitics/cutover/internal/cutover"
	"github.com/kubilitics/cutover/internal/cutover/revert"
	"github.com/kubilitics/cutover/internal/db"
	"github.com/kubilitics/cutover/internal/deploy"
)

// CutoverRequest is the body of POST /api/v1/cutover.
type CutoverRequest struct {
	Version            string                `json:"version"`
	Canary             *cutover.CanaryConfig `json:"canary,omitempty"`
	RevertTriggers     []TriggerRequest      `json:"revert_triggers,omitempty"`
	SkipReadinessCheck bool                  `json:"skip_readiness_check"`
	SkipCanary         bool                  `json:"skip_canary"`
	TimeoutSeconds     int                   `json:"timeout_seconds,omitempty"`
}

// TriggerRequest is the wire form of a revert trigger config.
type TriggerRequest struct {
	Name            string  `json:"name"`
	Metric          string  `json:"metric"`
	Threshold       float64 `json:"threshold"`
	AutoRevert      bool    `json:"auto_revert"`
	CooldownSeconds int     `json:"cooldown_seconds"`
}

func (t TriggerRequest) toConfig() (revert.TriggerConfig, error) {
	kind, err := deploy.ParseMetricKind(t.Metric)
	if err != nil {
		return revert.TriggerConfig{}, err
	}
	if t.Name == "" {
		return revert.TriggerConfig{}, fmt.Errorf("trigger name is required")
	}
	if t.CooldownSeconds < 0 {
		return revert.TriggerConfig{}, fmt.Errorf("cooldown_seconds must not be negative")
	}
	return revert.TriggerConfig{
		Name:       t.Name,
		Metric:     kind,
		Threshold:  t.Threshold,
		AutoRevert: t.AutoRevert,
		Cooldown:   time.Duration(t.CooldownSeconds) * time.Second,
	}, nil
}

func (r CutoverRequest) toPlan(defaults *cutover.Plan) (cutover.Plan, error) {
	plan := cutover.Plan{
		Version:            r.Version,
		SkipReadinessCheck: r.SkipReadinessCheck,
		SkipCanary:         r.SkipCanary,
	}
	if defaults != nil {
		plan.Canary = defaults.Canary
		plan.Timeout = defaults.Timeout
	}
	if r.Canary != nil {
		plan.Canary = *r.Canary
	}
	if r.TimeoutSeconds > 0 {
		plan.Timeout = time.Duration(r.TimeoutSeconds) * time.Second
	}
	for _, t := range r.RevertTriggers {
		cfg, err := t.toConfig()
		if err != nil {
			return cutover.Plan{}, err
		}
		plan.RevertTriggers = append(plan.RevertTriggers, cfg)
	}
	return plan, nil
}

// planDefaults builds the configured default canary and timeout.
func (s *Server) planDefaults() *cutover.Plan {
	c := s.cfg.Cutover
	return &cutover.Plan{
		Canary: cutover.CanaryConfig{
			InitialPercentage:    uint(c.CanaryInitialPercent),
			MaxPercentage:        uint(c.CanaryMaxPercent),
			StepPercentage:       uint(c.CanaryStepPercent),
			RequiredHealthChecks: c.CanaryRequiredChecks,
			RollbackOnFailure:    c.CanaryRollbackOnFailed,
		},
		Timeout: time.Duration(c.DefaultTimeoutSeconds) * time.Second,
	}
}

// handleCutover runs a cutover synchronously and returns its terminal
// result. One run in flight at a time; concurrent submissions get 409.
func (s *Server) handleCutover(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req CutoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}
	plan, err := req.toPlan(s.planDefaults())
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid plan: %v", err), http.StatusBadRequest)
		return
	}

	s.runMu.Lock()
	if s.inFlight {
		s.runMu.Unlock()
		http.Error(w, "a cutover is already in progress", http.StatusConflict)
		return
	}
	s.inFlight = true
	s.runMu.Unlock()
	defer func() {
		s.runMu.Lock()
		s.inFlight = false
		s.runMu.Unlock()
	}()

	res, err := s.orch.Execute(r.Context(), plan)
	if err != nil {
		if res != nil {
			// Unexpected fault: the result still describes the terminal state.
			writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
				"error":  err.Error(),
				"result": res,
			})
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDryRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req CutoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}
	plan, err := req.toPlan(s.planDefaults())
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid plan: %v", err), http.StatusBadRequest)
		return
	}

	res, err := s.orch.DryRun(r.Context(), plan)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// EmergencyStopRequest is the body of POST /api/v1/emergency-stop.
type EmergencyStopRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req EmergencyStopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		req.Reason = "manual emergency stop"
	}

	res, err := s.orch.EmergencyStop(r.Context(), req.Reason)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePhase(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"phase":     s.orch.Phase(),
		"timestamp": time.Now().UTC(),
	})
}

// handleTriggers lists the trigger registry or registers a new trigger.
func (s *Server) handleTriggers(w http.ResponseWriter, r *http.Request) {
	if s.reverter == nil {
		http.Error(w, "revert manager not initialized", http.StatusServiceUnavailable)
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.reverter.Triggers())
	case http.MethodPost:
		var req TriggerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
			return
		}
		cfg, err := req.toConfig()
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid trigger: %v", err), http.StatusBadRequest)
			return
		}
		s.reverter.AddTrigger(cfg)
		writeJSON(w, http.StatusCreated, cfg)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleTriggerByName deletes one trigger. URL pattern: /api/v1/triggers/{name}
func (s *Server) handleTriggerByName(w http.ResponseWriter, r *http.Request) {
	if s.reverter == nil {
		http.Error(w, "revert manager not initialized", http.StatusServiceUnavailable)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/api/v1/triggers/")
	name = strings.TrimSuffix(name, "/")
	if name == "" || name == "state" {
		http.Error(w, "trigger name required", http.StatusBadRequest)
		return
	}
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.reverter.RemoveTrigger(name) {
		http.Error(w, fmt.Sprintf("trigger %q not found", name), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"removed": name})
}

// handleTriggerState evaluates every trigger against live metrics.
func (s *Server) handleTriggerState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.reverter == nil {
		http.Error(w, "revert manager not initialized", http.StatusServiceUnavailable)
		return
	}
	states, err := s.reverter.CheckTriggers(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, states)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		http.Error(w, "persistence not configured", http.StatusServiceUnavailable)
		return
	}
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	runs, err := s.store.ListRuns(r.Context(), limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// handleRunByID serves one run. URL pattern: /api/v1/runs/{id}
func (s *Server) handleRunByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		http.Error(w, "persistence not configured", http.StatusServiceUnavailable)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/runs/")
	id = strings.TrimSuffix(id, "/")
	if id == "" {
		http.Error(w, "run ID required", http.StatusBadRequest)
		return
	}
	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		http.Error(w, "persistence not configured", http.StatusServiceUnavailable)
		return
	}
	q := db.EventQuery{
		RunID:  r.URL.Query().Get("run_id"),
		Type:   r.URL.Query().Get("type"),
		Limit:  queryInt(r, "limit", 100),
		Offset: queryInt(r, "offset", 0),
	}
	events, err := s.store.QueryEvents(r.Context(), q)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleReverts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		http.Error(w, "persistence not configured", http.StatusServiceUnavailable)
		return
	}
	reverts, err := s.store.ListReverts(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	count := 0
	if s.reverter != nil {
		count = s.reverter.RevertCount()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reverts":       reverts,
		"session_count": count,
	})
}

// MetricUpdateRequest is the body of POST /api/v1/environment/metrics.
type MetricUpdateRequest struct {
	Metric string  `json:"metric"`
	Value  float64 `json:"value"`
}

// handleEnvironmentMetrics reads or updates the in-process environment's
// metric readings.
func (s *Server) handleEnvironmentMetrics(w http.ResponseWriter, r *http.Request) {
	if s.env == nil {
		http.Error(w, "in-process environment not configured", http.StatusServiceUnavailable)
		return
	}
	switch r.Method {
	case http.MethodGet:
		out := make(map[string]float64, len(deploy.MetricKinds()))
		for _, kind := range deploy.MetricKinds() {
			v, err := s.env.MetricValue(r.Context(), kind)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadGateway)
				return
			}
			out[string(kind)] = v
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodPost:
		var req MetricUpdateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
			return
		}
		kind, err := deploy.ParseMetricKind(req.Metric)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.env.SetMetric(kind, req.Value)
		writeJSON(w, http.StatusOK, map[string]interface{}{"metric": kind, "value": req.Value})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	status := "healthy"
	code := http.StatusOK
	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
	})
}

// handleReadyz serves the cutover readiness report, not process liveness.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.readiness == nil {
		http.Error(w, "readiness engine not configured", http.StatusServiceUnavailable)
		return
	}
	report, err := s.readiness.Report(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	code := http.StatusOK
	if !report.Go {
		code = http.StatusConflict
	}
	writeJSON(w, code, report)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
