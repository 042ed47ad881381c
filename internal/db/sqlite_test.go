package db

import (
	"context"
	"testing"
	"time"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAppendAndQueryEvents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, typ := range []string{"cutover_started", "phase_transition", "revert_executed"} {
		err := store.AppendEvent(ctx, &EventRecord{
			EventID:   "evt-" + typ,
			RunID:     "run-1",
			Type:      typ,
			Phase:     "deploy_standby",
			Version:   "v2",
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("AppendEvent error: %v", err)
		}
	}

	events, err := store.QueryEvents(ctx, EventQuery{RunID: "run-1"})
	if err != nil {
		t.Fatalf("QueryEvents error: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	// Newest first
	if events[0].Type != "revert_executed" {
		t.Errorf("expected newest event first, got %s", events[0].Type)
	}

	filtered, err := store.QueryEvents(ctx, EventQuery{RunID: "run-1", Type: "phase_transition"})
	if err != nil {
		t.Fatalf("QueryEvents(type) error: %v", err)
	}
	if len(filtered) != 1 {
		t.Errorf("expected 1 phase_transition event, got %d", len(filtered))
	}
}

func TestSaveRun_Upsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := &RunRecord{
		ID:              "run-42",
		TargetVersion:   "v3",
		PreviousVersion: "v2",
		Phase:           "deploy_standby",
		StartedAt:       time.Now().UTC(),
		FinishedAt:      time.Now().UTC(),
	}
	if err := store.SaveRun(ctx, rec); err != nil {
		t.Fatalf("SaveRun error: %v", err)
	}

	rec.Phase = "complete"
	rec.Success = true
	rec.Outcome = "promoted"
	if err := store.SaveRun(ctx, rec); err != nil {
		t.Fatalf("SaveRun (update) error: %v", err)
	}

	got, err := store.GetRun(ctx, "run-42")
	if err != nil {
		t.Fatalf("GetRun error: %v", err)
	}
	if got.Phase != "complete" || !got.Success {
		t.Errorf("expected updated run, got phase=%s success=%v", got.Phase, got.Success)
	}
	if got.PreviousVersion != "v2" {
		t.Errorf("expected previous_version v2, got %s", got.PreviousVersion)
	}

	runs, err := store.ListRuns(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListRuns error: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("expected 1 run, got %d", len(runs))
	}
}

func TestRevertHistory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := store.AppendRevert(ctx, &RevertRecord{
			RunID:             "run-1",
			Trigger:           "high_error_rate",
			Reason:            "error_rate above threshold",
			Success:           true,
			Actions:           `["canary aborted","rolled back"]`,
			PreviousVersion:   "v2",
			RevertedToVersion: "v1",
			DurationMs:        120,
			ExecutedAt:        time.Now().UTC().Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("AppendRevert error: %v", err)
		}
	}

	reverts, err := store.ListReverts(ctx, 3)
	if err != nil {
		t.Fatalf("ListReverts error: %v", err)
	}
	if len(reverts) != 3 {
		t.Errorf("expected limit of 3 reverts, got %d", len(reverts))
	}

	count, err := store.CountReverts(ctx)
	if err != nil {
		t.Fatalf("CountReverts error: %v", err)
	}
	if count != 5 {
		t.Errorf("expected 5 reverts total, got %d", count)
	}
}
