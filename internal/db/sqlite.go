package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)
)

// Schema versions are tracked in the schema_versions table; migrations apply
// in order on open.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_versions (
    version     INTEGER PRIMARY KEY,
    applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS deployment_events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    event_id    TEXT NOT NULL DEFAULT '',
    run_id      TEXT NOT NULL DEFAULT '',
    type        TEXT NOT NULL,
    phase       TEXT NOT NULL DEFAULT '',
    version     TEXT NOT NULL DEFAULT '',
    reason      TEXT NOT NULL DEFAULT '',
    details     TEXT NOT NULL DEFAULT '{}',
    timestamp   DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_run_id    ON deployment_events(run_id);
CREATE INDEX IF NOT EXISTS idx_events_type      ON deployment_events(type);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON deployment_events(timestamp DESC);

CREATE TABLE IF NOT EXISTS cutover_runs (
    id               TEXT PRIMARY KEY,
    target_version   TEXT NOT NULL,
    previous_version TEXT NOT NULL DEFAULT '',
    phase            TEXT NOT NULL DEFAULT 'idle',
    outcome          TEXT NOT NULL DEFAULT '',
    success          BOOLEAN NOT NULL DEFAULT 0,
    error            TEXT NOT NULL DEFAULT '',
    dry_run          BOOLEAN NOT NULL DEFAULT 0,
    started_at       DATETIME NOT NULL,
    finished_at      DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON cutover_runs(started_at DESC);

CREATE TABLE IF NOT EXISTS revert_history (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id              TEXT NOT NULL DEFAULT '',
    trigger_name        TEXT NOT NULL DEFAULT '',
    reason              TEXT NOT NULL DEFAULT '',
    success             BOOLEAN NOT NULL DEFAULT 1,
    actions             TEXT NOT NULL DEFAULT '[]',
    previous_version    TEXT NOT NULL DEFAULT '',
    reverted_to_version TEXT NOT NULL DEFAULT '',
    duration_ms         INTEGER NOT NULL DEFAULT 0,
    executed_at         DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reverts_executed_at ON revert_history(executed_at DESC);
CREATE INDEX IF NOT EXISTS idx_reverts_trigger     ON revert_history(trigger_name);
`,
	},
}

// sqliteStore is the SQLite-backed implementation of Store.
type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path and
// runs all pending schema migrations. Pass ":memory:" for an in-memory store.
func NewSQLiteStore(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// Enable WAL mode for better concurrency and performance.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &sqliteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate applies any unapplied migrations in order.
func (s *sqliteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue // already applied
		}

		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}

		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// ─── Deployment events ────────────────────────────────────────────────────────

func (s *sqliteStore) AppendEvent(ctx context.Context, rec *EventRecord) error {
	result, err := s.db.ExecContext(ctx, `
        INSERT INTO deployment_events(event_id, run_id, type, phase, version, reason, details, timestamp)
        VALUES(?,?,?,?,?,?,?,?)
    `,
		rec.EventID, rec.RunID, rec.Type, rec.Phase, rec.Version,
		rec.Reason, rec.Details, rec.Timestamp.UTC(),
	)
	if err != nil {
		return err
	}
	id, _ := result.LastInsertId()
	rec.ID = id
	return nil
}

func (s *sqliteStore) QueryEvents(ctx context.Context, q EventQuery) ([]*EventRecord, error) {
	query := `SELECT id,event_id,run_id,type,phase,version,reason,details,timestamp FROM deployment_events WHERE 1=1`
	args := []any{}

	if q.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, q.RunID)
	}
	if q.Type != "" {
		query += ` AND type = ?`
		args = append(args, q.Type)
	}
	if !q.From.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, q.From.UTC())
	}
	if !q.To.IsZero() {
		query += ` AND timestamp <= ?`
		args = append(args, q.To.UTC())
	}
	query += ` ORDER BY timestamp DESC, id DESC`
	if q.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d OFFSET %d`, q.Limit, q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*EventRecord
	for rows.Next() {
		rec := &EventRecord{}
		var ts string
		if err := rows.Scan(&rec.ID, &rec.EventID, &rec.RunID, &rec.Type, &rec.Phase,
			&rec.Version, &rec.Reason, &rec.Details, &ts); err != nil {
			return nil, err
		}
		rec.Timestamp, _ = parseTime(ts)
		result = append(result, rec)
	}
	return result, rows.Err()
}

// ─── Cutover runs ─────────────────────────────────────────────────────────────

func (s *sqliteStore) SaveRun(ctx context.Context, rec *RunRecord) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO cutover_runs(id, target_version, previous_version, phase, outcome, success, error, dry_run, started_at, finished_at)
        VALUES(?,?,?,?,?,?,?,?,?,?)
        ON CONFLICT(id) DO UPDATE SET
            phase       = excluded.phase,
            outcome     = excluded.outcome,
            success     = excluded.success,
            error       = excluded.error,
            finished_at = excluded.finished_at
    `,
		rec.ID, rec.TargetVersion, rec.PreviousVersion, rec.Phase, rec.Outcome,
		rec.Success, rec.Error, rec.DryRun, rec.StartedAt.UTC(), rec.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}
	return nil
}

func (s *sqliteStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id,target_version,previous_version,phase,outcome,success,error,dry_run,started_at,finished_at FROM cutover_runs WHERE id=?`, id)
	return scanRun(row)
}

func (s *sqliteStore) ListRuns(ctx context.Context, limit, offset int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,target_version,previous_version,phase,outcome,success,error,dry_run,started_at,finished_at FROM cutover_runs ORDER BY started_at DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	rec := &RunRecord{}
	var startedAt, finishedAt string
	err := row.Scan(&rec.ID, &rec.TargetVersion, &rec.PreviousVersion, &rec.Phase,
		&rec.Outcome, &rec.Success, &rec.Error, &rec.DryRun, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}
	rec.StartedAt, _ = parseTime(startedAt)
	rec.FinishedAt, _ = parseTime(finishedAt)
	return rec, nil
}

// ─── Revert history ───────────────────────────────────────────────────────────

func (s *sqliteStore) AppendRevert(ctx context.Context, rec *RevertRecord) error {
	result, err := s.db.ExecContext(ctx, `
        INSERT INTO revert_history(run_id, trigger_name, reason, success, actions, previous_version, reverted_to_version, duration_ms, executed_at)
        VALUES(?,?,?,?,?,?,?,?,?)
    `,
		rec.RunID, rec.Trigger, rec.Reason, rec.Success, rec.Actions,
		rec.PreviousVersion, rec.RevertedToVersion, rec.DurationMs, rec.ExecutedAt.UTC(),
	)
	if err != nil {
		return err
	}
	id, _ := result.LastInsertId()
	rec.ID = id
	return nil
}

func (s *sqliteStore) ListReverts(ctx context.Context, limit int) ([]*RevertRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,run_id,trigger_name,reason,success,actions,previous_version,reverted_to_version,duration_ms,executed_at FROM revert_history ORDER BY executed_at DESC, id DESC LIMIT ?`,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*RevertRecord
	for rows.Next() {
		rec := &RevertRecord{}
		var ts string
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.Trigger, &rec.Reason, &rec.Success,
			&rec.Actions, &rec.PreviousVersion, &rec.RevertedToVersion, &rec.DurationMs, &ts); err != nil {
			return nil, err
		}
		rec.ExecutedAt, _ = parseTime(ts)
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (s *sqliteStore) CountReverts(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM revert_history`).Scan(&count)
	return count, err
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// parseTime handles multiple SQLite datetime formats.
func parseTime(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q", s)
}
