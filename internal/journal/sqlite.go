package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/haasonsaas/franz/internal/agent"
)

const schema = `
CREATE TABLE IF NOT EXISTS cycles (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	cycle INTEGER NOT NULL,
	action_kind TEXT NOT NULL,
	status TEXT NOT NULL,
	outcome TEXT,
	error_kind TEXT,
	started_at_ms INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cycles_run ON cycles(run_id, cycle);
`

// SQLiteStore implements Store on a SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the journal at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate journal: %w", err)
	}
	return nil
}

// Close releases database resources.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordCycle inserts one entry.
func (s *SQLiteStore) RecordCycle(ctx context.Context, rec agent.CycleRecord) error {
	e := newEntry(rec)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cycles (id, run_id, cycle, action_kind, status, outcome, error_kind, started_at_ms, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID,
		e.RunID,
		e.Cycle,
		e.ActionKind,
		e.Status,
		nullableString(e.Outcome),
		nullableString(e.ErrorKind),
		e.StartedAt.UnixMilli(),
		e.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("record cycle: %w", err)
	}
	return nil
}

// List returns the entries of runID ordered by cycle.
func (s *SQLiteStore) List(ctx context.Context, runID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, cycle, action_kind, status, outcome, error_kind, started_at_ms, duration_ms
		FROM cycles
		WHERE run_id = ?
		ORDER BY cycle
		LIMIT ?
	`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("list cycles: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                   Entry
			outcome, errorKind  sql.NullString
			startedMs, duration int64
		)
		if err := rows.Scan(&e.ID, &e.RunID, &e.Cycle, &e.ActionKind, &e.Status, &outcome, &errorKind, &startedMs, &duration); err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		e.Outcome = outcome.String
		e.ErrorKind = errorKind.String
		e.StartedAt = time.UnixMilli(startedMs).UTC()
		e.Duration = time.Duration(duration) * time.Millisecond
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list cycles: %w", err)
	}
	return out, nil
}

// Prune removes entries older than olderThan.
func (s *SQLiteStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM cycles WHERE started_at_ms < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune cycles: %w", err)
	}
	return res.RowsAffected()
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
