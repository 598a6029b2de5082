// Package history is an opt-in, best-effort audit log of past trace
// sessions, backed by SQLite via modernc.org/sqlite. Nothing here
// participates in the trace-control state machine or the primary stdout
// contract — a history-store failure is always non-fatal to a trace run.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Run records one completed (or in-flight) trace session.
type Run struct {
	ID        string
	Command   string // space-joined argv, as passed to the CLI
	StartedAt time.Time
	EndedAt   time.Time
	ExecCount int
	Err       string // non-empty if the run ended in a fatal controller error
}

// Store is a handle to the history database.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	command    TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	ended_at   INTEGER,
	exec_count INTEGER NOT NULL DEFAULT 0,
	err        TEXT
);
`

// Open opens or creates the history database at path. path may be
// ":memory:" for a transient, test-only store.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	if path == ":memory:" {
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open failed: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: schema init failed: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Begin inserts a new run row and returns its id, to be completed later
// via Finish.
func (s *Store) Begin(ctx context.Context, command string, startedAt time.Time) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, command, started_at, exec_count) VALUES (?, ?, ?, 0)`,
		id, command, startedAt.Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("history: begin failed: %w", err)
	}
	return id, nil
}

// Finish records the outcome of a run started with Begin.
func (s *Store) Finish(ctx context.Context, id string, endedAt time.Time, execCount int, runErr error) error {
	var errText sql.NullString
	if runErr != nil {
		errText = sql.NullString{String: runErr.Error(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET ended_at = ?, exec_count = ?, err = ? WHERE id = ?`,
		endedAt.Unix(), execCount, errText, id,
	)
	if err != nil {
		return fmt.Errorf("history: finish failed: %w", err)
	}
	return nil
}

// List returns recorded runs, most recent first.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, command, started_at, ended_at, exec_count, err FROM runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("history: list failed: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r        Run
			started  int64
			ended    sql.NullInt64
			errText  sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Command, &started, &ended, &r.ExecCount, &errText); err != nil {
			return nil, fmt.Errorf("history: scan failed: %w", err)
		}
		r.StartedAt = time.Unix(started, 0)
		if ended.Valid {
			r.EndedAt = time.Unix(ended.Int64, 0)
		}
		r.Err = errText.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
