// Package ledger persists run attempts and per-task outcomes in a local
// SQLite database. The retry loop uses it to skip tasks that already
// succeeded in an earlier attempt, and `clean` drops an experiment's
// history to force a full re-run.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	experiment  TEXT NOT NULL,
	started_at  TIMESTAMP NOT NULL,
	finished_at TIMESTAMP,
	state       TEXT NOT NULL DEFAULT 'running'
);
CREATE TABLE IF NOT EXISTS task_outcomes (
	run_id      TEXT NOT NULL REFERENCES runs(id),
	experiment  TEXT NOT NULL,
	task        TEXT NOT NULL,
	status      TEXT NOT NULL,
	error       TEXT,
	finished_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outcomes_lookup
	ON task_outcomes (experiment, task, status);
`

// Store is a ledger backed by a single SQLite file.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the ledger at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening ledger %s: %w", path, err)
	}
	// modernc.org/sqlite serializes access per connection; a single
	// connection avoids SQLITE_BUSY under concurrent task writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying ledger schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// BeginRun records a new attempt for the experiment and returns its id.
func (s *Store) BeginRun(ctx context.Context, experiment string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, experiment, started_at) VALUES (?, ?, ?)`,
		id, experiment, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("recording run start: %w", err)
	}
	return id, nil
}

// FinishRun stamps the run's terminal state.
func (s *Store) FinishRun(ctx context.Context, runID, state string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, state = ? WHERE id = ?`,
		time.Now().UTC(), state, runID)
	if err != nil {
		return fmt.Errorf("recording run finish: %w", err)
	}
	return nil
}

// RecordTask stores one task outcome for a run.
func (s *Store) RecordTask(ctx context.Context, runID, experiment, task, status, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_outcomes (run_id, experiment, task, status, error, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		runID, experiment, task, status, errMsg, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("recording task %s: %w", task, err)
	}
	return nil
}

// TaskSucceeded reports whether the task has a succeeded outcome in any
// prior attempt of the experiment.
func (s *Store) TaskSucceeded(ctx context.Context, experiment, task string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM task_outcomes
		 WHERE experiment = ? AND task = ? AND status = 'succeeded'`,
		experiment, task).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("querying task outcome: %w", err)
	}
	return n > 0, nil
}

// Attempts counts recorded runs for the experiment.
func (s *Store) Attempts(ctx context.Context, experiment string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM runs WHERE experiment = ?`, experiment).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting runs: %w", err)
	}
	return n, nil
}

// Reset deletes the experiment's history so the next run starts clean.
func (s *Store) Reset(ctx context.Context, experiment string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("resetting ledger: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM task_outcomes WHERE experiment = ?`, experiment); err != nil {
		return fmt.Errorf("clearing task outcomes: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM runs WHERE experiment = ?`, experiment); err != nil {
		return fmt.Errorf("clearing runs: %w", err)
	}
	return tx.Commit()
}
