// Package history persists an audit log of build runs. It lives outside the
// engine core on purpose: per-run engine state never survives a run, but
// operators still want to know what was built, when and how it ended.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Status is the final outcome of a recorded run.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Entry is one recorded build run.
type Entry struct {
	RunID       string        `json:"run_id"`
	StackID     string        `json:"stack_id"`
	Status      Status        `json:"status"`
	Files       int           `json:"files"`
	Warnings    int           `json:"warnings"`
	Duration    time.Duration `json:"duration"`
	StartedAt   time.Time     `json:"started_at"`
	Diagnostics []string      `json:"diagnostics,omitempty"`
}

// Store records build runs in SQLite. Use ":memory:" for tests.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates or opens a history database and ensures its schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize history schema: %w", err)
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		stack_id TEXT NOT NULL,
		status TEXT NOT NULL,
		files INTEGER NOT NULL,
		warnings INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		started_at INTEGER NOT NULL,
		diagnostics TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_runs_run_id ON runs(run_id);
	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record appends one run entry.
func (s *Store) Record(ctx context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var diagJSON []byte
	if len(e.Diagnostics) > 0 {
		var err error
		diagJSON, err = json.Marshal(e.Diagnostics)
		if err != nil {
			return fmt.Errorf("marshal diagnostics: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO runs (run_id, stack_id, status, files, warnings, duration_ms, started_at, diagnostics) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		e.RunID, e.StackID, string(e.Status), e.Files, e.Warnings,
		e.Duration.Milliseconds(), e.StartedAt.Unix(), diagJSON,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Recent returns the latest n entries, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT run_id, stack_id, status, files, warnings, duration_ms, started_at, diagnostics FROM runs ORDER BY id DESC LIMIT ?", n)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var status string
		var durationMS, startedUnix int64
		var diagJSON []byte
		if err := rows.Scan(&e.RunID, &e.StackID, &status, &e.Files, &e.Warnings,
			&durationMS, &startedUnix, &diagJSON); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		e.Status = Status(status)
		e.Duration = time.Duration(durationMS) * time.Millisecond
		e.StartedAt = time.Unix(startedUnix, 0).UTC()
		if len(diagJSON) > 0 {
			if err := json.Unmarshal(diagJSON, &e.Diagnostics); err != nil {
				return nil, fmt.Errorf("unmarshal diagnostics: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the underlying database.
func (s *Store) Close() error { return s.db.Close() }
