// Package journal appends settled jobs to a SQLite history table. The
// dispatcher writes to it; nothing reads it back into scheduler state.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const maxErrorBytes = 4 * 1024

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusRejected  Status = "rejected"
	StatusInvalid   Status = "invalid"
)

// Entry is one settled job.
type Entry struct {
	JobID       string    `json:"job_id"`
	Type        string    `json:"type"`
	Status      Status    `json:"status"`
	Multi       bool      `json:"multi"`
	Constraints []string  `json:"constraints"`
	Workers     []int     `json:"workers"`
	LastError   *string   `json:"last_error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

type Journal struct {
	db *sql.DB
}

func New(db *sql.DB) *Journal {
	return &Journal{db: db}
}

// Record inserts e. Re-recording the same job ID replaces the row.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if e.JobID == "" {
		return fmt.Errorf("job id is empty")
	}

	constraints, err := json.Marshal(nonNil(e.Constraints))
	if err != nil {
		return fmt.Errorf("marshal constraints: %w", err)
	}
	workers, err := json.Marshal(nonNilInts(e.Workers))
	if err != nil {
		return fmt.Errorf("marshal workers: %w", err)
	}

	var lastError any
	if e.LastError != nil {
		s := *e.LastError
		if len(s) > maxErrorBytes {
			s = s[:maxErrorBytes]
		}
		lastError = s
	}

	_, err = j.db.ExecContext(ctx, `
INSERT INTO job_history(id, type, status, multi, constraints, workers, last_error, started_at, completed_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  status = excluded.status,
  workers = excluded.workers,
  last_error = excluded.last_error,
  completed_at = excluded.completed_at;
`, e.JobID, e.Type, e.Status, e.Multi, string(constraints), string(workers), lastError,
		e.StartedAt.UTC().Format(time.RFC3339Nano), e.CompletedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert job_history: %w", err)
	}
	return nil
}

// ErrNotFound is returned by Get for an unknown job ID.
var ErrNotFound = errors.New("job not found")

const selectColumns = `SELECT id, type, status, multi, constraints, workers, last_error, started_at, completed_at
FROM job_history`

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := j.db.QueryContext(ctx, selectColumns+`
ORDER BY completed_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query job_history: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Get returns the entry for jobID.
func (j *Journal) Get(ctx context.Context, jobID string) (Entry, error) {
	row := j.db.QueryRowContext(ctx, selectColumns+`
WHERE id = ?;
`, jobID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: %q", ErrNotFound, jobID)
	}
	return e, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var (
		e            Entry
		status       string
		constraints  string
		workers      string
		lastError    sql.NullString
		startedAtS   string
		completedAtS string
	)
	if err := s.Scan(&e.JobID, &e.Type, &status, &e.Multi, &constraints, &workers, &lastError, &startedAtS, &completedAtS); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("scan job_history: %w", err)
	}
	e.Status = Status(status)
	if err := json.Unmarshal([]byte(constraints), &e.Constraints); err != nil {
		return Entry{}, fmt.Errorf("decode constraints for %s: %w", e.JobID, err)
	}
	if err := json.Unmarshal([]byte(workers), &e.Workers); err != nil {
		return Entry{}, fmt.Errorf("decode workers for %s: %w", e.JobID, err)
	}
	if lastError.Valid {
		e.LastError = &lastError.String
	}
	if t, err := time.Parse(time.RFC3339Nano, startedAtS); err == nil {
		e.StartedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, completedAtS); err == nil {
		e.CompletedAt = t
	}
	return e, nil
}

// Prune deletes entries completed more than retention ago.
func (j *Journal) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention).Format(time.RFC3339Nano)
	res, err := j.db.ExecContext(ctx, `DELETE FROM job_history WHERE completed_at < ?;`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune job_history: %w", err)
	}
	return res.RowsAffected()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilInts(s []int) []int {
	if s == nil {
		return []int{}
	}
	return s
}
