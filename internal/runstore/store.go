// Package runstore persists one record per profiling session so runs can
// be listed and compared across models after the process exits.
package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zealscott/autoprofiler/internal/profile"
)

// Session statuses.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusPartial  = "partial"
	StatusFailed   = "failed"
)

// ErrNotFound is returned by Get for an unknown session id.
var ErrNotFound = errors.New("session not found")

// Record is one profiling session.
type Record struct {
	ID          string              `json:"id"`
	User        string              `json:"user"`
	Model       string              `json:"model"`
	Targets     []string            `json:"targets"`
	Status      string              `json:"status"`
	Cycles      int                 `json:"cycles"`
	Visited     int                 `json:"visited"`
	Total       int                 `json:"total"`
	Attributes  []profile.Inference `json:"attributes,omitempty"`
	Summary     string              `json:"summary,omitempty"`
	StartedAt   time.Time           `json:"started_at"`
	CompletedAt time.Time           `json:"completed_at,omitzero"`
	DurationMs  int64               `json:"duration_ms"`
	Error       string              `json:"error,omitempty"`
}

// Store keeps session records in the shared database.
type Store struct {
	db *sql.DB
}

// NewStore creates the sessions table on db if needed.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("session store migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id           TEXT PRIMARY KEY,
			user         TEXT NOT NULL,
			model        TEXT NOT NULL,
			targets      TEXT NOT NULL,
			status       TEXT NOT NULL,
			cycles       INTEGER NOT NULL DEFAULT 0,
			visited      INTEGER NOT NULL DEFAULT 0,
			total        INTEGER NOT NULL DEFAULT 0,
			attributes   TEXT,
			summary      TEXT,
			started_at   TEXT NOT NULL,
			completed_at TEXT,
			duration_ms  INTEGER NOT NULL DEFAULT 0,
			error        TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_user
			ON sessions(user, started_at DESC);
		CREATE INDEX IF NOT EXISTS idx_sessions_model
			ON sessions(model);
	`)
	return err
}

// Start inserts rec with StatusRunning.
func (s *Store) Start(ctx context.Context, rec *Record) error {
	targets, err := json.Marshal(rec.Targets)
	if err != nil {
		return fmt.Errorf("marshal targets: %w", err)
	}
	rec.Status = StatusRunning

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user, model, targets, status, total, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.User, rec.Model, string(targets), rec.Status, rec.Total,
		rec.StartedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert session %s: %w", rec.ID, err)
	}
	return nil
}

// Finish stores the terminal state of rec.
func (s *Store) Finish(ctx context.Context, rec *Record) error {
	attrs, err := json.Marshal(rec.Attributes)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET
			status = ?, cycles = ?, visited = ?, total = ?,
			attributes = ?, summary = ?, completed_at = ?, duration_ms = ?, error = ?
		WHERE id = ?`,
		rec.Status, rec.Cycles, rec.Visited, rec.Total,
		string(attrs), rec.Summary,
		rec.CompletedAt.Format(time.RFC3339Nano), rec.DurationMs, rec.Error,
		rec.ID,
	)
	if err != nil {
		return fmt.Errorf("update session %s: %w", rec.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update session %s: %w", rec.ID, ErrNotFound)
	}
	return nil
}

const selectColumns = `
	SELECT id, user, model, targets, status, cycles, visited, total,
		attributes, summary, started_at, completed_at, duration_ms, error
	FROM sessions`

// Get returns the session with the given id.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	rec, err := scanInto(s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// List returns sessions newest first, optionally filtered by user. A
// limit of 0 returns all of them.
func (s *Store) List(ctx context.Context, user string, limit int) ([]*Record, error) {
	query := selectColumns
	var args []any
	if user != "" {
		query += ` WHERE user = ?`
		args = append(args, user)
	}
	query += ` ORDER BY started_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanInto(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanInto(s scanner) (*Record, error) {
	var rec Record
	var targets string
	var attrs, summary, completedAt, errStr sql.NullString
	var startedAt string

	err := s.Scan(
		&rec.ID, &rec.User, &rec.Model, &targets, &rec.Status,
		&rec.Cycles, &rec.Visited, &rec.Total,
		&attrs, &summary, &startedAt, &completedAt,
		&rec.DurationMs, &errStr,
	)
	if err != nil {
		return nil, err
	}

	rec.Summary = summary.String
	rec.Error = errStr.String
	rec.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	if completedAt.Valid && completedAt.String != "" {
		rec.CompletedAt, _ = time.Parse(time.RFC3339Nano, completedAt.String)
	}

	_ = json.Unmarshal([]byte(targets), &rec.Targets)
	if attrs.Valid && attrs.String != "" && attrs.String != "null" {
		_ = json.Unmarshal([]byte(attrs.String), &rec.Attributes)
	}
	return &rec, nil
}
