// Package state records operation history in SQLite so that `history` and
// `status` can report past backups, restores, and deployments.
package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// State manages operation history in SQLite
type State struct {
	db *sql.DB
}

// Operation is one recorded backup, restore, pack, or deploy run
type Operation struct {
	ID          string
	OpType      string
	Subject     string
	Status      string
	StartedAt   time.Time
	CompletedAt *time.Time
	Detail      string
	ErrorMsg    string
}

const timeLayout = "2006-01-02 15:04:05"

// New opens (creating if needed) the history database under dataDir
func New(dataDir string) (*State, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "history.db")
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &State{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return s, nil
}

func (s *State) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS operations (
		id TEXT PRIMARY KEY,
		op_type TEXT NOT NULL,
		subject TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'running',
		started_at TEXT NOT NULL,
		completed_at TEXT,
		detail TEXT,
		error_message TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_operations_type ON operations(op_type);
	CREATE INDEX IF NOT EXISTS idx_operations_subject ON operations(subject);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *State) Close() error {
	return s.db.Close()
}

// Begin records the start of an operation. detail is marshaled to JSON.
func (s *State) Begin(id, opType, subject string, detail any) error {
	detailJSON, _ := json.Marshal(detail)
	_, err := s.db.Exec(`
		INSERT INTO operations (id, op_type, subject, status, started_at, detail)
		VALUES (?, ?, ?, 'running', datetime('now'), ?)
	`, id, opType, subject, string(detailJSON))
	return err
}

// Complete marks an operation finished with the given status
func (s *State) Complete(id, status, errorMsg string) error {
	_, err := s.db.Exec(`
		UPDATE operations SET status = ?, completed_at = datetime('now'), error_message = ?
		WHERE id = ?
	`, status, errorMsg, id)
	return err
}

// LastIncomplete returns the most recent operation still marked running,
// or nil if none. A non-nil result usually means a prior run crashed.
func (s *State) LastIncomplete() (*Operation, error) {
	var op Operation
	var startedAtStr string
	err := s.db.QueryRow(`
		SELECT id, op_type, subject, status, started_at
		FROM operations WHERE status = 'running'
		ORDER BY started_at DESC LIMIT 1
	`).Scan(&op.ID, &op.OpType, &op.Subject, &op.Status, &startedAtStr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	op.StartedAt, _ = time.Parse(timeLayout, startedAtStr)
	return &op, nil
}

// Recent returns the most recent operations, newest first
func (s *State) Recent(limit int) ([]Operation, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, op_type, subject, status, started_at, completed_at, detail, COALESCE(error_message, '')
		FROM operations ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []Operation
	for rows.Next() {
		var op Operation
		var startedAtStr string
		var completedAtStr, detail sql.NullString
		if err := rows.Scan(&op.ID, &op.OpType, &op.Subject, &op.Status, &startedAtStr, &completedAtStr, &detail, &op.ErrorMsg); err != nil {
			return nil, err
		}
		op.StartedAt, _ = time.Parse(timeLayout, startedAtStr)
		if completedAtStr.Valid {
			t, _ := time.Parse(timeLayout, completedAtStr.String)
			op.CompletedAt = &t
		}
		op.Detail = detail.String
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// Stats returns per-status counts across all recorded operations
func (s *State) Stats() (total, running, success, failed int, err error) {
	err = s.db.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'running' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0)
		FROM operations
	`).Scan(&total, &running, &success, &failed)
	return
}

// MarkStaleFailed flips any still-running operation older than cutoff to
// failed. Used on startup to clean up after crashes.
func (s *State) MarkStaleFailed(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`
		UPDATE operations SET status = 'failed', completed_at = datetime('now'),
			error_message = 'interrupted'
		WHERE status = 'running' AND started_at < ?
	`, cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
