package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/djjay0131/agentic-kg/faults"
)

// SQLiteRunStore persists runs in SQLite. Status and checkpoint live in
// their own columns for filtering; the full run rides in a JSON column.
type SQLiteRunStore struct {
	db *sql.DB
}

func NewSQLiteRunStore(path string) (*SQLiteRunStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	const schema = `
	CREATE TABLE IF NOT EXISTS workflow_runs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		checkpoint TEXT NOT NULL DEFAULT '',
		data TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_workflow_runs_status ON workflow_runs(status);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLiteRunStore{db: db}, nil
}

func (s *SQLiteRunStore) SaveRun(ctx context.Context, r Run) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_runs (id, status, checkpoint, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			checkpoint = excluded.checkpoint,
			data = excluded.data,
			updated_at = excluded.updated_at`,
		r.ID, string(r.Status), string(r.Checkpoint), string(data), r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

func (s *SQLiteRunStore) GetRun(ctx context.Context, id string) (Run, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM workflow_runs WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, faults.New(faults.KindNotFound, "workflow", "run not found: "+id)
	}
	if err != nil {
		return Run{}, fmt.Errorf("failed to load run: %w", err)
	}
	var r Run
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return Run{}, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return r, nil
}

func (s *SQLiteRunStore) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM workflow_runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		var r Run
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteRunStore) Close() error { return s.db.Close() }
