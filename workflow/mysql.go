package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/djjay0131/agentic-kg/faults"
)

// MySQLRunStore persists runs in MySQL for deployments that already carry
// one. Same layout as the SQLite store.
type MySQLRunStore struct {
	db *sql.DB
}

// NewMySQLRunStore connects with a go-sql-driver DSN, e.g.
// "user:pass@tcp(host:3306)/agentic_kg?parseTime=true".
func NewMySQLRunStore(dsn string) (*MySQLRunStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql connection: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping mysql: %w", err)
	}

	const schema = `
	CREATE TABLE IF NOT EXISTS workflow_runs (
		id VARCHAR(64) PRIMARY KEY,
		status VARCHAR(32) NOT NULL,
		checkpoint VARCHAR(64) NOT NULL DEFAULT '',
		data JSON NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		INDEX idx_workflow_runs_status (status)
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &MySQLRunStore{db: db}, nil
}

func (s *MySQLRunStore) SaveRun(ctx context.Context, r Run) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_runs (id, status, checkpoint, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			status = VALUES(status),
			checkpoint = VALUES(checkpoint),
			data = VALUES(data),
			updated_at = VALUES(updated_at)`,
		r.ID, string(r.Status), string(r.Checkpoint), string(data), r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

func (s *MySQLRunStore) GetRun(ctx context.Context, id string) (Run, error) {
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

func (s *MySQLRunStore) ListRuns(ctx context.Context) ([]Run, error) {
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

func (s *MySQLRunStore) Close() error { return s.db.Close() }
