package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteRecorder appends audit records to a sqlite database.
type SQLiteRecorder struct {
	db *sql.DB
}

// OpenSQLite opens or creates the audit database at dir/audit.db.
func OpenSQLite(dir string) (*SQLiteRecorder, error) {
	dbPath := filepath.Join(dir, "audit.db")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS trigger_executions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			trigger_id TEXT NOT NULL,
			trigger_name TEXT,
			layer TEXT,
			action TEXT,
			success INTEGER,
			duration_ms REAL,
			error TEXT,
			executed_at TEXT
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return &SQLiteRecorder{db: db}, nil
}

// Record appends one record.
func (s *SQLiteRecorder) Record(ctx context.Context, rec Record) error {
	at := rec.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trigger_executions
		(trigger_id, trigger_name, layer, action, success, duration_ms, error, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TriggerID, rec.TriggerName, rec.Layer, rec.Action,
		rec.Success, rec.DurationMS, rec.Error, at.Format(time.RFC3339Nano))
	return err
}

// Recent returns the latest records, newest first.
func (s *SQLiteRecorder) Recent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trigger_id, trigger_name, layer, action, success, duration_ms, error, executed_at
		FROM trigger_executions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var at string
		if err := rows.Scan(&rec.TriggerID, &rec.TriggerName, &rec.Layer, &rec.Action,
			&rec.Success, &rec.DurationMS, &rec.Error, &at); err != nil {
			return nil, err
		}
		rec.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteRecorder) Close() error {
	return s.db.Close()
}
