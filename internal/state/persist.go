package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kore-ai/brain/internal/logging"
	"github.com/kore-ai/brain/internal/types"
)

const globalTag = "GLOBAL"

func openDB(dbPath string) (*sql.DB, error) {
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
	return db, nil
}

// Persist serializes the full state (global + per-layer) to a durable
// key/value table. Each persisted key is tagged with its owning layer so
// restoration is unambiguous.
func (s *Store) Persist(dbPath string) error {
	db, err := openDB(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS trigger_state (
			key TEXT PRIMARY KEY,
			value TEXT,
			layer TEXT,
			updated_at TEXT
		)`); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}

	snap := s.Snapshot()
	now := time.Now().Format(time.RFC3339)

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO trigger_state (key, value, layer, updated_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	write := func(key string, value any, layer string) error {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", key, err)
		}
		_, err = stmt.Exec(key, string(data), layer, now)
		return err
	}

	for key, value := range snap.Global {
		if err := write(key, value, globalTag); err != nil {
			return err
		}
	}
	for layerName, m := range snap.Layers {
		for key, value := range m {
			if err := write(layerName+"."+key, value, layerName); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	logging.Info("state", "State persisted to %s", dbPath)
	return nil
}

// Restore loads persisted state back into the store. Rows that fail to
// decode are logged and skipped.
func (s *Store) Restore(dbPath string) error {
	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("state database not found: %w", err)
	}
	db, err := openDB(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.Query(`SELECT key, value, layer FROM trigger_state`)
	if err != nil {
		return fmt.Errorf("query state: %w", err)
	}
	defer rows.Close()

	restored := 0
	for rows.Next() {
		var key, valueJSON, layerTag string
		if err := rows.Scan(&key, &valueJSON, &layerTag); err != nil {
			logging.Warn("state", "Failed to scan state row: %v", err)
			continue
		}
		var value any
		if err := json.Unmarshal([]byte(valueJSON), &value); err != nil {
			logging.Warn("state", "Failed to decode state key %q: %v", key, err)
			continue
		}

		if layerTag == globalTag {
			s.Set(key, value)
			restored++
			continue
		}
		layer, err := types.ParseLayer(layerTag)
		if err != nil {
			logging.Warn("state", "Unknown layer tag %q for key %q", layerTag, key)
			continue
		}
		layerKey := strings.TrimPrefix(key, layerTag+".")
		s.LayerSet(layer, layerKey, value)
		restored++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate state: %w", err)
	}

	logging.Info("state", "Restored %d state values from %s", restored, dbPath)
	return nil
}
