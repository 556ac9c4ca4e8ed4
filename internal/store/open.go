// Package store holds the SQLite plumbing shared by the persistent memory
// backends: connection setup, pragmas and schema migration.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"unimem/internal/logging"

	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Open opens (creating if needed) the SQLite database at path and applies
// the schema statements in order. The pool is pinned to one connection so
// ":memory:" databases stay coherent and writers never contend.
func Open(ctx context.Context, path string, log *logging.Logger, schema ...string) (*sql.DB, error) {
	timer := log.StartTimer("store.Open")
	defer timer.Stop()

	if path == "" {
		path = MemoryPath
	}
	if path != MemoryPath {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Error("Failed to create directory %s: %v", dir, err)
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		log.Error("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		log.Debug("Failed to set sqlite busy_timeout: %v", err)
	}
	if path != MemoryPath {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
			log.Debug("Failed to set sqlite journal_mode=WAL: %v", err)
		}
		if _, err := db.ExecContext(ctx, "PRAGMA synchronous = NORMAL"); err != nil {
			log.Debug("Failed to set sqlite synchronous=NORMAL: %v", err)
		}
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		log.Debug("Failed to enable foreign keys: %v", err)
	}

	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			log.Error("Schema statement %d failed: %v", i, err)
			db.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	log.Debug("Opened SQLite database %s (%d schema statements)", path, len(schema))
	return db, nil
}
