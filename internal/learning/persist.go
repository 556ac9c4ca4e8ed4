package learning

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"unimem/internal/logging"
	"unimem/internal/store"
)

// Snapshotter persists the serialized ledger as one unit.
type Snapshotter interface {
	// Load returns the last saved snapshot, or nil when none exists.
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte, count int) error
	Close() error
}

const snapshotSchema = `
CREATE TABLE IF NOT EXISTS learning_snapshot (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	payload BLOB NOT NULL,
	learning_count INTEGER NOT NULL DEFAULT 0,
	saved_at TEXT NOT NULL
)`

// SQLiteSnapshotter keeps the ledger snapshot in a single-row table.
type SQLiteSnapshotter struct {
	db  *sql.DB
	log *logging.Logger
}

// OpenSQLiteSnapshotter opens the snapshot database at path (":memory:" or
// "" for an in-memory one).
func OpenSQLiteSnapshotter(ctx context.Context, path string, log *logging.Logger) (*SQLiteSnapshotter, error) {
	log = log.For(logging.CategoryLearning)
	db, err := store.Open(ctx, path, log, snapshotSchema)
	if err != nil {
		return nil, err
	}
	return &SQLiteSnapshotter{db: db, log: log}, nil
}

// Load implements Snapshotter.
func (s *SQLiteSnapshotter) Load(ctx context.Context) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM learning_snapshot WHERE id = 1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return payload, nil
}

// Save implements Snapshotter.
func (s *SQLiteSnapshotter) Save(ctx context.Context, data []byte, count int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO learning_snapshot (id, payload, learning_count, saved_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			payload = excluded.payload,
			learning_count = excluded.learning_count,
			saved_at = excluded.saved_at`,
		data, count, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	s.log.Debug("Saved learning snapshot (%d learnings, %d bytes)", count, len(data))
	return nil
}

// Close implements Snapshotter.
func (s *SQLiteSnapshotter) Close() error {
	return s.db.Close()
}
