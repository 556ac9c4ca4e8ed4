package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAppliesSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "test.db")

	db, err := Open(ctx, path, nil, `CREATE TABLE IF NOT EXISTS kv (k TEXT PRIMARY KEY, v TEXT)`)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.ExecContext(ctx, `INSERT INTO kv (k, v) VALUES ('a', 'b')`)
	require.NoError(t, err)

	var v string
	require.NoError(t, db.QueryRowContext(ctx, `SELECT v FROM kv WHERE k = 'a'`).Scan(&v))
	assert.Equal(t, "b", v)
}

func TestOpenInMemoryIsCoherent(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, "", nil, `CREATE TABLE t (x INTEGER)`)
	require.NoError(t, err)
	defer db.Close()

	for i := 0; i < 3; i++ {
		_, err := db.ExecContext(ctx, `INSERT INTO t (x) VALUES (?)`, i)
		require.NoError(t, err)
	}
	var n int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM t`).Scan(&n))
	assert.Equal(t, 3, n)
}

func TestOpenRejectsBadSchema(t *testing.T) {
	_, err := Open(context.Background(), MemoryPath, nil, `CREATE TABLE (`)
	require.Error(t, err)
}
