package dialect

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ideate/ideate/internal/db"
)

func TestIsPostgres(t *testing.T) {
	assert.True(t, IsPostgres(PGX))
	assert.False(t, IsPostgres(SQLite3))
}

func TestBoolToInt(t *testing.T) {
	assert.Equal(t, 1, BoolToInt(true))
	assert.Equal(t, 0, BoolToInt(false))
}

func TestDurationMs(t *testing.T) {
	assert.Equal(t,
		"(julianday(completed_at) - julianday(created_at)) * 86400000",
		DurationMs(SQLite3, "completed_at", "created_at"))
	assert.Equal(t,
		"EXTRACT(EPOCH FROM (completed_at - created_at)) * 1000",
		DurationMs(PGX, "completed_at", "created_at"))
}

func TestLike(t *testing.T) {
	assert.Equal(t, "LIKE", Like(SQLite3))
	assert.Equal(t, "ILIKE", Like(PGX))
}

func TestUpsert(t *testing.T) {
	assert.Equal(t,
		"INSERT OR REPLACE INTO brainstorms (id, request, approved) VALUES (?, ?, ?)",
		Upsert(SQLite3, "brainstorms", "id", "request", "approved"))

	assert.Equal(t,
		"INSERT INTO brainstorms (id, request, approved) VALUES (?, ?, ?) "+
			"ON CONFLICT (id) DO UPDATE SET request = EXCLUDED.request, approved = EXCLUDED.approved",
		Upsert(PGX, "brainstorms", "id", "request", "approved"))
}

func TestUpsert_SQLiteExec(t *testing.T) {
	rawDB, err := db.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(rawDB, SQLite3)
	t.Cleanup(func() { _ = sqlxDB.Close() })

	_, err = sqlxDB.Exec(`CREATE TABLE test_upsert (id TEXT PRIMARY KEY, name TEXT NOT NULL)`)
	require.NoError(t, err)

	ctx := context.Background()
	query := Upsert(SQLite3, "test_upsert", "id", "name")

	_, err = sqlxDB.ExecContext(ctx, query, "a", "first")
	require.NoError(t, err)
	_, err = sqlxDB.ExecContext(ctx, query, "a", "second")
	require.NoError(t, err)

	var name string
	require.NoError(t, sqlxDB.GetContext(ctx, &name, `SELECT name FROM test_upsert WHERE id = ?`, "a"))
	assert.Equal(t, "second", name, "second insert replaces the first")

	var count int
	require.NoError(t, sqlxDB.GetContext(ctx, &count, `SELECT COUNT(*) FROM test_upsert`))
	assert.Equal(t, 1, count)
}
