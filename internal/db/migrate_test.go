package db

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func tableExists(t *testing.T, pool *Pool, name string) bool {
	t.Helper()

	var count int
	require.NoError(t, pool.WithConn(context.Background(), func(ctx context.Context, conn *sql.Conn) error {
		return conn.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM sqlite_master WHERE type = 'table' AND name = ?`, name,
		).Scan(&count)
	}))
	return count == 1
}

func TestMigrator_EmbeddedScripts(t *testing.T) {
	pool := openTestPool(t, 2, time.Second)
	ctx := context.Background()
	migrator := NewMigrator(pool, quietLogger())

	applied, err := migrator.Up(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, applied)
	assert.True(t, tableExists(t, pool, "users"))

	t.Run("rerun is a no-op", func(t *testing.T) {
		applied, err := migrator.Up(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, applied)
	})

	t.Run("status records name and time", func(t *testing.T) {
		status, err := migrator.Status(ctx)
		require.NoError(t, err)
		require.Len(t, status, 2)

		assert.Equal(t, uint(20250611000000), status[0].Version)
		assert.Equal(t, "create_users", status[0].Name)
		assert.Equal(t, "users_created_at_index", status[1].Name)
		for _, m := range status {
			require.False(t, m.Pending())
			assert.WithinDuration(t, time.Now(), *m.AppliedAt, time.Minute)
		}
	})
}

func TestMigrator_AppliesInVersionOrder(t *testing.T) {
	pool := openTestPool(t, 2, time.Second)
	ctx := context.Background()

	fsys := fstest.MapFS{
		"m/3_add_index.up.sql":     {Data: []byte(`CREATE INDEX IF NOT EXISTS things_name_idx ON things (name);`)},
		"m/10_add_column.up.sql":   {Data: []byte(`ALTER TABLE things ADD COLUMN extra TEXT;`)},
		"m/1_create_things.up.sql": {Data: []byte(`CREATE TABLE IF NOT EXISTS things (id INTEGER PRIMARY KEY, name TEXT);`)},
	}

	applied, err := NewMigratorFS(pool, fsys, "m", quietLogger()).Up(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, applied)

	status, err := NewMigratorFS(pool, fsys, "m", quietLogger()).Status(ctx)
	require.NoError(t, err)
	versions := make([]uint, 0, len(status))
	for _, m := range status {
		versions = append(versions, m.Version)
	}
	assert.Equal(t, []uint{1, 3, 10}, versions)
}

func TestMigrator_FailureIsAtomicAndResumable(t *testing.T) {
	pool := openTestPool(t, 2, time.Second)
	ctx := context.Background()

	broken := fstest.MapFS{
		"m/1_create_things.up.sql": {Data: []byte(`CREATE TABLE IF NOT EXISTS things (id INTEGER PRIMARY KEY);`)},
		"m/2_half_done.up.sql":     {Data: []byte(`CREATE TABLE partial (id INTEGER); THIS IS NOT SQL;`)},
	}

	applied, err := NewMigratorFS(pool, broken, "m", quietLogger()).Up(ctx)
	require.ErrorIs(t, err, ErrMigration)
	assert.Contains(t, err.Error(), "2_half_done")
	assert.Equal(t, 1, applied)
	assert.True(t, tableExists(t, pool, "things"))
	assert.False(t, tableExists(t, pool, "partial"), "failed script must roll back")

	status, err := NewMigratorFS(pool, broken, "m", quietLogger()).Status(ctx)
	require.NoError(t, err)
	require.Len(t, status, 2)
	assert.False(t, status[0].Pending())
	assert.True(t, status[1].Pending())

	fixed := fstest.MapFS{
		"m/1_create_things.up.sql": broken["m/1_create_things.up.sql"],
		"m/2_half_done.up.sql":     {Data: []byte(`CREATE TABLE IF NOT EXISTS partial (id INTEGER);`)},
	}
	applied, err = NewMigratorFS(pool, fixed, "m", quietLogger()).Up(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	assert.True(t, tableExists(t, pool, "partial"))
}

func TestMigrator_EffectsAlreadyPresent(t *testing.T) {
	pool := openTestPool(t, 2, time.Second)
	ctx := context.Background()

	// Schema exists but was never recorded, e.g. a crash between the DDL and
	// the bookkeeping insert on a driver without transactional DDL.
	require.NoError(t, pool.WithConn(ctx, func(ctx context.Context, conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `CREATE TABLE users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL UNIQUE,
			email TEXT NOT NULL UNIQUE,
			created_at TIMESTAMP NOT NULL
		)`)
		return err
	}))

	applied, err := NewMigrator(pool, quietLogger()).Up(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, applied)
}

func TestMigrator_EmptySource(t *testing.T) {
	pool := openTestPool(t, 1, time.Second)

	fsys := fstest.MapFS{"m/README": {Data: []byte("no scripts yet")}}
	applied, err := NewMigratorFS(pool, fsys, "m", quietLogger()).Up(context.Background())
	require.NoError(t, err)
	assert.Zero(t, applied)
}
