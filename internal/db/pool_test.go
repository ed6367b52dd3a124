package db

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jjudge-oj/userservice/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestPool(t *testing.T, maxConns int, acquireTimeout time.Duration) *Pool {
	t.Helper()

	pool, err := Open(context.Background(), config.DatabaseConfig{
		URL:             "sqlite://" + filepath.Join(t.TempDir(), "test.db"),
		MaxConns:        maxConns,
		AcquireTimeout:  acquireTimeout,
		ConnMaxIdleTime: time.Minute,
		ConnMaxLifetime: time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = pool.Close()
	})
	return pool
}

func TestParseURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		dialect Dialect
		dsn     string
		wantErr bool
	}{
		{
			name:    "postgres scheme",
			raw:     "postgres://u:p@localhost:5432/users?sslmode=disable",
			dialect: DialectPostgres,
			dsn:     "postgres://u:p@localhost:5432/users?sslmode=disable",
		},
		{
			name:    "postgresql scheme",
			raw:     "postgresql://localhost/users",
			dialect: DialectPostgres,
			dsn:     "postgresql://localhost/users",
		},
		{
			name:    "sqlite scheme",
			raw:     "sqlite:///var/lib/users.db",
			dialect: DialectSQLite,
			dsn:     "file:/var/lib/users.db?" + sqlitePragmas,
		},
		{
			name:    "file uri keeps its query",
			raw:     "file:users.db?mode=rwc",
			dialect: DialectSQLite,
			dsn:     "file:users.db?mode=rwc&" + sqlitePragmas,
		},
		{
			name:    "bare path",
			raw:     "./data/users.db",
			dialect: DialectSQLite,
			dsn:     "file:./data/users.db?" + sqlitePragmas,
		},
		{name: "empty", raw: "  ", wantErr: true},
		{name: "sqlite without path", raw: "sqlite://", wantErr: true},
		{name: "unknown scheme", raw: "mysql://localhost/users", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dialect, dsn, err := ParseURL(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.dialect, dialect)
			assert.Equal(t, tt.dsn, dsn)
		})
	}
}

func TestRebind(t *testing.T) {
	t.Parallel()

	query := `UPDATE users SET username = ?, email = ? WHERE id = ?`
	assert.Equal(t, `UPDATE users SET username = $1, email = $2 WHERE id = $3`, Rebind(DialectPostgres, query))
	assert.Equal(t, query, Rebind(DialectSQLite, query))
}

func TestPool_ReleasesOnError(t *testing.T) {
	pool := openTestPool(t, 1, time.Second)
	ctx := context.Background()

	boom := errors.New("boom")
	for i := 0; i < 5; i++ {
		err := pool.WithConn(ctx, func(ctx context.Context, conn *sql.Conn) error {
			_, err := conn.ExecContext(ctx, `SELECT * FROM nonexistent_table_xyz`)
			require.Error(t, err)
			return boom
		})
		require.ErrorIs(t, err, boom)
	}

	assert.Equal(t, 0, pool.Stats().InUse, "connection should be back in the pool")
	require.NoError(t, pool.Ping(ctx))
}

func TestPool_ReleasesOnPanic(t *testing.T) {
	pool := openTestPool(t, 1, time.Second)
	ctx := context.Background()

	require.Panics(t, func() {
		_ = pool.WithConn(ctx, func(ctx context.Context, conn *sql.Conn) error {
			panic("handler blew up")
		})
	})

	assert.Equal(t, 0, pool.Stats().InUse)
	require.NoError(t, pool.Ping(ctx))
}

func TestPool_ExhaustedAfterAcquireTimeout(t *testing.T) {
	pool := openTestPool(t, 1, 50*time.Millisecond)
	ctx := context.Background()

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- pool.WithConn(ctx, func(ctx context.Context, conn *sql.Conn) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	start := time.Now()
	err := pool.WithConn(ctx, func(ctx context.Context, conn *sql.Conn) error {
		t.Error("callback must not run without a connection")
		return nil
	})
	require.ErrorIs(t, err, ErrPoolExhausted)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond, "should wait before failing")

	close(release)
	require.NoError(t, <-done)
	require.NoError(t, pool.Ping(ctx), "pool should recover once the holder releases")
}

func TestPool_WaitsForReleasedConnection(t *testing.T) {
	pool := openTestPool(t, 1, 2*time.Second)
	ctx := context.Background()

	held := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- pool.WithConn(ctx, func(ctx context.Context, conn *sql.Conn) error {
			close(held)
			time.Sleep(100 * time.Millisecond)
			return nil
		})
	}()
	<-held

	require.NoError(t, pool.Ping(ctx), "waiter should get the connection once it is released")
	require.NoError(t, <-done)
}

func TestPool_CallerCancelWhileWaiting(t *testing.T) {
	pool := openTestPool(t, 1, 5*time.Second)

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- pool.WithConn(context.Background(), func(ctx context.Context, conn *sql.Conn) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := pool.Ping(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotErrorIs(t, err, ErrPoolExhausted)

	close(release)
	require.NoError(t, <-done)
}

func TestPool_WorkSurvivesCallerCancel(t *testing.T) {
	pool := openTestPool(t, 2, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	err := pool.WithConn(ctx, func(ctx context.Context, conn *sql.Conn) error {
		cancel()
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := conn.ExecContext(ctx, `CREATE TABLE survivors (id INTEGER)`)
		return err
	})
	require.NoError(t, err)
}

func TestPool_WithTxRollsBack(t *testing.T) {
	pool := openTestPool(t, 2, time.Second)
	ctx := context.Background()

	require.NoError(t, pool.WithConn(ctx, func(ctx context.Context, conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `CREATE TABLE items (id INTEGER PRIMARY KEY)`)
		return err
	}))

	boom := errors.New("boom")
	err := pool.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO items (id) VALUES (1)`); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, pool.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO items (id) VALUES (2)`)
		return err
	}))

	var ids []int
	require.NoError(t, pool.WithConn(ctx, func(ctx context.Context, conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, `SELECT id FROM items ORDER BY id`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id int
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return rows.Err()
	}))
	assert.Equal(t, []int{2}, ids)
}
