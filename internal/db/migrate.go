package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jjudge-oj/userservice/internal/db/migrations"
)

// ErrMigration wraps every failure of the schema migrator. Startup treats
// it as fatal.
var ErrMigration = errors.New("db: migration failed")

// Migration is one versioned schema script.
type Migration struct {
	Version   uint
	Name      string
	AppliedAt *time.Time
	body      string
}

// Pending reports whether the script has not been applied yet.
func (m Migration) Pending() bool {
	return m.AppliedAt == nil
}

// Migrator applies embedded schema scripts that are not yet recorded in
// the schema_migrations table, oldest first, one transaction per script.
type Migrator struct {
	pool   *Pool
	fsys   fs.FS
	dir    string
	logger *slog.Logger
}

// NewMigrator uses the scripts embedded for the pool's dialect.
func NewMigrator(pool *Pool, logger *slog.Logger) *Migrator {
	return NewMigratorFS(pool, migrations.FS, string(pool.Dialect()), logger)
}

// NewMigratorFS reads scripts from dir inside fsys.
func NewMigratorFS(pool *Pool, fsys fs.FS, dir string, logger *slog.Logger) *Migrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{
		pool:   pool,
		fsys:   fsys,
		dir:    dir,
		logger: logger,
	}
}

// Up applies all pending scripts and returns how many ran.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	all, err := m.Status(ctx)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, mig := range all {
		if !mig.Pending() {
			continue
		}
		start := time.Now()
		if err := m.apply(ctx, mig); err != nil {
			return applied, fmt.Errorf("%w: %d_%s: %w", ErrMigration, mig.Version, mig.Name, err)
		}
		applied++
		m.logger.Info("migration applied",
			"version", mig.Version,
			"name", mig.Name,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}

	if applied == 0 {
		m.logger.Info("schema up to date", "migrations", len(all))
	}
	return applied, nil
}

// Status lists every known script in version order with the time it was
// applied, if it was.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("%w: create bookkeeping table: %w", ErrMigration, err)
	}

	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: read bookkeeping table: %w", ErrMigration, err)
	}

	scripts, err := m.scripts()
	if err != nil {
		return nil, fmt.Errorf("%w: load scripts: %w", ErrMigration, err)
	}

	for i := range scripts {
		if at, ok := applied[scripts[i].Version]; ok {
			scripts[i].AppliedAt = &at
		}
	}
	return scripts, nil
}

func (m *Migrator) apply(ctx context.Context, mig Migration) error {
	return m.pool.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, mig.body); err != nil {
			return err
		}
		const insert = `INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`
		_, err := tx.ExecContext(ctx, m.pool.Rebind(insert), int64(mig.Version), mig.Name, time.Now().UTC())
		return err
	})
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    BIGINT PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL
		)`
	if m.pool.Dialect() == DialectPostgres {
		ddl = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    BIGINT PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL
		)`
	}
	return m.pool.WithConn(ctx, func(ctx context.Context, conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, ddl)
		return err
	})
}

func (m *Migrator) appliedVersions(ctx context.Context) (map[uint]time.Time, error) {
	applied := make(map[uint]time.Time)
	err := m.pool.WithConn(ctx, func(ctx context.Context, conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, `SELECT version, applied_at FROM schema_migrations`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var version int64
			var at time.Time
			if err := rows.Scan(&version, &at); err != nil {
				return err
			}
			applied[uint(version)] = at.UTC()
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return applied, nil
}

// scripts walks the source in ascending version order using golang-migrate's
// iofs driver, which also rejects malformed or duplicate file names.
func (m *Migrator) scripts() ([]Migration, error) {
	src, err := iofs.New(m.fsys, m.dir)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = src.Close()
	}()

	var out []Migration
	version, err := src.First()
	if errors.Is(err, fs.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}

	for {
		r, name, err := src.ReadUp(version)
		if err != nil {
			return nil, fmt.Errorf("read version %d: %w", version, err)
		}
		body, err := io.ReadAll(r)
		_ = r.Close()
		if err != nil {
			return nil, fmt.Errorf("read version %d: %w", version, err)
		}
		out = append(out, Migration{Version: version, Name: name, body: string(body)})

		version, err = src.Next(version)
		if errors.Is(err, fs.ErrNotExist) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
	}
}
