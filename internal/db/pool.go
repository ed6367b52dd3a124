package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrPoolExhausted is returned when no connection frees up within the
// acquire timeout. Callers may retry with backoff.
var ErrPoolExhausted = errors.New("db: connection pool exhausted")

const defaultAcquireTimeout = 5 * time.Second

// Pool hands out connections from a bounded *sql.DB. It is the only
// shared mutable state of the service; every query goes through it.
type Pool struct {
	db             *sql.DB
	dialect        Dialect
	acquireTimeout time.Duration
}

// NewPool wraps db. The maximum number of connections is whatever db was
// configured with via SetMaxOpenConns.
func NewPool(db *sql.DB, dialect Dialect, acquireTimeout time.Duration) *Pool {
	if acquireTimeout <= 0 {
		acquireTimeout = defaultAcquireTimeout
	}
	return &Pool{
		db:             db,
		dialect:        dialect,
		acquireTimeout: acquireTimeout,
	}
}

// WithConn checks out one connection, runs fn on it and returns it to the
// pool on every exit path, panics included.
//
// Waiting for a connection honours ctx. Once a connection is held, fn gets
// a context that is no longer cancelled with ctx, so a client that goes away
// mid-request cannot abort a statement half way through.
func (p *Pool) WithConn(ctx context.Context, fn func(ctx context.Context, conn *sql.Conn) error) error {
	conn, err := p.acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = conn.Close()
	}()

	return fn(context.WithoutCancel(ctx), conn)
}

// WithTx runs fn inside a transaction on a pooled connection. The
// transaction is committed if fn returns nil and rolled back otherwise.
func (p *Pool) WithTx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	return p.WithConn(ctx, func(ctx context.Context, conn *sql.Conn) error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() {
			_ = tx.Rollback() // no-op after commit
		}()

		if err := fn(ctx, tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}

func (p *Pool) acquire(ctx context.Context) (*sql.Conn, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, p.acquireTimeout)
	defer cancel()

	conn, err := p.db.Conn(acquireCtx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: no connection within %s", ErrPoolExhausted, p.acquireTimeout)
		}
		return nil, err
	}
	return conn, nil
}

// Dialect reports which SQL flavour the pool talks to.
func (p *Pool) Dialect() Dialect {
	return p.dialect
}

// Rebind rewrites ? placeholders for the pool's dialect.
func (p *Pool) Rebind(query string) string {
	return Rebind(p.dialect, query)
}

// Ping checks that a connection can be acquired and used.
func (p *Pool) Ping(ctx context.Context) error {
	return p.WithConn(ctx, func(ctx context.Context, conn *sql.Conn) error {
		return conn.PingContext(ctx)
	})
}

// Stats returns database/sql pool statistics.
func (p *Pool) Stats() sql.DBStats {
	return p.db.Stats()
}

// DB exposes the underlying handle for collectors that need it.
func (p *Pool) DB() *sql.DB {
	return p.db
}

func (p *Pool) Close() error {
	return p.db.Close()
}

// Rebind converts ? placeholders to $1..$n for Postgres. Other dialects get
// the query unchanged. Queries must not contain literal question marks.
func Rebind(dialect Dialect, query string) string {
	if dialect != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
