package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jjudge-oj/userservice/internal/db"
	"github.com/jjudge-oj/userservice/types"
)

const userColumns = `id, username, email, created_at`

// UserRepository handles persistence for users. Every call checks a
// connection out of the pool for its own duration only.
type UserRepository struct {
	pool *db.Pool
}

func NewUserRepository(pool *db.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (types.User, error) {
	var user types.User
	if err := row.Scan(&user.ID, &user.Username, &user.Email, &user.CreatedAt); err != nil {
		return types.User{}, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return user, nil
}

// VerifySchema runs the repository's projection against the live schema so
// a drifted table fails at startup rather than on the first request.
func (r *UserRepository) VerifySchema(ctx context.Context) error {
	return r.pool.WithConn(ctx, func(ctx context.Context, conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE 1 = 0`)
		if err != nil {
			return fmt.Errorf("users table does not match repository: %w", err)
		}
		return rows.Close()
	})
}

// Create inserts a user and reads the stored row back in the same
// transaction, so callers only ever see fully formed records.
func (r *UserRepository) Create(ctx context.Context, username, email string) (types.User, error) {
	insert := r.pool.Rebind(`
		INSERT INTO users (username, email, created_at)
		VALUES (?, ?, ?)
		RETURNING id`)

	var user types.User
	err := r.pool.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var id int64
		if err := tx.QueryRowContext(ctx, insert, username, email, time.Now().UTC()).Scan(&id); err != nil {
			return err
		}
		var err error
		user, err = r.selectByID(ctx, tx, id)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return types.User{}, ErrConflict
		}
		return types.User{}, err
	}
	return user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (types.User, error) {
	var user types.User
	err := r.pool.WithConn(ctx, func(ctx context.Context, conn *sql.Conn) error {
		var err error
		user, err = r.selectByID(ctx, conn, id)
		return err
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *UserRepository) selectByID(ctx context.Context, q queryRower, id int64) (types.User, error) {
	query := r.pool.Rebind(`SELECT ` + userColumns + ` FROM users WHERE id = ?`)
	return scanUser(q.QueryRowContext(ctx, query, id))
}

// List returns all users ordered by id. An empty table yields an empty,
// non-nil slice.
func (r *UserRepository) List(ctx context.Context) ([]types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users ORDER BY id`

	users := make([]types.User, 0)
	err := r.pool.WithConn(ctx, func(ctx context.Context, conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, query)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			user, err := scanUser(rows)
			if err != nil {
				return err
			}
			users = append(users, user)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}

// Update rewrites username and email. id and created_at are never touched.
func (r *UserRepository) Update(ctx context.Context, id int64, username, email string) (types.User, error) {
	update := r.pool.Rebind(`
		UPDATE users
		SET username = ?,
			email = ?
		WHERE id = ?`)

	var user types.User
	err := r.pool.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, update, username, email, id)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrNotFound
		}
		user, err = r.selectByID(ctx, tx, id)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return types.User{}, ErrConflict
		}
		return types.User{}, err
	}
	return user, nil
}

// Delete removes the user. Deleting an id that is already gone is
// ErrNotFound, not a no-op.
func (r *UserRepository) Delete(ctx context.Context, id int64) error {
	query := r.pool.Rebind(`DELETE FROM users WHERE id = ?`)

	return r.pool.WithConn(ctx, func(ctx context.Context, conn *sql.Conn) error {
		result, err := conn.ExecContext(ctx, query, id)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// Count returns the number of stored users.
func (r *UserRepository) Count(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(1) FROM users`

	var total int
	err := r.pool.WithConn(ctx, func(ctx context.Context, conn *sql.Conn) error {
		return conn.QueryRowContext(ctx, query).Scan(&total)
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}
