package types

import "time"

// User is the single resource persisted by the service.
type User struct {
	// ID is assigned by the database on insert and never reused.
	ID int64 `json:"id" db:"id"`

	// Username is unique across all users (case-sensitive).
	Username string `json:"username" db:"username"`

	// Email is unique across all users (case-sensitive).
	Email string `json:"email" db:"email"`

	// CreatedAt is set once at insertion and never rewritten.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
