package types

import "time"

// EventType names a user lifecycle transition.
type EventType string

const (
	EventUserCreated EventType = "user.created"
	EventUserUpdated EventType = "user.updated"
	EventUserDeleted EventType = "user.deleted"
)

// UserEvent is the payload published to the message broker after a
// successful mutation.
type UserEvent struct {
	// ID uniquely identifies the event for consumer-side deduplication.
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	UserID     int64     `json:"user_id"`
	User       *User     `json:"user,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
