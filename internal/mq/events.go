package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jjudge-oj/userservice/types"
)

// AttrEventType carries the event type so consumers can filter without
// decoding the body.
const AttrEventType = "type"

// NewUserEvent stamps a fresh event id and time. user is omitted for
// deletions.
func NewUserEvent(eventType types.EventType, userID int64, user *types.User) types.UserEvent {
	return types.UserEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		UserID:     userID,
		User:       user,
		OccurredAt: time.Now().UTC(),
	}
}

// PublishUserEvent encodes evt as JSON and publishes it to channel.
func (m *MQ) PublishUserEvent(ctx context.Context, channel string, evt types.UserEvent) (string, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return "", fmt.Errorf("encode %s event: %w", evt.Type, err)
	}
	attrs := map[string]string{
		AttrEventType:   string(evt.Type),
		AttrContentType: "application/json",
	}
	return m.Publish(ctx, channel, data, attrs)
}

// DecodeUserEvent parses a message published by PublishUserEvent.
func DecodeUserEvent(msg Message) (types.UserEvent, error) {
	var evt types.UserEvent
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		return types.UserEvent{}, fmt.Errorf("decode user event %s: %w", msg.ID, err)
	}
	if evt.Type == "" {
		if t, ok := msg.Attributes[AttrEventType]; ok {
			evt.Type = types.EventType(t)
		}
	}
	return evt, nil
}
