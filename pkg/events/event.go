package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event defines the contract for all system events.
type Event interface {
	// EventType returns the unique code for this event (e.g., "attachment.processed").
	EventType() string

	// Payload returns the data associated with the event.
	Payload() map[string]interface{}

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Publisher sends events to the bus.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// BaseEvent helps embed common logic if needed,
// strictly creating valid implementations is preferred though.
type BaseEvent struct {
	Type       string
	Data       map[string]interface{}
	OccurredAt time.Time
}

func (e BaseEvent) EventType() string {
	return e.Type
}

func (e BaseEvent) Payload() map[string]interface{} {
	return e.Data
}

func (e BaseEvent) Timestamp() time.Time {
	return e.OccurredAt
}

const (
	TypeAttachmentProcessed = "attachment.processed"
	TypeAttachmentFailed    = "attachment.failed"
	TypeSessionDeleted      = "session.deleted"
)

func AttachmentProcessed(sessionID, attachmentID uuid.UUID, chunkCount int) BaseEvent {
	return BaseEvent{
		Type: TypeAttachmentProcessed,
		Data: map[string]interface{}{
			"sessionId":    sessionID.String(),
			"attachmentId": attachmentID.String(),
			"chunkCount":   chunkCount,
		},
		OccurredAt: time.Now().UTC(),
	}
}

func AttachmentFailed(sessionID, attachmentID uuid.UUID, reason string) BaseEvent {
	return BaseEvent{
		Type: TypeAttachmentFailed,
		Data: map[string]interface{}{
			"sessionId":    sessionID.String(),
			"attachmentId": attachmentID.String(),
			"error":        reason,
		},
		OccurredAt: time.Now().UTC(),
	}
}

func SessionDeleted(sessionID uuid.UUID, userID string) BaseEvent {
	return BaseEvent{
		Type: TypeSessionDeleted,
		Data: map[string]interface{}{
			"sessionId": sessionID.String(),
			"userId":    userID,
		},
		OccurredAt: time.Now().UTC(),
	}
}

// SessionID reads the sessionId field every domain event carries.
func SessionID(e Event) (uuid.UUID, bool) {
	raw, ok := e.Payload()["sessionId"].(string)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// NopPublisher drops every event. Used when no bus is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
