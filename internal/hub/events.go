package hub

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventNotification EventType = "notification"
	EventSuccess      EventType = "success"
	EventError        EventType = "error"
)

type EventScope string

const (
	ScopeSession    EventScope = "session"
	ScopeAttachment EventScope = "attachment"
)

type EventData struct {
	Title string   `json:"title"`
	Body  []string `json:"body"`
}

// EngineEvent narrates what the backend is doing for a chat session.
type EngineEvent struct {
	Type         EventType  `json:"type"`
	Scope        EventScope `json:"scope"`
	SessionID    uuid.UUID  `json:"sessionId"`
	Message      string     `json:"message"`
	Timestamp    time.Time  `json:"timestamp"`
	Data         *EventData `json:"data,omitempty"`
	AttachmentID *uuid.UUID `json:"attachmentId,omitempty"`
	ActionType   string     `json:"actionType,omitempty"`
}

func NewEngineEvent(t EventType, sessionID uuid.UUID, message string) EngineEvent {
	return EngineEvent{
		Type:      t,
		Scope:     ScopeSession,
		SessionID: sessionID,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

func (e EngineEvent) WithData(title string, body []string) EngineEvent {
	e.Data = &EventData{Title: title, Body: body}
	return e
}

func (e EngineEvent) WithAttachment(attachmentID uuid.UUID, action string) EngineEvent {
	e.Scope = ScopeAttachment
	e.AttachmentID = &attachmentID
	e.ActionType = action
	return e
}

type ProgressStatus string

const (
	StatusConnected  ProgressStatus = "connected"
	StatusProcessing ProgressStatus = "processing"
	StatusCompleted  ProgressStatus = "completed"
	StatusFailed     ProgressStatus = "failed"
)

// ProgressEvent reports the ingestion pipeline of a single attachment.
type ProgressEvent struct {
	Status     ProgressStatus `json:"status"`
	Step       string         `json:"step"`
	Message    string         `json:"message"`
	Progress   int            `json:"progress"`
	ChunkCount *int           `json:"chunkCount,omitempty"`
}

// SessionConnected is the first frame a session subscriber receives.
func SessionConnected(sessionID uuid.UUID) EngineEvent {
	return NewEngineEvent(EventNotification, sessionID, "Connected to logs")
}

// AttachmentConnected is the first frame an attachment subscriber receives.
func AttachmentConnected() ProgressEvent {
	return ProgressEvent{Status: StatusConnected, Message: "indexing..."}
}
