package service

import (
	"time"

	"cyborg-chat-be/internal/hub"
	"cyborg-chat-be/pkg/rag/retrieval"

	"github.com/google/uuid"
)

// EventBus is the part of the hub the services publish through.
type EventBus interface {
	Publish(topic hub.Topic, event any)
	CloseTopicAfter(topic hub.Topic, d time.Duration) *time.Timer
}

// INotificationService pushes engine narration to session topics and
// ingestion progress to attachment topics.
type INotificationService interface {
	retrieval.Narrator
	Session(event hub.EngineEvent)
	Progress(attachmentId uuid.UUID, event hub.ProgressEvent)
	CloseProgress(attachmentId uuid.UUID)
}

type notificationService struct {
	bus        EventBus
	closeDelay time.Duration
}

func NewNotificationService(bus EventBus, closeDelay time.Duration) INotificationService {
	if closeDelay <= 0 {
		closeDelay = time.Second
	}
	return &notificationService{
		bus:        bus,
		closeDelay: closeDelay,
	}
}

func (s *notificationService) Narrate(sessionId uuid.UUID, n retrieval.Narration) {
	event := hub.NewEngineEvent(hub.EventType(n.Level), sessionId, n.Message)
	if n.Title != "" || len(n.Body) > 0 {
		event = event.WithData(n.Title, n.Body)
	}
	s.Session(event)
}

func (s *notificationService) Session(event hub.EngineEvent) {
	s.bus.Publish(hub.SessionTopic(event.SessionID), event)
}

func (s *notificationService) Progress(attachmentId uuid.UUID, event hub.ProgressEvent) {
	s.bus.Publish(hub.AttachmentTopic(attachmentId), event)
}

// CloseProgress ends every progress stream of the attachment after the
// close delay, so the terminal event is flushed first.
func (s *notificationService) CloseProgress(attachmentId uuid.UUID) {
	s.bus.CloseTopicAfter(hub.AttachmentTopic(attachmentId), s.closeDelay)
}
