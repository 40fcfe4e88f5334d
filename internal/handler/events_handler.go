package handler

import (
	"bufio"
	"fmt"

	"cyborg-chat-be/internal/entity"
	"cyborg-chat-be/internal/hub"
	"cyborg-chat-be/internal/pkg/logger"
	"cyborg-chat-be/internal/pkg/serverutils"
	"cyborg-chat-be/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
)

// Broker is the part of the hub the handlers need.
type Broker interface {
	Subscribe(topic hub.Topic, sink hub.Sink, hello any) (*hub.Subscription, error)
	Unsubscribe(sub *hub.Subscription)
}

// EventsHandler streams hub topics to clients over SSE and WebSocket.
type EventsHandler struct {
	broker      Broker
	sessions    service.ISessionService
	attachments service.IAttachmentService
	logger      logger.ILogger
}

func NewEventsHandler(broker Broker, sessions service.ISessionService, attachments service.IAttachmentService, log logger.ILogger) *EventsHandler {
	return &EventsHandler{
		broker:      broker,
		sessions:    sessions,
		attachments: attachments,
		logger:      log,
	}
}

func (h *EventsHandler) RegisterRoutes(r fiber.Router, jwtMiddleware fiber.Handler) {
	r.Get("/sessions/:id/events", jwtMiddleware, h.SessionEvents)
	r.Get("/sessions/:id/events/ws", jwtMiddleware, h.SessionEventsWs)
	r.Get("/attachments/:attachmentId/stream", jwtMiddleware, h.AttachmentProgress)
}

// SessionEvents streams the engine events of one session as SSE.
func (h *EventsHandler) SessionEvents(c *fiber.Ctx) error {
	sessionID, err := h.authorizeSession(c)
	if err != nil {
		return err
	}
	return h.stream(c, hub.SessionTopic(sessionID), hub.SessionConnected(sessionID))
}

// AttachmentProgress streams the ingestion progress of one attachment as
// SSE. The stream is closed by the server shortly after the terminal event.
// An attachment that already finished gets its final event and no stream.
func (h *EventsHandler) AttachmentProgress(c *fiber.Ctx) error {
	userID, err := serverutils.UserID(c)
	if err != nil {
		return err
	}
	attachmentID, err := serverutils.UUIDParam(c, "attachmentId")
	if err != nil {
		return err
	}
	attachment, err := h.attachments.Authorize(c.UserContext(), userID, attachmentID)
	if err != nil {
		return err
	}
	if final, ok := terminalProgress(attachment); ok {
		serverutils.PrepareSSE(c)
		c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
			_ = serverutils.WriteSSE(w, final)
		})
		return nil
	}
	return h.stream(c, hub.AttachmentTopic(attachmentID), hub.AttachmentConnected())
}

// terminalProgress rebuilds the last event of a finished pipeline. Its topic
// is already closed, so nothing else would ever reach the client.
func terminalProgress(attachment *entity.Attachment) (hub.ProgressEvent, bool) {
	switch state := attachment.State.(type) {
	case entity.Processed:
		count := state.ChunkCount
		return hub.ProgressEvent{
			Status:     hub.StatusCompleted,
			Step:       service.StepFinished,
			Message:    fmt.Sprintf("Successfully processed! (%d chunks)", count),
			Progress:   100,
			ChunkCount: &count,
		}, true
	case entity.Failed:
		return hub.ProgressEvent{
			Status:  hub.StatusFailed,
			Step:    service.StepError,
			Message: state.Error,
		}, true
	default:
		return hub.ProgressEvent{}, false
	}
}

// SessionEventsWs is the WebSocket flavour of SessionEvents for clients
// that prefer a socket.
func (h *EventsHandler) SessionEventsWs(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	sessionID, err := h.authorizeSession(c)
	if err != nil {
		return err
	}

	return websocket.New(func(conn *websocket.Conn) {
		sub, err := h.broker.Subscribe(hub.SessionTopic(sessionID), hub.NewWebSocketSink(conn), hub.SessionConnected(sessionID))
		if err != nil {
			h.logger.Warn("EventsHandler", "WebSocket subscribe failed", map[string]interface{}{
				"session_id": sessionID.String(),
				"error":      err.Error(),
			})
			return
		}
		h.logger.Info("EventsHandler", "WebSocket session started", map[string]interface{}{"session_id": sessionID.String()})

		// Inbound frames are ignored; reading only detects the close.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		h.broker.Unsubscribe(sub)
		h.logger.Info("EventsHandler", "WebSocket session ended", map[string]interface{}{"session_id": sessionID.String()})
	})(c)
}

func (h *EventsHandler) stream(c *fiber.Ctx, topic hub.Topic, hello any) error {
	serverutils.PrepareSSE(c)
	c.Context().SetBodyStreamWriter(h.streamWriter(topic, hello))
	return nil
}

// streamWriter subscribes the response stream to topic and holds it open
// until the subscription ends.
func (h *EventsHandler) streamWriter(topic hub.Topic, hello any) fasthttp.StreamWriter {
	return func(w *bufio.Writer) {
		sub, err := h.broker.Subscribe(topic, hub.NewSSESink(w), hello)
		if err != nil {
			h.logger.Debug("EventsHandler", "SSE client left before hello", map[string]interface{}{
				"topic": string(topic),
				"error": err.Error(),
			})
			return
		}
		// Done closes once the hub drops this subscriber.
		<-sub.Done()
	}
}

func (h *EventsHandler) authorizeSession(c *fiber.Ctx) (uuid.UUID, error) {
	userID, err := serverutils.UserID(c)
	if err != nil {
		return uuid.Nil, err
	}
	sessionID, err := serverutils.UUIDParam(c, "id")
	if err != nil {
		return uuid.Nil, err
	}
	if err := h.sessions.Authorize(c.UserContext(), userID, sessionID); err != nil {
		return uuid.Nil, err
	}
	return sessionID, nil
}
