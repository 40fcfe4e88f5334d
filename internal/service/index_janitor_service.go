package service

import (
	"context"
	"errors"
	"time"

	"cyborg-chat-be/internal/pkg/logger"
	"cyborg-chat-be/pkg/events"
	"cyborg-chat-be/pkg/vectorstore"

	"github.com/google/uuid"
)

const dropIndexTimeout = 30 * time.Second

// IIndexJanitor drops the vector index of deleted sessions.
type IIndexJanitor interface {
	Drop(ctx context.Context, sessionId uuid.UUID) error
	DropAsync(sessionId uuid.UUID)
	HandleEvent(ctx context.Context, event events.Event) error
}

type indexJanitor struct {
	store  vectorstore.Store
	logger logger.ILogger
}

func NewIndexJanitor(store vectorstore.Store, log logger.ILogger) IIndexJanitor {
	return &indexJanitor{
		store:  store,
		logger: log,
	}
}

// Drop removes the session index. An index that was never created counts
// as dropped.
func (j *indexJanitor) Drop(ctx context.Context, sessionId uuid.UUID) error {
	err := j.store.DropIndex(ctx, sessionId)
	if errors.Is(err, vectorstore.ErrIndexNotFound) {
		j.logger.Debug("IndexJanitor", "No index to drop", map[string]interface{}{
			"session_id": sessionId.String(),
		})
		return nil
	}
	if err != nil {
		return err
	}

	j.logger.Info("IndexJanitor", "Dropped session index", map[string]interface{}{
		"session_id": sessionId.String(),
		"index":      vectorstore.IndexName(sessionId),
	})
	return nil
}

// DropAsync drops the index in the background. Failures are logged only.
func (j *indexJanitor) DropAsync(sessionId uuid.UUID) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), dropIndexTimeout)
		defer cancel()

		if err := j.Drop(ctx, sessionId); err != nil {
			j.logger.Warn("IndexJanitor", "Failed to drop session index", map[string]interface{}{
				"session_id": sessionId.String(),
				"error":      err.Error(),
			})
		}
	}()
}

// HandleEvent consumes session.deleted events. Returning an error makes
// the broker redeliver.
func (j *indexJanitor) HandleEvent(ctx context.Context, event events.Event) error {
	sessionId, ok := events.SessionID(event)
	if !ok {
		j.logger.Warn("IndexJanitor", "Event without session id", map[string]interface{}{
			"type": event.EventType(),
		})
		return nil
	}
	return j.Drop(ctx, sessionId)
}
