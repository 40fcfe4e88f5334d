package contract

import (
	"context"

	"cyborg-chat-be/internal/entity"
	"cyborg-chat-be/internal/repository/specification"

	"github.com/google/uuid"
)

type MessageRepository interface {
	Create(ctx context.Context, message *entity.Message) error
	DeleteBySessionId(ctx context.Context, sessionId uuid.UUID) error
	FindOne(ctx context.Context, specs ...specification.Specification) (*entity.Message, error)
	FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.Message, error)
	// FindRecent returns the last limit non-system messages, oldest first.
	FindRecent(ctx context.Context, sessionId uuid.UUID, limit int) ([]*entity.Message, error)
	FindLatestBySessionIds(ctx context.Context, sessionIds []uuid.UUID) (map[uuid.UUID]*entity.Message, error)
	Count(ctx context.Context, specs ...specification.Specification) (int64, error)
}
