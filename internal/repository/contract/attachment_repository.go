package contract

import (
	"context"

	"cyborg-chat-be/internal/entity"
	"cyborg-chat-be/internal/repository/specification"

	"github.com/google/uuid"
)

type AttachmentRepository interface {
	Create(ctx context.Context, attachment *entity.Attachment) error
	// UpdateState writes only the processing state column.
	UpdateState(ctx context.Context, id uuid.UUID, state entity.ProcessingState) error
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteBySessionId(ctx context.Context, sessionId uuid.UUID) error
	FindOne(ctx context.Context, specs ...specification.Specification) (*entity.Attachment, error)
	FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.Attachment, error)
}
