package contract

import (
	"context"

	"cyborg-chat-be/internal/entity"
	"cyborg-chat-be/internal/repository/specification"

	"github.com/google/uuid"
)

type ChunkDataRepository interface {
	// CreateBatch skips rows whose (attachment_id, chunk_index) already exists.
	CreateBatch(ctx context.Context, chunks []*entity.ChunkData) error
	DeleteByAttachmentId(ctx context.Context, attachmentId uuid.UUID) error
	DeleteBySessionId(ctx context.Context, sessionId uuid.UUID) error
	FindOne(ctx context.Context, specs ...specification.Specification) (*entity.ChunkData, error)
	FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.ChunkData, error)
	// FindSources loads the rows for vectorIds with their attachment's
	// filename. Unknown ids are left out.
	FindSources(ctx context.Context, vectorIds []string, attachmentId *uuid.UUID) ([]*entity.ChunkSource, error)
	Count(ctx context.Context, specs ...specification.Specification) (int64, error)
}
