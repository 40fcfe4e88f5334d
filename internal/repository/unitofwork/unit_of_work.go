package unitofwork

import (
	"context"

	"cyborg-chat-be/internal/repository/contract"
)

type UnitOfWork interface {
	Begin(ctx context.Context) error
	Commit() error
	Rollback() error

	SessionRepository() contract.SessionRepository
	MessageRepository() contract.MessageRepository
	AttachmentRepository() contract.AttachmentRepository
	ChunkDataRepository() contract.ChunkDataRepository
}
