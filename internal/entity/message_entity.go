package entity

import (
	"time"

	"github.com/google/uuid"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

type Message struct {
	Id            uuid.UUID
	SessionId     uuid.UUID
	Role          string
	Content       string
	Tokens        int
	AttachmentIds []uuid.UUID
	CreatedAt     time.Time
	DeletedAt     *time.Time
	IsDeleted     bool
}
