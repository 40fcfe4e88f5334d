package entity

import (
	"time"

	"github.com/google/uuid"
)

type Attachment struct {
	Id        uuid.UUID
	SessionId uuid.UUID
	UserId    uuid.UUID
	Filename  string
	MimeType  string
	Size      int64
	Url       string // storage location handed to the converter
	State     ProcessingState
	CreatedAt time.Time
	UpdatedAt *time.Time
	DeletedAt *time.Time
	IsDeleted bool
}
