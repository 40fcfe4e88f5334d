package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Message struct {
	Id            uuid.UUID                   `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	SessionId     uuid.UUID                   `gorm:"type:uuid;not null;index:idx_messages_session_created,priority:1"`
	Role          string                      `gorm:"type:varchar(20);not null"`
	Content       string                      `gorm:"type:text;not null"`
	Tokens        int                         `gorm:"default:0"`
	AttachmentIds datatypes.JSONSlice[string] `gorm:"type:jsonb"`
	CreatedAt     time.Time                   `gorm:"autoCreateTime;index:idx_messages_session_created,priority:2"`
	DeletedAt     gorm.DeletedAt              `gorm:"index"`
}

func (Message) TableName() string {
	return "messages"
}
