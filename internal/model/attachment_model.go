package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Attachment struct {
	Id        uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	SessionId uuid.UUID      `gorm:"type:uuid;not null;index"`
	UserId    uuid.UUID      `gorm:"type:uuid;not null;index"`
	Filename  string         `gorm:"type:text;not null"`
	MimeType  string         `gorm:"type:varchar(255)"`
	Size      int64          `gorm:"not null;default:0"`
	Url       string         `gorm:"type:text;not null"`
	Metadata  datatypes.JSON `gorm:"type:jsonb"` // processing state, see entity.EncodeState
	CreatedAt time.Time      `gorm:"autoCreateTime"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

func (Attachment) TableName() string {
	return "attachments"
}
