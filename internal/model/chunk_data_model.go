package model

import (
	"time"

	"github.com/google/uuid"
)

// ChunkData holds the text behind each vector. The vector itself lives in
// the session's index table, joined by Id.
type ChunkData struct {
	Id           string    `gorm:"type:text;primaryKey"` // "<attachmentId>:<chunkIndex>"
	AttachmentId uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_chunk_data_attachment_chunk,priority:1"`
	ChunkIndex   int       `gorm:"not null;uniqueIndex:idx_chunk_data_attachment_chunk,priority:2"`
	Content      string    `gorm:"type:text;not null"`
	PageNumber   *int
	StartChar    int       `gorm:"not null;default:0"`
	EndChar      int       `gorm:"not null;default:0"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
}

func (ChunkData) TableName() string {
	return "chunk_data"
}
