package entity

import (
	"time"

	"github.com/google/uuid"
)

// ChunkData mirrors one vector of a session index. Id is the vector id.
type ChunkData struct {
	Id           string
	AttachmentId uuid.UUID
	ChunkIndex   int
	Content      string
	PageNumber   *int
	StartChar    int
	EndChar      int
	CreatedAt    time.Time
}

// ChunkSource is a chunk row joined with the filename of its attachment.
type ChunkSource struct {
	ChunkData
	Filename string
}
