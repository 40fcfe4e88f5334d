package dto

import (
	"time"

	"github.com/google/uuid"
)

type UploadResponse struct {
	AttachmentId uuid.UUID `json:"attachmentId"`
	SessionId    uuid.UUID `json:"sessionId"`
	Filename     string    `json:"filename"`
	MimeType     string    `json:"mimeType"`
	Size         int64     `json:"size"`
	Status       string    `json:"status"`
}

type AttachmentResponse struct {
	Id         uuid.UUID `json:"id"`
	Filename   string    `json:"filename"`
	MimeType   string    `json:"mimeType"`
	Size       int64     `json:"size"`
	Url        string    `json:"url"`
	Status     string    `json:"status"`
	ChunkCount *int      `json:"chunkCount,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

type AttachmentStatusResponse struct {
	AttachmentId uuid.UUID  `json:"attachmentId"`
	Status       string     `json:"status"`
	ChunkCount   *int       `json:"chunkCount,omitempty"`
	Error        string     `json:"error,omitempty"`
	ProcessedAt  *time.Time `json:"processedAt,omitempty"`
}

type ChunkResponse struct {
	Id         string `json:"id"`
	ChunkIndex int    `json:"chunkIndex"`
	Content    string `json:"content"`
	PageNumber *int   `json:"pageNumber,omitempty"`
	StartChar  int    `json:"startChar"`
	EndChar    int    `json:"endChar"`
}

// ProcessFileJob is the payload of the process-file job.
type ProcessFileJob struct {
	AttachmentId uuid.UUID `json:"attachmentId"`
	UserId       uuid.UUID `json:"userId"`
	SessionId    uuid.UUID `json:"sessionId"`
}
