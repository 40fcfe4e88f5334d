package dto

import (
	"time"

	"github.com/google/uuid"
)

type CreateSessionRequest struct {
	Title string `json:"title" validate:"omitempty,max=255"`
}

type CreateSessionResponse struct {
	SessionId uuid.UUID `json:"sessionId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

type RenameSessionRequest struct {
	Title string `json:"title" validate:"required,max=255"`
}

type SessionResponse struct {
	Id        uuid.UUID  `json:"id"`
	Title     string     `json:"title"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

type SessionSummaryResponse struct {
	SessionResponse
	LastMessage *MessageResponse `json:"lastMessage,omitempty"`
}

type SessionDetailResponse struct {
	SessionResponse
	Messages    []*MessageResponse    `json:"messages"`
	Attachments []*AttachmentResponse `json:"attachments"`
}

type MessageResponse struct {
	Id            uuid.UUID   `json:"id"`
	Role          string      `json:"role"`
	Content       string      `json:"content"`
	Tokens        int         `json:"tokens,omitempty"`
	AttachmentIds []uuid.UUID `json:"attachmentIds,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
}
