package dto

import (
	"github.com/google/uuid"
)

type SendMessageRequest struct {
	Content       string      `json:"content" validate:"required,max=32000"`
	AttachmentIds []uuid.UUID `json:"attachmentIds" validate:"max=20"`
}

const (
	FrameUserMessage = "user_message"
	FrameToken       = "token"
	FrameDone        = "done"
	FrameError       = "error"
)

// StreamFrame is one SSE data frame of a message generation stream.
type StreamFrame struct {
	Type      string     `json:"type"`
	MessageId *uuid.UUID `json:"messageId,omitempty"`
	Content   string     `json:"content,omitempty"`
	Error     string     `json:"error,omitempty"`
}
