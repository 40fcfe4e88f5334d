package dto

import (
	"cyborg-chat-be/pkg/rag/retrieval"

	"github.com/google/uuid"
)

type SearchRequest struct {
	Query         string      `json:"query" validate:"required,max=4000"`
	TopK          int         `json:"topK" validate:"omitempty,min=1,max=50"`
	AttachmentIds []uuid.UUID `json:"attachmentIds" validate:"max=20"`
}

type SearchResponse struct {
	Query   string                   `json:"query"`
	Results []retrieval.ContextChunk `json:"results"`
}
