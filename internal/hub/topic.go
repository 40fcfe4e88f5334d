package hub

import (
	"strings"

	"github.com/google/uuid"
)

// Topic identifies a broadcast channel. Two kinds exist: one per chat
// session and one per attachment being ingested.
type Topic string

const (
	sessionPrefix    = "session:"
	attachmentPrefix = "attachment:"
)

func SessionTopic(sessionID uuid.UUID) Topic {
	return Topic(sessionPrefix + sessionID.String())
}

func AttachmentTopic(attachmentID uuid.UUID) Topic {
	return Topic(attachmentPrefix + attachmentID.String())
}

func (t Topic) IsSession() bool {
	return strings.HasPrefix(string(t), sessionPrefix)
}

func (t Topic) IsAttachment() bool {
	return strings.HasPrefix(string(t), attachmentPrefix)
}
