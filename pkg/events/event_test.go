package events

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestSessionID(t *testing.T) {
	id := uuid.New()

	got, ok := SessionID(SessionDeleted(id, "user-1"))
	assert.True(t, ok)
	assert.Equal(t, id, got)

	got, ok = SessionID(AttachmentProcessed(id, uuid.New(), 3))
	assert.True(t, ok)
	assert.Equal(t, id, got)

	_, ok = SessionID(BaseEvent{Data: map[string]interface{}{"sessionId": "nope"}})
	assert.False(t, ok)
}

func TestEventTypes(t *testing.T) {
	assert.Equal(t, "attachment.failed", AttachmentFailed(uuid.New(), uuid.New(), "boom").EventType())
	assert.Equal(t, 3, AttachmentProcessed(uuid.New(), uuid.New(), 3).Payload()["chunkCount"])
}
