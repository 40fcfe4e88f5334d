package mapper

import (
	"testing"
	"time"

	"cyborg-chat-be/internal/entity"
	"cyborg-chat-be/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func TestAttachmentStateSurvivesMapping(t *testing.T) {
	m := NewAttachmentMapper()
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	states := []entity.ProcessingState{
		entity.Pending{},
		entity.Processed{ChunkCount: 7, MarkdownLength: 4096, ProcessedAt: at},
		entity.Failed{Error: "converter unavailable", FailedAt: at},
	}

	for _, state := range states {
		t.Run(state.Status(), func(t *testing.T) {
			row, err := m.ToModel(&entity.Attachment{Id: uuid.New(), Filename: "a.pdf", State: state})
			require.NoError(t, err)

			back := m.ToEntity(row)
			assert.Equal(t, state.Status(), back.State.Status())
			assert.Equal(t, "a.pdf", back.Filename)
		})
	}
}

func TestAttachmentWithoutMetadataIsPending(t *testing.T) {
	a := NewAttachmentMapper().ToEntity(&model.Attachment{Id: uuid.New()})
	assert.Equal(t, entity.Pending{}, a.State)
}

func TestMessageAttachmentIds(t *testing.T) {
	m := NewChatMapper()
	ids := []uuid.UUID{uuid.New(), uuid.New()}

	row := m.MessageToModel(&entity.Message{Role: entity.RoleUser, Content: "hi", AttachmentIds: ids})
	assert.Len(t, row.AttachmentIds, 2)

	back := m.MessageToEntity(row)
	assert.Equal(t, ids, back.AttachmentIds)

	row.AttachmentIds = datatypes.JSONSlice[string]{"not-a-uuid", ids[0].String()}
	assert.Equal(t, []uuid.UUID{ids[0]}, m.MessageToEntity(row).AttachmentIds)
}

func TestSessionSoftDelete(t *testing.T) {
	m := NewChatMapper()

	row := m.SessionToModel(&entity.Session{Id: uuid.New(), IsDeleted: true})
	assert.True(t, row.DeletedAt.Valid)

	live := m.SessionToEntity(&model.Session{Id: uuid.New(), DeletedAt: gorm.DeletedAt{}})
	assert.False(t, live.IsDeleted)
	assert.Nil(t, live.DeletedAt)
	assert.Nil(t, live.UpdatedAt)
}
