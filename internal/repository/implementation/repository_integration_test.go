package implementation

import (
	"context"
	"os"
	"testing"
	"time"

	"cyborg-chat-be/internal/entity"
	"cyborg-chat-be/internal/model"
	"cyborg-chat-be/internal/repository/specification"
	"cyborg-chat-be/pkg/vectorstore"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("DB_CONNECTION_STRING")
	if dsn == "" {
		t.Skip("DB_CONNECTION_STRING not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Session{}, &model.Message{}, &model.Attachment{}, &model.ChunkData{}))
	return db
}

func TestRepositoriesRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	sessions := NewSessionRepository(db)
	messages := NewMessageRepository(db)
	attachments := NewAttachmentRepository(db)
	chunks := NewChunkDataRepository(db)

	session := &entity.Session{UserId: uuid.New(), Title: "repo test"}
	require.NoError(t, sessions.Create(ctx, session))
	require.NotEqual(t, uuid.Nil, session.Id)
	t.Cleanup(func() {
		_ = chunks.DeleteBySessionId(ctx, session.Id)
		db.Unscoped().Where("session_id = ?", session.Id).Delete(&model.Message{})
		db.Unscoped().Where("session_id = ?", session.Id).Delete(&model.Attachment{})
		db.Unscoped().Delete(&model.Session{}, session.Id)
	})

	for i, role := range []string{entity.RoleSystem, entity.RoleUser, entity.RoleAssistant, entity.RoleUser} {
		require.NoError(t, messages.Create(ctx, &entity.Message{
			SessionId: session.Id,
			Role:      role,
			Content:   string(rune('a' + i)),
			CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
		}))
	}

	recent, err := messages.FindRecent(ctx, session.Id, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0].Content)
	assert.Equal(t, "d", recent[1].Content)

	latest, err := messages.FindLatestBySessionIds(ctx, []uuid.UUID{session.Id})
	require.NoError(t, err)
	assert.Equal(t, "d", latest[session.Id].Content)

	attachment := &entity.Attachment{SessionId: session.Id, UserId: session.UserId, Filename: "doc.pdf", Url: "/tmp/doc.pdf", State: entity.Pending{}}
	require.NoError(t, attachments.Create(ctx, attachment))

	require.NoError(t, attachments.UpdateState(ctx, attachment.Id, entity.Processed{ChunkCount: 2, ProcessedAt: time.Now()}))
	stored, err := attachments.FindOne(ctx, specification.ByID{ID: attachment.Id})
	require.NoError(t, err)
	assert.Equal(t, entity.StatusProcessed, stored.State.Status())

	rows := []*entity.ChunkData{
		{Id: vectorstore.VectorID(attachment.Id, 0), AttachmentId: attachment.Id, ChunkIndex: 0, Content: "zero"},
		{Id: vectorstore.VectorID(attachment.Id, 1), AttachmentId: attachment.Id, ChunkIndex: 1, Content: "one"},
	}
	require.NoError(t, chunks.CreateBatch(ctx, rows))
	require.NoError(t, chunks.CreateBatch(ctx, rows[:1]), "duplicates are skipped")

	count, err := chunks.Count(ctx, specification.ByAttachmentID{AttachmentID: attachment.Id})
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	sources, err := chunks.FindSources(ctx, []string{rows[1].Id, "missing:9"}, &attachment.Id)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "doc.pdf", sources[0].Filename)
	assert.Equal(t, "one", sources[0].Content)
}
