package mapper

import (
	"time"

	"cyborg-chat-be/internal/entity"
	"cyborg-chat-be/internal/model"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ChatMapper struct{}

func NewChatMapper() *ChatMapper {
	return &ChatMapper{}
}

func deletedAtToEntity(d gorm.DeletedAt) *time.Time {
	if !d.Valid {
		return nil
	}
	t := d.Time
	return &t
}

func deletedAtToModel(deletedAt *time.Time, isDeleted bool) gorm.DeletedAt {
	if deletedAt != nil {
		return gorm.DeletedAt{Time: *deletedAt, Valid: true}
	}
	if isDeleted {
		return gorm.DeletedAt{Time: time.Now(), Valid: true}
	}
	return gorm.DeletedAt{}
}

func updatedAtToEntity(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func updatedAtToModel(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// Session Mappers

func (m *ChatMapper) SessionToEntity(s *model.Session) *entity.Session {
	if s == nil {
		return nil
	}

	return &entity.Session{
		Id:        s.Id,
		UserId:    s.UserId,
		Title:     s.Title,
		CreatedAt: s.CreatedAt,
		UpdatedAt: updatedAtToEntity(s.UpdatedAt),
		DeletedAt: deletedAtToEntity(s.DeletedAt),
		IsDeleted: s.DeletedAt.Valid,
	}
}

func (m *ChatMapper) SessionToModel(s *entity.Session) *model.Session {
	if s == nil {
		return nil
	}

	return &model.Session{
		Id:        s.Id,
		UserId:    s.UserId,
		Title:     s.Title,
		CreatedAt: s.CreatedAt,
		UpdatedAt: updatedAtToModel(s.UpdatedAt),
		DeletedAt: deletedAtToModel(s.DeletedAt, s.IsDeleted),
	}
}

// Message Mappers

func (m *ChatMapper) MessageToEntity(msg *model.Message) *entity.Message {
	if msg == nil {
		return nil
	}

	var attachmentIds []uuid.UUID
	for _, raw := range msg.AttachmentIds {
		// Ids were validated on write; anything unparsable is skipped.
		if id, err := uuid.Parse(raw); err == nil {
			attachmentIds = append(attachmentIds, id)
		}
	}

	return &entity.Message{
		Id:            msg.Id,
		SessionId:     msg.SessionId,
		Role:          msg.Role,
		Content:       msg.Content,
		Tokens:        msg.Tokens,
		AttachmentIds: attachmentIds,
		CreatedAt:     msg.CreatedAt,
		DeletedAt:     deletedAtToEntity(msg.DeletedAt),
		IsDeleted:     msg.DeletedAt.Valid,
	}
}

func (m *ChatMapper) MessageToModel(msg *entity.Message) *model.Message {
	if msg == nil {
		return nil
	}

	attachmentIds := make(datatypes.JSONSlice[string], len(msg.AttachmentIds))
	for i, id := range msg.AttachmentIds {
		attachmentIds[i] = id.String()
	}

	return &model.Message{
		Id:            msg.Id,
		SessionId:     msg.SessionId,
		Role:          msg.Role,
		Content:       msg.Content,
		Tokens:        msg.Tokens,
		AttachmentIds: attachmentIds,
		CreatedAt:     msg.CreatedAt,
		DeletedAt:     deletedAtToModel(msg.DeletedAt, msg.IsDeleted),
	}
}

func (m *ChatMapper) MessagesToEntities(models []*model.Message) []*entity.Message {
	entities := make([]*entity.Message, len(models))
	for i, msg := range models {
		entities[i] = m.MessageToEntity(msg)
	}
	return entities
}
