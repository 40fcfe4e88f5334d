package mapper

import (
	"cyborg-chat-be/internal/entity"
	"cyborg-chat-be/internal/model"

	"gorm.io/datatypes"
)

type AttachmentMapper struct{}

func NewAttachmentMapper() *AttachmentMapper {
	return &AttachmentMapper{}
}

func (m *AttachmentMapper) ToEntity(a *model.Attachment) *entity.Attachment {
	if a == nil {
		return nil
	}

	return &entity.Attachment{
		Id:        a.Id,
		SessionId: a.SessionId,
		UserId:    a.UserId,
		Filename:  a.Filename,
		MimeType:  a.MimeType,
		Size:      a.Size,
		Url:       a.Url,
		State:     entity.DecodeState(a.Metadata),
		CreatedAt: a.CreatedAt,
		UpdatedAt: updatedAtToEntity(a.UpdatedAt),
		DeletedAt: deletedAtToEntity(a.DeletedAt),
		IsDeleted: a.DeletedAt.Valid,
	}
}

func (m *AttachmentMapper) ToModel(a *entity.Attachment) (*model.Attachment, error) {
	if a == nil {
		return nil, nil
	}

	metadata, err := entity.EncodeState(a.State)
	if err != nil {
		return nil, err
	}

	return &model.Attachment{
		Id:        a.Id,
		SessionId: a.SessionId,
		UserId:    a.UserId,
		Filename:  a.Filename,
		MimeType:  a.MimeType,
		Size:      a.Size,
		Url:       a.Url,
		Metadata:  datatypes.JSON(metadata),
		CreatedAt: a.CreatedAt,
		UpdatedAt: updatedAtToModel(a.UpdatedAt),
		DeletedAt: deletedAtToModel(a.DeletedAt, a.IsDeleted),
	}, nil
}

func (m *AttachmentMapper) ToEntities(models []*model.Attachment) []*entity.Attachment {
	entities := make([]*entity.Attachment, len(models))
	for i, a := range models {
		entities[i] = m.ToEntity(a)
	}
	return entities
}
