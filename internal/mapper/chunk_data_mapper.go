package mapper

import (
	"cyborg-chat-be/internal/entity"
	"cyborg-chat-be/internal/model"
)

type ChunkDataMapper struct{}

func NewChunkDataMapper() *ChunkDataMapper {
	return &ChunkDataMapper{}
}

func (m *ChunkDataMapper) ToEntity(c *model.ChunkData) *entity.ChunkData {
	if c == nil {
		return nil
	}
	return &entity.ChunkData{
		Id:           c.Id,
		AttachmentId: c.AttachmentId,
		ChunkIndex:   c.ChunkIndex,
		Content:      c.Content,
		PageNumber:   c.PageNumber,
		StartChar:    c.StartChar,
		EndChar:      c.EndChar,
		CreatedAt:    c.CreatedAt,
	}
}

func (m *ChunkDataMapper) ToModel(c *entity.ChunkData) *model.ChunkData {
	if c == nil {
		return nil
	}
	return &model.ChunkData{
		Id:           c.Id,
		AttachmentId: c.AttachmentId,
		ChunkIndex:   c.ChunkIndex,
		Content:      c.Content,
		PageNumber:   c.PageNumber,
		StartChar:    c.StartChar,
		EndChar:      c.EndChar,
		CreatedAt:    c.CreatedAt,
	}
}

func (m *ChunkDataMapper) ToEntities(models []*model.ChunkData) []*entity.ChunkData {
	entities := make([]*entity.ChunkData, len(models))
	for i, c := range models {
		entities[i] = m.ToEntity(c)
	}
	return entities
}

func (m *ChunkDataMapper) ToModels(entities []*entity.ChunkData) []*model.ChunkData {
	models := make([]*model.ChunkData, len(entities))
	for i, c := range entities {
		models[i] = m.ToModel(c)
	}
	return models
}
