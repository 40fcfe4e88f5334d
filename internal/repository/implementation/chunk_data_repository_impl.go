package implementation

import (
	"context"
	"errors"

	"cyborg-chat-be/internal/entity"
	"cyborg-chat-be/internal/mapper"
	"cyborg-chat-be/internal/model"
	"cyborg-chat-be/internal/repository/contract"
	"cyborg-chat-be/internal/repository/specification"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const chunkInsertBatch = 100

type ChunkDataRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.ChunkDataMapper
}

func NewChunkDataRepository(db *gorm.DB) contract.ChunkDataRepository {
	return &ChunkDataRepositoryImpl{
		db:     db,
		mapper: mapper.NewChunkDataMapper(),
	}
}

func (r *ChunkDataRepositoryImpl) CreateBatch(ctx context.Context, chunks []*entity.ChunkData) error {
	if len(chunks) == 0 {
		return nil
	}
	models := r.mapper.ToModels(chunks)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(models, chunkInsertBatch).Error
}

func (r *ChunkDataRepositoryImpl) DeleteByAttachmentId(ctx context.Context, attachmentId uuid.UUID) error {
	return r.db.WithContext(ctx).Where("attachment_id = ?", attachmentId).Delete(&model.ChunkData{}).Error
}

func (r *ChunkDataRepositoryImpl) DeleteBySessionId(ctx context.Context, sessionId uuid.UUID) error {
	attachments := r.db.Model(&model.Attachment{}).Unscoped().Select("id").Where("session_id = ?", sessionId)
	return r.db.WithContext(ctx).Where("attachment_id IN (?)", attachments).Delete(&model.ChunkData{}).Error
}

func (r *ChunkDataRepositoryImpl) FindOne(ctx context.Context, specs ...specification.Specification) (*entity.ChunkData, error) {
	var m model.ChunkData
	query := applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.mapper.ToEntity(&m), nil
}

func (r *ChunkDataRepositoryImpl) FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.ChunkData, error) {
	var models []*model.ChunkData
	query := applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	return r.mapper.ToEntities(models), nil
}

type chunkSourceRow struct {
	model.ChunkData
	Filename string
}

func (r *ChunkDataRepositoryImpl) FindSources(ctx context.Context, vectorIds []string, attachmentId *uuid.UUID) ([]*entity.ChunkSource, error) {
	if len(vectorIds) == 0 {
		return nil, nil
	}

	query := r.db.WithContext(ctx).
		Table("chunk_data").
		Select("chunk_data.*, attachments.filename").
		Joins("JOIN attachments ON attachments.id = chunk_data.attachment_id AND attachments.deleted_at IS NULL").
		Where("chunk_data.id IN ?", vectorIds)
	if attachmentId != nil {
		query = query.Where("chunk_data.attachment_id = ?", *attachmentId)
	}

	var rows []chunkSourceRow
	if err := query.Scan(&rows).Error; err != nil {
		return nil, err
	}

	sources := make([]*entity.ChunkSource, len(rows))
	for i := range rows {
		sources[i] = &entity.ChunkSource{
			ChunkData: *r.mapper.ToEntity(&rows[i].ChunkData),
			Filename:  rows[i].Filename,
		}
	}
	return sources, nil
}

func (r *ChunkDataRepositoryImpl) Count(ctx context.Context, specs ...specification.Specification) (int64, error) {
	var count int64
	query := applySpecifications(r.db.WithContext(ctx).Model(&model.ChunkData{}), specs...)
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
