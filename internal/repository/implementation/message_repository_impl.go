package implementation

import (
	"context"
	"errors"
	"slices"

	"cyborg-chat-be/internal/entity"
	"cyborg-chat-be/internal/mapper"
	"cyborg-chat-be/internal/model"
	"cyborg-chat-be/internal/repository/contract"
	"cyborg-chat-be/internal/repository/specification"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type MessageRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.ChatMapper
}

func NewMessageRepository(db *gorm.DB) contract.MessageRepository {
	return &MessageRepositoryImpl{
		db:     db,
		mapper: mapper.NewChatMapper(),
	}
}

func (r *MessageRepositoryImpl) Create(ctx context.Context, message *entity.Message) error {
	m := r.mapper.MessageToModel(message)
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	*message = *r.mapper.MessageToEntity(m)
	return nil
}

func (r *MessageRepositoryImpl) DeleteBySessionId(ctx context.Context, sessionId uuid.UUID) error {
	return r.db.WithContext(ctx).Where("session_id = ?", sessionId).Delete(&model.Message{}).Error
}

func (r *MessageRepositoryImpl) FindOne(ctx context.Context, specs ...specification.Specification) (*entity.Message, error) {
	var m model.Message
	query := applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.mapper.MessageToEntity(&m), nil
}

func (r *MessageRepositoryImpl) FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.Message, error) {
	var models []*model.Message
	query := applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	return r.mapper.MessagesToEntities(models), nil
}

func (r *MessageRepositoryImpl) FindRecent(ctx context.Context, sessionId uuid.UUID, limit int) ([]*entity.Message, error) {
	messages, err := r.FindAll(ctx,
		specification.BySessionID{SessionID: sessionId},
		specification.ExcludeRole{Role: entity.RoleSystem},
		specification.OrderBy{Field: "created_at", Desc: true},
		specification.Pagination{Limit: limit},
	)
	if err != nil {
		return nil, err
	}
	slices.Reverse(messages)
	return messages, nil
}

func (r *MessageRepositoryImpl) FindLatestBySessionIds(ctx context.Context, sessionIds []uuid.UUID) (map[uuid.UUID]*entity.Message, error) {
	latest := make(map[uuid.UUID]*entity.Message, len(sessionIds))
	if len(sessionIds) == 0 {
		return latest, nil
	}

	var models []*model.Message
	err := r.db.WithContext(ctx).
		Raw(`SELECT DISTINCT ON (session_id) * FROM messages
WHERE session_id IN ? AND deleted_at IS NULL
ORDER BY session_id, created_at DESC`, sessionIds).
		Scan(&models).Error
	if err != nil {
		return nil, err
	}

	for _, m := range models {
		latest[m.SessionId] = r.mapper.MessageToEntity(m)
	}
	return latest, nil
}

func (r *MessageRepositoryImpl) Count(ctx context.Context, specs ...specification.Specification) (int64, error) {
	var count int64
	query := applySpecifications(r.db.WithContext(ctx).Model(&model.Message{}), specs...)
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
