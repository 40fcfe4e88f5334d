package service

import (
	"context"
	"os"
	"strings"

	"cyborg-chat-be/internal/dto"
	"cyborg-chat-be/internal/entity"
	"cyborg-chat-be/internal/pkg/logger"
	"cyborg-chat-be/internal/repository/memory"
	"cyborg-chat-be/internal/repository/specification"
	"cyborg-chat-be/internal/repository/unitofwork"
	"cyborg-chat-be/pkg/apperror"
	"cyborg-chat-be/pkg/events"

	"github.com/google/uuid"
)

const defaultSessionTitle = "New Chat"

type ISessionService interface {
	Create(ctx context.Context, userId uuid.UUID, request *dto.CreateSessionRequest) (*dto.CreateSessionResponse, error)
	List(ctx context.Context, userId uuid.UUID) ([]*dto.SessionSummaryResponse, error)
	Get(ctx context.Context, userId uuid.UUID, sessionId uuid.UUID) (*dto.SessionDetailResponse, error)
	Rename(ctx context.Context, userId uuid.UUID, sessionId uuid.UUID, request *dto.RenameSessionRequest) (*dto.SessionResponse, error)
	Delete(ctx context.Context, userId uuid.UUID, sessionId uuid.UUID) error
	// Authorize returns a NotFound error unless userId owns sessionId.
	Authorize(ctx context.Context, userId uuid.UUID, sessionId uuid.UUID) error
}

type sessionService struct {
	uowFactory unitofwork.RepositoryFactory
	owners     *memory.SessionOwnerRepository
	publisher  events.Publisher
	janitor    IIndexJanitor
	logger     logger.ILogger
}

// NewSessionService wires session management. With a nil publisher the
// index of a deleted session is dropped in-process instead of through
// the session.deleted event.
func NewSessionService(
	uowFactory unitofwork.RepositoryFactory,
	owners *memory.SessionOwnerRepository,
	publisher events.Publisher,
	janitor IIndexJanitor,
	log logger.ILogger,
) ISessionService {
	return &sessionService{
		uowFactory: uowFactory,
		owners:     owners,
		publisher:  publisher,
		janitor:    janitor,
		logger:     log,
	}
}

func (s *sessionService) Create(ctx context.Context, userId uuid.UUID, request *dto.CreateSessionRequest) (*dto.CreateSessionResponse, error) {
	title := strings.TrimSpace(request.Title)
	if title == "" {
		title = defaultSessionTitle
	}

	session := entity.Session{
		Id:     uuid.New(),
		UserId: userId,
		Title:  title,
	}

	uow := s.uowFactory.NewUnitOfWork(ctx)
	if err := uow.SessionRepository().Create(ctx, &session); err != nil {
		return nil, apperror.Processing("failed to create chat session", err)
	}
	s.owners.Save(session.Id, userId)

	return &dto.CreateSessionResponse{
		SessionId: session.Id,
		Title:     session.Title,
		CreatedAt: session.CreatedAt,
	}, nil
}

func (s *sessionService) List(ctx context.Context, userId uuid.UUID) ([]*dto.SessionSummaryResponse, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)

	sessions, err := uow.SessionRepository().FindAll(ctx,
		specification.UserOwnedBy{UserID: userId},
		specification.OrderBy{Field: "updated_at", Desc: true},
	)
	if err != nil {
		return nil, apperror.Processing("failed to fetch sessions", err)
	}

	ids := make([]uuid.UUID, len(sessions))
	for i, sess := range sessions {
		ids[i] = sess.Id
	}
	latest, err := uow.MessageRepository().FindLatestBySessionIds(ctx, ids)
	if err != nil {
		return nil, apperror.Processing("failed to fetch sessions", err)
	}

	response := make([]*dto.SessionSummaryResponse, 0, len(sessions))
	for _, sess := range sessions {
		summary := &dto.SessionSummaryResponse{SessionResponse: toSessionResponse(sess)}
		if msg, ok := latest[sess.Id]; ok {
			summary.LastMessage = toMessageResponse(msg)
		}
		response = append(response, summary)
	}
	return response, nil
}

func (s *sessionService) Get(ctx context.Context, userId uuid.UUID, sessionId uuid.UUID) (*dto.SessionDetailResponse, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)

	session, err := s.findOwned(ctx, uow, userId, sessionId)
	if err != nil {
		return nil, err
	}

	messages, err := uow.MessageRepository().FindAll(ctx,
		specification.BySessionID{SessionID: sessionId},
		specification.OrderBy{Field: "created_at"},
	)
	if err != nil {
		return nil, apperror.Processing("failed to fetch session", err)
	}

	attachments, err := uow.AttachmentRepository().FindAll(ctx,
		specification.BySessionID{SessionID: sessionId},
		specification.OrderBy{Field: "created_at"},
	)
	if err != nil {
		return nil, apperror.Processing("failed to fetch session", err)
	}

	response := &dto.SessionDetailResponse{
		SessionResponse: toSessionResponse(session),
		Messages:        make([]*dto.MessageResponse, 0, len(messages)),
		Attachments:     make([]*dto.AttachmentResponse, 0, len(attachments)),
	}
	for _, msg := range messages {
		response.Messages = append(response.Messages, toMessageResponse(msg))
	}
	for _, att := range attachments {
		response.Attachments = append(response.Attachments, toAttachmentResponse(att))
	}
	return response, nil
}

func (s *sessionService) Rename(ctx context.Context, userId uuid.UUID, sessionId uuid.UUID, request *dto.RenameSessionRequest) (*dto.SessionResponse, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)

	session, err := s.findOwned(ctx, uow, userId, sessionId)
	if err != nil {
		return nil, err
	}

	session.Title = strings.TrimSpace(request.Title)
	if err := uow.SessionRepository().Update(ctx, session); err != nil {
		return nil, apperror.Processing("failed to update session", err)
	}

	response := toSessionResponse(session)
	return &response, nil
}

// Delete removes the session with its messages, attachments and chunk rows
// in one transaction. The vector index is dropped afterwards, best-effort.
func (s *sessionService) Delete(ctx context.Context, userId uuid.UUID, sessionId uuid.UUID) error {
	uow := s.uowFactory.NewUnitOfWork(ctx)

	if _, err := s.findOwned(ctx, uow, userId, sessionId); err != nil {
		return err
	}

	attachments, err := uow.AttachmentRepository().FindAll(ctx, specification.BySessionID{SessionID: sessionId})
	if err != nil {
		return apperror.Processing("failed to delete session", err)
	}

	if err := uow.Begin(ctx); err != nil {
		return apperror.Processing("failed to delete session", err)
	}
	defer uow.Rollback()

	if err := uow.ChunkDataRepository().DeleteBySessionId(ctx, sessionId); err != nil {
		return apperror.Processing("failed to delete session", err)
	}
	if err := uow.AttachmentRepository().DeleteBySessionId(ctx, sessionId); err != nil {
		return apperror.Processing("failed to delete session", err)
	}
	if err := uow.MessageRepository().DeleteBySessionId(ctx, sessionId); err != nil {
		return apperror.Processing("failed to delete session", err)
	}
	if err := uow.SessionRepository().Delete(ctx, sessionId); err != nil {
		return apperror.Processing("failed to delete session", err)
	}
	if err := uow.Commit(); err != nil {
		return apperror.Processing("failed to delete session", err)
	}

	s.owners.Delete(sessionId)
	s.removeFiles(attachments)
	s.dropIndex(ctx, userId, sessionId)

	s.logger.Info("Session", "Session deleted", map[string]interface{}{
		"session_id":  sessionId.String(),
		"user_id":     userId.String(),
		"attachments": len(attachments),
	})
	return nil
}

func (s *sessionService) Authorize(ctx context.Context, userId uuid.UUID, sessionId uuid.UUID) error {
	if owner, ok := s.owners.Get(sessionId); ok {
		if owner == userId {
			return nil
		}
		return apperror.NotFound("Session not found")
	}

	_, err := s.findOwned(ctx, s.uowFactory.NewUnitOfWork(ctx), userId, sessionId)
	return err
}

func (s *sessionService) findOwned(ctx context.Context, uow unitofwork.UnitOfWork, userId, sessionId uuid.UUID) (*entity.Session, error) {
	session, err := uow.SessionRepository().FindOne(ctx,
		specification.ByID{ID: sessionId},
		specification.UserOwnedBy{UserID: userId},
	)
	if err != nil {
		return nil, apperror.Processing("failed to load session", err)
	}
	if session == nil {
		return nil, apperror.NotFound("Session not found")
	}
	s.owners.Save(session.Id, session.UserId)
	return session, nil
}

func (s *sessionService) dropIndex(ctx context.Context, userId, sessionId uuid.UUID) {
	if s.publisher == nil {
		s.janitor.DropAsync(sessionId)
		return
	}

	if err := s.publisher.Publish(ctx, events.SessionDeleted(sessionId, userId.String())); err != nil {
		s.logger.Warn("Session", "Failed to publish session.deleted, dropping index in-process", map[string]interface{}{
			"session_id": sessionId.String(),
			"error":      err.Error(),
		})
		s.janitor.DropAsync(sessionId)
	}
}

func (s *sessionService) removeFiles(attachments []*entity.Attachment) {
	for _, att := range attachments {
		if att.Url == "" {
			continue
		}
		if err := os.Remove(att.Url); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("Session", "Failed to remove uploaded file", map[string]interface{}{
				"attachment_id": att.Id.String(),
				"error":         err.Error(),
			})
		}
	}
}

func toSessionResponse(s *entity.Session) dto.SessionResponse {
	return dto.SessionResponse{
		Id:        s.Id,
		Title:     s.Title,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func toMessageResponse(m *entity.Message) *dto.MessageResponse {
	return &dto.MessageResponse{
		Id:            m.Id,
		Role:          m.Role,
		Content:       m.Content,
		Tokens:        m.Tokens,
		AttachmentIds: m.AttachmentIds,
		CreatedAt:     m.CreatedAt,
	}
}
