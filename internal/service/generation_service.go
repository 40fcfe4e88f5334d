package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"cyborg-chat-be/internal/dto"
	"cyborg-chat-be/internal/entity"
	"cyborg-chat-be/internal/hub"
	"cyborg-chat-be/internal/pkg/logger"
	"cyborg-chat-be/internal/repository/unitofwork"
	"cyborg-chat-be/pkg/apperror"
	"cyborg-chat-be/pkg/llm"
	"cyborg-chat-be/pkg/rag/prompt"
	"cyborg-chat-be/pkg/rag/retrieval"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var generationTracer = otel.Tracer("cyborg-chat-be/generation")

const DefaultHistoryLimit = 20

// FrameEmitter writes one frame to the client. An error means the client
// is gone.
type FrameEmitter func(frame dto.StreamFrame) error

type ContextRetriever interface {
	GetContext(ctx context.Context, sessionID uuid.UUID, query string, attachmentIDs []uuid.UUID) ([]retrieval.ContextChunk, error)
}

// Turn is a user message accepted for generation.
type Turn struct {
	SessionId     uuid.UUID
	UserId        uuid.UUID
	Message       *entity.Message
	History       []llm.Message
	AttachmentIds []uuid.UUID
}

type IGenerationService interface {
	// Begin checks ownership, loads history and persists the user message.
	// Its errors are returned before any frame is written.
	Begin(ctx context.Context, userId uuid.UUID, sessionId uuid.UUID, request *dto.SendMessageRequest) (*Turn, error)
	// Stream answers the turn. It always ends with a done or an error frame.
	Stream(ctx context.Context, turn *Turn, emit FrameEmitter) error
}

type generationService struct {
	uowFactory   unitofwork.RepositoryFactory
	sessions     ISessionService
	retriever    ContextRetriever
	llmProvider  llm.LLMProvider
	notifier     INotificationService
	historyLimit int
	logger       logger.ILogger
}

func NewGenerationService(
	uowFactory unitofwork.RepositoryFactory,
	sessions ISessionService,
	retriever ContextRetriever,
	llmProvider llm.LLMProvider,
	notifier INotificationService,
	historyLimit int,
	log logger.ILogger,
) IGenerationService {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &generationService{
		uowFactory:   uowFactory,
		sessions:     sessions,
		retriever:    retriever,
		llmProvider:  llmProvider,
		notifier:     notifier,
		historyLimit: historyLimit,
		logger:       log,
	}
}

func (s *generationService) Begin(ctx context.Context, userId uuid.UUID, sessionId uuid.UUID, request *dto.SendMessageRequest) (*Turn, error) {
	content := strings.TrimSpace(request.Content)
	if content == "" {
		return nil, apperror.Validation("Message content is required")
	}
	if err := s.sessions.Authorize(ctx, userId, sessionId); err != nil {
		return nil, err
	}

	uow := s.uowFactory.NewUnitOfWork(ctx)
	recent, err := uow.MessageRepository().FindRecent(ctx, sessionId, s.historyLimit)
	if err != nil {
		return nil, apperror.Processing("failed to load chat history", err)
	}
	history := make([]llm.Message, len(recent))
	for i, m := range recent {
		history[i] = llm.Message{Role: m.Role, Content: m.Content}
	}

	message := entity.Message{
		Id:            uuid.New(),
		SessionId:     sessionId,
		Role:          entity.RoleUser,
		Content:       content,
		Tokens:        utf8.RuneCountInString(content),
		AttachmentIds: request.AttachmentIds,
	}
	if err := uow.MessageRepository().Create(ctx, &message); err != nil {
		return nil, apperror.Processing("failed to save message", err)
	}
	if err := uow.SessionRepository().Touch(ctx, sessionId); err != nil {
		s.logger.Warn("Generation", "Failed to touch session", map[string]interface{}{
			"session_id": sessionId.String(),
			"error":      err.Error(),
		})
	}

	return &Turn{
		SessionId:     sessionId,
		UserId:        userId,
		Message:       &message,
		History:       history,
		AttachmentIds: request.AttachmentIds,
	}, nil
}

func (s *generationService) Stream(ctx context.Context, turn *Turn, emit FrameEmitter) error {
	ctx, span := generationTracer.Start(ctx, "generation.Stream")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", turn.SessionId.String()),
		attribute.Int("attachments", len(turn.AttachmentIds)),
		attribute.Int("history", len(turn.History)),
	)

	userMessageId := turn.Message.Id
	if err := emit(dto.StreamFrame{Type: dto.FrameUserMessage, MessageId: &userMessageId, Content: turn.Message.Content}); err != nil {
		return err
	}

	s.notifier.Session(hub.NewEngineEvent(hub.EventNotification, turn.SessionId, "Processing your message..."))

	// Returning early must release the provider's producer goroutine and its
	// upstream response, even when the caller detached ctx from the request.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	answer, err := s.answer(ctx, turn, emit)
	if err == nil {
		err = s.finish(ctx, turn, answer, emit)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		s.logger.Error("Generation", "Message generation failed", map[string]interface{}{
			"session_id": turn.SessionId.String(),
			"message_id": userMessageId.String(),
			"error":      err.Error(),
		})
		s.notifier.Session(hub.NewEngineEvent(hub.EventError, turn.SessionId, "Failed to generate a response"))
		_ = emit(dto.StreamFrame{Type: dto.FrameError, Error: apperror.ClientMessage(err)})
		return err
	}
	return nil
}

func (s *generationService) answer(ctx context.Context, turn *Turn, emit FrameEmitter) (string, error) {
	contexts := []retrieval.ContextChunk{}
	if len(turn.AttachmentIds) > 0 {
		found, err := s.retriever.GetContext(ctx, turn.SessionId, turn.Message.Content, turn.AttachmentIds)
		if err != nil {
			return "", err
		}
		contexts = found
	}

	messages := prompt.NewContextualBuilder(contexts).Messages(turn.History, turn.Message.Content)

	stream, err := s.llmProvider.Stream(ctx, messages)
	if err != nil {
		return "", err
	}

	var answer strings.Builder
	for chunk := range stream {
		if chunk.Err != nil {
			return "", chunk.Err
		}
		if chunk.Content == "" {
			continue
		}
		answer.WriteString(chunk.Content)
		if err := emit(dto.StreamFrame{Type: dto.FrameToken, Content: chunk.Content}); err != nil {
			return "", fmt.Errorf("client disconnected: %w", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return answer.String(), nil
}

func (s *generationService) finish(ctx context.Context, turn *Turn, answer string, emit FrameEmitter) error {
	message := entity.Message{
		Id:        uuid.New(),
		SessionId: turn.SessionId,
		Role:      entity.RoleAssistant,
		Content:   answer,
		Tokens:    utf8.RuneCountInString(answer),
	}

	uow := s.uowFactory.NewUnitOfWork(ctx)
	if err := uow.MessageRepository().Create(ctx, &message); err != nil {
		return apperror.Processing("failed to save assistant message", err)
	}
	if err := uow.SessionRepository().Touch(ctx, turn.SessionId); err != nil {
		s.logger.Warn("Generation", "Failed to touch session", map[string]interface{}{
			"session_id": turn.SessionId.String(),
			"error":      err.Error(),
		})
	}

	messageId := message.Id
	if err := emit(dto.StreamFrame{Type: dto.FrameDone, MessageId: &messageId}); err != nil {
		return fmt.Errorf("client disconnected: %w", err)
	}

	s.notifier.Session(hub.NewEngineEvent(hub.EventSuccess, turn.SessionId, "Response complete"))
	s.logger.Info("Generation", "Message answered", map[string]interface{}{
		"session_id":   turn.SessionId.String(),
		"message_id":   messageId.String(),
		"answer_runes": message.Tokens,
	})
	return nil
}
