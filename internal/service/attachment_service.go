package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cyborg-chat-be/internal/dto"
	"cyborg-chat-be/internal/entity"
	"cyborg-chat-be/internal/pkg/logger"
	"cyborg-chat-be/internal/repository/specification"
	"cyborg-chat-be/internal/repository/unitofwork"
	"cyborg-chat-be/pkg/apperror"
	"cyborg-chat-be/pkg/vectorstore"

	"github.com/google/uuid"
)

const JobProcessFile = "process-file"

// JobEnqueuer hands work to the background job queue.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, name, key string, payload any) error
}

type UploadRequest struct {
	SessionId uuid.UUID
	Filename  string
	MimeType  string
	Size      int64
	Content   io.Reader
}

type IAttachmentService interface {
	Upload(ctx context.Context, userId uuid.UUID, request *UploadRequest) (*dto.UploadResponse, error)
	Status(ctx context.Context, userId uuid.UUID, attachmentId uuid.UUID) (*dto.AttachmentStatusResponse, error)
	Chunks(ctx context.Context, userId uuid.UUID, attachmentId uuid.UUID) ([]*dto.ChunkResponse, error)
	Chunk(ctx context.Context, userId uuid.UUID, attachmentId uuid.UUID, index int) (*dto.ChunkResponse, error)
	Delete(ctx context.Context, userId uuid.UUID, attachmentId uuid.UUID) error
	// Authorize loads the attachment if userId may see it.
	Authorize(ctx context.Context, userId uuid.UUID, attachmentId uuid.UUID) (*entity.Attachment, error)
	// File resolves an uploaded file name to the attachment that owns it.
	File(ctx context.Context, userId uuid.UUID, filename string) (*entity.Attachment, error)
}

type attachmentService struct {
	uowFactory unitofwork.RepositoryFactory
	sessions   ISessionService
	jobs       JobEnqueuer
	store      vectorstore.Store
	uploadDir  string
	logger     logger.ILogger
}

func NewAttachmentService(
	uowFactory unitofwork.RepositoryFactory,
	sessions ISessionService,
	jobs JobEnqueuer,
	store vectorstore.Store,
	uploadDir string,
	log logger.ILogger,
) IAttachmentService {
	return &attachmentService{
		uowFactory: uowFactory,
		sessions:   sessions,
		jobs:       jobs,
		store:      store,
		uploadDir:  uploadDir,
		logger:     log,
	}
}

// Upload stores the file, records a pending attachment and queues it for
// ingestion.
func (s *attachmentService) Upload(ctx context.Context, userId uuid.UUID, request *UploadRequest) (*dto.UploadResponse, error) {
	filename := filepath.Base(strings.TrimSpace(request.Filename))
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		return nil, apperror.Validation("file name is required")
	}
	if err := s.sessions.Authorize(ctx, userId, request.SessionId); err != nil {
		return nil, err
	}

	attachmentId := uuid.New()
	path, size, err := s.save(attachmentId, filename, request.Content)
	if err != nil {
		return nil, apperror.Processing("failed to store upload", err)
	}

	mimeType := request.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	attachment := entity.Attachment{
		Id:        attachmentId,
		SessionId: request.SessionId,
		UserId:    userId,
		Filename:  filename,
		MimeType:  mimeType,
		Size:      size,
		Url:       path,
		State:     entity.Pending{},
	}

	uow := s.uowFactory.NewUnitOfWork(ctx)
	if err := uow.AttachmentRepository().Create(ctx, &attachment); err != nil {
		_ = os.Remove(path)
		return nil, apperror.Processing("failed to record attachment", err)
	}

	job := dto.ProcessFileJob{
		AttachmentId: attachment.Id,
		UserId:       userId,
		SessionId:    attachment.SessionId,
	}
	if err := s.jobs.Enqueue(ctx, JobProcessFile, attachment.Id.String(), job); err != nil {
		state := entity.Failed{Error: "could not queue file for processing", FailedAt: time.Now()}
		if updateErr := uow.AttachmentRepository().UpdateState(ctx, attachment.Id, state); updateErr != nil {
			s.logger.Error("Attachment", "Failed to record enqueue failure", map[string]interface{}{
				"attachment_id": attachment.Id.String(),
				"error":         updateErr.Error(),
			})
		}
		return nil, apperror.Processing("failed to queue file for processing", err)
	}

	s.logger.Info("Attachment", "File uploaded", map[string]interface{}{
		"attachment_id": attachment.Id.String(),
		"session_id":    attachment.SessionId.String(),
		"filename":      filename,
		"size":          size,
	})

	return &dto.UploadResponse{
		AttachmentId: attachment.Id,
		SessionId:    attachment.SessionId,
		Filename:     attachment.Filename,
		MimeType:     attachment.MimeType,
		Size:         attachment.Size,
		Status:       entity.StatusPending,
	}, nil
}

func (s *attachmentService) save(attachmentId uuid.UUID, filename string, content io.Reader) (string, int64, error) {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create upload dir: %w", err)
	}

	path := filepath.Join(s.uploadDir, attachmentId.String()+strings.ToLower(filepath.Ext(filename)))
	f, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("create file: %w", err)
	}
	defer f.Close()

	size, err := io.Copy(f, content)
	if err != nil {
		_ = os.Remove(path)
		return "", 0, fmt.Errorf("write file: %w", err)
	}
	return path, size, nil
}

func (s *attachmentService) Status(ctx context.Context, userId uuid.UUID, attachmentId uuid.UUID) (*dto.AttachmentStatusResponse, error) {
	attachment, err := s.Authorize(ctx, userId, attachmentId)
	if err != nil {
		return nil, err
	}
	return toStatusResponse(attachment), nil
}

func (s *attachmentService) Chunks(ctx context.Context, userId uuid.UUID, attachmentId uuid.UUID) ([]*dto.ChunkResponse, error) {
	if _, err := s.Authorize(ctx, userId, attachmentId); err != nil {
		return nil, err
	}

	chunks, err := s.uowFactory.NewUnitOfWork(ctx).ChunkDataRepository().FindAll(ctx,
		specification.ByAttachmentID{AttachmentID: attachmentId},
		specification.OrderBy{Field: "chunk_index"},
	)
	if err != nil {
		return nil, apperror.Processing("failed to load chunks", err)
	}

	response := make([]*dto.ChunkResponse, len(chunks))
	for i, c := range chunks {
		response[i] = toChunkResponse(c)
	}
	return response, nil
}

func (s *attachmentService) Chunk(ctx context.Context, userId uuid.UUID, attachmentId uuid.UUID, index int) (*dto.ChunkResponse, error) {
	if index < 0 {
		return nil, apperror.Validation("chunk index must not be negative")
	}
	if _, err := s.Authorize(ctx, userId, attachmentId); err != nil {
		return nil, err
	}

	chunk, err := s.uowFactory.NewUnitOfWork(ctx).ChunkDataRepository().FindOne(ctx,
		specification.ByAttachmentID{AttachmentID: attachmentId},
		specification.ByChunkIndex{Index: index},
	)
	if err != nil {
		return nil, apperror.Processing("failed to load chunk", err)
	}
	if chunk == nil {
		return nil, apperror.NotFound("Chunk not found")
	}
	return toChunkResponse(chunk), nil
}

// Delete removes the attachment's vectors, its chunk rows, the row itself
// and the stored file.
func (s *attachmentService) Delete(ctx context.Context, userId uuid.UUID, attachmentId uuid.UUID) error {
	attachment, err := s.Authorize(ctx, userId, attachmentId)
	if err != nil {
		return err
	}

	uow := s.uowFactory.NewUnitOfWork(ctx)
	chunks, err := uow.ChunkDataRepository().FindAll(ctx, specification.ByAttachmentID{AttachmentID: attachmentId})
	if err != nil {
		return apperror.Processing("failed to delete attachment", err)
	}

	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.Id
	}
	if err := s.store.Delete(ctx, attachment.SessionId, ids); err != nil && !errors.Is(err, vectorstore.ErrIndexNotFound) {
		return apperror.Processing("failed to delete attachment vectors", err)
	}

	if err := uow.Begin(ctx); err != nil {
		return apperror.Processing("failed to delete attachment", err)
	}
	defer uow.Rollback()

	if err := uow.ChunkDataRepository().DeleteByAttachmentId(ctx, attachmentId); err != nil {
		return apperror.Processing("failed to delete attachment", err)
	}
	if err := uow.AttachmentRepository().Delete(ctx, attachmentId); err != nil {
		return apperror.Processing("failed to delete attachment", err)
	}
	if err := uow.Commit(); err != nil {
		return apperror.Processing("failed to delete attachment", err)
	}

	if err := os.Remove(attachment.Url); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("Attachment", "Failed to remove uploaded file", map[string]interface{}{
			"attachment_id": attachmentId.String(),
			"error":         err.Error(),
		})
	}

	s.logger.Info("Attachment", "Attachment deleted", map[string]interface{}{
		"attachment_id": attachmentId.String(),
		"session_id":    attachment.SessionId.String(),
		"vectors":       len(ids),
	})
	return nil
}

func (s *attachmentService) Authorize(ctx context.Context, userId uuid.UUID, attachmentId uuid.UUID) (*entity.Attachment, error) {
	attachment, err := s.uowFactory.NewUnitOfWork(ctx).AttachmentRepository().FindOne(ctx,
		specification.ByID{ID: attachmentId},
	)
	if err != nil {
		return nil, apperror.Processing("failed to load attachment", err)
	}
	return s.checkOwner(ctx, userId, attachment)
}

func (s *attachmentService) File(ctx context.Context, userId uuid.UUID, filename string) (*entity.Attachment, error) {
	name := filepath.Base(filename)
	if name != filename || name == "." || name == ".." {
		return nil, apperror.NotFound("File not found")
	}

	attachment, err := s.uowFactory.NewUnitOfWork(ctx).AttachmentRepository().FindOne(ctx,
		specification.Filter("url", filepath.Join(s.uploadDir, name)),
	)
	if err != nil {
		return nil, apperror.Processing("failed to load attachment", err)
	}
	return s.checkOwner(ctx, userId, attachment)
}

func (s *attachmentService) checkOwner(ctx context.Context, userId uuid.UUID, attachment *entity.Attachment) (*entity.Attachment, error) {
	if attachment == nil {
		return nil, apperror.NotFound("Attachment not found")
	}
	if attachment.UserId == userId {
		return attachment, nil
	}
	if err := s.sessions.Authorize(ctx, userId, attachment.SessionId); err != nil {
		return nil, apperror.NotFound("Attachment not found")
	}
	return attachment, nil
}

func toStatusResponse(a *entity.Attachment) *dto.AttachmentStatusResponse {
	response := &dto.AttachmentStatusResponse{
		AttachmentId: a.Id,
		Status:       a.State.Status(),
	}
	switch state := a.State.(type) {
	case entity.Processed:
		count := state.ChunkCount
		response.ChunkCount = &count
		if !state.ProcessedAt.IsZero() {
			at := state.ProcessedAt
			response.ProcessedAt = &at
		}
	case entity.Failed:
		response.Error = state.Error
	}
	return response
}

func toAttachmentResponse(a *entity.Attachment) *dto.AttachmentResponse {
	status := toStatusResponse(a)
	return &dto.AttachmentResponse{
		Id:         a.Id,
		Filename:   a.Filename,
		MimeType:   a.MimeType,
		Size:       a.Size,
		Url:        "/api/files/" + filepath.Base(a.Url),
		Status:     status.Status,
		ChunkCount: status.ChunkCount,
		Error:      status.Error,
		CreatedAt:  a.CreatedAt,
	}
}

func toChunkResponse(c *entity.ChunkData) *dto.ChunkResponse {
	return &dto.ChunkResponse{
		Id:         c.Id,
		ChunkIndex: c.ChunkIndex,
		Content:    c.Content,
		PageNumber: c.PageNumber,
		StartChar:  c.StartChar,
		EndChar:    c.EndChar,
	}
}
