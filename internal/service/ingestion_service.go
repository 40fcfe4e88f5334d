package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"cyborg-chat-be/internal/dto"
	"cyborg-chat-be/internal/entity"
	"cyborg-chat-be/internal/hub"
	"cyborg-chat-be/internal/pkg/logger"
	"cyborg-chat-be/internal/repository/specification"
	"cyborg-chat-be/internal/repository/unitofwork"
	"cyborg-chat-be/pkg/embedding"
	"cyborg-chat-be/pkg/events"
	"cyborg-chat-be/pkg/jobqueue"
	"cyborg-chat-be/pkg/rag/chunking"
	"cyborg-chat-be/pkg/vectorstore"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var ingestionTracer = otel.Tracer("cyborg-chat-be/ingestion")

// Steps reported on the attachment progress stream.
const (
	StepStarted   = "started"
	StepIngestion = "ingestion"
	StepChunking  = "chunking"
	StepEmbedding = "embedding"
	StepStorage   = "storage"
	StepFinished  = "finished"
	StepError     = "error"
)

// Action types of the session engine events emitted during ingestion.
const (
	ActionIngestionStarted   = "ingestion_started"
	ActionConverting         = "converting"
	ActionChunking           = "chunking"
	ActionEmbedding          = "embedding"
	ActionStoring            = "storing"
	ActionIngestionCompleted = "ingestion_completed"
	ActionIngestionFailed    = "ingestion_failed"
)

type MarkdownConverter interface {
	ToMarkdown(ctx context.Context, path string) (string, error)
}

type ChunkEmbedder interface {
	EmbedStream(ctx context.Context, in <-chan chunking.Chunk) (<-chan embedding.Embedding, <-chan error)
}

// JobRegistrar is the part of the job queue that binds handlers.
type JobRegistrar interface {
	Register(name string, handler jobqueue.Handler)
}

type IIngestionService interface {
	// Process runs the whole pipeline for one attachment. The returned error
	// is what the job queue sees: retryable unless wrapped NonRetryable.
	Process(ctx context.Context, job dto.ProcessFileJob) error
	HandleJob(ctx context.Context, payload []byte) error
	RegisterJobs(queue JobRegistrar)
}

type IngestionOptions struct {
	Chunking   chunking.Options
	StoreBatch int
}

type ingestionService struct {
	uowFactory unitofwork.RepositoryFactory
	converter  MarkdownConverter
	embedder   ChunkEmbedder
	store      vectorstore.Store
	notifier   INotificationService
	publisher  events.Publisher
	opts       IngestionOptions
	logger     logger.ILogger
}

func NewIngestionService(
	uowFactory unitofwork.RepositoryFactory,
	converter MarkdownConverter,
	embedder ChunkEmbedder,
	store vectorstore.Store,
	notifier INotificationService,
	publisher events.Publisher,
	opts IngestionOptions,
	log logger.ILogger,
) IIngestionService {
	if opts.Chunking.ChunkSize <= 0 {
		opts.Chunking = chunking.DefaultOptions()
	}
	if opts.StoreBatch <= 0 {
		opts.StoreBatch = vectorstore.DefaultUpsertBatch
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &ingestionService{
		uowFactory: uowFactory,
		converter:  converter,
		embedder:   embedder,
		store:      store,
		notifier:   notifier,
		publisher:  publisher,
		opts:       opts,
		logger:     log,
	}
}

func (s *ingestionService) RegisterJobs(queue JobRegistrar) {
	queue.Register(JobProcessFile, s.HandleJob)
}

func (s *ingestionService) HandleJob(ctx context.Context, payload []byte) error {
	var job dto.ProcessFileJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return jobqueue.NonRetryable(fmt.Errorf("decode %s payload: %w", JobProcessFile, err))
	}
	if job.AttachmentId == uuid.Nil {
		return jobqueue.NonRetryable(fmt.Errorf("%s payload without attachment id", JobProcessFile))
	}
	return s.Process(ctx, job)
}

func (s *ingestionService) Process(ctx context.Context, job dto.ProcessFileJob) error {
	ctx, span := ingestionTracer.Start(ctx, "ingestion.Process")
	defer span.End()
	span.SetAttributes(
		attribute.String("attachment.id", job.AttachmentId.String()),
		attribute.String("session.id", job.SessionId.String()),
	)

	uow := s.uowFactory.NewUnitOfWork(ctx)
	attachment, err := uow.AttachmentRepository().FindOne(ctx, specification.ByID{ID: job.AttachmentId})
	if err != nil {
		return s.fail(ctx, job, err)
	}
	if attachment == nil {
		err := jobqueue.NonRetryable(fmt.Errorf("attachment %s not found", job.AttachmentId))
		s.progress(job.AttachmentId, hub.ProgressEvent{Status: hub.StatusFailed, Step: StepError, Message: "Attachment not found"})
		s.notifier.CloseProgress(job.AttachmentId)
		span.SetStatus(codes.Error, "attachment not found")
		return err
	}

	sessionId := attachment.SessionId
	if err := s.store.EnsureIndex(ctx, sessionId); err != nil {
		return s.fail(ctx, job, fmt.Errorf("ensure session index: %w", err))
	}

	s.step(attachment, StepStarted, ActionIngestionStarted, 0, fmt.Sprintf("Processing %s...", attachment.Filename))

	s.step(attachment, StepIngestion, ActionConverting, 25, "Converting file to markdown...")
	markdown, err := s.convert(ctx, attachment)
	if err != nil {
		return s.fail(ctx, job, err)
	}

	runes := utf8.RuneCountInString(markdown)
	s.step(attachment, StepChunking, ActionChunking, 50, fmt.Sprintf("Splitting into chunks (%d characters)...", runes))

	expected := chunking.ExpectedCount(runes, s.opts.Chunking)
	s.step(attachment, StepEmbedding, ActionEmbedding, 75, fmt.Sprintf("Generating embeddings for %d chunks...", expected))

	chunkCount, err := s.embedAndStore(ctx, attachment, markdown)
	if err != nil {
		return s.fail(ctx, job, err)
	}

	state := entity.Processed{
		ChunkCount:     chunkCount,
		MarkdownLength: runes,
		ProcessedAt:    time.Now().UTC(),
	}
	if err := uow.AttachmentRepository().UpdateState(ctx, attachment.Id, state); err != nil {
		return s.fail(ctx, job, fmt.Errorf("record processed state: %w", err))
	}

	count := chunkCount
	s.progress(attachment.Id, hub.ProgressEvent{
		Status:     hub.StatusCompleted,
		Step:       StepFinished,
		Message:    fmt.Sprintf("Successfully processed! (%d chunks)", chunkCount),
		Progress:   100,
		ChunkCount: &count,
	})
	s.notifier.Session(hub.NewEngineEvent(hub.EventSuccess, sessionId,
		fmt.Sprintf("%s is ready (%d chunks)", attachment.Filename, chunkCount)).
		WithAttachment(attachment.Id, ActionIngestionCompleted))
	s.notifier.CloseProgress(attachment.Id)

	s.publish(ctx, events.AttachmentProcessed(sessionId, attachment.Id, chunkCount))

	span.SetAttributes(attribute.Int("chunks", chunkCount))
	s.logger.Info("Ingestion", "Attachment processed", map[string]interface{}{
		"attachment_id":   attachment.Id.String(),
		"session_id":      sessionId.String(),
		"chunks":          chunkCount,
		"markdown_length": runes,
	})
	return nil
}

func (s *ingestionService) convert(ctx context.Context, attachment *entity.Attachment) (string, error) {
	ctx, span := ingestionTracer.Start(ctx, "ingestion.Convert")
	defer span.End()

	markdown, err := s.converter.ToMarkdown(ctx, attachment.Url)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	span.SetAttributes(attribute.Int("markdown.bytes", len(markdown)))
	return markdown, nil
}

// embedAndStore streams chunks through the embedder and stores the result in
// batches as it arrives, so only one batch of vectors is held at a time.
func (s *ingestionService) embedAndStore(ctx context.Context, attachment *entity.Attachment, markdown string) (int, error) {
	ctx, span := ingestionTracer.Start(ctx, "ingestion.EmbedAndStore")
	defer span.End()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunks := chunking.Stream(ctx, markdown, s.opts.Chunking)
	embeddings, errc := s.embedder.EmbedStream(ctx, chunks)

	stored := 0
	batch := make([]embedding.Embedding, 0, s.opts.StoreBatch)
	for e := range embeddings {
		batch = append(batch, e)
		if len(batch) < s.opts.StoreBatch {
			continue
		}
		if err := s.storeBatch(ctx, attachment, batch); err != nil {
			cancel()
			for range embeddings {
			}
			span.RecordError(err)
			return stored, err
		}
		stored += len(batch)
		batch = batch[:0]
	}
	if err := <-errc; err != nil {
		span.RecordError(err)
		return stored, err
	}

	s.step(attachment, StepStorage, ActionStoring, 90, "Storing vectors in database...")
	if len(batch) > 0 {
		if err := s.storeBatch(ctx, attachment, batch); err != nil {
			span.RecordError(err)
			return stored, err
		}
		stored += len(batch)
	}

	span.SetAttributes(attribute.Int("chunks", stored))
	return stored, nil
}

// storeBatch writes vectors first and chunk rows second. Both writes are
// idempotent, so a retried job converges.
func (s *ingestionService) storeBatch(ctx context.Context, attachment *entity.Attachment, batch []embedding.Embedding) error {
	records := make([]vectorstore.Record, len(batch))
	rows := make([]*entity.ChunkData, len(batch))
	for i, e := range batch {
		id := vectorstore.VectorID(attachment.Id, e.Index)
		records[i] = vectorstore.Record{ID: id, Vector: e.Vector}
		rows[i] = &entity.ChunkData{
			Id:           id,
			AttachmentId: attachment.Id,
			ChunkIndex:   e.Index,
			Content:      e.Content,
			PageNumber:   e.PageNumber,
			StartChar:    e.StartChar,
			EndChar:      e.EndChar,
		}
	}

	if err := s.store.Upsert(ctx, attachment.SessionId, records); err != nil {
		return fmt.Errorf("upsert vectors: %w", err)
	}
	if err := s.uowFactory.NewUnitOfWork(ctx).ChunkDataRepository().CreateBatch(ctx, rows); err != nil {
		return fmt.Errorf("store chunk rows: %w", err)
	}

	s.logger.Debug("Ingestion", "Stored chunk batch", map[string]interface{}{
		"attachment_id": attachment.Id.String(),
		"first_index":   batch[0].Index,
		"size":          len(batch),
	})
	return nil
}

// fail reports err on the progress stream, records the failed state and
// returns err for the queue to retry.
func (s *ingestionService) fail(ctx context.Context, job dto.ProcessFileJob, err error) error {
	reason := err.Error()

	s.progress(job.AttachmentId, hub.ProgressEvent{
		Status:  hub.StatusFailed,
		Step:    StepError,
		Message: reason,
	})

	state := entity.Failed{Error: reason, FailedAt: time.Now().UTC()}
	if updateErr := s.uowFactory.NewUnitOfWork(ctx).AttachmentRepository().UpdateState(ctx, job.AttachmentId, state); updateErr != nil {
		s.logger.Error("Ingestion", "Failed to record failed state", map[string]interface{}{
			"attachment_id": job.AttachmentId.String(),
			"error":         updateErr.Error(),
		})
	}

	if job.SessionId != uuid.Nil {
		s.notifier.Session(hub.NewEngineEvent(hub.EventError, job.SessionId, "File processing failed").
			WithAttachment(job.AttachmentId, ActionIngestionFailed))
		s.publish(ctx, events.AttachmentFailed(job.SessionId, job.AttachmentId, reason))
	}
	s.notifier.CloseProgress(job.AttachmentId)

	s.logger.Error("Ingestion", "Attachment processing failed", map[string]interface{}{
		"attachment_id": job.AttachmentId.String(),
		"session_id":    job.SessionId.String(),
		"error":         reason,
	})
	return err
}

func (s *ingestionService) step(attachment *entity.Attachment, step, action string, progress int, message string) {
	s.progress(attachment.Id, hub.ProgressEvent{
		Status:   hub.StatusProcessing,
		Step:     step,
		Message:  message,
		Progress: progress,
	})
	s.notifier.Session(hub.NewEngineEvent(hub.EventNotification, attachment.SessionId, message).
		WithAttachment(attachment.Id, action))
}

func (s *ingestionService) progress(attachmentId uuid.UUID, event hub.ProgressEvent) {
	s.notifier.Progress(attachmentId, event)
}

func (s *ingestionService) publish(ctx context.Context, event events.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("Ingestion", "Failed to publish domain event", map[string]interface{}{
			"type":  event.EventType(),
			"error": err.Error(),
		})
	}
}
