package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"cyborg-chat-be/internal/pkg/logger"
	"cyborg-chat-be/pkg/vectorstore"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("cyborg-chat-be/retrieval")

// ContextChunk is a retrieved chunk ready to be quoted in a prompt.
type ContextChunk struct {
	Content      string    `json:"content"`
	AttachmentID uuid.UUID `json:"attachmentId"`
	Filename     string    `json:"filename"`
	ChunkIndex   int       `json:"chunkIndex"`
	PageNumber   *int      `json:"pageNumber,omitempty"`
	Score        float64   `json:"score"`
	StartChar    int       `json:"startChar"`
	EndChar      int       `json:"endChar"`
}

// ChunkRecord is the relational mirror of one vector.
type ChunkRecord struct {
	VectorID     string
	AttachmentID uuid.UUID
	Filename     string
	ChunkIndex   int
	Content      string
	PageNumber   *int
	StartChar    int
	EndChar      int
}

type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// ChunkResolver maps vector ids to chunk rows. With a non-nil attachmentID
// only rows of that attachment are returned. Unknown ids are left out.
type ChunkResolver interface {
	ResolveChunks(ctx context.Context, vectorIDs []string, attachmentID *uuid.UUID) ([]ChunkRecord, error)
}

// Narration is a progress message for the user watching a session.
type Narration struct {
	Level   string
	Message string
	Title   string
	Body    []string
}

const (
	LevelNotification = "notification"
	LevelSuccess      = "success"
	LevelError        = "error"
)

type Narrator interface {
	Narrate(sessionID uuid.UUID, n Narration)
}

type Engine struct {
	embedder QueryEmbedder
	store    vectorstore.Store
	chunks   ChunkResolver
	narrator Narrator
	policy   Policy
	logger   logger.ILogger
}

func NewEngine(
	embedder QueryEmbedder,
	store vectorstore.Store,
	chunks ChunkResolver,
	narrator Narrator,
	policy Policy,
	log logger.ILogger,
) *Engine {
	return &Engine{
		embedder: embedder,
		store:    store,
		chunks:   chunks,
		narrator: narrator,
		policy:   policy,
		logger:   log,
	}
}

func (e *Engine) Policy() Policy {
	return e.policy
}

// GetContext returns the best chunks across attachmentIDs for query, best
// first. Every attachment gets its own search so a large document cannot
// crowd out a small one. Any failing search fails the whole call. Repeated
// ids are searched once.
func (e *Engine) GetContext(ctx context.Context, sessionID uuid.UUID, query string, attachmentIDs []uuid.UUID) ([]ContextChunk, error) {
	attachmentIDs = uniqueIDs(attachmentIDs)
	n := len(attachmentIDs)
	if n == 0 {
		return []ContextChunk{}, nil
	}

	ctx, span := tracer.Start(ctx, "retrieval.GetContext")
	defer span.End()

	total := e.policy.TotalTopK(n)
	perDoc := PerDoc(total, n)
	span.SetAttributes(
		attribute.String("session.id", sessionID.String()),
		attribute.Int("attachments", n),
		attribute.Int("topk.total", total),
	)

	e.narrate(sessionID, Narration{
		Level:   LevelNotification,
		Message: fmt.Sprintf("Starting context retrieval from %d document(s)...", n),
	})

	vector, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	ok, err := e.store.HasIndex(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("probe session index: %w", err)
	}
	if !ok {
		e.logger.Warn("Retrieval", "Session has no index yet", map[string]interface{}{
			"session_id": sessionID,
		})
		e.narrate(sessionID, Narration{
			Level:   LevelError,
			Message: "No indexed documents found for this session",
		})
		return []ContextChunk{}, nil
	}

	e.narrate(sessionID, Narration{
		Level:   LevelNotification,
		Message: fmt.Sprintf("Performing %d parallel vector search(es) (%d chunks each)...", n, perDoc),
	})

	perAttachment := make([][]ContextChunk, n)
	g, gctx := errgroup.WithContext(ctx)
	for i, attachmentID := range attachmentIDs {
		g.Go(func() error {
			found, err := e.search(gctx, sessionID, vector, perDoc, &attachmentID)
			if err != nil {
				return fmt.Errorf("search attachment %s: %w", attachmentID, err)
			}
			perAttachment[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		e.logger.Error("Retrieval", "Vector search failed", map[string]interface{}{
			"session_id": sessionID,
			"error":      err.Error(),
		})
		return nil, err
	}

	var merged []ContextChunk
	for _, found := range perAttachment {
		merged = append(merged, found...)
	}
	merged = rank(merged, total)

	e.logger.Info("Retrieval", "Context selected", map[string]interface{}{
		"session_id":  sessionID,
		"attachments": n,
		"total_topk":  total,
		"per_doc":     perDoc,
		"selected":    len(merged),
	})

	e.narrate(sessionID, Narration{
		Level:   LevelSuccess,
		Message: fmt.Sprintf("Ranked and selected top %d chunks for context", len(merged)),
		Title:   "Context Sources",
		Body:    sourceSummary(merged),
	})

	return merged, nil
}

// Search runs a single semantic search over the session index. With an
// attachment filter the index is over-fetched and narrowed to that file.
func (e *Engine) Search(ctx context.Context, sessionID uuid.UUID, query string, topK int, attachmentID *uuid.UUID) ([]ContextChunk, error) {
	if topK <= 0 {
		return []ContextChunk{}, nil
	}

	ctx, span := tracer.Start(ctx, "retrieval.Search")
	defer span.End()

	vector, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	found, err := e.search(ctx, sessionID, vector, topK, attachmentID)
	if errors.Is(err, vectorstore.ErrIndexNotFound) {
		return []ContextChunk{}, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return rank(found, topK), nil
}

func (e *Engine) search(ctx context.Context, sessionID uuid.UUID, vector []float32, k int, attachmentID *uuid.UUID) ([]ContextChunk, error) {
	fetch := k
	if attachmentID != nil {
		fetch = OverFetch(k)
	}

	matches, err := e.store.Query(ctx, sessionID, vector, fetch)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}

	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}

	records, err := e.chunks.ResolveChunks(ctx, ids, attachmentID)
	if err != nil {
		return nil, fmt.Errorf("resolve chunks: %w", err)
	}
	byID := make(map[string]ChunkRecord, len(records))
	for _, r := range records {
		byID[r.VectorID] = r
	}

	found := make([]ContextChunk, 0, k)
	dropped := 0
	for _, m := range matches {
		r, ok := byID[m.ID]
		if !ok {
			dropped++
			continue
		}
		found = append(found, ContextChunk{
			Content:      r.Content,
			AttachmentID: r.AttachmentID,
			Filename:     r.Filename,
			ChunkIndex:   r.ChunkIndex,
			PageNumber:   r.PageNumber,
			Score:        m.Score,
			StartChar:    r.StartChar,
			EndChar:      r.EndChar,
		})
		if len(found) == k {
			break
		}
	}

	if dropped > 0 {
		details := map[string]interface{}{
			"session_id": sessionID,
			"candidates": len(matches),
			"dropped":    dropped,
		}
		if attachmentID != nil {
			details["attachment_id"] = *attachmentID
		}
		e.logger.Debug("Retrieval", "Dropped candidates without a matching chunk row", details)
	}
	return found, nil
}

func (e *Engine) narrate(sessionID uuid.UUID, n Narration) {
	if e.narrator != nil {
		e.narrator.Narrate(sessionID, n)
	}
}

// rank orders chunks by score, best first, and keeps at most limit.
func rank(chunks []ContextChunk, limit int) []ContextChunk {
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].Score > chunks[j].Score
	})
	if len(chunks) > limit {
		chunks = chunks[:limit]
	}
	if chunks == nil {
		chunks = []ContextChunk{}
	}
	return chunks
}

// sourceSummary lists each file once, in rank order, with its chunk count.
func sourceSummary(chunks []ContextChunk) []string {
	counts := make(map[string]int)
	var order []string
	for _, c := range chunks {
		if counts[c.Filename] == 0 {
			order = append(order, c.Filename)
		}
		counts[c.Filename]++
	}

	body := make([]string, len(order))
	for i, name := range order {
		body[i] = fmt.Sprintf("%s (%d chunks)", name, counts[name])
	}
	return body
}

// uniqueIDs drops repeated ids, keeping first-seen order.
func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
