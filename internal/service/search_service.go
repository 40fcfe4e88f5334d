package service

import (
	"context"
	"strings"

	"cyborg-chat-be/internal/dto"
	"cyborg-chat-be/internal/repository/unitofwork"
	"cyborg-chat-be/pkg/apperror"
	"cyborg-chat-be/pkg/rag/retrieval"

	"github.com/google/uuid"
)

const defaultSearchTopK = 5

// Searcher is the retrieval engine as seen by the search endpoint.
type Searcher interface {
	ContextRetriever
	Search(ctx context.Context, sessionID uuid.UUID, query string, topK int, attachmentID *uuid.UUID) ([]retrieval.ContextChunk, error)
}

type ISearchService interface {
	Search(ctx context.Context, userId uuid.UUID, sessionId uuid.UUID, request *dto.SearchRequest) (*dto.SearchResponse, error)
}

type searchService struct {
	sessions ISessionService
	engine   Searcher
}

func NewSearchService(sessions ISessionService, engine Searcher) ISearchService {
	return &searchService{
		sessions: sessions,
		engine:   engine,
	}
}

// Search with no attachment ids covers the whole session index, with one it
// is scoped to that file, and with several it uses the per-document
// fan-out of the chat context.
func (s *searchService) Search(ctx context.Context, userId uuid.UUID, sessionId uuid.UUID, request *dto.SearchRequest) (*dto.SearchResponse, error) {
	query := strings.TrimSpace(request.Query)
	if query == "" {
		return nil, apperror.Validation("Query is required")
	}
	if err := s.sessions.Authorize(ctx, userId, sessionId); err != nil {
		return nil, err
	}

	topK := request.TopK
	if topK <= 0 {
		topK = defaultSearchTopK
	}

	var (
		results []retrieval.ContextChunk
		err     error
	)
	switch len(request.AttachmentIds) {
	case 0:
		results, err = s.engine.Search(ctx, sessionId, query, topK, nil)
	case 1:
		results, err = s.engine.Search(ctx, sessionId, query, topK, &request.AttachmentIds[0])
	default:
		results, err = s.engine.GetContext(ctx, sessionId, query, request.AttachmentIds)
		if err == nil && request.TopK > 0 && len(results) > request.TopK {
			results = results[:request.TopK]
		}
	}
	if err != nil {
		return nil, apperror.Processing("search failed", err)
	}

	return &dto.SearchResponse{Query: query, Results: results}, nil
}

// chunkResolver serves retrieval lookups from the chunk_data table.
type chunkResolver struct {
	uowFactory unitofwork.RepositoryFactory
}

func NewChunkResolver(uowFactory unitofwork.RepositoryFactory) retrieval.ChunkResolver {
	return &chunkResolver{uowFactory: uowFactory}
}

func (r *chunkResolver) ResolveChunks(ctx context.Context, vectorIDs []string, attachmentID *uuid.UUID) ([]retrieval.ChunkRecord, error) {
	if len(vectorIDs) == 0 {
		return nil, nil
	}

	sources, err := r.uowFactory.NewUnitOfWork(ctx).ChunkDataRepository().FindSources(ctx, vectorIDs, attachmentID)
	if err != nil {
		return nil, err
	}

	records := make([]retrieval.ChunkRecord, len(sources))
	for i, src := range sources {
		records[i] = retrieval.ChunkRecord{
			VectorID:     src.Id,
			AttachmentID: src.AttachmentId,
			Filename:     src.Filename,
			ChunkIndex:   src.ChunkIndex,
			Content:      src.Content,
			PageNumber:   src.PageNumber,
			StartChar:    src.StartChar,
			EndChar:      src.EndChar,
		}
	}
	return records, nil
}
