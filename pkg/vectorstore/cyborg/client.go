package cyborg

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"cyborg-chat-be/pkg/vectorstore"

	"github.com/google/uuid"
)

// Store talks to a CyborgDB service over its REST API. Vectors are encrypted
// server-side with the per-session key sent on every call.
type Store struct {
	baseURL string
	apiKey  string
	keys    *vectorstore.KeyRing
	cfg     vectorstore.Config
	client  *http.Client
}

var _ vectorstore.Store = (*Store)(nil)

func New(baseURL, apiKey string, keys *vectorstore.KeyRing, cfg vectorstore.Config, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Store{
		baseURL: baseURL,
		apiKey:  apiKey,
		keys:    keys,
		cfg:     cfg.WithDefaults(),
		client:  &http.Client{Timeout: timeout},
	}
}

type indexRef struct {
	IndexName string `json:"index_name"`
	IndexKey  string `json:"index_key"`
}

type indexConfig struct {
	Type      string `json:"type"`
	Dimension int    `json:"dimension"`
}

type createIndexRequest struct {
	indexRef
	IndexConfig indexConfig `json:"index_config"`
}

type listIndexesResponse struct {
	Indexes []string `json:"indexes"`
}

type vectorItem struct {
	ID     string    `json:"id"`
	Vector []float32 `json:"vector"`
}

type upsertRequest struct {
	indexRef
	Items []vectorItem `json:"items"`
}

type queryRequest struct {
	indexRef
	QueryVectors []float32 `json:"query_vectors"`
	TopK         int       `json:"top_k"`
}

type queryResponse struct {
	Results []struct {
		ID       string  `json:"id"`
		Distance float64 `json:"distance"`
	} `json:"results"`
}

type deleteRequest struct {
	indexRef
	IDs []string `json:"ids"`
}

type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("cyborgdb error (status %d): %s", e.Status, e.Body)
}

func (s *Store) ref(sessionID uuid.UUID) indexRef {
	return indexRef{
		IndexName: vectorstore.IndexName(sessionID),
		IndexKey:  hex.EncodeToString(s.keys.SessionKey(sessionID)),
	}
}

func (s *Store) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("X-API-Key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("cyborgdb request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return vectorstore.ErrIndexNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", vectorstore.ErrKeyMismatch, string(respBody))
	case resp.StatusCode >= 300:
		return &apiError{Status: resp.StatusCode, Body: string(respBody)}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

func (s *Store) listIndexes(ctx context.Context) ([]string, error) {
	var resp listIndexesResponse
	if err := s.do(ctx, http.MethodGet, "/v1/indexes/list", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Indexes, nil
}

func (s *Store) HasIndex(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	names, err := s.listIndexes(ctx)
	if err != nil {
		return false, err
	}
	want := vectorstore.IndexName(sessionID)
	for _, n := range names {
		if n == want {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) EnsureIndex(ctx context.Context, sessionID uuid.UUID) error {
	exists, err := s.HasIndex(ctx, sessionID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	err = s.do(ctx, http.MethodPost, "/v1/indexes/create", createIndexRequest{
		indexRef: s.ref(sessionID),
		IndexConfig: indexConfig{
			Type:      s.cfg.IndexType,
			Dimension: s.cfg.Dimension,
		},
	}, nil)

	// Lost a creation race with another worker.
	var apiErr *apiError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
		return nil
	}
	return err
}

func (s *Store) Upsert(ctx context.Context, sessionID uuid.UUID, records []vectorstore.Record) error {
	if err := vectorstore.CheckDimension(records, s.cfg.Dimension); err != nil {
		return err
	}

	for _, batch := range vectorstore.Batches(records, s.cfg.UpsertBatch) {
		items := make([]vectorItem, len(batch))
		for i, r := range batch {
			items[i] = vectorItem{ID: r.ID, Vector: r.Vector}
		}
		if err := s.do(ctx, http.MethodPost, "/v1/vectors/upsert", upsertRequest{
			indexRef: s.ref(sessionID),
			Items:    items,
		}, nil); err != nil {
			return fmt.Errorf("upsert %d vectors: %w", len(batch), err)
		}
	}
	return nil
}

func (s *Store) Query(ctx context.Context, sessionID uuid.UUID, vector []float32, k int) ([]vectorstore.Match, error) {
	if len(vector) != s.cfg.Dimension {
		return nil, fmt.Errorf("%w: query has %d, want %d", vectorstore.ErrDimensionMismatch, len(vector), s.cfg.Dimension)
	}
	if k <= 0 {
		return nil, nil
	}

	var resp queryResponse
	if err := s.do(ctx, http.MethodPost, "/v1/vectors/query", queryRequest{
		indexRef:     s.ref(sessionID),
		QueryVectors: vector,
		TopK:         k,
	}, &resp); err != nil {
		return nil, err
	}

	matches := make([]vectorstore.Match, 0, len(resp.Results))
	for _, r := range resp.Results {
		// CyborgDB reports cosine distance; lower is closer.
		matches = append(matches, vectorstore.Match{ID: r.ID, Score: 1 - r.Distance})
	}
	return matches, nil
}

func (s *Store) Delete(ctx context.Context, sessionID uuid.UUID, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.do(ctx, http.MethodPost, "/v1/vectors/delete", deleteRequest{
		indexRef: s.ref(sessionID),
		IDs:      ids,
	}, nil)
}

func (s *Store) DropIndex(ctx context.Context, sessionID uuid.UUID) error {
	return s.do(ctx, http.MethodPost, "/v1/indexes/delete", s.ref(sessionID), nil)
}
