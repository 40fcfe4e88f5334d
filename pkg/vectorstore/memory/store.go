package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"cyborg-chat-be/pkg/vectorstore"

	"github.com/google/uuid"
)

type index struct {
	keyCheck string
	vectors  map[string][]float32
}

// Store keeps every index in process memory. Similarity is cosine.
type Store struct {
	mu      sync.RWMutex
	indexes map[string]*index
	keys    *vectorstore.KeyRing
	cfg     vectorstore.Config
}

var _ vectorstore.Store = (*Store)(nil)

// New creates an empty store. keys may be nil, in which case index keys are
// not checked.
func New(keys *vectorstore.KeyRing, cfg vectorstore.Config) *Store {
	return &Store{
		indexes: make(map[string]*index),
		keys:    keys,
		cfg:     cfg.WithDefaults(),
	}
}

func (s *Store) keyCheck(sessionID uuid.UUID) string {
	if s.keys == nil {
		return ""
	}
	return s.keys.KeyCheck(sessionID)
}

// load returns the index for sessionID. The caller holds s.mu.
func (s *Store) load(sessionID uuid.UUID) (*index, error) {
	idx, ok := s.indexes[vectorstore.IndexName(sessionID)]
	if !ok {
		return nil, vectorstore.ErrIndexNotFound
	}
	if idx.keyCheck != s.keyCheck(sessionID) {
		return nil, vectorstore.ErrKeyMismatch
	}
	return idx, nil
}

func (s *Store) EnsureIndex(_ context.Context, sessionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := vectorstore.IndexName(sessionID)
	if _, ok := s.indexes[name]; ok {
		return nil
	}
	s.indexes[name] = &index{
		keyCheck: s.keyCheck(sessionID),
		vectors:  make(map[string][]float32),
	}
	return nil
}

func (s *Store) HasIndex(_ context.Context, sessionID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.indexes[vectorstore.IndexName(sessionID)]
	return ok, nil
}

func (s *Store) Upsert(_ context.Context, sessionID uuid.UUID, records []vectorstore.Record) error {
	if err := vectorstore.CheckDimension(records, s.cfg.Dimension); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.load(sessionID)
	if err != nil {
		return err
	}
	for _, r := range records {
		v := make([]float32, len(r.Vector))
		copy(v, r.Vector)
		idx.vectors[r.ID] = v
	}
	return nil
}

func (s *Store) Query(_ context.Context, sessionID uuid.UUID, vector []float32, k int) ([]vectorstore.Match, error) {
	if len(vector) != s.cfg.Dimension {
		return nil, fmt.Errorf("%w: query has %d, want %d", vectorstore.ErrDimensionMismatch, len(vector), s.cfg.Dimension)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, err := s.load(sessionID)
	if err != nil {
		return nil, err
	}

	matches := make([]vectorstore.Match, 0, len(idx.vectors))
	for id, v := range idx.vectors {
		matches = append(matches, vectorstore.Match{ID: id, Score: cosine(vector, v)})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].Score > matches[j].Score
	})

	if k >= 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (s *Store) Delete(_ context.Context, sessionID uuid.UUID, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.load(sessionID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		delete(idx.vectors, id)
	}
	return nil
}

func (s *Store) DropIndex(_ context.Context, sessionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.load(sessionID); err != nil {
		return err
	}
	delete(s.indexes, vectorstore.IndexName(sessionID))
	return nil
}

// Len returns the number of vectors in a session's index, or -1 if it does not exist.
func (s *Store) Len(sessionID uuid.UUID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.indexes[vectorstore.IndexName(sessionID)]
	if !ok {
		return -1
	}
	return len(idx.vectors)
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
