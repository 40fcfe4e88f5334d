package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"cyborg-chat-be/internal/pkg/logger"
	"cyborg-chat-be/pkg/vectorstore"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	calls int
	err   error
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0, 0}, nil
}

// fakeIndex is a session index returning its matches best first, cut at k.
type fakeIndex struct {
	mu       sync.Mutex
	matches  []vectorstore.Match
	noIndex  bool
	queryErr error
	ks       []int
}

func (f *fakeIndex) EnsureIndex(context.Context, uuid.UUID) error { return nil }
func (f *fakeIndex) HasIndex(context.Context, uuid.UUID) (bool, error) {
	return !f.noIndex, nil
}
func (f *fakeIndex) Upsert(context.Context, uuid.UUID, []vectorstore.Record) error { return nil }
func (f *fakeIndex) Delete(context.Context, uuid.UUID, []string) error             { return nil }
func (f *fakeIndex) DropIndex(context.Context, uuid.UUID) error                    { return nil }

func (f *fakeIndex) Query(_ context.Context, _ uuid.UUID, _ []float32, k int) ([]vectorstore.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ks = append(f.ks, k)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	sorted := append([]vectorstore.Match(nil), f.matches...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })
	if len(sorted) > k {
		sorted = sorted[:k]
	}
	return sorted, nil
}

type fakeResolver struct {
	rows map[string]ChunkRecord
}

func (f *fakeResolver) ResolveChunks(_ context.Context, ids []string, attachmentID *uuid.UUID) ([]ChunkRecord, error) {
	var out []ChunkRecord
	for _, id := range ids {
		r, ok := f.rows[id]
		if !ok {
			continue
		}
		if attachmentID != nil && r.AttachmentID != *attachmentID {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

type recordingNarrator struct {
	mu     sync.Mutex
	events []Narration
}

func (r *recordingNarrator) Narrate(_ uuid.UUID, n Narration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, n)
}

type fixture struct {
	index    *fakeIndex
	resolver *fakeResolver
	embedder *fakeEmbedder
	narrator *recordingNarrator
	engine   *Engine
}

func newFixture() *fixture {
	f := &fixture{
		index:    &fakeIndex{},
		resolver: &fakeResolver{rows: map[string]ChunkRecord{}},
		embedder: &fakeEmbedder{},
		narrator: &recordingNarrator{},
	}
	f.engine = NewEngine(f.embedder, f.index, f.resolver, f.narrator, DefaultPolicy(), logger.NewNopLogger())
	return f
}

// addDocument indexes count chunks of one file, scored from top downwards.
func (f *fixture) addDocument(filename string, count int, top float64) uuid.UUID {
	id := uuid.New()
	for i := 0; i < count; i++ {
		vid := vectorstore.VectorID(id, i)
		f.index.matches = append(f.index.matches, vectorstore.Match{ID: vid, Score: top - float64(i)*0.01})
		f.resolver.rows[vid] = ChunkRecord{
			VectorID:     vid,
			AttachmentID: id,
			Filename:     filename,
			ChunkIndex:   i,
			Content:      fmt.Sprintf("%s chunk %d", filename, i),
		}
	}
	return id
}

func TestPolicy(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		n    int
		want int
	}{
		{0, 0},
		{1, 8},
		{2, 10},
		{5, 16},
		{7, 20},
		{50, 20},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.TotalTopK(tt.n), "n=%d", tt.n)
	}

	assert.Equal(t, 5, PerDoc(10, 2))
	assert.Equal(t, 4, PerDoc(10, 3))
	assert.Equal(t, 0, PerDoc(10, 0))
	assert.Equal(t, 15, OverFetch(5))
}

func TestGetContextWithoutAttachmentsReturnsEmpty(t *testing.T) {
	f := newFixture()

	got, err := f.engine.GetContext(context.Background(), uuid.New(), "anything", nil)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Zero(t, f.embedder.calls)
	assert.Empty(t, f.index.ks)
	assert.Empty(t, f.narrator.events)
}

func TestGetContextSearchesEachAttachment(t *testing.T) {
	f := newFixture()
	big := f.addDocument("big.pdf", 10, 0.90)
	small := f.addDocument("small.txt", 10, 0.50)

	got, err := f.engine.GetContext(context.Background(), uuid.New(), "q", []uuid.UUID{big, small})
	require.NoError(t, err)

	// n=2: total 10, 5 per document, each search over-fetches 15
	assert.Equal(t, 1, f.embedder.calls)
	assert.Equal(t, []int{15, 15}, f.index.ks)
	require.Len(t, got, 10)

	perFile := map[string]int{}
	for _, c := range got {
		perFile[c.Filename]++
	}
	assert.Equal(t, 5, perFile["big.pdf"])
	assert.Equal(t, 5, perFile["small.txt"])

	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Score, got[i].Score)
	}
	assert.Equal(t, "big.pdf chunk 0", got[0].Content)
}

func TestGetContextTruncatesToTotal(t *testing.T) {
	f := newFixture()
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		ids = append(ids, f.addDocument(fmt.Sprintf("doc%d", i), 10, 0.9-float64(i)*0.001))
	}

	got, err := f.engine.GetContext(context.Background(), uuid.New(), "q", ids)
	require.NoError(t, err)

	// n=3: total 12, 4 per document
	assert.Len(t, got, 12)
	assert.Equal(t, []int{12, 12, 12}, f.index.ks)
}

func TestGetContextSearchesRepeatedAttachmentOnce(t *testing.T) {
	f := newFixture()
	a := f.addDocument("a.md", 20, 0.9)
	b := f.addDocument("b.md", 20, 0.8)

	got, err := f.engine.GetContext(context.Background(), uuid.New(), "q", []uuid.UUID{a, a, b, a})
	require.NoError(t, err)

	// treated as n=2: total 10, 5 per document
	assert.Equal(t, []int{15, 15}, f.index.ks)
	require.Len(t, got, 10)
	seen := map[string]bool{}
	for _, c := range got {
		assert.False(t, seen[c.Content], "%s returned twice", c.Content)
		seen[c.Content] = true
	}
}

func TestUniqueIDsKeepsFirstSeenOrder(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	assert.Equal(t, []uuid.UUID{b, a, c}, uniqueIDs([]uuid.UUID{b, a, b, c, a}))
	assert.Empty(t, uniqueIDs(nil))
}

func TestGetContextDropsUnresolvedIDs(t *testing.T) {
	f := newFixture()
	doc := f.addDocument("notes.md", 3, 0.6)
	f.index.matches = append(f.index.matches, vectorstore.Match{ID: "ghost:0", Score: 0.99})

	got, err := f.engine.GetContext(context.Background(), uuid.New(), "q", []uuid.UUID{doc})
	require.NoError(t, err)

	require.Len(t, got, 3)
	for _, c := range got {
		assert.Equal(t, doc, c.AttachmentID)
	}
}

func TestGetContextFailsWhenAnySearchFails(t *testing.T) {
	f := newFixture()
	a := f.addDocument("a", 2, 0.9)
	b := f.addDocument("b", 2, 0.8)
	f.index.queryErr = errors.New("index unavailable")

	got, err := f.engine.GetContext(context.Background(), uuid.New(), "q", []uuid.UUID{a, b})
	require.Error(t, err)
	assert.Nil(t, got)
	assert.Contains(t, err.Error(), "index unavailable")
}

func TestGetContextEmbeddingFailure(t *testing.T) {
	f := newFixture()
	f.embedder.err = errors.New("embedder down")
	doc := f.addDocument("a", 2, 0.9)

	_, err := f.engine.GetContext(context.Background(), uuid.New(), "q", []uuid.UUID{doc})
	require.Error(t, err)
	assert.Empty(t, f.index.ks)
}

func TestGetContextWithoutIndex(t *testing.T) {
	f := newFixture()
	f.index.noIndex = true

	got, err := f.engine.GetContext(context.Background(), uuid.New(), "q", []uuid.UUID{uuid.New()})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, f.index.ks)

	last := f.narrator.events[len(f.narrator.events)-1]
	assert.Equal(t, LevelError, last.Level)
}

func TestGetContextNarration(t *testing.T) {
	f := newFixture()
	a := f.addDocument("report.pdf", 10, 0.9)
	b := f.addDocument("memo.txt", 10, 0.8)

	_, err := f.engine.GetContext(context.Background(), uuid.New(), "q", []uuid.UUID{a, b})
	require.NoError(t, err)

	require.Len(t, f.narrator.events, 3)
	assert.Equal(t, "Starting context retrieval from 2 document(s)...", f.narrator.events[0].Message)
	assert.Equal(t, "Performing 2 parallel vector search(es) (5 chunks each)...", f.narrator.events[1].Message)

	final := f.narrator.events[2]
	assert.Equal(t, LevelSuccess, final.Level)
	assert.Equal(t, "Ranked and selected top 10 chunks for context", final.Message)
	assert.Equal(t, "Context Sources", final.Title)
	assert.Equal(t, []string{"report.pdf (5 chunks)", "memo.txt (5 chunks)"}, final.Body)
}

func TestSearch(t *testing.T) {
	f := newFixture()
	f.addDocument("a", 10, 0.95)
	b := f.addDocument("b", 10, 0.93)

	got, err := f.engine.Search(context.Background(), uuid.New(), "q", 4, nil)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, "a", got[0].Filename)

	got, err = f.engine.Search(context.Background(), uuid.New(), "q", 4, &b)
	require.NoError(t, err)
	require.Len(t, got, 4)
	for _, c := range got {
		assert.Equal(t, b, c.AttachmentID)
	}
	assert.Equal(t, []int{4, 12}, f.index.ks)
}

func TestSearchMissingIndexIsEmpty(t *testing.T) {
	f := newFixture()
	f.index.queryErr = vectorstore.ErrIndexNotFound

	got, err := f.engine.Search(context.Background(), uuid.New(), "q", 5, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}
