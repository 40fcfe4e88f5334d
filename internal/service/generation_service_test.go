package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cyborg-chat-be/internal/dto"
	"cyborg-chat-be/internal/entity"
	"cyborg-chat-be/internal/pkg/logger"
	"cyborg-chat-be/internal/repository/memory"
	"cyborg-chat-be/pkg/apperror"
	"cyborg-chat-be/pkg/llm"
	"cyborg-chat-be/pkg/llm/ollama"
	"cyborg-chat-be/pkg/rag/retrieval"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLLM struct {
	tokens    []string
	openErr   error
	streamErr error
	history   []llm.Message
}

func (f *fakeLLM) Chat(context.Context, []llm.Message, ...llm.Option) (string, error) {
	return "", errors.New("not used")
}

func (f *fakeLLM) Generate(context.Context, string, ...llm.Option) (string, error) {
	return "", errors.New("not used")
}

func (f *fakeLLM) Stream(_ context.Context, history []llm.Message, _ ...llm.Option) (<-chan llm.StreamChunk, error) {
	f.history = history
	if f.openErr != nil {
		return nil, f.openErr
	}
	out := make(chan llm.StreamChunk, len(f.tokens)+1)
	for _, tok := range f.tokens {
		out <- llm.StreamChunk{Content: tok}
	}
	if f.streamErr != nil {
		out <- llm.StreamChunk{Err: f.streamErr}
	}
	close(out)
	return out, nil
}

type fakeRetriever struct {
	calls   int
	ids     []uuid.UUID
	results []retrieval.ContextChunk
	err     error
}

func (f *fakeRetriever) GetContext(_ context.Context, _ uuid.UUID, _ string, ids []uuid.UUID) ([]retrieval.ContextChunk, error) {
	f.calls++
	f.ids = ids
	return f.results, f.err
}

type generationFixture struct {
	db        *fakeDB
	llm       *fakeLLM
	retriever *fakeRetriever
	notifier  *recordingNotifier
	service   IGenerationService
	session   *entity.Session
}

func newGenerationFixture() *generationFixture {
	f := &generationFixture{
		db:        newFakeDB(),
		llm:       &fakeLLM{tokens: []string{"Hel", "lo", "!"}},
		retriever: &fakeRetriever{},
		notifier:  &recordingNotifier{},
	}
	sessions := NewSessionService(f.db, memory.NewSessionOwnerRepository(0), nil, nil, logger.NewNopLogger())
	f.service = NewGenerationService(f.db, sessions, f.retriever, f.llm, f.notifier, 0, logger.NewNopLogger())
	f.session = f.db.addSession(uuid.New())
	return f
}

func collect(frames *[]dto.StreamFrame) FrameEmitter {
	return func(frame dto.StreamFrame) error {
		*frames = append(*frames, frame)
		return nil
	}
}

func frameTypes(frames []dto.StreamFrame) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.Type
	}
	return out
}

func TestGenerationStreamsTokensAndPersists(t *testing.T) {
	f := newGenerationFixture()
	ctx := context.Background()

	turn, err := f.service.Begin(ctx, f.session.UserId, f.session.Id, &dto.SendMessageRequest{Content: "  hi there "})
	require.NoError(t, err)
	assert.Equal(t, "hi there", turn.Message.Content)

	var frames []dto.StreamFrame
	require.NoError(t, f.service.Stream(ctx, turn, collect(&frames)))

	assert.Equal(t, []string{dto.FrameUserMessage, dto.FrameToken, dto.FrameToken, dto.FrameToken, dto.FrameDone}, frameTypes(frames))
	require.NotNil(t, frames[0].MessageId)
	assert.Equal(t, turn.Message.Id, *frames[0].MessageId)
	assert.Equal(t, "hi there", frames[0].Content)

	stored := f.db.messagesOf(f.session.Id)
	require.Len(t, stored, 2)
	assert.Equal(t, entity.RoleUser, stored[0].Role)
	assert.Equal(t, entity.RoleAssistant, stored[1].Role)
	assert.Equal(t, "Hello!", stored[1].Content)
	assert.Equal(t, len("Hello!"), stored[1].Tokens)
	require.NotNil(t, frames[4].MessageId)
	assert.Equal(t, stored[1].Id, *frames[4].MessageId)

	assert.Equal(t, 0, f.retriever.calls, "no attachments means no retrieval")
	assert.Equal(t, 2, f.db.touches)
}

func TestGenerationUsesRetrievedContext(t *testing.T) {
	f := newGenerationFixture()
	ctx := context.Background()
	attachmentId := uuid.New()
	f.retriever.results = []retrieval.ContextChunk{{Content: "the sky is green", Filename: "facts.md", AttachmentID: attachmentId}}

	turn, err := f.service.Begin(ctx, f.session.UserId, f.session.Id, &dto.SendMessageRequest{
		Content:       "what colour is the sky?",
		AttachmentIds: []uuid.UUID{attachmentId},
	})
	require.NoError(t, err)

	var frames []dto.StreamFrame
	require.NoError(t, f.service.Stream(ctx, turn, collect(&frames)))

	assert.Equal(t, 1, f.retriever.calls)
	assert.Equal(t, []uuid.UUID{attachmentId}, f.retriever.ids)
	require.NotEmpty(t, f.llm.history)
	assert.Equal(t, llm.RoleSystem, f.llm.history[0].Role)
	assert.Contains(t, f.llm.history[0].Content, "the sky is green")
	last := f.llm.history[len(f.llm.history)-1]
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "what colour is the sky?"}, last)
}

func TestGenerationHistoryIsLastTwentyChronological(t *testing.T) {
	f := newGenerationFixture()
	ctx := context.Background()
	repo := f.db.NewUnitOfWork(ctx).MessageRepository()
	for i := 0; i < 25; i++ {
		role := entity.RoleUser
		if i%2 == 1 {
			role = entity.RoleAssistant
		}
		require.NoError(t, repo.Create(ctx, &entity.Message{Id: uuid.New(), SessionId: f.session.Id, Role: role, Content: fmt.Sprintf("m%d", i)}))
	}
	require.NoError(t, repo.Create(ctx, &entity.Message{Id: uuid.New(), SessionId: f.session.Id, Role: entity.RoleSystem, Content: "sys"}))

	turn, err := f.service.Begin(ctx, f.session.UserId, f.session.Id, &dto.SendMessageRequest{Content: "next"})
	require.NoError(t, err)

	require.Len(t, turn.History, DefaultHistoryLimit)
	assert.Equal(t, "m5", turn.History[0].Content)
	assert.Equal(t, "m24", turn.History[19].Content)
	for _, m := range turn.History {
		assert.NotEqual(t, llm.RoleSystem, m.Role)
	}
}

func TestGenerationBeginErrors(t *testing.T) {
	f := newGenerationFixture()
	ctx := context.Background()

	tests := []struct {
		name      string
		userId    uuid.UUID
		sessionId uuid.UUID
		content   string
		wantKind  apperror.Kind
	}{
		{"empty content", f.session.UserId, f.session.Id, "   ", apperror.KindValidation},
		{"unknown session", f.session.UserId, uuid.New(), "hi", apperror.KindNotFound},
		{"someone else's session", uuid.New(), f.session.Id, "hi", apperror.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.Begin(ctx, tt.userId, tt.sessionId, &dto.SendMessageRequest{Content: tt.content})
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, apperror.KindOf(err))
		})
	}
	assert.Empty(t, f.db.messagesOf(f.session.Id))
}

func TestGenerationFailuresEndWithOneErrorFrame(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(f *generationFixture)
		wantMsg string
		tokens  int
	}{
		{
			name:    "provider fails to open",
			setup:   func(f *generationFixture) { f.llm.openErr = errors.New("connection refused") },
			wantMsg: apperror.GenericProcessingMessage,
		},
		{
			name:    "provider fails mid stream",
			setup:   func(f *generationFixture) { f.llm.streamErr = errors.New("stream reset") },
			wantMsg: apperror.GenericProcessingMessage,
			tokens:  3,
		},
		{
			name: "exposed provider error",
			setup: func(f *generationFixture) {
				f.llm.openErr = apperror.Exposed("Rate limit reached, try again in a minute", errors.New("429"))
			},
			wantMsg: "Rate limit reached, try again in a minute",
		},
		{
			name: "retrieval fails",
			setup: func(f *generationFixture) {
				f.retriever.err = errors.New("index corrupt")
			},
			wantMsg: apperror.GenericProcessingMessage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newGenerationFixture()
			tt.setup(f)
			ctx := context.Background()

			turn, err := f.service.Begin(ctx, f.session.UserId, f.session.Id, &dto.SendMessageRequest{
				Content:       "hi",
				AttachmentIds: []uuid.UUID{uuid.New()},
			})
			require.NoError(t, err)

			var frames []dto.StreamFrame
			require.Error(t, f.service.Stream(ctx, turn, collect(&frames)))

			types := frameTypes(frames)
			assert.Equal(t, dto.FrameUserMessage, types[0])
			assert.Equal(t, dto.FrameError, types[len(types)-1])
			assert.NotContains(t, types, dto.FrameDone)
			assert.Len(t, frames, tt.tokens+2)
			assert.Equal(t, tt.wantMsg, frames[len(frames)-1].Error)

			stored := f.db.messagesOf(f.session.Id)
			require.Len(t, stored, 1, "no assistant message is stored on failure")
		})
	}
}

func TestGenerationStopsWhenClientLeaves(t *testing.T) {
	f := newGenerationFixture()
	ctx := context.Background()

	turn, err := f.service.Begin(ctx, f.session.UserId, f.session.Id, &dto.SendMessageRequest{Content: "hi"})
	require.NoError(t, err)

	sent := 0
	err = f.service.Stream(ctx, turn, func(frame dto.StreamFrame) error {
		sent++
		if frame.Type == dto.FrameToken {
			return errors.New("broken pipe")
		}
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, 3, sent, "user_message, the failed token, then the error frame attempt")
	assert.Len(t, f.db.messagesOf(f.session.Id), 1)
}

func TestGenerationReleasesUpstreamWhenClientLeaves(t *testing.T) {
	released := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(released)
		// Consuming the body lets the server notice the client hanging up.
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/x-ndjson")
		flusher, _ := w.(http.Flusher)
		for i := 0; i < 200; i++ {
			if _, err := fmt.Fprintf(w, `{"message":{"role":"assistant","content":"t%d "},"done":false}`+"\n", i); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
			select {
			case <-r.Context().Done():
				return
			case <-time.After(20 * time.Millisecond):
			}
		}
	}))
	defer srv.Close()

	db := newFakeDB()
	session := db.addSession(uuid.New())
	sessions := NewSessionService(db, memory.NewSessionOwnerRepository(0), nil, nil, logger.NewNopLogger())
	provider := ollama.NewOllamaProvider(srv.URL, "llama3", 10*time.Second)
	svc := NewGenerationService(db, sessions, &fakeRetriever{}, provider, &recordingNotifier{}, 0, logger.NewNopLogger())

	// The message controller streams on a context detached from the request.
	ctx := context.WithoutCancel(context.Background())
	turn, err := svc.Begin(ctx, session.UserId, session.Id, &dto.SendMessageRequest{Content: "hi"})
	require.NoError(t, err)

	tokens := 0
	err = svc.Stream(ctx, turn, func(frame dto.StreamFrame) error {
		if frame.Type == dto.FrameToken {
			tokens++
			if tokens == 2 {
				return errors.New("client gone")
			}
		}
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client gone")

	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("upstream LLM request still open after the client left")
	}
	assert.Len(t, db.messagesOf(session.Id), 1)
}
