package service

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"cyborg-chat-be/internal/entity"
	"cyborg-chat-be/internal/hub"
	"cyborg-chat-be/internal/repository/contract"
	"cyborg-chat-be/internal/repository/specification"
	"cyborg-chat-be/internal/repository/unitofwork"
	"cyborg-chat-be/pkg/events"
	"cyborg-chat-be/pkg/rag/retrieval"

	"github.com/google/uuid"
)

// fakeDB is an in-memory stand-in for the relational store. Specifications
// are interpreted by type; ordering and pagination specs are ignored.
type fakeDB struct {
	mu          sync.Mutex
	sessions    map[uuid.UUID]*entity.Session
	messages    []*entity.Message
	attachments map[uuid.UUID]*entity.Attachment
	chunks      map[string]*entity.ChunkData

	updateStateErr error
	touches        int

	// failCreateBatchAt makes the nth CreateBatch call fail; 0 never fails.
	failCreateBatchAt int
	createBatchCalls  int
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		sessions:    make(map[uuid.UUID]*entity.Session),
		attachments: make(map[uuid.UUID]*entity.Attachment),
		chunks:      make(map[string]*entity.ChunkData),
	}
}

func (db *fakeDB) NewUnitOfWork(context.Context) unitofwork.UnitOfWork {
	return &fakeUnitOfWork{db: db}
}

func (db *fakeDB) addSession(userId uuid.UUID) *entity.Session {
	db.mu.Lock()
	defer db.mu.Unlock()
	s := &entity.Session{Id: uuid.New(), UserId: userId, Title: "Chat", CreatedAt: time.Now()}
	db.sessions[s.Id] = s
	return s
}

func (db *fakeDB) addAttachment(sessionId, userId uuid.UUID, url string) *entity.Attachment {
	db.mu.Lock()
	defer db.mu.Unlock()
	a := &entity.Attachment{
		Id:        uuid.New(),
		SessionId: sessionId,
		UserId:    userId,
		Filename:  "report.pdf",
		MimeType:  "application/pdf",
		Url:       url,
		State:     entity.Pending{},
		CreatedAt: time.Now(),
	}
	db.attachments[a.Id] = a
	return a
}

func (db *fakeDB) attachment(id uuid.UUID) *entity.Attachment {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.attachments[id]
}

func (db *fakeDB) chunkCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.chunks)
}

func (db *fakeDB) messagesOf(sessionId uuid.UUID) []*entity.Message {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []*entity.Message
	for _, m := range db.messages {
		if m.SessionId == sessionId {
			out = append(out, m)
		}
	}
	return out
}

func matches(specs []specification.Specification, fields map[string]any) bool {
	for _, spec := range specs {
		switch s := spec.(type) {
		case specification.ByID:
			if fields["id"] != s.ID {
				return false
			}
		case specification.BySessionID:
			if fields["session_id"] != s.SessionID {
				return false
			}
		case specification.UserOwnedBy:
			if fields["user_id"] != s.UserID {
				return false
			}
		case specification.ByAttachmentID:
			if fields["attachment_id"] != s.AttachmentID {
				return false
			}
		case specification.ByChunkIndex:
			if fields["chunk_index"] != s.Index {
				return false
			}
		case specification.ExcludeRole:
			if fields["role"] == s.Role {
				return false
			}
		case specification.FilterBy:
			if fields[s.Field] != s.Value {
				return false
			}
		}
	}
	return true
}

type fakeUnitOfWork struct {
	db *fakeDB
}

func (u *fakeUnitOfWork) Begin(context.Context) error { return nil }
func (u *fakeUnitOfWork) Commit() error               { return nil }
func (u *fakeUnitOfWork) Rollback() error             { return nil }

func (u *fakeUnitOfWork) SessionRepository() contract.SessionRepository {
	return &fakeSessionRepo{db: u.db}
}

func (u *fakeUnitOfWork) MessageRepository() contract.MessageRepository {
	return &fakeMessageRepo{db: u.db}
}

func (u *fakeUnitOfWork) AttachmentRepository() contract.AttachmentRepository {
	return &fakeAttachmentRepo{db: u.db}
}

func (u *fakeUnitOfWork) ChunkDataRepository() contract.ChunkDataRepository {
	return &fakeChunkRepo{db: u.db}
}

type fakeSessionRepo struct{ db *fakeDB }

func sessionFields(s *entity.Session) map[string]any {
	return map[string]any{"id": s.Id, "user_id": s.UserId}
}

func (r *fakeSessionRepo) Create(_ context.Context, s *entity.Session) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s.CreatedAt = time.Now()
	c := *s
	r.db.sessions[s.Id] = &c
	return nil
}

func (r *fakeSessionRepo) Update(_ context.Context, s *entity.Session) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c := *s
	r.db.sessions[s.Id] = &c
	return nil
}

func (r *fakeSessionRepo) Touch(_ context.Context, id uuid.UUID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.touches++
	if s, ok := r.db.sessions[id]; ok {
		now := time.Now()
		s.UpdatedAt = &now
	}
	return nil
}

func (r *fakeSessionRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	delete(r.db.sessions, id)
	return nil
}

func (r *fakeSessionRepo) FindOne(ctx context.Context, specs ...specification.Specification) (*entity.Session, error) {
	all, _ := r.FindAll(ctx, specs...)
	if len(all) == 0 {
		return nil, nil
	}
	return all[0], nil
}

func (r *fakeSessionRepo) FindAll(_ context.Context, specs ...specification.Specification) ([]*entity.Session, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*entity.Session
	for _, s := range r.db.sessions {
		if matches(specs, sessionFields(s)) {
			c := *s
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *fakeSessionRepo) Count(ctx context.Context, specs ...specification.Specification) (int64, error) {
	all, _ := r.FindAll(ctx, specs...)
	return int64(len(all)), nil
}

type fakeMessageRepo struct{ db *fakeDB }

func messageFields(m *entity.Message) map[string]any {
	return map[string]any{"id": m.Id, "session_id": m.SessionId, "role": m.Role}
}

func (r *fakeMessageRepo) Create(_ context.Context, m *entity.Message) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	m.CreatedAt = time.Now()
	c := *m
	r.db.messages = append(r.db.messages, &c)
	return nil
}

func (r *fakeMessageRepo) DeleteBySessionId(_ context.Context, sessionId uuid.UUID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.messages = slices.DeleteFunc(r.db.messages, func(m *entity.Message) bool {
		return m.SessionId == sessionId
	})
	return nil
}

func (r *fakeMessageRepo) FindOne(ctx context.Context, specs ...specification.Specification) (*entity.Message, error) {
	all, _ := r.FindAll(ctx, specs...)
	if len(all) == 0 {
		return nil, nil
	}
	return all[0], nil
}

func (r *fakeMessageRepo) FindAll(_ context.Context, specs ...specification.Specification) ([]*entity.Message, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*entity.Message
	for _, m := range r.db.messages {
		if matches(specs, messageFields(m)) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *fakeMessageRepo) FindRecent(ctx context.Context, sessionId uuid.UUID, limit int) ([]*entity.Message, error) {
	all, _ := r.FindAll(ctx,
		specification.BySessionID{SessionID: sessionId},
		specification.ExcludeRole{Role: entity.RoleSystem},
	)
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (r *fakeMessageRepo) FindLatestBySessionIds(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]*entity.Message, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := make(map[uuid.UUID]*entity.Message)
	for _, m := range r.db.messages {
		if slices.Contains(ids, m.SessionId) {
			out[m.SessionId] = m
		}
	}
	return out, nil
}

func (r *fakeMessageRepo) Count(ctx context.Context, specs ...specification.Specification) (int64, error) {
	all, _ := r.FindAll(ctx, specs...)
	return int64(len(all)), nil
}

type fakeAttachmentRepo struct{ db *fakeDB }

func attachmentFields(a *entity.Attachment) map[string]any {
	return map[string]any{"id": a.Id, "session_id": a.SessionId, "user_id": a.UserId, "url": a.Url}
}

func (r *fakeAttachmentRepo) Create(_ context.Context, a *entity.Attachment) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	a.CreatedAt = time.Now()
	c := *a
	r.db.attachments[a.Id] = &c
	return nil
}

func (r *fakeAttachmentRepo) UpdateState(_ context.Context, id uuid.UUID, state entity.ProcessingState) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.updateStateErr != nil {
		return r.db.updateStateErr
	}
	a, ok := r.db.attachments[id]
	if !ok {
		return errors.New("record not found")
	}
	a.State = state
	return nil
}

func (r *fakeAttachmentRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	delete(r.db.attachments, id)
	return nil
}

func (r *fakeAttachmentRepo) DeleteBySessionId(_ context.Context, sessionId uuid.UUID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for id, a := range r.db.attachments {
		if a.SessionId == sessionId {
			delete(r.db.attachments, id)
		}
	}
	return nil
}

func (r *fakeAttachmentRepo) FindOne(ctx context.Context, specs ...specification.Specification) (*entity.Attachment, error) {
	all, _ := r.FindAll(ctx, specs...)
	if len(all) == 0 {
		return nil, nil
	}
	return all[0], nil
}

func (r *fakeAttachmentRepo) FindAll(_ context.Context, specs ...specification.Specification) ([]*entity.Attachment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*entity.Attachment
	for _, a := range r.db.attachments {
		if matches(specs, attachmentFields(a)) {
			c := *a
			out = append(out, &c)
		}
	}
	return out, nil
}

type fakeChunkRepo struct{ db *fakeDB }

func chunkFields(c *entity.ChunkData) map[string]any {
	return map[string]any{"id": c.Id, "attachment_id": c.AttachmentId, "chunk_index": c.ChunkIndex}
}

func (r *fakeChunkRepo) CreateBatch(_ context.Context, chunks []*entity.ChunkData) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.createBatchCalls++
	if r.db.createBatchCalls == r.db.failCreateBatchAt {
		return errors.New("chunk_data insert failed")
	}
	for _, c := range chunks {
		if _, ok := r.db.chunks[c.Id]; ok {
			continue
		}
		cp := *c
		r.db.chunks[c.Id] = &cp
	}
	return nil
}

func (r *fakeChunkRepo) DeleteByAttachmentId(_ context.Context, attachmentId uuid.UUID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for id, c := range r.db.chunks {
		if c.AttachmentId == attachmentId {
			delete(r.db.chunks, id)
		}
	}
	return nil
}

func (r *fakeChunkRepo) DeleteBySessionId(_ context.Context, sessionId uuid.UUID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for id, c := range r.db.chunks {
		if a, ok := r.db.attachments[c.AttachmentId]; ok && a.SessionId == sessionId {
			delete(r.db.chunks, id)
		}
	}
	return nil
}

func (r *fakeChunkRepo) FindOne(ctx context.Context, specs ...specification.Specification) (*entity.ChunkData, error) {
	all, _ := r.FindAll(ctx, specs...)
	if len(all) == 0 {
		return nil, nil
	}
	return all[0], nil
}

func (r *fakeChunkRepo) FindAll(_ context.Context, specs ...specification.Specification) ([]*entity.ChunkData, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*entity.ChunkData
	for _, c := range r.db.chunks {
		if matches(specs, chunkFields(c)) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out, nil
}

func (r *fakeChunkRepo) FindSources(_ context.Context, vectorIds []string, attachmentId *uuid.UUID) ([]*entity.ChunkSource, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*entity.ChunkSource
	for _, id := range vectorIds {
		c, ok := r.db.chunks[id]
		if !ok {
			continue
		}
		if attachmentId != nil && c.AttachmentId != *attachmentId {
			continue
		}
		a, ok := r.db.attachments[c.AttachmentId]
		if !ok {
			continue
		}
		out = append(out, &entity.ChunkSource{ChunkData: *c, Filename: a.Filename})
	}
	return out, nil
}

func (r *fakeChunkRepo) Count(ctx context.Context, specs ...specification.Specification) (int64, error) {
	all, _ := r.FindAll(ctx, specs...)
	return int64(len(all)), nil
}

// recordingNotifier captures everything the services push to the hub.
type recordingNotifier struct {
	mu       sync.Mutex
	progress []hub.ProgressEvent
	session  []hub.EngineEvent
	closed   []uuid.UUID
}

func (n *recordingNotifier) Narrate(sessionId uuid.UUID, narration retrieval.Narration) {
	n.Session(hub.NewEngineEvent(hub.EventType(narration.Level), sessionId, narration.Message))
}

func (n *recordingNotifier) Session(event hub.EngineEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.session = append(n.session, event)
}

func (n *recordingNotifier) Progress(_ uuid.UUID, event hub.ProgressEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.progress = append(n.progress, event)
}

func (n *recordingNotifier) CloseProgress(attachmentId uuid.UUID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = append(n.closed, attachmentId)
}

func (n *recordingNotifier) actions() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, e := range n.session {
		if e.ActionType != "" {
			out = append(out, e.ActionType)
		}
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType()
	}
	return out
}
