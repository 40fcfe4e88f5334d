package hub

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"cyborg-chat-be/internal/pkg/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu         sync.Mutex
	frames     [][]byte
	heartbeats int
	sends      int
	closed     bool
	sendErr    error
	beatErr    error
}

func (f *fakeSink) Send(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends++
	if f.closed {
		return ErrSinkClosed
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.frames = append(f.frames, append([]byte(nil), payload...))
	return nil
}

func (f *fakeSink) Heartbeat() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrSinkClosed
	}
	f.heartbeats++
	return f.beatErr
}

func (f *fakeSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSink) snapshot() (frames [][]byte, sends int, closed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.frames...), f.sends, f.closed
}

func newTestHub(opts ...Option) *Hub {
	return NewHub(logger.NewNopLogger(), opts...)
}

func isDone(sub *Subscription) bool {
	select {
	case <-sub.Done():
		return true
	default:
		return false
	}
}

func TestPublishWithoutSubscribersIsDropped(t *testing.T) {
	h := newTestHub()
	topic := SessionTopic(uuid.New())

	assert.NotPanics(t, func() {
		h.Publish(topic, map[string]string{"message": "nobody listens"})
	})
	assert.Equal(t, 0, h.Count(topic))

	// a late subscriber sees only its hello
	sink := &fakeSink{}
	_, err := h.Subscribe(topic, sink, AttachmentConnected())
	require.NoError(t, err)

	frames, _, _ := sink.snapshot()
	require.Len(t, frames, 1)
	assert.Contains(t, string(frames[0]), `"status":"connected"`)
}

func TestSubscribeSendsHelloFirst(t *testing.T) {
	h := newTestHub()
	sessionID := uuid.New()
	topic := SessionTopic(sessionID)
	sink := &fakeSink{}

	sub, err := h.Subscribe(topic, sink, SessionConnected(sessionID))
	require.NoError(t, err)
	defer h.Unsubscribe(sub)

	h.Publish(topic, NewEngineEvent(EventNotification, sessionID, "Processing your message..."))

	frames, _, _ := sink.snapshot()
	require.Len(t, frames, 2)

	var hello EngineEvent
	require.NoError(t, json.Unmarshal(frames[0], &hello))
	assert.Equal(t, "Connected to logs", hello.Message)
	assert.Equal(t, ScopeSession, hello.Scope)
	assert.Equal(t, sessionID, hello.SessionID)
	assert.Contains(t, string(frames[1]), "Processing your message...")
}

func TestSubscribeHelloFailureDoesNotRegister(t *testing.T) {
	h := newTestHub()
	topic := AttachmentTopic(uuid.New())
	sink := &fakeSink{sendErr: errors.New("broken pipe")}

	sub, err := h.Subscribe(topic, sink, AttachmentConnected())
	require.Error(t, err)
	assert.Nil(t, sub)
	assert.Equal(t, 0, h.Count(topic))

	_, _, closed := sink.snapshot()
	assert.True(t, closed)
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	h := newTestHub()
	topic := AttachmentTopic(uuid.New())

	sinks := make([]*fakeSink, 5)
	for i := range sinks {
		sinks[i] = &fakeSink{}
		_, err := h.Subscribe(topic, sinks[i], nil)
		require.NoError(t, err)
	}
	require.Equal(t, 5, h.Count(topic))

	h.Publish(topic, ProgressEvent{Status: StatusProcessing, Step: "chunking", Progress: 50})

	for _, s := range sinks {
		frames, _, _ := s.snapshot()
		require.Len(t, frames, 1)
		assert.Contains(t, string(frames[0]), `"progress":50`)
	}
}

func TestPublishIsScopedToTopic(t *testing.T) {
	h := newTestHub()
	a, b := AttachmentTopic(uuid.New()), AttachmentTopic(uuid.New())
	sinkA, sinkB := &fakeSink{}, &fakeSink{}

	_, err := h.Subscribe(a, sinkA, nil)
	require.NoError(t, err)
	_, err = h.Subscribe(b, sinkB, nil)
	require.NoError(t, err)

	h.Publish(a, ProgressEvent{Status: StatusProcessing})

	framesA, _, _ := sinkA.snapshot()
	framesB, _, _ := sinkB.snapshot()
	assert.Len(t, framesA, 1)
	assert.Empty(t, framesB)
}

func TestFailingSinkIsRemovedAfterOneAttempt(t *testing.T) {
	h := newTestHub()
	topic := SessionTopic(uuid.New())

	good := &fakeSink{}
	bad := &fakeSink{}
	_, err := h.Subscribe(topic, good, nil)
	require.NoError(t, err)
	badSub, err := h.Subscribe(topic, bad, nil)
	require.NoError(t, err)

	bad.mu.Lock()
	bad.sendErr = errors.New("connection reset")
	bad.mu.Unlock()

	h.Publish(topic, "first")

	// removed before Publish returned
	assert.True(t, isDone(badSub))
	assert.Equal(t, 1, h.Count(topic))

	h.Publish(topic, "second")

	_, badSends, badClosed := bad.snapshot()
	assert.Equal(t, 1, badSends)
	assert.True(t, badClosed)

	goodFrames, _, _ := good.snapshot()
	assert.Len(t, goodFrames, 2)
}

func TestUnsubscribeIsIdempotentAndRemovesEmptyTopic(t *testing.T) {
	h := newTestHub()
	topic := SessionTopic(uuid.New())
	sink := &fakeSink{}

	sub, err := h.Subscribe(topic, sink, nil)
	require.NoError(t, err)

	h.Unsubscribe(sub)
	assert.NotPanics(t, func() { h.Unsubscribe(sub) })

	assert.True(t, isDone(sub))
	assert.Equal(t, 0, h.Count(topic))

	h.mu.RLock()
	_, exists := h.topics[topic]
	h.mu.RUnlock()
	assert.False(t, exists)
}

func TestCloseTopicClosesEverySink(t *testing.T) {
	h := newTestHub()
	topic := AttachmentTopic(uuid.New())

	var subs []*Subscription
	var sinks []*fakeSink
	for i := 0; i < 3; i++ {
		s := &fakeSink{}
		sub, err := h.Subscribe(topic, s, nil)
		require.NoError(t, err)
		subs = append(subs, sub)
		sinks = append(sinks, s)
	}

	h.CloseTopic(topic)

	assert.Equal(t, 0, h.Count(topic))
	for i := range subs {
		assert.True(t, isDone(subs[i]))
		_, _, closed := sinks[i].snapshot()
		assert.True(t, closed)
	}

	// unsubscribing after the topic closed is harmless
	assert.NotPanics(t, func() { h.Unsubscribe(subs[0]) })
}

func TestCloseTopicAfterDelay(t *testing.T) {
	h := newTestHub()
	topic := AttachmentTopic(uuid.New())

	sub, err := h.Subscribe(topic, &fakeSink{}, nil)
	require.NoError(t, err)

	h.CloseTopicAfter(topic, 20*time.Millisecond)
	assert.False(t, isDone(sub))

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("topic was not closed")
	}
}

func TestHeartbeatFailureUnsubscribes(t *testing.T) {
	h := newTestHub(WithHeartbeat(10 * time.Millisecond))
	topic := SessionTopic(uuid.New())
	sink := &fakeSink{beatErr: errors.New("client went away")}

	sub, err := h.Subscribe(topic, sink, nil)
	require.NoError(t, err)

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscriber survived a failed heartbeat")
	}
	assert.Equal(t, 0, h.Count(topic))
}

func TestHeartbeatKeepsHealthySubscriber(t *testing.T) {
	h := newTestHub(WithHeartbeat(5 * time.Millisecond))
	topic := SessionTopic(uuid.New())
	sink := &fakeSink{}

	sub, err := h.Subscribe(topic, sink, nil)
	require.NoError(t, err)
	defer h.Unsubscribe(sub)

	assert.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return sink.heartbeats >= 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.Count(topic))
}

func TestConcurrentPublishAndSubscribe(t *testing.T) {
	h := newTestHub()
	topics := []Topic{SessionTopic(uuid.New()), AttachmentTopic(uuid.New())}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			sub, err := h.Subscribe(topics[i%2], &fakeSink{}, nil)
			if err == nil && i%3 == 0 {
				h.Unsubscribe(sub)
			}
		}(i)
		go func(i int) {
			defer wg.Done()
			h.Publish(topics[i%2], ProgressEvent{Progress: i})
		}(i)
	}
	wg.Wait()

	h.Shutdown()
	for _, topic := range topics {
		assert.Equal(t, 0, h.Count(topic))
	}
}

func TestRelayApply(t *testing.T) {
	h := newTestHub()
	r := &relay{origin: "local"}
	topic := AttachmentTopic(uuid.New())
	sink := &fakeSink{}

	sub, err := h.Subscribe(topic, sink, nil)
	require.NoError(t, err)

	payload := json.RawMessage(`{"status":"processing","progress":25}`)
	r.apply(h, envelope{Origin: "other", Kind: relayPublish, Topic: topic, Payload: payload})

	frames, _, _ := sink.snapshot()
	require.Len(t, frames, 1)
	assert.JSONEq(t, string(payload), string(frames[0]))

	r.apply(h, envelope{Origin: "other", Kind: relayClose, Topic: topic})
	assert.True(t, isDone(sub))
}

func TestSSESinkFrames(t *testing.T) {
	var buf bytes.Buffer
	sink := NewSSESink(bufio.NewWriter(&buf))

	require.NoError(t, sink.Send([]byte(`{"type":"token","content":"hi"}`)))
	require.NoError(t, sink.Heartbeat())

	assert.Equal(t, "data: {\"type\":\"token\",\"content\":\"hi\"}\n\n:keep-alive\n\n", buf.String())

	require.NoError(t, sink.Close())
	assert.ErrorIs(t, sink.Send([]byte("{}")), ErrSinkClosed)
	assert.ErrorIs(t, sink.Heartbeat(), ErrSinkClosed)
}

func TestTopicKinds(t *testing.T) {
	id := uuid.New()
	assert.True(t, SessionTopic(id).IsSession())
	assert.False(t, SessionTopic(id).IsAttachment())
	assert.True(t, AttachmentTopic(id).IsAttachment())
	assert.Equal(t, Topic("attachment:"+id.String()), AttachmentTopic(id))
}
