package hub

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"cyborg-chat-be/internal/pkg/logger"

	"github.com/redis/go-redis/v9"
)

const DefaultHeartbeatInterval = 15 * time.Second

// Hub fans events out to the sinks subscribed to a topic. Delivery is
// at-most-once: nothing is buffered for topics without subscribers.
type Hub struct {
	// Registry of live topics. Each set carries its own lock.
	mu     sync.RWMutex
	topics map[Topic]*topicSet

	nextID    atomic.Uint64
	heartbeat time.Duration

	relay  *relay
	logger logger.ILogger
}

type topicSet struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscription
	closed bool
}

// Subscription is one sink attached to one topic.
type Subscription struct {
	id    uint64
	topic Topic
	sink  Sink
	once  sync.Once
	done  chan struct{}
}

func (s *Subscription) Topic() Topic {
	return s.topic
}

// Done is closed once the sink has been removed from the hub.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

type Option func(*Hub)

func WithHeartbeat(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.heartbeat = d
		}
	}
}

// WithRedis relays every published event to the other instances sharing rdb.
func WithRedis(rdb *redis.Client) Option {
	return func(h *Hub) {
		if rdb != nil {
			h.relay = newRelay(rdb)
		}
	}
}

func NewHub(log logger.ILogger, opts ...Option) *Hub {
	h := &Hub{
		topics:    make(map[Topic]*topicSet),
		heartbeat: DefaultHeartbeatInterval,
		logger:    log,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run consumes the cluster relay until ctx is done. Without redis it
// returns immediately.
func (h *Hub) Run(ctx context.Context) {
	if h.relay == nil {
		return
	}
	h.relay.consume(ctx, h)
}

// Subscribe writes hello to sink, registers it on topic and starts its
// heartbeat. If the hello write fails the sink is closed and not registered.
func (h *Hub) Subscribe(topic Topic, sink Sink, hello any) (*Subscription, error) {
	if hello != nil {
		payload, err := json.Marshal(hello)
		if err != nil {
			sink.Close()
			return nil, err
		}
		if err := sink.Send(payload); err != nil {
			sink.Close()
			return nil, err
		}
	}

	sub := &Subscription{
		id:    h.nextID.Add(1),
		topic: topic,
		sink:  sink,
		done:  make(chan struct{}),
	}

	for {
		set := h.acquire(topic)
		set.mu.Lock()
		if set.closed {
			// Lost a race with the last unsubscribe of this topic.
			set.mu.Unlock()
			continue
		}
		set.subs[sub.id] = sub
		set.mu.Unlock()
		break
	}

	go h.keepAlive(sub)

	h.logger.Debug("Hub", "Subscriber added", map[string]interface{}{
		"topic": string(topic),
		"id":    sub.id,
	})
	return sub, nil
}

// Publish marshals event once and writes it to every local sink of topic,
// concurrently. Sinks whose write fails are unsubscribed before Publish
// returns. Errors are logged, never returned.
func (h *Hub) Publish(topic Topic, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("Hub", "Failed to marshal event", map[string]interface{}{
			"topic": string(topic),
			"error": err.Error(),
		})
		return
	}

	h.deliver(topic, payload)

	if h.relay != nil {
		h.relay.publish(topic, relayPublish, payload, h.logger)
	}
}

// Unsubscribe removes sub and closes its sink. Safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	sub.once.Do(func() {
		h.detach(sub)
		h.release(sub)
	})
}

// CloseTopic closes every sink of topic and forgets the topic.
func (h *Hub) CloseTopic(topic Topic) {
	h.closeLocal(topic)
	if h.relay != nil {
		h.relay.publish(topic, relayClose, nil, h.logger)
	}
}

// CloseTopicAfter schedules CloseTopic.
func (h *Hub) CloseTopicAfter(topic Topic, d time.Duration) *time.Timer {
	return time.AfterFunc(d, func() {
		h.CloseTopic(topic)
	})
}

// Count reports the number of local subscribers of topic.
func (h *Hub) Count(topic Topic) int {
	h.mu.RLock()
	set, ok := h.topics[topic]
	h.mu.RUnlock()
	if !ok {
		return 0
	}
	set.mu.Lock()
	defer set.mu.Unlock()
	return len(set.subs)
}

// Shutdown closes every local topic.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	topics := make([]Topic, 0, len(h.topics))
	for t := range h.topics {
		topics = append(topics, t)
	}
	h.mu.RUnlock()

	for _, t := range topics {
		h.closeLocal(t)
	}
}

func (h *Hub) acquire(topic Topic) *topicSet {
	h.mu.RLock()
	set, ok := h.topics[topic]
	h.mu.RUnlock()
	if ok {
		return set
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok = h.topics[topic]; ok {
		return set
	}
	set = &topicSet{subs: make(map[uint64]*Subscription)}
	h.topics[topic] = set
	return set
}

func (h *Hub) snapshot(topic Topic) []*Subscription {
	h.mu.RLock()
	set, ok := h.topics[topic]
	h.mu.RUnlock()
	if !ok {
		return nil
	}

	set.mu.Lock()
	defer set.mu.Unlock()
	subs := make([]*Subscription, 0, len(set.subs))
	for _, s := range set.subs {
		subs = append(subs, s)
	}
	return subs
}

func (h *Hub) deliver(topic Topic, payload []byte) int {
	subs := h.snapshot(topic)
	if len(subs) == 0 {
		return 0
	}

	var (
		wg        sync.WaitGroup
		delivered atomic.Int32
	)
	for _, sub := range subs {
		wg.Add(1)
		go func(sub *Subscription) {
			defer wg.Done()
			if err := sub.sink.Send(payload); err != nil {
				h.logger.Debug("Hub", "Dropping subscriber after failed write", map[string]interface{}{
					"topic": string(topic),
					"id":    sub.id,
					"error": err.Error(),
				})
				h.Unsubscribe(sub)
				return
			}
			delivered.Add(1)
		}(sub)
	}
	wg.Wait()
	return int(delivered.Load())
}

// detach removes sub from its topic set, and the set from the registry
// once it is empty. Lock order is registry, then set.
func (h *Hub) detach(sub *Subscription) {
	h.mu.RLock()
	set, ok := h.topics[sub.topic]
	h.mu.RUnlock()
	if !ok {
		return
	}

	set.mu.Lock()
	delete(set.subs, sub.id)
	empty := len(set.subs) == 0
	set.mu.Unlock()
	if !empty {
		return
	}

	h.mu.Lock()
	set.mu.Lock()
	if len(set.subs) == 0 && h.topics[sub.topic] == set {
		delete(h.topics, sub.topic)
		set.closed = true
	}
	set.mu.Unlock()
	h.mu.Unlock()
}

func (h *Hub) release(sub *Subscription) {
	if err := sub.sink.Close(); err != nil {
		h.logger.Debug("Hub", "Sink close failed", map[string]interface{}{
			"topic": string(sub.topic),
			"error": err.Error(),
		})
	}
	close(sub.done)
}

func (h *Hub) closeLocal(topic Topic) {
	h.mu.Lock()
	set, ok := h.topics[topic]
	if ok {
		delete(h.topics, topic)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	set.mu.Lock()
	set.closed = true
	subs := make([]*Subscription, 0, len(set.subs))
	for _, s := range set.subs {
		subs = append(subs, s)
	}
	set.subs = make(map[uint64]*Subscription)
	set.mu.Unlock()

	for _, sub := range subs {
		sub.once.Do(func() { h.release(sub) })
	}

	h.logger.Debug("Hub", "Topic closed", map[string]interface{}{
		"topic":       string(topic),
		"subscribers": len(subs),
	})
}

func (h *Hub) keepAlive(sub *Subscription) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-sub.done:
			return
		case <-ticker.C:
			if err := sub.sink.Heartbeat(); err != nil {
				h.logger.Debug("Hub", "Heartbeat failed", map[string]interface{}{
					"topic": string(sub.topic),
					"id":    sub.id,
					"error": err.Error(),
				})
				h.Unsubscribe(sub)
				return
			}
		}
	}
}
