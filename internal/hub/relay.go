package hub

import (
	"context"
	"encoding/json"
	"time"

	"cyborg-chat-be/internal/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const relayChannel = "cluster_events"

type relayKind string

const (
	relayPublish relayKind = "publish"
	relayClose   relayKind = "close"
)

type envelope struct {
	Origin  string          `json:"origin"`
	Kind    relayKind       `json:"kind"`
	Topic   Topic           `json:"topic"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// relay mirrors hub traffic across instances through redis pub/sub. Each
// instance tags what it sends with its origin id and ignores its own echoes.
type relay struct {
	rdb    *redis.Client
	origin string
}

func newRelay(rdb *redis.Client) *relay {
	return &relay{rdb: rdb, origin: uuid.NewString()}
}

func (r *relay) publish(topic Topic, kind relayKind, payload []byte, log logger.ILogger) {
	data, err := json.Marshal(envelope{
		Origin:  r.origin,
		Kind:    kind,
		Topic:   topic,
		Payload: payload,
	})
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.rdb.Publish(ctx, relayChannel, data).Err(); err != nil {
		log.Warn("Hub", "Redis relay publish failed", map[string]interface{}{
			"topic": string(topic),
			"error": err.Error(),
		})
	}
}

func (r *relay) consume(ctx context.Context, h *Hub) {
	pubsub := r.rdb.Subscribe(ctx, relayChannel)
	defer pubsub.Close()

	h.logger.Info("Hub", "Redis relay started", map[string]interface{}{"origin": r.origin})

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			env, err := r.decode(msg.Payload)
			if err != nil {
				h.logger.Warn("Hub", "Relay message parse error", map[string]interface{}{"error": err.Error()})
				continue
			}
			if env.Origin == r.origin {
				continue
			}
			r.apply(h, env)
		}
	}
}

func (r *relay) decode(raw string) (envelope, error) {
	var env envelope
	err := json.Unmarshal([]byte(raw), &env)
	return env, err
}

func (r *relay) apply(h *Hub, env envelope) {
	switch env.Kind {
	case relayClose:
		h.closeLocal(env.Topic)
	default:
		h.deliver(env.Topic, env.Payload)
	}
}
