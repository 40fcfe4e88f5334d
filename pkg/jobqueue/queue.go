package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cyborg-chat-be/internal/pkg/logger"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const (
	topicPrefix = "jobs."
	poisonTopic = "jobs.poison"
	metadataKey = "job_key"
)

type Config struct {
	MaxRetries      int
	InitialInterval time.Duration
	LockTTL         time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 2 * time.Second
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 30 * time.Minute
	}
	return c
}

// Handler processes one job payload. Returning an error retries the job,
// unless it is wrapped with NonRetryable.
type Handler func(ctx context.Context, payload []byte) error

// Queue runs named background jobs on a watermill router over an
// in-process go channel. Jobs that share a key never run concurrently.
type Queue struct {
	pubSub *gochannel.GoChannel
	router *message.Router
	locker Locker
	cfg    Config
	logger logger.ILogger
}

func New(cfg Config, locker Locker, log logger.ILogger) (*Queue, error) {
	cfg = cfg.withDefaults()
	if locker == nil {
		locker = NewLocalLocker()
	}

	wmLogger := watermill.NewStdLogger(false, false)
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 64},
		wmLogger,
	)

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: 30 * time.Second}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("create job router: %w", err)
	}

	q := &Queue{
		pubSub: pubSub,
		router: router,
		locker: locker,
		cfg:    cfg,
		logger: log,
	}

	// Jobs that exhausted their retries end up on a topic nobody reads, so
	// they are acked instead of redelivered forever.
	poison, err := middleware.PoisonQueue(pubSub, poisonTopic)
	if err != nil {
		return nil, fmt.Errorf("create poison queue: %w", err)
	}

	retry := middleware.Retry{
		MaxRetries:      cfg.MaxRetries,
		InitialInterval: cfg.InitialInterval,
		MaxInterval:     cfg.InitialInterval * 16,
		Multiplier:      2,
		Logger:          wmLogger,
		OnRetryHook: func(retryNum int, delay time.Duration) {
			q.logger.Warn("JobQueue", "Retrying job", map[string]interface{}{
				"attempt": retryNum,
				"delay":   delay.String(),
			})
		},
	}

	router.AddMiddleware(poison, retry.Middleware, middleware.Recoverer)
	return q, nil
}

// Register binds handler to jobs named name. Must be called before Run.
func (q *Queue) Register(name string, handler Handler) {
	q.router.AddNoPublisherHandler(name, topicPrefix+name, q.pubSub, func(msg *message.Message) error {
		return q.handle(name, msg, handler)
	})
}

func (q *Queue) handle(name string, msg *message.Message, handler Handler) error {
	ctx := msg.Context()
	key := msg.Metadata.Get(metadataKey)

	if key != "" {
		unlock, ok, err := q.locker.TryLock(ctx, name+":"+key, q.cfg.LockTTL)
		if err != nil {
			return err
		}
		if !ok {
			q.logger.Info("JobQueue", "Job key busy, will retry", map[string]interface{}{
				"job": name,
				"key": key,
			})
			return ErrLocked
		}
		defer unlock()
	}

	start := time.Now()
	err := handler(ctx, msg.Payload)
	details := map[string]interface{}{
		"job":         name,
		"key":         key,
		"message_id":  msg.UUID,
		"duration_ms": time.Since(start).Milliseconds(),
	}

	switch {
	case err == nil:
		q.logger.Info("JobQueue", "Job completed", details)
		return nil
	case IsNonRetryable(err):
		details["error"] = err.Error()
		q.logger.Error("JobQueue", "Job failed permanently", details)
		return nil
	default:
		details["error"] = err.Error()
		q.logger.Warn("JobQueue", "Job failed", details)
		return err
	}
}

// Enqueue publishes a job. key serializes jobs with the same name and key;
// an empty key means no locking.
func (q *Queue) Enqueue(ctx context.Context, name, key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", name, err)
	}

	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.Metadata.Set(metadataKey, key)

	if err := q.pubSub.Publish(topicPrefix+name, msg); err != nil {
		return fmt.Errorf("enqueue job %s: %w", name, err)
	}

	q.logger.Debug("JobQueue", "Job enqueued", map[string]interface{}{
		"job":        name,
		"key":        key,
		"message_id": msg.UUID,
	})
	return nil
}

// Run starts the router and blocks until ctx is done or Close is called.
func (q *Queue) Run(ctx context.Context) error {
	if err := q.router.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Running is closed once every handler is subscribed. Jobs enqueued
// earlier are dropped.
func (q *Queue) Running() <-chan struct{} {
	return q.router.Running()
}

func (q *Queue) Close() error {
	if err := q.router.Close(); err != nil {
		return err
	}
	return q.pubSub.Close()
}
