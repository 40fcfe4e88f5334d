package bootstrap

import (
	"context"
	"fmt"
	"log"
	"time"

	"cyborg-chat-be/internal/config"
	"cyborg-chat-be/internal/controller"
	"cyborg-chat-be/internal/handler"
	"cyborg-chat-be/internal/hub"
	"cyborg-chat-be/internal/pkg/logger"
	"cyborg-chat-be/internal/repository/memory"
	"cyborg-chat-be/internal/repository/unitofwork"
	"cyborg-chat-be/internal/service"
	"cyborg-chat-be/pkg/converter"
	"cyborg-chat-be/pkg/embedding"
	"cyborg-chat-be/pkg/embedding/jina"
	"cyborg-chat-be/pkg/events"
	"cyborg-chat-be/pkg/jobqueue"
	"cyborg-chat-be/pkg/llm"
	"cyborg-chat-be/pkg/llm/factory"
	pktNats "cyborg-chat-be/pkg/nats"
	"cyborg-chat-be/pkg/rag/chunking"
	"cyborg-chat-be/pkg/rag/retrieval"
	"cyborg-chat-be/pkg/vectorstore"
	"cyborg-chat-be/pkg/vectorstore/cyborg"
	vectormemory "cyborg-chat-be/pkg/vectorstore/memory"
	"cyborg-chat-be/pkg/vectorstore/pgvector"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const (
	ownerCacheTTL = 10 * time.Minute
	indexCacheTTL = 30 * time.Second
)

type Container struct {
	// Controllers
	SessionController    controller.ISessionController
	MessageController    controller.IMessageController
	SearchController     controller.ISearchController
	AttachmentController controller.IAttachmentController
	HealthController     controller.IHealthController

	// Streaming
	EventsHandler *handler.EventsHandler
	Hub           *hub.Hub

	// Background services (run by main.go)
	Queue            *jobqueue.Queue
	IngestionService service.IIngestionService
	IndexJanitor     service.IIndexJanitor
	Subscriber       *pktNats.Subscriber
	LLMProvider      llm.LLMProvider

	// Shared
	Logger      logger.ILogger
	Retrieval   *retrieval.Engine
	VectorStore vectorstore.Store
	UnitOfWork  unitofwork.RepositoryFactory

	closers []func()
}

func NewContainer(db *gorm.DB, cfg *config.Config) *Container {
	ctx := context.Background()
	c := &Container{}

	// 1. Core Facades
	uowFactory := unitofwork.NewRepositoryFactory(db)
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.IsProduction())
	hubLogger := logger.NewIsolatedLogger(cfg.App.HubLogFilePath)
	c.Logger = sysLogger
	c.UnitOfWork = uowFactory

	// 2. Infrastructure
	// Redis is optional: without it the hub stays local to this process and
	// job keys are locked in memory.
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			sysLogger.Warn("Bootstrap", "Redis unreachable, running single node", map[string]interface{}{"error": err.Error()})
			_ = rdb.Close()
			rdb = nil
		} else {
			c.closers = append(c.closers, func() { _ = rdb.Close() })
		}
	}

	// NATS
	var publisher events.Publisher
	if cfg.Nats.URL != "" {
		natsPub, err := pktNats.NewPublisher(cfg.Nats.URL, sysLogger)
		if err != nil {
			sysLogger.Warn("Bootstrap", "Failed to connect to NATS publisher", map[string]interface{}{"error": err.Error()})
		} else {
			publisher = natsPub
			c.closers = append(c.closers, natsPub.Close)
		}
		natsSub, err := pktNats.NewSubscriber(cfg.Nats.URL, sysLogger)
		if err != nil {
			sysLogger.Warn("Bootstrap", "Failed to connect to NATS subscriber", map[string]interface{}{"error": err.Error()})
		} else {
			c.Subscriber = natsSub
			c.closers = append(c.closers, natsSub.Close)
		}
	}

	// Event hub
	hubOpts := []hub.Option{hub.WithHeartbeat(cfg.Hub.HeartbeatInterval)}
	if rdb != nil {
		hubOpts = append(hubOpts, hub.WithRedis(rdb))
	}
	eventHub := hub.NewHub(hubLogger, hubOpts...)
	c.Hub = eventHub

	// Job queue
	var locker jobqueue.Locker = jobqueue.NewLocalLocker()
	if rdb != nil {
		locker = jobqueue.NewRedisLocker(rdb)
	}
	queue, err := jobqueue.New(jobqueue.Config{
		MaxRetries:      cfg.Jobs.MaxRetries,
		InitialInterval: cfg.Jobs.RetryInitialInterval,
		LockTTL:         cfg.Jobs.LockTTL,
	}, locker, sysLogger)
	if err != nil {
		log.Fatalf("[FATAL] Failed to initialize job queue: %v", err)
	}
	c.Queue = queue

	// Vector store
	store, err := newVectorStore(ctx, cfg, c)
	if err != nil {
		log.Fatalf("[FATAL] Failed to initialize vector store: %v", err)
	}
	cachedStore := vectorstore.NewCachedStore(store, indexCacheTTL)
	c.VectorStore = cachedStore
	sysLogger.Info("Bootstrap", "Vector store ready", map[string]interface{}{"backend": cfg.Vector.Backend})

	// 3. AI Providers
	embeddingClient := embedding.NewClient(
		newEmbeddingProvider(cfg, sysLogger),
		embedding.WithBatchSize(cfg.Ai.EmbeddingBatchSize),
		embedding.WithDimension(cfg.Ai.EmbeddingDimension),
	)

	llmProvider, err := factory.NewLLMProvider(factory.Config{
		Provider:    cfg.Ai.LLMProvider,
		Model:       cfg.Ai.LLMModel,
		BaseURL:     cfg.Ai.LLMBaseURL,
		APIKey:      llmAPIKey(cfg),
		Timeout:     cfg.Ai.LLMTimeout,
		Temperature: cfg.Ai.Temperature,
		MaxTokens:   cfg.Ai.MaxTokens,
	})
	if err != nil {
		log.Fatalf("[FATAL] Failed to initialize LLM Provider: %v", err)
	}
	c.LLMProvider = llmProvider
	sysLogger.Info("Bootstrap", "LLM provider ready", map[string]interface{}{
		"provider": cfg.Ai.LLMProvider,
		"model":    cfg.Ai.LLMModel,
	})

	// 4. Services
	notifier := service.NewNotificationService(eventHub, cfg.Hub.CloseDelay)
	janitor := service.NewIndexJanitor(cachedStore, sysLogger)
	c.IndexJanitor = janitor

	engine := retrieval.NewEngine(
		embeddingClient,
		cachedStore,
		service.NewChunkResolver(uowFactory),
		notifier,
		retrieval.Policy{Base: cfg.Rag.TopKBase, PerDoc: cfg.Rag.TopKPerDoc, Max: cfg.Rag.TopKMax},
		sysLogger,
	)
	c.Retrieval = engine

	sessionService := service.NewSessionService(uowFactory, memory.NewSessionOwnerRepository(ownerCacheTTL), publisher, janitor, sysLogger)
	attachmentService := service.NewAttachmentService(uowFactory, sessionService, queue, cachedStore, cfg.App.UploadDir, sysLogger)
	generationService := service.NewGenerationService(uowFactory, sessionService, engine, llmProvider, notifier, cfg.Rag.HistoryLimit, sysLogger)
	searchService := service.NewSearchService(sessionService, engine)
	c.IngestionService = service.NewIngestionService(
		uowFactory,
		converter.NewClient(cfg.Converter.BaseURL, cfg.Converter.Timeout),
		embeddingClient,
		cachedStore,
		notifier,
		publisher,
		service.IngestionOptions{
			Chunking:   chunking.Options{ChunkSize: cfg.Rag.ChunkSize, Overlap: cfg.Rag.ChunkOverlap},
			StoreBatch: cfg.Vector.UpsertBatch,
		},
		sysLogger,
	)

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("[FATAL] Failed to get database handle: %v", err)
	}
	healthService := service.NewHealthService(cfg.Ai.EmbeddingBaseURL, sqlDB, cfg.Ai.HealthTimeout, sysLogger)

	// 5. Controllers
	c.SessionController = controller.NewSessionController(sessionService)
	c.MessageController = controller.NewMessageController(generationService, sysLogger)
	c.SearchController = controller.NewSearchController(searchService)
	c.AttachmentController = controller.NewAttachmentController(attachmentService)
	c.HealthController = controller.NewHealthController(healthService)
	c.EventsHandler = handler.NewEventsHandler(eventHub, sessionService, attachmentService, hubLogger)

	return c
}

// Close releases connections in reverse order of creation.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	_ = c.Logger.Sync()
}

func newVectorStore(ctx context.Context, cfg *config.Config, c *Container) (vectorstore.Store, error) {
	vcfg := vectorstore.Config{
		Dimension:   cfg.Ai.EmbeddingDimension,
		IndexType:   cfg.Vector.IndexType,
		UpsertBatch: cfg.Vector.UpsertBatch,
	}

	var keys *vectorstore.KeyRing
	if cfg.Vector.EncryptionKey != "" || cfg.Vector.Backend != "memory" {
		master, err := cfg.MasterKey()
		if err != nil {
			return nil, err
		}
		if keys, err = vectorstore.NewKeyRing(master); err != nil {
			return nil, err
		}
	}

	switch cfg.Vector.Backend {
	case "memory":
		return vectormemory.New(keys, vcfg), nil
	case "cyborg":
		return cyborg.New(cfg.Vector.CyborgURL, cfg.Vector.CyborgAPIKey, keys, vcfg, cfg.Ai.EmbeddingTimeout), nil
	case "pgvector", "":
		pool, err := pgvector.NewPool(ctx, cfg.Database.Connection)
		if err != nil {
			return nil, err
		}
		store := pgvector.New(pool, keys, vcfg)
		if err := store.Init(ctx); err != nil {
			store.Close()
			return nil, err
		}
		c.closers = append(c.closers, store.Close)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown VECTOR_BACKEND %q", cfg.Vector.Backend)
	}
}

func newEmbeddingProvider(cfg *config.Config, log logger.ILogger) embedding.EmbeddingProvider {
	switch cfg.Ai.EmbeddingProvider {
	case "jina":
		log.Info("Bootstrap", "Using embedding provider", map[string]interface{}{"provider": "jina"})
		return jina.NewJinaProvider(cfg.Keys.Jina, cfg.Ai.EmbeddingTimeout)
	case "gemini":
		log.Info("Bootstrap", "Using embedding provider", map[string]interface{}{"provider": "gemini"})
		return embedding.NewGeminiProvider(cfg.Keys.Gemini, cfg.Ai.EmbeddingTimeout)
	default:
		log.Info("Bootstrap", "Using embedding provider", map[string]interface{}{
			"provider": "ollama",
			"model":    cfg.Ai.EmbeddingModel,
		})
		return embedding.NewOllamaProvider(cfg.Ai.EmbeddingBaseURL, cfg.Ai.EmbeddingModel, cfg.Ai.EmbeddingTimeout)
	}
}

func llmAPIKey(cfg *config.Config) string {
	switch cfg.Ai.LLMProvider {
	case "openai":
		return cfg.Keys.OpenAI
	case "huggingface":
		return cfg.Keys.HuggingFace
	case "gemini":
		return cfg.Keys.Gemini
	default:
		return ""
	}
}
