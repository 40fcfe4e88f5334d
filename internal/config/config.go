package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Nats      NatsConfig
	Hub       HubConfig
	Keys      APIKeys
	Ai        AIConfig
	Vector    VectorConfig
	Rag       RagConfig
	Jobs      JobConfig
	Converter ConverterConfig
	Tracing   TracingConfig
}

type AppConfig struct {
	Port               string
	Environment        string
	LogFilePath        string
	HubLogFilePath     string
	CorsAllowedOrigins string
	JWTSecret          string
	UploadDir          string
	MaxUploadBytes     int
}

type DatabaseConfig struct {
	Connection string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type NatsConfig struct {
	URL string
}

type HubConfig struct {
	HeartbeatInterval time.Duration
	CloseDelay        time.Duration
}

type APIKeys struct {
	Gemini      string
	Jina        string
	HuggingFace string
	OpenAI      string
}

type AIConfig struct {
	EmbeddingProvider  string // "ollama", "gemini" or "jina"
	EmbeddingModel     string
	EmbeddingBaseURL   string
	EmbeddingDimension int
	EmbeddingBatchSize int
	EmbeddingTimeout   time.Duration

	LLMProvider string // "ollama", "openai", "huggingface" or "gemini"
	LLMModel    string
	LLMBaseURL  string
	LLMTimeout  time.Duration
	Temperature float64
	MaxTokens   int

	HealthTimeout time.Duration
}

type VectorConfig struct {
	Backend       string // "pgvector", "cyborg" or "memory"
	EncryptionKey string // base64, at least 32 bytes decoded
	IndexType     string
	UpsertBatch   int
	CyborgURL     string
	CyborgAPIKey  string
}

type RagConfig struct {
	ChunkSize    int
	ChunkOverlap int
	TopKBase     int
	TopKPerDoc   int
	TopKMax      int
	HistoryLimit int
}

type JobConfig struct {
	MaxRetries           int
	RetryInitialInterval time.Duration
	LockTTL              time.Duration
}

type ConverterConfig struct {
	BaseURL string
	Timeout time.Duration
}

type TracingConfig struct {
	Enabled  bool
	Endpoint string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3002"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "logs/app.log"),
			HubLogFilePath:     getEnv("HUB_LOG_FILE_PATH", "logs/hub.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
			JWTSecret:          getEnv("JWT_SECRET", ""),
			UploadDir:          getEnv("UPLOAD_DIR", "uploads"),
			MaxUploadBytes:     getEnvAsInt("MAX_UPLOAD_BYTES", 100*1024*1024),
		},
		Database: DatabaseConfig{
			Connection: getEnv("DB_CONNECTION_STRING", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Nats: NatsConfig{
			URL: getEnv("NATS_URL", ""),
		},
		Hub: HubConfig{
			HeartbeatInterval: getEnvAsDuration("HUB_HEARTBEAT_INTERVAL", 15*time.Second),
			CloseDelay:        getEnvAsDuration("HUB_CLOSE_DELAY", time.Second),
		},
		Keys: APIKeys{
			Gemini:      getEnv("GOOGLE_GENAI_API_KEY", ""),
			Jina:        getEnv("JINA_API_KEY", ""),
			HuggingFace: getEnv("HUGGINGFACE_API_KEY", ""),
			OpenAI:      getEnv("OPENAI_API_KEY", ""),
		},
		Ai: AIConfig{
			EmbeddingProvider:  getEnv("EMBEDDING_PROVIDER", "ollama"),
			EmbeddingModel:     getEnv("EMBEDDING_MODEL", "nomic-embed-text"),
			EmbeddingBaseURL:   getEnv("OLLAMA_URL", "http://localhost:11434"),
			EmbeddingDimension: getEnvAsInt("EMBEDDING_DIMENSION", 768),
			EmbeddingBatchSize: getEnvAsInt("EMBEDDING_BATCH_SIZE", 5),
			EmbeddingTimeout:   getEnvAsDuration("EMBEDDING_TIMEOUT", 30*time.Second),
			LLMProvider:        getEnv("LLM_PROVIDER", "ollama"),
			LLMModel:           getEnv("LLM_MODEL", "llama3"),
			LLMBaseURL:         getEnv("LLM_BASE_URL", ""),
			LLMTimeout:         getEnvAsDuration("LLM_TIMEOUT", 5*time.Minute),
			Temperature:        getEnvAsFloat("LLM_TEMPERATURE", 0.7),
			MaxTokens:          getEnvAsInt("LLM_MAX_TOKENS", 2048),
			HealthTimeout:      getEnvAsDuration("HEALTH_TIMEOUT", 5*time.Second),
		},
		Vector: VectorConfig{
			Backend:       getEnv("VECTOR_BACKEND", "pgvector"),
			EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
			IndexType:     getEnv("VECTOR_INDEX_TYPE", "ivfflat"),
			UpsertBatch:   getEnvAsInt("VECTOR_UPSERT_BATCH", 50),
			CyborgURL:     getEnv("CYBORGDB_URL", "http://localhost:8000"),
			CyborgAPIKey:  getEnv("CYBORGDB_API_KEY", ""),
		},
		Rag: RagConfig{
			ChunkSize:    getEnvAsInt("CHUNK_SIZE", 1000),
			ChunkOverlap: getEnvAsInt("CHUNK_OVERLAP", 200),
			TopKBase:     getEnvAsInt("RAG_TOPK_BASE", 6),
			TopKPerDoc:   getEnvAsInt("RAG_TOPK_PER_DOC", 2),
			TopKMax:      getEnvAsInt("RAG_TOPK_MAX", 20),
			HistoryLimit: getEnvAsInt("RAG_HISTORY_LIMIT", 20),
		},
		Jobs: JobConfig{
			MaxRetries:           getEnvAsInt("JOB_MAX_RETRIES", 3),
			RetryInitialInterval: getEnvAsDuration("JOB_RETRY_INITIAL_INTERVAL", 2*time.Second),
			LockTTL:              getEnvAsDuration("JOB_LOCK_TTL", 30*time.Minute),
		},
		Converter: ConverterConfig{
			BaseURL: getEnv("CONVERTER_URL", "http://localhost:3001"),
			Timeout: getEnvAsDuration("CONVERTER_TIMEOUT", 5*time.Minute),
		},
		Tracing: TracingConfig{
			Enabled:  getEnvAsBool("OTEL_ENABLED", false),
			Endpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		},
	}
}

// Validate reports the first setting the service cannot start with.
func (c *Config) Validate() error {
	if c.Database.Connection == "" {
		return errors.New("DB_CONNECTION_STRING is required")
	}
	if c.Vector.Backend != "memory" {
		if _, err := c.MasterKey(); err != nil {
			return err
		}
	}
	if c.Rag.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.Rag.ChunkSize)
	}
	if c.Rag.ChunkOverlap < 0 || c.Rag.ChunkOverlap >= c.Rag.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP must be in [0, %d), got %d", c.Rag.ChunkSize, c.Rag.ChunkOverlap)
	}
	if c.Ai.EmbeddingBatchSize <= 0 {
		return fmt.Errorf("EMBEDDING_BATCH_SIZE must be positive, got %d", c.Ai.EmbeddingBatchSize)
	}
	return nil
}

// MasterKey decodes ENCRYPTION_KEY.
func (c *Config) MasterKey() ([]byte, error) {
	if c.Vector.EncryptionKey == "" {
		return nil, errors.New("ENCRYPTION_KEY is required")
	}
	key, err := base64.StdEncoding.DecodeString(c.Vector.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("ENCRYPTION_KEY is not valid base64: %w", err)
	}
	if len(key) < 32 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must decode to at least 32 bytes, got %d", len(key))
	}
	return key, nil
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseFloat(strValue, 64); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseBool(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if value, err := time.ParseDuration(strValue); err == nil {
		return value
	}
	return fallback
}
