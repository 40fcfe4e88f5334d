package config

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Database: DatabaseConfig{Connection: "postgres://localhost/test"},
		Ai:       AIConfig{EmbeddingBatchSize: 5},
		Vector: VectorConfig{
			Backend:       "pgvector",
			EncryptionKey: base64.StdEncoding.EncodeToString(make([]byte, 32)),
		},
		Rag: RagConfig{ChunkSize: 1000, ChunkOverlap: 200},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing dsn", mutate: func(c *Config) { c.Database.Connection = "" }, wantErr: "DB_CONNECTION_STRING"},
		{name: "missing key", mutate: func(c *Config) { c.Vector.EncryptionKey = "" }, wantErr: "ENCRYPTION_KEY is required"},
		{name: "bad base64", mutate: func(c *Config) { c.Vector.EncryptionKey = "%%%" }, wantErr: "not valid base64"},
		{name: "short key", mutate: func(c *Config) {
			c.Vector.EncryptionKey = base64.StdEncoding.EncodeToString([]byte("short"))
		}, wantErr: "at least 32 bytes"},
		{name: "memory backend needs no key", mutate: func(c *Config) {
			c.Vector.Backend = "memory"
			c.Vector.EncryptionKey = ""
		}},
		{name: "overlap not below size", mutate: func(c *Config) { c.Rag.ChunkOverlap = 1000 }, wantErr: "CHUNK_OVERLAP"},
		{name: "zero batch", mutate: func(c *Config) { c.Ai.EmbeddingBatchSize = 0 }, wantErr: "EMBEDDING_BATCH_SIZE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CHUNK_SIZE", "")
	t.Setenv("HUB_HEARTBEAT_INTERVAL", "5s")

	cfg := Load()

	assert.Equal(t, 1000, cfg.Rag.ChunkSize)
	assert.Equal(t, 200, cfg.Rag.ChunkOverlap)
	assert.Equal(t, 5, cfg.Ai.EmbeddingBatchSize)
	assert.Equal(t, 50, cfg.Vector.UpsertBatch)
	assert.Equal(t, 768, cfg.Ai.EmbeddingDimension)
	assert.Equal(t, 5*time.Second, cfg.Hub.HeartbeatInterval)
	assert.Equal(t, time.Second, cfg.Hub.CloseDelay)
}
