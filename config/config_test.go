package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 512, cfg.Chunking.ChunkSize)
	assert.Equal(t, 102, cfg.Chunking.ChunkOverlap)
	assert.Equal(t, 1000, cfg.Chunking.MaxChunksPerDoc)
	assert.Equal(t, 10, cfg.Embedding.BatchSize)
	assert.Equal(t, 3, cfg.Embedding.Workers)
	assert.Equal(t, 3, cfg.Embedding.MaxAttempts)
	assert.Equal(t, 25000, cfg.Embedding.MaxTextChars)
	assert.Equal(t, 768, cfg.Embedding.DefaultDimension)
	assert.Equal(t, 5*time.Minute, cfg.RequestTimeout)
	assert.InDelta(t, 0.7, cfg.VectorStore.SimilarityThreshold, 1e-9)
	assert.Equal(t, VectorStoreWeaviate, cfg.VectorStore.Type)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
chunking:
  chunk_size: 256
  chunk_overlap: 32
embedding:
  provider: openai
  model: text-embedding-3-small
  retry_delay: 250ms
vector_store:
  type: memory
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("OPENAI_API_KEY", "sk-one,sk-two")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("VECTOR_STORE_SIMILARITY_THRESHOLD", "0.5")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 256, cfg.Chunking.ChunkSize)
	assert.Equal(t, 32, cfg.Chunking.ChunkOverlap)
	assert.Equal(t, EmbeddingProviderOpenAI, cfg.Embedding.Provider)
	assert.Equal(t, 250*time.Millisecond, cfg.Embedding.RetryDelay)
	assert.Equal(t, []string{"sk-one", "sk-two"}, cfg.Embedding.APIKeys)
	assert.Equal(t, "secret", cfg.JWTSecret)
	assert.InDelta(t, 0.5, cfg.VectorStore.SimilarityThreshold, 1e-9)
	assert.Equal(t, VectorStoreMemory, cfg.VectorStore.Type)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "overlap equals size", mutate: func(c *Config) { c.Chunking.ChunkOverlap = c.Chunking.ChunkSize }, wantErr: true},
		{name: "negative overlap", mutate: func(c *Config) { c.Chunking.ChunkOverlap = -1 }, wantErr: true},
		{name: "zero size", mutate: func(c *Config) { c.Chunking.ChunkSize = 0 }, wantErr: true},
		{name: "zero max chunks", mutate: func(c *Config) { c.Chunking.MaxChunksPerDoc = 0 }, wantErr: true},
		{name: "unknown provider", mutate: func(c *Config) { c.Embedding.Provider = "cohere" }, wantErr: true},
		{name: "zero workers", mutate: func(c *Config) { c.Embedding.Workers = 0 }, wantErr: true},
		{name: "unknown store", mutate: func(c *Config) { c.VectorStore.Type = "chroma" }, wantErr: true},
		{name: "threshold above one", mutate: func(c *Config) { c.VectorStore.SimilarityThreshold = 1.5 }, wantErr: true},
		{name: "ollama with memory store", mutate: func(c *Config) {
			c.Embedding.Provider = EmbeddingProviderOllama
			c.VectorStore.Type = VectorStoreMemory
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.Chunking.ChunkSize = 300
	cfg.VectorStore.Type = VectorStoreQdrant

	require.NoError(t, Save(path, cfg))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 300, loaded.Chunking.ChunkSize)
	assert.Equal(t, VectorStoreQdrant, loaded.VectorStore.Type)
	assert.Equal(t, cfg.Embedding.RetryDelay, loaded.Embedding.RetryDelay)
}
