package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("USE_LOCAL_LLM", "true")
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "hashing", cfg.Embedder.Type)
	assert.Equal(t, 384, cfg.Embedder.Dimension)
	assert.Equal(t, "file", cfg.Index.Backend)
	assert.Equal(t, filepath.Join("data", "faiss_index"), cfg.Index.Path)
	assert.Equal(t, 3, cfg.Retrieval.TopK)
	assert.True(t, cfg.Generation.UseLocalLLM)
	assert.Equal(t, "gpt-3.5-turbo", cfg.Generation.OpenAI.Model)
	assert.Equal(t, 500, cfg.Generation.OpenAI.MaxTokens)
	assert.InDelta(t, 0.3, cfg.Generation.OpenAI.Temperature, 1e-9)
	require.NoError(t, cfg.Validate())
}

func TestLoadYAMLAppliesSectionDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
embedder:
  type: openai
  openai:
    model: nomic-embed-text
index:
  backend: qdrant
  qdrant:
    url: http://localhost:6333
retrieval:
  top_k: 5
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.NotNil(t, cfg.Embedder.OpenAI)
	assert.Equal(t, "nomic-embed-text", cfg.Embedder.OpenAI.Model)
	assert.Equal(t, "https://api.openai.com/v1", cfg.Embedder.OpenAI.BaseURL)
	assert.Equal(t, "OPENAI_API_KEY", cfg.Embedder.OpenAI.APIKeyEnv)
	assert.Equal(t, 32, cfg.Embedder.OpenAI.BatchSize)
	require.NotNil(t, cfg.Index.Qdrant)
	assert.Equal(t, "intellichat", cfg.Index.Qdrant.Collection)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	// untouched sections keep their defaults
	assert.Equal(t, ":5000", cfg.Server.Addr)
	require.NoError(t, cfg.Validate())
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("embedder: [unclosed"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("USE_LOCAL_LLM", "False")
	t.Setenv("INTELLICHAT_INDEX_PATH", "/tmp/idx.bin")
	t.Setenv("INTELLICHAT_CORPUS_DIR", "/srv/corpus")
	t.Setenv("INTELLICHAT_REDIS_DB", "7")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.False(t, cfg.Generation.UseLocalLLM)
	assert.Equal(t, "/tmp/idx.bin", cfg.Index.Path)
	assert.Equal(t, "/srv/corpus", cfg.Corpus.Dir)
	assert.Equal(t, 7, cfg.Redis.DB)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
	}{
		{"unknown embedder", func(c *AppConfig) { c.Embedder.Type = "bert" }},
		{"zero dimension", func(c *AppConfig) { c.Embedder.Dimension = 0 }},
		{"openai without section", func(c *AppConfig) { c.Embedder.Type = "openai" }},
		{"unknown backend", func(c *AppConfig) { c.Index.Backend = "faiss" }},
		{"file without path", func(c *AppConfig) { c.Index.Path = "" }},
		{"qdrant without url", func(c *AppConfig) { c.Index.Backend = "qdrant" }},
		{"milvus without address", func(c *AppConfig) { c.Index.Backend = "milvus" }},
		{"negative top k", func(c *AppConfig) { c.Retrieval.TopK = -1 }},
		{"hot temperature", func(c *AppConfig) { c.Generation.OpenAI.Temperature = 3 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "config.yaml")
	cfg := defaultConfig()
	cfg.Retrieval.TopK = 7
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.Retrieval.TopK)
	assert.Equal(t, cfg.Index.Path, loaded.Index.Path)
}
