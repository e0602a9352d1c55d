package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"intellichat/internal/logger"
)

// CorpusConfig points at the directory holding the category JSON files.
type CorpusConfig struct {
	Dir string `yaml:"dir"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	BatchSize   int    `yaml:"batch_size"`
	MaxRetries  int    `yaml:"max_retries"`
}

// EmbeddingCacheConfig configures the redis embedding cache.
type EmbeddingCacheConfig struct {
	Enabled   bool   `yaml:"enabled"`
	TTLSecs   int    `yaml:"ttl_secs"`
	KeyPrefix string `yaml:"key_prefix"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type      string                `yaml:"type"`
	Dimension int                   `yaml:"dimension"`
	OpenAI    *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
	Cache     EmbeddingCacheConfig  `yaml:"cache"`
}

// QdrantConfig contains connection details for a Qdrant collection.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKey      string `yaml:"api_key"`
	Collection  string `yaml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// MilvusConfig contains connection details for a Milvus collection.
type MilvusConfig struct {
	Address     string `yaml:"address"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	Database    string `yaml:"database"`
	Collection  string `yaml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// IndexConfig selects where the vector index lives.
type IndexConfig struct {
	Backend    string        `yaml:"backend"`
	Path       string        `yaml:"path"`
	SQLitePath string        `yaml:"sqlite_path"`
	Qdrant     *QdrantConfig `yaml:"qdrant,omitempty"`
	Milvus     *MilvusConfig `yaml:"milvus,omitempty"`
}

// RetrievalConfig tunes the retriever.
type RetrievalConfig struct {
	TopK int `yaml:"top_k"`
}

// OpenAIChatConfig configures the remote chat completion client.
type OpenAIChatConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	MaxRetries  int     `yaml:"max_retries"`
}

// GenerationConfig selects the answer strategy.
type GenerationConfig struct {
	UseLocalLLM bool             `yaml:"use_local_llm"`
	TimeoutSecs int              `yaml:"timeout_secs"`
	OpenAI      OpenAIChatConfig `yaml:"openai"`
}

// RedisConfig is shared by the components that talk to redis.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr                string `yaml:"addr"`
	RequestTimeoutSecs  int    `yaml:"request_timeout_secs"`
	ShutdownTimeoutSecs int    `yaml:"shutdown_timeout_secs"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Log        logger.Options   `yaml:"log"`
	Corpus     CorpusConfig     `yaml:"corpus"`
	Embedder   EmbedderConfig   `yaml:"embedder"`
	Index      IndexConfig      `yaml:"index"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Generation GenerationConfig `yaml:"generation"`
	Redis      RedisConfig      `yaml:"redis"`
	Server     ServerConfig     `yaml:"server"`
}

// LoadEnv loads .env files into the process environment. Missing files are ignored.
func LoadEnv(files ...string) {
	_ = godotenv.Load(files...)
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := defaultConfig()
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, err
	}
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyConfigDefaults(cfg)
	applyEnvOverrides(cfg)
	return cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/intellichat/config.yaml.
// If neither exists, defaults are returned without touching the filesystem.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg, "", nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate reports every invalid setting at once.
func (c *AppConfig) Validate() error {
	var errs []error
	switch c.Embedder.Type {
	case "hashing":
		if c.Embedder.Dimension <= 0 {
			errs = append(errs, errors.New("embedder.dimension must be positive"))
		}
	case "openai":
		if c.Embedder.OpenAI == nil {
			errs = append(errs, errors.New("embedder.openai config missing"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown embedder: %s", c.Embedder.Type))
	}
	switch c.Index.Backend {
	case "file":
		if c.Index.Path == "" {
			errs = append(errs, errors.New("index.path is required for the file backend"))
		}
	case "sqlite":
		if c.Index.SQLitePath == "" {
			errs = append(errs, errors.New("index.sqlite_path is required for the sqlite backend"))
		}
	case "qdrant":
		if c.Index.Qdrant == nil || c.Index.Qdrant.URL == "" {
			errs = append(errs, errors.New("index.qdrant.url is required for the qdrant backend"))
		}
	case "milvus":
		if c.Index.Milvus == nil || c.Index.Milvus.Address == "" {
			errs = append(errs, errors.New("index.milvus.address is required for the milvus backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown index backend: %s", c.Index.Backend))
	}
	if c.Retrieval.TopK <= 0 {
		errs = append(errs, errors.New("retrieval.top_k must be positive"))
	}
	if t := c.Generation.OpenAI.Temperature; t < 0 || t > 2 {
		errs = append(errs, errors.New("generation.openai.temperature must be within [0, 2]"))
	}
	return errors.Join(errs...)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "intellichat", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Log:       logger.Options{Level: "info", Format: "console"},
		Corpus:    CorpusConfig{Dir: filepath.Join("database", "sample_data")},
		Embedder:  EmbedderConfig{Type: "hashing", Dimension: 384},
		Index:     IndexConfig{Backend: "file", Path: filepath.Join("data", "faiss_index")},
		Retrieval: RetrievalConfig{TopK: 3},
		Generation: GenerationConfig{
			UseLocalLLM: true,
			TimeoutSecs: 30,
			OpenAI: OpenAIChatConfig{
				BaseURL:     "https://api.openai.com/v1",
				APIKeyEnv:   "OPENAI_API_KEY",
				Model:       "gpt-3.5-turbo",
				MaxTokens:   500,
				Temperature: 0.3,
				MaxRetries:  1,
			},
		},
		Redis:  RedisConfig{Addr: "localhost:6379"},
		Server: ServerConfig{Addr: ":5000", RequestTimeoutSecs: 60, ShutdownTimeoutSecs: 10},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "hashing"
	}
	if cfg.Embedder.Type == "hashing" && cfg.Embedder.Dimension == 0 {
		cfg.Embedder.Dimension = 384
	}
	if cfg.Embedder.Type == "openai" && cfg.Embedder.OpenAI != nil {
		if cfg.Embedder.OpenAI.BaseURL == "" {
			cfg.Embedder.OpenAI.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Embedder.OpenAI.APIKeyEnv == "" {
			cfg.Embedder.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.Embedder.OpenAI.Model == "" {
			cfg.Embedder.OpenAI.Model = "text-embedding-3-small"
		}
		if cfg.Embedder.OpenAI.TimeoutSecs == 0 {
			cfg.Embedder.OpenAI.TimeoutSecs = 30
		}
		if cfg.Embedder.OpenAI.BatchSize == 0 {
			cfg.Embedder.OpenAI.BatchSize = 32
		}
		if cfg.Embedder.OpenAI.MaxRetries == 0 {
			cfg.Embedder.OpenAI.MaxRetries = 5
		}
	}
	if cfg.Embedder.Cache.TTLSecs == 0 {
		cfg.Embedder.Cache.TTLSecs = 24 * 60 * 60
	}
	if cfg.Embedder.Cache.KeyPrefix == "" {
		cfg.Embedder.Cache.KeyPrefix = "intellichat:emb:"
	}
	if cfg.Index.Backend == "" {
		cfg.Index.Backend = "file"
	}
	if cfg.Index.SQLitePath == "" {
		cfg.Index.SQLitePath = filepath.Join("data", "index.sqlite")
	}
	if q := cfg.Index.Qdrant; q != nil {
		if q.Collection == "" {
			q.Collection = "intellichat"
		}
		if q.TimeoutSecs == 0 {
			q.TimeoutSecs = 15
		}
	}
	if m := cfg.Index.Milvus; m != nil {
		if m.Collection == "" {
			m.Collection = "intellichat"
		}
		if m.TimeoutSecs == 0 {
			m.TimeoutSecs = 30
		}
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 3
	}
	if cfg.Generation.TimeoutSecs == 0 {
		cfg.Generation.TimeoutSecs = 30
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":5000"
	}
}

func applyEnvOverrides(cfg *AppConfig) {
	if v, ok := os.LookupEnv("USE_LOCAL_LLM"); ok {
		cfg.Generation.UseLocalLLM = strings.EqualFold(strings.TrimSpace(v), "true")
	}
	if v := os.Getenv("INTELLICHAT_INDEX_PATH"); v != "" {
		cfg.Index.Path = v
	}
	if v := os.Getenv("INTELLICHAT_CORPUS_DIR"); v != "" {
		cfg.Corpus.Dir = v
	}
	if v := os.Getenv("INTELLICHAT_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("INTELLICHAT_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = db
		}
	}
}
