// Package embedding selects, probes and optionally caches the text embedder.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"intellichat/internal/config"
	"intellichat/internal/domain"
	"intellichat/internal/embedding/hashing"
	"intellichat/internal/embedding/openai"
)

const probeText = "dimension probe"

// New builds the embedder named by cfg.Type without contacting any model.
func New(cfg config.EmbedderConfig) (domain.Embedder, error) {
	switch cfg.Type {
	case "", "hashing":
		dim := cfg.Dimension
		if dim == 0 {
			dim = hashing.DefaultDimension
		}
		emb, err := hashing.NewEmbedder(dim)
		if err != nil {
			return nil, err
		}
		return emb, nil
	case "openai":
		if cfg.OpenAI == nil {
			return nil, errors.New("openai embedder config missing")
		}
		client, err := openai.NewClient(openai.Config{
			BaseURL:    cfg.OpenAI.BaseURL,
			APIKeyEnv:  cfg.OpenAI.APIKeyEnv,
			Model:      cfg.OpenAI.Model,
			Timeout:    time.Duration(cfg.OpenAI.TimeoutSecs) * time.Second,
			BatchSize:  cfg.OpenAI.BatchSize,
			MaxRetries: cfg.OpenAI.MaxRetries,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Type)
	}
}

// Load builds the configured embedder, wraps it with the redis cache when
// enabled and probes it once so that Dimension is fixed before first use.
// rdb may be nil when caching is disabled.
func Load(ctx context.Context, cfg config.EmbedderConfig, rdb redis.Cmdable, log *zap.SugaredLogger) (domain.Embedder, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	emb, err := New(cfg)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	if cfg.Cache.Enabled && rdb != nil {
		emb = NewCached(emb, rdb, CacheOptions{
			TTL:       time.Duration(cfg.Cache.TTLSecs) * time.Second,
			KeyPrefix: cfg.Cache.KeyPrefix,
		}, log)
	}
	dim, err := Probe(ctx, emb)
	if err != nil {
		return nil, err
	}
	log.Infow("embedder loaded", "name", emb.Name(), "dimension", dim)
	return emb, nil
}

// Probe encodes a fixed text and returns the vector width.
func Probe(ctx context.Context, emb domain.Embedder) (int, error) {
	vecs, err := emb.Encode(ctx, []string{probeText})
	if err != nil {
		return 0, fmt.Errorf("probe embedder %s: %w", emb.Name(), err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return 0, fmt.Errorf("probe embedder %s: empty vector", emb.Name())
	}
	if d := emb.Dimension(); d != 0 && d != len(vecs[0]) {
		return 0, fmt.Errorf("probe embedder %s: reported dimension %d, got %d", emb.Name(), d, len(vecs[0]))
	}
	return len(vecs[0]), nil
}
