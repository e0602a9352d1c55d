package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"intellichat/internal/config"
	"intellichat/internal/corpus"
	"intellichat/internal/embedding"
	"intellichat/internal/generation"
	"intellichat/internal/generation/openai"
	"intellichat/internal/logger"
	"intellichat/internal/metrics"
	"intellichat/internal/retriever"
	"intellichat/internal/service"
	"intellichat/internal/vectorindex"
	"intellichat/internal/vectorindex/flat"
	"intellichat/internal/vectorindex/milvus"
	"intellichat/internal/vectorindex/qdrant"
	"intellichat/internal/vectorindex/sqlite"
)

// app holds the assembled components of one process.
type app struct {
	cfg      *config.AppConfig
	log      *zap.SugaredLogger
	metrics  *metrics.Metrics
	pipeline *service.Pipeline
	closers  []func() error
}

// newApp wires every component from cfg. The index is not touched until the
// first query or an explicit warm-up.
func newApp(ctx context.Context, cfg *config.AppConfig, root *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, log: logger.Component(root, "app"), metrics: metrics.New("intellichat")}

	store, err := corpus.Load(ctx, cfg.Corpus.Dir, logger.Component(root, "corpus"))
	if err != nil {
		return nil, fmt.Errorf("load corpus: %w", err)
	}

	var rdb redis.Cmdable
	if cfg.Embedder.Cache.Enabled {
		rdb = a.openRedis(ctx)
	}
	emb, err := embedding.Load(ctx, cfg.Embedder, rdb, logger.Component(root, "embedding"))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load embedder: %w", err)
	}

	backend, err := openBackend(ctx, cfg.Index)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open %s index backend: %w", cfg.Index.Backend, err)
	}
	a.closers = append(a.closers, backend.Close)

	r := retriever.New(store, emb, backend,
		retriever.WithTopK(cfg.Retrieval.TopK),
		retriever.WithLogger(logger.Component(root, "retriever")),
		retriever.WithMetrics(a.metrics),
	)
	composer := generation.NewComposer(generation.Options{
		Generator:   a.newGenerator(cfg.Generation),
		UseLocalLLM: cfg.Generation.UseLocalLLM,
		Timeout:     time.Duration(cfg.Generation.TimeoutSecs) * time.Second,
		Logger:      logger.Component(root, "generation"),
		Metrics:     a.metrics,
	})
	a.log.Infow("answer strategy selected", "remote", composer.Remote())

	a.pipeline = service.NewPipeline(store, r, composer, service.Options{
		TopK:    cfg.Retrieval.TopK,
		Logger:  logger.Component(root, "pipeline"),
		Metrics: a.metrics,
	})
	return a, nil
}

// openRedis returns nil when redis is unreachable; the embedder then runs
// without a cache.
func (a *app) openRedis(ctx context.Context) redis.Cmdable {
	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		a.log.Warnw("redis unavailable, embedding cache disabled", "addr", a.cfg.Redis.Addr, "error", err)
		_ = client.Close()
		return nil
	}
	a.closers = append(a.closers, client.Close)
	return client
}

// newGenerator returns nil when the local strategy is configured or no API
// key is available.
func (a *app) newGenerator(cfg config.GenerationConfig) generation.Generator {
	if cfg.UseLocalLLM {
		return nil
	}
	client, err := openai.NewClient(openai.Config{
		BaseURL:     cfg.OpenAI.BaseURL,
		APIKeyEnv:   cfg.OpenAI.APIKeyEnv,
		Model:       cfg.OpenAI.Model,
		MaxTokens:   cfg.OpenAI.MaxTokens,
		Temperature: cfg.OpenAI.Temperature,
		MaxRetries:  cfg.OpenAI.MaxRetries,
	})
	if err != nil {
		a.log.Warnw("remote generation unavailable, using local answers", "error", err)
		return nil
	}
	return client
}

func openBackend(ctx context.Context, cfg config.IndexConfig) (vectorindex.Backend, error) {
	switch cfg.Backend {
	case "", "file":
		return flat.NewFileBackend(cfg.Path), nil
	case "sqlite":
		b, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "qdrant":
		if cfg.Qdrant == nil {
			return nil, errors.New("qdrant config missing")
		}
		return qdrant.NewBackend(qdrant.Config{
			URL:        cfg.Qdrant.URL,
			APIKey:     cfg.Qdrant.APIKey,
			Collection: cfg.Qdrant.Collection,
			Timeout:    time.Duration(cfg.Qdrant.TimeoutSecs) * time.Second,
		}), nil
	case "milvus":
		if cfg.Milvus == nil {
			return nil, errors.New("milvus config missing")
		}
		b, err := milvus.New(ctx, milvus.Config{
			Address:    cfg.Milvus.Address,
			Username:   cfg.Milvus.Username,
			Password:   cfg.Milvus.Password,
			Database:   cfg.Milvus.Database,
			Collection: cfg.Milvus.Collection,
			Timeout:    time.Duration(cfg.Milvus.TimeoutSecs) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown index backend: %s", cfg.Backend)
	}
}

// Close releases backend and redis connections.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warnw("close failed", "error", err)
		}
	}
	a.closers = nil
}
