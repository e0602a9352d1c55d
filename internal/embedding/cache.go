package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"intellichat/internal/domain"
)

// CacheOptions configures the redis embedding cache.
type CacheOptions struct {
	TTL       time.Duration
	KeyPrefix string
}

// Cached stores embeddings in redis keyed by a hash of model name and text.
// Redis failures are logged and bypassed.
type Cached struct {
	inner domain.Embedder
	rdb   redis.Cmdable
	opts  CacheOptions
	log   *zap.SugaredLogger
	dim   atomic.Int64
}

// NewCached wraps inner with a redis cache.
func NewCached(inner domain.Embedder, rdb redis.Cmdable, opts CacheOptions, log *zap.SugaredLogger) *Cached {
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "intellichat:emb:"
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Cached{inner: inner, rdb: rdb, opts: opts, log: log}
}

// Name returns the wrapped embedder name; cached vectors are identical.
func (c *Cached) Name() string { return c.inner.Name() }

// Dimension returns the wrapped embedder dimension, falling back to the width
// of the cached vectors when the wrapped embedder has not been called yet.
func (c *Cached) Dimension() int {
	if d := c.inner.Dimension(); d != 0 {
		return d
	}
	return int(c.dim.Load())
}

func (c *Cached) key(text string) string {
	hash := sha256.Sum256([]byte(c.inner.Name() + "\x00" + text))
	return c.opts.KeyPrefix + hex.EncodeToString(hash[:])
}

// Encode serves hits from redis and encodes the misses in one batch.
func (c *Cached) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return c.inner.Encode(ctx, texts)
	}
	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = c.key(t)
	}

	out := make([][]float32, len(texts))
	var missIdx []int
	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		c.log.Warnw("embedding cache read failed, bypassing", "error", err)
		vals = make([]any, len(texts))
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			missIdx = append(missIdx, i)
			continue
		}
		var vec []float32
		if err := json.Unmarshal([]byte(s), &vec); err != nil || len(vec) == 0 {
			c.log.Warnw("dropping corrupt cached embedding", "key", keys[i])
			missIdx = append(missIdx, i)
			continue
		}
		out[i] = vec
		c.dim.CompareAndSwap(0, int64(len(vec)))
	}
	if len(missIdx) == 0 {
		c.log.Debugw("all embeddings from cache", "total", len(texts))
		return out, nil
	}

	missTexts := make([]string, len(missIdx))
	for j, i := range missIdx {
		missTexts[j] = texts[i]
	}
	c.log.Debugw("embedding cache miss", "total", len(texts), "uncached", len(missIdx))
	fresh, err := c.inner.Encode(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missTexts) {
		return nil, fmt.Errorf("embedding cache: %s returned %d vectors for %d texts", c.inner.Name(), len(fresh), len(missTexts))
	}

	_, err = c.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for j, i := range missIdx {
			out[i] = fresh[j]
			data, err := json.Marshal(fresh[j])
			if err != nil {
				continue
			}
			p.Set(ctx, keys[i], data, c.opts.TTL)
		}
		return nil
	})
	if err != nil {
		c.log.Warnw("embedding cache write failed", "error", err)
	}
	return out, nil
}
