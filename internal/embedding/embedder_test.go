package embedding

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"intellichat/internal/config"
)

// countingEmbedder maps each text to a vector of its length and counts how
// many texts it was asked to encode.
type countingEmbedder struct {
	encoded atomic.Int32
	fail    bool
	short   bool
}

func (e *countingEmbedder) Name() string   { return "counting" }
func (e *countingEmbedder) Dimension() int { return 2 }
func (e *countingEmbedder) Encode(_ context.Context, texts []string) ([][]float32, error) {
	if e.fail {
		return nil, errors.New("model offline")
	}
	e.encoded.Add(int32(len(texts)))
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	if e.short {
		out = out[:len(out)-1]
	}
	return out, nil
}

func TestNew(t *testing.T) {
	emb, err := New(config.EmbedderConfig{Type: "hashing", Dimension: 16})
	require.NoError(t, err)
	assert.Equal(t, "hashing", emb.Name())
	assert.Equal(t, 16, emb.Dimension())

	_, err = New(config.EmbedderConfig{Type: "openai"})
	assert.Error(t, err)

	_, err = New(config.EmbedderConfig{Type: "word2vec"})
	assert.Error(t, err)
}

func TestLoadProbesDimension(t *testing.T) {
	emb, err := Load(context.Background(), config.EmbedderConfig{Type: "hashing", Dimension: 32}, nil, zap.NewNop().Sugar())
	require.NoError(t, err)
	assert.Equal(t, 32, emb.Dimension())
}

func TestProbeFailure(t *testing.T) {
	_, err := Probe(context.Background(), &countingEmbedder{fail: true})
	assert.Error(t, err)
}

func TestCachedServesHitsFromRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	inner := &countingEmbedder{}
	c := NewCached(inner, rdb, CacheOptions{KeyPrefix: "test:"}, nil)
	ctx := context.Background()

	first, err := c.Encode(ctx, []string{"one", "three"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), inner.encoded.Load())

	second, err := c.Encode(ctx, []string{"three", "fifteen", "one"})
	require.NoError(t, err)
	// only "fifteen" was new
	assert.Equal(t, int32(3), inner.encoded.Load())
	assert.Equal(t, first[1], second[0])
	assert.Equal(t, first[0], second[2])
	assert.Equal(t, []float32{7, 1}, second[1])
	assert.Len(t, mr.Keys(), 3)
}

func TestCachedBypassesRedisFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	inner := &countingEmbedder{}
	c := NewCached(inner, rdb, CacheOptions{}, nil)
	vecs, err := c.Encode(context.Background(), []string{"ab"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{2, 1}}, vecs)
}

func TestCachedDropsCorruptEntries(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	inner := &countingEmbedder{}
	c := NewCached(inner, rdb, CacheOptions{KeyPrefix: "test:"}, nil)
	require.NoError(t, mr.Set(c.key("abc"), "not json"))

	vecs, err := c.Encode(context.Background(), []string{"abc"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{3, 1}}, vecs)
	assert.Equal(t, int32(1), inner.encoded.Load())
}

func TestCachedRejectsShortBatch(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	c := NewCached(&countingEmbedder{short: true}, rdb, CacheOptions{}, nil)
	_, err := c.Encode(context.Background(), []string{"a", "bb"})
	assert.ErrorContains(t, err, "returned 1 vectors for 2 texts")
	assert.Empty(t, mr.Keys())
}
