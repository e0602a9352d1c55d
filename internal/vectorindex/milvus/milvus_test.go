package milvus

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intellichat/internal/vectorindex"
)

// Requires a running Milvus, e.g. MILVUS_ADDRESS=localhost:19530.
func TestMilvusRoundTrip(t *testing.T) {
	addr := os.Getenv("MILVUS_ADDRESS")
	if addr == "" {
		t.Skip("MILVUS_ADDRESS not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	b, err := New(ctx, Config{Address: addr, Collection: "intellichat_test"})
	require.NoError(t, err)
	defer b.Close()

	idx, err := b.Create(ctx, 2)
	require.NoError(t, err)
	require.NoError(t, idx.Add(ctx, [][]float32{{0, 0}, {1, 0}, {0, 3}}))
	require.NoError(t, b.Persist(ctx, idx))

	ids, dists, err := idx.Search(ctx, []float32{1, 0.1}, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0}, ids)
	assert.InDelta(t, 0.01, dists[0], 1e-4)

	loaded, err := b.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Len())
	assert.Equal(t, 2, loaded.Dimension())
}

func TestSearchRejectsWrongDimension(t *testing.T) {
	x := &Index{dimension: 3}
	_, _, err := x.Search(context.Background(), []float32{1}, 1)
	assert.ErrorIs(t, err, vectorindex.ErrDimensionMismatch)

	ids, dists, err := x.Search(context.Background(), []float32{1, 2, 3}, 0)
	require.NoError(t, err)
	assert.Nil(t, ids)
	assert.Nil(t, dists)
}
