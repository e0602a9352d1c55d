package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intellichat/internal/vectorindex"
)

func TestPersistLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db", "index.sqlite")
	b, err := Open(path)
	require.NoError(t, err)

	_, err = b.Load(ctx)
	assert.ErrorIs(t, err, vectorindex.ErrNotPersisted)

	idx, err := b.Create(ctx, 3)
	require.NoError(t, err)
	require.NoError(t, idx.Add(ctx, [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}, {1, 1, 0}}))
	require.NoError(t, b.Persist(ctx, idx))
	require.NoError(t, b.Close())

	// fresh process
	b2, err := Open(path)
	require.NoError(t, err)
	defer b2.Close()
	loaded, err := b2.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, loaded.Len())
	assert.Equal(t, 3, loaded.Dimension())

	q := []float32{0.9, 0.8, 0}
	wantIDs, wantDists, err := idx.Search(ctx, q, 2)
	require.NoError(t, err)
	gotIDs, gotDists, err := loaded.Search(ctx, q, 2)
	require.NoError(t, err)
	assert.Equal(t, wantIDs, gotIDs)
	assert.Equal(t, wantDists, gotDists)
	assert.Equal(t, 3, gotIDs[0])
}

func TestPersistOverwrites(t *testing.T) {
	ctx := context.Background()
	b, err := Open(":memory:")
	require.NoError(t, err)
	defer b.Close()

	first, err := b.Create(ctx, 2)
	require.NoError(t, err)
	require.NoError(t, first.Add(ctx, [][]float32{{1, 1}, {2, 2}, {3, 3}}))
	require.NoError(t, b.Persist(ctx, first))

	second, err := b.Create(ctx, 4)
	require.NoError(t, err)
	require.NoError(t, second.Add(ctx, [][]float32{{1, 2, 3, 4}}))
	require.NoError(t, b.Persist(ctx, second))

	loaded, err := b.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Len())
	assert.Equal(t, 4, loaded.Dimension())
}
