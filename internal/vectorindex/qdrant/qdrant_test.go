package qdrant

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intellichat/internal/vectorindex"
)

// fakeQdrant implements the handful of REST endpoints the backend uses for a
// single collection.
type fakeQdrant struct {
	mu     sync.Mutex
	exists bool
	size   int
	points map[uint64][]float32
}

func (f *fakeQdrant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.Header.Get("api-key") != "secret" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/collections/test")
	switch {
	case r.Method == http.MethodDelete && path == "":
		if !f.exists {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		f.exists, f.points = false, nil
	case r.Method == http.MethodPut && path == "":
		var body struct {
			Vectors struct {
				Size     int    `json:"size"`
				Distance string `json:"distance"`
			} `json:"vectors"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Vectors.Distance != "Euclid" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.exists, f.size, f.points = true, body.Vectors.Size, map[uint64][]float32{}
	case r.Method == http.MethodGet && path == "":
		if !f.exists {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{
			"points_count": len(f.points),
			"config":       map[string]any{"params": map[string]any{"vectors": map[string]any{"size": f.size}}},
		}})
		return
	case r.Method == http.MethodPut && path == "/points":
		var body struct {
			Points []struct {
				ID     uint64    `json:"id"`
				Vector []float32 `json:"vector"`
			} `json:"points"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		for _, p := range body.Points {
			f.points[p.ID] = p.Vector
		}
	case r.Method == http.MethodPost && path == "/points/search":
		var body struct {
			Vector []float32 `json:"vector"`
			Limit  int       `json:"limit"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		type hit struct {
			ID    uint64  `json:"id"`
			Score float64 `json:"score"`
		}
		hits := make([]hit, 0, len(f.points))
		for id, v := range f.points {
			hits = append(hits, hit{ID: id, Score: math.Sqrt(vectorindex.SquaredL2(body.Vector, v))})
		}
		// deliberately unordered on ties to exercise client sorting
		sort.Slice(hits, func(a, b int) bool {
			if hits[a].Score != hits[b].Score {
				return hits[a].Score < hits[b].Score
			}
			return hits[a].ID > hits[b].ID
		})
		if len(hits) > body.Limit {
			hits = hits[:body.Limit]
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"result": hits})
		return
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	_, _ = w.Write([]byte(`{"result":true,"status":"ok"}`))
}

func newBackend(t *testing.T) (*Backend, *fakeQdrant) {
	t.Helper()
	fake := &fakeQdrant{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return NewBackend(Config{URL: srv.URL, APIKey: "secret", Collection: "test"}), fake
}

func TestLoadMissingCollection(t *testing.T) {
	b, _ := newBackend(t)
	_, err := b.Load(context.Background())
	assert.ErrorIs(t, err, vectorindex.ErrNotPersisted)
}

func TestCreateAddSearchReload(t *testing.T) {
	ctx := context.Background()
	b, fake := newBackend(t)

	idx, err := b.Create(ctx, 2)
	require.NoError(t, err)

	// empty collection is not a persisted index
	_, err = b.Load(ctx)
	assert.ErrorIs(t, err, vectorindex.ErrNotPersisted)

	require.NoError(t, idx.Add(ctx, [][]float32{{0, 0}, {1, 0}, {1, 0}, {0, 3}}))
	require.NoError(t, b.Persist(ctx, idx))
	assert.Equal(t, 4, idx.Len())
	assert.Len(t, fake.points, 4)

	ids, dists, err := idx.Search(ctx, []float32{1, 1}, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 0}, ids)
	assert.InDeltaSlice(t, []float64{1, 1, 2}, dists, 1e-9)

	loaded, err := b.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, loaded.Len())
	assert.Equal(t, 2, loaded.Dimension())

	_, _, err = loaded.Search(ctx, []float32{1}, 1)
	assert.ErrorIs(t, err, vectorindex.ErrDimensionMismatch)
}

func TestCreateReplacesCollection(t *testing.T) {
	ctx := context.Background()
	b, fake := newBackend(t)
	idx, err := b.Create(ctx, 2)
	require.NoError(t, err)
	require.NoError(t, idx.Add(ctx, [][]float32{{1, 1}}))

	_, err = b.Create(ctx, 3)
	require.NoError(t, err)
	assert.Empty(t, fake.points)
	assert.Equal(t, 3, fake.size)
}

func TestAuthFailure(t *testing.T) {
	b, _ := newBackend(t)
	b.apiKey = "wrong"
	_, err := b.Create(context.Background(), 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
