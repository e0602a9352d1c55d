// Package qdrant keeps the vector index in a Qdrant collection over its REST API.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"intellichat/internal/vectorindex"
)

const upsertBatch = 256

// Backend is a minimal REST client to Qdrant. Collections use Euclid distance;
// point ids are document positions.
type Backend struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client
}

// Config holds connection details for a Qdrant collection.
type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

// NewBackend creates a Qdrant backend. No request is made until first use.
func NewBackend(cfg Config) *Backend {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if cfg.Collection == "" {
		cfg.Collection = "intellichat"
	}
	return &Backend{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
	}
}

// Name returns the backend identifier.
func (b *Backend) Name() string { return "qdrant" }

func (b *Backend) collectionURL() string {
	return fmt.Sprintf("%s/collections/%s", b.url, b.collection)
}

// Create drops any existing collection and creates an empty one.
func (b *Backend) Create(ctx context.Context, dimension int) (vectorindex.Index, error) {
	if dimension <= 0 {
		return nil, errors.New("invalid dimension")
	}
	if err := b.do(ctx, http.MethodDelete, b.collectionURL(), nil, nil); err != nil && !isNotFound(err) {
		return nil, err
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Euclid",
		},
	}
	if err := b.do(ctx, http.MethodPut, b.collectionURL(), body, nil); err != nil {
		return nil, err
	}
	return &Index{backend: b, dimension: dimension}, nil
}

// Persist is a no-op: points are durable once upserted with wait=true.
func (b *Backend) Persist(context.Context, vectorindex.Index) error { return nil }

// Load reopens the collection when it exists and holds points.
func (b *Backend) Load(ctx context.Context) (vectorindex.Index, error) {
	var resp struct {
		Result struct {
			PointsCount int `json:"points_count"`
			Config      struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	if err := b.do(ctx, http.MethodGet, b.collectionURL(), nil, &resp); err != nil {
		if isNotFound(err) {
			return nil, vectorindex.ErrNotPersisted
		}
		return nil, err
	}
	if resp.Result.PointsCount == 0 || resp.Result.Config.Params.Vectors.Size == 0 {
		return nil, vectorindex.ErrNotPersisted
	}
	return &Index{backend: b, dimension: resp.Result.Config.Params.Vectors.Size, count: resp.Result.PointsCount}, nil
}

// Close releases idle connections.
func (b *Backend) Close() error {
	b.client.CloseIdleConnections()
	return nil
}

// Index is a handle on a populated collection.
type Index struct {
	backend   *Backend
	dimension int
	mu        sync.Mutex
	count     int
}

// Dimension returns the vector width of the collection.
func (x *Index) Dimension() int { return x.dimension }

// Len returns the number of points added or found at load.
func (x *Index) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.count
}

// Add upserts vectors in batches with ids continuing from Len.
func (x *Index) Add(ctx context.Context, vectors [][]float32) error {
	if err := vectorindex.CheckDimensions(x.dimension, vectors); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	for start := 0; start < len(vectors); start += upsertBatch {
		end := min(start+upsertBatch, len(vectors))
		points := make([]map[string]any, 0, end-start)
		for i := start; i < end; i++ {
			pos := x.count + i
			points = append(points, map[string]any{
				"id":      pos,
				"vector":  vectors[i],
				"payload": map[string]any{"pos": pos},
			})
		}
		url := x.backend.collectionURL() + "/points?wait=true"
		if err := x.backend.do(ctx, http.MethodPut, url, map[string]any{"points": points}, nil); err != nil {
			return err
		}
	}
	x.count += len(vectors)
	return nil
}

// Search queries the collection. Qdrant reports Euclidean distances; they are
// squared before returning.
func (x *Index) Search(ctx context.Context, query []float32, k int) ([]int, []float64, error) {
	if len(query) != x.dimension {
		return nil, nil, fmt.Errorf("%w: query has %d, index has %d", vectorindex.ErrDimensionMismatch, len(query), x.dimension)
	}
	if k <= 0 {
		return nil, nil, nil
	}
	req := map[string]any{
		"vector":       query,
		"limit":        k,
		"with_payload": false,
	}
	var resp struct {
		Result []struct {
			ID    uint64  `json:"id"`
			Score float64 `json:"score"`
		} `json:"result"`
	}
	if err := x.backend.do(ctx, http.MethodPost, x.backend.collectionURL()+"/points/search", req, &resp); err != nil {
		return nil, nil, err
	}
	hits := resp.Result
	sort.SliceStable(hits, func(a, b int) bool {
		if hits[a].Score != hits[b].Score {
			return hits[a].Score < hits[b].Score
		}
		return hits[a].ID < hits[b].ID
	})
	ids := make([]int, len(hits))
	dists := make([]float64, len(hits))
	for i, h := range hits {
		ids[i] = int(h.ID)
		dists[i] = h.Score * h.Score
	}
	return ids, dists, nil
}

type statusError struct {
	method, url string
	code        int
	status      string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("qdrant %s %s failed: %s", e.method, e.url, e.status)
}

func isNotFound(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.code == http.StatusNotFound
}

func (b *Backend) do(ctx context.Context, method, url string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	var req *http.Request
	var err error
	if reader != nil {
		req, err = http.NewRequestWithContext(ctx, method, url, reader)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, url, nil)
	}
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("api-key", b.apiKey)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &statusError{method: method, url: url, code: resp.StatusCode, status: resp.Status}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
