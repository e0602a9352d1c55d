// Package vectorindex defines the squared-L2 vector index used for retrieval
// and the backends that create, persist and reload it.
package vectorindex

import (
	"context"
	"errors"
	"fmt"

	"intellichat/internal/domain"
)

var (
	// ErrEmptyCorpus is returned by Build when there is nothing to index.
	ErrEmptyCorpus = errors.New("vectorindex: empty corpus")
	// ErrNotPersisted is returned by Backend.Load when no index is stored.
	ErrNotPersisted = errors.New("vectorindex: no persisted index")
	// ErrDimensionMismatch is returned when a vector's width differs from the index's.
	ErrDimensionMismatch = errors.New("vectorindex: dimension mismatch")
)

// Index stores vectors under consecutive ids starting at 0 in insertion order
// and answers exact or approximate nearest-neighbour queries by squared L2
// distance.
type Index interface {
	Dimension() int
	Len() int
	// Add appends vectors; the first gets id Len().
	Add(ctx context.Context, vectors [][]float32) error
	// Search returns up to k ids and their distances in ascending distance
	// order. Ties are broken by lower id.
	Search(ctx context.Context, query []float32, k int) (ids []int, distances []float64, err error)
}

// Backend creates indexes and moves them to and from durable storage.
type Backend interface {
	Name() string
	Create(ctx context.Context, dimension int) (Index, error)
	// Persist writes idx, replacing anything stored before.
	Persist(ctx context.Context, idx Index) error
	// Load returns ErrNotPersisted when nothing has been stored yet.
	Load(ctx context.Context) (Index, error)
	Close() error
}

// Build encodes every text in one batch and adds the vectors in order to a
// fresh index from backend. The index dimension is taken from the first vector.
func Build(ctx context.Context, backend Backend, emb domain.Embedder, texts []string) (Index, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyCorpus
	}
	vecs, err := emb.Encode(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("encode corpus: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("encode corpus: got %d vectors for %d texts", len(vecs), len(texts))
	}
	idx, err := backend.Create(ctx, len(vecs[0]))
	if err != nil {
		return nil, fmt.Errorf("create %s index: %w", backend.Name(), err)
	}
	if err := idx.Add(ctx, vecs); err != nil {
		return nil, fmt.Errorf("add vectors: %w", err)
	}
	return idx, nil
}

// CheckDimensions verifies that every vector has width dim.
func CheckDimensions(dim int, vectors [][]float32) error {
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("%w: vector %d has %d, want %d", ErrDimensionMismatch, i, len(v), dim)
		}
	}
	return nil
}

// SquaredL2 returns the squared Euclidean distance between a and b.
func SquaredL2(a, b []float32) float64 {
	var s float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		s += d * d
	}
	return s
}
