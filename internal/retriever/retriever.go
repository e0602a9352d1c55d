// Package retriever owns the lazily built vector index and turns queries into
// ranked documents.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"intellichat/internal/corpus"
	"intellichat/internal/domain"
	"intellichat/internal/metrics"
	"intellichat/internal/vectorindex"
)

// DefaultTopK is used when Search is called with k <= 0.
const DefaultTopK = 3

// State is the lifecycle state of a Retriever.
type State int

const (
	// Unbuilt means no index is available yet.
	Unbuilt State = iota
	// Ready means searches run against a populated index.
	Ready
)

func (s State) String() string {
	if s == Ready {
		return "ready"
	}
	return "unbuilt"
}

// Retriever searches the document store through the vector index. The index
// is loaded or built on first use and never unloaded.
type Retriever struct {
	store    *corpus.Store
	embedder domain.Embedder
	backend  vectorindex.Backend
	topK     int
	log      *zap.SugaredLogger
	metrics  *metrics.Metrics

	mu    sync.Mutex
	state State
	index vectorindex.Index
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithTopK sets the default result count.
func WithTopK(k int) Option {
	return func(r *Retriever) {
		if k > 0 {
			r.topK = k
		}
	}
}

// WithLogger sets the component logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(r *Retriever) {
		if log != nil {
			r.log = log
		}
	}
}

// WithMetrics records build and failure metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Retriever) { r.metrics = m }
}

// New returns an Unbuilt retriever.
func New(store *corpus.Store, emb domain.Embedder, backend vectorindex.Backend, opts ...Option) *Retriever {
	r := &Retriever{
		store:    store,
		embedder: emb,
		backend:  backend,
		topK:     DefaultTopK,
		log:      zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// State reports the current lifecycle state.
func (r *Retriever) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// EnsureReady moves the retriever to Ready: it loads the persisted index or,
// when none is usable, builds one from the store and persists it. Concurrent
// callers wait for a single attempt. An empty store keeps the retriever
// Unbuilt and returns vectorindex.ErrEmptyCorpus.
func (r *Retriever) EnsureReady(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == Ready {
		return nil
	}
	if r.store.Len() == 0 {
		return vectorindex.ErrEmptyCorpus
	}

	idx, err := r.backend.Load(ctx)
	switch {
	case err == nil:
		if idx.Len() == r.store.Len() && idx.Dimension() == r.embedder.Dimension() {
			r.log.Infow("index loaded", "backend", r.backend.Name(), "documents", idx.Len())
			r.ready(idx)
			return nil
		}
		r.log.Errorw("persisted index does not match corpus, rebuilding",
			"backend", r.backend.Name(),
			"index_len", idx.Len(), "store_len", r.store.Len(),
			"index_dim", idx.Dimension(), "embedder_dim", r.embedder.Dimension())
	case errors.Is(err, vectorindex.ErrNotPersisted):
		r.log.Infow("no persisted index, building", "backend", r.backend.Name())
	default:
		r.log.Warnw("failed to load persisted index, rebuilding", "backend", r.backend.Name(), "error", err)
	}

	return r.build(ctx)
}

// Rebuild discards any loaded index, embeds the whole store again and
// persists the result.
func (r *Retriever) Rebuild(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.store.Len() == 0 {
		return vectorindex.ErrEmptyCorpus
	}
	return r.build(ctx)
}

// build must be called with mu held.
func (r *Retriever) build(ctx context.Context) error {
	start := time.Now()
	idx, err := vectorindex.Build(ctx, r.backend, r.embedder, r.store.Texts())
	if err != nil {
		return fmt.Errorf("build index: %w", err)
	}
	r.metrics.IndexBuilt(time.Since(start))
	r.log.Infow("index built", "backend", r.backend.Name(), "documents", idx.Len(), "took", time.Since(start))

	if err := r.backend.Persist(ctx, idx); err != nil {
		r.log.Warnw("failed to persist index, keeping it in memory", "backend", r.backend.Name(), "error", err)
	}
	r.ready(idx)
	return nil
}

func (r *Retriever) ready(idx vectorindex.Index) {
	r.index = idx
	r.state = Ready
	r.metrics.IndexReady(idx.Len())
}

// Search returns up to k documents ordered by ascending squared L2 distance.
// Every failure degrades to an empty result.
func (r *Retriever) Search(ctx context.Context, query string, k int) []domain.SearchResult {
	if k <= 0 {
		k = r.topK
	}
	if err := r.EnsureReady(ctx); err != nil {
		if errors.Is(err, vectorindex.ErrEmptyCorpus) {
			r.log.Debugw("corpus is empty, nothing to search")
		} else {
			r.log.Errorw("index unavailable", "error", err)
			r.metrics.RetrievalFailed()
		}
		return nil
	}
	r.mu.Lock()
	idx := r.index
	r.mu.Unlock()

	vecs, err := r.embedder.Encode(ctx, []string{query})
	if err != nil || len(vecs) != 1 {
		r.log.Errorw("failed to encode query", "error", err)
		r.metrics.RetrievalFailed()
		return nil
	}
	ids, dists, err := idx.Search(ctx, vecs[0], k)
	if err != nil {
		r.log.Errorw("index search failed", "error", err)
		r.metrics.RetrievalFailed()
		return nil
	}

	results := make([]domain.SearchResult, 0, len(ids))
	for i, id := range ids {
		doc, ok := r.store.Get(id)
		if !ok {
			continue
		}
		results = append(results, domain.SearchResult{Document: doc, Score: dists[i]})
	}
	return results
}
