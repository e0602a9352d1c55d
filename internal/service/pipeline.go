// Package service wires retrieval and response composition into the single
// query entry point used by the HTTP API, the CLI and the terminal chat.
package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"intellichat/internal/corpus"
	"intellichat/internal/domain"
	"intellichat/internal/metrics"
	"intellichat/internal/summarizer"
	"intellichat/internal/vectorindex"
)

// ErrEmptyQuery is returned by Ask for blank input.
var ErrEmptyQuery = errors.New("empty query")

// Retriever is the part of retriever.Retriever the pipeline drives.
type Retriever interface {
	domain.Retriever
	EnsureReady(ctx context.Context) error
	Rebuild(ctx context.Context) error
}

// Pipeline answers queries against the corpus.
type Pipeline struct {
	store      *corpus.Store
	retriever  Retriever
	composer   domain.Composer
	summarizer *summarizer.FrequencySummarizer
	topK       int
	log        *zap.SugaredLogger
	metrics    *metrics.Metrics
}

// Options configures a Pipeline.
type Options struct {
	TopK    int
	Logger  *zap.SugaredLogger
	Metrics *metrics.Metrics
}

// NewPipeline creates a Pipeline.
func NewPipeline(store *corpus.Store, r Retriever, c domain.Composer, opts Options) *Pipeline {
	p := &Pipeline{
		store:      store,
		retriever:  r,
		composer:   c,
		summarizer: summarizer.NewFrequencySummarizer(),
		topK:       opts.TopK,
		log:        opts.Logger,
		metrics:    opts.Metrics,
	}
	if p.log == nil {
		p.log = zap.NewNop().Sugar()
	}
	return p
}

// Query retrieves context for text and composes an answer. It always returns
// an answer; failures degrade to the local or guidance responses.
func (p *Pipeline) Query(ctx context.Context, text string) string {
	p.metrics.QueryServed()
	results := p.retriever.Search(ctx, text, p.topK)
	p.log.Debugw("retrieved context", "query", text, "results", len(results))
	return p.composer.Compose(ctx, text, results)
}

// Ask is Query for untrusted input: blank text is rejected with ErrEmptyQuery.
func (p *Pipeline) Ask(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyQuery
	}
	return p.Query(ctx, text), nil
}

// EnsureReady warms the index up. An empty corpus is not an error.
func (p *Pipeline) EnsureReady(ctx context.Context) error {
	if err := p.retriever.EnsureReady(ctx); err != nil && !errors.Is(err, vectorindex.ErrEmptyCorpus) {
		return err
	}
	return nil
}

// Rebuild re-embeds the corpus and persists a fresh index.
func (p *Pipeline) Rebuild(ctx context.Context) error {
	return p.retriever.Rebuild(ctx)
}

// Digest summarizes the loaded corpus.
func (p *Pipeline) Digest(maxDocs int) summarizer.Digest {
	return p.summarizer.Digest(p.store.Documents(), maxDocs)
}
