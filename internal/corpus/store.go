// Package corpus loads the category JSON files into an ordered, immutable
// document store.
package corpus

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"intellichat/internal/domain"
)

// Store is the ordered document collection. A document's position is its id
// in the vector index.
type Store struct {
	docs []domain.Document
}

// NewStore wraps docs. The slice is copied.
func NewStore(docs []domain.Document) *Store {
	return &Store{docs: append([]domain.Document(nil), docs...)}
}

// Len returns the number of documents.
func (s *Store) Len() int { return len(s.docs) }

// Get returns the document at position id.
func (s *Store) Get(id int) (domain.Document, bool) {
	if id < 0 || id >= len(s.docs) {
		return domain.Document{}, false
	}
	return s.docs[id], true
}

// Documents returns a copy of all documents in id order.
func (s *Store) Documents() []domain.Document {
	return append([]domain.Document(nil), s.docs...)
}

// Texts returns the rendered text of every document in id order.
func (s *Store) Texts() []string {
	texts := make([]string, len(s.docs))
	for i, d := range s.docs {
		texts[i] = d.Text
	}
	return texts
}

// CountByCategory returns the number of documents per category.
func (s *Store) CountByCategory() map[domain.Category]int {
	counts := make(map[domain.Category]int, len(domain.Categories))
	for _, d := range s.docs {
		counts[d.Metadata.Type]++
	}
	return counts
}

// Load reads every category file in dir. Files are read concurrently but
// documents are always ordered attendance, summaries, analytics, research.
// Missing or malformed files are logged and skipped; the result may be empty.
func Load(ctx context.Context, dir string, log *zap.SugaredLogger) (*Store, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	parts := make([][]domain.Document, len(sources))
	g, ctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			docs, err := loadSource(dir, src)
			switch {
			case errors.Is(err, fs.ErrNotExist):
				log.Warnw("corpus file missing, skipping", "category", src.category, "file", src.file)
			case err != nil:
				log.Warnw("corpus file unreadable, skipping", "category", src.category, "file", src.file, "error", err)
			default:
				parts[i] = docs
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var docs []domain.Document
	for _, p := range parts {
		docs = append(docs, p...)
	}
	store := &Store{docs: docs}
	log.Infow("corpus loaded", "dir", dir, "documents", store.Len(), "by_category", store.CountByCategory())
	return store, nil
}

func loadSource(dir string, src source) ([]domain.Document, error) {
	data, err := os.ReadFile(filepath.Join(dir, src.file))
	if err != nil {
		return nil, err
	}
	texts, err := src.decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", src.file, err)
	}
	docs := make([]domain.Document, len(texts))
	for i, t := range texts {
		docs[i] = domain.Document{
			Text:     t,
			Metadata: domain.Metadata{Type: src.category, Source: src.file},
		}
	}
	return docs, nil
}
