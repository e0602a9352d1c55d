package domain

import "context"

// Category tags a document with the corpus collection it was rendered from.
type Category string

const (
	CategoryAttendance Category = "attendance"
	CategorySummary    Category = "summary"
	CategoryAnalytics  Category = "analytics"
	CategoryResearch   Category = "research"
)

// Categories lists every category in corpus order.
var Categories = []Category{CategoryAttendance, CategorySummary, CategoryAnalytics, CategoryResearch}

// Metadata describes where a document came from.
type Metadata struct {
	Type   Category `json:"type"`
	Source string   `json:"source"`
}

// Document is a single rendered corpus record. Its identity is its position
// in the document store.
type Document struct {
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`
}

// SearchResult is a retrieved document with its squared L2 distance to the
// query. Lower scores are more similar.
type SearchResult struct {
	Document Document `json:"document"`
	Score    float64  `json:"score"`
}

// Embedder converts free text into fixed-dimension vectors.
type Embedder interface {
	Name() string
	Dimension() int
	Encode(ctx context.Context, texts []string) ([][]float32, error)
}

// Retriever turns a query into ranked search results.
type Retriever interface {
	Search(ctx context.Context, query string, k int) []SearchResult
}

// Composer turns retrieved context into an answer.
type Composer interface {
	Compose(ctx context.Context, query string, results []SearchResult) string
}
