package summarizer

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"intellichat/internal/domain"
)

// Digest describes a corpus: how many documents each category holds and the
// documents whose vocabulary best represents the whole.
type Digest struct {
	Total          int
	Counts         map[domain.Category]int
	Representative []domain.Document
}

// FrequencySummarizer ranks documents by word frequency (stopwords filtered).
type FrequencySummarizer struct {
	tokenPattern *regexp.Regexp
	stopwords    map[string]struct{}
}

// NewFrequencySummarizer creates a frequency-based document ranker.
func NewFrequencySummarizer() *FrequencySummarizer {
	return &FrequencySummarizer{
		tokenPattern: regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`),
		stopwords:    defaultStopwords(),
	}
}

// Digest counts docs per category and picks up to maxDocs representative
// documents, kept in corpus order.
func (s *FrequencySummarizer) Digest(docs []domain.Document, maxDocs int) Digest {
	if maxDocs <= 0 {
		maxDocs = 3
	}
	d := Digest{Total: len(docs), Counts: make(map[domain.Category]int, len(domain.Categories))}
	for _, doc := range docs {
		d.Counts[doc.Metadata.Type]++
	}
	if len(docs) == 0 {
		return d
	}

	tokens := make([][]string, len(docs))
	freq := map[string]float64{}
	for i, doc := range docs {
		tokens[i] = s.contentTokens(doc.Text)
		for _, tok := range tokens[i] {
			freq[tok]++
		}
	}
	maxF := 0.0
	for _, v := range freq {
		maxF = math.Max(maxF, v)
	}
	if maxF > 0 {
		for k, v := range freq {
			freq[k] = v / maxF
		}
	}

	type pair struct {
		idx   int
		score float64
	}
	scores := make([]pair, len(docs))
	for i, toks := range tokens {
		score := 0.0
		for _, tok := range toks {
			score += freq[tok]
		}
		// normalise by length so long documents don't dominate
		if l := float64(len(toks)); l > 0 {
			score /= math.Sqrt(l)
		}
		scores[i] = pair{i, score}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	maxDocs = min(maxDocs, len(scores))

	selected := make([]int, maxDocs)
	for i := range selected {
		selected[i] = scores[i].idx
	}
	sort.Ints(selected)
	for _, idx := range selected {
		d.Representative = append(d.Representative, docs[idx])
	}
	return d
}

// CountsLine formats the per-category counts in corpus order.
func (d Digest) CountsLine() string {
	parts := make([]string, 0, len(domain.Categories))
	for _, c := range domain.Categories {
		parts = append(parts, fmt.Sprintf("%s=%d", c, d.Counts[c]))
	}
	return fmt.Sprintf("%d documents (%s)", d.Total, strings.Join(parts, ", "))
}

func (d Digest) String() string {
	var b strings.Builder
	b.WriteString(d.CountsLine())
	for _, doc := range d.Representative {
		b.WriteString("\n- ")
		b.WriteString(doc.Text)
	}
	return b.String()
}

func (s *FrequencySummarizer) contentTokens(text string) []string {
	all := s.tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := all[:0]
	for _, tok := range all {
		if _, ok := s.stopwords[tok]; ok {
			continue
		}
		out = append(out, tok)
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
