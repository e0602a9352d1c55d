package summarizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intellichat/internal/domain"
)

func doc(cat domain.Category, text string) domain.Document {
	return domain.Document{Text: text, Metadata: domain.Metadata{Type: cat}}
}

func TestDigestCountsAndRepresentatives(t *testing.T) {
	docs := []domain.Document{
		doc(domain.CategoryAttendance, "Attendance: Student John Doe was Present on 2024-01-15 for 8 hours"),
		doc(domain.CategoryAttendance, "Attendance: Student John Doe was Present on 2024-01-16 for 8 hours"),
		doc(domain.CategoryAttendance, "Attendance: Student John Doe was Absent on 2024-01-17 for 0 hours"),
		doc(domain.CategoryResearch, "Research: Quantum Lattice Cryptography by Zed"),
	}
	d := NewFrequencySummarizer().Digest(docs, 2)

	assert.Equal(t, 4, d.Total)
	assert.Equal(t, 3, d.Counts[domain.CategoryAttendance])
	assert.Equal(t, 1, d.Counts[domain.CategoryResearch])
	require.Len(t, d.Representative, 2)
	for _, r := range d.Representative {
		assert.Equal(t, domain.CategoryAttendance, r.Metadata.Type)
	}
	// corpus order is kept among the selected
	assert.Equal(t, docs[0].Text, d.Representative[0].Text)
}

func TestDigestEmpty(t *testing.T) {
	d := NewFrequencySummarizer().Digest(nil, 3)
	assert.Zero(t, d.Total)
	assert.Empty(t, d.Representative)
	assert.Equal(t, "0 documents (attendance=0, summary=0, analytics=0, research=0)", d.String())
}

func TestDigestString(t *testing.T) {
	docs := []domain.Document{doc(domain.CategorySummary, "Summary: Q3 review - growth")}
	got := NewFrequencySummarizer().Digest(docs, 0).String()
	assert.Equal(t, "1 documents (attendance=0, summary=1, analytics=0, research=0)\n- Summary: Q3 review - growth", got)
}
