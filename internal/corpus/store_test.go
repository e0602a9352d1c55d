package corpus

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"intellichat/internal/domain"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestRender(t *testing.T) {
	tests := []struct {
		name string
		r    renderer
		want string
	}{
		{
			name: "attendance",
			r:    AttendanceRecord{StudentName: "John Doe", Status: "Present", Date: "2024-01-15", Hours: "8"},
			want: "Attendance: Student John Doe was Present on 2024-01-15 for 8 hours",
		},
		{
			name: "attendance fractional hours",
			r:    AttendanceRecord{StudentName: "Ann", Status: "Late", Date: "2024-01-16", Hours: "7.5"},
			want: "Attendance: Student Ann was Late on 2024-01-16 for 7.5 hours",
		},
		{
			name: "summary",
			r:    SummaryRecord{Title: "Q3 Review", Content: "Revenue up 15%"},
			want: "Summary: Q3 Review - Revenue up 15%",
		},
		{
			name: "analytics",
			r:    AnalyticsRecord{Metric: "User Engagement", Value: "78%", Insights: "up 15%"},
			want: "Analytics: User Engagement is 78% - up 15%",
		},
		{
			name: "research",
			r:    ResearchRecord{Title: "Blockchain in Supply Chain", Authors: []string{"Prof. Wilson", "Dr. Brown"}, Abstract: "Transparency..."},
			want: "Research: Blockchain in Supply Chain by Prof. Wilson, Dr. Brown - Transparency...",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.r.Render())
		})
	}
}

func TestLoadOrderAndMetadata(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "research.json", `[{"title":"R1","authors":["A"],"abstract":"x"}]`)
	writeFile(t, dir, "attendance.json", `[
		{"student_name":"John Doe","date":"2024-01-15","status":"Present","hours":8},
		{"student_name":"John Doe","date":"2024-01-16","status":"Absent","hours":0}
	]`)
	writeFile(t, dir, "analytics.json", `[{"metric":"Churn","value":3.5,"insights":"stable"}]`)
	writeFile(t, dir, "summaries.json", `[{"title":"S1","content":"c"}]`)

	store, err := Load(context.Background(), dir, nil)
	require.NoError(t, err)
	require.Equal(t, 5, store.Len())

	want := []domain.Category{
		domain.CategoryAttendance, domain.CategoryAttendance,
		domain.CategorySummary, domain.CategoryAnalytics, domain.CategoryResearch,
	}
	for i, c := range want {
		doc, ok := store.Get(i)
		require.True(t, ok)
		assert.Equal(t, c, doc.Metadata.Type, "doc %d", i)
	}
	first, _ := store.Get(0)
	assert.Equal(t, "attendance.json", first.Metadata.Source)
	assert.Equal(t, "Attendance: Student John Doe was Absent on 2024-01-16 for 0 hours", store.Texts()[1])
	assert.Equal(t, "Analytics: Churn is 3.5 - stable", store.Texts()[3])

	_, ok := store.Get(5)
	assert.False(t, ok)
	_, ok = store.Get(-1)
	assert.False(t, ok)
}

func TestLoadSkipsMissingAndMalformed(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "summaries.json", `[{"title":"S1","content":"c"}]`)
	writeFile(t, dir, "analytics.json", `{not json`)

	core, logs := observer.New(zap.WarnLevel)
	store, err := Load(context.Background(), dir, zap.New(core).Sugar())
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())
	// attendance and research missing, analytics malformed
	assert.Equal(t, 3, logs.Len())
	assert.Equal(t, 1, logs.FilterMessage("corpus file unreadable, skipping").Len())
}

func TestLoadAcceptsMixedScalarTypes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "attendance.json", `[
		{"student_id": 1, "student_name": "John Doe", "date": "2024-01-15", "status": "Present", "hours": 8},
		{"student_id": "S002", "student_name": "Ann", "date": "2024-01-16", "status": "Late", "hours": "7.5"}
	]`)

	store, err := Load(context.Background(), dir, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Attendance: Student John Doe was Present on 2024-01-15 for 8 hours",
		"Attendance: Student Ann was Late on 2024-01-16 for 7.5 hours",
	}, store.Texts())
}

func TestScalarMarshal(t *testing.T) {
	data, err := json.Marshal(AttendanceRecord{StudentID: "S001", Hours: "8"})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"student_id":"S001"`)
	assert.Contains(t, string(data), `"hours":8`)

	data, err = json.Marshal(AnalyticsRecord{Value: "$45.20"})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"value":"$45.20"`)
}

func TestLoadEmptyDir(t *testing.T) {
	store, err := Load(context.Background(), filepath.Join(t.TempDir(), "absent"), nil)
	require.NoError(t, err)
	assert.Zero(t, store.Len())
	assert.Empty(t, store.Texts())
}

func TestSeedThenLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sample_data")
	assert.False(t, Seeded(dir))
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	require.NoError(t, Seed(dir, now))
	assert.True(t, Seeded(dir))

	store, err := Load(context.Background(), dir, nil)
	require.NoError(t, err)
	assert.Equal(t, SampleDays+6, store.Len())

	counts := store.CountByCategory()
	assert.Equal(t, SampleDays, counts[domain.CategoryAttendance])
	assert.Equal(t, 2, counts[domain.CategorySummary])
	assert.Equal(t, 2, counts[domain.CategoryAnalytics])
	assert.Equal(t, 2, counts[domain.CategoryResearch])

	texts := store.Texts()
	assert.Equal(t, "Attendance: Student John Doe was Present on 2024-03-10 for 8 hours", texts[0])
	assert.Equal(t, "Attendance: Student John Doe was Present on 2024-02-10 for 8 hours", texts[SampleDays-1])
	assert.Equal(t, "Analytics: User Engagement is 78% - 15% increase from last month due to new feature releases", texts[SampleDays+2])
	assert.Equal(t, "Research: Advanced Machine Learning Techniques by Dr. Smith, Dr. Johnson - This paper explores novel approaches to deep learning optimization...", texts[SampleDays+4])
}

func TestNewStoreCopies(t *testing.T) {
	docs := []domain.Document{{Text: "a"}}
	s := NewStore(docs)
	docs[0].Text = "b"
	got, _ := s.Get(0)
	assert.Equal(t, "a", got.Text)
}
