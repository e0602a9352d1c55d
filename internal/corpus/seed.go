package corpus

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SampleDays is the number of attendance days written by Seed.
const SampleDays = 30

// Sample holds the records written by Seed.
type Sample struct {
	Attendance []AttendanceRecord
	Summaries  []SummaryRecord
	Analytics  []AnalyticsRecord
	Research   []ResearchRecord
}

// NewSample builds the demo dataset with dates relative to now.
func NewSample(now time.Time) Sample {
	attendance := make([]AttendanceRecord, SampleDays)
	for i := range attendance {
		attendance[i] = AttendanceRecord{
			StudentID:   "S001",
			StudentName: "John Doe",
			Date:        now.AddDate(0, 0, -i).Format(time.DateOnly),
			Status:      "Present",
			Hours:       "8",
		}
	}
	return Sample{
		Attendance: attendance,
		Summaries: []SummaryRecord{
			{
				Title:     "Quarterly Business Review",
				Content:   "The company showed strong growth in Q3 with a 15% increase in revenue and 20% growth in user base.",
				Category:  "Business",
				CreatedAt: now.Format(time.DateOnly),
			},
			{
				Title:     "Team Performance Analysis",
				Content:   "Development team achieved 95% of sprint goals with improved code quality metrics.",
				Category:  "Performance",
				CreatedAt: now.AddDate(0, 0, -7).Format(time.DateOnly),
			},
		},
		Analytics: []AnalyticsRecord{
			{Metric: "User Engagement", Value: "78%", Trend: "up", Insights: "15% increase from last month due to new feature releases"},
			{Metric: "Customer Acquisition Cost", Value: "$45.20", Trend: "down", Insights: "Improved marketing efficiency reduced CAC by 8%"},
		},
		Research: []ResearchRecord{
			{
				Title:         "Advanced Machine Learning Techniques",
				Authors:       []string{"Dr. Smith", "Dr. Johnson"},
				Abstract:      "This paper explores novel approaches to deep learning optimization...",
				Keywords:      []string{"machine learning", "deep learning", "optimization"},
				PublishedDate: "2023-10-15",
			},
			{
				Title:         "Blockchain in Supply Chain Management",
				Authors:       []string{"Prof. Wilson", "Dr. Brown"},
				Abstract:      "Research on implementing blockchain technology for transparent supply chains...",
				Keywords:      []string{"blockchain", "supply chain", "transparency"},
				PublishedDate: "2023-09-20",
			},
		},
	}
}

// Seed writes the sample dataset into dir, creating it if needed and
// overwriting existing category files.
func Seed(dir string, now time.Time) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	s := NewSample(now)
	files := []struct {
		name string
		v    any
	}{
		{"attendance.json", s.Attendance},
		{"summaries.json", s.Summaries},
		{"analytics.json", s.Analytics},
		{"research.json", s.Research},
	}
	for _, f := range files {
		data, err := json.MarshalIndent(f.v, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, f.name), data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", f.name, err)
		}
	}
	return nil
}

// Seeded reports whether dir already holds an attendance file.
func Seeded(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, "attendance.json"))
	return err == nil
}
