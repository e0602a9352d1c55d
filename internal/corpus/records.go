package corpus

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"intellichat/internal/domain"
)

// AttendanceRecord is one row of attendance.json.
type AttendanceRecord struct {
	StudentID   Scalar `json:"student_id"`
	StudentName string `json:"student_name"`
	Date        string `json:"date"`
	Status      string `json:"status"`
	Hours       Scalar `json:"hours"`
}

// SummaryRecord is one row of summaries.json.
type SummaryRecord struct {
	Title     string `json:"title"`
	Content   string `json:"content"`
	Category  string `json:"category,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// AnalyticsRecord is one row of analytics.json.
type AnalyticsRecord struct {
	Metric   string `json:"metric"`
	Value    Scalar `json:"value"`
	Trend    string `json:"trend,omitempty"`
	Insights string `json:"insights"`
}

// ResearchRecord is one row of research.json.
type ResearchRecord struct {
	Title         string   `json:"title"`
	Authors       []string `json:"authors"`
	Abstract      string   `json:"abstract"`
	Keywords      []string `json:"keywords,omitempty"`
	PublishedDate string   `json:"published_date,omitempty"`
}

// Render returns the indexed text of an attendance record.
func (r AttendanceRecord) Render() string {
	return fmt.Sprintf("Attendance: Student %s was %s on %s for %s hours", r.StudentName, r.Status, r.Date, string(r.Hours))
}

// Render returns the indexed text of a summary record.
func (r SummaryRecord) Render() string {
	return fmt.Sprintf("Summary: %s - %s", r.Title, r.Content)
}

// Render returns the indexed text of an analytics record.
func (r AnalyticsRecord) Render() string {
	return fmt.Sprintf("Analytics: %s is %s - %s", r.Metric, string(r.Value), r.Insights)
}

// Render returns the indexed text of a research record.
func (r ResearchRecord) Render() string {
	return fmt.Sprintf("Research: %s by %s - %s", r.Title, strings.Join(r.Authors, ", "), r.Abstract)
}

// Scalar accepts a JSON string or number and keeps its textual form. Numeric
// text is written back as a JSON number.
type Scalar string

// MarshalJSON implements json.Marshaler.
func (s Scalar) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseFloat(string(s), 64); err == nil && json.Valid([]byte(s)) {
		return []byte(s), nil
	}
	return json.Marshal(string(s))
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Scalar) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = Scalar(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("value must be a string or number: %w", err)
	}
	*s = Scalar(num.String())
	return nil
}

// source describes one category file.
type source struct {
	category domain.Category
	file     string
	decode   func([]byte) ([]string, error)
}

var sources = []source{
	{domain.CategoryAttendance, "attendance.json", renderAll[AttendanceRecord]},
	{domain.CategorySummary, "summaries.json", renderAll[SummaryRecord]},
	{domain.CategoryAnalytics, "analytics.json", renderAll[AnalyticsRecord]},
	{domain.CategoryResearch, "research.json", renderAll[ResearchRecord]},
}

type renderer interface {
	Render() string
}

func renderAll[T renderer](data []byte) ([]string, error) {
	var records []T
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	texts := make([]string, len(records))
	for i, r := range records {
		texts[i] = r.Render()
	}
	return texts, nil
}
