// Package export renders a learner's analytics as a downloadable CSV file.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

// StudyTime is the time spent on one subject on one day
type StudyTime struct {
	Date    string  `json:"date"`
	Subject string  `json:"subject"`
	Minutes float64 `json:"minutes"`
}

// QuizPerformance is the outcome of one quiz attempt
type QuizPerformance struct {
	Date      string  `json:"date"`
	Subject   string  `json:"subject"`
	Quiz      string  `json:"quiz"`
	Score     float64 `json:"score"`
	Correct   int     `json:"correct"`
	Questions int     `json:"questions"`
}

// ConceptMastery is the learner's current mastery of one concept, 0 to 100
type ConceptMastery struct {
	Concept string  `json:"concept"`
	Subject string  `json:"subject"`
	Mastery float64 `json:"mastery"`
}

// Report is everything that goes into one export
type Report struct {
	StudyTime       []StudyTime       `json:"studyTime"`
	QuizPerformance []QuizPerformance `json:"quizPerformance"`
	ConceptMastery  []ConceptMastery  `json:"conceptMastery"`
}

// FileName names the export for a download
func FileName(now time.Time) string {
	return fmt.Sprintf("analytics_%s.csv", now.Format("20060102_150405"))
}

// WriteCSV writes the report as three titled sections separated by a blank line
func WriteCSV(w io.Writer, r Report) error {
	writer := csv.NewWriter(w)

	sections := []struct {
		title  string
		header []string
		rows   [][]string
	}{
		{title: "Study Time", header: []string{"Date", "Subject", "Minutes"}, rows: studyTimeRows(r.StudyTime)},
		{title: "Quiz Performance", header: []string{"Date", "Subject", "Quiz", "Score", "Correct", "Questions"}, rows: quizRows(r.QuizPerformance)},
		{title: "Concept Mastery", header: []string{"Concept", "Subject", "Mastery"}, rows: masteryRows(r.ConceptMastery)},
	}

	for i, section := range sections {
		if i > 0 {
			// encoding/csv writes an empty record as a bare newline
			if err := writer.Write(nil); err != nil {
				return fmt.Errorf("failed to write separator: %w", err)
			}
		}
		if err := writer.Write([]string{section.title}); err != nil {
			return fmt.Errorf("failed to write %s title: %w", section.title, err)
		}
		if err := writer.Write(section.header); err != nil {
			return fmt.Errorf("failed to write %s header: %w", section.title, err)
		}
		if err := writer.WriteAll(section.rows); err != nil {
			return fmt.Errorf("failed to write %s rows: %w", section.title, err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to finalize CSV: %w", err)
	}
	return nil
}

func studyTimeRows(in []StudyTime) [][]string {
	rows := make([][]string, 0, len(in))
	for _, s := range in {
		rows = append(rows, []string{s.Date, s.Subject, formatFloat(s.Minutes)})
	}
	return rows
}

func quizRows(in []QuizPerformance) [][]string {
	rows := make([][]string, 0, len(in))
	for _, q := range in {
		rows = append(rows, []string{
			q.Date,
			q.Subject,
			q.Quiz,
			formatFloat(q.Score),
			strconv.Itoa(q.Correct),
			strconv.Itoa(q.Questions),
		})
	}
	return rows
}

func masteryRows(in []ConceptMastery) [][]string {
	rows := make([][]string, 0, len(in))
	for _, c := range in {
		rows = append(rows, []string{c.Concept, c.Subject, formatFloat(c.Mastery)})
	}
	return rows
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
