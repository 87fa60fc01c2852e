package journal

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/pashagolub/catelo/pkg/data"
)

// ErrNothingToExport is returned for a report without ranked names
var ErrNothingToExport = errors.New("no names to export")

// ExportFormat represents the format for exporting results
type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatJSON ExportFormat = "json"
	FormatText ExportFormat = "text"
)

// ParseFormat maps a format name or file extension to an ExportFormat
func ParseFormat(s string) (ExportFormat, error) {
	switch s {
	case "csv", ".csv":
		return FormatCSV, nil
	case "json", ".json":
		return FormatJSON, nil
	case "text", "txt", ".txt", "":
		return FormatText, nil
	}
	return "", fmt.Errorf("unsupported export format: %s", s)
}

// ExportOptions configures export behavior
type ExportOptions struct {
	Format         ExportFormat `json:"format"`          // Export format (csv, json, text)
	IncludeStats   bool         `json:"include_stats"`   // Include summary statistics
	IncludeHistory bool         `json:"include_history"` // Include the vote history
}

// ExportTemplate defines custom export formatting
type ExportTemplate struct {
	Name         string `json:"name"`
	HeaderFormat string `json:"header"`
	RowFormat    string `json:"row"`
	FooterFormat string `json:"footer"`
}

// Report is the exportable form of a tournament
type Report struct {
	SessionID    string             `json:"session_id"`
	UserName     string             `json:"user_name,omitempty"`
	Status       string             `json:"status"`
	Provisional  bool               `json:"provisional"` // Ranked from live ratings, not final ones
	ExportedAt   time.Time          `json:"exported_at"`
	CreatedAt    time.Time          `json:"created_at"`
	LastUpdated  time.Time          `json:"last_updated"`
	TotalMatches int                `json:"total_matches"`
	Rankings     []RankedName       `json:"rankings"`
	Statistics   *ExportStatistics  `json:"statistics,omitempty"`
	History      []data.MatchRecord `json:"history,omitempty"`
}

// RankedName is one row of the ranking
type RankedName struct {
	Rank        int     `json:"rank"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Rating      float64 `json:"rating"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	Matches     int     `json:"matches"` // Appearances in the vote history
}

// ExportStatistics provides summary statistics
type ExportStatistics struct {
	TotalNames        int            `json:"total_names"`
	TotalVotes        int            `json:"total_votes"`
	AverageRating     float64        `json:"average_rating"`
	RatingRange       float64        `json:"rating_range"`
	StandardDeviation float64        `json:"standard_deviation"`
	OutcomeCounts     map[string]int `json:"outcome_counts"`
	Duration          time.Duration  `json:"duration"`
}

// Exporter handles ranking export operations
type Exporter struct{}

// NewExporter creates a new exporter instance
func NewExporter() *Exporter {
	return &Exporter{}
}

// ExportToFile writes the report through a temporary file that replaces filePath
func (e *Exporter) ExportToFile(report *Report, filePath string, options ExportOptions) (err error) {
	if dir := filepath.Dir(filePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	tempFile := filePath + ".tmp"
	file, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = file.Close()
			_ = os.Remove(tempFile)
		}
	}()

	if err = e.Export(report, file, options); err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	if err = file.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file: %w", err)
	}
	if err = os.Rename(tempFile, filePath); err != nil {
		return fmt.Errorf("failed to replace target file: %w", err)
	}
	return nil
}

// Export writes the report in the requested format
func (e *Exporter) Export(report *Report, writer io.Writer, options ExportOptions) error {
	switch options.Format {
	case FormatCSV:
		return e.ExportCSV(report, writer, options)
	case FormatJSON:
		return e.ExportJSON(report, writer, options)
	case FormatText, "":
		return e.ExportRankingReport(report, writer, options)
	}
	return fmt.Errorf("unsupported export format: %s", options.Format)
}

// ExportCSV writes one row per name, best first
func (e *Exporter) ExportCSV(report *Report, writer io.Writer, options ExportOptions) error {
	if len(report.Rankings) == 0 {
		return ErrNothingToExport
	}

	w := csv.NewWriter(writer)
	headers := []string{"rank", "name", "description", "rating", "wins", "losses"}
	if options.IncludeStats {
		headers = append(headers, "matches")
	}
	if err := w.Write(headers); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, r := range report.Rankings {
		record := []string{
			strconv.Itoa(r.Rank),
			r.Name,
			r.Description,
			formatFloat(r.Rating),
			strconv.Itoa(r.Wins),
			strconv.Itoa(r.Losses),
		}
		if options.IncludeStats {
			record = append(record, strconv.Itoa(r.Matches))
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record for %s: %w", r.Name, err)
		}
	}
	w.Flush()
	return w.Error()
}

// ExportJSON writes the report as indented JSON
func (e *Exporter) ExportJSON(report *Report, writer io.Writer, options ExportOptions) error {
	out := *report
	if !options.IncludeStats {
		out.Statistics = nil
	}
	if !options.IncludeHistory {
		out.History = nil
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(&out); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// ExportRankingReport generates a human-readable text report
func (e *Exporter) ExportRankingReport(report *Report, writer io.Writer, options ExportOptions) error {
	title := "Final Rankings"
	if report.Provisional {
		title = "Provisional Rankings"
	}

	fmt.Fprintf(writer, "Cat Name Tournament\n")
	fmt.Fprintf(writer, "===================\n\n")
	if report.UserName != "" {
		fmt.Fprintf(writer, "Judge: %s\n", report.UserName)
	}
	fmt.Fprintf(writer, "Session ID: %s\n", report.SessionID)
	fmt.Fprintf(writer, "Generated: %s\n", report.ExportedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(writer, "Status: %s\n\n", report.Status)

	if stats := report.Statistics; options.IncludeStats && stats != nil {
		fmt.Fprintf(writer, "Statistics\n")
		fmt.Fprintf(writer, "----------\n")
		fmt.Fprintf(writer, "Names: %d\n", stats.TotalNames)
		fmt.Fprintf(writer, "Votes: %d of %d estimated\n", stats.TotalVotes, report.TotalMatches)
		fmt.Fprintf(writer, "Average Rating: %s\n", formatFloat(stats.AverageRating))
		fmt.Fprintf(writer, "Rating Range: %s\n", formatFloat(stats.RatingRange))
		fmt.Fprintf(writer, "Standard Deviation: %s\n", formatFloat(stats.StandardDeviation))
		if stats.Duration > 0 {
			fmt.Fprintf(writer, "Duration: %s\n", formatDuration(stats.Duration))
		}
		fmt.Fprintf(writer, "\n")
	}

	fmt.Fprintf(writer, "%s\n", title)
	fmt.Fprintf(writer, "%s\n\n", underline(title))
	for _, r := range report.Rankings {
		fmt.Fprintf(writer, "%s. %s\n", humanize.Ordinal(r.Rank), r.Name)
		fmt.Fprintf(writer, "   Rating: %s | %d wins, %d losses\n", formatFloat(r.Rating), r.Wins, r.Losses)
		if r.Description != "" {
			fmt.Fprintf(writer, "   %s\n", r.Description)
		}
		fmt.Fprintf(writer, "\n")
	}

	if options.IncludeHistory && len(report.History) > 0 {
		fmt.Fprintf(writer, "Vote History\n")
		fmt.Fprintf(writer, "============\n\n")
		for _, m := range report.History {
			fmt.Fprintf(writer, "%3d. %s vs %s: %s\n", m.MatchNumber, m.Left.Name, m.Right.Name, m.Outcome)
		}
	}
	return nil
}

// ExportWithTemplate renders the report through user supplied templates
func (e *Exporter) ExportWithTemplate(report *Report, writer io.Writer, template ExportTemplate) error {
	funcs := texttemplate.FuncMap{
		"ordinal": humanize.Ordinal,
		"rating":  formatFloat,
	}
	parse := func(part, text string) (*texttemplate.Template, error) {
		tmpl, err := texttemplate.New(part).Funcs(funcs).Parse(text)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s template: %w", part, err)
		}
		return tmpl, nil
	}

	if template.HeaderFormat != "" {
		tmpl, err := parse("header", template.HeaderFormat)
		if err != nil {
			return err
		}
		if err := tmpl.Execute(writer, report); err != nil {
			return fmt.Errorf("failed to execute header template: %w", err)
		}
	}

	if template.RowFormat != "" {
		tmpl, err := parse("row", template.RowFormat)
		if err != nil {
			return err
		}
		for _, r := range report.Rankings {
			if err := tmpl.Execute(writer, r); err != nil {
				return fmt.Errorf("failed to execute row template for %s: %w", r.Name, err)
			}
		}
	}

	if template.FooterFormat != "" {
		tmpl, err := parse("footer", template.FooterFormat)
		if err != nil {
			return err
		}
		if err := tmpl.Execute(writer, report); err != nil {
			return fmt.Errorf("failed to execute footer template: %w", err)
		}
	}
	return nil
}

func underline(s string) string {
	return strings.Repeat("=", len(s))
}

// formatFloat formats a rating with one decimal
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 1, 64)
}

// formatDuration formats a duration for human reading
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
