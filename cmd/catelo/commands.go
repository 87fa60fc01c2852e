package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/pashagolub/catelo/pkg/data"
	"github.com/pashagolub/catelo/pkg/journal"
)

// StartCommand handles 'catelo start'
type StartCommand struct {
	Names    string   `long:"names" short:"n" description:"File with one cat name per line, optionally followed by a comma and a description" required:"true"`
	Size     int      `long:"size" description:"Number of names to rank (0 = configured size preference)"`
	Votes    []string `long:"vote" description:"Vote for batch mode: left, right, both or neither (repeatable)"`
	Batch    bool     `long:"batch" description:"Apply --vote values and print the ranking instead of opening the interface"`
	EndEarly bool     `long:"end-early" description:"Finish the tournament after the batch votes"`

	Global *data.GlobalOptions `no-flag:"true"`
	ctx    context.Context
}

// Execute implements the Command interface for StartCommand
func (c *StartCommand) Execute([]string) error {
	inputs, err := readNames(c.Names)
	if err != nil {
		return err
	}

	env, err := openEnvironment(c.ctx, c.Global, batchLog(c.Batch))
	if err != nil {
		return err
	}
	defer env.Close()

	stored, err := env.ratings.LoadRatings(c.ctx, env.user)
	if err != nil {
		return &CLIError{Code: ExitSessionError, Message: fmt.Sprintf("Failed to load stored ratings: %v", err)}
	}
	inputs = data.FilterHidden(inputs, data.HiddenNames(stored))

	size := c.Size
	if size == 0 {
		size = env.config.Tournament.SizePreference
	}
	if size > 0 && len(inputs) > size {
		env.logger.Info("tournament size limited", slog.Int("available", len(inputs)), slog.Int("size", size))
		inputs = inputs[:size]
	}

	return env.play(c.ctx, tournamentRun{
		inputs:   inputs,
		stored:   stored,
		votes:    c.Votes,
		batch:    c.Batch,
		endEarly: c.EndEarly,
	})
}

// ResumeCommand handles 'catelo resume'
type ResumeCommand struct {
	Key      string   `long:"key" short:"k" description:"Key of the stored tournament (see 'catelo list')" required:"true"`
	Votes    []string `long:"vote" description:"Vote for batch mode: left, right, both or neither (repeatable)"`
	Batch    bool     `long:"batch" description:"Apply --vote values and print the ranking instead of opening the interface"`
	EndEarly bool     `long:"end-early" description:"Finish the tournament after the batch votes"`

	Global *data.GlobalOptions `no-flag:"true"`
	ctx    context.Context
}

// Execute implements the Command interface for ResumeCommand
func (c *ResumeCommand) Execute([]string) error {
	env, err := openEnvironment(c.ctx, c.Global, batchLog(c.Batch))
	if err != nil {
		return err
	}
	defer env.Close()

	session, err := loadSession(c.ctx, env.store, c.Key)
	if err != nil {
		return err
	}
	if session.Status == data.StatusComplete {
		return &CLIError{
			Code:        ExitSessionError,
			Message:     fmt.Sprintf("Tournament %s is already complete", c.Key),
			Suggestions: []string{"Use 'catelo export --key " + c.Key + "' to export its ranking"},
		}
	}

	// the key is derived from names and user, so resume as the session's user
	env.user = session.UserName
	stored, err := env.ratings.LoadRatings(c.ctx, env.user)
	if err != nil {
		return &CLIError{Code: ExitSessionError, Message: fmt.Sprintf("Failed to load stored ratings: %v", err)}
	}

	return env.play(c.ctx, tournamentRun{
		inputs:   session.Candidates,
		stored:   stored,
		votes:    c.Votes,
		batch:    c.Batch,
		endEarly: c.EndEarly,
	})
}

// ListCommand handles 'catelo list'
type ListCommand struct {
	Format string `long:"format" description:"Output format (table/json)" default:"table"`
	Status string `long:"status" description:"Filter by status (in_progress/complete/error/all)" default:"all"`

	Global *data.GlobalOptions `no-flag:"true"`
	ctx    context.Context
}

// Execute implements the Command interface for ListCommand
func (c *ListCommand) Execute([]string) error {
	env, err := openEnvironment(c.ctx, c.Global, os.Stderr)
	if err != nil {
		return err
	}
	defer env.Close()

	infos, err := env.store.List(c.ctx)
	if err != nil {
		return &CLIError{Code: ExitSessionError, Message: fmt.Sprintf("Failed to list sessions: %v", err)}
	}

	sessions := make([]data.SessionInfo, 0, len(infos))
	for _, info := range infos {
		if c.Status == "all" || string(info.Status) == c.Status {
			sessions = append(sessions, info)
		}
	}

	if c.Format == "json" {
		encoder := json.NewEncoder(output)
		encoder.SetIndent("", "  ")
		return encoder.Encode(sessions)
	}
	printSessionsTable(sessions, time.Now())
	return nil
}

func printSessionsTable(sessions []data.SessionInfo, now time.Time) {
	if len(sessions) == 0 {
		fmt.Fprintln(output, "No sessions found")
		return
	}

	fmt.Fprintf(output, "%-14s %-12s %-12s %-6s %-9s %s\n", "KEY", "USER", "STATUS", "NAMES", "MATCHES", "UPDATED")
	fmt.Fprintln(output, strings.Repeat("-", 70))
	for _, s := range sessions {
		played := max(0, s.CurrentMatchIndex-1)
		fmt.Fprintf(output, "%-14s %-12s %-12s %-6d %-9s %s\n",
			shortKey(s.Key),
			truncate(s.UserName, 12),
			s.Status,
			s.CandidateCount,
			fmt.Sprintf("%d/%d", played, s.TotalMatches),
			humanize.RelTime(s.LastUpdated, now, "ago", "from now"))
	}
}

// ExportCommand handles 'catelo export'
type ExportCommand struct {
	Key            string `long:"key" short:"k" description:"Key of the tournament to export" required:"true"`
	Output         string `long:"output" short:"o" description:"Output file path, - for stdout"`
	Format         string `long:"format" description:"Export format (csv/json/text)" default:"csv"`
	IncludeStats   bool   `long:"include-stats" description:"Include rating statistics"`
	IncludeHistory bool   `long:"include-history" description:"Include the vote history"`

	Global *data.GlobalOptions `no-flag:"true"`
	ctx    context.Context
}

// Execute implements the Command interface for ExportCommand
func (c *ExportCommand) Execute([]string) error {
	format, err := journal.ParseFormat(c.Format)
	if err != nil {
		return &CLIError{
			Code:        ExitConfigError,
			Message:     err.Error(),
			Suggestions: []string{"Use csv, json or text"},
		}
	}

	env, err := openEnvironment(c.ctx, c.Global, os.Stderr)
	if err != nil {
		return err
	}
	defer env.Close()

	session, err := loadSession(c.ctx, env.store, c.Key)
	if err != nil {
		return err
	}

	report := journal.NewReport(session, time.Now())
	opts := journal.ExportOptions{Format: format, IncludeStats: c.IncludeStats, IncludeHistory: c.IncludeHistory}
	exporter := journal.NewExporter()

	if c.Output == "-" {
		err = exporter.Export(report, output, opts)
	} else {
		if c.Output == "" {
			c.Output = defaultExportName(c.Key, format)
		}
		err = exporter.ExportToFile(report, c.Output, opts)
	}
	if err != nil {
		return &CLIError{
			Code:    ExitExportError,
			Message: fmt.Sprintf("Export failed: %v", err),
			Details: map[string]any{
				"output_file": c.Output,
				"format":      string(format),
			},
			Suggestions: []string{
				"Check output directory permissions",
				"Try different output format",
			},
		}
	}

	if c.Output != "-" {
		fmt.Fprintf(output, "Exported rankings to: %s\n", c.Output)
	}
	if report.Provisional {
		fmt.Fprintln(os.Stderr, "Note: the tournament is not finished, ratings are provisional")
	}
	return nil
}

func defaultExportName(key string, format journal.ExportFormat) string {
	ext := "txt"
	switch format {
	case journal.FormatCSV:
		ext = "csv"
	case journal.FormatJSON:
		ext = "json"
	}
	return fmt.Sprintf("rankings_%s.%s", shortKey(key), ext)
}

// ValidateCommand handles 'catelo validate'
type ValidateCommand struct {
	Names   string `long:"names" short:"n" description:"Names file to validate"`
	Journal string `long:"journal" short:"j" description:"Audit journal to verify"`
	Preview int    `long:"preview" description:"Number of names to preview" default:"5"`

	Global *data.GlobalOptions `no-flag:"true"`
}

// Execute implements the Command interface for ValidateCommand
func (c *ValidateCommand) Execute([]string) error {
	if c.Names == "" && c.Journal == "" {
		return &CLIError{
			Code:        ExitConfigError,
			Message:     "Nothing to validate",
			Suggestions: []string{"Pass --names FILE, --journal FILE or both"},
		}
	}
	if c.Names != "" {
		if err := c.validateNames(); err != nil {
			return err
		}
	}
	if c.Journal != "" {
		n, err := journal.VerifyFile(c.Journal)
		if err != nil {
			fmt.Fprintf(output, "INVALID journal %s: %v\n", c.Journal, err)
			return &CLIError{
				Code:    ExitValidationError,
				Message: fmt.Sprintf("Journal verification failed: %v", err),
				Details: map[string]any{"file": c.Journal},
			}
		}
		fmt.Fprintf(output, "VALID journal %s: %s entries, hash chain intact\n", c.Journal, humanize.Comma(int64(n)))
	}
	return nil
}

func (c *ValidateCommand) validateNames() error {
	inputs, err := readNames(c.Names)
	if err != nil {
		return err
	}

	fmt.Fprintf(output, "Validation Results for: %s\n", c.Names)
	fmt.Fprintln(output, strings.Repeat("=", 43))

	defaults := data.DefaultEloConfig()
	candidates, err := data.BuildCandidates(inputs, nil, defaults.InitialRating, defaults.MinRating, defaults.MaxRating)
	if err == nil && len(candidates) < 2 {
		err = fmt.Errorf("a tournament needs at least two names, found %d", len(candidates))
	}
	if err != nil {
		fmt.Fprintf(output, "INVALID: %v\n", err)
		return &CLIError{
			Code:    ExitValidationError,
			Message: fmt.Sprintf("Names validation failed: %v", err),
			Details: map[string]any{"file": c.Names},
			Suggestions: []string{
				"Remove duplicate and empty names",
				"Put one name per line, optionally followed by a comma and a description",
			},
		}
	}

	fmt.Fprintf(output, "VALID: %d names\n", len(candidates))
	if c.Preview > 0 {
		fmt.Fprintf(output, "\nPreview (%d names):\n", min(c.Preview, len(candidates)))
		for i, cand := range candidates[:min(c.Preview, len(candidates))] {
			fmt.Fprintf(output, "  [%d] %s\n", i+1, cand.Name)
			if cand.Description != "" {
				fmt.Fprintf(output, "      %s\n", cand.Description)
			}
		}
	}
	return nil
}

// HideCommand handles 'catelo hide'
type HideCommand struct {
	Unhide bool `long:"unhide" description:"Make the names visible again"`
	Args   struct {
		Names []string `positional-arg-name:"NAME" required:"1"`
	} `positional-args:"yes"`

	Global *data.GlobalOptions `no-flag:"true"`
	ctx    context.Context
}

// Execute implements the Command interface for HideCommand
func (c *HideCommand) Execute([]string) error {
	env, err := openEnvironment(c.ctx, c.Global, os.Stderr)
	if err != nil {
		return err
	}
	defer env.Close()

	verb := "Hidden"
	if c.Unhide {
		verb = "Visible"
	}
	for _, name := range c.Args.Names {
		if err := env.ratings.SetHidden(c.ctx, env.user, name, !c.Unhide); err != nil {
			return &CLIError{
				Code:    ExitValidationError,
				Message: fmt.Sprintf("Failed to update %q: %v", name, err),
			}
		}
		fmt.Fprintf(output, "%s: %s\n", verb, data.NormalizeName(name))
	}
	return nil
}

// StatsCommand handles 'catelo stats'
type StatsCommand struct {
	Limit int `long:"limit" description:"Show at most this many names (0 = all)" default:"20"`

	Global *data.GlobalOptions `no-flag:"true"`
	ctx    context.Context
}

// Execute implements the Command interface for StatsCommand
func (c *StatsCommand) Execute([]string) error {
	env, err := openEnvironment(c.ctx, c.Global, os.Stderr)
	if err != nil {
		return err
	}
	defer env.Close()

	recorder, ok := env.store.(data.TournamentRecorder)
	if !ok {
		return &CLIError{
			Code:        ExitConfigError,
			Message:     fmt.Sprintf("The %s backend keeps no name statistics", env.config.Storage.Backend),
			Suggestions: []string{"Use --backend sqlite"},
		}
	}
	options, err := recorder.ListOptions(c.ctx)
	if err != nil {
		return &CLIError{Code: ExitSessionError, Message: fmt.Sprintf("Failed to read statistics: %v", err)}
	}
	if len(options) == 0 {
		fmt.Fprintln(output, "No finished tournaments yet")
		return nil
	}
	if c.Limit > 0 && len(options) > c.Limit {
		options = options[:c.Limit]
	}

	fmt.Fprintf(output, "%-6s %-20s %-8s %-11s %-12s %s\n", "RANK", "NAME", "RATING", "POPULARITY", "TOURNAMENTS", "UPDATED")
	fmt.Fprintln(output, strings.Repeat("-", 75))
	now := time.Now()
	for i, o := range options {
		fmt.Fprintf(output, "%-6s %-20s %-8.1f %-11d %-12d %s\n",
			humanize.Ordinal(i+1),
			truncate(o.Name, 20),
			o.AvgRating,
			o.PopularityScore,
			o.TotalTournaments,
			humanize.RelTime(o.UpdatedAt, now, "ago", "from now"))
	}
	return nil
}

// loadSession reads a stored session by key
func loadSession(ctx context.Context, store data.Store, key string) (*data.TournamentSession, error) {
	session, err := store.Load(ctx, key)
	switch {
	case errors.Is(err, data.ErrSessionNotFound), errors.Is(err, data.ErrInvalidKey):
		return nil, &CLIError{
			Code:    ExitSessionError,
			Message: fmt.Sprintf("Session not found: %s", key),
			Details: map[string]any{"session_key": key},
			Suggestions: []string{
				"Use 'catelo list' to see available sessions",
				"Check session key spelling",
			},
		}
	case err != nil:
		return nil, &CLIError{
			Code:    ExitSessionError,
			Message: fmt.Sprintf("Failed to load session %s: %v", key, err),
		}
	}
	return session, nil
}

// batchLog keeps stderr logging for batch runs and moves it to a file
// while the interface owns the terminal.
func batchLog(batch bool) io.Writer {
	if batch {
		return os.Stderr
	}
	return nil
}
