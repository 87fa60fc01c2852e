package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pashagolub/catelo/pkg/data"
	"github.com/pashagolub/catelo/pkg/elo"
	"github.com/pashagolub/catelo/pkg/journal"
	"github.com/pashagolub/catelo/pkg/tournament"
	"github.com/pashagolub/catelo/pkg/tui"
)

// logFileName is used in interactive mode, where stderr belongs to the TUI
const logFileName = "catelo.log"

// environment is what every tournament command needs: configuration,
// logging, the storage backend and the audit journal.
type environment struct {
	config  *data.Config
	user    string
	logger  *slog.Logger
	store   data.Store
	ratings data.RatingStore
	audit   *journal.AuditTrail
	closers []io.Closer
}

// openEnvironment loads configuration and opens storage. logTo receives the
// logs; nil means a log file next to the sessions.
func openEnvironment(ctx context.Context, global *data.GlobalOptions, logTo io.Writer) (*environment, error) {
	config, err := data.LoadConfig(global)
	if err != nil {
		return nil, &CLIError{
			Code:    ExitConfigError,
			Message: fmt.Sprintf("Failed to load configuration: %v", err),
			Suggestions: []string{
				"Check configuration file syntax",
				"Use --config flag to specify different config file",
				"Use 'catelo init' to write a default configuration",
			},
		}
	}

	env := &environment{config: config, user: data.NormalizeName(global.User)}

	if logTo == nil {
		if err := os.MkdirAll(config.Storage.Dir, 0755); err != nil {
			return nil, &CLIError{Code: ExitFileError, Message: fmt.Sprintf("Failed to create storage directory: %v", err)}
		}
		file, err := os.OpenFile(filepath.Join(config.Storage.Dir, logFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, &CLIError{Code: ExitFileError, Message: fmt.Sprintf("Failed to open log file: %v", err)}
		}
		env.closers = append(env.closers, file)
		logTo = file
	}
	env.logger = data.NewLogger(config.Logging, logTo)

	switch config.Storage.Backend {
	case data.BackendSQLite:
		db, err := data.OpenSQLite(ctx, config.Storage.DSN)
		if err != nil {
			env.Close()
			return nil, &CLIError{
				Code:    ExitSessionError,
				Message: fmt.Sprintf("Failed to open database: %v", err),
				Details: map[string]any{"dsn": config.Storage.DSN},
			}
		}
		env.store, env.ratings = db, db
	default:
		fs, err := data.NewFileStorage(config.Storage.Dir)
		if err != nil {
			env.Close()
			return nil, &CLIError{
				Code:    ExitSessionError,
				Message: fmt.Sprintf("Failed to open session directory: %v", err),
				Details: map[string]any{"dir": config.Storage.Dir},
			}
		}
		env.store, env.ratings = fs, fs
	}
	env.closers = append(env.closers, env.store)
	return env, nil
}

// openJournal starts the audit trail of the environment's user when enabled
func (e *environment) openJournal() error {
	if !e.config.Journal.Enabled || e.audit != nil {
		return nil
	}
	audit, err := journal.NewAuditTrail(e.config.Journal.Dir, e.user, nil)
	if err != nil {
		return &CLIError{
			Code:        ExitFileError,
			Message:     fmt.Sprintf("Failed to open audit journal: %v", err),
			Suggestions: []string{"Check the journal with 'catelo validate --journal FILE'", "Use --no-journal to run without it"},
		}
	}
	e.audit = audit
	e.closers = append(e.closers, audit)
	return nil
}

// Close releases everything opened by the environment, newest first
func (e *environment) Close() {
	for _, c := range slices.Backward(e.closers) {
		if err := c.Close(); err != nil && e.logger != nil {
			e.logger.Warn("close failed", slog.Any("error", err))
		}
	}
	e.closers = nil
}

// newController builds a controller from the configuration wired to the
// store and the journal.
func (e *environment) newController(batch bool) (*tournament.Controller, error) {
	opts := tournament.OptionsFromConfig(*e.config)
	opts.UserName = e.user
	opts.Persistence = e.store
	opts.Logger = e.logger
	if e.audit != nil {
		opts.Recorder = e.audit
	}
	if batch {
		// votes from the command line cannot bounce
		opts.DebounceInterval = 0
	}
	opts.OnComplete = func(final []elo.FinalRating) {
		if len(final) > 0 {
			e.logger.Info("winner decided", slog.String("name", final[0].Name), slog.Float64("rating", final[0].Rating))
		}
	}
	ctrl, err := tournament.New(opts)
	if err != nil {
		return nil, &CLIError{Code: ExitConfigError, Message: fmt.Sprintf("Invalid tournament settings: %v", err)}
	}
	return ctrl, nil
}

// tournamentRun describes one start or resume invocation
type tournamentRun struct {
	inputs   []data.CandidateInput
	stored   []data.Candidate
	votes    []string
	batch    bool
	endEarly bool
}

// play initializes the tournament, resuming a stored one over the same
// names, then drives it from batch votes or the TUI. Final ratings are
// stored once the tournament completes.
func (e *environment) play(ctx context.Context, r tournamentRun) error {
	if err := e.openJournal(); err != nil {
		return err
	}
	ctrl, err := e.newController(r.batch)
	if err != nil {
		return err
	}

	names := make([]string, len(r.inputs))
	for i, in := range r.inputs {
		names[i] = in.Name
	}
	mode, err := data.NewSessionDetector(e.store).DetectMode(ctx, names, e.user)
	if err != nil {
		e.logger.Warn("session detection failed", slog.Any("error", err))
	}

	existing := data.ExistingRatings(r.stored)
	err = ctrl.Initialize(ctx, r.inputs, existing)
	if errors.Is(err, data.ErrCorruptSession) {
		e.logger.Warn("discarding corrupted session", slog.String("session", ctrl.Key()), slog.Any("error", err))
		if delErr := e.store.Delete(ctx, ctrl.Key()); delErr != nil {
			e.logger.Warn("failed to delete corrupted session", slog.Any("error", delErr))
		}
		mode = data.StartMode
		err = ctrl.Initialize(ctx, r.inputs, existing)
	}
	if err != nil {
		return &CLIError{Code: ExitSessionError, Message: fmt.Sprintf("Failed to start tournament: %v", err)}
	}
	if ctrl.IsError() {
		return &CLIError{
			Code:        ExitValidationError,
			Message:     fmt.Sprintf("Cannot start tournament: %v", ctrl.LastError()),
			Suggestions: []string{"Each name must be non-empty and unique", "A tournament needs at least two visible names"},
		}
	}

	progress := ctrl.Progress()
	if mode == data.ResumeMode {
		fmt.Fprintf(output, "Resuming tournament %s at match %d of %d\n", ctrl.Key(), ctrl.MatchIndex(), progress.Total)
	} else {
		fmt.Fprintf(output, "Started tournament %s with %d names (%d matches)\n", ctrl.Key(), len(r.inputs), progress.Total)
	}

	if r.batch {
		if err := e.applyVotes(ctx, ctrl, r.votes, r.endEarly); err != nil {
			return err
		}
	} else {
		app, err := tui.NewApp(ctx, ctrl, tui.Options{ExportDir: ".", ExportFormat: journal.FormatCSV})
		if err != nil {
			return &CLIError{Code: ExitSessionError, Message: fmt.Sprintf("Failed to create interface: %v", err)}
		}
		if err := app.Run(); err != nil {
			return &CLIError{Code: ExitSessionError, Message: fmt.Sprintf("Interface failed: %v", err)}
		}
	}

	if len(ctrl.FinalRatings()) > 0 {
		if err := e.storeResults(ctx, ctrl.Candidates(), r.stored); err != nil {
			return err
		}
	}
	return nil
}

// applyVotes casts batch votes in order and prints the resulting ranking
func (e *environment) applyVotes(ctx context.Context, ctrl *tournament.Controller, votes []string, endEarly bool) error {
	cast := 0
	for _, v := range votes {
		outcome, ok := elo.ParseOutcome(v)
		if !ok {
			return &CLIError{
				Code:        ExitValidationError,
				Message:     fmt.Sprintf("Unknown vote %q", v),
				Suggestions: []string{"Votes are left, right, both or neither"},
			}
		}
		if match, ok := ctrl.CurrentMatch(); ok {
			e.logger.Debug("batch vote", slog.String("left", match.Left.Name), slog.String("right", match.Right.Name), slog.String("vote", outcome.String()))
		}
		if !ctrl.Vote(ctx, outcome) {
			fmt.Fprintf(output, "Tournament finished after %d votes, %d votes ignored\n", cast, len(votes)-cast)
			break
		}
		cast++
	}
	if endEarly {
		ctrl.EndEarly(ctx)
	}

	snapshot := ctrl.Snapshot()
	report := journal.NewReport(snapshot, snapshot.LastUpdated)
	return journal.NewExporter().ExportRankingReport(report, output, journal.ExportOptions{Format: journal.FormatText})
}

// storeResults merges the finished candidates into the user's ratings,
// keeping earlier rating history, and updates name statistics when the
// backend keeps them.
func (e *environment) storeResults(ctx context.Context, candidates, stored []data.Candidate) error {
	previous := make(map[string]data.RatingHistory, len(stored))
	for _, s := range stored {
		previous[s.Name] = s.RatingHistory
	}
	for i := range candidates {
		candidates[i].RatingHistory = append(slices.Clone(previous[candidates[i].Name]), candidates[i].RatingHistory...)
	}

	if err := e.ratings.SaveRatings(ctx, e.user, candidates); err != nil {
		return &CLIError{Code: ExitSessionError, Message: fmt.Sprintf("Failed to save ratings: %v", err)}
	}
	if recorder, ok := e.store.(data.TournamentRecorder); ok {
		if err := recorder.RecordTournament(ctx, candidates); err != nil {
			return &CLIError{Code: ExitSessionError, Message: fmt.Sprintf("Failed to update name statistics: %v", err)}
		}
	}
	e.logger.Info("ratings saved", slog.String("user", e.user), slog.Int("names", len(candidates)))
	return nil
}

// readNames parses a names file
func readNames(path string) ([]data.CandidateInput, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, &CLIError{
			Code:        ExitFileError,
			Message:     fmt.Sprintf("Names file not found: %s", path),
			Details:     map[string]any{"file": path},
			Suggestions: []string{"Check file path and name", "Put one name per line, optionally followed by a comma and a description"},
		}
	}
	defer file.Close()

	inputs, err := data.ParseCandidates(file)
	if err != nil {
		return nil, &CLIError{
			Code:        ExitValidationError,
			Message:     fmt.Sprintf("Failed to read names: %v", err),
			Details:     map[string]any{"file": path},
			Suggestions: []string{"Validate the file with 'catelo validate --names " + path + "'"},
		}
	}
	return inputs, nil
}

// shortKey abbreviates a session key for tables
func shortKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}

// truncate shortens s to n runes
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return strings.TrimSpace(string(runes[:n-1])) + "…"
}
