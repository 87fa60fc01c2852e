// Package main provides the command-line interface of catelo, the cat name
// tournament. It implements subcommands for starting and resuming
// tournaments in the terminal UI or in batch mode, listing and exporting
// sessions, validating inputs and managing hidden names.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/jessevdk/go-flags"

	"github.com/pashagolub/catelo/pkg/data"
)

// Version information - set by build process
var (
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// output receives everything the commands print
var output io.Writer = os.Stdout

// ErrorCode represents CLI exit codes
type ErrorCode int

const (
	ExitSuccess ErrorCode = iota
	ExitFileError
	ExitConfigError
	ExitSessionError
	ExitExportError
	ExitValidationError
)

// CLIError represents a CLI error with exit code
type CLIError struct {
	Code        ErrorCode
	Message     string
	Details     map[string]any
	Suggestions []string
}

func (e *CLIError) Error() string {
	return e.Message
}

// formatErrorJSON formats error as JSON for structured output
func formatErrorJSON(err *CLIError) string {
	body := map[string]any{
		"code":    err.Code,
		"message": err.Message,
	}
	if err.Details != nil {
		body["details"] = err.Details
	}
	if err.Suggestions != nil {
		body["suggestions"] = err.Suggestions
	}
	raw, _ := json.MarshalIndent(map[string]any{"error": body}, "", "  ")
	return string(raw)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx, os.Args[1:])
	stop()
	if err == nil {
		return
	}
	var cliErr *CLIError
	if errors.As(err, &cliErr) {
		fmt.Fprintln(os.Stderr, formatErrorJSON(cliErr))
		os.Exit(int(cliErr.Code))
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

// newParser wires the subcommands to one set of global options
func newParser(ctx context.Context) (*flags.Parser, *data.GlobalOptions) {
	global := &data.GlobalOptions{}
	parser := flags.NewParser(global, flags.Default)
	parser.Usage = "[OPTIONS] COMMAND [COMMAND-OPTIONS]"

	commands := []struct {
		name, short, long string
		cmd               any
	}{
		{"start", "Start or continue a tournament", "Starts a tournament from a names file; an unfinished tournament over the same names is resumed.", &StartCommand{Global: global, ctx: ctx}},
		{"resume", "Resume a stored tournament", "", &ResumeCommand{Global: global, ctx: ctx}},
		{"list", "List stored tournaments", "", &ListCommand{Global: global, ctx: ctx}},
		{"export", "Export a tournament ranking", "", &ExportCommand{Global: global, ctx: ctx}},
		{"validate", "Validate a names file or an audit journal", "", &ValidateCommand{Global: global}},
		{"hide", "Hide names from future tournaments", "", &HideCommand{Global: global, ctx: ctx}},
		{"stats", "Show name statistics across tournaments", "Requires the sqlite backend.", &StatsCommand{Global: global, ctx: ctx}},
		{"init", "Write a default configuration file", "", &InitCommand{}},
		{"version", "Show version information", "", &VersionCommand{}},
	}
	for _, c := range commands {
		if _, err := parser.AddCommand(c.name, c.short, c.long, c.cmd); err != nil {
			panic(err) // only reachable through malformed struct tags
		}
	}
	return parser, global
}

func run(ctx context.Context, args []string) error {
	parser, _ := newParser(ctx)
	if _, err := parser.ParseArgs(args); err != nil {
		var cliErr *CLIError
		if errors.As(err, &cliErr) {
			return cliErr
		}
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) {
			switch flagsErr.Type {
			case flags.ErrHelp:
				return nil
			case flags.ErrCommandRequired:
				return &CLIError{
					Code:    ExitConfigError,
					Message: "No command specified",
					Suggestions: []string{
						"Use 'catelo start --names names.txt' to begin a tournament",
						"Use 'catelo --help' to see all available commands",
					},
				}
			default:
				return &CLIError{
					Code:    ExitConfigError,
					Message: fmt.Sprintf("Invalid arguments: %v", err),
				}
			}
		}
		return err
	}
	return nil
}

// VersionCommand handles 'catelo version'
type VersionCommand struct{}

// Execute prints the build information
func (c *VersionCommand) Execute([]string) error {
	fmt.Fprintf(output, "catelo version %s\n", Version)
	fmt.Fprintf(output, "Build date: %s\n", BuildDate)
	fmt.Fprintf(output, "Git commit: %s\n", GitCommit)
	return nil
}

// InitCommand handles 'catelo init'
type InitCommand struct {
	Output string `long:"output" short:"o" description:"Where to write the configuration" default:"catelo.yaml"`
	Force  bool   `long:"force" description:"Overwrite an existing file"`
}

// Execute writes the default configuration
func (c *InitCommand) Execute([]string) error {
	if _, err := os.Stat(c.Output); err == nil && !c.Force {
		return &CLIError{
			Code:        ExitFileError,
			Message:     fmt.Sprintf("Configuration file already exists: %s", c.Output),
			Suggestions: []string{"Use --force to overwrite it"},
		}
	}
	if err := data.CreateDefaultConfig(c.Output); err != nil {
		return &CLIError{Code: ExitFileError, Message: err.Error()}
	}
	fmt.Fprintf(output, "Wrote default configuration to %s\n", c.Output)
	return nil
}
