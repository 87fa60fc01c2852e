package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pashagolub/catelo/pkg/data"
	"github.com/pashagolub/catelo/pkg/journal"
)

// workspace runs the test inside a fresh directory so journals and exports
// stay out of the source tree.
func workspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

// execute runs the CLI with file storage under ./sessions for user alice
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	previous := output
	output = &buf
	defer func() { output = previous }()

	global := []string{"--no-config", "--storage-dir", "sessions", "--user", "alice"}
	err := run(context.Background(), append(global, args...))
	return buf.String(), err
}

func writeNames(t *testing.T, name, content string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(name, []byte(content), 0644))
	return name
}

func listSessions(t *testing.T, status string) []data.SessionInfo {
	t.Helper()
	out, err := execute(t, "list", "--format", "json", "--status", status)
	require.NoError(t, err)
	var sessions []data.SessionInfo
	require.NoError(t, json.Unmarshal([]byte(out), &sessions))
	return sessions
}

func requireCode(t *testing.T, err error, code ErrorCode) {
	t.Helper()
	var cliErr *CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, code, cliErr.Code, cliErr.Message)
}

func TestRun(t *testing.T) {
	workspace(t)

	tests := []struct {
		name string
		args []string
		code ErrorCode
	}{
		{"no command", nil, ExitConfigError},
		{"unknown flag", []string{"--bogus"}, ExitConfigError},
		{"start without names", []string{"start"}, ExitConfigError},
		{"resume without key", []string{"resume"}, ExitConfigError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			requireCode(t, err, tt.code)
		})
	}

	t.Run("version", func(t *testing.T) {
		out, err := execute(t, "version")
		require.NoError(t, err)
		assert.Contains(t, out, "catelo version dev")
	})
}

func TestFormatErrorJSON(t *testing.T) {
	text := formatErrorJSON(&CLIError{
		Code:        ExitSessionError,
		Message:     "Session not found: abc",
		Details:     map[string]any{"session_key": "abc"},
		Suggestions: []string{"Use 'catelo list'"},
	})

	var decoded struct {
		Error struct {
			Code        int            `json:"code"`
			Message     string         `json:"message"`
			Details     map[string]any `json:"details"`
			Suggestions []string       `json:"suggestions"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &decoded))
	assert.Equal(t, int(ExitSessionError), decoded.Error.Code)
	assert.Equal(t, "Session not found: abc", decoded.Error.Message)
	assert.Equal(t, "abc", decoded.Error.Details["session_key"])
	assert.Equal(t, []string{"Use 'catelo list'"}, decoded.Error.Suggestions)
}

func TestStartCommand_Batch(t *testing.T) {
	dir := workspace(t)
	names := writeNames(t, "names.txt", "name,description\nMochi,small and round\nTofu\n")

	out, err := execute(t, "start", "--names", names, "--batch", "--vote", "left")
	require.NoError(t, err)
	assert.Contains(t, out, "Started tournament")
	assert.Contains(t, out, "with 2 names (1 matches)")
	assert.Contains(t, out, "Final Rankings")
	assert.Contains(t, out, "1st. Mochi")

	t.Run("ratings are stored", func(t *testing.T) {
		fs, err := data.NewFileStorage(filepath.Join(dir, "sessions"))
		require.NoError(t, err)
		stored, err := fs.LoadRatings(context.Background(), "alice")
		require.NoError(t, err)
		require.Len(t, stored, 2)

		byName := map[string]data.Candidate{}
		for _, c := range stored {
			byName[c.Name] = c
		}
		assert.Greater(t, byName["Mochi"].Rating, byName["Tofu"].Rating)
		assert.Equal(t, 1, byName["Mochi"].Wins)
		assert.Equal(t, 1, byName["Tofu"].Losses)
		assert.Len(t, byName["Mochi"].RatingHistory, 1)
	})

	t.Run("journal records the tournament", func(t *testing.T) {
		n, err := journal.VerifyFile(filepath.Join(dir, "journal", "audit-alice.jsonl"))
		require.NoError(t, err)
		assert.Equal(t, 3, n, "start, vote and completion")
	})

	t.Run("a second tournament extends the history", func(t *testing.T) {
		_, err := execute(t, "start", "--names", names, "--batch", "--vote", "right")
		require.NoError(t, err)

		fs, err := data.NewFileStorage(filepath.Join(dir, "sessions"))
		require.NoError(t, err)
		stored, err := fs.LoadRatings(context.Background(), "alice")
		require.NoError(t, err)
		for _, c := range stored {
			assert.Len(t, c.RatingHistory, 2, c.Name)
			assert.Equal(t, 1, c.Wins, c.Name)
			assert.Equal(t, 1, c.Losses, c.Name)
		}
	})

	t.Run("unknown vote", func(t *testing.T) {
		_, err := execute(t, "start", "--names", names, "--batch", "--vote", "sideways")
		requireCode(t, err, ExitValidationError)
	})

	t.Run("missing names file", func(t *testing.T) {
		_, err := execute(t, "start", "--names", "nope.txt", "--batch")
		requireCode(t, err, ExitFileError)
	})

	t.Run("duplicate names", func(t *testing.T) {
		dup := writeNames(t, "dup.txt", "Mochi\nMochi\n")
		_, err := execute(t, "start", "--names", dup, "--batch")
		requireCode(t, err, ExitValidationError)
	})
}

func TestResumeCommand(t *testing.T) {
	workspace(t)
	names := writeNames(t, "names.txt", "Mochi\nTofu\nPepper\n")

	out, err := execute(t, "start", "--names", names, "--batch", "--vote", "left", "--vote", "right")
	require.NoError(t, err)
	assert.Contains(t, out, "(5 matches)")
	assert.Contains(t, out, "Provisional Rankings")

	sessions := listSessions(t, "in_progress")
	require.Len(t, sessions, 1)
	key := sessions[0].Key
	assert.Equal(t, 3, sessions[0].CandidateCount)
	assert.Equal(t, "alice", sessions[0].UserName)

	out, err = execute(t, "resume", "--key", key, "--batch", "--vote", "both")
	require.NoError(t, err)
	assert.Contains(t, out, "Resuming tournament "+key+" at match 3 of 5")

	t.Run("starting the same names resumes too", func(t *testing.T) {
		out, err := execute(t, "start", "--names", names, "--batch")
		require.NoError(t, err)
		assert.Contains(t, out, "at match 4 of 5")
	})

	out, err = execute(t, "resume", "--key", key, "--batch", "--end-early")
	require.NoError(t, err)
	assert.Contains(t, out, "Final Rankings")
	assert.Len(t, listSessions(t, "complete"), 1)
	assert.Empty(t, listSessions(t, "in_progress"))

	t.Run("complete sessions cannot resume", func(t *testing.T) {
		_, err := execute(t, "resume", "--key", key, "--batch")
		requireCode(t, err, ExitSessionError)
	})

	t.Run("unknown key", func(t *testing.T) {
		_, err := execute(t, "resume", "--key", "0123456789abcdef", "--batch")
		requireCode(t, err, ExitSessionError)
	})

	t.Run("table listing", func(t *testing.T) {
		out, err := execute(t, "list")
		require.NoError(t, err)
		assert.Contains(t, out, key[:12])
		assert.Contains(t, out, "complete")
		assert.Contains(t, out, "3/5")
	})
}

func TestStartCommand_CorruptedSession(t *testing.T) {
	dir := workspace(t)
	names := writeNames(t, "names.txt", "Mochi\nTofu\n")

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sessions"), 0755))
	key := data.SessionKey([]string{"Mochi", "Tofu"}, "alice")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sessions", key+".json"), []byte("{not json"), 0644))

	out, err := execute(t, "start", "--names", names, "--batch")
	require.NoError(t, err)
	assert.Contains(t, out, "Started tournament "+key)

	raw, err := os.ReadFile(filepath.Join(dir, "sessions", key+".json"))
	require.NoError(t, err)
	var session data.TournamentSession
	require.NoError(t, json.Unmarshal(raw, &session), "the corrupted snapshot is replaced")
	assert.Equal(t, data.StatusInProgress, session.Status)
}

func TestHideCommand(t *testing.T) {
	workspace(t)
	names := writeNames(t, "names.txt", "Mochi\nTofu\nPepper\n")

	out, err := execute(t, "hide", "Tofu")
	require.NoError(t, err)
	assert.Contains(t, out, "Hidden: Tofu")

	out, err = execute(t, "start", "--names", names, "--batch")
	require.NoError(t, err)
	assert.Contains(t, out, "with 2 names")

	out, err = execute(t, "hide", "--unhide", "Tofu")
	require.NoError(t, err)
	assert.Contains(t, out, "Visible: Tofu")

	out, err = execute(t, "start", "--names", names, "--batch", "--size", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "with 3 names")

	t.Run("size limits the tournament", func(t *testing.T) {
		out, err := execute(t, "start", "--names", names, "--batch", "--size", "2")
		require.NoError(t, err)
		assert.Contains(t, out, "with 2 names")
	})
}

func TestValidateCommand(t *testing.T) {
	workspace(t)
	valid := writeNames(t, "valid.txt", "# cats\nMochi, small and round\nTofu\n\nPepper\n")
	dup := writeNames(t, "dup.txt", "Mochi\nMochi\n")
	single := writeNames(t, "single.txt", "Mochi\n")

	t.Run("valid names", func(t *testing.T) {
		out, err := execute(t, "validate", "--names", valid, "--preview", "2")
		require.NoError(t, err)
		assert.Contains(t, out, "VALID: 3 names")
		assert.Contains(t, out, "[1] Mochi")
		assert.Contains(t, out, "small and round")
		assert.NotContains(t, out, "[3] Pepper")
	})

	for name, file := range map[string]string{"duplicates": dup, "single name": single} {
		t.Run(name, func(t *testing.T) {
			out, err := execute(t, "validate", "--names", file)
			requireCode(t, err, ExitValidationError)
			assert.Contains(t, out, "INVALID")
		})
	}

	t.Run("nothing to validate", func(t *testing.T) {
		_, err := execute(t, "validate")
		requireCode(t, err, ExitConfigError)
	})

	t.Run("journal", func(t *testing.T) {
		_, err := execute(t, "start", "--names", valid, "--batch", "--end-early")
		require.NoError(t, err)
		path := filepath.Join("journal", "audit-alice.jsonl")

		out, err := execute(t, "validate", "--journal", path)
		require.NoError(t, err)
		assert.Contains(t, out, "VALID journal")
		assert.Contains(t, out, "2 entries")

		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(path, []byte(strings.Replace(string(raw), "Mochi", "Mocha", 1)), 0644))

		_, err = execute(t, "validate", "--journal", path)
		requireCode(t, err, ExitValidationError)
	})
}

func TestExportCommand(t *testing.T) {
	workspace(t)
	names := writeNames(t, "names.txt", "Mochi\nTofu\n")
	_, err := execute(t, "start", "--names", names, "--batch", "--vote", "right")
	require.NoError(t, err)

	sessions := listSessions(t, "complete")
	require.Len(t, sessions, 1)
	key := sessions[0].Key

	t.Run("default file name", func(t *testing.T) {
		out, err := execute(t, "export", "--key", key)
		require.NoError(t, err)
		path := "rankings_" + key[:12] + ".csv"
		assert.Contains(t, out, "Exported rankings to: "+path)

		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
		require.Len(t, lines, 3)
		assert.True(t, strings.HasPrefix(lines[1], "1,Tofu,"))
	})

	t.Run("json with history", func(t *testing.T) {
		_, err := execute(t, "export", "--key", key, "--format", "json", "--include-history", "--output", "out.json")
		require.NoError(t, err)

		raw, err := os.ReadFile("out.json")
		require.NoError(t, err)
		var report journal.Report
		require.NoError(t, json.Unmarshal(raw, &report))
		assert.False(t, report.Provisional)
		assert.Len(t, report.History, 1)
		assert.Equal(t, "Tofu", report.Rankings[0].Name)
	})

	t.Run("text to stdout", func(t *testing.T) {
		out, err := execute(t, "export", "--key", key, "--format", "text", "--output", "-")
		require.NoError(t, err)
		assert.Contains(t, out, "Cat Name Tournament")
		assert.Contains(t, out, "1st. Tofu")
	})

	t.Run("errors", func(t *testing.T) {
		_, err := execute(t, "export", "--key", key, "--format", "xml")
		requireCode(t, err, ExitConfigError)

		_, err = execute(t, "export", "--key", "ffffffffffffffff")
		requireCode(t, err, ExitSessionError)
	})
}

func TestStatsCommand(t *testing.T) {
	dir := workspace(t)
	names := writeNames(t, "names.txt", "Mochi\nTofu\n")

	t.Run("file backend has no statistics", func(t *testing.T) {
		_, err := execute(t, "stats")
		requireCode(t, err, ExitConfigError)
	})

	sqlite := []string{"--backend", "sqlite", "--dsn", filepath.Join(dir, "catelo.db")}

	out, err := execute(t, append(sqlite, "stats")...)
	require.NoError(t, err)
	assert.Contains(t, out, "No finished tournaments yet")

	_, err = execute(t, append(sqlite, "start", "--names", names, "--batch", "--vote", "left")...)
	require.NoError(t, err)

	out, err = execute(t, append(sqlite, "stats")...)
	require.NoError(t, err)
	assert.Contains(t, out, "1st")
	assert.Contains(t, out, "Mochi")
	assert.Contains(t, out, "Tofu")
}

func TestInitCommand(t *testing.T) {
	workspace(t)

	out, err := execute(t, "init", "--output", "conf/catelo.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote default configuration")

	config, err := data.LoadFromFile("conf/catelo.yaml")
	require.NoError(t, err)
	assert.Equal(t, data.DefaultConfig(), *config)

	_, err = execute(t, "init", "--output", "conf/catelo.yaml")
	requireCode(t, err, ExitFileError)

	_, err = execute(t, "init", "--output", "conf/catelo.yaml", "--force")
	assert.NoError(t, err)
}
