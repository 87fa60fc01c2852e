package tournament

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pashagolub/catelo/pkg/data"
	"github.com/pashagolub/catelo/pkg/elo"
)

var errStoreDown = errors.New("store is down")

// memoryStore is an in-memory Persistence
type memoryStore struct {
	mu       sync.Mutex
	sessions map[string]*data.TournamentSession
	failSave bool
	saves    int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{sessions: make(map[string]*data.TournamentSession)}
}

func (m *memoryStore) Load(_ context.Context, key string) (*data.TournamentSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", data.ErrSessionNotFound, key)
	}
	return session.Clone(), nil
}

func (m *memoryStore) Save(_ context.Context, key string, session *data.TournamentSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.failSave {
		return errStoreDown
	}
	m.sessions[key] = session.Clone()
	return nil
}

// countingRecorder counts recorded events
type countingRecorder struct {
	started, votes, undos, completed int
	resumed, early                   bool
}

func (r *countingRecorder) SessionStarted(_ context.Context, _ string, _ *data.TournamentSession, resumed bool) error {
	r.started++
	r.resumed = resumed
	return nil
}

func (r *countingRecorder) VoteRecorded(context.Context, string, data.MatchRecord) error {
	r.votes++
	return nil
}

func (r *countingRecorder) VoteUndone(context.Context, string, data.MatchRecord) error {
	r.undos++
	return errors.New("journal full")
}

func (r *countingRecorder) TournamentCompleted(_ context.Context, _ string, _ []elo.FinalRating, early bool) error {
	r.completed++
	r.early = early
	return nil
}

type testEnv struct {
	ctrl      *Controller
	clock     *clockwork.FakeClock
	store     *memoryStore
	completed [][]elo.FinalRating
}

func testOptions(clock clockwork.Clock) Options {
	return Options{
		Engine: elo.Config{
			InitialRating: 1500,
			KFactor:       32,
			MinRating:     1000,
			MaxRating:     2000,
			Jitter:        0,
		},
		Scheduler:        elo.DefaultSchedulerConfig(),
		DebounceInterval: 500 * time.Millisecond,
		UndoWindow:       2500 * time.Millisecond,
		CompletionPolicy: data.CompletionEstimate,
		UserName:         "tester",
		Clock:            clock,
		Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func newTestEnv(t *testing.T, mutate ...func(*Options)) *testEnv {
	t.Helper()
	env := &testEnv{
		clock: clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		store: newMemoryStore(),
	}
	opts := testOptions(env.clock)
	opts.Persistence = env.store
	opts.OnComplete = func(ratings []elo.FinalRating) {
		env.completed = append(env.completed, ratings)
	}
	for _, m := range mutate {
		m(&opts)
	}
	ctrl, err := New(opts)
	require.NoError(t, err)
	env.ctrl = ctrl
	return env
}

func inputsOf(names ...string) []data.CandidateInput {
	inputs := make([]data.CandidateInput, len(names))
	for i, n := range names {
		inputs[i] = data.CandidateInput{ID: n, Name: n}
	}
	return inputs
}

// vote casts a vote after the debounce lock has expired
func (e *testEnv) vote(t *testing.T, outcome elo.Outcome) {
	t.Helper()
	e.clock.Advance(600 * time.Millisecond)
	require.True(t, e.ctrl.Vote(context.Background(), outcome))
}

func ratingsByName(candidates []data.Candidate) map[string]float64 {
	result := make(map[string]float64, len(candidates))
	for _, c := range candidates {
		result[c.Name] = c.Rating
	}
	return result
}

func TestNew(t *testing.T) {
	t.Run("InvalidEngine", func(t *testing.T) {
		opts := testOptions(nil)
		opts.Engine.KFactor = 0
		_, err := New(opts)
		assert.ErrorIs(t, err, elo.ErrInvalidKFactor)
	})

	t.Run("UnknownPolicy", func(t *testing.T) {
		opts := testOptions(nil)
		opts.CompletionPolicy = "whenever"
		_, err := New(opts)
		assert.ErrorIs(t, err, data.ErrInvalidTournamentConfig)
	})

	t.Run("Defaults", func(t *testing.T) {
		ctrl, err := New(Options{Engine: elo.DefaultConfig()})
		require.NoError(t, err)
		assert.Equal(t, data.StatusInitializing, ctrl.State())
		_, ok := ctrl.CurrentMatch()
		assert.False(t, ok)
		assert.False(t, ctrl.Vote(context.Background(), elo.AWins))
		assert.False(t, ctrl.Undo(context.Background()))
		assert.False(t, ctrl.EndEarly(context.Background()))
	})

	t.Run("FromConfig", func(t *testing.T) {
		config := data.DefaultConfig()
		config.Tournament.Seed = 3
		config.Tournament.CompletionPolicy = data.CompletionExhaustion
		opts := OptionsFromConfig(config)
		assert.Equal(t, 500*time.Millisecond, opts.DebounceInterval)
		assert.Equal(t, data.CompletionExhaustion, opts.CompletionPolicy)
		assert.NotNil(t, opts.Jitter)
		_, err := New(opts)
		assert.NoError(t, err)
	})
}

func TestTotalMatchesFor(t *testing.T) {
	tests := []struct{ n, want int }{
		{0, 0}, {1, 0}, {2, 1}, {3, 5}, {4, 8}, {8, 24}, {10, 34},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TotalMatchesFor(tt.n), "n=%d", tt.n)
	}
}

func TestMinimalTournament(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.ctrl.Initialize(ctx, inputsOf("A", "B"), nil))

	assert.Equal(t, data.StatusInProgress, env.ctrl.State())
	assert.Equal(t, 1, env.ctrl.TotalMatches())
	match, ok := env.ctrl.CurrentMatch()
	require.True(t, ok)
	assert.Equal(t, "A", match.Left.Name)
	assert.Equal(t, "B", match.Right.Name)

	require.True(t, env.ctrl.Vote(ctx, elo.AWins))

	history := env.ctrl.History()
	require.Len(t, history, 1)
	assert.Equal(t, data.RatingPair{Left: 1500, Right: 1500}, history[0].RatingsBefore)
	assert.Equal(t, data.RatingPair{Left: 1516, Right: 1484}, history[0].RatingsAfter)
	assert.True(t, history[0].Left.Won)
	assert.False(t, history[0].Right.Won)
	assert.Equal(t, "tester", history[0].UserName)

	assert.Equal(t, data.StatusComplete, env.ctrl.State())
	require.Len(t, env.completed, 1)
	final := env.completed[0]
	require.Len(t, final, 2)
	assert.Equal(t, elo.FinalRating{Name: "A", Rating: 1543, Wins: 1, Losses: 0, Position: 0}, final[0])
	assert.Equal(t, elo.FinalRating{Name: "B", Rating: 1497, Wins: 0, Losses: 1, Position: 1}, final[1])
	assert.Equal(t, final, env.ctrl.FinalRatings())

	candidates := env.ctrl.Candidates()
	assert.Equal(t, 1543.0, candidates[0].Rating)
	require.Len(t, candidates[0].RatingHistory, 1)
	assert.Equal(t, 1543.0, candidates[0].RatingHistory[0].Rating)

	env.clock.Advance(time.Second)
	assert.False(t, env.ctrl.Vote(ctx, elo.BWins), "no votes after completion")
	assert.False(t, env.ctrl.Undo(ctx), "no undo after completion")
	assert.Len(t, env.completed, 1)
	assert.Equal(t, 100.0, env.ctrl.Progress().Percent)
}

func TestFourNameTournament(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.ctrl.Initialize(ctx, inputsOf("A", "B", "C", "D"), nil))
	assert.Equal(t, 8, env.ctrl.TotalMatches())

	seen := make(map[string]bool)
	for i := range 8 {
		match, ok := env.ctrl.CurrentMatch()
		require.True(t, ok, "match %d", i+1)
		assert.Equal(t, i+1, match.Number)
		if i < 6 {
			pair := elo.Pair{A: match.Left.Name, B: match.Right.Name}
			assert.False(t, seen[pair.Key()], "pair %s repeated before all pairs were judged", pair.Key())
			seen[pair.Key()] = true
		}
		env.vote(t, elo.AWins)
		assert.Equal(t, len(env.ctrl.History()), env.ctrl.MatchIndex()-1)
	}

	assert.Len(t, seen, 6)
	assert.Equal(t, data.StatusComplete, env.ctrl.State())
	require.Len(t, env.completed, 1)
	assert.Len(t, env.completed[0], 4)
	assert.Equal(t, 9, env.ctrl.MatchIndex())
	assert.Len(t, env.ctrl.Judgments(), 6)

	env.clock.Advance(time.Second)
	assert.False(t, env.ctrl.Vote(ctx, elo.AWins))
	assert.Len(t, env.completed, 1)
}

func TestThreeNameFallback(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.ctrl.Initialize(context.Background(), inputsOf("A", "B", "C"), nil))

	match, ok := env.ctrl.CurrentMatch()
	require.True(t, ok)
	assert.Equal(t, "A", match.Left.Name)
	assert.Equal(t, "B", match.Right.Name)
	assert.Equal(t, 1, match.Number)
	assert.Equal(t, 1, match.Round)
	assert.Equal(t, 5, env.ctrl.TotalMatches())
}

func TestDebounce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.ctrl.Initialize(ctx, inputsOf("A", "B", "C", "D"), nil))

	require.True(t, env.ctrl.Vote(ctx, elo.AWins))
	assert.True(t, env.ctrl.Locked())
	assert.False(t, env.ctrl.Vote(ctx, elo.BWins), "second vote inside the lock is ignored")

	env.clock.Advance(499 * time.Millisecond)
	assert.False(t, env.ctrl.Vote(ctx, elo.BWins))
	assert.Len(t, env.ctrl.History(), 1)

	env.clock.Advance(time.Millisecond)
	assert.False(t, env.ctrl.Locked())
	assert.True(t, env.ctrl.Vote(ctx, elo.BWins))
	assert.Len(t, env.ctrl.History(), 2)
}

func TestUndo(t *testing.T) {
	ctx := context.Background()

	t.Run("RestoresPreviousState", func(t *testing.T) {
		env := newTestEnv(t)
		require.NoError(t, env.ctrl.Initialize(ctx, inputsOf("A", "B", "C"), nil))
		env.vote(t, elo.AWins)

		beforeCandidates := env.ctrl.Candidates()
		beforeMatch, ok := env.ctrl.CurrentMatch()
		require.True(t, ok)
		beforeJudgments := env.ctrl.Judgments()
		beforeIndex := env.ctrl.MatchIndex()

		env.vote(t, elo.BWins)
		assert.True(t, env.ctrl.CanUndo())
		require.True(t, env.ctrl.Undo(ctx))

		assert.Equal(t, beforeCandidates, env.ctrl.Candidates())
		assert.Equal(t, beforeJudgments, env.ctrl.Judgments())
		assert.Equal(t, beforeIndex, env.ctrl.MatchIndex())
		assert.Len(t, env.ctrl.History(), beforeIndex-1)
		match, ok := env.ctrl.CurrentMatch()
		require.True(t, ok)
		assert.Equal(t, beforeMatch.Left.Name, match.Left.Name)
		assert.Equal(t, beforeMatch.Right.Name, match.Right.Name)
	})

	t.Run("UndoThenRevote", func(t *testing.T) {
		env := newTestEnv(t)
		require.NoError(t, env.ctrl.Initialize(ctx, inputsOf("A", "B"), nil))
		require.True(t, env.ctrl.Vote(ctx, elo.BWins))
		// a two name tournament completes on its only vote
		assert.False(t, env.ctrl.Undo(ctx))

		env = newTestEnv(t)
		require.NoError(t, env.ctrl.Initialize(ctx, inputsOf("A", "B", "C"), nil))
		require.True(t, env.ctrl.Vote(ctx, elo.BWins))
		require.True(t, env.ctrl.Undo(ctx), "undo is not subject to the vote lock")
		assert.False(t, env.ctrl.Vote(ctx, elo.AWins), "undo locks voting")
		env.vote(t, elo.AWins)
		history := env.ctrl.History()
		require.Len(t, history, 1)
		assert.Equal(t, elo.AWins, history[0].Outcome)
	})

	t.Run("NothingToUndo", func(t *testing.T) {
		env := newTestEnv(t)
		require.NoError(t, env.ctrl.Initialize(ctx, inputsOf("A", "B", "C"), nil))
		assert.False(t, env.ctrl.CanUndo())
		assert.False(t, env.ctrl.Undo(ctx))
	})

	t.Run("WindowExpires", func(t *testing.T) {
		env := newTestEnv(t)
		require.NoError(t, env.ctrl.Initialize(ctx, inputsOf("A", "B", "C"), nil))
		env.vote(t, elo.AWins)
		env.clock.Advance(2500 * time.Millisecond)
		assert.True(t, env.ctrl.CanUndo(), "window edge is inclusive")
		env.clock.Advance(time.Millisecond)
		assert.False(t, env.ctrl.CanUndo())
		assert.False(t, env.ctrl.Undo(ctx))
		assert.Len(t, env.ctrl.History(), 1)
	})

	t.Run("SingleLevel", func(t *testing.T) {
		env := newTestEnv(t)
		require.NoError(t, env.ctrl.Initialize(ctx, inputsOf("A", "B", "C", "D"), nil))
		env.vote(t, elo.AWins)
		env.vote(t, elo.BothWin)
		require.True(t, env.ctrl.Undo(ctx))
		assert.False(t, env.ctrl.Undo(ctx), "only the most recent vote can be undone")
		assert.Len(t, env.ctrl.History(), 1)

		env.vote(t, elo.Neither)
		assert.True(t, env.ctrl.CanUndo(), "a new vote can be undone again")
	})
}

func TestRounds(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.ctrl.Initialize(context.Background(), inputsOf("A", "B", "C", "D"), nil))

	assert.Equal(t, 1, env.ctrl.Round())
	env.vote(t, elo.AWins)
	assert.Equal(t, 1, env.ctrl.Round())
	env.vote(t, elo.AWins)
	assert.Equal(t, 2, env.ctrl.Round())

	progress := env.ctrl.Progress()
	assert.Equal(t, 2, progress.Completed)
	assert.Equal(t, 8, progress.Total)
	assert.Equal(t, 25.0, progress.Percent)
	assert.Equal(t, 4, progress.RemainingPairs)
}

func TestInvalidInput(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		inputs  []data.CandidateInput
		wantErr error
	}{
		{"no candidates", nil, ErrTooFewCandidates},
		{"one candidate", inputsOf("A"), ErrTooFewCandidates},
		{"duplicate names", inputsOf("A", "A"), data.ErrDuplicateName},
		{"empty name", []data.CandidateInput{{Name: "A"}, {Name: " "}}, data.ErrEmptyName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			require.NoError(t, env.ctrl.Initialize(ctx, tt.inputs, nil))
			assert.True(t, env.ctrl.IsError())
			assert.ErrorIs(t, env.ctrl.LastError(), tt.wantErr)
			assert.False(t, env.ctrl.Vote(ctx, elo.AWins))
			_, ok := env.ctrl.CurrentMatch()
			assert.False(t, ok)
			assert.Empty(t, env.completed)
		})
	}

	t.Run("RecoversOnNextInitialize", func(t *testing.T) {
		env := newTestEnv(t)
		require.NoError(t, env.ctrl.Initialize(ctx, inputsOf("A"), nil))
		require.True(t, env.ctrl.IsError())
		require.NoError(t, env.ctrl.Initialize(ctx, inputsOf("A", "B"), nil))
		assert.Equal(t, data.StatusInProgress, env.ctrl.State())
		assert.NoError(t, env.ctrl.LastError())
	})
}

func TestExistingRatings(t *testing.T) {
	env := newTestEnv(t)
	existing := map[string]data.ExistingRating{
		"A": {Rating: 1700, Wins: 5, Losses: 1},
		"C": {Rating: 900},
	}
	require.NoError(t, env.ctrl.Initialize(context.Background(), inputsOf("A", "B", "C"), existing))

	ratings := ratingsByName(env.ctrl.Candidates())
	assert.Equal(t, 1700.0, ratings["A"])
	assert.Equal(t, 1500.0, ratings["B"])
	assert.Equal(t, 1000.0, ratings["C"], "existing ratings are clamped")

	standings := env.ctrl.Standings()
	assert.Equal(t, []string{"A", "B", "C"}, []string{standings[0].Name, standings[1].Name, standings[2].Name})

	// differing ratings make the first pick adaptive: B is closest to both
	match, ok := env.ctrl.CurrentMatch()
	require.True(t, ok)
	assert.Equal(t, "A", match.Left.Name)
	assert.Equal(t, "B", match.Right.Name)
}

func TestCompletionPolicies(t *testing.T) {
	ctx := context.Background()

	t.Run("Exhaustion", func(t *testing.T) {
		env := newTestEnv(t, func(o *Options) { o.CompletionPolicy = data.CompletionExhaustion })
		require.NoError(t, env.ctrl.Initialize(ctx, inputsOf("A", "B", "C", "D"), nil))
		for range 5 {
			env.vote(t, elo.BWins)
		}
		assert.Equal(t, data.StatusInProgress, env.ctrl.State())
		env.vote(t, elo.BWins)
		assert.Equal(t, data.StatusComplete, env.ctrl.State())
		assert.Len(t, env.completed, 1)
		assert.Len(t, env.ctrl.History(), 6)
	})

	t.Run("EstimateWithoutRematches", func(t *testing.T) {
		env := newTestEnv(t, func(o *Options) { o.Scheduler.SequenceFallback = false })
		require.NoError(t, env.ctrl.Initialize(ctx, inputsOf("A", "B", "C", "D"), nil))
		for range 6 {
			env.vote(t, elo.Neither)
		}
		assert.Equal(t, data.StatusComplete, env.ctrl.State(), "running out of pairs completes")
		assert.Len(t, env.completed, 1)
		assert.Equal(t, 7, env.ctrl.MatchIndex())
	})
}

func TestEndEarly(t *testing.T) {
	ctx := context.Background()
	recorder := &countingRecorder{}
	env := newTestEnv(t, func(o *Options) { o.Recorder = recorder })
	require.NoError(t, env.ctrl.Initialize(ctx, inputsOf("A", "B", "C", "D"), nil))
	env.vote(t, elo.AWins)
	env.vote(t, elo.BWins)

	require.True(t, env.ctrl.EndEarly(ctx))
	assert.Equal(t, data.StatusComplete, env.ctrl.State())
	require.Len(t, env.completed, 1)
	assert.Len(t, env.completed[0], 4)
	assert.True(t, recorder.early)

	assert.False(t, env.ctrl.EndEarly(ctx))
	env.clock.Advance(time.Second)
	assert.False(t, env.ctrl.Vote(ctx, elo.AWins))
	assert.Len(t, env.completed, 1)
}

func TestRecorder(t *testing.T) {
	ctx := context.Background()
	recorder := &countingRecorder{}
	env := newTestEnv(t, func(o *Options) { o.Recorder = recorder })
	require.NoError(t, env.ctrl.Initialize(ctx, inputsOf("A", "B", "C"), nil))
	env.vote(t, elo.AWins)
	require.True(t, env.ctrl.Undo(ctx), "recorder errors do not block undo")
	for range 5 {
		env.vote(t, elo.AWins)
	}

	assert.Equal(t, 1, recorder.started)
	assert.False(t, recorder.resumed)
	assert.Equal(t, 6, recorder.votes)
	assert.Equal(t, 1, recorder.undos)
	assert.Equal(t, 1, recorder.completed)
	assert.False(t, recorder.early)
}

func TestCompletionCallbackMayReadState(t *testing.T) {
	var state data.SessionStatus
	var ctrl *Controller
	env := newTestEnv(t, func(o *Options) {
		o.OnComplete = func([]elo.FinalRating) { state = ctrl.State() }
	})
	ctrl = env.ctrl
	require.NoError(t, ctrl.Initialize(context.Background(), inputsOf("A", "B"), nil))
	require.True(t, ctrl.Vote(context.Background(), elo.Neither))
	assert.Equal(t, data.StatusComplete, state)
}

func TestPersistence(t *testing.T) {
	ctx := context.Background()

	t.Run("SnapshotAfterEveryChange", func(t *testing.T) {
		env := newTestEnv(t)
		require.NoError(t, env.ctrl.Initialize(ctx, inputsOf("A", "B", "C"), nil))
		assert.Equal(t, 1, env.store.saves)
		env.vote(t, elo.AWins)
		require.True(t, env.ctrl.Undo(ctx))
		assert.Equal(t, 3, env.store.saves)

		env.vote(t, elo.BWins)
		stored, err := env.store.Load(ctx, env.ctrl.Key())
		require.NoError(t, err)
		assert.NoError(t, stored.Validate())
		assert.Equal(t, 2, stored.CurrentMatchIndex)
		assert.Equal(t, env.ctrl.History(), stored.MatchHistory)
		assert.Equal(t, "tester", stored.UserName)
		assert.Equal(t, data.StatusInProgress, stored.Status)
		assert.Equal(t, data.SessionKey([]string{"C", "B", "A"}, "tester"), env.ctrl.Key())
	})

	t.Run("SaveFailuresAreTolerated", func(t *testing.T) {
		env := newTestEnv(t)
		env.store.failSave = true
		require.NoError(t, env.ctrl.Initialize(ctx, inputsOf("A", "B", "C"), nil))
		env.vote(t, elo.AWins)
		env.vote(t, elo.AWins)
		assert.Equal(t, 3, env.ctrl.MatchIndex())
		assert.Len(t, env.ctrl.History(), 2)
		assert.Equal(t, data.StatusInProgress, env.ctrl.State())
	})

	t.Run("Resume", func(t *testing.T) {
		first := newTestEnv(t)
		require.NoError(t, first.ctrl.Initialize(ctx, inputsOf("A", "B", "C", "D"), nil))
		first.vote(t, elo.AWins)
		first.vote(t, elo.BothWin)
		first.vote(t, elo.BWins)

		recorder := &countingRecorder{}
		opts := testOptions(first.clock)
		opts.Persistence = first.store
		opts.Recorder = recorder
		second, err := New(opts)
		require.NoError(t, err)
		require.NoError(t, second.Initialize(ctx, inputsOf("A", "B", "C", "D"), nil))

		assert.True(t, recorder.resumed)
		assert.Equal(t, first.ctrl.History(), second.History())
		assert.Equal(t, 4, second.MatchIndex())
		assert.Equal(t, first.ctrl.Round(), second.Round())
		assert.Equal(t, first.ctrl.Candidates(), second.Candidates())
		assert.Equal(t, first.ctrl.Judgments(), second.Judgments())
		assert.Equal(t, first.ctrl.Snapshot().ID, second.Snapshot().ID)
		assert.False(t, second.CanUndo(), "undo does not survive a restart")

		firstMatch, _ := first.ctrl.CurrentMatch()
		secondMatch, ok := second.CurrentMatch()
		require.True(t, ok)
		assert.Equal(t, firstMatch.Left.Name, secondMatch.Left.Name)
		assert.Equal(t, firstMatch.Right.Name, secondMatch.Right.Name)
	})

	t.Run("CompletedSnapshotStartsFresh", func(t *testing.T) {
		env := newTestEnv(t)
		require.NoError(t, env.ctrl.Initialize(ctx, inputsOf("A", "B"), nil))
		require.True(t, env.ctrl.Vote(ctx, elo.AWins))
		require.Equal(t, data.StatusComplete, env.ctrl.State())

		require.NoError(t, env.ctrl.Initialize(ctx, inputsOf("A", "B"), nil))
		assert.Equal(t, data.StatusInProgress, env.ctrl.State())
		assert.Equal(t, 1, env.ctrl.MatchIndex())
		assert.Empty(t, env.ctrl.History())
	})

	t.Run("CorruptSnapshot", func(t *testing.T) {
		env := newTestEnv(t)
		require.NoError(t, env.ctrl.Initialize(ctx, inputsOf("A", "B", "C"), nil))
		env.vote(t, elo.AWins)

		key := env.ctrl.Key()
		env.store.sessions[key].CurrentMatchIndex = 7

		err := env.ctrl.Initialize(ctx, inputsOf("A", "B", "C"), nil)
		assert.ErrorIs(t, err, data.ErrCorruptSession)
		assert.True(t, env.ctrl.IsError())
		assert.False(t, env.ctrl.Vote(ctx, elo.AWins))
	})

	t.Run("DifferentSetDiscardsState", func(t *testing.T) {
		env := newTestEnv(t)
		require.NoError(t, env.ctrl.Initialize(ctx, inputsOf("A", "B", "C"), nil))
		env.vote(t, elo.AWins)
		firstKey := env.ctrl.Key()

		require.NoError(t, env.ctrl.Initialize(ctx, inputsOf("D", "E", "F"), nil))
		assert.NotEqual(t, firstKey, env.ctrl.Key())
		assert.Empty(t, env.ctrl.History())
		assert.Empty(t, env.ctrl.Judgments())
		assert.Equal(t, 1, env.ctrl.MatchIndex())
	})
}

func TestDeterminism(t *testing.T) {
	run := func() []data.MatchRecord {
		env := newTestEnv(t, func(o *Options) {
			o.Engine.Jitter = 0.05
			o.Jitter = elo.NewSeededSource(11)
		})
		require.NoError(t, env.ctrl.Initialize(context.Background(), inputsOf("A", "B", "C", "D", "E"), nil))
		outcomes := []elo.Outcome{elo.BothWin, elo.AWins, elo.Neither, elo.BWins, elo.BothWin, elo.Neither}
		for _, o := range outcomes {
			env.vote(t, o)
		}
		return env.ctrl.History()
	}

	first := run()
	assert.Equal(t, first, run())
	assert.NotEqual(t, 0.0, first[0].Preference, "both/neither preferences carry jitter")
	assert.Less(t, first[0].Preference*first[0].Preference, 0.01)
}

func TestBoundedRatings(t *testing.T) {
	env := newTestEnv(t)
	names := []string{"A", "B", "C", "D", "E", "F", "G", "H"}
	require.NoError(t, env.ctrl.Initialize(context.Background(), inputsOf(names...), nil))

	for env.ctrl.State() == data.StatusInProgress {
		env.vote(t, elo.AWins)
		for _, c := range env.ctrl.Candidates() {
			assert.GreaterOrEqual(t, c.Rating, 1000.0)
			assert.LessOrEqual(t, c.Rating, 2000.0)
		}
	}
	assert.Len(t, env.ctrl.History(), 24)
	require.Len(t, env.completed, 1)
	for _, f := range env.completed[0] {
		assert.GreaterOrEqual(t, f.Rating, 1000.0)
		assert.LessOrEqual(t, f.Rating, 2000.0)
	}
}
