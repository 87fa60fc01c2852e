// Package tournament drives a pairwise name tournament: it owns the
// candidates, applies votes through the Elo engine, keeps the preference
// ledger, asks the scheduler for the next pair, paces input with a debounce
// lock and a short undo window, and mirrors its state into a resumable
// snapshot after every change.
package tournament

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/pashagolub/catelo/pkg/data"
	"github.com/pashagolub/catelo/pkg/elo"
)

// Error types reported by the controller
var (
	ErrTooFewCandidates = errors.New("a tournament needs at least two candidates")
)

// Persistence stores tournament snapshots by session key. Load returns
// data.ErrSessionNotFound when nothing is stored for key.
type Persistence interface {
	Load(ctx context.Context, key string) (*data.TournamentSession, error)
	Save(ctx context.Context, key string, session *data.TournamentSession) error
}

// Recorder receives tournament events, typically an audit trail.
// Errors are logged and otherwise ignored.
type Recorder interface {
	SessionStarted(ctx context.Context, key string, session *data.TournamentSession, resumed bool) error
	VoteRecorded(ctx context.Context, key string, record data.MatchRecord) error
	VoteUndone(ctx context.Context, key string, record data.MatchRecord) error
	TournamentCompleted(ctx context.Context, key string, ratings []elo.FinalRating, early bool) error
}

// Options configures a Controller
type Options struct {
	Engine           elo.Config
	Scheduler        elo.SchedulerConfig
	DebounceInterval time.Duration
	UndoWindow       time.Duration
	CompletionPolicy string // data.CompletionEstimate or data.CompletionExhaustion
	UserName         string

	Clock       clockwork.Clock  // nil means the real clock
	Jitter      elo.JitterSource // nil means a time seeded source
	Persistence Persistence      // optional
	Recorder    Recorder         // optional
	Logger      *slog.Logger     // nil means slog.Default()
	OnComplete  func([]elo.FinalRating)
}

// OptionsFromConfig maps the application configuration onto controller options
func OptionsFromConfig(config data.Config) Options {
	opts := Options{
		Engine:           config.Elo.EngineConfig(),
		Scheduler:        config.Tournament.SchedulerConfig(),
		DebounceInterval: config.Tournament.DebounceInterval,
		UndoWindow:       config.Tournament.UndoWindow,
		CompletionPolicy: config.Tournament.CompletionPolicy,
	}
	if config.Tournament.Seed != 0 {
		opts.Jitter = elo.NewSeededSource(config.Tournament.Seed)
	}
	return opts
}

// Match is the pair currently presented for a vote
type Match struct {
	Number int
	Round  int
	Left   data.Candidate
	Right  data.Candidate
}

// Progress summarizes how far the tournament is
type Progress struct {
	Completed      int     // Votes cast
	Total          int     // Estimated number of votes
	Round          int     // Current round
	Percent        float64 // Completed/Total capped at 100
	RemainingPairs int     // Pairs without a judgment
}

// Controller is the tournament state machine. All methods are safe for
// concurrent use; votes and undos are serialized.
type Controller struct {
	mu sync.Mutex

	engine      *elo.Engine
	scheduler   *elo.Scheduler
	clock       clockwork.Clock
	logger      *slog.Logger
	persistence Persistence
	recorder    Recorder
	onComplete  func([]elo.FinalRating)
	debounce    time.Duration
	undoWindow  time.Duration
	policy      string
	user        string

	key         string
	id          string
	createdAt   time.Time
	state       data.SessionStatus
	lastErr     error
	candidates  []data.Candidate
	inputs      []data.CandidateInput
	index       map[string]int // name -> position in candidates
	names       []string
	ledger      *elo.Ledger
	comparisons map[string]int
	history     []data.MatchRecord
	current     elo.Pair
	matchIndex  int
	round       int
	total       int
	lockedUntil time.Time
	lastVoteAt  time.Time
	undoable    bool
	final       []elo.FinalRating
}

// New creates a controller in the initializing state
func New(opts Options) (*Controller, error) {
	engine, err := elo.NewEngine(opts.Engine, opts.Jitter)
	if err != nil {
		return nil, fmt.Errorf("invalid engine configuration: %w", err)
	}
	switch opts.CompletionPolicy {
	case "":
		opts.CompletionPolicy = data.CompletionEstimate
	case data.CompletionEstimate, data.CompletionExhaustion:
	default:
		return nil, fmt.Errorf("%w: unknown completion policy %q", data.ErrInvalidTournamentConfig, opts.CompletionPolicy)
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Controller{
		engine:      engine,
		scheduler:   elo.NewScheduler(opts.Scheduler),
		clock:       opts.Clock,
		logger:      opts.Logger,
		persistence: opts.Persistence,
		recorder:    opts.Recorder,
		onComplete:  opts.OnComplete,
		debounce:    max(0, opts.DebounceInterval),
		undoWindow:  max(0, opts.UndoWindow),
		policy:      opts.CompletionPolicy,
		user:        data.NormalizeName(opts.UserName),
		state:       data.StatusInitializing,
		ledger:      elo.NewLedger(),
	}, nil
}

// TotalMatchesFor estimates the number of votes needed to rank n names:
// one for a pair, ceil(n*log2(n)) otherwise.
func TotalMatchesFor(n int) int {
	if n < 2 {
		return 0
	}
	if n == 2 {
		return 1
	}
	return int(math.Ceil(float64(n) * math.Log2(float64(n))))
}

// roundFor returns the round of a one-based match index
func roundFor(matchIndex, n int) int {
	perRound := max(1, (n+1)/2)
	return (max(1, matchIndex)-1)/perRound + 1
}

// Initialize starts or resumes the tournament for inputs. Existing ratings
// are applied by name. Invalid input moves the controller into the error
// state and is reported through LastError. A stored snapshot for the same
// names and user is resumed; a corrupted one is reported as an error
// wrapping data.ErrCorruptSession and leaves the controller in the error state.
func (c *Controller) Initialize(ctx context.Context, inputs []data.CandidateInput, existing map[string]data.ExistingRating) error {
	c.mu.Lock()
	final, err := c.initialize(ctx, inputs, existing)
	c.mu.Unlock()

	if final != nil {
		c.notify(final)
	}
	return err
}

func (c *Controller) initialize(ctx context.Context, inputs []data.CandidateInput, existing map[string]data.ExistingRating) ([]elo.FinalRating, error) {
	c.reset()

	candidates, err := data.BuildCandidates(inputs, existing, c.engine.InitialRating, c.engine.MinRating, c.engine.MaxRating)
	if err != nil {
		c.fail(err)
		return nil, nil
	}
	if len(candidates) < 2 {
		c.fail(fmt.Errorf("%w: got %d", ErrTooFewCandidates, len(candidates)))
		return nil, nil
	}

	c.candidates = candidates
	c.inputs = make([]data.CandidateInput, len(candidates))
	c.names = make([]string, len(candidates))
	c.index = make(map[string]int, len(candidates))
	for i, cand := range candidates {
		c.inputs[i] = data.CandidateInput{ID: cand.ID, Name: cand.Name, Description: cand.Description}
		c.names[i] = cand.Name
		c.index[cand.Name] = i
	}
	c.key = data.SessionKey(c.names, c.user)
	c.total = TotalMatchesFor(len(candidates))

	snapshot, err := c.loadSnapshot(ctx)
	if err != nil {
		c.fail(err)
		return nil, fmt.Errorf("resume session %s: %w", c.key, err)
	}

	resumed := snapshot != nil
	if resumed {
		c.replay(snapshot)
	} else {
		c.id = uuid.NewString()
		c.createdAt = c.clock.Now().UTC()
		c.matchIndex = 1
		c.round = 1
	}
	c.state = data.StatusInProgress
	c.logger.Info("tournament initialized",
		slog.String("session", c.key),
		slog.Int("candidates", len(c.candidates)),
		slog.Int("total_matches", c.total),
		slog.Bool("resumed", resumed))

	if c.recorder != nil {
		if err := c.recorder.SessionStarted(ctx, c.key, c.snapshot(), resumed); err != nil {
			c.logger.Warn("failed to record session start", slog.String("session", c.key), slog.Any("error", err))
		}
	}

	final := c.advance(ctx, false)
	c.save(ctx)
	return final, nil
}

// reset discards all per-tournament state
func (c *Controller) reset() {
	c.key = ""
	c.id = ""
	c.state = data.StatusInitializing
	c.lastErr = nil
	c.candidates = nil
	c.inputs = nil
	c.index = nil
	c.names = nil
	c.ledger = elo.NewLedger()
	c.comparisons = make(map[string]int)
	c.history = nil
	c.current = elo.Pair{}
	c.matchIndex = 0
	c.round = 0
	c.total = 0
	c.lockedUntil = time.Time{}
	c.lastVoteAt = time.Time{}
	c.undoable = false
	c.final = nil
}

func (c *Controller) fail(err error) {
	c.state = data.StatusError
	c.lastErr = err
	c.logger.Error("tournament failed", slog.Any("error", err))
}

// loadSnapshot returns a resumable snapshot for the current key, or nil when
// the tournament starts fresh.
func (c *Controller) loadSnapshot(ctx context.Context) (*data.TournamentSession, error) {
	if c.persistence == nil {
		return nil, nil
	}
	snapshot, err := c.persistence.Load(ctx, c.key)
	switch {
	case errors.Is(err, data.ErrSessionNotFound):
		return nil, nil
	case errors.Is(err, data.ErrCorruptSession):
		return nil, err
	case err != nil:
		// an unreachable store must not block a new tournament
		c.logger.Warn("failed to load session, starting fresh", slog.String("session", c.key), slog.Any("error", err))
		return nil, nil
	}
	if snapshot.Status == data.StatusComplete || snapshot.Status == data.StatusError {
		return nil, nil
	}
	if err := snapshot.Validate(); err != nil {
		return nil, err
	}
	for _, m := range snapshot.MatchHistory {
		if _, ok := c.index[m.Left.Name]; !ok {
			return nil, fmt.Errorf("%w: unknown name %q", data.ErrCorruptSession, m.Left.Name)
		}
		if _, ok := c.index[m.Right.Name]; !ok {
			return nil, fmt.Errorf("%w: unknown name %q", data.ErrCorruptSession, m.Right.Name)
		}
	}
	return snapshot, nil
}

// replay rebuilds ratings, counters and judgments from a snapshot history
func (c *Controller) replay(snapshot *data.TournamentSession) {
	c.id = snapshot.ID
	if c.id == "" {
		c.id = uuid.NewString()
	}
	c.createdAt = snapshot.CreatedAt
	for _, m := range snapshot.MatchHistory {
		left := &c.candidates[c.index[m.Left.Name]]
		right := &c.candidates[c.index[m.Right.Name]]
		left.Rating = m.RatingsAfter.Left
		right.Rating = m.RatingsAfter.Right
		applyCounters(left, right, m.Outcome, 1)
		c.ledger.RecordPreference(left.Name, right.Name, m.Preference)
		c.comparisons[left.Name]++
		c.comparisons[right.Name]++
	}
	c.history = slices.Clone(snapshot.MatchHistory)
	c.matchIndex = len(c.history) + 1
	c.total = max(1, snapshot.TotalMatches)
	c.round = roundFor(c.matchIndex, len(c.candidates))
}

// applyCounters adds (sign 1) or removes (sign -1) the strict win and loss of a vote
func applyCounters(left, right *data.Candidate, outcome elo.Outcome, sign int) {
	switch outcome.Normalize() {
	case elo.AWins:
		left.Wins = max(0, left.Wins+sign)
		right.Losses = max(0, right.Losses+sign)
	case elo.BWins:
		right.Wins = max(0, right.Wins+sign)
		left.Losses = max(0, left.Losses+sign)
	}
}

// Vote applies outcome to the current match. It returns false when the vote
// was ignored: during the debounce lock, without a current match, or when the
// tournament is not in progress.
func (c *Controller) Vote(ctx context.Context, outcome elo.Outcome) bool {
	c.mu.Lock()
	final, ok := c.vote(ctx, outcome)
	c.mu.Unlock()

	if final != nil {
		c.notify(final)
	}
	return ok
}

func (c *Controller) vote(ctx context.Context, outcome elo.Outcome) ([]elo.FinalRating, bool) {
	if c.state != data.StatusInProgress || c.current.IsZero() {
		return nil, false
	}
	now := c.clock.Now()
	if now.Before(c.lockedUntil) {
		c.logger.Debug("vote ignored while locked", slog.String("session", c.key))
		return nil, false
	}

	outcome = outcome.Normalize()
	left := &c.candidates[c.index[c.current.A]]
	right := &c.candidates[c.index[c.current.B]]
	before := data.RatingPair{Left: left.Rating, Right: right.Rating}

	update := c.engine.UpdateRatings(left.Rating, right.Rating, outcome,
		elo.Stats{Wins: left.Wins, Losses: left.Losses},
		elo.Stats{Wins: right.Wins, Losses: right.Losses})
	left.Rating, right.Rating = update.NewRatingA, update.NewRatingB
	left.Wins, left.Losses = update.WinsA, update.LossesA
	right.Wins, right.Losses = update.WinsB, update.LossesB

	preference := c.engine.PreferenceValue(outcome)
	c.ledger.RecordPreference(left.Name, right.Name, preference)
	c.comparisons[left.Name]++
	c.comparisons[right.Name]++

	record := data.MatchRecord{
		MatchNumber:   c.matchIndex,
		Left:          data.MatchSide{Name: left.Name, Description: left.Description, Won: outcome == elo.AWins || outcome == elo.BothWin},
		Right:         data.MatchSide{Name: right.Name, Description: right.Description, Won: outcome == elo.BWins || outcome == elo.BothWin},
		Outcome:       outcome,
		Preference:    preference,
		RatingsBefore: before,
		RatingsAfter:  data.RatingPair{Left: left.Rating, Right: right.Rating},
		Timestamp:     now.UTC(),
		UserName:      c.user,
	}
	c.history = append(c.history, record)
	c.matchIndex++
	c.round = roundFor(c.matchIndex, len(c.candidates))
	c.lastVoteAt = now
	c.undoable = true
	c.lockedUntil = now.Add(c.debounce)

	c.logger.Debug("vote recorded",
		slog.String("session", c.key),
		slog.Int("match", record.MatchNumber),
		slog.String("left", left.Name),
		slog.String("right", right.Name),
		slog.String("outcome", outcome.String()))
	if c.recorder != nil {
		if err := c.recorder.VoteRecorded(ctx, c.key, record); err != nil {
			c.logger.Warn("failed to record vote", slog.String("session", c.key), slog.Any("error", err))
		}
	}

	final := c.advance(ctx, false)
	c.save(ctx)
	return final, true
}

// advance completes the tournament when its policy says so, otherwise it
// picks the next match. Running out of pairs completes the tournament too.
func (c *Controller) advance(ctx context.Context, early bool) []elo.FinalRating {
	if early || c.completionReached() {
		return c.complete(ctx, early)
	}
	pair, ok := c.nextMatch()
	if !ok {
		c.logger.Info("no pair left to schedule", slog.String("session", c.key))
		return c.complete(ctx, false)
	}
	c.current = pair
	return nil
}

func (c *Controller) completionReached() bool {
	if c.policy == data.CompletionExhaustion {
		return c.ledger.CountRemaining(c.names) == 0
	}
	return c.matchIndex > c.total
}

func (c *Controller) nextMatch() (elo.Pair, bool) {
	ratings := make(map[string]float64, len(c.candidates))
	for _, cand := range c.candidates {
		ratings[cand.Name] = cand.Rating
	}
	if pair, ok := c.scheduler.NextMatch(c.names, c.ledger, ratings, c.comparisons); ok {
		return pair, true
	}
	if c.policy == data.CompletionExhaustion {
		return elo.Pair{}, false
	}
	return c.scheduler.NextInSequence(c.names, c.matchIndex-1)
}

// complete reconciles final ratings and moves to the complete state
func (c *Controller) complete(ctx context.Context, early bool) []elo.FinalRating {
	played := make(map[string]int, len(c.candidates))
	for _, m := range c.history {
		played[m.Left.Name]++
		played[m.Right.Name]++
	}
	standings := make([]elo.Standing, len(c.candidates))
	for i, cand := range c.candidates {
		standings[i] = elo.Standing{
			Name:   cand.Name,
			Rating: cand.Rating,
			Wins:   cand.Wins,
			Losses: cand.Losses,
			Played: played[cand.Name],
		}
	}
	c.final = c.engine.Reconcile(standings)

	now := c.clock.Now().UTC()
	for _, f := range c.final {
		cand := &c.candidates[c.index[f.Name]]
		cand.Rating = f.Rating
		cand.AppendHistory(now)
	}

	c.state = data.StatusComplete
	c.current = elo.Pair{}
	c.undoable = false
	c.logger.Info("tournament complete",
		slog.String("session", c.key),
		slog.Int("votes", len(c.history)),
		slog.Bool("early", early))
	if c.recorder != nil {
		if err := c.recorder.TournamentCompleted(ctx, c.key, slices.Clone(c.final), early); err != nil {
			c.logger.Warn("failed to record completion", slog.String("session", c.key), slog.Any("error", err))
		}
	}
	return slices.Clone(c.final)
}

func (c *Controller) notify(final []elo.FinalRating) {
	if c.onComplete != nil {
		c.onComplete(final)
	}
}

// Undo reverts the most recent vote. It is allowed once per vote, within the
// undo window, while the tournament is in progress.
func (c *Controller) Undo(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if !c.canUndo(now) {
		return false
	}

	record := c.history[len(c.history)-1]
	left := &c.candidates[c.index[record.Left.Name]]
	right := &c.candidates[c.index[record.Right.Name]]
	left.Rating = record.RatingsBefore.Left
	right.Rating = record.RatingsBefore.Right
	applyCounters(left, right, record.Outcome, -1)

	c.ledger.UndoLast()
	c.comparisons[left.Name] = max(0, c.comparisons[left.Name]-1)
	c.comparisons[right.Name] = max(0, c.comparisons[right.Name]-1)

	c.history = c.history[:len(c.history)-1]
	c.matchIndex--
	c.round = roundFor(c.matchIndex, len(c.candidates))
	c.current = elo.Pair{A: left.Name, B: right.Name}
	c.undoable = false
	c.lockedUntil = now.Add(c.debounce)

	c.logger.Debug("vote undone", slog.String("session", c.key), slog.Int("match", record.MatchNumber))
	if c.recorder != nil {
		if err := c.recorder.VoteUndone(ctx, c.key, record); err != nil {
			c.logger.Warn("failed to record undo", slog.String("session", c.key), slog.Any("error", err))
		}
	}
	c.save(ctx)
	return true
}

func (c *Controller) canUndo(now time.Time) bool {
	return c.state == data.StatusInProgress &&
		c.undoable &&
		len(c.history) > 0 &&
		now.Sub(c.lastVoteAt) <= c.undoWindow
}

// EndEarly finalizes the tournament from the votes cast so far. It returns
// false when the tournament is not in progress.
func (c *Controller) EndEarly(ctx context.Context) bool {
	c.mu.Lock()
	if c.state != data.StatusInProgress {
		c.mu.Unlock()
		return false
	}
	final := c.advance(ctx, true)
	c.save(ctx)
	c.mu.Unlock()

	c.notify(final)
	return true
}

// save mirrors the state into persistence. Failures are logged; the
// in-memory state stays authoritative.
func (c *Controller) save(ctx context.Context) {
	if c.persistence == nil || c.key == "" {
		return
	}
	if err := c.persistence.Save(ctx, c.key, c.snapshot()); err != nil {
		c.logger.Warn("failed to save session", slog.String("session", c.key), slog.Any("error", err))
	}
}

func (c *Controller) snapshot() *data.TournamentSession {
	return &data.TournamentSession{
		ID:                c.id,
		NamesKey:          data.NamesKey(c.names),
		UserName:          c.user,
		Candidates:        slices.Clone(c.inputs),
		Status:            c.state,
		MatchHistory:      slices.Clone(c.history),
		CurrentRound:      c.round,
		CurrentMatchIndex: c.matchIndex,
		TotalMatches:      c.total,
		FinalRatings:      slices.Clone(c.final),
		CreatedAt:         c.createdAt,
		LastUpdated:       c.clock.Now().UTC(),
	}
}
