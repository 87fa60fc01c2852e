// Package elo provides the rating side of a pairwise name tournament.
// It implements the logistic Elo update used while voting, the blended
// position rating used to reconcile a finished tournament, the ledger of
// pairwise preferences and the adaptive scheduler that picks the next pair.
package elo

import (
	"errors"
	"math"
	"math/rand/v2"
	"slices"
	"strings"
	"time"
)

// Error types for validation
var (
	ErrInvalidKFactor       = errors.New("k-factor must be positive")
	ErrInvalidBounds        = errors.New("min rating must be less than max rating")
	ErrInvalidInitialRating = errors.New("initial rating must lie within rating bounds")
	ErrInvalidJitter        = errors.New("jitter must be in the range [0, 0.1)")
)

// Default engine parameters
const (
	DefaultInitialRating = 1500.0
	DefaultKFactor       = 32
	DefaultMinRating     = 1000.0
	DefaultMaxRating     = 2000.0
	DefaultJitter        = 0.05

	maxRatingSpread = 1000.0
	spreadPerName   = 25.0
	maxBlendFactor  = 0.8
	blendScale      = 0.9
)

// Outcome is the result of a single vote between candidate A (left) and B (right).
type Outcome int

// Supported outcomes. The zero value is not a valid outcome and is scored as Neither.
const (
	AWins   Outcome = iota + 1 // Left candidate preferred
	BWins                      // Right candidate preferred
	BothWin                    // Both liked
	Neither                    // Neither liked
)

var outcomeNames = map[Outcome]string{
	AWins:   "left",
	BWins:   "right",
	BothWin: "both",
	Neither: "neither",
}

// String returns the vote symbol for the outcome.
func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return "unknown"
}

// Valid reports whether o is one of the four known outcomes.
func (o Outcome) Valid() bool {
	_, ok := outcomeNames[o]
	return ok
}

// Normalize maps unknown outcomes to Neither.
func (o Outcome) Normalize() Outcome {
	if !o.Valid() {
		return Neither
	}
	return o
}

// MarshalText implements encoding.TextMarshaler.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Unknown symbols decode as Neither.
func (o *Outcome) UnmarshalText(text []byte) error {
	*o, _ = ParseOutcome(string(text))
	return nil
}

// ParseOutcome converts a vote symbol (left, right, both, neither) into an Outcome.
// Unknown symbols yield Neither and false.
func ParseOutcome(symbol string) (Outcome, bool) {
	symbol = strings.ToLower(strings.TrimSpace(symbol))
	for outcome, name := range outcomeNames {
		if name == symbol {
			return outcome, true
		}
	}
	return Neither, false
}

// JitterSource supplies uniformly distributed values in [0, 1).
// *rand.Rand from math/rand/v2 satisfies it.
type JitterSource interface {
	Float64() float64
}

// Stats holds cumulative win and loss counters for one candidate
type Stats struct {
	Wins   int // Strict wins
	Losses int // Strict losses
}

// Update is the result of a single live rating update
type Update struct {
	NewRatingA float64 // Rating of A after the vote
	NewRatingB float64 // Rating of B after the vote
	WinsA      int
	LossesA    int
	WinsB      int
	LossesB    int
	ScoreA     float64 // Actual score credited to A
}

// Config holds configuration parameters for the Elo engine
type Config struct {
	InitialRating float64 // Default rating for unseen candidates
	KFactor       int     // K-factor for rating sensitivity
	MinRating     float64 // Minimum allowed rating
	MaxRating     float64 // Maximum allowed rating
	Jitter        float64 // Maximum offset from 0.5 for both/neither outcomes
}

// DefaultConfig returns the standard engine configuration.
func DefaultConfig() Config {
	return Config{
		InitialRating: DefaultInitialRating,
		KFactor:       DefaultKFactor,
		MinRating:     DefaultMinRating,
		MaxRating:     DefaultMaxRating,
		Jitter:        DefaultJitter,
	}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if c.KFactor <= 0 {
		return ErrInvalidKFactor
	}
	if c.MinRating >= c.MaxRating {
		return ErrInvalidBounds
	}
	if math.IsNaN(c.InitialRating) || c.InitialRating < c.MinRating || c.InitialRating > c.MaxRating {
		return ErrInvalidInitialRating
	}
	if math.IsNaN(c.Jitter) || c.Jitter < 0 || c.Jitter >= 0.1 {
		return ErrInvalidJitter
	}
	return nil
}

// Engine is the rating engine. It never fails once constructed: bad inputs
// degrade to the default rating and unknown outcomes score as Neither.
type Engine struct {
	InitialRating float64
	KFactor       int
	MinRating     float64
	MaxRating     float64
	Jitter        float64

	source JitterSource
}

// NewEngine creates a rating engine. A nil source seeds a generator from the wall clock.
func NewEngine(config Config, source JitterSource) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if source == nil {
		seed := uint64(time.Now().UnixNano())
		source = rand.New(rand.NewPCG(seed, seed>>1))
	}
	return &Engine{
		InitialRating: config.InitialRating,
		KFactor:       config.KFactor,
		MinRating:     config.MinRating,
		MaxRating:     config.MaxRating,
		Jitter:        config.Jitter,
		source:        source,
	}, nil
}

// NewSeededSource returns a deterministic jitter source.
func NewSeededSource(seed uint64) JitterSource {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// ExpectedScore computes the expected score of a player rated ratingA against ratingB.
func ExpectedScore(ratingA, ratingB float64) float64 {
	return 1.0 / (1.0 + math.Pow(10.0, (ratingB-ratingA)/400.0))
}

// clampRating ensures a rating stays within configured bounds
func (e *Engine) clampRating(rating float64) float64 {
	if rating < e.MinRating {
		return e.MinRating
	}
	if rating > e.MaxRating {
		return e.MaxRating
	}
	return rating
}

func (e *Engine) sanitize(rating float64) float64 {
	if math.IsNaN(rating) || math.IsInf(rating, 0) {
		return e.InitialRating
	}
	return e.clampRating(rating)
}

// jitter returns a value in [-Jitter, Jitter).
func (e *Engine) jitter() float64 {
	if e.Jitter == 0 {
		return 0
	}
	return (e.source.Float64()*2 - 1) * e.Jitter
}

// actualScore returns the score credited to A for the outcome.
func (e *Engine) actualScore(outcome Outcome) float64 {
	switch outcome.Normalize() {
	case AWins:
		return 1
	case BWins:
		return 0
	default:
		return 0.5 + e.jitter()
	}
}

// PreferenceValue encodes the outcome for the preference ledger:
// -1 for left, +1 for right, a small jitter around zero otherwise.
func (e *Engine) PreferenceValue(outcome Outcome) float64 {
	switch outcome.Normalize() {
	case AWins:
		return -1
	case BWins:
		return 1
	default:
		return e.jitter()
	}
}

// UpdateRatings applies a single vote to the ratings and counters of A and B.
func (e *Engine) UpdateRatings(ratingA, ratingB float64, outcome Outcome, statsA, statsB Stats) Update {
	ratingA = e.sanitize(ratingA)
	ratingB = e.sanitize(ratingB)

	expectedA := ExpectedScore(ratingA, ratingB)
	expectedB := ExpectedScore(ratingB, ratingA)

	actualA := e.actualScore(outcome)
	actualB := 1 - actualA

	k := float64(e.KFactor)
	update := Update{
		NewRatingA: e.clampRating(math.Round(ratingA + k*(actualA-expectedA))),
		NewRatingB: e.clampRating(math.Round(ratingB + k*(actualB-expectedB))),
		WinsA:      statsA.Wins,
		LossesA:    statsA.Losses,
		WinsB:      statsB.Wins,
		LossesB:    statsB.Losses,
		ScoreA:     actualA,
	}

	switch outcome.Normalize() {
	case AWins:
		update.WinsA++
		update.LossesB++
	case BWins:
		update.WinsB++
		update.LossesA++
	}

	return update
}

// ComputeRating blends an existing rating with a target derived from the
// candidate's rank position among n names. The more matches the candidate
// played relative to maxPlayed, the more weight the position target gets.
func (e *Engine) ComputeRating(existing float64, position, n, played, maxPlayed int) float64 {
	existing = e.sanitize(existing)

	positionValue := 0.0
	if n > 1 {
		position = max(0, min(position, n-1))
		spread := math.Min(maxRatingSpread, float64(n)*spreadPerName)
		positionValue = (float64(n-position-1) / float64(n-1)) * spread
	}
	target := e.InitialRating + positionValue

	blend := 0.0
	if maxPlayed > 0 {
		blend = math.Min(maxBlendFactor, (float64(played)/float64(maxPlayed))*blendScale)
	}

	return e.clampRating(math.Round(blend*target + (1-blend)*existing))
}

// Standing is a candidate's live state at the end of a tournament
type Standing struct {
	Name   string
	Rating float64 // Live Elo rating
	Wins   int
	Losses int
	Played int // Appearances in the match history
}

// FinalRating is the authoritative rating reported when a tournament completes
type FinalRating struct {
	Name     string  `json:"name"`
	Rating   float64 `json:"rating"`
	Wins     int     `json:"wins"`
	Losses   int     `json:"losses"`
	Position int     `json:"position"` // Zero-based rank, 0 is the favourite
}

// Reconcile ranks candidates by cumulative wins and converts their live
// ratings into blended final ratings. Ties fall back to fewer losses, then
// higher live rating, then input order.
func (e *Engine) Reconcile(standings []Standing) []FinalRating {
	ranked := slices.Clone(standings)
	slices.SortStableFunc(ranked, func(a, b Standing) int {
		if a.Wins != b.Wins {
			return b.Wins - a.Wins
		}
		if a.Losses != b.Losses {
			return a.Losses - b.Losses
		}
		switch {
		case a.Rating > b.Rating:
			return -1
		case a.Rating < b.Rating:
			return 1
		}
		return 0
	})

	maxPlayed := 0
	for _, s := range ranked {
		maxPlayed = max(maxPlayed, s.Played)
	}

	n := len(ranked)
	result := make([]FinalRating, n)
	for i, s := range ranked {
		result[i] = FinalRating{
			Name:     s.Name,
			Rating:   e.ComputeRating(s.Rating, i, n, s.Played, maxPlayed),
			Wins:     s.Wins,
			Losses:   s.Losses,
			Position: i,
		}
	}
	return result
}
