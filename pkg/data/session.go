package data

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/pashagolub/catelo/pkg/elo"
)

// Error types for session management
var (
	ErrSessionNotFound       = errors.New("session not found")
	ErrCorruptSession        = errors.New("session data corrupted")
	ErrAtomicOperationFailed = errors.New("atomic operation failed")
	ErrModeDetectionFailed   = errors.New("session mode detection failed")
)

// SessionMode represents the detected operational mode for automatic mode detection
type SessionMode int

const (
	// StartMode indicates a new session should be created
	StartMode SessionMode = iota
	// ResumeMode indicates an existing session should be resumed
	ResumeMode
)

// String returns a string representation of the SessionMode
func (sm SessionMode) String() string {
	switch sm {
	case StartMode:
		return "Start"
	case ResumeMode:
		return "Resume"
	default:
		return "Unknown"
	}
}

// SessionStatus represents the state of a tournament
type SessionStatus string

const (
	StatusInitializing SessionStatus = "initializing"
	StatusInProgress   SessionStatus = "in_progress"
	StatusComplete     SessionStatus = "complete"
	StatusError        SessionStatus = "error"
)

// MatchSide is one side of a recorded match
type MatchSide struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Won         bool   `json:"won"`
}

// RatingPair holds the left and right ratings of a match
type RatingPair struct {
	Left  float64 `json:"left"`
	Right float64 `json:"right"`
}

// MatchRecord is one vote in the tournament history
type MatchRecord struct {
	MatchNumber   int         `json:"match_number"`
	Left          MatchSide   `json:"left"`
	Right         MatchSide   `json:"right"`
	Outcome       elo.Outcome `json:"outcome"`
	Preference    float64     `json:"preference"` // Value recorded in the preference ledger
	RatingsBefore RatingPair  `json:"ratings_before"`
	RatingsAfter  RatingPair  `json:"ratings_after"`
	Timestamp     time.Time   `json:"timestamp"`
	UserName      string      `json:"user_name,omitempty"`
}

// TournamentSession is the persisted, resumable snapshot of a tournament
type TournamentSession struct {
	ID                string            `json:"id"`
	NamesKey          string            `json:"names_key"`
	UserName          string            `json:"user_name"`
	Candidates        []CandidateInput  `json:"candidates"`
	Status            SessionStatus     `json:"status"`
	MatchHistory      []MatchRecord     `json:"match_history"`
	CurrentRound      int               `json:"current_round"`
	CurrentMatchIndex int               `json:"current_match_index"`
	TotalMatches      int               `json:"total_matches"`
	FinalRatings      []elo.FinalRating `json:"final_ratings,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	LastUpdated       time.Time         `json:"last_updated"`
}

// SessionInfo is a lightweight summary used for listings
type SessionInfo struct {
	Key               string        `json:"key" db:"session_key"`
	ID                string        `json:"id" db:"id"`
	UserName          string        `json:"user_name" db:"user_name"`
	Status            SessionStatus `json:"status" db:"status"`
	CandidateCount    int           `json:"candidate_count" db:"candidate_count"`
	CurrentMatchIndex int           `json:"current_match_index" db:"current_match_index"`
	TotalMatches      int           `json:"total_matches" db:"total_matches"`
	LastUpdated       time.Time     `json:"last_updated" db:"last_updated"`
}

// Info summarizes the session for listings
func (s *TournamentSession) Info(key string) SessionInfo {
	return SessionInfo{
		Key:               key,
		ID:                s.ID,
		UserName:          s.UserName,
		Status:            s.Status,
		CandidateCount:    len(s.Candidates),
		CurrentMatchIndex: s.CurrentMatchIndex,
		TotalMatches:      s.TotalMatches,
		LastUpdated:       s.LastUpdated,
	}
}

// NamesKey returns the canonical identity of a set of names: normalized,
// sorted and joined. Input order does not matter.
func NamesKey(names []string) string {
	normalized := make([]string, len(names))
	for i, n := range names {
		normalized[i] = NormalizeName(n)
	}
	slices.Sort(normalized)
	return strings.Join(normalized, "\x1f")
}

// SessionKey derives the deterministic storage key for a set of names and a user
func SessionKey(names []string, user string) string {
	sum := sha256.Sum256([]byte(NamesKey(names) + "\x1e" + NormalizeName(user)))
	return hex.EncodeToString(sum[:16])
}

// Names returns the candidate names in input order
func (s *TournamentSession) Names() []string {
	names := make([]string, len(s.Candidates))
	for i, c := range s.Candidates {
		names[i] = c.Name
	}
	return names
}

// Clone returns a deep copy of the snapshot
func (s *TournamentSession) Clone() *TournamentSession {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Candidates = slices.Clone(s.Candidates)
	clone.MatchHistory = slices.Clone(s.MatchHistory)
	clone.FinalRatings = slices.Clone(s.FinalRatings)
	return &clone
}

// Validate checks the snapshot invariants. A snapshot that fails is corrupted
// and must not be resumed.
func (s *TournamentSession) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil session", ErrCorruptSession)
	}
	if s.Status == StatusError {
		return nil
	}
	if len(s.Candidates) < 2 {
		return fmt.Errorf("%w: need at least two candidates, have %d", ErrCorruptSession, len(s.Candidates))
	}
	if s.TotalMatches < 1 {
		return fmt.Errorf("%w: total matches must be positive", ErrCorruptSession)
	}
	if s.CurrentMatchIndex-1 != len(s.MatchHistory) {
		return fmt.Errorf("%w: match index %d does not follow %d recorded matches",
			ErrCorruptSession, s.CurrentMatchIndex, len(s.MatchHistory))
	}
	if s.NamesKey != "" && s.NamesKey != NamesKey(s.Names()) {
		return fmt.Errorf("%w: names key does not match candidates", ErrCorruptSession)
	}

	known := make(map[string]bool, len(s.Candidates))
	for _, c := range s.Candidates {
		known[NormalizeName(c.Name)] = true
	}
	for i, m := range s.MatchHistory {
		if m.MatchNumber != i+1 {
			return fmt.Errorf("%w: match %d is numbered %d", ErrCorruptSession, i+1, m.MatchNumber)
		}
		if !known[m.Left.Name] || !known[m.Right.Name] {
			return fmt.Errorf("%w: match %d references unknown names", ErrCorruptSession, m.MatchNumber)
		}
		if m.Left.Name == m.Right.Name {
			return fmt.Errorf("%w: match %d pairs a name with itself", ErrCorruptSession, m.MatchNumber)
		}
	}
	return nil
}

// SessionLoader is the read side of a session store
type SessionLoader interface {
	Load(ctx context.Context, key string) (*TournamentSession, error)
}

// SessionDetector decides whether a candidate set starts fresh or resumes
type SessionDetector struct {
	store SessionLoader
}

// NewSessionDetector creates a new session detector backed by store
func NewSessionDetector(store SessionLoader) *SessionDetector {
	return &SessionDetector{store: store}
}

// DetectMode determines whether to start a new session or resume an existing one
// for the given names and user. Completed sessions start over.
func (sd *SessionDetector) DetectMode(ctx context.Context, names []string, user string) (SessionMode, error) {
	session, err := sd.store.Load(ctx, SessionKey(names, user))
	if errors.Is(err, ErrSessionNotFound) {
		return StartMode, nil
	}
	if err != nil {
		return StartMode, fmt.Errorf("%w: %v", ErrModeDetectionFailed, err)
	}
	if err := session.Validate(); err != nil {
		return StartMode, err
	}
	if session.Status == StatusComplete || session.Status == StatusError {
		return StartMode, nil
	}
	return ResumeMode, nil
}
