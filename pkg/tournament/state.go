package tournament

import (
	"cmp"
	"slices"

	"github.com/pashagolub/catelo/pkg/data"
	"github.com/pashagolub/catelo/pkg/elo"
)

// State returns the lifecycle state
func (c *Controller) State() data.SessionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsError reports whether initialization failed
func (c *Controller) IsError() bool {
	return c.State() == data.StatusError
}

// LastError returns the error that moved the controller into the error state
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Key returns the session key the snapshot is stored under
func (c *Controller) Key() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.key
}

// CurrentMatch returns the pair awaiting a vote
func (c *Controller) CurrentMatch() (Match, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != data.StatusInProgress || c.current.IsZero() {
		return Match{}, false
	}
	return Match{
		Number: c.matchIndex,
		Round:  c.round,
		Left:   cloneCandidate(c.candidates[c.index[c.current.A]]),
		Right:  cloneCandidate(c.candidates[c.index[c.current.B]]),
	}, true
}

// Progress reports votes cast against the estimate
func (c *Controller) Progress() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := Progress{
		Completed: len(c.history),
		Total:     c.total,
		Round:     c.round,
	}
	if c.names != nil {
		p.RemainingPairs = c.ledger.CountRemaining(c.names)
	}
	switch {
	case c.state == data.StatusComplete:
		p.Percent = 100
	case c.total > 0:
		p.Percent = min(100, float64(p.Completed)/float64(c.total)*100)
	}
	return p
}

// Candidates returns a copy of the candidates in input order
func (c *Controller) Candidates() []data.Candidate {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]data.Candidate, len(c.candidates))
	for i, cand := range c.candidates {
		result[i] = cloneCandidate(cand)
	}
	return result
}

// Standings returns the live leaderboard, highest rating first
func (c *Controller) Standings() []data.Candidate {
	standings := c.Candidates()
	slices.SortStableFunc(standings, func(a, b data.Candidate) int {
		return cmp.Compare(b.Rating, a.Rating)
	})
	return standings
}

// History returns a copy of the match records
func (c *Controller) History() []data.MatchRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.history)
}

// Judgments returns the current preference of every judged pair
func (c *Controller) Judgments() []elo.Judgment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ledger.Judgments()
}

// Snapshot returns the resumable state as it would be persisted
func (c *Controller) Snapshot() *data.TournamentSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

// FinalRatings returns the reconciled ratings once the tournament is complete
func (c *Controller) FinalRatings() []elo.FinalRating {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.final)
}

// CanUndo reports whether Undo would currently succeed
func (c *Controller) CanUndo() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canUndo(c.clock.Now())
}

// Locked reports whether votes are currently ignored by the debounce lock
func (c *Controller) Locked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clock.Now().Before(c.lockedUntil)
}

// Round returns the current round
func (c *Controller) Round() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.round
}

// MatchIndex returns the one-based index of the next match
func (c *Controller) MatchIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.matchIndex
}

// TotalMatches returns the estimated number of votes
func (c *Controller) TotalMatches() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

func cloneCandidate(cand data.Candidate) data.Candidate {
	cand.RatingHistory = slices.Clone(cand.RatingHistory)
	return cand
}
