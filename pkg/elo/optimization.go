package elo

import (
	"math"
)

// DefaultUncertaintyWeight privileges under-compared candidates over pure rating closeness.
const DefaultUncertaintyWeight = 50.0

// SchedulerConfig holds configuration for adaptive pairing
type SchedulerConfig struct {
	UncertaintyWeight float64 // W in score = |Δrating| - W*uncertainty (default: 50)
	SequenceFallback  bool    // offer round-robin rematches once every pair is judged
}

// DefaultSchedulerConfig returns recommended scheduler settings
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		UncertaintyWeight: DefaultUncertaintyWeight,
		SequenceFallback:  true,
	}
}

// Scheduler selects the next pair to present.
type Scheduler struct {
	config SchedulerConfig
}

// NewScheduler creates a scheduler. A non-positive weight falls back to the default.
func NewScheduler(config SchedulerConfig) *Scheduler {
	if config.UncertaintyWeight <= 0 || math.IsNaN(config.UncertaintyWeight) {
		config.UncertaintyWeight = DefaultUncertaintyWeight
	}
	return &Scheduler{config: config}
}

// SequenceFallback reports whether rematches from the precomputed sequence are enabled.
func (s *Scheduler) SequenceFallback() bool {
	return s.config.SequenceFallback
}

// NextMatch returns the next unjudged pair, or false when every pair has been judged.
// ratings and comparisons are keyed by candidate id; missing ratings count as
// DefaultInitialRating and missing comparison counts as zero.
func (s *Scheduler) NextMatch(ids []string, judged PreferenceStore, ratings map[string]float64, comparisons map[string]int) (Pair, bool) {
	if len(ids) < 2 {
		return Pair{}, false
	}

	// one possible match, nothing to score
	if len(ids) == 2 {
		if judged.HasJudged(ids[0], ids[1]) {
			return Pair{}, false
		}
		return Pair{A: ids[0], B: ids[1]}, true
	}

	if !hasAdaptiveData(ids, ratings, comparisons) {
		for pair := range judged.RemainingPairs(ids) {
			return pair, true
		}
		return Pair{}, false
	}

	var (
		best      Pair
		bestScore float64
		found     bool
	)
	for pair := range judged.RemainingPairs(ids) {
		score := s.Score(pair, ratings, comparisons)
		if !found || score < bestScore {
			best, bestScore, found = pair, score, true
		}
	}
	return best, found
}

// Score rates how useful a comparison would be; lower is better.
func (s *Scheduler) Score(pair Pair, ratings map[string]float64, comparisons map[string]int) float64 {
	ratingDiff := math.Abs(ratingOf(ratings, pair.A) - ratingOf(ratings, pair.B))
	uncertainty := 1/(1+float64(comparisons[pair.A])) + 1/(1+float64(comparisons[pair.B]))
	return ratingDiff - s.config.UncertaintyWeight*uncertainty
}

// NextInSequence returns the round-robin pair for the zero-based match index,
// cycling once the sequence is used up.
func (s *Scheduler) NextInSequence(ids []string, index int) (Pair, bool) {
	if !s.config.SequenceFallback {
		return Pair{}, false
	}
	sequence := RoundRobin(ids)
	if len(sequence) == 0 {
		return Pair{}, false
	}
	if index < 0 {
		index = 0
	}
	return sequence[index%len(sequence)], true
}

// RoundRobin orders every pair of ids by rounds using the circle method,
// so consecutive pairs rarely share a candidate.
func RoundRobin(ids []string) []Pair {
	n := len(ids)
	if n < 2 {
		return nil
	}

	// pad to even with a bye slot (-1)
	slots := make([]int, 0, n+1)
	for i := range n {
		slots = append(slots, i)
	}
	if n%2 == 1 {
		slots = append(slots, -1)
	}
	size := len(slots)

	pairs := make([]Pair, 0, n*(n-1)/2)
	for range size - 1 {
		for i := range size / 2 {
			a, b := slots[i], slots[size-1-i]
			if a < 0 || b < 0 {
				continue
			}
			if a > b {
				a, b = b, a
			}
			pairs = append(pairs, Pair{A: ids[a], B: ids[b]})
		}
		// rotate all but the first slot
		last := slots[size-1]
		copy(slots[2:], slots[1:size-1])
		slots[1] = last
	}
	return pairs
}

func hasAdaptiveData(ids []string, ratings map[string]float64, comparisons map[string]int) bool {
	for _, id := range ids {
		if comparisons[id] > 0 {
			return true
		}
	}
	first := ratingOf(ratings, ids[0])
	for _, id := range ids[1:] {
		if ratingOf(ratings, id) != first {
			return true
		}
	}
	return false
}

func ratingOf(ratings map[string]float64, id string) float64 {
	if r, ok := ratings[id]; ok {
		return r
	}
	return DefaultInitialRating
}
