package elo

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextMatchShortCircuits(t *testing.T) {
	scheduler := NewScheduler(DefaultSchedulerConfig())

	t.Run("fewer than two candidates", func(t *testing.T) {
		_, ok := scheduler.NextMatch([]string{"A"}, NewLedger(), nil, nil)
		assert.False(t, ok)
	})

	t.Run("two candidates give the only pair", func(t *testing.T) {
		ledger := NewLedger()
		pair, ok := scheduler.NextMatch([]string{"A", "B"}, ledger, map[string]float64{"A": 1800, "B": 1200}, nil)
		require.True(t, ok)
		assert.Equal(t, Pair{A: "A", B: "B"}, pair)

		ledger.RecordPreference("B", "A", -1)
		_, ok = scheduler.NextMatch([]string{"A", "B"}, ledger, nil, nil)
		assert.False(t, ok)
	})
}

func TestNextMatchFallback(t *testing.T) {
	scheduler := NewScheduler(DefaultSchedulerConfig())
	ids := []string{"A", "B", "C"}

	t.Run("no history picks first two remaining names", func(t *testing.T) {
		pair, ok := scheduler.NextMatch(ids, NewLedger(), nil, nil)
		require.True(t, ok)
		assert.Equal(t, Pair{A: "A", B: "B"}, pair)
	})

	t.Run("default ratings behave like missing ratings", func(t *testing.T) {
		ratings := map[string]float64{"A": 1500, "B": 1500, "C": 1500}
		for i := 0; i < 3; i++ {
			pair, ok := scheduler.NextMatch(ids, NewLedger(), ratings, map[string]int{})
			require.True(t, ok)
			assert.Equal(t, Pair{A: "A", B: "B"}, pair)
		}
	})

	t.Run("skips judged pairs", func(t *testing.T) {
		ledger := NewLedger()
		ledger.RecordPreference("A", "B", 0.02)
		pair, ok := scheduler.NextMatch(ids, ledger, nil, nil)
		require.True(t, ok)
		assert.Equal(t, Pair{A: "A", B: "C"}, pair)
	})
}

func TestNextMatchAdaptive(t *testing.T) {
	scheduler := NewScheduler(DefaultSchedulerConfig())

	t.Run("prefers close ratings", func(t *testing.T) {
		ids := []string{"A", "B", "C", "D"}
		ratings := map[string]float64{"A": 1700, "B": 1300, "C": 1690, "D": 1310}
		counts := map[string]int{"A": 1, "B": 1, "C": 1, "D": 1}
		pair, ok := scheduler.NextMatch(ids, NewLedger(), ratings, counts)
		require.True(t, ok)
		assert.Equal(t, Pair{A: "A", B: "C"}, pair)
	})

	t.Run("under-compared candidates win close calls", func(t *testing.T) {
		ids := []string{"A", "B", "C", "D"}
		ratings := map[string]float64{"A": 1500, "B": 1510, "C": 1520, "D": 1530}
		counts := map[string]int{"A": 9, "B": 9, "C": 0, "D": 0}
		pair, ok := scheduler.NextMatch(ids, NewLedger(), ratings, counts)
		require.True(t, ok)
		assert.Equal(t, Pair{A: "C", B: "D"}, pair)
	})

	t.Run("ties go to the first enumerated pair", func(t *testing.T) {
		ids := []string{"A", "B", "C", "D"}
		ratings := map[string]float64{"A": 1500, "B": 1500, "C": 1500, "D": 1500}
		counts := map[string]int{"A": 1, "B": 1, "C": 1, "D": 1}
		ledger := NewLedger()
		ledger.RecordPreference("A", "B", -1)
		pair, ok := scheduler.NextMatch(ids, ledger, ratings, counts)
		require.True(t, ok)
		assert.Equal(t, Pair{A: "A", B: "C"}, pair)
	})

	t.Run("repeated calls are deterministic", func(t *testing.T) {
		ids := []string{"A", "B", "C", "D", "E"}
		ratings := map[string]float64{"A": 1516, "B": 1484, "C": 1500, "D": 1530, "E": 1470}
		counts := map[string]int{"A": 2, "B": 1, "D": 3}
		ledger := NewLedger()
		ledger.RecordPreference("A", "B", -1)
		first, ok := scheduler.NextMatch(ids, ledger, ratings, counts)
		require.True(t, ok)
		for i := 0; i < 5; i++ {
			again, _ := scheduler.NextMatch(ids, ledger, ratings, counts)
			assert.Equal(t, first, again)
		}
	})

	t.Run("exhausted set yields nothing", func(t *testing.T) {
		ids := []string{"A", "B", "C"}
		ledger := NewLedger()
		for _, p := range RoundRobin(ids) {
			ledger.RecordPreference(p.A, p.B, 1)
		}
		_, ok := scheduler.NextMatch(ids, ledger, map[string]float64{"A": 1600}, map[string]int{"A": 2})
		assert.False(t, ok)
	})
}

func TestScore(t *testing.T) {
	scheduler := NewScheduler(SchedulerConfig{})
	score := scheduler.Score(Pair{A: "A", B: "B"}, map[string]float64{"A": 1600, "B": 1500}, map[string]int{"A": 1, "B": 3})
	// 100 - 50*(1/2 + 1/4)
	assert.InDelta(t, 62.5, score, tolerance)
}

func TestSchedulerNeverRepeatsJudgedPairs(t *testing.T) {
	scheduler := NewScheduler(DefaultSchedulerConfig())
	engine := createTestEngine(t)

	for n := 2; n <= 8; n++ {
		t.Run(fmt.Sprintf("%d candidates", n), func(t *testing.T) {
			ids := make([]string, n)
			ratings := make(map[string]float64, n)
			for i := range ids {
				ids[i] = fmt.Sprintf("cat%d", i)
				ratings[ids[i]] = DefaultInitialRating
			}
			counts := map[string]int{}
			ledger := NewLedger()

			for step := 0; ; step++ {
				pair, ok := scheduler.NextMatch(ids, ledger, ratings, counts)
				if !ok {
					break
				}
				require.False(t, ledger.HasJudged(pair.A, pair.B), "pair %v proposed twice", pair)
				outcome := []Outcome{AWins, BWins, BothWin, Neither}[step%4]
				u := engine.UpdateRatings(ratings[pair.A], ratings[pair.B], outcome, Stats{}, Stats{})
				ratings[pair.A], ratings[pair.B] = u.NewRatingA, u.NewRatingB
				counts[pair.A]++
				counts[pair.B]++
				ledger.RecordPreference(pair.A, pair.B, engine.PreferenceValue(outcome))
			}
			assert.Equal(t, n*(n-1)/2, ledger.Len())
			assert.Zero(t, ledger.CountRemaining(ids))
		})
	}
}

func TestRoundRobin(t *testing.T) {
	t.Run("covers every pair exactly once", func(t *testing.T) {
		for n := 0; n <= 9; n++ {
			ids := make([]string, n)
			for i := range ids {
				ids[i] = fmt.Sprintf("%c", 'A'+i)
			}
			pairs := RoundRobin(ids)
			if n < 2 {
				assert.Empty(t, pairs)
				continue
			}
			seen := map[string]bool{}
			for _, p := range pairs {
				assert.NotEqual(t, p.A, p.B)
				assert.False(t, seen[p.Key()], "duplicate %v", p)
				seen[p.Key()] = true
			}
			assert.Len(t, pairs, n*(n-1)/2)
		}
	})

	t.Run("first round of four", func(t *testing.T) {
		pairs := RoundRobin([]string{"A", "B", "C", "D"})
		assert.Equal(t, []Pair{{A: "A", B: "D"}, {A: "B", B: "C"}}, pairs[:2])
	})
}

func TestNextInSequence(t *testing.T) {
	ids := []string{"A", "B", "C", "D"}

	t.Run("cycles through the round robin", func(t *testing.T) {
		scheduler := NewScheduler(DefaultSchedulerConfig())
		sequence := RoundRobin(ids)
		for i := 0; i < 2*len(sequence); i++ {
			pair, ok := scheduler.NextInSequence(ids, i)
			require.True(t, ok)
			assert.Equal(t, sequence[i%len(sequence)], pair)
		}
	})

	t.Run("disabled fallback", func(t *testing.T) {
		scheduler := NewScheduler(SchedulerConfig{UncertaintyWeight: 10})
		_, ok := scheduler.NextInSequence(ids, 0)
		assert.False(t, ok)
		assert.False(t, scheduler.SequenceFallback())
	})
}
