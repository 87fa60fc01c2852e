package elo

import (
	"iter"
)

// Pair is an ordered presentation of two candidates: A is shown on the left, B on the right.
// Lookups in a PreferenceStore ignore the order.
type Pair struct {
	A string `json:"a"`
	B string `json:"b"`
}

// Key returns the order independent identity of the pair.
func (p Pair) Key() string {
	return createPairKey(p.A, p.B)
}

// Contains reports whether id is one side of the pair.
func (p Pair) Contains(id string) bool {
	return p.A == id || p.B == id
}

// IsZero reports whether the pair is empty.
func (p Pair) IsZero() bool {
	return p.A == "" && p.B == ""
}

// Judgment is a recorded preference between the two sides of a pair.
// Value is -1 for A, +1 for B, and near zero for both/neither.
type Judgment struct {
	Pair
	Value float64 `json:"value"`
}

// PreferenceStore records pairwise judgments and answers which pairs are still open.
type PreferenceStore interface {
	// RecordPreference stores or overwrites the judgment for the unordered pair (a, b).
	RecordPreference(a, b string, value float64)
	// HasJudged reports whether the unordered pair has a judgment.
	HasJudged(a, b string) bool
	// UndoLast removes the most recent judgment and returns its pair.
	UndoLast() (Pair, bool)
	// RemainingPairs yields every unjudged pair of ids in index order.
	RemainingPairs(ids []string) iter.Seq[Pair]
	// Len returns the number of distinct judged pairs.
	Len() int
}

type ledgerEntry struct {
	judgment Judgment
	replaced *float64 // value overwritten by this entry, if any
}

// Ledger is the append-only PreferenceStore used by the tournament.
type Ledger struct {
	entries []ledgerEntry
	current map[string]float64
}

var _ PreferenceStore = (*Ledger)(nil)

// NewLedger creates an empty preference ledger.
func NewLedger() *Ledger {
	return &Ledger{current: make(map[string]float64)}
}

// RecordPreference implements PreferenceStore. Self pairs are ignored.
func (l *Ledger) RecordPreference(a, b string, value float64) {
	if a == b {
		return
	}
	key := createPairKey(a, b)
	entry := ledgerEntry{judgment: Judgment{Pair: Pair{A: a, B: b}, Value: value}}
	if prev, ok := l.current[key]; ok {
		entry.replaced = &prev
	}
	l.entries = append(l.entries, entry)
	l.current[key] = value
}

// HasJudged implements PreferenceStore.
func (l *Ledger) HasJudged(a, b string) bool {
	_, ok := l.current[createPairKey(a, b)]
	return ok
}

// Value returns the current judgment value for the unordered pair.
func (l *Ledger) Value(a, b string) (float64, bool) {
	v, ok := l.current[createPairKey(a, b)]
	return v, ok
}

// UndoLast implements PreferenceStore. A re-vote that overwrote an earlier
// judgment gets the earlier value back.
func (l *Ledger) UndoLast() (Pair, bool) {
	if len(l.entries) == 0 {
		return Pair{}, false
	}
	last := l.entries[len(l.entries)-1]
	l.entries = l.entries[:len(l.entries)-1]

	key := last.judgment.Key()
	if last.replaced != nil {
		l.current[key] = *last.replaced
	} else {
		delete(l.current, key)
	}
	return last.judgment.Pair, true
}

// RemainingPairs implements PreferenceStore.
func (l *Ledger) RemainingPairs(ids []string) iter.Seq[Pair] {
	return func(yield func(Pair) bool) {
		for i := range ids {
			for j := i + 1; j < len(ids); j++ {
				if l.HasJudged(ids[i], ids[j]) {
					continue
				}
				if !yield(Pair{A: ids[i], B: ids[j]}) {
					return
				}
			}
		}
	}
}

// CountRemaining returns how many pairs of ids are still unjudged.
func (l *Ledger) CountRemaining(ids []string) int {
	n := 0
	for range l.RemainingPairs(ids) {
		n++
	}
	return n
}

// Len implements PreferenceStore.
func (l *Ledger) Len() int {
	return len(l.current)
}

// Depth returns the number of entries that UndoLast can pop.
func (l *Ledger) Depth() int {
	return len(l.entries)
}

// Judgments returns the current judgment of every judged pair, ordered by
// when it was last recorded.
func (l *Ledger) Judgments() []Judgment {
	latest := make(map[string]int, len(l.current))
	for i, e := range l.entries {
		latest[e.judgment.Key()] = i
	}
	result := make([]Judgment, 0, len(latest))
	for i, e := range l.entries {
		if latest[e.judgment.Key()] == i {
			result = append(result, e.judgment)
		}
	}
	return result
}

// createPairKey creates a consistent key for candidate pairs
func createPairKey(a, b string) string {
	if a < b {
		return a + ":" + b
	}
	return b + ":" + a
}
