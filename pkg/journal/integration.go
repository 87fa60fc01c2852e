package journal

import (
	"cmp"
	"math"
	"slices"
	"time"

	"github.com/pashagolub/catelo/pkg/data"
	"github.com/pashagolub/catelo/pkg/elo"
)

// NewReport converts a tournament snapshot into its exportable form. A
// completed snapshot is ranked by its final ratings; anything else is ranked
// provisionally by the ratings its match history left behind.
func NewReport(session *data.TournamentSession, exportedAt time.Time) *Report {
	report := &Report{
		SessionID:    session.ID,
		UserName:     session.UserName,
		Status:       string(session.Status),
		ExportedAt:   exportedAt,
		CreatedAt:    session.CreatedAt,
		LastUpdated:  session.LastUpdated,
		TotalMatches: session.TotalMatches,
		Provisional:  len(session.FinalRatings) == 0,
		History:      session.MatchHistory,
	}

	descriptions := make(map[string]string, len(session.Candidates))
	for _, c := range session.Candidates {
		descriptions[c.Name] = c.Description
	}
	played := make(map[string]int, len(session.Candidates))
	for _, m := range session.MatchHistory {
		played[m.Left.Name]++
		played[m.Right.Name]++
	}

	if report.Provisional {
		report.Rankings = provisionalRankings(session)
	} else {
		report.Rankings = make([]RankedName, len(session.FinalRatings))
		for i, r := range session.FinalRatings {
			report.Rankings[i] = RankedName{
				Rank:   r.Position + 1,
				Name:   r.Name,
				Rating: r.Rating,
				Wins:   r.Wins,
				Losses: r.Losses,
			}
		}
		slices.SortStableFunc(report.Rankings, func(a, b RankedName) int {
			return cmp.Compare(a.Rank, b.Rank)
		})
	}
	for i := range report.Rankings {
		report.Rankings[i].Description = descriptions[report.Rankings[i].Name]
		report.Rankings[i].Matches = played[report.Rankings[i].Name]
	}

	report.Statistics = buildStatistics(session, report.Rankings)
	return report
}

// provisionalRankings replays the outcome counters and keeps the last rating
// each name reached. Names that were never shown keep the default rating.
func provisionalRankings(session *data.TournamentSession) []RankedName {
	byName := make(map[string]*RankedName, len(session.Candidates))
	rankings := make([]RankedName, len(session.Candidates))
	for i, c := range session.Candidates {
		rankings[i] = RankedName{Name: c.Name, Rating: elo.DefaultInitialRating}
		byName[c.Name] = &rankings[i]
	}

	for _, m := range session.MatchHistory {
		left, right := byName[m.Left.Name], byName[m.Right.Name]
		if left == nil || right == nil {
			continue
		}
		left.Rating, right.Rating = m.RatingsAfter.Left, m.RatingsAfter.Right
		switch m.Outcome {
		case elo.AWins:
			left.Wins++
			right.Losses++
		case elo.BWins:
			right.Wins++
			left.Losses++
		}
	}

	slices.SortStableFunc(rankings, func(a, b RankedName) int {
		return cmp.Compare(b.Rating, a.Rating)
	})
	for i := range rankings {
		rankings[i].Rank = i + 1
	}
	return rankings
}

func buildStatistics(session *data.TournamentSession, rankings []RankedName) *ExportStatistics {
	stats := &ExportStatistics{
		TotalNames:    len(rankings),
		TotalVotes:    len(session.MatchHistory),
		OutcomeCounts: make(map[string]int),
	}
	for _, m := range session.MatchHistory {
		stats.OutcomeCounts[m.Outcome.String()]++
	}
	if !session.CreatedAt.IsZero() && session.LastUpdated.After(session.CreatedAt) {
		stats.Duration = session.LastUpdated.Sub(session.CreatedAt)
	}
	if len(rankings) == 0 {
		return stats
	}

	lo, hi, sum := math.Inf(1), math.Inf(-1), 0.0
	for _, r := range rankings {
		lo, hi = min(lo, r.Rating), max(hi, r.Rating)
		sum += r.Rating
	}
	stats.AverageRating = sum / float64(len(rankings))
	stats.RatingRange = hi - lo

	variance := 0.0
	for _, r := range rankings {
		d := r.Rating - stats.AverageRating
		variance += d * d
	}
	stats.StandardDeviation = math.Sqrt(variance / float64(len(rankings)))
	return stats
}
