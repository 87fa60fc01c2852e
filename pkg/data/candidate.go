package data

import (
	"database/sql/driver"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// Error types for candidate input
var (
	ErrEmptyName       = errors.New("candidate name cannot be empty")
	ErrDuplicateName   = errors.New("candidate name appears multiple times")
	ErrInvalidRating   = errors.New("rating value is invalid")
	ErrCandidateParse  = errors.New("failed to parse candidate list")
	ErrUnsupportedType = errors.New("unsupported rating value type")
)

// CandidateInput is one entry of the list a tournament starts from
type CandidateInput struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ExistingRating is the normalized form of a previously stored rating
type ExistingRating struct {
	Rating float64 `json:"rating"`
	Wins   int     `json:"wins"`
	Losses int     `json:"losses"`
}

// RatingPoint is one entry in a candidate's rating history
type RatingPoint struct {
	Rating    float64   `json:"rating"`
	Timestamp time.Time `json:"timestamp"`
}

// RatingHistory is stored as a JSON column by the SQL backend
type RatingHistory []RatingPoint

// Value implements driver.Valuer.
func (h RatingHistory) Value() (driver.Value, error) {
	if h == nil {
		return "[]", nil
	}
	raw, err := json.Marshal([]RatingPoint(h))
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

// Scan implements sql.Scanner.
func (h *RatingHistory) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*h = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedType, src)
	}
	if len(raw) == 0 {
		*h = nil
		return nil
	}
	return json.Unmarshal(raw, (*[]RatingPoint)(h))
}

// Candidate is a name being ranked together with its live rating state
type Candidate struct {
	ID            string        `json:"id" db:"id"`
	Name          string        `json:"name" db:"name"`
	Description   string        `json:"description,omitempty" db:"description"`
	Rating        float64       `json:"rating" db:"rating"`
	Wins          int           `json:"wins" db:"wins"`
	Losses        int           `json:"losses" db:"losses"`
	Hidden        bool          `json:"hidden,omitempty" db:"is_hidden"`
	RatingHistory RatingHistory `json:"rating_history,omitempty" db:"rating_history"`
}

// AppendHistory records the candidate's current rating at ts
func (c *Candidate) AppendHistory(ts time.Time) {
	c.RatingHistory = append(c.RatingHistory, RatingPoint{Rating: c.Rating, Timestamp: ts})
}

// NormalizeName trims whitespace and converts the name to Unicode NFC so
// visually identical names compare equal.
func NormalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// NormalizeRatings converts loosely shaped rating input into ExistingRating.
// Each value may be a bare number or an object with rating, wins and losses.
func NormalizeRatings(raw map[string]any) (map[string]ExistingRating, error) {
	result := make(map[string]ExistingRating, len(raw))
	for name, value := range raw {
		r, err := normalizeRating(value)
		if err != nil {
			return nil, fmt.Errorf("rating for %q: %w", name, err)
		}
		result[NormalizeName(name)] = r
	}
	return result, nil
}

func normalizeRating(value any) (ExistingRating, error) {
	switch v := value.(type) {
	case ExistingRating:
		return v, nil
	case float64:
		return ratingFromNumber(v)
	case int:
		return ratingFromNumber(float64(v))
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return ExistingRating{}, fmt.Errorf("%w: %v", ErrInvalidRating, err)
		}
		return ratingFromNumber(f)
	case map[string]any:
		r, err := normalizeRating(v["rating"])
		if err != nil {
			return ExistingRating{}, err
		}
		r.Wins = intField(v["wins"])
		r.Losses = intField(v["losses"])
		return r, nil
	default:
		return ExistingRating{}, fmt.Errorf("%w: %T", ErrUnsupportedType, value)
	}
}

func ratingFromNumber(f float64) (ExistingRating, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return ExistingRating{}, ErrInvalidRating
	}
	return ExistingRating{Rating: f}, nil
}

func intField(v any) int {
	switch n := v.(type) {
	case float64:
		return max(0, int(n))
	case int:
		return max(0, n)
	case json.Number:
		i, _ := n.Int64()
		return max(0, int(i))
	}
	return 0
}

// BuildCandidates turns the input list into candidates, applying existing
// ratings by name and initialRating to unseen names. Ratings are clamped to
// [minRating, maxRating]. Names are normalized and must be unique.
func BuildCandidates(inputs []CandidateInput, existing map[string]ExistingRating, initialRating, minRating, maxRating float64) ([]Candidate, error) {
	seen := make(map[string]bool, len(inputs))
	candidates := make([]Candidate, 0, len(inputs))
	for _, in := range inputs {
		name := NormalizeName(in.Name)
		if name == "" {
			return nil, ErrEmptyName
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateName, name)
		}
		seen[name] = true

		id := in.ID
		if id == "" {
			id = uuid.NewString()
		}
		c := Candidate{
			ID:          id,
			Name:        name,
			Description: strings.TrimSpace(in.Description),
			Rating:      initialRating,
		}
		if r, ok := existing[name]; ok {
			c.Rating = math.Max(minRating, math.Min(maxRating, r.Rating))
			c.Wins = r.Wins
			c.Losses = r.Losses
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}

// FilterHidden drops inputs whose names are in hidden
func FilterHidden(inputs []CandidateInput, hidden map[string]bool) []CandidateInput {
	if len(hidden) == 0 {
		return inputs
	}
	result := make([]CandidateInput, 0, len(inputs))
	for _, in := range inputs {
		if !hidden[NormalizeName(in.Name)] {
			result = append(result, in)
		}
	}
	return result
}

// ParseCandidates reads a name list. Each line holds a name and an optional
// description separated by a comma. Blank lines and lines starting with #
// are skipped; a first line of "name[,description]" is treated as a header.
func ParseCandidates(r io.Reader) ([]CandidateInput, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	var inputs []CandidateInput
	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrCandidateParse, line, err)
		}
		if len(record) == 0 || strings.TrimSpace(record[0]) == "" {
			continue
		}
		if len(inputs) == 0 && strings.EqualFold(strings.TrimSpace(record[0]), "name") {
			continue
		}
		in := CandidateInput{Name: record[0]}
		if len(record) > 1 {
			in.Description = strings.Join(record[1:], ",")
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}
