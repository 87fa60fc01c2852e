// Package journal provides the audit trail and result export for catelo
// tournaments. The audit trail is an append-only JSON Lines log with a hash
// chain so that edited or removed entries are detected.
package journal

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/jonboulle/clockwork"

	"github.com/pashagolub/catelo/pkg/data"
	"github.com/pashagolub/catelo/pkg/elo"
)

// Error types for audit trail operations
var (
	ErrAuditLogCorrupted = errors.New("audit log corrupted or tampered")
	ErrInvalidLogEntry   = errors.New("invalid log entry format")
	ErrAuditClosed       = errors.New("audit trail closed")
)

// AuditEventType represents the type of event being logged
type AuditEventType string

const (
	EventSessionStarted       AuditEventType = "session_started"
	EventSessionResumed       AuditEventType = "session_resumed"
	EventVoteRecorded         AuditEventType = "vote_recorded"
	EventVoteUndone           AuditEventType = "vote_undone"
	EventTournamentCompleted  AuditEventType = "tournament_completed"
	EventTournamentEndedEarly AuditEventType = "tournament_ended_early"
)

// AuditEntry represents a single entry in the audit log
type AuditEntry struct {
	// Core identification
	ID         string         `json:"id"`          // Unique entry identifier
	Timestamp  time.Time      `json:"timestamp"`   // When the event occurred
	EventType  AuditEventType `json:"event_type"`  // Type of event being logged
	SessionKey string         `json:"session_key"` // Tournament this event belongs to

	// Event data
	Data map[string]any `json:"data"`

	// Integrity protection
	PreviousHash string `json:"previous_hash"` // Hash of previous entry (tamper detection)
	EntryHash    string `json:"entry_hash"`    // Hash of this entry's content
	Sequence     uint64 `json:"sequence"`      // Sequential entry number
}

// AuditTrail is the append-only journal of one user's tournaments. It
// implements the tournament recorder callbacks.
type AuditTrail struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	clock    clockwork.Clock
	lastHash string
	sequence uint64
}

// NewAuditTrail opens (or creates) the journal of user inside dir. An
// existing journal is verified before new entries are appended.
func NewAuditTrail(dir, user string, clock clockwork.Clock) (*AuditTrail, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	name := slug.Make(user)
	if name == "" {
		name = "anonymous"
	}
	a := &AuditTrail{
		path:  filepath.Join(dir, "audit-"+name+".jsonl"),
		clock: clock,
	}

	entries, err := readEntries(a.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err := verifyChain(entries); err != nil {
		return nil, fmt.Errorf("audit log validation failed: %w", err)
	}
	if n := len(entries); n > 0 {
		a.lastHash = entries[n-1].EntryHash
		a.sequence = entries[n-1].Sequence + 1
	}

	file, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}
	a.file = file
	return a, nil
}

// SessionStarted records a fresh or resumed tournament
func (a *AuditTrail) SessionStarted(_ context.Context, key string, session *data.TournamentSession, resumed bool) error {
	eventType := EventSessionStarted
	if resumed {
		eventType = EventSessionResumed
	}
	return a.logEntry(eventType, key, map[string]any{
		"session_id":    session.ID,
		"user_name":     session.UserName,
		"candidates":    session.Names(),
		"total_matches": session.TotalMatches,
		"match_index":   session.CurrentMatchIndex,
	})
}

// VoteRecorded records one vote
func (a *AuditTrail) VoteRecorded(_ context.Context, key string, record data.MatchRecord) error {
	return a.logEntry(EventVoteRecorded, key, matchData(record))
}

// VoteUndone records the vote an undo removed
func (a *AuditTrail) VoteUndone(_ context.Context, key string, record data.MatchRecord) error {
	return a.logEntry(EventVoteUndone, key, matchData(record))
}

// TournamentCompleted records the final ranking
func (a *AuditTrail) TournamentCompleted(_ context.Context, key string, ratings []elo.FinalRating, early bool) error {
	eventType := EventTournamentCompleted
	if early {
		eventType = EventTournamentEndedEarly
	}
	rankings := make([]string, len(ratings))
	scores := make(map[string]any, len(ratings))
	for i, r := range ratings {
		rankings[i] = r.Name
		scores[r.Name] = r.Rating
	}
	return a.logEntry(eventType, key, map[string]any{
		"rankings": rankings,
		"ratings":  scores,
	})
}

func matchData(record data.MatchRecord) map[string]any {
	return map[string]any{
		"match_number":  record.MatchNumber,
		"left":          record.Left.Name,
		"right":         record.Right.Name,
		"outcome":       record.Outcome.String(),
		"left_before":   record.RatingsBefore.Left,
		"right_before":  record.RatingsBefore.Right,
		"left_after":    record.RatingsAfter.Left,
		"right_after":   record.RatingsAfter.Right,
		"rating_change": record.RatingsAfter.Left - record.RatingsBefore.Left,
	}
}

// logEntry writes a new entry to the audit log
func (a *AuditTrail) logEntry(eventType AuditEventType, key string, payload map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.file == nil {
		return ErrAuditClosed
	}

	entry := AuditEntry{
		ID:           uuid.NewString(),
		Timestamp:    a.clock.Now().UTC(),
		EventType:    eventType,
		SessionKey:   key,
		Data:         payload,
		PreviousHash: a.lastHash,
		Sequence:     a.sequence,
	}
	entry.EntryHash = calculateEntryHash(&entry)

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	if _, err := a.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	if err := a.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync audit log: %w", err)
	}

	a.lastHash = entry.EntryHash
	a.sequence++
	return nil
}

// calculateEntryHash computes the SHA-256 hash of an entry's content
func calculateEntryHash(entry *AuditEntry) string {
	// payload is hashed through its JSON form; map keys are sorted by encoding/json
	raw, _ := json.Marshal(entry.Data)
	payload := sha256.Sum256(raw)

	content := fmt.Sprintf("%s|%s|%s|%s|%s|%d|%s",
		entry.ID,
		entry.Timestamp.Format(time.RFC3339Nano),
		entry.EventType,
		entry.SessionKey,
		entry.PreviousHash,
		entry.Sequence,
		hex.EncodeToString(payload[:]))

	hash := sha256.Sum256([]byte(content))
	return hex.EncodeToString(hash[:])
}

func readEntries(path string) ([]AuditEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var entries []AuditEntry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry AuditEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrInvalidLogEntry, lineNo, err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading audit log: %w", err)
	}
	return entries, nil
}

func verifyChain(entries []AuditEntry) error {
	previousHash := ""
	for i, entry := range entries {
		if entry.Sequence != uint64(i) {
			return fmt.Errorf("%w: sequence mismatch at entry %d", ErrAuditLogCorrupted, i)
		}
		if entry.PreviousHash != previousHash {
			return fmt.Errorf("%w: hash chain broken at sequence %d", ErrAuditLogCorrupted, i)
		}
		if entry.EntryHash != calculateEntryHash(&entry) {
			return fmt.Errorf("%w: entry hash mismatch at sequence %d", ErrAuditLogCorrupted, i)
		}
		previousHash = entry.EntryHash
	}
	return nil
}

// Close closes the audit trail and releases resources
func (a *AuditTrail) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}

// Path returns the path to the audit log file
func (a *AuditTrail) Path() string {
	return a.path
}

// Sequence returns the number of entries written so far
func (a *AuditTrail) Sequence() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sequence
}

// VerifyIntegrity re-reads the whole log and checks the hash chain
func (a *AuditTrail) VerifyIntegrity() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	entries, err := readEntries(a.path)
	if err != nil {
		return fmt.Errorf("failed to open audit log for verification: %w", err)
	}
	return verifyChain(entries)
}

// VerifyFile checks the hash chain of a journal file without opening it for writing
func VerifyFile(path string) (int, error) {
	entries, err := readEntries(path)
	if err != nil {
		return 0, err
	}
	return len(entries), verifyChain(entries)
}

// QueryOptions defines filtering criteria for audit log queries
type QueryOptions struct {
	SessionKey string           `json:"session_key,omitempty"` // Filter by tournament
	EventTypes []AuditEventType `json:"event_types,omitempty"` // Filter by event types
	StartTime  *time.Time       `json:"start_time,omitempty"`  // Filter entries after this time
	EndTime    *time.Time       `json:"end_time,omitempty"`    // Filter entries before this time
	Name       string           `json:"name,omitempty"`        // Filter votes involving a name
	Limit      int              `json:"limit,omitempty"`       // Maximum number of entries to return
	Offset     int              `json:"offset,omitempty"`      // Number of entries to skip
}

// QueryResult contains the results of an audit log query
type QueryResult struct {
	Entries    []AuditEntry `json:"entries"`
	TotalCount int          `json:"total_count"`
	HasMore    bool         `json:"has_more"`
}

// Query searches the audit log for entries matching the specified criteria
func (a *AuditTrail) Query(options QueryOptions) (*QueryResult, error) {
	a.mu.Lock()
	entries, err := readEntries(a.path)
	a.mu.Unlock()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}
	return query(entries, options), nil
}

func query(entries []AuditEntry, options QueryOptions) *QueryResult {
	matches := make([]AuditEntry, 0, len(entries))
	for _, entry := range entries {
		if matchesQuery(&entry, options) {
			matches = append(matches, entry)
		}
	}

	total := len(matches)
	start := min(max(0, options.Offset), total)
	end := total
	if options.Limit > 0 {
		end = min(start+options.Limit, total)
	}
	return &QueryResult{
		Entries:    matches[start:end],
		TotalCount: total,
		HasMore:    end < total,
	}
}

func matchesQuery(entry *AuditEntry, options QueryOptions) bool {
	if options.SessionKey != "" && entry.SessionKey != options.SessionKey {
		return false
	}
	if len(options.EventTypes) > 0 && !slices.Contains(options.EventTypes, entry.EventType) {
		return false
	}
	if options.StartTime != nil && entry.Timestamp.Before(*options.StartTime) {
		return false
	}
	if options.EndTime != nil && entry.Timestamp.After(*options.EndTime) {
		return false
	}
	if options.Name != "" {
		left, _ := entry.Data["left"].(string)
		right, _ := entry.Data["right"].(string)
		if left != options.Name && right != options.Name {
			return false
		}
	}
	return true
}

// AuditStatistics provides summary information about the audit log
type AuditStatistics struct {
	TotalEntries int                    `json:"total_entries"`
	Sessions     int                    `json:"sessions"`
	EventCounts  map[AuditEventType]int `json:"event_counts"`
	FirstEntry   *time.Time             `json:"first_entry,omitempty"`
	LastEntry    *time.Time             `json:"last_entry,omitempty"`
}

// Statistics summarizes the audit log
func (a *AuditTrail) Statistics() (*AuditStatistics, error) {
	result, err := a.Query(QueryOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to generate statistics: %w", err)
	}

	stats := &AuditStatistics{
		TotalEntries: result.TotalCount,
		EventCounts:  make(map[AuditEventType]int),
	}
	sessions := make(map[string]bool)
	for _, entry := range result.Entries {
		stats.EventCounts[entry.EventType]++
		sessions[entry.SessionKey] = true
	}
	stats.Sessions = len(sessions)
	if n := len(result.Entries); n > 0 {
		stats.FirstEntry = &result.Entries[0].Timestamp
		stats.LastEntry = &result.Entries[n-1].Timestamp
	}
	return stats, nil
}
