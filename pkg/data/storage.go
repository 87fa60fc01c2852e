package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/gosimple/slug"
)

// Error types for storage operations
var (
	ErrStorageOperation  = errors.New("storage operation failed")
	ErrJSONSerialization = errors.New("JSON serialization error")
	ErrAtomicWrite       = errors.New("atomic write operation failed")
	ErrInvalidKey        = errors.New("invalid session key")
)

const (
	sessionExt    = ".json"
	ratingsPrefix = "ratings-"
)

// Store persists tournament snapshots by session key
type Store interface {
	SessionLoader
	Save(ctx context.Context, key string, session *TournamentSession) error
	List(ctx context.Context) ([]SessionInfo, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

// RatingStore persists per-user candidate ratings across tournaments
type RatingStore interface {
	LoadRatings(ctx context.Context, user string) ([]Candidate, error)
	SaveRatings(ctx context.Context, user string, candidates []Candidate) error
	SetHidden(ctx context.Context, user, name string, hidden bool) error
}

// ExistingRatings indexes stored candidates by name
func ExistingRatings(stored []Candidate) map[string]ExistingRating {
	result := make(map[string]ExistingRating, len(stored))
	for _, c := range stored {
		result[c.Name] = ExistingRating{Rating: c.Rating, Wins: c.Wins, Losses: c.Losses}
	}
	return result
}

// HiddenNames returns the set of stored names flagged hidden
func HiddenNames(stored []Candidate) map[string]bool {
	result := make(map[string]bool)
	for _, c := range stored {
		if c.Hidden {
			result[c.Name] = true
		}
	}
	return result
}

// FileStorage keeps one JSON file per session and one ratings file per user
type FileStorage struct {
	mu           sync.RWMutex // Protects concurrent operations
	dir          string
	atomicWrites bool // Whether to use atomic writes for safety
}

var (
	_ Store       = (*FileStorage)(nil)
	_ RatingStore = (*FileStorage)(nil)
)

// NewFileStorage creates a file store rooted at dir, creating it if needed
func NewFileStorage(dir string) (*FileStorage, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("%w: storage directory is empty", ErrStorageOperation)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create storage directory: %v", ErrStorageOperation, err)
	}
	return &FileStorage{dir: dir, atomicWrites: true}, nil
}

// SetAtomicWrites enables or disables atomic write operations
func (fs *FileStorage) SetAtomicWrites(enabled bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.atomicWrites = enabled
}

// Dir returns the storage directory
func (fs *FileStorage) Dir() string {
	return fs.dir
}

func (fs *FileStorage) sessionPath(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\.`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(fs.dir, key+sessionExt), nil
}

func (fs *FileStorage) ratingsPath(user string) string {
	name := slug.Make(user)
	if name == "" {
		name = "anonymous"
	}
	return filepath.Join(fs.dir, ratingsPrefix+name+sessionExt)
}

// Save writes the snapshot for key
func (fs *FileStorage) Save(ctx context.Context, key string, session *TournamentSession) error {
	if session == nil {
		return fmt.Errorf("%w: session cannot be nil", ErrJSONSerialization)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := fs.sessionPath(key)
	if err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.writeJSON(path, session)
}

// Load reads the snapshot for key
func (fs *FileStorage) Load(ctx context.Context, key string) (*TournamentSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := fs.sessionPath(key)
	if err != nil {
		return nil, err
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	var session TournamentSession
	if err := readJSON(path, &session); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, key)
		}
		return nil, err
	}
	return &session, nil
}

// List summarizes every stored session, most recently updated first
func (fs *FileStorage) List(ctx context.Context) ([]SessionInfo, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read storage directory: %v", ErrStorageOperation, err)
	}

	var infos []SessionInfo
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, sessionExt) || strings.HasPrefix(name, ratingsPrefix) {
			continue
		}
		var session TournamentSession
		if err := readJSON(filepath.Join(fs.dir, name), &session); err != nil {
			continue // unreadable files are not sessions
		}
		infos = append(infos, session.Info(strings.TrimSuffix(name, sessionExt)))
	}
	slices.SortFunc(infos, func(a, b SessionInfo) int {
		return b.LastUpdated.Compare(a.LastUpdated)
	})
	return infos, nil
}

// Delete removes the snapshot for key
func (fs *FileStorage) Delete(_ context.Context, key string) error {
	path, err := fs.sessionPath(key)
	if err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, key)
		}
		return fmt.Errorf("%w: %v", ErrStorageOperation, err)
	}
	return nil
}

// Close implements Store
func (fs *FileStorage) Close() error {
	return nil
}

// LoadRatings returns the stored candidates of user, or nothing for a new user
func (fs *FileStorage) LoadRatings(ctx context.Context, user string) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	var stored []Candidate
	if err := readJSON(fs.ratingsPath(user), &stored); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return stored, nil
}

// SaveRatings merges candidates into the user's ratings by name. The hidden
// flag of an already stored name is kept.
func (fs *FileStorage) SaveRatings(ctx context.Context, user string, candidates []Candidate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	path := fs.ratingsPath(user)
	var stored []Candidate
	if err := readJSON(path, &stored); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	for _, c := range candidates {
		i := slices.IndexFunc(stored, func(s Candidate) bool { return s.Name == c.Name })
		if i < 0 {
			stored = append(stored, c)
			continue
		}
		c.Hidden = stored[i].Hidden
		stored[i] = c
	}
	return fs.writeJSON(path, stored)
}

// SetHidden flags a stored name as hidden or visible. Unknown names are added
// with the default rating so they stay hidden in future tournaments.
func (fs *FileStorage) SetHidden(ctx context.Context, user, name string, hidden bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name = NormalizeName(name)
	if name == "" {
		return ErrEmptyName
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	path := fs.ratingsPath(user)
	var stored []Candidate
	if err := readJSON(path, &stored); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	i := slices.IndexFunc(stored, func(s Candidate) bool { return s.Name == name })
	if i < 0 {
		stored = append(stored, Candidate{Name: name, Rating: DefaultEloConfig().InitialRating, Hidden: hidden})
	} else {
		stored[i].Hidden = hidden
	}
	return fs.writeJSON(path, stored)
}

// writeJSON stores v at path, through a temp file and rename when atomic writes are on
func (fs *FileStorage) writeJSON(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJSONSerialization, err)
	}

	if !fs.atomicWrites {
		if err := os.WriteFile(path, raw, 0644); err != nil {
			return fmt.Errorf("%w: %v", ErrStorageOperation, err)
		}
		return nil
	}

	tempFile := path + ".tmp"
	file, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("%w: cannot create temp file: %v", ErrAtomicWrite, err)
	}
	if _, err := file.Write(raw); err != nil {
		_ = file.Close()
		_ = os.Remove(tempFile)
		return fmt.Errorf("%w: %v", ErrAtomicWrite, err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		_ = os.Remove(tempFile)
		return fmt.Errorf("%w: failed to sync file: %v", ErrAtomicWrite, err)
	}
	_ = file.Close()

	if err := os.Rename(tempFile, path); err != nil {
		_ = os.Remove(tempFile)
		return fmt.Errorf("%w: atomic rename failed: %v", ErrAtomicWrite, err)
	}
	return nil
}

func readJSON(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorruptSession, filepath.Base(path), err)
	}
	return nil
}
