package data

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// OptionStats aggregates a name across users and tournaments
type OptionStats struct {
	Name             string    `json:"name" db:"name"`
	Description      string    `json:"description" db:"description"`
	AvgRating        float64   `json:"avg_rating" db:"avg_rating"`
	PopularityScore  int       `json:"popularity_score" db:"popularity_score"`
	TotalTournaments int       `json:"total_tournaments" db:"total_tournaments"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// TournamentRecorder is implemented by stores that keep cross-user name statistics
type TournamentRecorder interface {
	RecordTournament(ctx context.Context, candidates []Candidate) error
	ListOptions(ctx context.Context) ([]OptionStats, error)
}

// SQLiteStorage keeps sessions, ratings and name statistics in a SQLite database
type SQLiteStorage struct {
	db *sqlx.DB
}

var (
	_ Store              = (*SQLiteStorage)(nil)
	_ RatingStore        = (*SQLiteStorage)(nil)
	_ TournamentRecorder = (*SQLiteStorage)(nil)
)

type sessionRow struct {
	SessionInfo
	Payload string `db:"payload"`
}

type ratingRow struct {
	Candidate
	UserName  string    `db:"user_name"`
	UpdatedAt time.Time `db:"updated_at"`
}

// OpenSQLite connects to the database at dsn and applies pending migrations
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteStorage, error) {
	db, err := sqlx.ConnectContext(ctx, "sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot open database: %v", ErrStorageOperation, err)
	}
	// one writer keeps SQLite from returning SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", ErrStorageOperation, err)
	}
	if err := migrateUp(db.DB); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStorage{db: db}, nil
}

func migrateUp(db *sql.DB) error {
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("%w: cannot read migrations: %v", ErrStorageOperation, err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("%w: cannot create migrate driver: %v", ErrStorageOperation, err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("%w: cannot create migrate instance: %v", ErrStorageOperation, err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%w: migration failed: %v", ErrStorageOperation, err)
	}
	return nil
}

// Save upserts the snapshot for key
func (s *SQLiteStorage) Save(ctx context.Context, key string, session *TournamentSession) error {
	if session == nil {
		return fmt.Errorf("%w: session cannot be nil", ErrJSONSerialization)
	}
	if key == "" {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJSONSerialization, err)
	}
	row := sessionRow{SessionInfo: session.Info(key), Payload: string(payload)}

	_, err = s.db.NamedExecContext(ctx, `INSERT INTO tournament_sessions
		(session_key, id, user_name, status, candidate_count, current_match_index, total_matches, payload, last_updated)
		VALUES (:session_key, :id, :user_name, :status, :candidate_count, :current_match_index, :total_matches, :payload, :last_updated)
		ON CONFLICT(session_key) DO UPDATE SET
			id = excluded.id,
			status = excluded.status,
			candidate_count = excluded.candidate_count,
			current_match_index = excluded.current_match_index,
			total_matches = excluded.total_matches,
			payload = excluded.payload,
			last_updated = excluded.last_updated`, row)
	if err != nil {
		return fmt.Errorf("%w: save session: %v", ErrStorageOperation, err)
	}
	return nil
}

// Load reads the snapshot for key
func (s *SQLiteStorage) Load(ctx context.Context, key string) (*TournamentSession, error) {
	var payload string
	err := s.db.GetContext(ctx, &payload, "SELECT payload FROM tournament_sessions WHERE session_key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load session: %v", ErrStorageOperation, err)
	}

	var session TournamentSession
	if err := json.Unmarshal([]byte(payload), &session); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptSession, key, err)
	}
	return &session, nil
}

// List summarizes every stored session, most recently updated first
func (s *SQLiteStorage) List(ctx context.Context) ([]SessionInfo, error) {
	var infos []SessionInfo
	err := s.db.SelectContext(ctx, &infos, `SELECT session_key, id, user_name, status, candidate_count,
		current_match_index, total_matches, last_updated
		FROM tournament_sessions ORDER BY last_updated DESC`)
	if err != nil {
		return nil, fmt.Errorf("%w: list sessions: %v", ErrStorageOperation, err)
	}
	return infos, nil
}

// Delete removes the snapshot for key
func (s *SQLiteStorage) Delete(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM tournament_sessions WHERE session_key = ?", key)
	if err != nil {
		return fmt.Errorf("%w: delete session: %v", ErrStorageOperation, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, key)
	}
	return nil
}

// Close closes the database
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// LoadRatings returns the stored candidates of user ordered by rating
func (s *SQLiteStorage) LoadRatings(ctx context.Context, user string) ([]Candidate, error) {
	var stored []Candidate
	err := s.db.SelectContext(ctx, &stored, `SELECT id, name, description, rating, wins, losses, is_hidden, rating_history
		FROM cat_name_ratings WHERE user_name = ? ORDER BY rating DESC, name ASC`, user)
	if err != nil {
		return nil, fmt.Errorf("%w: load ratings: %v", ErrStorageOperation, err)
	}
	return stored, nil
}

// SaveRatings upserts candidates for user in one transaction. The hidden flag
// of an already stored name is kept.
func (s *SQLiteStorage) SaveRatings(ctx context.Context, user string, candidates []Candidate) error {
	if len(candidates) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageOperation, err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	for _, c := range candidates {
		row := ratingRow{Candidate: c, UserName: user, UpdatedAt: now}
		_, err := tx.NamedExecContext(ctx, `INSERT INTO cat_name_ratings
			(user_name, name, id, description, rating, wins, losses, is_hidden, rating_history, updated_at)
			VALUES (:user_name, :name, :id, :description, :rating, :wins, :losses, :is_hidden, :rating_history, :updated_at)
			ON CONFLICT(user_name, name) DO UPDATE SET
				description = excluded.description,
				rating = excluded.rating,
				wins = excluded.wins,
				losses = excluded.losses,
				rating_history = excluded.rating_history,
				updated_at = excluded.updated_at`, row)
		if err != nil {
			return fmt.Errorf("%w: save rating for %s: %v", ErrStorageOperation, c.Name, err)
		}
	}
	return tx.Commit()
}

// SetHidden flags a name as hidden or visible for user
func (s *SQLiteStorage) SetHidden(ctx context.Context, user, name string, hidden bool) error {
	name = NormalizeName(name)
	if name == "" {
		return ErrEmptyName
	}
	row := ratingRow{
		Candidate: Candidate{ID: name, Name: name, Rating: DefaultEloConfig().InitialRating, Hidden: hidden},
		UserName:  user,
		UpdatedAt: time.Now().UTC(),
	}
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO cat_name_ratings
		(user_name, name, id, description, rating, wins, losses, is_hidden, rating_history, updated_at)
		VALUES (:user_name, :name, :id, :description, :rating, :wins, :losses, :is_hidden, :rating_history, :updated_at)
		ON CONFLICT(user_name, name) DO UPDATE SET is_hidden = excluded.is_hidden, updated_at = excluded.updated_at`, row)
	if err != nil {
		return fmt.Errorf("%w: set hidden: %v", ErrStorageOperation, err)
	}
	return nil
}

// RecordTournament bumps the tournament count of every candidate and
// refreshes its average rating and popularity across all users.
func (s *SQLiteStorage) RecordTournament(ctx context.Context, candidates []Candidate) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageOperation, err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	for _, c := range candidates {
		if _, err := tx.ExecContext(ctx, `INSERT INTO cat_name_options (name, description, total_tournaments, updated_at)
			VALUES (?, ?, 1, ?)
			ON CONFLICT(name) DO UPDATE SET
				total_tournaments = cat_name_options.total_tournaments + 1,
				description = CASE WHEN excluded.description <> '' THEN excluded.description ELSE cat_name_options.description END,
				updated_at = excluded.updated_at`, c.Name, c.Description, now); err != nil {
			return fmt.Errorf("%w: record option %s: %v", ErrStorageOperation, c.Name, err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE cat_name_options SET
				avg_rating = COALESCE((SELECT AVG(rating) FROM cat_name_ratings WHERE name = ?), ?),
				popularity_score = COALESCE((SELECT SUM(wins - losses) FROM cat_name_ratings WHERE name = ?), 0)
			WHERE name = ?`, c.Name, c.Rating, c.Name, c.Name); err != nil {
			return fmt.Errorf("%w: refresh option %s: %v", ErrStorageOperation, c.Name, err)
		}
	}
	return tx.Commit()
}

// ListOptions returns name statistics, most popular first
func (s *SQLiteStorage) ListOptions(ctx context.Context) ([]OptionStats, error) {
	var options []OptionStats
	err := s.db.SelectContext(ctx, &options, `SELECT name, description, avg_rating, popularity_score, total_tournaments, updated_at
		FROM cat_name_options ORDER BY popularity_score DESC, avg_rating DESC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("%w: list options: %v", ErrStorageOperation, err)
	}
	return options, nil
}
