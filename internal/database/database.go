package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a referenced fighter or match does not exist
var ErrNotFound = errors.New("not found")

// timeLayout sorts lexicographically in chronological order
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// RecentLimit is how many matches RecentMatches returns
const RecentLimit = 5

// Database handles SQLite database operations
type Database struct {
	db *sql.DB
}

// FighterRecord represents a fighter stored in the database
type FighterRecord struct {
	ID        string
	Name      string
	Country   string
	AvatarURL string
	CreatedAt time.Time
}

// ScoreRecord is one fighter's punch count in a match
type ScoreRecord struct {
	Thrown int `json:"thrown"`
	Hits   int `json:"hits"`
}

// MatchRecord represents a match with both fighters and their scores
type MatchRecord struct {
	ID       string
	Title    string
	DateTime time.Time
	Fighter1 FighterRecord
	Fighter2 FighterRecord
	Score1   ScoreRecord
	Score2   ScoreRecord
}

// New creates a new database connection
func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Pragmas are per connection; a single connection keeps them in force
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &Database{db: db}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// Ping checks that the database answers
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Migrate runs database migrations
func (d *Database) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS fighters (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			country TEXT NOT NULL DEFAULT '',
			avatar_url TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS matches (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			datetime TEXT NOT NULL,
			fighter1_id TEXT NOT NULL,
			fighter2_id TEXT NOT NULL,
			FOREIGN KEY (fighter1_id) REFERENCES fighters(id),
			FOREIGN KEY (fighter2_id) REFERENCES fighters(id)
		)`,
		`CREATE TABLE IF NOT EXISTS fighter_scores (
			match_id TEXT NOT NULL,
			slot INTEGER NOT NULL,
			thrown INTEGER NOT NULL DEFAULT 0,
			hits INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (match_id, slot),
			FOREIGN KEY (match_id) REFERENCES matches(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_matches_datetime ON matches(datetime DESC)`,
	}

	for _, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	log.Printf("[Database] Migrations completed successfully")
	return nil
}

// CreateFighter stores a new fighter and returns its generated ID
func (d *Database) CreateFighter(ctx context.Context, f *FighterRecord) (string, error) {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}

	query := `INSERT INTO fighters (id, name, country, avatar_url, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err := d.db.ExecContext(ctx, query, f.ID, f.Name, f.Country, f.AvatarURL, formatTime(f.CreatedAt))
	if err != nil {
		return "", fmt.Errorf("failed to create fighter: %w", err)
	}
	return f.ID, nil
}

// GetFighter retrieves a fighter by ID
func (d *Database) GetFighter(ctx context.Context, id string) (*FighterRecord, error) {
	query := `SELECT id, name, country, avatar_url, created_at FROM fighters WHERE id = ?`

	var f FighterRecord
	var createdAt string
	err := d.db.QueryRowContext(ctx, query, id).Scan(&f.ID, &f.Name, &f.Country, &f.AvatarURL, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fighter: %w", err)
	}
	f.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// CreateMatch stores a match between two existing fighters with zeroed
// scores for both. It returns ErrNotFound when a fighter does not exist.
func (d *Database) CreateMatch(ctx context.Context, title string, at time.Time, fighter1ID, fighter2ID string) (string, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range []string{fighter1ID, fighter2ID} {
		var exists int
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM fighters WHERE id = ?", id).Scan(&exists)
		if err == sql.ErrNoRows {
			return "", fmt.Errorf("fighter %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return "", fmt.Errorf("failed to look up fighter: %w", err)
		}
	}

	id := uuid.New().String()
	query := `INSERT INTO matches (id, title, datetime, fighter1_id, fighter2_id) VALUES (?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, query, id, title, formatTime(at), fighter1ID, fighter2ID); err != nil {
		return "", fmt.Errorf("failed to create match: %w", err)
	}

	for slot := 1; slot <= 2; slot++ {
		if _, err := tx.ExecContext(ctx, "INSERT INTO fighter_scores (match_id, slot, thrown, hits) VALUES (?, ?, 0, 0)", id, slot); err != nil {
			return "", fmt.Errorf("failed to create score: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit match: %w", err)
	}
	return id, nil
}

const matchColumns = `m.id, m.title, m.datetime,
		f1.id, f1.name, f1.country, f1.avatar_url, f1.created_at,
		f2.id, f2.name, f2.country, f2.avatar_url, f2.created_at,
		s1.thrown, s1.hits, s2.thrown, s2.hits
	FROM matches m
	JOIN fighters f1 ON f1.id = m.fighter1_id
	JOIN fighters f2 ON f2.id = m.fighter2_id
	JOIN fighter_scores s1 ON s1.match_id = m.id AND s1.slot = 1
	JOIN fighter_scores s2 ON s2.match_id = m.id AND s2.slot = 2`

type scanner interface {
	Scan(dest ...any) error
}

func scanMatch(row scanner) (*MatchRecord, error) {
	var m MatchRecord
	var at, created1, created2 string
	err := row.Scan(&m.ID, &m.Title, &at,
		&m.Fighter1.ID, &m.Fighter1.Name, &m.Fighter1.Country, &m.Fighter1.AvatarURL, &created1,
		&m.Fighter2.ID, &m.Fighter2.Name, &m.Fighter2.Country, &m.Fighter2.AvatarURL, &created2,
		&m.Score1.Thrown, &m.Score1.Hits, &m.Score2.Thrown, &m.Score2.Hits)
	if err != nil {
		return nil, err
	}

	if m.DateTime, err = parseTime(at); err != nil {
		return nil, err
	}
	if m.Fighter1.CreatedAt, err = parseTime(created1); err != nil {
		return nil, err
	}
	if m.Fighter2.CreatedAt, err = parseTime(created2); err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMatch retrieves a match with its fighters and scores
func (d *Database) GetMatch(ctx context.Context, id string) (*MatchRecord, error) {
	m, err := scanMatch(d.db.QueryRowContext(ctx, "SELECT "+matchColumns+" WHERE m.id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get match: %w", err)
	}
	return m, nil
}

// UpdateScores replaces both fighters' scores. It returns ErrNotFound
// when the match does not exist.
func (d *Database) UpdateScores(ctx context.Context, matchID string, score1, score2 ScoreRecord) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for slot, s := range map[int]ScoreRecord{1: score1, 2: score2} {
		result, err := tx.ExecContext(ctx, "UPDATE fighter_scores SET thrown = ?, hits = ? WHERE match_id = ? AND slot = ?",
			s.Thrown, s.Hits, matchID, slot)
		if err != nil {
			return fmt.Errorf("failed to update score: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("match %s: %w", matchID, ErrNotFound)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit scores: %w", err)
	}
	return nil
}

// RecentMatches returns the most recent matches by descending date
func (d *Database) RecentMatches(ctx context.Context) ([]*MatchRecord, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT "+matchColumns+" ORDER BY m.datetime DESC LIMIT ?", RecentLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}
	defer rows.Close()

	matches := []*MatchRecord{}
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored time %q: %w", s, err)
	}
	return t, nil
}
