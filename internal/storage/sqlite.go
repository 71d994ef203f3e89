package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ernie/noughts/internal/domain"
	_ "modernc.org/sqlite"
)

// formatTimestamp converts time.Time to SQLite-compatible UTC ISO8601 string
// The Z suffix ensures the Go sqlite driver parses it back as UTC
func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

//go:embed schema.sql
var schema string

// Store is the SQLite mirror
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting pragmas: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Game methods ---

// UpsertGame writes the full snapshot of a session
func (s *Store) UpsertGame(ctx context.Context, game domain.Game) error {
	doc, err := json.Marshal(game)
	if err != nil {
		return fmt.Errorf("encoding game %s: %w", game.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO games (id, status, doc, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			doc = excluded.doc,
			updated_at = excluded.updated_at
	`, game.ID, string(game.Status), string(doc), formatTimestamp(game.CreatedAt), formatTimestamp(game.UpdatedAt))
	return err
}

// GetGame returns the last mirrored snapshot of a session
func (s *Store) GetGame(ctx context.Context, id string) (*domain.Game, error) {
	game, err := scanGameDoc(s.db.QueryRowContext(ctx, "SELECT doc FROM games WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	return game, err
}

// --- Player methods ---

// UpsertPlayer writes a player record keyed by its name
func (s *Store) UpsertPlayer(ctx context.Context, rec domain.PlayerRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO players (`+playerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			games_played = excluded.games_played,
			wins = excluded.wins,
			losses = excluded.losses,
			draws = excluded.draws,
			win_rate = excluded.win_rate,
			points = excluded.points,
			last_played_at = excluded.last_played_at
	`, rec.PlayerName, rec.GamesPlayed, rec.Wins, rec.Losses, rec.Draws, rec.WinRate, rec.Points,
		formatTimestamp(rec.LastPlayedAt), formatTimestamp(rec.CreatedAt))
	return err
}

// GetPlayer returns one player record
func (s *Store) GetPlayer(ctx context.Context, name string) (*domain.PlayerRecord, error) {
	rec, err := scanPlayerRecord(s.db.QueryRowContext(ctx,
		"SELECT "+playerColumns+" FROM players WHERE name = ?", domain.NormalizeName(name)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPlayerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// LoadPlayers returns every player record
func (s *Store) LoadPlayers(ctx context.Context) ([]domain.PlayerRecord, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+playerColumns+" FROM players ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var players []domain.PlayerRecord
	for rows.Next() {
		rec, err := scanPlayerRecord(rows)
		if err != nil {
			return nil, err
		}
		players = append(players, rec)
	}
	return players, rows.Err()
}
