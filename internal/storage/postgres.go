package storage

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/ernie/noughts/internal/domain"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// PostgresStore is the PostgreSQL mirror
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to connString and applies pending migrations
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("opening postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := migrate(pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func migrate(pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// Close releases the pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// UpsertGame writes the full snapshot of a session
func (s *PostgresStore) UpsertGame(ctx context.Context, game domain.Game) error {
	doc, err := json.Marshal(game)
	if err != nil {
		return fmt.Errorf("encoding game %s: %w", game.ID, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO games (id, status, doc, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			doc = EXCLUDED.doc,
			updated_at = EXCLUDED.updated_at
	`, game.ID, string(game.Status), string(doc), game.CreatedAt, game.UpdatedAt)
	return err
}

// GetGame returns the last mirrored snapshot of a session
func (s *PostgresStore) GetGame(ctx context.Context, id string) (*domain.Game, error) {
	game, err := scanGameDoc(s.pool.QueryRow(ctx, "SELECT doc FROM games WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	return game, err
}

// UpsertPlayer writes a player record keyed by its name
func (s *PostgresStore) UpsertPlayer(ctx context.Context, rec domain.PlayerRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO players (`+playerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (name) DO UPDATE SET
			games_played = EXCLUDED.games_played,
			wins = EXCLUDED.wins,
			losses = EXCLUDED.losses,
			draws = EXCLUDED.draws,
			win_rate = EXCLUDED.win_rate,
			points = EXCLUDED.points,
			last_played_at = EXCLUDED.last_played_at
	`, rec.PlayerName, rec.GamesPlayed, rec.Wins, rec.Losses, rec.Draws, rec.WinRate, rec.Points,
		rec.LastPlayedAt, rec.CreatedAt)
	return err
}

// GetPlayer returns one player record
func (s *PostgresStore) GetPlayer(ctx context.Context, name string) (*domain.PlayerRecord, error) {
	rec, err := scanPlayerRecord(s.pool.QueryRow(ctx,
		"SELECT "+playerColumns+" FROM players WHERE name = $1", domain.NormalizeName(name)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrPlayerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// LoadPlayers returns every player record
func (s *PostgresStore) LoadPlayers(ctx context.Context) ([]domain.PlayerRecord, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+playerColumns+" FROM players ORDER BY name")
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
