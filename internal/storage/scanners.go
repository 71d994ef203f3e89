package storage

import (
	"encoding/json"
	"fmt"

	"github.com/ernie/noughts/internal/domain"
)

// scanner is satisfied by *sql.Row, *sql.Rows and pgx.Row
type scanner interface {
	Scan(dest ...any) error
}

const playerColumns = `name, games_played, wins, losses, draws, win_rate, points, last_played_at, created_at`

// scanPlayerRecord scans a row selected with playerColumns
func scanPlayerRecord(s scanner) (domain.PlayerRecord, error) {
	var rec domain.PlayerRecord
	err := s.Scan(&rec.PlayerName, &rec.GamesPlayed, &rec.Wins, &rec.Losses, &rec.Draws,
		&rec.WinRate, &rec.Points, &rec.LastPlayedAt, &rec.CreatedAt)
	if err != nil {
		return domain.PlayerRecord{}, err
	}
	rec.LastPlayedAt = rec.LastPlayedAt.UTC()
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, nil
}

// scanGameDoc scans a single doc column holding a snapshot
func scanGameDoc(s scanner) (*domain.Game, error) {
	var doc []byte
	if err := s.Scan(&doc); err != nil {
		return nil, err
	}
	var game domain.Game
	if err := json.Unmarshal(doc, &game); err != nil {
		return nil, fmt.Errorf("decoding game document: %w", err)
	}
	return &game, nil
}
