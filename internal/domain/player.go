package domain

import (
	"math"
	"strings"
	"time"
)

// Points awarded per completed game.
const (
	PointsWin  = 3
	PointsDraw = 1
	PointsLoss = 0
)

// PlayerRecord holds cumulative statistics for a display name.
type PlayerRecord struct {
	PlayerName   string    `json:"playerName"`
	GamesPlayed  int       `json:"gamesPlayed"`
	Wins         int       `json:"wins"`
	Losses       int       `json:"losses"`
	Draws        int       `json:"draws"`
	WinRate      int       `json:"winRate"`
	Points       int       `json:"points"`
	LastPlayedAt time.Time `json:"lastPlayed"`
	CreatedAt    time.Time `json:"createdAt"`
}

// NewPlayerRecord returns an empty record for name.
func NewPlayerRecord(name string, now time.Time) PlayerRecord {
	return PlayerRecord{
		PlayerName:   NormalizeName(name),
		LastPlayedAt: now,
		CreatedAt:    now,
	}
}

// NormalizeName trims surrounding whitespace; the result is the player key.
func NormalizeName(name string) string {
	return strings.TrimSpace(name)
}

// RecordWin, RecordLoss and RecordDraw each count exactly one game.
func (p *PlayerRecord) RecordWin(now time.Time) {
	p.Wins++
	p.Points += PointsWin
	p.played(now)
}

func (p *PlayerRecord) RecordLoss(now time.Time) {
	p.Losses++
	p.Points += PointsLoss
	p.played(now)
}

func (p *PlayerRecord) RecordDraw(now time.Time) {
	p.Draws++
	p.Points += PointsDraw
	p.played(now)
}

func (p *PlayerRecord) played(now time.Time) {
	p.GamesPlayed++
	p.LastPlayedAt = now
	p.WinRate = WinRate(p.Wins, p.GamesPlayed)
}

// Rederive recomputes the counters that follow from wins, losses and draws.
func (p *PlayerRecord) Rederive() {
	p.GamesPlayed = p.Wins + p.Losses + p.Draws
	p.Points = p.Wins*PointsWin + p.Draws*PointsDraw + p.Losses*PointsLoss
	p.WinRate = WinRate(p.Wins, p.GamesPlayed)
}

// WinRate is wins as a rounded percentage of games, 0 without games.
func WinRate(wins, games int) int {
	if games == 0 {
		return 0
	}
	return int(math.Round(float64(wins) / float64(games) * 100))
}
