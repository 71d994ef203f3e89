package ranking

import (
	"math"
	"sort"

	"github.com/ernie/noughts/internal/domain"
)

// MinQualifyingGames is how many games a player needs before the winRate
// ordering ranks them among the qualified players.
const MinQualifyingGames = 5

// Sort orders accepted by the engine.
const (
	SortPoints      = "points"
	SortWins        = "wins"
	SortWinRate     = "winRate"
	SortGamesPlayed = "gamesPlayed"
)

// Entry is one leaderboard row. The record fields are flattened next to
// the rank when encoded.
type Entry struct {
	Rank int `json:"rank"`
	domain.PlayerRecord
}

// Aggregate summarizes every known record.
type Aggregate struct {
	TotalPlayers     int `json:"totalPlayers"`
	TotalGamesPlayed int `json:"totalGamesPlayed"`
	TotalWins        int `json:"totalWins"`
	TotalDraws       int `json:"totalDraws"`
	AverageWinRate   int `json:"averageWinRate"`
}

type lessFunc func(a, b *domain.PlayerRecord) bool

var orderings = map[string]lessFunc{
	SortPoints: func(a, b *domain.PlayerRecord) bool {
		if a.Points != b.Points {
			return a.Points > b.Points
		}
		return a.WinRate > b.WinRate
	},
	SortWins: func(a, b *domain.PlayerRecord) bool {
		if a.Wins != b.Wins {
			return a.Wins > b.Wins
		}
		return a.WinRate > b.WinRate
	},
	SortWinRate: func(a, b *domain.PlayerRecord) bool {
		aq, bq := a.GamesPlayed >= MinQualifyingGames, b.GamesPlayed >= MinQualifyingGames
		if aq != bq {
			return aq
		}
		if a.WinRate != b.WinRate {
			return a.WinRate > b.WinRate
		}
		return a.GamesPlayed > b.GamesPlayed
	},
	SortGamesPlayed: func(a, b *domain.PlayerRecord) bool {
		return a.GamesPlayed > b.GamesPlayed
	},
}

// NormalizeSort maps an unknown or empty sort key to SortPoints.
func NormalizeSort(sortBy string) string {
	if _, ok := orderings[sortBy]; ok {
		return sortBy
	}
	return SortPoints
}

// Engine builds ordered views over a Store. It holds no state of its own.
type Engine struct {
	store *Store
}

// NewEngine creates an engine reading from store.
func NewEngine(store *Store) *Engine {
	return &Engine{store: store}
}

func (e *Engine) sorted(sortBy string) []domain.PlayerRecord {
	records := e.store.Snapshot()
	less := orderings[NormalizeSort(sortBy)]
	sort.SliceStable(records, func(i, j int) bool {
		a, b := &records[i], &records[j]
		if less(a, b) {
			return true
		}
		if less(b, a) {
			return false
		}
		return a.PlayerName < b.PlayerName
	})
	return records
}

// Leaderboard returns up to limit rows ordered by sortBy, ranked from 1 by
// position. A limit of zero or less returns every player.
func (e *Engine) Leaderboard(limit int, sortBy string) []Entry {
	records := e.sorted(sortBy)
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	out := make([]Entry, len(records))
	for i, rec := range records {
		out[i] = Entry{Rank: i + 1, PlayerRecord: rec}
	}
	return out
}

// Top is Leaderboard under the name the read API uses for the short list.
func (e *Engine) Top(limit int, sortBy string) []Entry {
	return e.Leaderboard(limit, sortBy)
}

// RankOf returns the 1-based position of name in the full leaderboard.
func (e *Engine) RankOf(name, sortBy string) (int, bool) {
	key := domain.NormalizeName(name)
	for i, rec := range e.sorted(sortBy) {
		if rec.PlayerName == key {
			return i + 1, true
		}
	}
	return 0, false
}

// AggregateStats sums every record. AverageWinRate is the rounded mean of
// the per-player win rates.
func (e *Engine) AggregateStats() Aggregate {
	var agg Aggregate
	var rateSum int
	for _, rec := range e.store.Snapshot() {
		agg.TotalPlayers++
		agg.TotalGamesPlayed += rec.GamesPlayed
		agg.TotalWins += rec.Wins
		agg.TotalDraws += rec.Draws
		rateSum += rec.WinRate
	}
	if agg.TotalPlayers > 0 {
		agg.AverageWinRate = int(math.Round(float64(rateSum) / float64(agg.TotalPlayers)))
	}
	return agg
}
