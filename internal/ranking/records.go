// Package ranking keeps cumulative player records and builds leaderboards
// over them.
package ranking

import (
	"sync"
	"time"

	"github.com/ernie/noughts/internal/domain"
)

// Result is the outcome of a completed game from the first seat's view.
type Result int

const (
	FirstWins Result = iota
	SecondWins
	Draw
)

// ResultFor converts a session outcome into a Result.
func ResultFor(o domain.Outcome) Result {
	switch {
	case o.Draw:
		return Draw
	case o.Winner == domain.MarkO:
		return SecondWins
	default:
		return FirstWins
	}
}

// RecordSaver mirrors updated records somewhere durable. Implementations
// must not block.
type RecordSaver interface {
	SavePlayer(rec domain.PlayerRecord)
}

type recordEntry struct {
	mu  sync.Mutex
	rec domain.PlayerRecord
}

// Store holds one record per normalized player name. The map lock only
// guards lookups and inserts; updates lock the touched records.
type Store struct {
	mu      sync.RWMutex
	players map[string]*recordEntry
	saver   RecordSaver
	now     func() time.Time
}

// NewStore creates an empty store. saver may be nil.
func NewStore(saver RecordSaver) *Store {
	return &Store{
		players: make(map[string]*recordEntry),
		saver:   saver,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Load seeds the store, typically from the storage mirror at startup.
// Existing records with the same name are replaced. Games played, points
// and win rate are recomputed from the win, loss and draw counts.
func (s *Store) Load(records []domain.PlayerRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		rec.PlayerName = domain.NormalizeName(rec.PlayerName)
		if rec.PlayerName == "" {
			continue
		}
		rec.Rederive()
		s.players[rec.PlayerName] = &recordEntry{rec: rec}
	}
}

func (s *Store) getOrCreate(name string) *recordEntry {
	key := domain.NormalizeName(name)

	s.mu.RLock()
	e, ok := s.players[key]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.players[key]; ok {
		return e
	}
	e = &recordEntry{rec: domain.NewPlayerRecord(key, s.now())}
	s.players[key] = e
	return e
}

// RecordOutcome applies one completed game to both players and returns
// their updated records. It is the only way records change. Calling it
// twice for the same game counts the game twice.
func (s *Store) RecordOutcome(firstName, secondName string, result Result) (first, second domain.PlayerRecord) {
	a := s.getOrCreate(firstName)
	b := s.getOrCreate(secondName)
	now := s.now()

	// Lock in key order so concurrent games between the same pair cannot
	// deadlock.
	lo, hi := a, b
	if hi.rec.PlayerName < lo.rec.PlayerName {
		lo, hi = hi, lo
	}
	lo.mu.Lock()
	if hi != lo {
		hi.mu.Lock()
	}

	switch result {
	case Draw:
		a.rec.RecordDraw(now)
		b.rec.RecordDraw(now)
	case FirstWins:
		a.rec.RecordWin(now)
		b.rec.RecordLoss(now)
	case SecondWins:
		b.rec.RecordWin(now)
		a.rec.RecordLoss(now)
	}
	first, second = a.rec, b.rec

	if hi != lo {
		hi.mu.Unlock()
	}
	lo.mu.Unlock()

	if s.saver != nil {
		s.saver.SavePlayer(first)
		if b != a {
			s.saver.SavePlayer(second)
		}
	}
	return first, second
}

// Get returns the record for name.
func (s *Store) Get(name string) (domain.PlayerRecord, bool) {
	s.mu.RLock()
	e, ok := s.players[domain.NormalizeName(name)]
	s.mu.RUnlock()
	if !ok {
		return domain.PlayerRecord{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec, true
}

// Snapshot copies every record. Order is unspecified.
func (s *Store) Snapshot() []domain.PlayerRecord {
	s.mu.RLock()
	entries := make([]*recordEntry, 0, len(s.players))
	for _, e := range s.players {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]domain.PlayerRecord, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.rec)
		e.mu.Unlock()
	}
	return out
}

// Len returns the number of known players.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.players)
}
