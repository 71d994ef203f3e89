// Package game owns the live sessions and the connection index that maps
// each connected player to the session it sits in.
package game

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ernie/noughts/internal/domain"
)

// GameSaver mirrors session snapshots somewhere durable. Implementations
// must not block.
type GameSaver interface {
	SaveGame(game domain.Game)
}

// MoveResult describes an accepted move.
type MoveResult struct {
	Game     domain.Game
	Role     domain.Role
	Position int
	Outcome  *domain.Outcome // nil unless the move finished the game
}

// LeaveResult describes a participant leaving its session.
type LeaveResult struct {
	Game    domain.Game // snapshot after the slot was vacated
	Role    domain.Role
	Deleted bool // true when the session had no participants left
}

// entry guards one session. removed is set, under mu, when the session is
// dropped from the registry so late callers holding the entry see NotFound.
type entry struct {
	mu      sync.Mutex
	session *domain.Session
	removed bool

	status domain.Status // mirrored under Registry.mu for Stats
}

// Registry is the owning set of live sessions.
//
// Every read-modify-write of a session holds that session's entry lock.
// Registry.mu guards only the maps and the waiting index and is always
// taken after an entry lock, never before. Hooks passed to the mutating
// methods run while the entry lock is held, so anything they emit for one
// session is ordered the same way the mutations were applied.
type Registry struct {
	saver GameSaver
	newID func() string
	now   func() time.Time

	matchMu sync.Mutex // serializes Match and Switch

	mu       sync.RWMutex
	sessions map[string]*entry
	conns    map[string]string // connection id -> session id
	waiting  []string          // waiting session ids, oldest first
}

// NewRegistry creates an empty registry. saver may be nil.
func NewRegistry(saver GameSaver) *Registry {
	return &Registry{
		saver:    saver,
		newID:    uuid.NewString,
		now:      func() time.Time { return time.Now().UTC() },
		sessions: make(map[string]*entry),
		conns:    make(map[string]string),
	}
}

func (r *Registry) save(game domain.Game) {
	if r.saver != nil {
		r.saver.SaveGame(game)
	}
}

func (r *Registry) lookup(id string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

func (r *Registry) seated(connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[connID]
	return ok
}

// dropWaiting must be called with r.mu held.
func (r *Registry) dropWaiting(id string) {
	for i, w := range r.waiting {
		if w == id {
			r.waiting = append(r.waiting[:i], r.waiting[i+1:]...)
			return
		}
	}
}

// Create opens a waiting session with p in the first slot. It fails only
// when p's connection already sits in a session.
func (r *Registry) Create(p domain.Participant, hook func(domain.Game)) (domain.Game, error) {
	if r.seated(p.ConnectionID) {
		return domain.Game{}, domain.ErrAlreadyInGame
	}

	e := &entry{
		session: domain.NewSession(r.newID(), p, r.now()),
		status:  domain.StatusWaiting,
	}
	id := e.session.ID()

	// Lock before publishing so a joiner cannot act on the session until
	// the creator's hook has run.
	e.mu.Lock()
	defer e.mu.Unlock()

	r.mu.Lock()
	r.sessions[id] = e
	r.conns[p.ConnectionID] = id
	r.waiting = append(r.waiting, id)
	r.mu.Unlock()

	game := e.session.View()
	r.save(game)
	if hook != nil {
		hook(game)
	}
	return game, nil
}

// Join seats p in the second slot of session id and starts the game.
func (r *Registry) Join(id string, p domain.Participant, hook func(domain.Game)) (domain.Game, error) {
	if r.seated(p.ConnectionID) {
		return domain.Game{}, domain.ErrAlreadyInGame
	}
	e := r.lookup(id)
	if e == nil {
		return domain.Game{}, domain.ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.joinable(); err != nil {
		return domain.Game{}, err
	}
	return r.join(e, id, p, hook)
}

// Switch seats p in session id after leaving the session p's connection
// currently sits in. The target is checked first, so a rejected switch
// leaves p where it was. left runs for the vacated session, if any.
func (r *Registry) Switch(id string, p domain.Participant, left func(LeaveResult), joined func(domain.Game)) (domain.Game, error) {
	// Switches hold two entry locks; matchMu keeps them from crossing.
	r.matchMu.Lock()
	defer r.matchMu.Unlock()

	e := r.lookup(id)
	if e == nil {
		return domain.Game{}, domain.ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if current, ok := r.SessionOf(p.ConnectionID); ok && current == id {
		return domain.Game{}, domain.ErrAlreadyInGame
	}
	if err := e.joinable(); err != nil {
		return domain.Game{}, err
	}

	r.Leave(p.ConnectionID, left)
	return r.join(e, id, p, joined)
}

// joinable must be called with e.mu held.
func (e *entry) joinable() error {
	if e.removed {
		return domain.ErrSessionNotFound
	}
	if e.session.Status() != domain.StatusWaiting {
		return domain.ErrSessionNotJoinable
	}
	return nil
}

// join must be called with e.mu held.
func (r *Registry) join(e *entry, id string, p domain.Participant, hook func(domain.Game)) (domain.Game, error) {
	if err := e.session.AddParticipant(p, r.now()); err != nil {
		return domain.Game{}, err
	}

	r.mu.Lock()
	r.conns[p.ConnectionID] = id
	e.status = e.session.Status()
	r.dropWaiting(id)
	r.mu.Unlock()

	game := e.session.View()
	r.save(game)
	if hook != nil {
		hook(game)
	}
	return game, nil
}

// FindJoinable returns the oldest waiting session.
func (r *Registry) FindJoinable() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.waiting {
		if e, ok := r.sessions[id]; ok && e.status == domain.StatusWaiting {
			return id, true
		}
	}
	return "", false
}

// Match joins p to the oldest waiting session, or creates one when none
// exists. Concurrent Match calls never leave two waiting sessions behind.
// created reports which branch was taken; the hook receives it too.
func (r *Registry) Match(p domain.Participant, hook func(game domain.Game, created bool)) (game domain.Game, created bool, err error) {
	r.matchMu.Lock()
	defer r.matchMu.Unlock()

	for {
		id, ok := r.FindJoinable()
		if !ok {
			game, err = r.Create(p, func(g domain.Game) {
				if hook != nil {
					hook(g, true)
				}
			})
			return game, true, err
		}

		game, err = r.Join(id, p, func(g domain.Game) {
			if hook != nil {
				hook(g, false)
			}
		})
		switch {
		case err == nil:
			return game, false, nil
		case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrSessionNotJoinable):
			// Lost a race with a direct join or a leave; try the next one.
			continue
		default:
			return domain.Game{}, false, err
		}
	}
}

// ApplyMove places the mark of connID's role on cell in session id.
func (r *Registry) ApplyMove(id, connID string, cell int, hook func(MoveResult)) (MoveResult, error) {
	e := r.lookup(id)
	if e == nil {
		return MoveResult{}, domain.ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return MoveResult{}, domain.ErrSessionNotFound
	}
	role, ok := e.session.RoleOf(connID)
	if !ok {
		return MoveResult{}, domain.ErrUnknownParticipant
	}
	outcome, err := e.session.ApplyMove(role, cell, r.now())
	if err != nil {
		return MoveResult{}, err
	}

	if outcome != nil {
		r.mu.Lock()
		e.status = e.session.Status()
		r.mu.Unlock()
	}

	res := MoveResult{
		Game:     e.session.View(),
		Role:     role,
		Position: cell,
		Outcome:  outcome,
	}
	r.save(res.Game)
	if hook != nil {
		hook(res)
	}
	return res, nil
}

// Leave removes connID from whatever session it sits in. ok is false when
// the connection was not seated anywhere. A session left with no
// participants is deleted, whatever its status.
func (r *Registry) Leave(connID string, hook func(LeaveResult)) (res LeaveResult, ok bool) {
	r.mu.RLock()
	id, seated := r.conns[connID]
	e := r.sessions[id]
	r.mu.RUnlock()
	if !seated || e == nil {
		return LeaveResult{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return LeaveResult{}, false
	}
	role, found := e.session.RoleOf(connID)
	if !found {
		return LeaveResult{}, false
	}
	e.session.RemoveParticipant(connID, r.now())
	deleted := e.session.Empty()

	r.mu.Lock()
	delete(r.conns, connID)
	if deleted {
		e.removed = true
		delete(r.sessions, id)
		r.dropWaiting(id)
	}
	r.mu.Unlock()

	res = LeaveResult{Game: e.session.View(), Role: role, Deleted: deleted}
	r.save(res.Game)
	if hook != nil {
		hook(res)
	}
	return res, true
}

// Get returns a snapshot of session id.
func (r *Registry) Get(id string) (domain.Game, error) {
	e := r.lookup(id)
	if e == nil {
		return domain.Game{}, domain.ErrSessionNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return domain.Game{}, domain.ErrSessionNotFound
	}
	return e.session.View(), nil
}

// SessionOf returns the id of the session connID sits in.
func (r *Registry) SessionOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.conns[connID]
	return id, ok
}

// Stats counts sessions by status and seated connections. It never takes
// an entry lock and is safe to call from a hook.
func (r *Registry) Stats() domain.RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := domain.RegistryStats{
		TotalGames:   len(r.sessions),
		TotalPlayers: len(r.conns),
	}
	for _, e := range r.sessions {
		switch e.status {
		case domain.StatusWaiting:
			stats.WaitingGames++
		case domain.StatusPlaying:
			stats.PlayingGames++
		case domain.StatusFinished:
			stats.FinishedGames++
		}
	}
	return stats
}
