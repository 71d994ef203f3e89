package domain

import "time"

// Status is the lifecycle stage of a session. Transitions only move
// forward: waiting -> playing -> finished.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusPlaying  Status = "playing"
	StatusFinished Status = "finished"
)

// Role is a participant slot, fixed by join order.
type Role string

const (
	RoleFirst  Role = "first"
	RoleSecond Role = "second"
)

// Mark returns the board symbol owned by the role.
func (r Role) Mark() Mark {
	if r == RoleSecond {
		return MarkO
	}
	return MarkX
}

// RoleForMark is the inverse of Role.Mark.
func RoleForMark(m Mark) Role {
	if m == MarkO {
		return RoleSecond
	}
	return RoleFirst
}

// Participant is a connection-scoped identity occupying one slot.
type Participant struct {
	ConnectionID string `json:"id"`
	Name         string `json:"name"`
}

// Outcome is recorded once, when a session finishes.
type Outcome struct {
	Winner Mark  `json:"winner"`
	Line   []int `json:"winningLine"`
	Draw   bool  `json:"isDraw"`
}

// Session is the state machine of a single game. It is not safe for
// concurrent use; the registry serializes access per session.
type Session struct {
	id         string
	slots      [2]*Participant
	board      Board
	turn       Mark
	status     Status
	outcome    *Outcome
	createdAt  time.Time
	startedAt  time.Time
	finishedAt time.Time
	updatedAt  time.Time
}

// NewSession creates a waiting session with creator in the first slot.
func NewSession(id string, creator Participant, now time.Time) *Session {
	c := creator
	return &Session{
		id:        id,
		slots:     [2]*Participant{&c, nil},
		turn:      MarkX,
		status:    StatusWaiting,
		createdAt: now,
		updatedAt: now,
	}
}

func (s *Session) ID() string     { return s.id }
func (s *Session) Status() Status { return s.status }
func (s *Session) Turn() Mark     { return s.turn }
func (s *Session) Board() Board   { return s.board }

// Participant returns the occupant of a slot, or nil if it is empty.
func (s *Session) Participant(r Role) *Participant {
	p := s.slots[slotIndex(r)]
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// Empty reports whether both slots have been vacated.
func (s *Session) Empty() bool {
	return s.slots[0] == nil && s.slots[1] == nil
}

// RoleOf resolves a connection to its role in this session.
func (s *Session) RoleOf(connID string) (Role, bool) {
	if p := s.slots[0]; p != nil && p.ConnectionID == connID {
		return RoleFirst, true
	}
	if p := s.slots[1]; p != nil && p.ConnectionID == connID {
		return RoleSecond, true
	}
	return "", false
}

// AddParticipant seats p as the second participant and starts the game.
func (s *Session) AddParticipant(p Participant, now time.Time) error {
	if _, ok := s.RoleOf(p.ConnectionID); ok {
		return ErrAlreadyInGame
	}
	if s.status != StatusWaiting || s.slots[1] != nil {
		return ErrSlotFull
	}
	c := p
	s.slots[1] = &c
	s.status = StatusPlaying
	s.startedAt = now
	s.updatedAt = now
	return nil
}

// ApplyMove places role's mark on cell. A rejected move leaves the session
// untouched. The returned outcome is non-nil only for the move that
// finishes the game.
func (s *Session) ApplyMove(role Role, cell int, now time.Time) (*Outcome, error) {
	if s.status != StatusPlaying {
		return nil, ErrGameNotActive
	}
	if !ValidPosition(cell) || s.board[cell] != MarkNone {
		return nil, ErrInvalidPosition
	}
	mark := role.Mark()
	if mark != s.turn {
		return nil, ErrNotYourTurn
	}

	s.board[cell] = mark
	s.updatedAt = now

	winner, line, draw, done := s.board.Evaluate()
	if !done {
		s.turn = s.turn.Other()
		return nil, nil
	}

	s.status = StatusFinished
	s.finishedAt = now
	s.outcome = &Outcome{Winner: winner, Line: line, Draw: draw}
	o := *s.outcome
	return &o, nil
}

// RemoveParticipant vacates the slot held by connID. Status is unchanged.
func (s *Session) RemoveParticipant(connID string, now time.Time) bool {
	role, ok := s.RoleOf(connID)
	if !ok {
		return false
	}
	s.slots[slotIndex(role)] = nil
	s.updatedAt = now
	return true
}

// View returns a copy of the public shape of the session.
func (s *Session) View() Game {
	g := Game{
		ID:          s.id,
		Players:     Players{X: s.Participant(RoleFirst), O: s.Participant(RoleSecond)},
		Board:       s.board,
		CurrentTurn: s.turn,
		Status:      s.status,
		CreatedAt:   s.createdAt,
		UpdatedAt:   s.updatedAt,
	}
	if s.outcome != nil {
		g.Winner = s.outcome.Winner
		g.WinningLine = append([]int(nil), s.outcome.Line...)
		g.IsDraw = s.outcome.Draw
	}
	if !s.startedAt.IsZero() {
		t := s.startedAt
		g.StartedAt = &t
	}
	if !s.finishedAt.IsZero() {
		t := s.finishedAt
		g.FinishedAt = &t
		if g.StartedAt != nil {
			d := s.finishedAt.Sub(s.startedAt).Milliseconds()
			g.DurationMs = &d
		}
	}
	return g
}

func slotIndex(r Role) int {
	if r == RoleSecond {
		return 1
	}
	return 0
}

// Players maps board marks to their occupants; nil for an empty slot.
type Players struct {
	X *Participant `json:"X"`
	O *Participant `json:"O"`
}

// Game is the serialized snapshot of a session, sent to clients and
// mirrored to storage.
type Game struct {
	ID          string     `json:"id"`
	Players     Players    `json:"players"`
	Board       Board      `json:"board"`
	CurrentTurn Mark       `json:"currentTurn"`
	Status      Status     `json:"status"`
	Winner      Mark       `json:"winner"`
	WinningLine []int      `json:"winningLine"`
	IsDraw      bool       `json:"isDraw"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt"`
	FinishedAt  *time.Time `json:"finishedAt"`
	DurationMs  *int64     `json:"durationMs"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}
