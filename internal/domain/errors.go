package domain

import "errors"

// ErrorKind classifies a rejected operation. Kinds are sent to clients as
// the error code and map onto HTTP statuses in the api package.
type ErrorKind string

const (
	KindNotFound         ErrorKind = "not_found"
	KindInvalidState     ErrorKind = "invalid_state"
	KindInvalidInput     ErrorKind = "invalid_input"
	KindTurnViolation    ErrorKind = "turn_violation"
	KindCapacityExceeded ErrorKind = "capacity_exceeded"
	KindInternal         ErrorKind = "internal"
)

// Error is a recoverable game error. Sentinel values are compared with
// errors.Is.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

var (
	ErrSessionNotFound    = &Error{Kind: KindNotFound, Message: "Game not found"}
	ErrPlayerNotFound     = &Error{Kind: KindNotFound, Message: "Player not found"}
	ErrSessionNotJoinable = &Error{Kind: KindInvalidState, Message: "Game already started or finished"}
	ErrGameNotActive      = &Error{Kind: KindInvalidState, Message: "Game is not in playing state"}
	ErrInvalidPosition    = &Error{Kind: KindInvalidInput, Message: "Position already taken or out of range"}
	ErrNotYourTurn        = &Error{Kind: KindTurnViolation, Message: "Not your turn"}
	ErrUnknownParticipant = &Error{Kind: KindTurnViolation, Message: "Player not in this game"}
	ErrSlotFull           = &Error{Kind: KindCapacityExceeded, Message: "Game is full"}
	ErrAlreadyInGame      = &Error{Kind: KindInvalidState, Message: "Already in this game"}
)

// KindOf returns the kind of a game error, or KindInternal for anything
// that is not a *Error.
func KindOf(err error) ErrorKind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindInternal
}
