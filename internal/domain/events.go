package domain

import (
	"encoding/json"
	"time"
)

// Inbound event types sent by clients
const (
	EventCreateGame   = "createGame"
	EventJoinGame     = "joinGame"
	EventFindGame     = "findGame"
	EventMakeMove     = "makeMove"
	EventLeaveGame    = "leaveGame"
	EventGetGameState = "getGameState"
)

// Outbound event types for WebSocket notifications
const (
	EventConnected          = "connected"
	EventStats              = "stats"
	EventGameCreated        = "gameCreated"
	EventGameJoined         = "gameJoined"
	EventGameStarted        = "gameStarted"
	EventWaitingForOpponent = "waitingForOpponent"
	EventMoveMade           = "moveMade"
	EventGameOver           = "gameOver"
	EventPlayerStats        = "playerStats"
	EventPlayerLeft         = "playerLeft"
	EventPlayerDisconnected = "playerDisconnected"
	EventGameState          = "gameState"
	EventError              = "error"
)

// Event is the envelope for every WebSocket frame in both directions
type Event struct {
	Type      string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// InboundEvent is an Event whose payload has not been decoded yet
type InboundEvent struct {
	Type string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEvent stamps an outbound event
func NewEvent(eventType string, data interface{}) Event {
	return Event{Type: eventType, Timestamp: time.Now().UTC(), Data: data}
}

// PlayerRequest carries the display name for createGame and findGame
type PlayerRequest struct {
	Name string `json:"name"`
}

// JoinGameRequest is the joinGame payload
type JoinGameRequest struct {
	GameID string `json:"gameId"`
	Name   string `json:"name"`
}

// MakeMoveRequest is the makeMove payload
type MakeMoveRequest struct {
	GameID   string `json:"gameId"`
	Position *int   `json:"position"`
}

// GameStateRequest is the getGameState payload
type GameStateRequest struct {
	GameID string `json:"gameId"`
}

// ConnectedEvent is sent once when a socket is accepted
type ConnectedEvent struct {
	ConnectionID string `json:"connectionId"`
}

// SeatEvent is sent to a participant when it takes a slot
type SeatEvent struct {
	Game         Game   `json:"game"`
	ConnectionID string `json:"connectionId"`
	Role         Role   `json:"role"`
	Symbol       Mark   `json:"symbol"`
}

// GameEvent carries only a snapshot (gameStarted, gameState)
type GameEvent struct {
	Game Game `json:"game"`
}

// MoveMadeEvent is sent to both participants after an accepted move
type MoveMadeEvent struct {
	Game         Game   `json:"game"`
	Position     int    `json:"position"`
	ConnectionID string `json:"connectionId"`
}

// PointsEarned is the points each mark gained from one game
type PointsEarned struct {
	X int `json:"X"`
	O int `json:"O"`
}

// OutcomeRecords pairs the updated records of both participants
type OutcomeRecords struct {
	First  PlayerRecord `json:"first"`
	Second PlayerRecord `json:"second"`
}

// GameOverEvent is sent to both participants when a game finishes
type GameOverEvent struct {
	Winner       Mark            `json:"winner"`
	WinningLine  []int           `json:"winningLine"`
	IsDraw       bool            `json:"isDraw"`
	Game         Game            `json:"game"`
	PointsEarned PointsEarned    `json:"pointsEarned"`
	PlayerStats  *OutcomeRecords `json:"playerStats"`
}

// PlayerLeftEvent is sent to the remaining participant
type PlayerLeftEvent struct {
	ConnectionID string `json:"connectionId"`
	Game         Game   `json:"game"`
}

// ErrorEvent reports a rejected request to its sender
type ErrorEvent struct {
	Code    ErrorKind `json:"code"`
	Message string    `json:"message"`
}

// RegistryStats are the aggregate session counts
type RegistryStats struct {
	TotalGames    int `json:"totalGames"`
	WaitingGames  int `json:"waitingGames"`
	PlayingGames  int `json:"playingGames"`
	FinishedGames int `json:"finishedGames"`
	TotalPlayers  int `json:"totalPlayers"`
}

// PointsFor returns the points each mark earns from an outcome
func PointsFor(o Outcome) PointsEarned {
	switch {
	case o.Draw:
		return PointsEarned{X: PointsDraw, O: PointsDraw}
	case o.Winner == MarkX:
		return PointsEarned{X: PointsWin, O: PointsLoss}
	case o.Winner == MarkO:
		return PointsEarned{X: PointsLoss, O: PointsWin}
	default:
		return PointsEarned{}
	}
}
