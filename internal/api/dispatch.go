package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/ernie/noughts/internal/domain"
	"github.com/ernie/noughts/internal/game"
	"github.com/ernie/noughts/internal/ranking"
)

// Error codes produced at the dispatch boundary, next to the domain kinds.
const (
	CodeRateLimited domain.ErrorKind = "rate_limited"
	CodeBadRequest  domain.ErrorKind = "bad_request"
)

// Publisher receives a copy of selected events; *bus.Publisher satisfies it
type Publisher interface {
	Publish(event domain.Event)
}

// Sender delivers events to websocket connections; *Hub satisfies it
type Sender interface {
	SendTo(connID string, event domain.Event)
	Broadcast(event domain.Event)
}

// Dispatcher turns inbound websocket events into registry and ranking
// operations and fans the results out.
type Dispatcher struct {
	registry *game.Registry
	records  *ranking.Store
	out      Sender
	bus      Publisher
}

// NewDispatcher wires a dispatcher. bus may be nil.
func NewDispatcher(registry *game.Registry, records *ranking.Store, out Sender, bus Publisher) *Dispatcher {
	return &Dispatcher{registry: registry, records: records, out: out, bus: bus}
}

// defaultName is used when a client does not send a name
func defaultName(connID string) string {
	if len(connID) > 5 {
		connID = connID[:5]
	}
	return "Player-" + connID
}

func participant(connID, name string) domain.Participant {
	name = domain.NormalizeName(name)
	if name == "" {
		name = defaultName(connID)
	}
	return domain.Participant{ConnectionID: connID, Name: name}
}

func (d *Dispatcher) send(connID, eventType string, data interface{}) {
	d.out.SendTo(connID, domain.NewEvent(eventType, data))
}

// sendToGame sends the same event to every seated participant
func (d *Dispatcher) sendToGame(g domain.Game, eventType string, data interface{}) {
	ev := domain.NewEvent(eventType, data)
	for _, p := range []*domain.Participant{g.Players.X, g.Players.O} {
		if p != nil {
			d.out.SendTo(p.ConnectionID, ev)
		}
	}
	if d.bus != nil {
		d.bus.Publish(ev)
	}
}

func (d *Dispatcher) broadcastStats() {
	ev := domain.NewEvent(domain.EventStats, d.registry.Stats())
	d.out.Broadcast(ev)
	if d.bus != nil {
		d.bus.Publish(ev)
	}
}

func (d *Dispatcher) sendError(connID string, code domain.ErrorKind, message string) {
	d.send(connID, domain.EventError, domain.ErrorEvent{Code: code, Message: message})
}

func (d *Dispatcher) fail(connID string, err error) {
	var de *domain.Error
	if errors.As(err, &de) {
		d.sendError(connID, de.Kind, de.Message)
		return
	}
	log.Error().Err(err).Str("conn", connID).Msg("dispatch")
	d.sendError(connID, domain.KindInternal, "internal error")
}

// Connect greets a new connection
func (d *Dispatcher) Connect(connID string) {
	d.send(connID, domain.EventConnected, domain.ConnectedEvent{ConnectionID: connID})
	d.send(connID, domain.EventStats, d.registry.Stats())
}

// Disconnect is an implicit leave
func (d *Dispatcher) Disconnect(connID string) {
	d.leave(connID, domain.EventPlayerDisconnected)
}

// Handle processes one inbound frame from connID. limiter may be nil.
func (d *Dispatcher) Handle(connID string, limiter *rate.Limiter, raw []byte) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().Str("conn", connID).Interface("panic", p).Msg("recovered in dispatch")
			d.sendError(connID, domain.KindInternal, "internal error")
		}
	}()

	if limiter != nil && !limiter.Allow() {
		d.sendError(connID, CodeRateLimited, "Too many requests")
		return
	}

	var in domain.InboundEvent
	if err := json.Unmarshal(raw, &in); err != nil {
		d.sendError(connID, CodeBadRequest, "Malformed message")
		return
	}

	var err error
	switch in.Type {
	case domain.EventCreateGame:
		err = d.createGame(connID, in.Data)
	case domain.EventJoinGame:
		err = d.joinGame(connID, in.Data)
	case domain.EventFindGame:
		err = d.findGame(connID, in.Data)
	case domain.EventMakeMove:
		err = d.makeMove(connID, in.Data)
	case domain.EventLeaveGame:
		d.leave(connID, domain.EventPlayerLeft)
	case domain.EventGetGameState:
		err = d.gameState(connID, in.Data)
	default:
		d.sendError(connID, CodeBadRequest, fmt.Sprintf("Unknown event %q", in.Type))
		return
	}
	if err != nil {
		d.fail(connID, err)
	}
}

// decode unmarshals an optional payload; absent or null data leaves v zero
func decode(data json.RawMessage, v interface{}) error {
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &domain.Error{Kind: CodeBadRequest, Message: "Malformed payload"}
	}
	return nil
}

// leaveCurrent leaves whatever session connID sits in before it takes a
// new seat. Only for operations that cannot be rejected afterwards.
func (d *Dispatcher) leaveCurrent(connID string) {
	if _, ok := d.registry.SessionOf(connID); ok {
		d.leave(connID, domain.EventPlayerLeft)
	}
}

func (d *Dispatcher) onCreated(connID string, waiting bool) func(domain.Game) {
	return func(g domain.Game) {
		d.send(connID, domain.EventGameCreated, domain.SeatEvent{
			Game: g, ConnectionID: connID, Role: domain.RoleFirst, Symbol: domain.MarkX,
		})
		if waiting {
			d.send(connID, domain.EventWaitingForOpponent, struct{}{})
		}
		d.broadcastStats()
		log.Info().Str("game", g.ID).Str("conn", connID).Str("player", g.Players.X.Name).Msg("game created")
	}
}

func (d *Dispatcher) onJoined(connID string) func(domain.Game) {
	return func(g domain.Game) {
		d.sendToGame(g, domain.EventGameStarted, domain.GameEvent{Game: g})
		d.send(connID, domain.EventGameJoined, domain.SeatEvent{
			Game: g, ConnectionID: connID, Role: domain.RoleSecond, Symbol: domain.MarkO,
		})
		d.broadcastStats()
		log.Info().Str("game", g.ID).Str("conn", connID).Str("player", g.Players.O.Name).Msg("game started")
	}
}

func (d *Dispatcher) createGame(connID string, data json.RawMessage) error {
	var req domain.PlayerRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	d.leaveCurrent(connID)
	_, err := d.registry.Create(participant(connID, req.Name), d.onCreated(connID, false))
	return err
}

func (d *Dispatcher) joinGame(connID string, data json.RawMessage) error {
	var req domain.JoinGameRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.GameID) == "" {
		return &domain.Error{Kind: CodeBadRequest, Message: "gameId is required"}
	}
	_, err := d.registry.Switch(req.GameID, participant(connID, req.Name),
		d.onLeft(connID, domain.EventPlayerLeft), d.onJoined(connID))
	return err
}

func (d *Dispatcher) findGame(connID string, data json.RawMessage) error {
	var req domain.PlayerRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	d.leaveCurrent(connID)

	created := d.onCreated(connID, true)
	joined := d.onJoined(connID)
	_, _, err := d.registry.Match(participant(connID, req.Name), func(g domain.Game, isNew bool) {
		if isNew {
			created(g)
		} else {
			joined(g)
		}
	})
	return err
}

func (d *Dispatcher) makeMove(connID string, data json.RawMessage) error {
	var req domain.MakeMoveRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	if req.Position == nil {
		return domain.ErrInvalidPosition
	}
	gameID := req.GameID
	if gameID == "" {
		current, ok := d.registry.SessionOf(connID)
		if !ok {
			return domain.ErrSessionNotFound
		}
		gameID = current
	}

	_, err := d.registry.ApplyMove(gameID, connID, *req.Position, func(res game.MoveResult) {
		d.sendToGame(res.Game, domain.EventMoveMade, domain.MoveMadeEvent{
			Game: res.Game, Position: res.Position, ConnectionID: connID,
		})
		if res.Outcome != nil {
			d.finish(res.Game, *res.Outcome)
		}
		d.broadcastStats()
	})
	return err
}

// finish records the outcome once and announces it. It runs inside the
// move hook, so it sees each finished game exactly once.
func (d *Dispatcher) finish(g domain.Game, outcome domain.Outcome) {
	var stats *domain.OutcomeRecords
	x, o := g.Players.X, g.Players.O
	if x != nil && o != nil {
		first, second := d.records.RecordOutcome(x.Name, o.Name, ranking.ResultFor(outcome))
		stats = &domain.OutcomeRecords{First: first, Second: second}
		d.send(x.ConnectionID, domain.EventPlayerStats, first)
		d.send(o.ConnectionID, domain.EventPlayerStats, second)
	}

	d.sendToGame(g, domain.EventGameOver, domain.GameOverEvent{
		Winner:       outcome.Winner,
		WinningLine:  outcome.Line,
		IsDraw:       outcome.Draw,
		Game:         g,
		PointsEarned: domain.PointsFor(outcome),
		PlayerStats:  stats,
	})

	ev := log.Info().Str("game", g.ID).Bool("draw", outcome.Draw)
	if !outcome.Draw {
		ev = ev.Str("winner", string(outcome.Winner))
	}
	ev.Msg("game over")
}

// leave vacates connID's seat and tells the remaining participant
func (d *Dispatcher) leave(connID, eventType string) {
	d.registry.Leave(connID, d.onLeft(connID, eventType))
}

func (d *Dispatcher) onLeft(connID, eventType string) func(game.LeaveResult) {
	return func(res game.LeaveResult) {
		if !res.Deleted {
			d.sendToGame(res.Game, eventType, domain.PlayerLeftEvent{ConnectionID: connID, Game: res.Game})
		}
		d.broadcastStats()
		log.Info().Str("game", res.Game.ID).Str("conn", connID).Bool("deleted", res.Deleted).Msg(eventType)
	}
}

func (d *Dispatcher) gameState(connID string, data json.RawMessage) error {
	var req domain.GameStateRequest
	// A bare string id is accepted as well as {"gameId": ...}
	if err := json.Unmarshal(data, &req.GameID); err != nil {
		if err := decode(data, &req); err != nil {
			return err
		}
	}
	if req.GameID == "" {
		current, ok := d.registry.SessionOf(connID)
		if !ok {
			return domain.ErrSessionNotFound
		}
		req.GameID = current
	}

	g, err := d.registry.Get(req.GameID)
	if err != nil {
		return err
	}
	d.send(connID, domain.EventGameState, domain.GameEvent{Game: g})
	return nil
}
