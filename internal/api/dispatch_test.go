package api

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/ernie/noughts/internal/domain"
	"github.com/ernie/noughts/internal/game"
	"github.com/ernie/noughts/internal/ranking"
)

type fakeSender struct {
	mu         sync.Mutex
	direct     map[string][]domain.Event
	broadcasts []domain.Event
}

func newFakeSender() *fakeSender {
	return &fakeSender{direct: make(map[string][]domain.Event)}
}

func (f *fakeSender) SendTo(connID string, ev domain.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.direct[connID] = append(f.direct[connID], ev)
}

func (f *fakeSender) Broadcast(ev domain.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, ev)
}

// take returns and clears the events sent to connID
func (f *fakeSender) take(connID string) []domain.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	evs := f.direct[connID]
	delete(f.direct, connID)
	return evs
}

type fakePublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *fakePublisher) Publish(ev domain.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev.Type)
}

func types(evs []domain.Event) []string {
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}

func last(t *testing.T, evs []domain.Event) domain.Event {
	t.Helper()
	require.NotEmpty(t, evs)
	return evs[len(evs)-1]
}

type dispatchFixture struct {
	d        *Dispatcher
	out      *fakeSender
	bus      *fakePublisher
	registry *game.Registry
	records  *ranking.Store
}

func newDispatchFixture() *dispatchFixture {
	f := &dispatchFixture{
		out:      newFakeSender(),
		bus:      &fakePublisher{},
		registry: game.NewRegistry(nil),
		records:  ranking.NewStore(nil),
	}
	f.d = NewDispatcher(f.registry, f.records, f.out, f.bus)
	return f
}

func (f *dispatchFixture) handle(connID, eventType string, data interface{}) {
	raw, err := json.Marshal(map[string]interface{}{"event": eventType, "data": data})
	if err != nil {
		panic(err)
	}
	f.d.Handle(connID, nil, raw)
}

// startGame seats alice as X on c1 and bob as O on c2 and drains their events
func (f *dispatchFixture) startGame(t *testing.T) string {
	t.Helper()
	f.handle("c1", domain.EventCreateGame, domain.PlayerRequest{Name: "alice"})
	created := f.out.take("c1")
	require.Equal(t, []string{domain.EventGameCreated}, types(created))
	id := created[0].Data.(domain.SeatEvent).Game.ID

	f.handle("c2", domain.EventJoinGame, domain.JoinGameRequest{GameID: id, Name: "bob"})
	f.out.take("c1")
	f.out.take("c2")
	return id
}

func (f *dispatchFixture) move(connID string, pos int) {
	f.handle(connID, domain.EventMakeMove, map[string]int{"position": pos})
}

func errorCode(t *testing.T, evs []domain.Event) domain.ErrorKind {
	t.Helper()
	ev := last(t, evs)
	require.Equal(t, domain.EventError, ev.Type)
	return ev.Data.(domain.ErrorEvent).Code
}

func TestDispatchConnect(t *testing.T) {
	f := newDispatchFixture()
	f.d.Connect("c1")

	evs := f.out.take("c1")
	assert.Equal(t, []string{domain.EventConnected, domain.EventStats}, types(evs))
	assert.Equal(t, "c1", evs[0].Data.(domain.ConnectedEvent).ConnectionID)
}

func TestDispatchCreateAndJoin(t *testing.T) {
	f := newDispatchFixture()

	f.handle("c1", domain.EventCreateGame, domain.PlayerRequest{Name: "  alice "})
	evs := f.out.take("c1")
	require.Equal(t, []string{domain.EventGameCreated}, types(evs))
	seat := evs[0].Data.(domain.SeatEvent)
	assert.Equal(t, domain.MarkX, seat.Symbol)
	assert.Equal(t, "alice", seat.Game.Players.X.Name)
	assert.Equal(t, domain.StatusWaiting, seat.Game.Status)

	f.handle("c2", domain.EventJoinGame, domain.JoinGameRequest{GameID: seat.Game.ID})
	assert.Equal(t, []string{domain.EventGameStarted}, types(f.out.take("c1")))

	evs = f.out.take("c2")
	require.Equal(t, []string{domain.EventGameStarted, domain.EventGameJoined}, types(evs))
	joined := evs[1].Data.(domain.SeatEvent)
	assert.Equal(t, domain.MarkO, joined.Symbol)
	assert.Equal(t, "Player-c2", joined.Game.Players.O.Name, "a missing name gets a default")
	assert.Equal(t, domain.StatusPlaying, joined.Game.Status)

	stats := last(t, f.out.broadcasts).Data.(domain.RegistryStats)
	assert.Equal(t, 1, stats.PlayingGames)
	assert.Contains(t, f.bus.events, domain.EventGameStarted)
	assert.NotContains(t, f.bus.events, domain.EventGameCreated)
}

func TestDispatchFindGame(t *testing.T) {
	f := newDispatchFixture()

	f.handle("c1", domain.EventFindGame, domain.PlayerRequest{Name: "alice"})
	assert.Equal(t, []string{domain.EventGameCreated, domain.EventWaitingForOpponent}, types(f.out.take("c1")))

	f.handle("c2", domain.EventFindGame, domain.PlayerRequest{Name: "bob"})
	assert.Equal(t, []string{domain.EventGameStarted}, types(f.out.take("c1")))
	assert.Equal(t, []string{domain.EventGameStarted, domain.EventGameJoined}, types(f.out.take("c2")))
}

func TestDispatchRejections(t *testing.T) {
	f := newDispatchFixture()
	id := f.startGame(t)

	tests := []struct {
		name string
		conn string
		run  func()
		code domain.ErrorKind
	}{
		{"malformed frame", "c1", func() { f.d.Handle("c1", nil, []byte("{")) }, CodeBadRequest},
		{"unknown event", "c1", func() { f.handle("c1", "dance", nil) }, CodeBadRequest},
		{"join without id", "c3", func() { f.handle("c3", domain.EventJoinGame, map[string]string{}) }, CodeBadRequest},
		{"join unknown game", "c3", func() { f.handle("c3", domain.EventJoinGame, domain.JoinGameRequest{GameID: "nope"}) }, domain.KindNotFound},
		{"join full game", "c3", func() { f.handle("c3", domain.EventJoinGame, domain.JoinGameRequest{GameID: id}) }, domain.KindInvalidState},
		{"join own game", "c1", func() { f.handle("c1", domain.EventJoinGame, domain.JoinGameRequest{GameID: id}) }, domain.KindInvalidState},
		{"move out of turn", "c2", func() { f.move("c2", 0) }, domain.KindTurnViolation},
		{"move without position", "c1", func() { f.handle("c1", domain.EventMakeMove, map[string]string{}) }, domain.KindInvalidInput},
		{"move out of range", "c1", func() { f.move("c1", 9) }, domain.KindInvalidInput},
		{"move by stranger", "c3", func() { f.handle("c3", domain.EventMakeMove, map[string]interface{}{"gameId": id, "position": 0}) }, domain.KindTurnViolation},
		{"move without a game", "c3", func() { f.move("c3", 0) }, domain.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.run()
			assert.Equal(t, tt.code, errorCode(t, f.out.take(tt.conn)))
		})
	}

	g, err := f.registry.Get(id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPlaying, g.Status)
	assert.Equal(t, domain.MarkX, g.CurrentTurn, "rejected moves leave the game unchanged")
}

func TestDispatchRateLimit(t *testing.T) {
	f := newDispatchFixture()
	limiter := rate.NewLimiter(0, 1)
	raw := []byte(`{"event":"getGameState","data":null}`)

	f.d.Handle("c1", limiter, raw)
	assert.Equal(t, domain.KindNotFound, errorCode(t, f.out.take("c1")))

	f.d.Handle("c1", limiter, raw)
	assert.Equal(t, CodeRateLimited, errorCode(t, f.out.take("c1")))
}

func TestDispatchWinRecordsOutcome(t *testing.T) {
	f := newDispatchFixture()
	f.startGame(t)

	for i, pos := range []int{1, 0, 4, 2} {
		conn := "c1"
		if i%2 == 1 {
			conn = "c2"
		}
		f.move(conn, pos)
	}
	f.out.take("c1")
	f.out.take("c2")
	f.move("c1", 7)

	evs := f.out.take("c1")
	require.Equal(t, []string{domain.EventMoveMade, domain.EventPlayerStats, domain.EventGameOver}, types(evs))
	over := evs[2].Data.(domain.GameOverEvent)
	assert.Equal(t, domain.MarkX, over.Winner)
	assert.Equal(t, []int{1, 4, 7}, over.WinningLine)
	assert.False(t, over.IsDraw)
	assert.Equal(t, domain.PointsEarned{X: 3, O: 0}, over.PointsEarned)
	require.NotNil(t, over.PlayerStats)
	assert.Equal(t, "alice", over.PlayerStats.First.PlayerName)

	evs = f.out.take("c2")
	require.Equal(t, []string{domain.EventMoveMade, domain.EventPlayerStats, domain.EventGameOver}, types(evs))
	assert.Equal(t, "bob", evs[1].Data.(domain.PlayerRecord).PlayerName)

	alice, ok := f.records.Get("alice")
	require.True(t, ok)
	assert.Equal(t, 1, alice.Wins)
	assert.Equal(t, 3, alice.Points)
	bob, ok := f.records.Get("bob")
	require.True(t, ok)
	assert.Equal(t, 1, bob.Losses)
	assert.Equal(t, 0, bob.Points)

	f.move("c2", 8)
	assert.Equal(t, domain.KindInvalidState, errorCode(t, f.out.take("c2")))
	assert.Contains(t, f.bus.events, domain.EventGameOver)
}

func TestDispatchDraw(t *testing.T) {
	f := newDispatchFixture()
	f.startGame(t)

	// X O X / X O O / O X X
	moves := []int{0, 1, 2, 4, 3, 5, 7, 6, 8}
	for i, pos := range moves {
		conn := "c1"
		if i%2 == 1 {
			conn = "c2"
		}
		f.move(conn, pos)
	}

	over := last(t, f.out.take("c1")).Data.(domain.GameOverEvent)
	assert.True(t, over.IsDraw)
	assert.Equal(t, domain.PointsEarned{X: 1, O: 1}, over.PointsEarned)

	alice, _ := f.records.Get("alice")
	bob, _ := f.records.Get("bob")
	assert.Equal(t, 1, alice.Draws)
	assert.Equal(t, 1, bob.Draws)
}

func TestDispatchLeaveAndDisconnect(t *testing.T) {
	f := newDispatchFixture()
	id := f.startGame(t)

	f.handle("c1", domain.EventLeaveGame, nil)
	evs := f.out.take("c2")
	require.Equal(t, []string{domain.EventPlayerLeft}, types(evs))
	assert.Equal(t, "c1", evs[0].Data.(domain.PlayerLeftEvent).ConnectionID)
	assert.Empty(t, f.out.take("c1"))

	f.d.Disconnect("c2")
	_, err := f.registry.Get(id)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound, "the empty session is removed")
	assert.Equal(t, 0, f.registry.Stats().TotalGames)
}

func TestDispatchDisconnectNotifiesOpponent(t *testing.T) {
	f := newDispatchFixture()
	f.startGame(t)

	f.d.Disconnect("c2")
	assert.Equal(t, []string{domain.EventPlayerDisconnected}, types(f.out.take("c1")))
}

func TestDispatchCreateLeavesCurrentGame(t *testing.T) {
	f := newDispatchFixture()
	first := f.startGame(t)

	f.handle("c1", domain.EventCreateGame, domain.PlayerRequest{Name: "alice"})
	assert.Equal(t, []string{domain.EventPlayerLeft}, types(f.out.take("c2")))

	evs := f.out.take("c1")
	require.Equal(t, []string{domain.EventGameCreated}, types(evs))
	assert.NotEqual(t, first, evs[0].Data.(domain.SeatEvent).Game.ID)

	current, ok := f.registry.SessionOf("c1")
	require.True(t, ok)
	assert.Equal(t, evs[0].Data.(domain.SeatEvent).Game.ID, current)
}

func TestDispatchRejectedJoinKeepsSeat(t *testing.T) {
	f := newDispatchFixture()
	id := f.startGame(t)
	broadcasts := len(f.out.broadcasts)

	f.handle("c1", domain.EventJoinGame, domain.JoinGameRequest{GameID: "no-such-game"})
	assert.Equal(t, domain.KindNotFound, errorCode(t, f.out.take("c1")))
	assert.Empty(t, f.out.take("c2"), "the opponent hears nothing")
	assert.Len(t, f.out.broadcasts, broadcasts)

	current, ok := f.registry.SessionOf("c1")
	require.True(t, ok)
	assert.Equal(t, id, current)
	g, err := f.registry.Get(id)
	require.NoError(t, err)
	require.NotNil(t, g.Players.X)
	assert.Equal(t, "c1", g.Players.X.ConnectionID)

	// a lone creator keeps its waiting session when the join is refused
	f.handle("c3", domain.EventCreateGame, domain.PlayerRequest{Name: "carol"})
	waiting := f.out.take("c3")[0].Data.(domain.SeatEvent).Game.ID
	f.handle("c3", domain.EventJoinGame, domain.JoinGameRequest{GameID: id})
	assert.Equal(t, domain.KindInvalidState, errorCode(t, f.out.take("c3")))
	_, err = f.registry.Get(waiting)
	assert.NoError(t, err)
}

func TestDispatchJoinMovesFromCurrentGame(t *testing.T) {
	f := newDispatchFixture()
	first := f.startGame(t)

	f.handle("c3", domain.EventCreateGame, domain.PlayerRequest{Name: "carol"})
	target := f.out.take("c3")[0].Data.(domain.SeatEvent).Game.ID

	f.handle("c2", domain.EventJoinGame, domain.JoinGameRequest{GameID: target, Name: "bob"})
	assert.Equal(t, []string{domain.EventPlayerLeft}, types(f.out.take("c1")))
	assert.Equal(t, []string{domain.EventGameStarted}, types(f.out.take("c3")))
	assert.Equal(t, []string{domain.EventGameStarted, domain.EventGameJoined}, types(f.out.take("c2")))

	current, _ := f.registry.SessionOf("c2")
	assert.Equal(t, target, current)
	g, err := f.registry.Get(first)
	require.NoError(t, err)
	assert.Nil(t, g.Players.O)
}

func TestDispatchGameState(t *testing.T) {
	f := newDispatchFixture()
	id := f.startGame(t)

	f.handle("c1", domain.EventGetGameState, id)
	ev := last(t, f.out.take("c1"))
	require.Equal(t, domain.EventGameState, ev.Type)
	assert.Equal(t, id, ev.Data.(domain.GameEvent).Game.ID)

	f.handle("c2", domain.EventGetGameState, domain.GameStateRequest{GameID: id})
	assert.Equal(t, domain.EventGameState, last(t, f.out.take("c2")).Type)

	f.handle("c2", domain.EventGetGameState, nil)
	assert.Equal(t, id, last(t, f.out.take("c2")).Data.(domain.GameEvent).Game.ID)

	f.handle("c3", domain.EventGetGameState, "missing")
	assert.Equal(t, domain.KindNotFound, errorCode(t, f.out.take("c3")))
}
