package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/ernie/noughts/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
)

// Client is one websocket connection. Its id is the participant identity
// used by the registry.
type Client struct {
	id         string
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	remoteAddr string
	limiter    *rate.Limiter
}

// ID returns the connection id
func (c *Client) ID() string { return c.id }

type outbound struct {
	to   string // empty for every client
	data []byte
}

// Hub owns the set of connected clients. Every delivery goes through one
// channel so events reach each client in the order they were sent.
type Hub struct {
	clients    map[string]*Client
	outbound   chan outbound
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

// NewHub creates a new websocket hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		outbound:   make(chan outbound, 1024),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run is the hub's main loop. It returns when ctx is cancelled and closes
// every client.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for id, client := range h.clients {
			close(client.send)
			delete(h.clients, id)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.clients[client.id] = client
			log.Debug().Str("conn", client.id).Str("remote", client.remoteAddr).
				Int("clients", len(h.clients)).Msg("websocket client connected")

		case client := <-h.unregister:
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			log.Debug().Str("conn", client.id).Int("clients", len(h.clients)).Msg("websocket client disconnected")

		case msg := <-h.outbound:
			if msg.to != "" {
				if client, ok := h.clients[msg.to]; ok {
					h.deliver(client, msg.data)
				}
				continue
			}
			for _, client := range h.clients {
				h.deliver(client, msg.data)
			}
		}
	}
}

func (h *Hub) deliver(client *Client, data []byte) {
	select {
	case client.send <- data:
	default:
		// Client's buffer is full, close connection
		log.Warn().Str("conn", client.id).Msg("websocket send buffer full, dropping client")
		close(client.send)
		delete(h.clients, client.id)
	}
}

func (h *Hub) enqueue(msg outbound) {
	select {
	case h.outbound <- msg:
	case <-h.done:
	}
}

func encodeEvent(event domain.Event) ([]byte, bool) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("event", event.Type).Msg("encoding websocket event")
		return nil, false
	}
	return data, true
}

// SendTo queues an event for one connection. Unknown ids are ignored.
func (h *Hub) SendTo(connID string, event domain.Event) {
	if data, ok := encodeEvent(event); ok {
		h.enqueue(outbound{to: connID, data: data})
	}
}

// Broadcast queues an event for every connection
func (h *Hub) Broadcast(event domain.Event) {
	if data, ok := encodeEvent(event); ok {
		h.enqueue(outbound{data: data})
	}
}

// Register adds c to the hub. Events sent after Register returns are
// delivered to c.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes c and closes its send buffer
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// handleWebSocket upgrades HTTP to WebSocket and manages the connection
func (r *Router) handleWebSocket(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade")
		return
	}

	client := &Client{
		id:         uuid.NewString(),
		hub:        r.hub,
		conn:       conn,
		send:       make(chan []byte, r.ws.SendBuffer),
		remoteAddr: req.RemoteAddr, // rewritten by chimw.RealIP
		limiter:    rate.NewLimiter(rate.Limit(r.ws.MessagesPerSecond), r.ws.Burst),
	}

	if !r.hub.Register(client) {
		conn.Close()
		return
	}
	r.dispatcher.Connect(client.id)

	go client.writePump()
	go client.readPump(r.dispatcher)
}

// readPump feeds inbound frames to the dispatcher until the connection
// drops, then reports the disconnect.
func (c *Client) readPump(d *Dispatcher) {
	defer func() {
		d.Disconnect(c.id)
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived) {
				log.Warn().Err(err).Str("conn", c.id).Msg("websocket read")
			}
			break
		}
		d.Handle(c.id, c.limiter, message)
	}
}

// writePump sends one frame per queued event
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
