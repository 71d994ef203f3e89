package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzhttp"

	"github.com/ernie/noughts/internal/config"
	"github.com/ernie/noughts/internal/domain"
	"github.com/ernie/noughts/internal/game"
	"github.com/ernie/noughts/internal/ranking"
)

// GameArchive looks up sessions that are no longer live; storage backends
// satisfy it
type GameArchive interface {
	GetGame(ctx context.Context, id string) (*domain.Game, error)
}

// Deps are the collaborators the router serves
type Deps struct {
	Config   *config.Config
	Registry *game.Registry
	Records  *ranking.Store
	Archive  GameArchive // optional
	Bus      Publisher   // optional
	Version  string
}

// Router holds the HTTP routes and dependencies
type Router struct {
	mux        *chi.Mux
	registry   *game.Registry
	engine     *ranking.Engine
	records    *ranking.Store
	archive    GameArchive
	hub        *Hub
	dispatcher *Dispatcher
	upgrader   websocket.Upgrader
	origins    originPolicy
	ws         config.WebSocketConfig
	version    string
	started    time.Time
}

// NewRouter creates a new HTTP router
func NewRouter(deps Deps) *Router {
	cfg := deps.Config
	r := &Router{
		mux:      chi.NewRouter(),
		registry: deps.Registry,
		engine:   ranking.NewEngine(deps.Records),
		records:  deps.Records,
		archive:  deps.Archive,
		hub:      NewHub(),
		origins: originPolicy{
			origins:  cfg.Server.AllowedOrigins,
			suffixes: cfg.Server.AllowedOriginSuffixes,
		},
		ws:      cfg.WebSocket,
		version: deps.Version,
		started: time.Now(),
	}
	if r.version == "" {
		r.version = "dev"
	}
	r.dispatcher = NewDispatcher(deps.Registry, deps.Records, r.hub, deps.Bus)
	r.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(req *http.Request) bool {
			return r.origins.allowed(req.Header.Get("Origin"))
		},
	}

	r.mux.Use(chimw.RequestID)
	r.mux.Use(chimw.RealIP)
	r.mux.Use(chimw.Recoverer)
	r.mux.Use(r.origins.middleware)

	r.mux.Get("/ws", r.handleWebSocket)

	r.mux.Group(func(api chi.Router) {
		api.Use(chimw.Timeout(cfg.Server.RequestTimeout))
		api.Use(compress)

		api.Get("/", r.handleIndex)
		api.Get("/health", r.handleHealth)
		api.Get("/api/stats", r.handleStats)
		api.Get("/api/leaderboard", r.handleLeaderboard)
		api.Get("/api/leaderboard/top", r.handleTopPlayers)
		api.Get("/api/leaderboard/stats", r.handleLeaderboardStats)
		api.Get("/api/player/{name}", r.handleGetPlayer)
		api.Get("/api/games/{id}", r.handleGetGame)
	})

	r.mux.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})

	return r
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Start runs the websocket hub until ctx is cancelled
func (r *Router) Start(ctx context.Context) {
	go r.hub.Run(ctx)
}

// compress gzips responses for clients that accept it
func compress(next http.Handler) http.Handler {
	return gzhttp.GzipHandler(next)
}

// originPolicy decides which browser origins may call the API and open
// websockets. Requests without an Origin header are always allowed.
type originPolicy struct {
	origins  []string
	suffixes []string
}

func (p originPolicy) allowed(origin string) bool {
	if origin == "" {
		return true
	}
	for _, o := range p.origins {
		if o == "*" || o == origin {
			return true
		}
	}
	for _, s := range p.suffixes {
		if strings.HasSuffix(origin, s) {
			return true
		}
	}
	return false
}

func (p originPolicy) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		origin := req.Header.Get("Origin")
		w.Header().Add("Vary", "Origin")
		if origin != "" {
			if !p.allowed(origin) {
				writeError(w, http.StatusForbidden, "origin not allowed")
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}

		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}
