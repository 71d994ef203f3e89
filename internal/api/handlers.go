package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/ernie/noughts/internal/domain"
	"github.com/ernie/noughts/internal/ranking"
)

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// statusFor maps an error kind onto an HTTP status
func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInvalidInput, CodeBadRequest:
		return http.StatusBadRequest
	case domain.KindInvalidState, domain.KindTurnViolation, domain.KindCapacityExceeded:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError writes err with the status for its kind
func writeDomainError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	if kind == domain.KindInternal {
		log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeError(w, statusFor(kind), err.Error())
}

type healthResponse struct {
	Status    string               `json:"status"`
	Timestamp time.Time            `json:"timestamp"`
	Uptime    float64              `json:"uptime"`
	Stats     domain.RegistryStats `json:"stats"`
}

// handleIndex describes the service
func (r *Router) handleIndex(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Noughts game server",
		"version": r.version,
		"status":  "online",
		"endpoints": map[string]string{
			"websocket":        "/ws",
			"health":           "/health",
			"stats":            "/api/stats",
			"leaderboard":      "/api/leaderboard",
			"topPlayers":       "/api/leaderboard/top",
			"leaderboardStats": "/api/leaderboard/stats",
			"player":           "/api/player/{name}",
			"game":             "/api/games/{id}",
		},
		"timestamp": time.Now().UTC(),
	})
}

// handleHealth reports liveness with uptime in seconds
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "OK",
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(r.started).Seconds(),
		Stats:     r.registry.Stats(),
	})
}

// handleStats returns the registry counts
func (r *Router) handleStats(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, r.registry.Stats())
}

// handleLeaderboard returns the ranked players
func (r *Router) handleLeaderboard(w http.ResponseWriter, req *http.Request) {
	limit := parseLimit(req, 100, 1000)
	writeJSON(w, http.StatusOK, r.engine.Leaderboard(limit, parseSortBy(req)))
}

// handleTopPlayers returns the head of the leaderboard
func (r *Router) handleTopPlayers(w http.ResponseWriter, req *http.Request) {
	limit := parseLimit(req, 10, 100)
	writeJSON(w, http.StatusOK, r.engine.Top(limit, parseSortBy(req)))
}

// handleLeaderboardStats returns aggregate statistics over all players
func (r *Router) handleLeaderboardStats(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, r.engine.AggregateStats())
}

// handleGetPlayer returns one record with its leaderboard rank
func (r *Router) handleGetPlayer(w http.ResponseWriter, req *http.Request) {
	name, err := url.PathUnescape(chi.URLParam(req, "name"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid player name")
		return
	}

	rec, ok := r.records.Get(name)
	if !ok {
		writeDomainError(w, domain.ErrPlayerNotFound)
		return
	}
	rank, _ := r.engine.RankOf(rec.PlayerName, parseSortBy(req))
	writeJSON(w, http.StatusOK, ranking.Entry{Rank: rank, PlayerRecord: rec})
}

// gameSourceHeader tells clients whether a snapshot is live or archived
const gameSourceHeader = "X-Game-Source"

// handleGetGame returns a live session, falling back to the archive for
// sessions the registry no longer holds
func (r *Router) handleGetGame(w http.ResponseWriter, req *http.Request) {
	id := chi.URLParam(req, "id")

	g, err := r.registry.Get(id)
	if err == nil {
		w.Header().Set(gameSourceHeader, "live")
		writeJSON(w, http.StatusOK, g)
		return
	}
	if !errors.Is(err, domain.ErrSessionNotFound) || r.archive == nil {
		writeDomainError(w, err)
		return
	}

	archived, err := r.archive.GetGame(req.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.Header().Set(gameSourceHeader, "archive")
	writeJSON(w, http.StatusOK, archived)
}
