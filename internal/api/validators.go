package api

import (
	"net/http"
	"strconv"

	"github.com/ernie/noughts/internal/ranking"
)

// parseLimit parses and validates a limit parameter with default and max values
func parseLimit(r *http.Request, defaultLimit, maxLimit int) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= maxLimit {
			return parsed
		}
	}
	return defaultLimit
}

// parseSortBy returns the leaderboard ordering; unknown values fall back to points
func parseSortBy(r *http.Request) string {
	return ranking.NormalizeSort(r.URL.Query().Get("sortBy"))
}
