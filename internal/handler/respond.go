// Package handler implements the loopback JSON API used by the local UI.
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/dukerupert/voxnote/internal/websocket"
)

// Broadcaster publishes change messages to connected UI clients.
type Broadcaster interface {
	Broadcast(msg websocket.Message)
}

// Kicker requests an immediate background run.
type Kicker interface {
	Kick()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func parseIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

func parseLimit(r *http.Request, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func broadcast(hub Broadcaster, msg websocket.Message) {
	if hub != nil {
		hub.Broadcast(msg)
	}
}

func kick(k Kicker) {
	if k != nil {
		k.Kick()
	}
}
