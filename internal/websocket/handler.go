package websocket

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"
)

// HandleWebSocket upgrades local UI connections and runs them as Hub
// clients. An "entities" query parameter (comma-separated) limits which
// change messages the client receives.
func HandleWebSocket(hub *Hub, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			InsecureSkipVerify: true, // UI shells load from file:// and app origins
		})
		if err != nil {
			logger.Warn("websocket accept", "error", err)
			return
		}

		entities := ParseEntities(r.URL.Query().Get("entities"))
		client := NewClient(hub, conn, logger.With("remote", r.RemoteAddr), entities)
		client.Run(r.Context())
	}
}
