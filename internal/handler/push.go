package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/voxnote/internal/model"
	"github.com/dukerupert/voxnote/internal/push"
	"github.com/dukerupert/voxnote/internal/store"
)

// TokenRefresher hands a rotated push token to the backend.
type TokenRefresher interface {
	Refresh(ctx context.Context, token string) error
}

// Relayer fans a payload out to the local web-push subscriptions.
type Relayer interface {
	Broadcast(ctx context.Context, payload push.Payload) (int, error)
}

type PushHandler struct {
	pushStore *store.PushStore
	vapidKey  string
	relay     Relayer
	tokens    TokenRefresher
	logger    *slog.Logger
}

// NewPushHandler builds the push routes. vapidKey and relay are empty when
// web push is not configured; token refresh works either way.
func NewPushHandler(ps *store.PushStore, vapidKey string, relay Relayer, tokens TokenRefresher, logger *slog.Logger) *PushHandler {
	return &PushHandler{pushStore: ps, vapidKey: vapidKey, relay: relay, tokens: tokens, logger: logger}
}

func (h *PushHandler) enabled(w http.ResponseWriter) bool {
	if h.vapidKey == "" || h.relay == nil {
		writeError(w, http.StatusNotFound, "web push not configured")
		return false
	}
	return true
}

type subscribeRequest struct {
	Endpoint   string `json:"endpoint"`
	P256dh     string `json:"p256dh"`
	Auth       string `json:"auth"`
	DeviceName string `json:"device_name"`
}

// Subscribe handles POST /api/push/subscribe
func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w) {
		return
	}

	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Endpoint == "" || req.P256dh == "" || req.Auth == "" {
		writeError(w, http.StatusBadRequest, "endpoint, p256dh, and auth are required")
		return
	}

	sub, err := h.pushStore.CreateSubscription(req.Endpoint, req.P256dh, req.Auth, req.DeviceName)
	if err != nil {
		h.logger.Error("create push subscription", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save subscription")
		return
	}

	writeJSON(w, http.StatusCreated, sub)
}

// Unsubscribe handles DELETE /api/push/subscriptions/{id}
func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	if err := h.pushStore.DeleteSubscription(id); err != nil {
		h.logger.Error("delete push subscription", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete subscription")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListSubscriptions handles GET /api/push/subscriptions
func (h *PushHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.pushStore.List()
	if err != nil {
		h.logger.Error("list push subscriptions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list subscriptions")
		return
	}
	if subs == nil {
		subs = []model.PushSubscription{}
	}
	writeJSON(w, http.StatusOK, subs)
}

// GetVAPIDKey handles GET /api/push/vapid-key
func (h *PushHandler) GetVAPIDKey(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"public_key": h.vapidKey})
}

// TestNotification handles POST /api/push/test
func (h *PushHandler) TestNotification(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w) {
		return
	}

	sent, err := h.relay.Broadcast(r.Context(), push.Payload{
		Title: "Test Notification",
		Body:  "Push notifications are working!",
		URL:   "/",
		Tag:   "test",
	})
	if err != nil {
		h.logger.Error("test push", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to send notification")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"sent": sent})
}

type tokenRequest struct {
	Token string `json:"token"`
}

// RefreshToken handles PUT /api/push/token. The platform push token is
// stored and forwarded to the backend when the device is registered.
func (h *PushHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Token = strings.TrimSpace(req.Token)
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	if err := h.tokens.Refresh(r.Context(), req.Token); err != nil {
		h.logger.Error("refresh push token", "error", err)
		writeError(w, http.StatusBadGateway, "failed to sync push token")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
