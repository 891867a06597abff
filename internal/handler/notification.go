package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/voxnote/internal/model"
	"github.com/dukerupert/voxnote/internal/store"
	"github.com/dukerupert/voxnote/internal/websocket"
)

type NotificationHandler struct {
	store  *store.NotificationStore
	hub    Broadcaster
	logger *slog.Logger
}

func NewNotificationHandler(ns *store.NotificationStore, hub Broadcaster, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{store: ns, hub: hub, logger: logger}
}

// List handles GET /api/notifications?limit=N
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.List(parseLimit(r, 50))
	if err != nil {
		h.logger.Error("list notifications", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}
	if items == nil {
		items = []model.Notification{}
	}
	unread, err := h.store.UnreadCount()
	if err != nil {
		h.logger.Error("count unread", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to count notifications")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"notifications": items,
		"unread":        unread,
	})
}

// MarkRead handles POST /api/notifications/{id}/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	n, err := h.store.GetByID(id)
	if err != nil {
		h.logger.Error("get notification", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get notification")
		return
	}
	if n == nil {
		writeError(w, http.StatusNotFound, "notification not found")
		return
	}

	if err := h.store.MarkRead(id); err != nil {
		h.logger.Error("mark notification read", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update notification")
		return
	}

	broadcast(h.hub, websocket.NewMessage(websocket.EntityNotification, "read", strconv.FormatInt(n.ID, 10), nil))
	w.WriteHeader(http.StatusNoContent)
}
