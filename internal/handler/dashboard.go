package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/voxnote/internal/model"
	"github.com/dukerupert/voxnote/internal/store"
)

type DashboardHandler struct {
	noteStore         *store.NoteStore
	taskStore         *store.TaskStore
	notificationStore *store.NotificationStore
	settingsStore     *store.SettingsStore
	logger            *slog.Logger
}

func NewDashboardHandler(ns *store.NoteStore, ts *store.TaskStore, nfs *store.NotificationStore, ss *store.SettingsStore, logger *slog.Logger) *DashboardHandler {
	return &DashboardHandler{
		noteStore:         ns,
		taskStore:         ts,
		notificationStore: nfs,
		settingsStore:     ss,
		logger:            logger,
	}
}

type dashboardStats struct {
	model.DashboardStats
	InProgressTasks     int `json:"in_progress_tasks"`
	PendingUploads      int `json:"pending_uploads"`
	UnreadNotifications int `json:"unread_notifications"`
}

type dashboardResponse struct {
	Notes         []model.Note   `json:"notes"`
	Stats         dashboardStats `json:"stats"`
	LastRefreshAt *time.Time     `json:"last_refresh_at,omitempty"`
}

const dashboardRecent = 10

// Get handles GET /api/dashboard. Everything is computed from the local
// cache so the view works offline.
func (h *DashboardHandler) Get(w http.ResponseWriter, r *http.Request) {
	notes, err := h.noteStore.List()
	if err != nil {
		h.logger.Error("list notes", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load dashboard")
		return
	}
	tasks, err := h.taskStore.List()
	if err != nil {
		h.logger.Error("list tasks", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load dashboard")
		return
	}
	pending, err := h.noteStore.CountUnsynced()
	if err != nil {
		h.logger.Error("count unsynced", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load dashboard")
		return
	}
	unread, err := h.notificationStore.UnreadCount()
	if err != nil {
		h.logger.Error("count unread", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load dashboard")
		return
	}

	resp := dashboardResponse{
		Notes: []model.Note{},
		Stats: dashboardStats{PendingUploads: pending, UnreadNotifications: unread},
	}
	resp.Stats.TotalNotes = len(notes)
	for i, n := range notes {
		if n.Status == model.NoteStatusProcessed {
			resp.Stats.ProcessedNotes++
		}
		if i < dashboardRecent {
			resp.Notes = append(resp.Notes, n)
		}
	}
	for _, t := range tasks {
		switch t.Status {
		case model.TaskStatusPending:
			resp.Stats.PendingTasks++
		case model.TaskStatusInProgress:
			resp.Stats.InProgressTasks++
		case model.TaskStatusDone:
			resp.Stats.CompletedTasks++
		}
	}

	if last, err := h.settingsStore.GetTime(store.KeyLastRefreshAt); err == nil && !last.IsZero() {
		resp.LastRefreshAt = &last
	}

	writeJSON(w, http.StatusOK, resp)
}
