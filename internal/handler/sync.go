package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/voxnote/internal/reconcile"
	"github.com/dukerupert/voxnote/internal/store"
)

// SyncStatus reports the outcome of the latest reconciler run.
type SyncStatus interface {
	Status() reconcile.Status
}

type SyncHandler struct {
	reconciler    SyncStatus
	trigger       Kicker
	noteStore     *store.NoteStore
	taskStore     *store.TaskStore
	settingsStore *store.SettingsStore
	logger        *slog.Logger
}

func NewSyncHandler(rec SyncStatus, trigger Kicker, ns *store.NoteStore, ts *store.TaskStore, ss *store.SettingsStore, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{
		reconciler:    rec,
		trigger:       trigger,
		noteStore:     ns,
		taskStore:     ts,
		settingsStore: ss,
		logger:        logger,
	}
}

// Kick handles POST /api/sync. The run happens in the background.
func (h *SyncHandler) Kick(w http.ResponseWriter, r *http.Request) {
	kick(h.trigger)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

type syncStatusResponse struct {
	reconcile.Status
	PendingNotes  int        `json:"pending_notes"`
	PendingTasks  int        `json:"pending_tasks"`
	LastSyncAt    *time.Time `json:"last_sync_at,omitempty"`
	LastRefreshAt *time.Time `json:"last_refresh_at,omitempty"`
}

// Status handles GET /api/sync/status
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	pendingNotes, err := h.noteStore.CountUnsynced()
	if err != nil {
		h.logger.Error("count unsynced notes", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read sync status")
		return
	}
	pendingTasks, err := h.taskStore.ListUnsynced()
	if err != nil {
		h.logger.Error("list unsynced tasks", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read sync status")
		return
	}

	resp := syncStatusResponse{
		Status:       h.reconciler.Status(),
		PendingNotes: pendingNotes,
		PendingTasks: len(pendingTasks),
	}
	resp.LastSyncAt = h.timeSetting(store.KeyLastSyncAt)
	resp.LastRefreshAt = h.timeSetting(store.KeyLastRefreshAt)
	writeJSON(w, http.StatusOK, resp)
}

func (h *SyncHandler) timeSetting(key string) *time.Time {
	t, err := h.settingsStore.GetTime(key)
	if err != nil {
		h.logger.Warn("read timestamp setting", "key", key, "error", err)
		return nil
	}
	if t.IsZero() {
		return nil
	}
	return &t
}
