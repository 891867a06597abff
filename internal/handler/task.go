package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dukerupert/voxnote/internal/model"
	"github.com/dukerupert/voxnote/internal/store"
	"github.com/dukerupert/voxnote/internal/websocket"
)

type TaskHandler struct {
	taskStore *store.TaskStore
	sync      Kicker
	hub       Broadcaster
	logger    *slog.Logger
}

func NewTaskHandler(ts *store.TaskStore, sync Kicker, hub Broadcaster, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{taskStore: ts, sync: sync, hub: hub, logger: logger}
}

// List handles GET /api/tasks, optionally filtered by ?note_id= or ?status=.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	var (
		tasks []model.Task
		err   error
	)
	if noteID := r.URL.Query().Get("note_id"); noteID != "" {
		tasks, err = h.taskStore.ListByNote(noteID)
	} else {
		tasks, err = h.taskStore.List()
	}
	if err != nil {
		h.logger.Error("list tasks", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}

	status := r.URL.Query().Get("status")
	if status != "" && !model.ValidTaskStatus(status) {
		writeError(w, http.StatusBadRequest, "status must be pending, in_progress, or done")
		return
	}
	out := make([]model.Task, 0, len(tasks))
	for _, t := range tasks {
		if status == "" || t.Status == status {
			out = append(out, t)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type taskStatusRequest struct {
	Status string `json:"status"`
}

// SetStatus handles PATCH /api/tasks/{id}/status. The change is stored
// locally as unsynced and pushed by the next reconciler run.
func (h *TaskHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req taskStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if !model.ValidTaskStatus(req.Status) {
		writeError(w, http.StatusBadRequest, "status must be pending, in_progress, or done")
		return
	}

	existing, err := h.taskStore.GetByID(id)
	if err != nil {
		h.logger.Error("get task", "task_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get task")
		return
	}
	if existing == nil || existing.Deleted {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}

	task, err := h.taskStore.SetStatus(id, req.Status)
	if err != nil {
		h.logger.Error("set task status", "task_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update task")
		return
	}

	broadcast(h.hub, websocket.NewMessage(websocket.EntityTask, "updated", id, map[string]any{"status": task.Status}))
	kick(h.sync)

	writeJSON(w, http.StatusOK, task)
}

// Delete handles DELETE /api/tasks/{id}
func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	existing, err := h.taskStore.GetByID(id)
	if err != nil {
		h.logger.Error("get task", "task_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get task")
		return
	}
	if existing == nil || existing.Deleted {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}

	if err := h.taskStore.SoftDelete(id); err != nil {
		h.logger.Error("delete task", "task_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete task")
		return
	}

	broadcast(h.hub, websocket.NewMessage(websocket.EntityTask, "deleted", id, nil))
	w.WriteHeader(http.StatusNoContent)
}
