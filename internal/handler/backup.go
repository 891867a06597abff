package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/voxnote/internal/backup"
	"github.com/dukerupert/voxnote/internal/model"
	"github.com/dukerupert/voxnote/internal/store"
	"github.com/dukerupert/voxnote/internal/websocket"
)

// BackupManager is the part of backup.Manager the API drives.
type BackupManager interface {
	Status() backup.Status
	HasPassphrase() bool
	SetPassphrase(passphrase string) error
	RunNow(ctx context.Context, passphrase string) (*model.Backup, error)
	Download(ctx context.Context, backupID int64) (io.ReadCloser, int64, error)
}

type BackupHandler struct {
	manager     BackupManager
	backupStore *store.BackupStore
	hub         Broadcaster
	logger      *slog.Logger
}

func NewBackupHandler(m BackupManager, bs *store.BackupStore, hub Broadcaster, logger *slog.Logger) *BackupHandler {
	return &BackupHandler{manager: m, backupStore: bs, hub: hub, logger: logger}
}

// List handles GET /api/backups
func (h *BackupHandler) List(w http.ResponseWriter, r *http.Request) {
	backups, err := h.backupStore.List(parseLimit(r, 20))
	if err != nil {
		h.logger.Error("list backups", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list backups")
		return
	}
	if backups == nil {
		backups = []model.Backup{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         h.manager.Status(),
		"has_passphrase": h.manager.HasPassphrase(),
		"backups":        backups,
	})
}

type backupRequest struct {
	Passphrase string `json:"passphrase"`
}

// Create handles POST /api/backups. The passphrase may be omitted once one
// has been set for this process.
func (h *BackupHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req backupRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}

	rec, err := h.manager.RunNow(r.Context(), req.Passphrase)
	switch {
	case errors.Is(err, backup.ErrDisabled):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case errors.Is(err, backup.ErrNoPassphrase):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.logger.Error("run backup", "error", err)
		writeError(w, http.StatusInternalServerError, "backup failed")
		return
	}

	broadcast(h.hub, websocket.NewMessage(websocket.EntityBackup, "created", strconv.FormatInt(rec.ID, 10), nil))
	writeJSON(w, http.StatusCreated, rec)
}

// SetPassphrase handles PUT /api/backups/passphrase. Scheduled runs use
// the passphrase until the process exits.
func (h *BackupHandler) SetPassphrase(w http.ResponseWriter, r *http.Request) {
	var req backupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := h.manager.SetPassphrase(req.Passphrase); err != nil {
		if errors.Is(err, backup.ErrNoPassphrase) {
			writeError(w, http.StatusBadRequest, "passphrase is required")
			return
		}
		h.logger.Error("set backup passphrase", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to set passphrase")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Download handles GET /api/backups/{id}/download. The snapshot is served
// encrypted, exactly as stored.
func (h *BackupHandler) Download(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	body, size, err := h.manager.Download(r.Context(), id)
	switch {
	case errors.Is(err, backup.ErrNotFound):
		writeError(w, http.StatusNotFound, "backup not found")
		return
	case errors.Is(err, backup.ErrDisabled):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		h.logger.Error("download backup", "backup_id", id, "error", err)
		writeError(w, http.StatusBadGateway, "failed to fetch backup")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="voxnote-backup-%d.db.enc"`, id))
	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn("stream backup", "backup_id", id, "error", err)
	}
}
