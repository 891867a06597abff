package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dukerupert/voxnote/internal/capture"
	"github.com/dukerupert/voxnote/internal/model"
	"github.com/dukerupert/voxnote/internal/store"
	"github.com/dukerupert/voxnote/internal/websocket"
	"github.com/google/uuid"
)

const maxRecordingBytes = 200 << 20

type NoteHandler struct {
	noteStore *store.NoteStore
	taskStore *store.TaskStore
	audioDir  string
	sync      Kicker
	hub       Broadcaster
	logger    *slog.Logger
}

func NewNoteHandler(ns *store.NoteStore, ts *store.TaskStore, audioDir string, sync Kicker, hub Broadcaster, logger *slog.Logger) *NoteHandler {
	return &NoteHandler{
		noteStore: ns,
		taskStore: ts,
		audioDir:  audioDir,
		sync:      sync,
		hub:       hub,
		logger:    logger,
	}
}

// List handles GET /api/notes
func (h *NoteHandler) List(w http.ResponseWriter, r *http.Request) {
	notes, err := h.noteStore.List()
	if err != nil {
		h.logger.Error("list notes", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list notes")
		return
	}
	if notes == nil {
		notes = []model.Note{}
	}
	writeJSON(w, http.StatusOK, notes)
}

type noteDetail struct {
	model.Note
	Tasks []model.Task `json:"tasks"`
}

// Get handles GET /api/notes/{id}. Deleted notes are still returned.
func (h *NoteHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	note, err := h.noteStore.GetByID(id)
	if err != nil {
		h.logger.Error("get note", "note_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get note")
		return
	}
	if note == nil {
		writeError(w, http.StatusNotFound, "note not found")
		return
	}

	tasks, err := h.taskStore.ListByNote(id)
	if err != nil {
		h.logger.Error("list note tasks", "note_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	if tasks == nil {
		tasks = []model.Task{}
	}
	writeJSON(w, http.StatusOK, noteDetail{Note: *note, Tasks: tasks})
}

// Create handles POST /api/notes. The body is a multipart form with the
// recording in "audio" and an optional "title" and "timestamp" (RFC 3339).
// The file is stored in the recordings directory and the note is queued
// for upload.
func (h *NoteHandler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRecordingBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !capture.IsAudio(header.Filename) {
		writeError(w, http.StatusBadRequest, "unsupported audio format")
		return
	}

	title := strings.TrimSpace(r.FormValue("title"))
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(header.Filename), filepath.Ext(header.Filename))
	}
	ts := time.Now().UTC()
	if v := r.FormValue("timestamp"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "timestamp must be RFC 3339")
			return
		}
		ts = parsed.UTC()
	}

	path, err := h.save(file, ext)
	if err != nil {
		h.logger.Error("save recording", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save recording")
		return
	}

	note, err := h.noteStore.Create(title, ts, &path)
	if err != nil {
		os.Remove(path)
		h.logger.Error("create note", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create note")
		return
	}

	h.logger.Info("recording imported", "note_id", note.ID, "file", filepath.Base(path))
	broadcast(h.hub, websocket.NewMessage(websocket.EntityNote, "created", note.ID, nil))
	kick(h.sync)

	writeJSON(w, http.StatusCreated, note)
}

// save writes the upload under a temporary name the capture watcher ignores
// and renames it into place once complete.
func (h *NoteHandler) save(src io.Reader, ext string) (string, error) {
	if err := os.MkdirAll(h.audioDir, 0o755); err != nil {
		return "", err
	}
	abs, err := filepath.Abs(h.audioDir)
	if err != nil {
		return "", err
	}
	final := filepath.Join(abs, uuid.NewString()+ext)
	tmp := final + ".partial"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return "", err
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n == 0 {
		err = fmt.Errorf("empty recording")
	}
	if err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return final, nil
}

type enrichmentRequest struct {
	Title            *string         `json:"title"`
	Summary          *string         `json:"summary"`
	Transcript       *string         `json:"transcript"`
	Status           *string         `json:"status"`
	SemanticAnalysis json.RawMessage `json:"semantic_analysis"`
	Metadata         json.RawMessage `json:"metadata"`
	RelatedEntities  json.RawMessage `json:"related_entities"`
}

// UpdateEnrichment handles PATCH /api/notes/{id}. Fields left out keep
// their current values.
func (h *NoteHandler) UpdateEnrichment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	existing, err := h.noteStore.GetByID(id)
	if err != nil {
		h.logger.Error("get note", "note_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get note")
		return
	}
	if existing == nil || existing.Deleted {
		writeError(w, http.StatusNotFound, "note not found")
		return
	}

	var req enrichmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	e := model.Enrichment{
		Title:            existing.Title,
		Summary:          existing.Summary,
		Transcript:       existing.Transcript,
		Status:           existing.Status,
		SemanticAnalysis: existing.SemanticAnalysis,
		Metadata:         existing.Metadata,
		RelatedEntities:  existing.RelatedEntities,
	}
	if req.Title != nil {
		e.Title = strings.TrimSpace(*req.Title)
	}
	if req.Summary != nil {
		e.Summary = *req.Summary
	}
	if req.Transcript != nil {
		e.Transcript = *req.Transcript
	}
	if req.Status != nil {
		e.Status = *req.Status
	}
	if req.SemanticAnalysis != nil {
		e.SemanticAnalysis = req.SemanticAnalysis
	}
	if req.Metadata != nil {
		e.Metadata = req.Metadata
	}
	if req.RelatedEntities != nil {
		e.RelatedEntities = req.RelatedEntities
	}
	if e.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if !model.ValidNoteStatus(e.Status) {
		writeError(w, http.StatusBadRequest, "unknown note status")
		return
	}

	note, err := h.noteStore.UpdateEnrichment(id, e)
	if err != nil {
		h.logger.Error("update note", "note_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update note")
		return
	}

	broadcast(h.hub, websocket.NewMessage(websocket.EntityNote, "updated", id, nil))
	writeJSON(w, http.StatusOK, note)
}

// Delete handles DELETE /api/notes/{id}. The row is soft-deleted.
func (h *NoteHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	existing, err := h.noteStore.GetByID(id)
	if err != nil {
		h.logger.Error("get note", "note_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get note")
		return
	}
	if existing == nil || existing.Deleted {
		writeError(w, http.StatusNotFound, "note not found")
		return
	}

	if err := h.noteStore.SoftDelete(id); err != nil {
		h.logger.Error("delete note", "note_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete note")
		return
	}

	broadcast(h.hub, websocket.NewMessage(websocket.EntityNote, "deleted", id, nil))
	w.WriteHeader(http.StatusNoContent)
}
