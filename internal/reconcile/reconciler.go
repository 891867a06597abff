// Package reconcile keeps the local cache and the remote service in step.
//
// SyncAudio is the upload half: every unsynced note with a local recording
// goes up in one multipart batch, and the whole batch is flipped to synced
// when the request succeeds. A failed request changes nothing; the rows stay
// pending and the next trigger retries them.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dukerupert/voxnote/internal/api"
	"github.com/dukerupert/voxnote/internal/model"
	"github.com/dukerupert/voxnote/internal/store"
)

// Remote is the subset of the API client the reconciler needs.
type Remote interface {
	UploadBatch(ctx context.Context, artifacts []api.Artifact) (*model.BatchUpload, error)
	UpdateTaskStatus(ctx context.Context, id, status string, done bool) error
	Dashboard(ctx context.Context) (*model.Dashboard, error)
	TaskCenter(ctx context.Context) (*model.TaskCenter, error)
	Note(ctx context.Context, id string) (*model.Note, error)
}

// Result describes one SyncAudio run.
type Result struct {
	Pending    int    `json:"pending"`
	Uploaded   int    `json:"uploaded"`
	Skipped    int    `json:"skipped"`
	BatchJobID string `json:"batch_job_id,omitempty"`
}

// Status is the last observed reconciler state, exposed to the local UI.
type Status struct {
	LastRun    time.Time `json:"last_run"`
	LastResult Result    `json:"last_result"`
	LastError  string    `json:"last_error,omitempty"`
	Running    bool      `json:"running"`
}

// StatusCallback is called after every SyncAudio run.
type StatusCallback func(Status)

type Reconciler struct {
	remote   Remote
	notes    *store.NoteStore
	tasks    *store.TaskStore
	settings *store.SettingsStore
	logger   *slog.Logger
	callback StatusCallback

	// one upload at a time; a trigger tick and a manual kick may overlap
	runMu sync.Mutex

	mu     sync.RWMutex
	status Status
}

func New(remote Remote, notes *store.NoteStore, tasks *store.TaskStore, settings *store.SettingsStore, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		remote:   remote,
		notes:    notes,
		tasks:    tasks,
		settings: settings,
		logger:   logger,
	}
}

// OnStatus registers a callback invoked after each SyncAudio run.
func (r *Reconciler) OnStatus(cb StatusCallback) {
	r.mu.Lock()
	r.callback = cb
	r.mu.Unlock()
}

// Status returns the outcome of the most recent run.
func (r *Reconciler) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

func (r *Reconciler) setStatus(s Status) {
	r.mu.Lock()
	r.status = s
	cb := r.callback
	r.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}

// SyncAudio uploads the audio of every pending note in a single batch.
//
// Notes without a resolvable recording are left out and stay pending. An
// empty batch returns immediately without touching the network. On success
// every note in the batch is marked synced regardless of the processed count
// reported by the server. On failure no flag changes and the error is
// returned for logging.
func (r *Reconciler) SyncAudio(ctx context.Context) (Result, error) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	r.mu.Lock()
	r.status.Running = true
	r.mu.Unlock()

	res, err := r.syncAudio(ctx)

	s := Status{LastRun: time.Now().UTC(), LastResult: res}
	if err != nil {
		s.LastError = err.Error()
	}
	r.setStatus(s)
	return res, err
}

func (r *Reconciler) syncAudio(ctx context.Context) (Result, error) {
	pending, err := r.notes.ListUnsynced()
	if err != nil {
		return Result{}, fmt.Errorf("list unsynced notes: %w", err)
	}

	res := Result{Pending: len(pending)}
	artifacts := resolveArtifacts(pending)
	res.Skipped = len(pending) - len(artifacts)

	if len(artifacts) == 0 {
		return res, nil
	}

	batch, err := r.remote.UploadBatch(ctx, artifacts)
	if err != nil {
		r.logger.Warn("batch upload failed, leaving notes pending", "notes", len(artifacts), "error", err)
		return res, fmt.Errorf("upload batch: %w", err)
	}

	ids := make([]string, len(artifacts))
	for i, a := range artifacts {
		ids[i] = a.NoteID
	}
	if _, err := r.notes.MarkSynced(ids...); err != nil {
		return res, fmt.Errorf("mark synced: %w", err)
	}

	res.Uploaded = len(ids)
	res.BatchJobID = batch.BatchJobID
	if batch.ProcessedCount != len(ids) {
		r.logger.Debug("server processed count differs from batch size",
			"batch_job_id", batch.BatchJobID, "processed", batch.ProcessedCount, "sent", len(ids))
	}
	r.logger.Info("uploaded audio batch", "batch_job_id", batch.BatchJobID, "notes", len(ids))

	if r.settings != nil {
		if err := r.settings.Touch(store.KeyLastSyncAt); err != nil {
			r.logger.Warn("record last sync", "error", err)
		}
	}
	return res, nil
}

// resolveArtifacts maps pending notes to the recordings on disk. Notes with
// no path or a missing file are dropped from the batch.
func resolveArtifacts(notes []model.Note) []api.Artifact {
	var out []api.Artifact
	for _, n := range notes {
		if n.LocalAudioPath == nil || *n.LocalAudioPath == "" {
			continue
		}
		info, err := os.Stat(*n.LocalAudioPath)
		if err != nil || info.IsDir() {
			continue
		}
		out = append(out, api.Artifact{NoteID: n.ID, Path: *n.LocalAudioPath})
	}
	return out
}

// PushTaskStatus sends each locally edited task status to the remote. Tasks
// are independent: a failure leaves that task pending and moves on.
func (r *Reconciler) PushTaskStatus(ctx context.Context) (int, error) {
	pending, err := r.tasks.ListUnsynced()
	if err != nil {
		return 0, fmt.Errorf("list unsynced tasks: %w", err)
	}

	pushed := 0
	var firstErr error
	for _, t := range pending {
		if err := r.remote.UpdateTaskStatus(ctx, t.ID, t.Status, t.Done); err != nil {
			r.logger.Warn("push task status", "task_id", t.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		ok, err := r.tasks.MarkSynced(t.ID, t.Status)
		if err != nil {
			return pushed, err
		}
		if !ok {
			r.logger.Debug("task changed during push, left pending", "task_id", t.ID)
			continue
		}
		pushed++
	}

	if firstErr != nil {
		return pushed, fmt.Errorf("push task status: %w", firstErr)
	}
	return pushed, nil
}

// FetchNote pulls one note's detail from the remote and mirrors it locally.
func (r *Reconciler) FetchNote(ctx context.Context, id string) (*model.Note, error) {
	n, err := r.remote.Note(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch note %s: %w", id, err)
	}
	if err := r.notes.Upsert(*n); err != nil {
		return nil, err
	}
	return r.notes.GetByID(id)
}

// Run is the trigger job: upload audio, then push task edits. Both halves
// always run; the first error is returned.
func (r *Reconciler) Run(ctx context.Context) error {
	_, audioErr := r.SyncAudio(ctx)
	_, taskErr := r.PushTaskStatus(ctx)
	if audioErr != nil {
		return audioErr
	}
	return taskErr
}
