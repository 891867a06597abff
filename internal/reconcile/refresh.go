package reconcile

import (
	"context"
	"fmt"

	"github.com/dukerupert/voxnote/internal/model"
	"github.com/dukerupert/voxnote/internal/store"
	"golang.org/x/sync/errgroup"
)

// Snapshot is what a refresh brought back from the remote.
type Snapshot struct {
	Dashboard  *model.Dashboard  `json:"dashboard"`
	TaskCenter *model.TaskCenter `json:"task_center"`
}

// Refresh fetches the dashboard and the task center concurrently and mirrors
// both into the local cache. Nothing is written unless both fetches succeed.
func (r *Reconciler) Refresh(ctx context.Context) (*Snapshot, error) {
	var snap Snapshot

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d, err := r.remote.Dashboard(gctx)
		if err != nil {
			return fmt.Errorf("fetch dashboard: %w", err)
		}
		snap.Dashboard = d
		return nil
	})
	g.Go(func() error {
		tc, err := r.remote.TaskCenter(gctx)
		if err != nil {
			return fmt.Errorf("fetch task center: %w", err)
		}
		snap.TaskCenter = tc
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, n := range snap.Dashboard.Notes {
		if err := r.notes.Upsert(n); err != nil {
			return nil, err
		}
	}
	for _, t := range snap.TaskCenter.Tasks {
		if err := r.tasks.Upsert(t); err != nil {
			return nil, err
		}
	}

	if r.settings != nil {
		if err := r.settings.Touch(store.KeyLastRefreshAt); err != nil {
			r.logger.Warn("record last refresh", "error", err)
		}
	}
	r.logger.Info("refreshed from remote", "notes", len(snap.Dashboard.Notes), "tasks", len(snap.TaskCenter.Tasks))
	return &snap, nil
}
