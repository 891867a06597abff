// Package worker runs background jobs on a fixed interval.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

// Job is one unit of background work. A returned error means the work should
// be tried again later.
type Job func(ctx context.Context) error

// Config controls the trigger's schedule and in-tick retries.
type Config struct {
	Interval    time.Duration
	MaxRetries  uint64
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// Trigger invokes a job every Interval and whenever Kick is called. A failed
// run is retried inside the same tick with exponential backoff; when the
// retries are exhausted the next tick starts over.
type Trigger struct {
	mu     sync.RWMutex
	name   string
	job    Job
	cfg    Config
	logger *slog.Logger
	kick   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

func NewTrigger(name string, job Job, cfg Config, logger *slog.Logger) *Trigger {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 2 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = time.Minute
	}
	return &Trigger{
		name:   name,
		job:    job,
		cfg:    cfg,
		logger: logger,
		kick:   make(chan struct{}, 1),
	}
}

// Start begins the trigger loop. The job runs once immediately.
func (t *Trigger) Start(ctx context.Context) {
	t.mu.Lock()
	ctx, t.cancel = context.WithCancel(ctx)
	t.done = make(chan struct{})
	t.mu.Unlock()

	go func() {
		defer close(t.done)
		ticker := time.NewTicker(t.cfg.Interval)
		defer ticker.Stop()

		t.RunOnce(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.RunOnce(ctx)
			case <-t.kick:
				t.RunOnce(ctx)
			}
		}
	}()
}

// Stop gracefully stops the trigger and waits for an in-flight run.
func (t *Trigger) Stop() {
	t.mu.RLock()
	cancel := t.cancel
	done := t.done
	t.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Kick asks for a run as soon as the loop is free. Kicks that arrive while
// one is already queued are coalesced.
func (t *Trigger) Kick() {
	select {
	case t.kick <- struct{}{}:
	default:
	}
}

// RunOnce runs the job with retries and reports whether it eventually succeeded.
func (t *Trigger) RunOnce(ctx context.Context) bool {
	b := retry.NewExponential(t.cfg.BaseBackoff)
	b = retry.WithCappedDuration(t.cfg.MaxBackoff, b)
	b = retry.WithMaxRetries(t.cfg.MaxRetries, b)

	attempt := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		if err := t.job(ctx); err != nil {
			t.logger.Warn("job failed", "job", t.name, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		if ctx.Err() == nil {
			t.logger.Error("job gave up until next tick", "job", t.name, "attempts", attempt, "error", err)
		}
		return false
	}
	return true
}
