package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"prevdraft-backend/models"

	"github.com/google/uuid"
)

const (
	defaultPollInterval = 3 * time.Second
	defaultPollTimeout  = 180 * time.Second
)

// ErrWaitTimeout indicates the overall polling window elapsed before the
// run reached a terminal state. Distinct from provider errors: the run may
// still be progressing in the background.
var ErrWaitTimeout = errors.New("timed out waiting for pipeline run")

// RunWatcher polls a background pipeline run until it terminates. It
// replaces ad hoc UI timer polling with a cancellable task carrying a
// bounded max wait.
type RunWatcher struct {
	runs     PipelineRunStore
	interval time.Duration
	timeout  time.Duration
}

// RunWatcherOption is a functional option for RunWatcher
type RunWatcherOption func(*RunWatcher)

// WatcherWithInterval sets the poll interval
func WatcherWithInterval(interval time.Duration) RunWatcherOption {
	return func(w *RunWatcher) {
		w.interval = interval
	}
}

// WatcherWithTimeout sets the overall wait window
func WatcherWithTimeout(timeout time.Duration) RunWatcherOption {
	return func(w *RunWatcher) {
		w.timeout = timeout
	}
}

// NewRunWatcher creates a run watcher
func NewRunWatcher(runs PipelineRunStore, opts ...RunWatcherOption) *RunWatcher {
	w := &RunWatcher{
		runs:     runs,
		interval: defaultPollInterval,
		timeout:  defaultPollTimeout,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Wait blocks until the run completes or fails, the caller cancels the
// context, or the overall window elapses (ErrWaitTimeout).
func (w *RunWatcher) Wait(ctx context.Context, runID uuid.UUID) (*models.PipelineRun, error) {
	deadline := time.NewTimer(w.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		run, err := w.runs.GetByID(ctx, runID)
		if err != nil {
			return nil, fmt.Errorf("failed to poll run: %w", err)
		}
		if run.Status == models.RunCompleted || run.Status == models.RunFailed {
			return run, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, ErrWaitTimeout
		case <-ticker.C:
		}
	}
}
