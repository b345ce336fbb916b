package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/clipgenie/clipforge/internal/dispatch"
	"github.com/clipgenie/clipforge/internal/domain"
)

// KeyMapper recovers an object store key from a stored artifact URL.
type KeyMapper interface {
	KeyFromURL(url string) (string, error)
}

// Reconciler sweeps for jobs stranded in a non-terminal state.
//
// A 'pending' job older than RequeuePendingAfter lost its trigger; the sweep
// re-dispatches it, which is safe because the worker's guarded claim makes
// duplicate triggers no-ops. A 'processing' job older than
// FailProcessingAfter outlived the execution ceiling, meaning its worker
// died mid-run; the state machine is monotonic, so the only consistent
// recovery is to fail it and let the client resubmit.
type Reconciler struct {
	jobs       JobStore
	dispatcher dispatch.Dispatcher
	keys       KeyMapper
	logger     *slog.Logger

	Interval            time.Duration
	RequeuePendingAfter time.Duration
	FailProcessingAfter time.Duration
}

// NewReconciler creates a Reconciler with the given sweep thresholds.
func NewReconciler(jobs JobStore, dispatcher dispatch.Dispatcher, keys KeyMapper, interval, requeueAfter, failAfter time.Duration, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		jobs:                jobs,
		dispatcher:          dispatcher,
		keys:                keys,
		logger:              logger,
		Interval:            interval,
		RequeuePendingAfter: requeueAfter,
		FailProcessingAfter: failAfter,
	}
}

// Run sweeps on a ticker until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep performs one reconciliation pass.
func (r *Reconciler) Sweep(ctx context.Context) {
	r.requeuePending(ctx)
	r.failStuckProcessing(ctx)
}

func (r *Reconciler) requeuePending(ctx context.Context) {
	stale, err := r.jobs.ListStale(ctx, domain.JobStatusPending, r.RequeuePendingAfter)
	if err != nil {
		r.logger.Error("reconciler: list stale pending jobs", "error", err)
		return
	}

	for _, job := range stale {
		key, err := r.keys.KeyFromURL(job.InputURL)
		if err != nil {
			r.logger.Error("reconciler: cannot derive source key", "job_id", job.ID, "error", err)
			continue
		}
		if err := r.dispatcher.Dispatch(ctx, dispatch.Trigger{JobID: job.ID, SourceKey: key}); err != nil {
			r.logger.Error("reconciler: re-dispatch failed", "job_id", job.ID, "error", err)
			continue
		}
		r.logger.Warn("reconciler: re-dispatched stale pending job", "job_id", job.ID, "age", time.Since(job.UpdatedAt).Round(time.Second))
	}
}

func (r *Reconciler) failStuckProcessing(ctx context.Context) {
	stale, err := r.jobs.ListStale(ctx, domain.JobStatusProcessing, r.FailProcessingAfter)
	if err != nil {
		r.logger.Error("reconciler: list stale processing jobs", "error", err)
		return
	}

	for _, job := range stale {
		msg := "worker exceeded execution deadline; resubmit the source video"
		if err := r.jobs.TransitionFailed(ctx, job.ID, msg); err != nil {
			r.logger.Error("reconciler: fail stuck job", "job_id", job.ID, "error", err)
			continue
		}
		r.logger.Warn("reconciler: failed stuck processing job", "job_id", job.ID, "age", time.Since(job.UpdatedAt).Round(time.Second))
	}
}
