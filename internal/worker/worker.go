// Package worker drives a segmentation job from 'processing' to a terminal
// state: download the source, cut it into clips, upload the clips, record
// the outcome.
package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/clipgenie/clipforge/internal/domain"
	"github.com/clipgenie/clipforge/internal/segment"
)

// JobStore is the slice of the job repository the worker needs.
type JobStore interface {
	TransitionProcessing(ctx context.Context, id string) (bool, error)
	TransitionDone(ctx context.Context, id string, clipURLs []string) error
	TransitionFailed(ctx context.Context, id, message string) error
	ListStale(ctx context.Context, status domain.JobStatus, olderThan time.Duration) ([]domain.Job, error)
}

// ObjectStore is the slice of the object store client the worker needs.
type ObjectStore interface {
	Download(ctx context.Context, key, localPath string) error
	Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
}

// Segmenter cuts a local video file into ordered clips.
type Segmenter interface {
	Split(ctx context.Context, req segment.Request) ([]string, error)
}

// Worker processes segmentation jobs sequentially: one download, one tool
// run, one upload per clip. Sequential steps bound peak local disk and
// memory usage per invocation.
type Worker struct {
	jobs        JobStore
	store       ObjectStore
	segmenter   Segmenter
	clipSeconds int
	logger      *slog.Logger
}

// New creates a Worker. clipSeconds is the target duration of each clip; the
// final clip may be shorter.
func New(jobs JobStore, store ObjectStore, segmenter Segmenter, clipSeconds int, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		jobs:        jobs,
		store:       store,
		segmenter:   segmenter,
		clipSeconds: clipSeconds,
		logger:      logger,
	}
}

// Process drives one job to a terminal state.
//
// It returns a non-nil error only when no outcome could be recorded (the
// claim failed, or a terminal transition could not be written). A job that
// reached 'failed' is terminal; Process reports nil for it so dispatchers
// never redeliver a recorded failure.
func (w *Worker) Process(ctx context.Context, jobID, sourceKey string) error {
	claimed, err := w.jobs.TransitionProcessing(ctx, jobID)
	if err != nil {
		return fmt.Errorf("claim job %s: %w", jobID, err)
	}
	if !claimed {
		// Duplicate trigger: the job is already processing or terminal.
		w.logger.Info("skipping job not in pending state", "job_id", jobID)
		return nil
	}

	workDir, err := os.MkdirTemp("", "clipforge-"+jobID+"-*")
	if err != nil {
		return w.fail(ctx, jobID, fmt.Sprintf("create workspace: %v", err))
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			w.logger.Warn("failed to remove workspace", "job_id", jobID, "dir", workDir, "error", err)
		}
	}()

	ext := filepath.Ext(sourceKey)
	if ext == "" {
		ext = ".mp4"
	}
	sourcePath := filepath.Join(workDir, "source"+ext)
	if err := w.store.Download(ctx, sourceKey, sourcePath); err != nil {
		return w.fail(ctx, jobID, fmt.Sprintf("download source: %v", err))
	}

	clipsDir := filepath.Join(workDir, "clips")
	if err := os.Mkdir(clipsDir, 0o755); err != nil {
		return w.fail(ctx, jobID, fmt.Sprintf("create clips dir: %v", err))
	}

	w.logger.Info("segmenting source", "job_id", jobID, "clip_seconds", w.clipSeconds)
	clipPaths, err := w.segmenter.Split(ctx, segment.Request{
		InputPath:      sourcePath,
		OutputDir:      clipsDir,
		SegmentSeconds: w.clipSeconds,
	})
	if err != nil {
		return w.fail(ctx, jobID, fmt.Sprintf("segment source: %v", err))
	}

	// clipPaths is filename-sorted, which by construction is temporal order.
	clipURLs := make([]string, 0, len(clipPaths))
	for i, clipPath := range clipPaths {
		url, err := w.uploadClip(ctx, jobID, i, clipPath)
		if err != nil {
			return w.fail(ctx, jobID, fmt.Sprintf("upload clip %d: %v", i, err))
		}
		clipURLs = append(clipURLs, url)
	}

	if err := w.jobs.TransitionDone(ctx, jobID, clipURLs); err != nil {
		return fmt.Errorf("record done for job %s: %w", jobID, err)
	}
	w.logger.Info("job done", "job_id", jobID, "clips", len(clipURLs))
	return nil
}

func (w *Worker) uploadClip(ctx context.Context, jobID string, index int, clipPath string) (string, error) {
	f, err := os.Open(clipPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	key := fmt.Sprintf("clips/%s/clip_%03d%s", jobID, index, filepath.Ext(clipPath))
	return w.store.Upload(ctx, key, f, "video/mp4")
}

// fail records a terminal failure. The message is the only detail a polling
// client will ever see, so it names the failing stage.
func (w *Worker) fail(ctx context.Context, jobID, message string) error {
	w.logger.Error("job failed", "job_id", jobID, "reason", message)
	if err := w.jobs.TransitionFailed(ctx, jobID, message); err != nil {
		return fmt.Errorf("record failure for job %s: %w", jobID, err)
	}
	return nil
}
