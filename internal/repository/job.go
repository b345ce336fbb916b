package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/clipgenie/clipforge/internal/domain"
)

// JobRepository handles segmentation job data access operations.
//
// Every transition is a single UPDATE guarded by the expected current status,
// so re-applying a transition is a no-op rather than a corruption. The
// returned "claimed" flag of TransitionProcessing is how the worker detects
// duplicate triggers.
type JobRepository struct {
	db *sqlx.DB
}

// NewJobRepository creates a new JobRepository.
func NewJobRepository(db *sqlx.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a new job with status 'pending' and returns the row.
func (r *JobRepository) Create(ctx context.Context, id, inputURL string) (*domain.Job, error) {
	var job domain.Job
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO video_jobs (id, status, input_url)
		 VALUES ($1, 'pending', $2)
		 RETURNING id, status, input_url, clip_urls, error, created_at, updated_at`,
		id, inputURL,
	).StructScan(&job)
	if err != nil {
		return nil, fmt.Errorf("create job %s: %w", id, err)
	}
	return &job, nil
}

// Get retrieves a job by its ID.
func (r *JobRepository) Get(ctx context.Context, id string) (*domain.Job, error) {
	var job domain.Job
	err := r.db.GetContext(ctx, &job,
		`SELECT id, status, input_url, clip_urls, error, created_at, updated_at
		 FROM video_jobs WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return &job, nil
}

// TransitionProcessing claims a pending job for the worker. It returns false
// when the job is not currently 'pending', which callers must treat as
// "someone else already drove this job".
func (r *JobRepository) TransitionProcessing(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE video_jobs
		 SET status = 'processing', updated_at = NOW()
		 WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return false, fmt.Errorf("transition job %s to processing: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition job %s to processing: %w", id, err)
	}
	return n == 1, nil
}

// TransitionDone marks a processing job as done and stores the ordered clip URLs.
func (r *JobRepository) TransitionDone(ctx context.Context, id string, clipURLs []string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE video_jobs
		 SET status = 'done', clip_urls = $2, updated_at = NOW()
		 WHERE id = $1 AND status = 'processing'`,
		id, domain.ClipURLs(clipURLs))
	if err != nil {
		return fmt.Errorf("transition job %s to done: %w", id, err)
	}
	return nil
}

// TransitionFailed marks a processing job as failed and records the error message.
func (r *JobRepository) TransitionFailed(ctx context.Context, id, message string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE video_jobs
		 SET status = 'failed', error = $2, updated_at = NOW()
		 WHERE id = $1 AND status = 'processing'`,
		id, message)
	if err != nil {
		return fmt.Errorf("transition job %s to failed: %w", id, err)
	}
	return nil
}

// ListStale returns jobs that have been sitting in the given status for longer
// than olderThan, oldest first. Used by the reconciler sweep.
func (r *JobRepository) ListStale(ctx context.Context, status domain.JobStatus, olderThan time.Duration) ([]domain.Job, error) {
	jobs := []domain.Job{}
	err := r.db.SelectContext(ctx, &jobs,
		`SELECT id, status, input_url, clip_urls, error, created_at, updated_at
		 FROM video_jobs
		 WHERE status = $1 AND updated_at < NOW() - $2::interval
		 ORDER BY updated_at ASC`,
		status, fmt.Sprintf("%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return nil, fmt.Errorf("list stale %s jobs: %w", status, err)
	}
	return jobs, nil
}
