// Package dispatch delivers worker triggers. The intake handler never waits
// on a trigger; both implementations decouple the caller from processing.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Trigger identifies one unit of work for the background worker.
type Trigger struct {
	JobID     string `json:"jobId" validate:"required"`
	SourceKey string `json:"sourceKey" validate:"required"`
}

// Dispatcher hands a trigger to the background worker without waiting for
// the work to complete.
type Dispatcher interface {
	Dispatch(ctx context.Context, t Trigger) error
}

// Processor consumes triggers. Implementations return a non-nil error only
// when the trigger should be redelivered.
type Processor interface {
	Process(ctx context.Context, jobID, sourceKey string) error
}

// Queue is an in-process dispatcher: a bounded channel drained by a fixed
// pool of worker goroutines. Deliveries whose outcome could not be recorded
// are redelivered up to maxAttempts; after that the trigger is dead-lettered
// to the log so an operator can re-drive the job.
type Queue struct {
	ch          chan delivery
	proc        Processor
	workers     int
	maxAttempts int
	logger      *slog.Logger
	wg          sync.WaitGroup
}

type delivery struct {
	trigger Trigger
	attempt int
}

// NewQueue creates a queue with the given buffer size and worker count.
func NewQueue(proc Processor, size, workers, maxAttempts int, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	if workers < 1 {
		workers = 1
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Queue{
		ch:          make(chan delivery, size),
		proc:        proc,
		workers:     workers,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.run(ctx)
	}
}

// Wait blocks until all workers have exited.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// Dispatch enqueues a trigger. It never blocks on processing; a full buffer
// is an error so the caller can log it (the reconciler will re-drive the job).
func (q *Queue) Dispatch(ctx context.Context, t Trigger) error {
	select {
	case q.ch <- delivery{trigger: t, attempt: 1}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("dispatch queue full (job %s)", t.JobID)
	}
}

func (q *Queue) run(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-q.ch:
			q.deliver(ctx, d)
		}
	}
}

func (q *Queue) deliver(ctx context.Context, d delivery) {
	err := q.proc.Process(ctx, d.trigger.JobID, d.trigger.SourceKey)
	if err == nil {
		return
	}

	if d.attempt >= q.maxAttempts {
		q.logger.Error("trigger dead-lettered",
			"job_id", d.trigger.JobID,
			"source_key", d.trigger.SourceKey,
			"attempts", d.attempt,
			"error", err,
		)
		return
	}

	q.logger.Warn("trigger redelivery", "job_id", d.trigger.JobID, "attempt", d.attempt, "error", err)
	select {
	case q.ch <- delivery{trigger: d.trigger, attempt: d.attempt + 1}:
	default:
		q.logger.Error("trigger dead-lettered: queue full on redelivery", "job_id", d.trigger.JobID)
	}
}

// HTTP posts triggers to a worker invocation endpoint, fire-and-forget. The
// response body is never interpreted; failures are logged only, because the
// job row already exists and stays pollable.
type HTTP struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewHTTP creates an HTTP dispatcher targeting url.
func NewHTTP(url string, logger *slog.Logger) *HTTP {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTP{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

// Dispatch posts the trigger in a goroutine and returns immediately.
func (h *HTTP) Dispatch(ctx context.Context, t Trigger) error {
	body, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode trigger: %w", err)
	}

	go func() {
		req, err := http.NewRequest(http.MethodPost, h.url, bytes.NewReader(body))
		if err != nil {
			h.logger.Error("build trigger request", "job_id", t.JobID, "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := h.client.Do(req)
		if err != nil {
			h.logger.Error("trigger delivery failed", "job_id", t.JobID, "error", err)
			return
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			h.logger.Error("trigger endpoint returned error", "job_id", t.JobID, "status", resp.StatusCode)
		}
	}()
	return nil
}
