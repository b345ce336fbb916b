package worker

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/clipgenie/clipforge/internal/dispatch"
	"github.com/clipgenie/clipforge/internal/domain"
)

type fakeDispatcher struct {
	triggers []dispatch.Trigger
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, t dispatch.Trigger) error {
	f.triggers = append(f.triggers, t)
	return nil
}

type fakeKeys struct{}

func (fakeKeys) KeyFromURL(url string) (string, error) {
	return strings.TrimPrefix(url, "https://bucket.example/"), nil
}

func newTestReconciler(jobs JobStore, d dispatch.Dispatcher) *Reconciler {
	return NewReconciler(jobs, d, fakeKeys{}, time.Minute, 5*time.Minute, 20*time.Minute, nil)
}

func TestSweepRequeuesStalePending(t *testing.T) {
	jobs := &fakeJobs{stale: map[domain.JobStatus][]domain.Job{
		domain.JobStatusPending: {
			{ID: "job-a", InputURL: "https://bucket.example/uploads/job-a/source.mp4"},
			{ID: "job-b", InputURL: "https://bucket.example/uploads/job-b/source.mov"},
		},
	}}
	d := &fakeDispatcher{}

	newTestReconciler(jobs, d).Sweep(context.Background())

	if len(d.triggers) != 2 {
		t.Fatalf("dispatched %d triggers, want 2", len(d.triggers))
	}
	if d.triggers[0].JobID != "job-a" || d.triggers[0].SourceKey != "uploads/job-a/source.mp4" {
		t.Fatalf("trigger[0] = %+v", d.triggers[0])
	}
	if d.triggers[1].SourceKey != "uploads/job-b/source.mov" {
		t.Fatalf("trigger[1] = %+v", d.triggers[1])
	}
	if jobs.failedID != "" {
		t.Fatal("pending jobs must be requeued, not failed")
	}
}

func TestSweepFailsStuckProcessing(t *testing.T) {
	jobs := &fakeJobs{stale: map[domain.JobStatus][]domain.Job{
		domain.JobStatusProcessing: {
			{ID: "job-c", UpdatedAt: time.Now().Add(-time.Hour)},
		},
	}}
	d := &fakeDispatcher{}

	newTestReconciler(jobs, d).Sweep(context.Background())

	if jobs.failedID != "job-c" {
		t.Fatalf("failed id = %q, want job-c", jobs.failedID)
	}
	if !strings.Contains(jobs.failedMsg, "execution deadline") {
		t.Fatalf("failure message = %q", jobs.failedMsg)
	}
	// Stuck processing jobs are never re-dispatched: the state machine is
	// monotonic and cannot return to pending.
	if len(d.triggers) != 0 {
		t.Fatalf("dispatched %d triggers, want 0", len(d.triggers))
	}
}

func TestSweepQuietWhenNothingStale(t *testing.T) {
	jobs := &fakeJobs{stale: map[domain.JobStatus][]domain.Job{}}
	d := &fakeDispatcher{}

	newTestReconciler(jobs, d).Sweep(context.Background())

	if len(d.triggers) != 0 || jobs.failedID != "" {
		t.Fatal("sweep acted on an empty store")
	}
}
