package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/clipgenie/clipforge/internal/domain"
	"github.com/clipgenie/clipforge/internal/segment"
)

// fakeJobs implements JobStore in memory.
type fakeJobs struct {
	claimResult bool
	claimErr    error
	claimedID   string

	doneID    string
	doneClips []string
	doneErr   error

	failedID  string
	failedMsg string

	stale map[domain.JobStatus][]domain.Job
}

func (f *fakeJobs) TransitionProcessing(ctx context.Context, id string) (bool, error) {
	f.claimedID = id
	return f.claimResult, f.claimErr
}

func (f *fakeJobs) TransitionDone(ctx context.Context, id string, clipURLs []string) error {
	if f.doneErr != nil {
		return f.doneErr
	}
	f.doneID = id
	f.doneClips = clipURLs
	return nil
}

func (f *fakeJobs) TransitionFailed(ctx context.Context, id, message string) error {
	f.failedID = id
	f.failedMsg = message
	return nil
}

func (f *fakeJobs) ListStale(ctx context.Context, status domain.JobStatus, olderThan time.Duration) ([]domain.Job, error) {
	return f.stale[status], nil
}

// fakeObjects implements ObjectStore against the local filesystem.
type fakeObjects struct {
	sourceContent string
	downloadErr   error
	downloadedKey string

	uploadErrAt int // fail the Nth upload (1-based); 0 disables
	uploadKeys  []string
}

func (f *fakeObjects) Download(ctx context.Context, key, localPath string) error {
	if f.downloadErr != nil {
		return f.downloadErr
	}
	f.downloadedKey = key
	return os.WriteFile(localPath, []byte(f.sourceContent), 0o644)
}

func (f *fakeObjects) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	if f.uploadErrAt > 0 && len(f.uploadKeys)+1 == f.uploadErrAt {
		return "", errors.New("bucket unavailable")
	}
	if _, err := io.ReadAll(body); err != nil {
		return "", err
	}
	f.uploadKeys = append(f.uploadKeys, key)
	return "https://bucket.example/" + key, nil
}

// fakeSegmenter writes clip files and records the request.
type fakeSegmenter struct {
	clips   int
	err     error
	lastReq segment.Request
}

func (f *fakeSegmenter) Split(ctx context.Context, req segment.Request) ([]string, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	paths := make([]string, 0, f.clips)
	for i := 0; i < f.clips; i++ {
		p := filepath.Join(req.OutputDir, fmt.Sprintf("clip_%03d.mp4", i))
		if err := os.WriteFile(p, []byte(fmt.Sprintf("clip %d", i)), 0o644); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func TestProcessSuccess(t *testing.T) {
	jobs := &fakeJobs{claimResult: true}
	objects := &fakeObjects{sourceContent: "source video"}
	seg := &fakeSegmenter{clips: 4}

	w := New(jobs, objects, seg, 60, nil)
	if err := w.Process(context.Background(), "job-1", "uploads/job-1/source.mp4"); err != nil {
		t.Fatalf("process: %v", err)
	}

	if jobs.claimedID != "job-1" {
		t.Fatalf("claimed id = %q", jobs.claimedID)
	}
	if objects.downloadedKey != "uploads/job-1/source.mp4" {
		t.Fatalf("downloaded key = %q", objects.downloadedKey)
	}
	if seg.lastReq.SegmentSeconds != 60 {
		t.Fatalf("segment seconds = %d, want 60", seg.lastReq.SegmentSeconds)
	}

	wantKeys := []string{
		"clips/job-1/clip_000.mp4",
		"clips/job-1/clip_001.mp4",
		"clips/job-1/clip_002.mp4",
		"clips/job-1/clip_003.mp4",
	}
	if len(objects.uploadKeys) != len(wantKeys) {
		t.Fatalf("uploaded %d clips, want %d", len(objects.uploadKeys), len(wantKeys))
	}
	for i, k := range wantKeys {
		if objects.uploadKeys[i] != k {
			t.Fatalf("upload key[%d] = %q, want %q", i, objects.uploadKeys[i], k)
		}
	}

	if jobs.doneID != "job-1" {
		t.Fatalf("done id = %q", jobs.doneID)
	}
	for i, k := range wantKeys {
		if jobs.doneClips[i] != "https://bucket.example/"+k {
			t.Fatalf("clip url[%d] = %q", i, jobs.doneClips[i])
		}
	}
	if jobs.failedID != "" {
		t.Fatalf("unexpected failure recorded: %q", jobs.failedMsg)
	}

	if !strings.Contains(seg.lastReq.InputPath, "source.mp4") {
		t.Fatalf("input path = %q", seg.lastReq.InputPath)
	}
	// The working area must be gone on success.
	if _, err := os.Stat(filepath.Dir(seg.lastReq.OutputDir)); !os.IsNotExist(err) {
		t.Fatalf("workspace %s still exists", filepath.Dir(seg.lastReq.OutputDir))
	}
}

func TestProcessSkipsWhenNotPending(t *testing.T) {
	jobs := &fakeJobs{claimResult: false}
	objects := &fakeObjects{sourceContent: "source"}
	seg := &fakeSegmenter{clips: 1}

	w := New(jobs, objects, seg, 60, nil)
	if err := w.Process(context.Background(), "job-2", "uploads/job-2/source.mp4"); err != nil {
		t.Fatalf("process: %v", err)
	}

	// Duplicate triggers must have no observable effect.
	if objects.downloadedKey != "" || len(objects.uploadKeys) != 0 {
		t.Fatal("worker touched storage for an unclaimed job")
	}
	if jobs.doneID != "" || jobs.failedID != "" {
		t.Fatal("worker transitioned an unclaimed job")
	}
}

func TestProcessClaimErrorIsRedeliverable(t *testing.T) {
	jobs := &fakeJobs{claimErr: errors.New("connection refused")}
	w := New(jobs, &fakeObjects{}, &fakeSegmenter{}, 60, nil)

	if err := w.Process(context.Background(), "job-3", "k"); err == nil {
		t.Fatal("expected error when claim cannot be recorded")
	}
}

func TestProcessDownloadFailure(t *testing.T) {
	jobs := &fakeJobs{claimResult: true}
	objects := &fakeObjects{downloadErr: errors.New("no such key")}
	seg := &fakeSegmenter{clips: 1}

	w := New(jobs, objects, seg, 60, nil)
	if err := w.Process(context.Background(), "job-4", "uploads/job-4/source.mp4"); err != nil {
		t.Fatalf("process: %v", err)
	}

	if jobs.failedID != "job-4" {
		t.Fatal("expected job to fail")
	}
	if !strings.HasPrefix(jobs.failedMsg, "download source:") {
		t.Fatalf("failure message = %q, want download stage prefix", jobs.failedMsg)
	}
	if len(objects.uploadKeys) != 0 || jobs.doneID != "" {
		t.Fatal("failed job must not upload clips or complete")
	}
}

func TestProcessToolFailure(t *testing.T) {
	jobs := &fakeJobs{claimResult: true}
	objects := &fakeObjects{sourceContent: "source"}
	seg := &fakeSegmenter{err: &segment.ToolError{Kind: segment.FailureExit, ExitCode: 1, Stderr: "invalid data"}}

	w := New(jobs, objects, seg, 60, nil)
	if err := w.Process(context.Background(), "job-5", "uploads/job-5/source.mp4"); err != nil {
		t.Fatalf("process: %v", err)
	}

	if jobs.failedID != "job-5" {
		t.Fatal("expected job to fail")
	}
	if !strings.HasPrefix(jobs.failedMsg, "segment source:") || !strings.Contains(jobs.failedMsg, "exited with code 1") {
		t.Fatalf("failure message = %q", jobs.failedMsg)
	}
	if len(objects.uploadKeys) != 0 {
		t.Fatal("no clips may be uploaded after a tool failure")
	}
}

func TestProcessUploadFailure(t *testing.T) {
	jobs := &fakeJobs{claimResult: true}
	objects := &fakeObjects{sourceContent: "source", uploadErrAt: 2}
	seg := &fakeSegmenter{clips: 3}

	w := New(jobs, objects, seg, 60, nil)
	if err := w.Process(context.Background(), "job-6", "uploads/job-6/source.mp4"); err != nil {
		t.Fatalf("process: %v", err)
	}

	if jobs.failedID != "job-6" {
		t.Fatal("expected job to fail")
	}
	if !strings.HasPrefix(jobs.failedMsg, "upload clip 1:") {
		t.Fatalf("failure message = %q, want upload stage with clip index", jobs.failedMsg)
	}
	if jobs.doneID != "" {
		t.Fatal("job completed despite upload failure")
	}
}

func TestProcessRecordDoneError(t *testing.T) {
	jobs := &fakeJobs{claimResult: true, doneErr: errors.New("connection reset")}
	objects := &fakeObjects{sourceContent: "source"}
	seg := &fakeSegmenter{clips: 1}

	w := New(jobs, objects, seg, 60, nil)
	if err := w.Process(context.Background(), "job-7", "uploads/job-7/source.mp4"); err == nil {
		t.Fatal("expected error when outcome cannot be recorded")
	}
}

// Keys derive the extension from the produced clips, not the source.
func TestProcessSourceExtensionDefault(t *testing.T) {
	jobs := &fakeJobs{claimResult: true}
	objects := &fakeObjects{sourceContent: "source"}
	seg := &fakeSegmenter{clips: 1}

	w := New(jobs, objects, seg, 60, nil)
	if err := w.Process(context.Background(), "job-8", "uploads/job-8/source"); err != nil {
		t.Fatalf("process: %v", err)
	}
	if !strings.HasSuffix(seg.lastReq.InputPath, "source.mp4") {
		t.Fatalf("input path = %q, want .mp4 default", seg.lastReq.InputPath)
	}
}
