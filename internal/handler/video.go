package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clipgenie/clipforge/internal/dispatch"
	"github.com/clipgenie/clipforge/internal/domain"
)

// JobStore is the slice of the job repository the handlers need. Handlers
// never mutate a job after creation; transitions belong to the worker.
type JobStore interface {
	Create(ctx context.Context, id, inputURL string) (*domain.Job, error)
	Get(ctx context.Context, id string) (*domain.Job, error)
}

// ObjectStore is the slice of the object store client the handlers need.
type ObjectStore interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	KeyFromURL(url string) (string, error)
}

// VideoHandler handles video intake, status polling, the internal worker
// trigger, and clip downloads.
type VideoHandler struct {
	jobs      JobStore
	store     ObjectStore
	validator *AppValidator

	// dispatcher fans out intake triggers and may point at a remote worker;
	// workerQueue always feeds the local pool, so the trigger endpoint can
	// never bounce a delivery back to itself.
	dispatcher  dispatch.Dispatcher
	workerQueue dispatch.Dispatcher

	maxUploadBytes int64
	presignTTL     time.Duration
}

// NewVideoHandler creates a new VideoHandler.
func NewVideoHandler(jobs JobStore, store ObjectStore, dispatcher, workerQueue dispatch.Dispatcher, maxUploadBytes int64) *VideoHandler {
	return &VideoHandler{
		jobs:           jobs,
		store:          store,
		validator:      NewAppValidator(),
		dispatcher:     dispatcher,
		workerQueue:    workerQueue,
		maxUploadBytes: maxUploadBytes,
		presignTTL:     time.Hour,
	}
}

// Upload accepts a multipart video upload, stores the source, creates the
// job record, and fires the worker trigger. The client gets the job id
// immediately; segmentation progress is observed by polling Status.
func (h *VideoHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	mr, err := r.MultipartReader()
	if err != nil {
		WriteError(w, fmt.Errorf("%w: multipart body with the video is required", domain.ErrInvalidInput))
		return
	}
	// The video rides in the first file part, whatever its field name.
	file, err := firstFilePart(mr)
	if err != nil {
		WriteError(w, err)
		return
	}
	defer file.Close()

	ext := filepath.Ext(file.FileName())
	if ext == "" {
		ext = ".mp4"
	}
	contentType := file.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "video/mp4"
	}

	jobID := uuid.New().String()
	sourceKey := fmt.Sprintf("uploads/%s/source%s", jobID, ext)

	// Store the source before creating the job row: a storage failure here
	// surfaces as a 5xx and must not leave an orphaned pending job behind.
	inputURL, err := h.store.Upload(r.Context(), sourceKey, file, contentType)
	if err != nil {
		WriteError(w, fmt.Errorf("store source video: %w", err))
		return
	}

	job, err := h.jobs.Create(r.Context(), jobID, inputURL)
	if err != nil {
		WriteError(w, fmt.Errorf("create job: %w", err))
		return
	}

	// The job row exists and is pollable, so a trigger failure is logged
	// rather than failing the response; the reconciler re-drives it.
	if err := h.dispatcher.Dispatch(r.Context(), dispatch.Trigger{JobID: jobID, SourceKey: sourceKey}); err != nil {
		slog.Error("failed to dispatch worker trigger",
			"job_id", jobID,
			"error", err,
			"request_id", GetRequestID(r.Context()),
		)
	}

	WriteJSON(w, http.StatusAccepted, map[string]any{
		"jobId":  job.ID,
		"status": job.Status,
	})
}

// firstFilePart returns the first part of the body that carries a filename,
// skipping plain form fields.
func firstFilePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: a multipart file part with the video is required", domain.ErrInvalidInput)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read multipart body: %v", domain.ErrInvalidInput, err)
		}
		if part.FileName() != "" {
			return part, nil
		}
		part.Close()
	}
}

// Status returns the current job snapshot for polling clients. No side effects.
func (h *VideoHandler) Status(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Get(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		WriteError(w, err)
		return
	}
	if job.ClipURLs == nil {
		job.ClipURLs = domain.ClipURLs{}
	}
	WriteJSON(w, http.StatusOK, job)
}

// ProcessTrigger is the worker invocation endpoint used in http dispatch
// mode. It enqueues and returns immediately; callers never interpret the body.
func (h *VideoHandler) ProcessTrigger(w http.ResponseWriter, r *http.Request) {
	var t dispatch.Trigger
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		WriteError(w, fmt.Errorf("%w: invalid JSON body", domain.ErrInvalidInput))
		return
	}
	if err := h.validator.Validate(t); err != nil {
		WriteError(w, err)
		return
	}

	if err := h.workerQueue.Dispatch(r.Context(), t); err != nil {
		WriteError(w, fmt.Errorf("dispatch trigger: %w", err))
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]string{"jobId": t.JobID, "status": "accepted"})
}

// DownloadClip redirects to a presigned URL for one clip of a done job.
func (h *VideoHandler) DownloadClip(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Get(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		WriteError(w, err)
		return
	}
	if job.Status != domain.JobStatusDone {
		WriteError(w, fmt.Errorf("%w: job is %s; clips are available once the job is done", domain.ErrConflict, job.Status))
		return
	}

	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		WriteError(w, fmt.Errorf("%w: clip index must be an integer", domain.ErrInvalidInput))
		return
	}
	if index < 0 || index >= len(job.ClipURLs) {
		WriteError(w, domain.ErrNotFound)
		return
	}

	key, err := h.store.KeyFromURL(job.ClipURLs[index])
	if err != nil {
		WriteError(w, fmt.Errorf("resolve clip key: %w", err))
		return
	}
	signed, err := h.store.PresignGet(r.Context(), key, h.presignTTL)
	if err != nil {
		WriteError(w, fmt.Errorf("presign clip: %w", err))
		return
	}
	http.Redirect(w, r, signed, http.StatusFound)
}
