package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"bananastudio/internal/job"
	"bananastudio/internal/middleware"
	"bananastudio/internal/nanobanana"
)

const (
	defaultAspectRatio = "1:1"
	defaultImageSize   = "1024x1024"
)

type createJobsRequest struct {
	Prompt      string `json:"prompt" validate:"required"`
	Model       string `json:"model"`
	AspectRatio string `json:"aspect_ratio"`
	ImageSize   string `json:"image_size"`
	BatchCount  int    `json:"batch_count" validate:"omitempty,min=1"`
	AutoRetry   bool   `json:"auto_retry"`
}

type createJobsResponse struct {
	Jobs []job.Snapshot `json:"jobs"`
}

// CreateJobs submits a batch of independent generation jobs. The reference
// image selection is resolved once, here; retries within each chain reuse the
// resolved request. Missing credentials or prompt reject the request before
// any lifecycle exists.
func (a *App) CreateJobs(w http.ResponseWriter, r *http.Request) {
	if !a.Client.HasKey() {
		a.error(w, http.StatusBadRequest, "missing_api_key", "NANO_API_KEY is not configured")
		return
	}
	var req createJobsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if err := a.validate.Struct(req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.BatchCount == 0 {
		req.BatchCount = 1
	}
	if req.BatchCount > a.Config.MaxBatchSize {
		a.error(w, http.StatusBadRequest, "batch_too_large",
			fmt.Sprintf("batch_count exceeds the maximum of %d", a.Config.MaxBatchSize))
		return
	}
	if req.Model == "" {
		req.Model = a.Config.DefaultModel
	}
	if req.AspectRatio == "" {
		req.AspectRatio = defaultAspectRatio
	}
	if req.ImageSize == "" {
		req.ImageSize = defaultImageSize
	}

	genReq := nanobanana.Request{
		Model:       req.Model,
		Prompt:      req.Prompt,
		AspectRatio: req.AspectRatio,
		ImageSize:   req.ImageSize,
		URLs:        a.Store.ResolveSelection(),
	}
	opts := job.Options{
		Locale:    middleware.LocaleFromContext(r.Context()),
		AutoRetry: req.AutoRetry,
	}
	lifecycles := a.Registry.CreateBatch(genReq, req.BatchCount, opts)

	resp := createJobsResponse{Jobs: make([]job.Snapshot, 0, len(lifecycles))}
	for _, l := range lifecycles {
		resp.Jobs = append(resp.Jobs, l.Snapshot())
	}
	a.json(w, http.StatusAccepted, resp)
}

// ListJobs returns every live job, newest first.
func (a *App) ListJobs(w http.ResponseWriter, r *http.Request) {
	lifecycles := a.Registry.List()
	out := make([]job.Snapshot, 0, len(lifecycles))
	for _, l := range lifecycles {
		out = append(out, l.Snapshot())
	}
	a.json(w, http.StatusOK, map[string]any{"jobs": out})
}

func (a *App) lookupJob(w http.ResponseWriter, r *http.Request) (*job.Lifecycle, bool) {
	id := chi.URLParam(r, "id")
	l, ok := a.Registry.Get(id)
	if !ok {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return nil, false
	}
	return l, true
}

// GetJob returns the current snapshot of one job.
func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	l, ok := a.lookupJob(w, r)
	if !ok {
		return
	}
	a.json(w, http.StatusOK, l.Snapshot())
}

// JobEvents streams snapshots of one job as server-sent events until the
// client disconnects or the job is disposed.
func (a *App) JobEvents(w http.ResponseWriter, r *http.Request) {
	l, ok := a.lookupJob(w, r)
	if !ok {
		return
	}
	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		a.error(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	sub, cancel := l.Subscribe()
	defer cancel()
	for {
		select {
		case snap, open := <-sub:
			if !open {
				return
			}
			payload, err := json.Marshal(snap)
			if err != nil {
				a.Logger.Error().Err(err).Msg("handlers: encode job snapshot")
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// RetryJob forces an immediate retry, skipping any pending countdown.
func (a *App) RetryJob(w http.ResponseWriter, r *http.Request) {
	l, ok := a.lookupJob(w, r)
	if !ok {
		return
	}
	l.Retry()
	a.json(w, http.StatusOK, l.Snapshot())
}

// CancelBackoff aborts the pending countdown of one job.
func (a *App) CancelBackoff(w http.ResponseWriter, r *http.Request) {
	l, ok := a.lookupJob(w, r)
	if !ok {
		return
	}
	l.CancelBackoff()
	a.json(w, http.StatusOK, l.Snapshot())
}

// EnableAutoRetry turns auto-retry on for a halted job.
func (a *App) EnableAutoRetry(w http.ResponseWriter, r *http.Request) {
	l, ok := a.lookupJob(w, r)
	if !ok {
		return
	}
	l.EnableAutoRetry()
	a.json(w, http.StatusOK, l.Snapshot())
}

// RegenerateJob re-runs a finished job in place with its bound parameters.
func (a *App) RegenerateJob(w http.ResponseWriter, r *http.Request) {
	l, ok := a.lookupJob(w, r)
	if !ok {
		return
	}
	l.Regenerate()
	a.json(w, http.StatusOK, l.Snapshot())
}

type rerunRequest struct {
	Count int `json:"count" validate:"omitempty,min=1"`
}

// RerunJob starts new jobs from this job's bound request snapshot.
func (a *App) RerunJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req rerunRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if err := a.validate.Struct(req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.Count == 0 {
		req.Count = 1
	}
	if req.Count > a.Config.MaxBatchSize {
		a.error(w, http.StatusBadRequest, "batch_too_large",
			fmt.Sprintf("count exceeds the maximum of %d", a.Config.MaxBatchSize))
		return
	}
	opts := job.Options{Locale: middleware.LocaleFromContext(r.Context())}
	lifecycles, err := a.Registry.Rerun(id, req.Count, opts)
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	resp := createJobsResponse{Jobs: make([]job.Snapshot, 0, len(lifecycles))}
	for _, l := range lifecycles {
		resp.Jobs = append(resp.Jobs, l.Snapshot())
	}
	a.json(w, http.StatusAccepted, resp)
}

// DeleteJob disposes a job: its timers stop and observers are closed.
func (a *App) DeleteJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !a.Registry.Remove(id) {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearFailed disposes every job halted in the failed phase.
func (a *App) ClearFailed(w http.ResponseWriter, r *http.Request) {
	removed := a.Registry.ClearFailed()
	a.json(w, http.StatusOK, map[string]int{"removed": removed})
}
