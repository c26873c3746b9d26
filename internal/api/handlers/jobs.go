package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/dvloznov/finance-ledger/internal/api/middleware"
	"github.com/dvloznov/finance-ledger/internal/jobs"
	"github.com/rs/zerolog"
)

// JobsHandler handles background job endpoints.
type JobsHandler struct {
	store     jobs.JobStore
	publisher jobs.Publisher
	log       zerolog.Logger
}

// NewJobsHandler creates a new jobs handler. publisher may be nil, which
// disables export requests.
func NewJobsHandler(store jobs.JobStore, publisher jobs.Publisher, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store:     store,
		publisher: publisher,
		log:       log,
	}
}

// GetJob handles GET /api/jobs/:jobId
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	ctx := r.Context()

	job, err := h.store.GetJob(ctx, jobID)
	if errors.Is(err, jobs.ErrJobNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		reqLog := requestLogger(ctx, h.log)
		reqLog.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	// Export jobs belong to a user; other users must not see them.
	if job.UserID != "" && job.UserID != middleware.UserID(ctx) {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.UserID(ctx)

	query := r.URL.Query()
	filter := jobs.JobFilter{
		Type:   jobs.JobType(query.Get("type")),
		Status: jobs.JobStatus(query.Get("status")),
	}

	limit := 0
	if limitStr := query.Get("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil {
			limit = n
		}
	}
	offset := 0
	if offsetStr := query.Get("offset"); offsetStr != "" {
		if n, err := strconv.Atoi(offsetStr); err == nil {
			offset = n
		}
	}

	all, err := h.store.ListJobs(ctx, filter)
	if err != nil {
		reqLog := requestLogger(ctx, h.log)
		reqLog.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	visible := make([]*jobs.LedgerJob, 0, len(all))
	for _, j := range all {
		if j.UserID == "" || j.UserID == userID {
			visible = append(visible, j)
		}
	}
	visible = paginate(visible, offset, limit)

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  visible,
		"count": len(visible),
	})
}

// RequestExport handles POST /api/exports
func (h *JobsHandler) RequestExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.publisher == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "Exports are not configured")
		return
	}

	var req struct {
		Sinks []string `json:"sinks"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	job := &jobs.LedgerJob{
		Type:   jobs.JobTypeExportLedger,
		UserID: middleware.UserID(ctx),
		Sinks:  req.Sinks,
	}
	if err := h.publisher.Publish(ctx, job); err != nil {
		reqLog := requestLogger(ctx, h.log)
		reqLog.Error().Err(err).Msg("Failed to enqueue export")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue export")
		return
	}

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.JobID,
		"status": string(job.Status),
	})
}

func paginate(list []*jobs.LedgerJob, offset, limit int) []*jobs.LedgerJob {
	if offset > 0 {
		if offset >= len(list) {
			return []*jobs.LedgerJob{}
		}
		list = list[offset:]
	}
	if limit > 0 && limit < len(list) {
		list = list[:limit]
	}
	return list
}
