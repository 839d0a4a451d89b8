package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/phuonganhcorn/media-fetch/internal/domain"
	errpkg "github.com/phuonganhcorn/media-fetch/internal/errors"
	"github.com/phuonganhcorn/media-fetch/internal/orchestrator"
	"github.com/phuonganhcorn/media-fetch/internal/registry"
)

// JobServiceI defines the orchestration surface the HTTP layer consumes.
type JobServiceI interface {
	Submit(ctx context.Context, req domain.DownloadRequest) (domain.Job, bool, error)
	Status(ctx context.Context, id uuid.UUID) (domain.Job, error)
	Cancel(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, filter registry.ListFilter) ([]domain.Job, error)
	HealthCheck(ctx context.Context) orchestrator.Health
}

// JobHandler handles HTTP requests for download jobs.
type JobHandler struct {
	service   JobServiceI
	validator *validator.Validate
	logger    *slog.Logger
}

// NewJobHandler creates a new JobHandler with the provided service and logger.
func NewJobHandler(service JobServiceI, logger *slog.Logger) *JobHandler {
	return &JobHandler{
		service:   service,
		validator: validator.New(),
		logger:    logger,
	}
}

// SubmitJob handles POST /jobs. A request deduplicated onto an existing job
// responds 200 with attached=true; a new job responds 201.
func (h *JobHandler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("failed to decode request", "error", err)
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("validation failed", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, attached, err := h.service.Submit(ctx, domain.DownloadRequest{
		URL: req.URL,
		Options: domain.DownloadOptions{
			Format:    req.Format,
			Quality:   req.Quality,
			AudioOnly: req.AudioOnly,
		},
		Follower: domain.Follower{
			Requester:   req.Requester,
			CallbackURL: req.CallbackURL,
		},
	})
	if err != nil {
		switch {
		case errors.Is(err, errpkg.ErrQueueFull), errors.Is(err, errpkg.ErrShuttingDown):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			h.logger.Warn("submission rejected", "error", err)
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	status := http.StatusCreated
	if attached {
		status = http.StatusOK
	}
	writeJSON(w, status, domain.SubmitJobResponse{
		JobID:    job.ID,
		State:    job.State,
		Attached: attached,
	})
}

// GetJob handles GET /jobs/{jobID}.
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := parseJobID(w, r)
	if !ok {
		return
	}

	job, err := h.service.Status(ctx, id)
	if err != nil {
		if errors.Is(err, errpkg.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		h.logger.Error("failed to get job", "job_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, domain.NewJobResponse(job))
}

// ListJobs handles GET /jobs with optional state, offset and limit query
// parameters.
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter := registry.ListFilter{
		State: domain.JobState(r.URL.Query().Get("state")),
		Limit: 50,
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		filter.Offset = n
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}

	jobs, err := h.service.List(ctx, filter)
	if err != nil {
		h.logger.Error("failed to list jobs", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	responses := make([]domain.JobResponse, 0, len(jobs))
	for _, job := range jobs {
		responses = append(responses, domain.NewJobResponse(job))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs": responses,
	})
}

// CancelJob handles DELETE /jobs/{jobID}. Cancelling an already-terminal job
// is a no-op and still responds 202.
func (h *JobHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := parseJobID(w, r)
	if !ok {
		return
	}

	if err := h.service.Cancel(ctx, id); err != nil {
		if errors.Is(err, errpkg.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		h.logger.Error("failed to cancel job", "job_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": id.String(),
		"status": "cancellation requested",
	})
}

// Healthcheck handles GET /health, responding 503 when degraded.
func (h *JobHandler) Healthcheck(w http.ResponseWriter, r *http.Request) {
	health := h.service.HealthCheck(r.Context())

	status := http.StatusOK
	if health.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func parseJobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job ID")
		return uuid.UUID{}, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
