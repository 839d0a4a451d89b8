package domain

import (
	"time"

	"github.com/google/uuid"
)

// SubmitJobRequest represents the request body for submitting a download.
type SubmitJobRequest struct {
	URL         string `json:"url" validate:"required,max=2048"`
	Format      string `json:"format,omitempty" validate:"omitempty,max=128"`
	Quality     string `json:"quality,omitempty" validate:"omitempty,max=32"`
	AudioOnly   bool   `json:"audio_only,omitempty"`
	Requester   string `json:"requester,omitempty" validate:"omitempty,max=128"`
	CallbackURL string `json:"callback_url,omitempty" validate:"omitempty,url"`
}

// SubmitJobResponse is returned for both new jobs and dedup attachments.
type SubmitJobResponse struct {
	JobID    uuid.UUID `json:"job_id"`
	State    JobState  `json:"state"`
	Attached bool      `json:"attached"`
}

// JobResponse is the read-only job view exposed to callers.
type JobResponse struct {
	ID          uuid.UUID       `json:"job_id"`
	URL         string          `json:"url"`
	Options     DownloadOptions `json:"options"`
	State       JobState        `json:"state"`
	OutputPath  string          `json:"output_path,omitempty"`
	ErrorDetail string          `json:"error_detail,omitempty"`
	FailureCode FailureCode     `json:"failure_code,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
}

// NewJobResponse builds the caller-facing view from a job snapshot.
func NewJobResponse(job Job) JobResponse {
	return JobResponse{
		ID:          job.ID,
		URL:         job.Request.URL,
		Options:     job.Request.Options,
		State:       job.State,
		OutputPath:  job.OutputPath,
		ErrorDetail: job.ErrorDetail,
		FailureCode: job.FailureCode,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		FinishedAt:  job.FinishedAt,
	}
}
