package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/phuonganhcorn/media-fetch/internal/domain"
)

// WebhookSink pushes terminal-job notifications to each follower that
// registered a callback URL. Delivery is best-effort: a failed callback is
// logged, never retried into the job's own lifecycle.
type WebhookSink struct {
	client *http.Client
	logger *slog.Logger
}

// webhookPayload is the JSON body posted to follower callbacks.
type webhookPayload struct {
	JobID       uuid.UUID          `json:"job_id"`
	Requester   string             `json:"requester,omitempty"`
	URL         string             `json:"url"`
	State       domain.JobState    `json:"state"`
	OutputPath  string             `json:"output_path,omitempty"`
	ErrorDetail string             `json:"error_detail,omitempty"`
	FailureCode domain.FailureCode `json:"failure_code,omitempty"`
}

func NewWebhookSink(logger *slog.Logger) *WebhookSink {
	return &WebhookSink{
		client: &http.Client{Timeout: 15 * time.Second},
		logger: logger,
	}
}

func (s *WebhookSink) OnTerminal(ctx context.Context, job domain.Job) {
	for _, follower := range job.Followers {
		if follower.CallbackURL == "" {
			continue
		}
		s.deliver(ctx, job, follower)
	}
}

func (s *WebhookSink) deliver(ctx context.Context, job domain.Job, follower domain.Follower) {
	payload := webhookPayload{
		JobID:       job.ID,
		Requester:   follower.Requester,
		URL:         job.Request.URL,
		State:       job.State,
		OutputPath:  job.OutputPath,
		ErrorDetail: job.ErrorDetail,
		FailureCode: job.FailureCode,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("failed to marshal webhook payload", "job_id", job.ID, "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, follower.CallbackURL, bytes.NewReader(body))
	if err != nil {
		s.logger.Error("failed to build webhook request", "job_id", job.ID, "callback_url", follower.CallbackURL, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("webhook delivery failed", "job_id", job.ID, "callback_url", follower.CallbackURL, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.logger.Warn("webhook rejected", "job_id", job.ID, "callback_url", follower.CallbackURL, "status", resp.Status)
		return
	}

	s.logger.Debug("webhook delivered", "job_id", job.ID, "callback_url", follower.CallbackURL)
}
