package sink

import (
	"context"
	"log/slog"

	"github.com/phuonganhcorn/media-fetch/internal/domain"
)

// LogSink records terminal jobs in the service log. It backs the polling
// model: callers observe results through status queries, the log is the
// operational trace.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) OnTerminal(_ context.Context, job domain.Job) {
	switch job.State {
	case domain.StateSucceeded:
		s.logger.Info("job succeeded",
			"job_id", job.ID,
			"url", job.NormalizedURL,
			"output_path", job.OutputPath,
			"followers", len(job.Followers),
		)
	default:
		s.logger.Warn("job did not succeed",
			"job_id", job.ID,
			"url", job.NormalizedURL,
			"state", job.State,
			"failure_code", job.FailureCode,
			"error", job.ErrorDetail,
		)
	}
}
