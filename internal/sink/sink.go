// Package sink decouples the orchestrator from whoever wants to know that a
// job finished. Implementations are interchangeable; the orchestrator calls
// OnTerminal exactly once per job.
package sink

import (
	"context"

	"github.com/phuonganhcorn/media-fetch/internal/domain"
)

// Sink receives a job snapshot once it reaches a terminal state. The snapshot
// carries all followers registered at submission time; implementations fan
// out to them as their transport requires.
type Sink interface {
	OnTerminal(ctx context.Context, job domain.Job)
}

// MultiSink fans one terminal notification out to several sinks.
type MultiSink []Sink

func (m MultiSink) OnTerminal(ctx context.Context, job domain.Job) {
	for _, s := range m {
		s.OnTerminal(ctx, job)
	}
}
