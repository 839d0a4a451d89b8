// Package registry holds the in-memory job records. It is the single source
// of truth for status queries; the orchestrator is the only writer of state
// transitions.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phuonganhcorn/media-fetch/internal/domain"
	errpkg "github.com/phuonganhcorn/media-fetch/internal/errors"
)

// Registry provides serialized access to job records. A single mutex owns the
// whole map; callers only ever see value snapshots.
type Registry struct {
	mu         sync.RWMutex
	jobs       map[uuid.UUID]*domain.Job
	activeKeys map[string]uuid.UUID
	order      []uuid.UUID
}

// ListFilter narrows and paginates List results. Jobs are returned in
// creation order.
type ListFilter struct {
	State  domain.JobState
	Offset int
	Limit  int
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		jobs:       make(map[uuid.UUID]*domain.Job),
		activeKeys: make(map[string]uuid.UUID),
	}
}

// Create records a new job in the queued state and indexes its dedup key.
// The request's follower becomes the job's first follower.
func (r *Registry) Create(ctx context.Context, req domain.DownloadRequest, normalizedURL, dedupKey string) (domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return domain.Job{}, err
	}

	job := &domain.Job{
		ID:            uuid.New(),
		Request:       req,
		NormalizedURL: normalizedURL,
		DedupKey:      dedupKey,
		State:         domain.StateQueued,
		Followers:     []domain.Follower{req.Follower},
		CreatedAt:     time.Now(),
	}

	r.mu.Lock()
	r.jobs[job.ID] = job
	r.activeKeys[dedupKey] = job.ID
	r.order = append(r.order, job.ID)
	r.mu.Unlock()

	slog.Debug("job created", "job_id", job.ID, "url", normalizedURL)
	return job.Snapshot(), nil
}

// Get retrieves a snapshot of a job by ID.
func (r *Registry) Get(ctx context.Context, id uuid.UUID) (domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return domain.Job{}, err
	}

	r.mu.RLock()
	job, exists := r.jobs[id]
	r.mu.RUnlock()

	if !exists {
		return domain.Job{}, errpkg.ErrJobNotFound
	}
	return job.Snapshot(), nil
}

// FindActiveByKey returns the queued or running job holding the dedup key,
// if any. Terminal jobs release their key and are never returned here.
func (r *Registry) FindActiveByKey(ctx context.Context, dedupKey string) (domain.Job, bool) {
	if err := ctx.Err(); err != nil {
		return domain.Job{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.activeKeys[dedupKey]
	if !ok {
		return domain.Job{}, false
	}
	job, exists := r.jobs[id]
	if !exists || job.State.Terminal() {
		return domain.Job{}, false
	}
	return job.Snapshot(), true
}

// AttachFollower adds a follower to an active job. Attaching to a terminal
// job fails: the follower would never be notified.
func (r *Registry) AttachFollower(ctx context.Context, id uuid.UUID, f domain.Follower) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	job, exists := r.jobs[id]
	if !exists {
		return errpkg.ErrJobNotFound
	}
	if job.State.Terminal() {
		return fmt.Errorf("%w: job %s already %s", errpkg.ErrInvalidTransition, id, job.State)
	}
	job.Followers = append(job.Followers, f)
	return nil
}

// MarkCancelRequested records cancellation intent on an active job.
// Marking a terminal job is a no-op.
func (r *Registry) MarkCancelRequested(ctx context.Context, id uuid.UUID) (domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return domain.Job{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	job, exists := r.jobs[id]
	if !exists {
		return domain.Job{}, errpkg.ErrJobNotFound
	}
	if !job.State.Terminal() {
		job.CancelRequested = true
	}
	return job.Snapshot(), nil
}

// CancelIfQueued atomically cancels a job only while it is still queued,
// recording the detail and releasing its dedup key. It reports false for a
// job in any other state; a running job stays with its worker, which records
// Cancelled after the subprocess is reaped.
func (r *Registry) CancelIfQueued(ctx context.Context, id uuid.UUID, detail string) (domain.Job, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Job{}, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	job, exists := r.jobs[id]
	if !exists {
		return domain.Job{}, false, errpkg.ErrJobNotFound
	}
	if job.State != domain.StateQueued {
		return domain.Job{}, false, nil
	}

	now := time.Now()
	job.State = domain.StateCancelled
	job.FinishedAt = &now
	job.ErrorDetail = detail
	if cur, ok := r.activeKeys[job.DedupKey]; ok && cur == id {
		delete(r.activeKeys, job.DedupKey)
	}

	slog.Debug("job transitioned", "job_id", id, "state", domain.StateCancelled)
	return job.Snapshot(), true, nil
}

// Transition moves a job to a new state, recording the payload. Transitions
// out of a terminal state, and any other move the state machine forbids, fail
// with ErrInvalidTransition. A successful terminal transition releases the
// job's dedup key.
func (r *Registry) Transition(ctx context.Context, id uuid.UUID, to domain.JobState, payload domain.TransitionPayload) (domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return domain.Job{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	job, exists := r.jobs[id]
	if !exists {
		return domain.Job{}, errpkg.ErrJobNotFound
	}

	if !domain.CanTransition(job.State, to) {
		return domain.Job{}, fmt.Errorf("%w: %s -> %s for job %s", errpkg.ErrInvalidTransition, job.State, to, id)
	}

	if err := checkPayload(to, payload); err != nil {
		return domain.Job{}, err
	}

	now := time.Now()
	job.State = to
	switch {
	case to == domain.StateRunning:
		job.StartedAt = &now
	case to.Terminal():
		job.FinishedAt = &now
		job.OutputPath = payload.OutputPath
		job.ErrorDetail = payload.ErrorDetail
		job.FailureCode = payload.FailureCode
		if cur, ok := r.activeKeys[job.DedupKey]; ok && cur == id {
			delete(r.activeKeys, job.DedupKey)
		}
	}

	slog.Debug("job transitioned", "job_id", id, "state", to)
	return job.Snapshot(), nil
}

// checkPayload enforces that a terminal job carries either an output artifact
// path or an error detail, never neither and never both.
func checkPayload(to domain.JobState, p domain.TransitionPayload) error {
	if !to.Terminal() {
		if p.OutputPath != "" || p.ErrorDetail != "" {
			return fmt.Errorf("%w: payload on non-terminal transition to %s", errpkg.ErrInvalidTransition, to)
		}
		return nil
	}
	if to == domain.StateSucceeded {
		if p.OutputPath == "" || p.ErrorDetail != "" {
			return fmt.Errorf("%w: succeeded job requires an output path and no error detail", errpkg.ErrInvalidTransition)
		}
		return nil
	}
	if p.ErrorDetail == "" || p.OutputPath != "" {
		return fmt.Errorf("%w: %s job requires an error detail and no output path", errpkg.ErrInvalidTransition, to)
	}
	return nil
}

// List returns snapshots in creation order, optionally filtered by state,
// with offset/limit pagination. A zero Limit means no limit.
func (r *Registry) List(ctx context.Context, filter ListFilter) ([]domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Job
	skipped := 0
	for _, id := range r.order {
		job, exists := r.jobs[id]
		if !exists {
			continue
		}
		if filter.State != "" && job.State != filter.State {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		out = append(out, job.Snapshot())
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// RemoveTerminalBefore deletes terminal jobs that finished before the cutoff
// and returns their snapshots so the caller can reclaim artifacts. In-flight
// jobs are never removed.
func (r *Registry) RemoveTerminalBefore(ctx context.Context, cutoff time.Time) ([]domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []domain.Job
	kept := r.order[:0]
	for _, id := range r.order {
		job, exists := r.jobs[id]
		if !exists {
			continue
		}
		if job.State.Terminal() && job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			removed = append(removed, job.Snapshot())
			delete(r.jobs, id)
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept

	return removed, nil
}
