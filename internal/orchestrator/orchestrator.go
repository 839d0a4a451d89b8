// Package orchestrator is the scheduling core: it admits download jobs into a
// bounded pool of downloader subprocesses, drives every job through its state
// machine, and tells the notification sink when a job is done.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/phuonganhcorn/media-fetch/internal/config"
	"github.com/phuonganhcorn/media-fetch/internal/domain"
	errpkg "github.com/phuonganhcorn/media-fetch/internal/errors"
	"github.com/phuonganhcorn/media-fetch/internal/mediaurl"
	"github.com/phuonganhcorn/media-fetch/internal/metrics"
	"github.com/phuonganhcorn/media-fetch/internal/registry"
	"github.com/phuonganhcorn/media-fetch/internal/runner"
	"github.com/phuonganhcorn/media-fetch/internal/sink"
	"github.com/phuonganhcorn/media-fetch/internal/storage"
	"github.com/phuonganhcorn/media-fetch/internal/validation"
)

const probeCacheTTL = 30 * time.Second

// Orchestrator owns the admission queue and the worker slots. The concurrency
// bound is the worker-slot count; the buffered queue absorbs bursts and fails
// fast once full.
type Orchestrator struct {
	cfg    *config.Config
	reg    *registry.Registry
	store  *storage.ArtifactStore
	run    runner.Runner
	notify sink.Sink
	logger *slog.Logger

	queue chan uuid.UUID

	// submitMu serializes dedup lookup, record creation and enqueue so two
	// submissions with one key cannot both create a job.
	submitMu sync.Mutex

	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc

	probeMu      sync.Mutex
	probeVersion string
	probeErr     error
	probeAt      time.Time

	baseCancel context.CancelFunc
	group      *errgroup.Group
	closed     atomic.Bool
}

// Health is the degraded/ok report exposed through the health endpoint.
type Health struct {
	Status            string   `json:"status"`
	DownloaderVersion string   `json:"downloader_version,omitempty"`
	Reasons           []string `json:"reasons,omitempty"`
	QueueDepth        int      `json:"queue_depth"`
	QueueCapacity     int      `json:"queue_capacity"`
}

// New creates an Orchestrator. Call Start before submitting jobs.
func New(
	cfg *config.Config,
	reg *registry.Registry,
	store *storage.ArtifactStore,
	run runner.Runner,
	notify sink.Sink,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		reg:     reg,
		store:   store,
		run:     run,
		notify:  notify,
		logger:  logger,
		queue:   make(chan uuid.UUID, cfg.QueueCapacity),
		cancels: make(map[uuid.UUID]context.CancelFunc),
	}
}

// Start launches the worker slots and the retention sweep.
func (o *Orchestrator) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	o.baseCancel = cancel

	g, gctx := errgroup.WithContext(ctx)
	o.group = g

	for i := 0; i < o.cfg.WorkerSlots; i++ {
		slot := i + 1
		g.Go(func() error {
			return o.workerLoop(gctx, slot)
		})
	}
	g.Go(func() error {
		return o.sweepLoop(gctx)
	})

	o.logger.Info("orchestrator started",
		"worker_slots", o.cfg.WorkerSlots,
		"queue_capacity", o.cfg.QueueCapacity,
		"download_timeout", o.cfg.DownloadTimeout,
	)
}

// Submit accepts a download request. A request whose dedup key matches an
// active job attaches its caller as a follower of that job and reports
// attached=true; otherwise a new queued job is created. Submission never
// blocks: a full queue fails with ErrQueueFull.
func (o *Orchestrator) Submit(ctx context.Context, req domain.DownloadRequest) (domain.Job, bool, error) {
	if o.closed.Load() {
		return domain.Job{}, false, errpkg.ErrShuttingDown
	}

	normalized, err := mediaurl.Normalize(req.URL)
	if err != nil {
		return domain.Job{}, false, fmt.Errorf("validate request: %w", err)
	}
	if err := validation.ValidateURL(normalized); err != nil {
		return domain.Job{}, false, fmt.Errorf("validate request: %w", err)
	}

	key := domain.DedupKey(normalized, req.Options)

	o.submitMu.Lock()
	defer o.submitMu.Unlock()

	if existing, ok := o.reg.FindActiveByKey(ctx, key); ok {
		err := o.reg.AttachFollower(ctx, existing.ID, req.Follower)
		if err == nil {
			metrics.DedupHits.Inc()
			o.logger.Info("submission attached to existing job",
				"job_id", existing.ID,
				"url", normalized,
				"requester", req.Follower.Requester,
			)
			return existing, true, nil
		}
		if !errors.Is(err, errpkg.ErrInvalidTransition) {
			return domain.Job{}, false, err
		}
		// The job went terminal between lookup and attach, releasing its
		// key; fall through and create a fresh one.
	}

	if len(o.queue) >= cap(o.queue) {
		return domain.Job{}, false, errpkg.ErrQueueFull
	}

	job, err := o.reg.Create(ctx, req, normalized, key)
	if err != nil {
		return domain.Job{}, false, err
	}

	// Space was checked under submitMu and only Submit enqueues.
	o.queue <- job.ID

	metrics.JobsSubmitted.Inc()
	metrics.QueueDepth.Set(float64(len(o.queue)))
	o.logger.Info("job submitted",
		"job_id", job.ID,
		"url", normalized,
		"requester", req.Follower.Requester,
	)
	return job, false, nil
}

// Status returns a read-only snapshot of a job.
func (o *Orchestrator) Status(ctx context.Context, id uuid.UUID) (domain.Job, error) {
	return o.reg.Get(ctx, id)
}

// List returns job snapshots in creation order.
func (o *Orchestrator) List(ctx context.Context, filter registry.ListFilter) ([]domain.Job, error) {
	return o.reg.List(ctx, filter)
}

// Cancel requests cancellation of a job. A queued job turns Cancelled
// immediately and its subprocess is never spawned; a running job has its
// subprocess signalled and reaches Cancelled once the child is reaped.
// Cancelling a terminal job is a no-op.
func (o *Orchestrator) Cancel(ctx context.Context, id uuid.UUID) error {
	job, err := o.reg.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.State.Terminal() {
		return nil
	}

	if _, err := o.reg.MarkCancelRequested(ctx, id); err != nil {
		return err
	}

	// Still queued: terminate it here; the worker skips terminal records.
	// The compare-and-swap leaves a running job alone.
	cancelled, wasQueued, err := o.reg.CancelIfQueued(ctx, id, "cancelled before download started")
	if err != nil {
		return err
	}
	if wasQueued {
		o.recordTerminal(ctx, cancelled)
		o.logger.Info("queued job cancelled", "job_id", id)
		return nil
	}

	// Already running: signal the subprocess. The worker records Cancelled
	// after the child is confirmed reaped.
	o.mu.Lock()
	if cancelRun, ok := o.cancels[id]; ok {
		cancelRun()
	}
	o.mu.Unlock()

	o.logger.Info("cancellation signalled to running job", "job_id", id)
	return nil
}

// HealthCheck reports degraded when the downloader binary is unreachable or
// the queue is saturated past the configured threshold.
func (o *Orchestrator) HealthCheck(ctx context.Context) Health {
	h := Health{
		Status:        "ok",
		QueueDepth:    len(o.queue),
		QueueCapacity: cap(o.queue),
	}

	version, err := o.probe(ctx)
	if err != nil {
		h.Reasons = append(h.Reasons, fmt.Sprintf("downloader unavailable: %v", err))
	} else {
		h.DownloaderVersion = version
	}

	if float64(h.QueueDepth) >= o.cfg.SaturationThreshold*float64(h.QueueCapacity) {
		h.Reasons = append(h.Reasons, "admission queue saturated")
	}

	if len(h.Reasons) > 0 {
		h.Status = "degraded"
	}
	return h
}

// probe memoizes the binary version check so health polling does not spawn a
// process per request.
func (o *Orchestrator) probe(ctx context.Context) (string, error) {
	o.probeMu.Lock()
	defer o.probeMu.Unlock()

	if time.Since(o.probeAt) < probeCacheTTL {
		return o.probeVersion, o.probeErr
	}

	o.probeVersion, o.probeErr = o.run.Probe(ctx)
	o.probeAt = time.Now()
	return o.probeVersion, o.probeErr
}

// Shutdown stops accepting submissions and waits for worker slots to drain,
// bounded by ctx.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.closed.Store(true)
	if o.baseCancel != nil {
		o.baseCancel()
	}
	if o.group == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		_ = o.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.logger.Info("orchestrator stopped")
		return nil
	case <-ctx.Done():
		o.logger.Warn("orchestrator shutdown timed out")
		return ctx.Err()
	}
}

func (o *Orchestrator) workerLoop(ctx context.Context, slot int) error {
	o.logger.Debug("worker slot started", "slot", slot)
	for {
		select {
		case <-ctx.Done():
			return nil
		case id := <-o.queue:
			metrics.QueueDepth.Set(float64(len(o.queue)))
			o.processJob(ctx, id, slot)
		}
	}
}

func (o *Orchestrator) processJob(ctx context.Context, id uuid.UUID, slot int) {
	// Registry writes at the end of a run must land even when ctx died with
	// the process mid-download.
	regCtx := context.WithoutCancel(ctx)

	job, err := o.reg.Get(regCtx, id)
	if err != nil {
		o.logger.Error("dequeued unknown job", "job_id", id, "error", err)
		return
	}
	if job.State.Terminal() {
		// Cancelled while queued; nothing to run.
		return
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	// Register the cancel hook before Running is visible, so Cancel never
	// observes a running job it cannot signal.
	o.mu.Lock()
	o.cancels[id] = cancelRun
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.cancels, id)
		o.mu.Unlock()
	}()

	running, err := o.reg.Transition(regCtx, id, domain.StateRunning, domain.TransitionPayload{})
	if err != nil {
		// Lost the race to a queued-cancel.
		return
	}

	metrics.JobsRunning.Inc()
	defer metrics.JobsRunning.Dec()

	o.logger.Info("job running", "job_id", id, "slot", slot, "url", running.NormalizedURL)

	dir, err := o.store.CreateJobDir(id)
	if err != nil {
		o.failJob(regCtx, id, fmt.Sprintf("prepare output directory: %v", err), domain.FailureStorage)
		return
	}

	spec := buildCommand(o.cfg, running, dir)
	res, runErr := o.run.Run(runCtx, spec, o.cfg.DownloadTimeout)
	metrics.JobDuration.Observe(res.Duration.Seconds())

	fresh, err := o.reg.Get(regCtx, id)
	if err != nil {
		o.logger.Error("job vanished during run", "job_id", id, "error", err)
		return
	}

	switch {
	case runErr != nil:
		o.discardArtifacts(id)
		o.failJob(regCtx, id, fmt.Sprintf("failed to start downloader: %v", runErr), domain.FailureSpawn)

	case fresh.CancelRequested && runCtx.Err() != nil:
		// The child is reaped by now; Run does not return before that.
		o.discardArtifacts(id)
		if _, err := o.finish(regCtx, id, domain.StateCancelled, domain.TransitionPayload{
			ErrorDetail: "cancelled while running; downloader terminated",
		}); err != nil {
			o.logger.Error("failed to record cancellation", "job_id", id, "error", err)
		}

	case res.TimedOut:
		o.discardArtifacts(id)
		detail := fmt.Sprintf("download exceeded %s timeout", o.cfg.DownloadTimeout)
		if tail := strings.TrimSpace(res.StderrTail); tail != "" {
			detail = detail + ": " + tail
		}
		if _, err := o.finish(regCtx, id, domain.StateTimedOut, domain.TransitionPayload{
			ErrorDetail: detail,
			FailureCode: domain.FailureTimeout,
		}); err != nil {
			o.logger.Error("failed to record timeout", "job_id", id, "error", err)
		}

	case res.ExitCode != 0:
		o.discardArtifacts(id)
		detail := strings.TrimSpace(res.StderrTail)
		if detail == "" {
			detail = fmt.Sprintf("downloader exited with code %d", res.ExitCode)
		}
		o.failJob(regCtx, id, detail, domain.FailureRuntime)

	case res.ProducedPath == "":
		o.discardArtifacts(id)
		o.failJob(regCtx, id, "downloader exited cleanly but produced no output file", domain.FailureRuntime)

	default:
		if _, err := o.finish(regCtx, id, domain.StateSucceeded, domain.TransitionPayload{
			OutputPath: res.ProducedPath,
		}); err != nil {
			o.logger.Error("failed to record success", "job_id", id, "error", err)
			return
		}
		if size, err := o.store.ArtifactSize(res.ProducedPath); err == nil {
			metrics.DownloadBytes.Add(float64(size))
		}
	}
}

// finish performs a terminal transition and, if it won, notifies the sink.
// The registry's terminal guard makes the notification exactly-once.
func (o *Orchestrator) finish(ctx context.Context, id uuid.UUID, state domain.JobState, payload domain.TransitionPayload) (domain.Job, error) {
	job, err := o.reg.Transition(ctx, id, state, payload)
	if err != nil {
		return domain.Job{}, err
	}
	o.recordTerminal(ctx, job)
	return job, nil
}

// recordTerminal counts the outcome and notifies the sink. Every job reaches
// it through exactly one winning terminal transition.
func (o *Orchestrator) recordTerminal(ctx context.Context, job domain.Job) {
	metrics.JobsByOutcome.WithLabelValues(string(job.State)).Inc()
	o.notify.OnTerminal(ctx, job)
}

func (o *Orchestrator) failJob(ctx context.Context, id uuid.UUID, detail string, code domain.FailureCode) {
	if _, err := o.finish(ctx, id, domain.StateFailed, domain.TransitionPayload{
		ErrorDetail: detail,
		FailureCode: code,
	}); err != nil {
		o.logger.Error("failed to record job failure", "job_id", id, "error", err)
	}
}

func (o *Orchestrator) discardArtifacts(id uuid.UUID) {
	if err := o.store.RemoveJobDir(id); err != nil {
		o.logger.Warn("failed to remove job directory", "job_id", id, "error", err)
	}
}

func (o *Orchestrator) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			o.sweep(ctx)
		}
	}
}

// sweep reclaims artifacts and registry entries of terminal jobs older than
// the retention age. In-flight jobs are untouched.
func (o *Orchestrator) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-o.cfg.RetentionAge)

	removed, err := o.reg.RemoveTerminalBefore(ctx, cutoff)
	if err != nil {
		o.logger.Error("retention sweep failed", "error", err)
		return
	}

	for _, job := range removed {
		o.discardArtifacts(job.ID)
		metrics.JobsSwept.Inc()
	}

	if len(removed) > 0 {
		o.logger.Info("retention sweep removed jobs", "count", len(removed), "cutoff", cutoff)
	}
}
