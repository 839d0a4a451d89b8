package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/phuonganhcorn/media-fetch/internal/config"
	"github.com/phuonganhcorn/media-fetch/internal/domain"
	errpkg "github.com/phuonganhcorn/media-fetch/internal/errors"
	"github.com/phuonganhcorn/media-fetch/internal/registry"
	"github.com/phuonganhcorn/media-fetch/internal/runner"
	"github.com/phuonganhcorn/media-fetch/internal/storage"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, timeout time.Duration, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting condition")
}

// fakeRunner satisfies runner.Runner with scripted behavior per run.
type fakeRunner struct {
	mu       sync.Mutex
	specs    []runner.CommandSpec
	behavior func(ctx context.Context, spec runner.CommandSpec) (runner.Result, error)
	probeErr error
}

func (f *fakeRunner) Run(ctx context.Context, spec runner.CommandSpec, _ time.Duration) (runner.Result, error) {
	f.mu.Lock()
	f.specs = append(f.specs, spec)
	f.mu.Unlock()
	return f.behavior(ctx, spec)
}

func (f *fakeRunner) Probe(context.Context) (string, error) {
	if f.probeErr != nil {
		return "", f.probeErr
	}
	return "2025.08.11", nil
}

func (f *fakeRunner) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.specs)
}

// succeedBehavior writes an artifact into the job dir and reports success.
func succeedBehavior(_ context.Context, spec runner.CommandSpec) (runner.Result, error) {
	path := filepath.Join(spec.Dir, "clip.mp4")
	if err := os.WriteFile(path, []byte("media"), 0o644); err != nil {
		return runner.Result{}, err
	}
	return runner.Result{ExitCode: 0, ProducedPath: path}, nil
}

// recordSink captures terminal notifications.
type recordSink struct {
	mu   sync.Mutex
	jobs []domain.Job
}

func (s *recordSink) OnTerminal(_ context.Context, job domain.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
}

func (s *recordSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

func (s *recordSink) byID(id uuid.UUID) (domain.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.ID == id {
			return j, true
		}
	}
	return domain.Job{}, false
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DownloaderBin:       "yt-dlp",
		WorkerSlots:         2,
		QueueCapacity:       10,
		DownloadTimeout:     5 * time.Second,
		KillGracePeriod:     time.Second,
		MaxFileSize:         1 << 20,
		DownloadDir:         t.TempDir(),
		RetentionAge:        time.Hour,
		SweepInterval:       time.Hour,
		SaturationThreshold: 0.9,
	}
}

func newTestOrchestrator(t *testing.T, cfg *config.Config, run *fakeRunner) (*Orchestrator, *recordSink) {
	t.Helper()

	store, err := storage.NewArtifactStore(cfg.DownloadDir)
	if err != nil {
		t.Fatalf("NewArtifactStore error: %v", err)
	}

	notify := &recordSink{}
	o := New(cfg, registry.New(), store, run, notify, newTestLogger())
	o.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = o.Shutdown(ctx)
	})
	return o, notify
}

func submit(t *testing.T, o *Orchestrator, url, requester string) domain.Job {
	t.Helper()
	job, _, err := o.Submit(context.Background(), domain.DownloadRequest{
		URL:      url,
		Follower: domain.Follower{Requester: requester},
	})
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	return job
}

func jobState(o *Orchestrator, id uuid.UUID) domain.JobState {
	job, err := o.Status(context.Background(), id)
	if err != nil {
		return ""
	}
	return job.State
}

func TestOrchestrator_SubmitAndSucceed(t *testing.T) {
	run := &fakeRunner{behavior: succeedBehavior}
	o, notify := newTestOrchestrator(t, testConfig(t), run)

	job := submit(t, o, "https://example.com/video.mp4", "alice")
	if job.State != domain.StateQueued {
		t.Errorf("expected queued on submit, got %s", job.State)
	}

	waitFor(t, 2*time.Second, func() bool {
		return jobState(o, job.ID) == domain.StateSucceeded
	})

	done, err := o.Status(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Status error: %v", err)
	}
	if done.OutputPath == "" {
		t.Errorf("expected output path on success")
	}
	if done.ErrorDetail != "" {
		t.Errorf("expected no error detail, got %q", done.ErrorDetail)
	}
	if notify.count() != 1 {
		t.Errorf("expected exactly one terminal notification, got %d", notify.count())
	}
}

func TestOrchestrator_DedupAttachesFollower(t *testing.T) {
	release := make(chan struct{})
	run := &fakeRunner{behavior: func(ctx context.Context, spec runner.CommandSpec) (runner.Result, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return succeedBehavior(ctx, spec)
	}}
	o, notify := newTestOrchestrator(t, testConfig(t), run)

	first := submit(t, o, "https://youtu.be/dQw4w9WgXcQ", "alice")

	waitFor(t, 2*time.Second, func() bool {
		return jobState(o, first.ID) == domain.StateRunning
	})

	// Same resource through a different URL spelling while the first is
	// running: the caller attaches, no second subprocess.
	second, attached, err := o.Submit(context.Background(), domain.DownloadRequest{
		URL:      "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		Follower: domain.Follower{Requester: "bob"},
	})
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if !attached {
		t.Errorf("expected second submission to attach")
	}
	if second.ID != first.ID {
		t.Errorf("expected same job ID, got %s and %s", first.ID, second.ID)
	}

	close(release)
	waitFor(t, 2*time.Second, func() bool {
		return jobState(o, first.ID) == domain.StateSucceeded
	})

	if run.runCount() != 1 {
		t.Errorf("expected exactly one subprocess run, got %d", run.runCount())
	}
	terminal, ok := notify.byID(first.ID)
	if !ok {
		t.Fatalf("expected terminal notification for job")
	}
	if len(terminal.Followers) != 2 {
		t.Errorf("expected both followers on terminal job, got %d", len(terminal.Followers))
	}
}

func TestOrchestrator_SubmitWhileJobCompletes(t *testing.T) {
	run := &fakeRunner{behavior: succeedBehavior}
	o, _ := newTestOrchestrator(t, testConfig(t), run)

	// Hammer one URL while its jobs keep completing. A submission that finds
	// an active job just gone terminal must fall back to creating a fresh
	// one, never fail the request.
	for i := 0; i < 200; i++ {
		_, _, err := o.Submit(context.Background(), domain.DownloadRequest{
			URL:      "https://example.com/hot.mp4",
			Follower: domain.Follower{Requester: "alice"},
		})
		if err != nil && !errors.Is(err, errpkg.ErrQueueFull) {
			t.Fatalf("Submit error on iteration %d: %v", i, err)
		}
	}
}

func TestOrchestrator_ConcurrencyBound(t *testing.T) {
	cfg := testConfig(t)
	cfg.WorkerSlots = 1

	release := make(chan struct{})
	run := &fakeRunner{behavior: func(ctx context.Context, spec runner.CommandSpec) (runner.Result, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return succeedBehavior(ctx, spec)
	}}
	o, _ := newTestOrchestrator(t, cfg, run)

	first := submit(t, o, "https://example.com/a.mp4", "alice")
	waitFor(t, 2*time.Second, func() bool {
		return jobState(o, first.ID) == domain.StateRunning
	})

	second := submit(t, o, "https://example.com/b.mp4", "bob")

	// The single slot is busy; the second job must hold in the queue.
	time.Sleep(100 * time.Millisecond)
	if got := jobState(o, second.ID); got != domain.StateQueued {
		t.Fatalf("expected second job queued under N=1, got %s", got)
	}
	if run.runCount() != 1 {
		t.Fatalf("expected one running subprocess, got %d", run.runCount())
	}

	close(release)
	waitFor(t, 2*time.Second, func() bool {
		return jobState(o, first.ID) == domain.StateSucceeded &&
			jobState(o, second.ID) == domain.StateSucceeded
	})
}

func TestOrchestrator_CancelQueuedNeverSpawns(t *testing.T) {
	cfg := testConfig(t)
	cfg.WorkerSlots = 1

	release := make(chan struct{})
	defer close(release)
	run := &fakeRunner{behavior: func(ctx context.Context, spec runner.CommandSpec) (runner.Result, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return succeedBehavior(ctx, spec)
	}}
	o, notify := newTestOrchestrator(t, cfg, run)

	first := submit(t, o, "https://example.com/a.mp4", "alice")
	waitFor(t, 2*time.Second, func() bool {
		return jobState(o, first.ID) == domain.StateRunning
	})

	queued := submit(t, o, "https://example.com/b.mp4", "bob")
	if err := o.Cancel(context.Background(), queued.ID); err != nil {
		t.Fatalf("Cancel error: %v", err)
	}

	if got := jobState(o, queued.ID); got != domain.StateCancelled {
		t.Errorf("expected cancelled, got %s", got)
	}
	if _, ok := notify.byID(queued.ID); !ok {
		t.Errorf("expected terminal notification for cancelled job")
	}
	if run.runCount() != 1 {
		t.Errorf("expected no subprocess for cancelled queued job, got %d runs", run.runCount())
	}

	// Cancelling again is a no-op.
	if err := o.Cancel(context.Background(), queued.ID); err != nil {
		t.Errorf("expected cancel of terminal job to be a no-op, got %v", err)
	}
}

func TestOrchestrator_CancelRunningTerminatesChild(t *testing.T) {
	var signalled atomic.Bool
	var jobDir string
	run := &fakeRunner{behavior: func(ctx context.Context, spec runner.CommandSpec) (runner.Result, error) {
		<-ctx.Done()
		signalled.Store(true)
		// Partial output left behind by the killed downloader.
		jobDir = spec.Dir
		if err := os.WriteFile(filepath.Join(spec.Dir, "clip.mp4.part"), []byte("partial"), 0o644); err != nil {
			return runner.Result{}, err
		}
		return runner.Result{ExitCode: -1}, nil
	}}
	o, notify := newTestOrchestrator(t, testConfig(t), run)

	job := submit(t, o, "https://example.com/a.mp4", "alice")
	waitFor(t, 2*time.Second, func() bool {
		return jobState(o, job.ID) == domain.StateRunning
	})

	if err := o.Cancel(context.Background(), job.ID); err != nil {
		t.Fatalf("Cancel error: %v", err)
	}

	// Cancelled may only become visible once the subprocess was signalled
	// and reaped.
	waitFor(t, 2*time.Second, func() bool {
		state := jobState(o, job.ID)
		if state.Terminal() && !signalled.Load() {
			t.Fatalf("job reached %s before the subprocess was signalled", state)
		}
		return state == domain.StateCancelled
	})

	done, err := o.Status(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Status error: %v", err)
	}
	if done.OutputPath != "" {
		t.Errorf("cancelled job must not expose an artifact, got %q", done.OutputPath)
	}
	if done.ErrorDetail == "" {
		t.Errorf("expected cancellation detail on cancelled job")
	}
	if _, err := os.Stat(jobDir); !os.IsNotExist(err) {
		t.Errorf("expected job directory removed after cancel, stat err %v", err)
	}
	if notify.count() != 1 {
		t.Errorf("expected exactly one terminal notification, got %d", notify.count())
	}
}

func TestOrchestrator_RuntimeFailureCapturesStderr(t *testing.T) {
	run := &fakeRunner{behavior: func(context.Context, runner.CommandSpec) (runner.Result, error) {
		return runner.Result{ExitCode: 1, StderrTail: "ERROR: Unsupported URL: https://example.com/a"}, nil
	}}
	o, _ := newTestOrchestrator(t, testConfig(t), run)

	job := submit(t, o, "https://example.com/a", "alice")
	waitFor(t, 2*time.Second, func() bool {
		return jobState(o, job.ID) == domain.StateFailed
	})

	done, _ := o.Status(context.Background(), job.ID)
	if done.FailureCode != domain.FailureRuntime {
		t.Errorf("expected runtime failure code, got %s", done.FailureCode)
	}
	if done.OutputPath != "" {
		t.Errorf("failed job must not have an output path")
	}
	if !strings.Contains(done.ErrorDetail, "Unsupported URL") {
		t.Errorf("expected error detail to carry stderr tail, got %q", done.ErrorDetail)
	}
}

func TestOrchestrator_Timeout(t *testing.T) {
	run := &fakeRunner{behavior: func(context.Context, runner.CommandSpec) (runner.Result, error) {
		return runner.Result{ExitCode: -1, TimedOut: true, StderrTail: "still downloading"}, nil
	}}
	o, _ := newTestOrchestrator(t, testConfig(t), run)

	job := submit(t, o, "https://example.com/slow.mp4", "alice")
	waitFor(t, 2*time.Second, func() bool {
		return jobState(o, job.ID) == domain.StateTimedOut
	})

	done, _ := o.Status(context.Background(), job.ID)
	if done.FailureCode != domain.FailureTimeout {
		t.Errorf("expected timeout failure code, got %s", done.FailureCode)
	}
}

func TestOrchestrator_SpawnFailure(t *testing.T) {
	run := &fakeRunner{behavior: func(context.Context, runner.CommandSpec) (runner.Result, error) {
		return runner.Result{ExitCode: -1}, errpkg.ErrDownloaderUnavailable
	}}
	o, _ := newTestOrchestrator(t, testConfig(t), run)

	job := submit(t, o, "https://example.com/a.mp4", "alice")
	waitFor(t, 2*time.Second, func() bool {
		return jobState(o, job.ID) == domain.StateFailed
	})

	done, _ := o.Status(context.Background(), job.ID)
	if done.FailureCode != domain.FailureSpawn {
		t.Errorf("expected spawn failure code, got %s", done.FailureCode)
	}
}

func TestOrchestrator_QueueFull(t *testing.T) {
	cfg := testConfig(t)
	cfg.WorkerSlots = 1
	cfg.QueueCapacity = 1

	release := make(chan struct{})
	defer close(release)
	run := &fakeRunner{behavior: func(ctx context.Context, spec runner.CommandSpec) (runner.Result, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return succeedBehavior(ctx, spec)
	}}
	o, _ := newTestOrchestrator(t, cfg, run)

	first := submit(t, o, "https://example.com/a.mp4", "alice")
	waitFor(t, 2*time.Second, func() bool {
		return jobState(o, first.ID) == domain.StateRunning
	})

	submit(t, o, "https://example.com/b.mp4", "bob")

	_, _, err := o.Submit(context.Background(), domain.DownloadRequest{
		URL:      "https://example.com/c.mp4",
		Follower: domain.Follower{Requester: "carol"},
	})
	if !errors.Is(err, errpkg.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestOrchestrator_RejectsInvalidURL(t *testing.T) {
	run := &fakeRunner{behavior: succeedBehavior}
	o, _ := newTestOrchestrator(t, testConfig(t), run)

	for _, url := range []string{"", "ftp://example.com/a", "http://127.0.0.1/a"} {
		_, _, err := o.Submit(context.Background(), domain.DownloadRequest{URL: url})
		if err == nil {
			t.Errorf("expected rejection for %q", url)
		}
	}

	// A rejected submission never creates a job.
	jobs, err := o.List(context.Background(), registry.ListFilter{})
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("expected no jobs after rejected submissions, got %d", len(jobs))
	}
}

func TestOrchestrator_RetentionSweep(t *testing.T) {
	cfg := testConfig(t)
	cfg.RetentionAge = time.Nanosecond

	run := &fakeRunner{behavior: succeedBehavior}
	o, _ := newTestOrchestrator(t, cfg, run)

	job := submit(t, o, "https://example.com/a.mp4", "alice")
	waitFor(t, 2*time.Second, func() bool {
		return jobState(o, job.ID) == domain.StateSucceeded
	})

	done, _ := o.Status(context.Background(), job.ID)

	time.Sleep(5 * time.Millisecond)
	o.sweep(context.Background())

	if _, err := o.Status(context.Background(), job.ID); !errors.Is(err, errpkg.ErrJobNotFound) {
		t.Errorf("expected job removed by sweep, got %v", err)
	}
	if _, err := os.Stat(filepath.Dir(done.OutputPath)); !os.IsNotExist(err) {
		t.Errorf("expected artifact directory removed by sweep")
	}
}

func TestOrchestrator_HealthDegradedWithoutBinary(t *testing.T) {
	run := &fakeRunner{behavior: succeedBehavior, probeErr: errpkg.ErrDownloaderUnavailable}
	o, _ := newTestOrchestrator(t, testConfig(t), run)

	h := o.HealthCheck(context.Background())
	if h.Status != "degraded" {
		t.Errorf("expected degraded health, got %s", h.Status)
	}
	if len(h.Reasons) == 0 {
		t.Errorf("expected degradation reasons")
	}
}

func TestOrchestrator_HealthOK(t *testing.T) {
	run := &fakeRunner{behavior: succeedBehavior}
	o, _ := newTestOrchestrator(t, testConfig(t), run)

	h := o.HealthCheck(context.Background())
	if h.Status != "ok" {
		t.Errorf("expected ok health, got %s (%v)", h.Status, h.Reasons)
	}
	if h.DownloaderVersion == "" {
		t.Errorf("expected downloader version in health report")
	}
}
