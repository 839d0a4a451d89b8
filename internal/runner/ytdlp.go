package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	errpkg "github.com/phuonganhcorn/media-fetch/internal/errors"
)

const probeTimeout = 10 * time.Second

// YtDlpRunner runs the yt-dlp binary. On timeout or cancellation the child
// receives SIGTERM and, after the grace period, SIGKILL; Run never returns
// before the child is reaped.
type YtDlpRunner struct {
	binary string
	grace  time.Duration
	logger *slog.Logger
}

// NewYtDlpRunner creates a runner for the given binary path or name.
func NewYtDlpRunner(binary string, grace time.Duration, logger *slog.Logger) *YtDlpRunner {
	return &YtDlpRunner{
		binary: binary,
		grace:  grace,
		logger: logger,
	}
}

// Run executes one downloader subprocess and waits for it to exit.
// A spawn failure (missing or unexecutable binary) returns a non-nil error;
// every other outcome is reported through the Result.
func (r *YtDlpRunner) Run(ctx context.Context, spec CommandSpec, timeout time.Duration) (Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	binary := spec.Binary
	if binary == "" {
		binary = r.binary
	}

	cmd := exec.CommandContext(runCtx, binary, spec.Args...)
	cmd.Dir = spec.Dir

	stdout := newTailBuffer(defaultTailLimit)
	stderr := newTailBuffer(defaultTailLimit)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = r.grace

	start := time.Now()
	if err := cmd.Start(); err != nil {
		r.logger.Error("failed to spawn downloader", "binary", binary, "error", err)
		return Result{ExitCode: -1, Duration: time.Since(start)},
			fmt.Errorf("%w: %v", errpkg.ErrDownloaderUnavailable, err)
	}

	waitErr := cmd.Wait()

	result := Result{
		ExitCode:   0,
		StdoutTail: stdout.String(),
		StderrTail: stderr.String(),
		Duration:   time.Since(start),
		TimedOut:   errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil,
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
		}
		r.logger.Debug("downloader exited with error",
			"binary", binary,
			"exit_code", result.ExitCode,
			"timed_out", result.TimedOut,
			"duration", result.Duration,
		)
		return result, nil
	}

	result.ProducedPath = findProducedFile(spec.Dir)
	r.logger.Debug("downloader finished",
		"binary", binary,
		"produced_path", result.ProducedPath,
		"duration", result.Duration,
	)
	return result, nil
}

// Probe checks that the downloader binary is present and runnable by asking
// it for its version.
func (r *YtDlpRunner) Probe(ctx context.Context) (string, error) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out, err := exec.CommandContext(probeCtx, r.binary, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("%w: %v", errpkg.ErrDownloaderUnavailable, err)
	}

	version := strings.TrimSpace(string(out))
	if version == "" {
		return "", fmt.Errorf("%w: empty version output", errpkg.ErrDownloaderUnavailable)
	}
	return version, nil
}

// findProducedFile returns the largest regular file in the job directory,
// skipping the downloader's partial and bookkeeping files. The directory is
// scoped to one job, so the scan is unambiguous.
func findProducedFile(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}

	var best string
	var bestSize int64 = -1
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ".part") || strings.HasSuffix(name, ".ytdl") || strings.HasSuffix(name, ".tmp") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.Size() > bestSize {
			bestSize = info.Size()
			best = filepath.Join(dir, name)
		}
	}
	return best
}
