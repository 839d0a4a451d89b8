// Package runner launches the external downloader binary, one child process
// per call, and reports a structured result for every exit path.
package runner

import (
	"context"
	"time"
)

// CommandSpec is a fully-resolved argument list for one downloader run.
// Arguments are passed to the process discretely; nothing is ever
// interpolated through a shell.
type CommandSpec struct {
	Binary string
	Args   []string
	// Dir is the job-scoped working directory; produced files land here.
	Dir string
}

// Result describes a finished downloader run.
type Result struct {
	ExitCode     int
	StdoutTail   string
	StderrTail   string
	ProducedPath string
	TimedOut     bool
	Duration     time.Duration
}

// Runner executes downloader subprocesses. Run blocks until the child is
// reaped; the block is bounded by the timeout plus the kill grace period.
type Runner interface {
	Run(ctx context.Context, spec CommandSpec, timeout time.Duration) (Result, error)
	Probe(ctx context.Context) (string, error)
}
