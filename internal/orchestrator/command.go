package orchestrator

import (
	"strconv"

	"github.com/phuonganhcorn/media-fetch/internal/config"
	"github.com/phuonganhcorn/media-fetch/internal/domain"
	"github.com/phuonganhcorn/media-fetch/internal/runner"
)

const audioOnlyFormat = "m4a/bestaudio/best"

// buildCommand resolves the full downloader argument list for a job. The URL
// is always the final argument after a "--" guard, so an option-shaped URL
// can never be interpreted as a flag.
func buildCommand(cfg *config.Config, job domain.Job, dir string) runner.CommandSpec {
	args := []string{
		"--no-playlist",
		"--no-warnings",
		"--no-progress",
		"--newline",
		"--restrict-filenames",
		"--max-filesize", strconv.FormatInt(cfg.MaxFileSize, 10),
		"-o", "%(title).200B.%(ext)s",
	}

	format := job.Request.Options.Format
	if format == "" && job.Request.Options.AudioOnly {
		format = audioOnlyFormat
	}
	if format != "" {
		args = append(args, "-f", format)
	}

	if q := job.Request.Options.Quality; q != "" {
		args = append(args, "-S", "res:"+q)
	}

	if cfg.Proxy != "" {
		args = append(args, "--proxy", cfg.Proxy)
	}
	if cfg.CookiesFile != "" {
		args = append(args, "--cookies", cfg.CookiesFile)
	}

	args = append(args, "--", job.NormalizedURL)

	return runner.CommandSpec{
		Binary: cfg.DownloaderBin,
		Args:   args,
		Dir:    dir,
	}
}
