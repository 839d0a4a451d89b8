package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DownloadOptions is the opaque option set passed through to the downloader.
// It participates in the dedup key, so two requests for the same URL with
// different options produce distinct jobs.
type DownloadOptions struct {
	Format    string `json:"format,omitempty"`
	Quality   string `json:"quality,omitempty"`
	AudioOnly bool   `json:"audio_only,omitempty"`
}

// Follower identifies a caller attached to a Job and how to notify it.
// CallbackURL is optional; followers without one are served by polling.
type Follower struct {
	Requester   string `json:"requester,omitempty"`
	CallbackURL string `json:"callback_url,omitempty"`
}

// DownloadRequest is an accepted request to fetch media. Immutable once
// accepted by the orchestrator.
type DownloadRequest struct {
	URL      string          `json:"url"`
	Options  DownloadOptions `json:"options"`
	Follower Follower        `json:"follower"`
}

// Job is one tracked unit of download work. The registry exclusively owns Job
// records; readers receive value copies via Snapshot.
type Job struct {
	ID            uuid.UUID       `json:"id"`
	Request       DownloadRequest `json:"request"`
	NormalizedURL string          `json:"normalized_url"`
	DedupKey      string          `json:"-"`

	State           JobState    `json:"state"`
	CancelRequested bool        `json:"cancel_requested,omitempty"`
	OutputPath      string      `json:"output_path,omitempty"`
	ErrorDetail     string      `json:"error_detail,omitempty"`
	FailureCode     FailureCode `json:"failure_code,omitempty"`

	Followers []Follower `json:"followers,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Snapshot returns a read-only value copy of the job, safe to hand to
// other goroutines.
func (j *Job) Snapshot() Job {
	c := *j
	if j.Followers != nil {
		c.Followers = make([]Follower, len(j.Followers))
		copy(c.Followers, j.Followers)
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return c
}

// TransitionPayload carries the result fields recorded with a state
// transition. Exactly one of OutputPath or ErrorDetail is set for a
// terminal transition.
type TransitionPayload struct {
	OutputPath  string
	ErrorDetail string
	FailureCode FailureCode
}

// DedupKey derives the identifier used to collapse duplicate concurrent
// requests onto one Job: a digest of the normalized URL plus the canonical
// option string.
func DedupKey(normalizedURL string, opts DownloadOptions) string {
	canonical := fmt.Sprintf("%s|f=%s|q=%s|a=%t", normalizedURL, opts.Format, opts.Quality, opts.AudioOnly)
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
