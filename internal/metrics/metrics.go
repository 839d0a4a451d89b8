package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "media_fetch_jobs_submitted_total",
		Help: "Total number of download jobs submitted",
	})

	DedupHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "media_fetch_dedup_hits_total",
		Help: "Total number of submissions attached to an existing job",
	})

	JobsByOutcome = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "media_fetch_jobs_finished_total",
		Help: "Total number of jobs finished, by terminal state",
	}, []string{"state"})

	JobsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "media_fetch_jobs_running",
		Help: "Number of jobs currently running a downloader subprocess",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "media_fetch_queue_depth",
		Help: "Number of jobs waiting in the admission queue",
	})

	JobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "media_fetch_job_duration_seconds",
		Help:    "Wall-clock duration of downloader subprocess runs",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	DownloadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "media_fetch_download_bytes_total",
		Help: "Total bytes of produced artifacts",
	})

	JobsSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "media_fetch_jobs_swept_total",
		Help: "Total number of terminal jobs removed by the retention sweep",
	})
)
