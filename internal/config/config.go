package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration settings.
type Config struct {
	Environment string `envconfig:"MF_ENV" default:"development"`

	HTTPPort    int           `envconfig:"MF_HTTP_PORT" default:"8080"`
	HTTPTimeout time.Duration `envconfig:"MF_HTTP_TIMEOUT" default:"15s"`

	DownloaderBin   string        `envconfig:"MF_DOWNLOADER_BIN" default:"yt-dlp"`
	WorkerSlots     int           `envconfig:"MF_WORKER_SLOTS" default:"3"`
	QueueCapacity   int           `envconfig:"MF_QUEUE_CAPACITY" default:"100"`
	DownloadTimeout time.Duration `envconfig:"MF_DOWNLOAD_TIMEOUT" default:"10m"`
	KillGracePeriod time.Duration `envconfig:"MF_KILL_GRACE_PERIOD" default:"10s"`
	MaxFileSize     int64         `envconfig:"MF_MAX_FILE_SIZE" default:"1073741824"`

	DownloadDir   string        `envconfig:"MF_DOWNLOAD_DIR" default:"./storage"`
	RetentionAge  time.Duration `envconfig:"MF_RETENTION_AGE" default:"24h"`
	SweepInterval time.Duration `envconfig:"MF_SWEEP_INTERVAL" default:"10m"`

	// Optional yt-dlp passthrough for restricted networks.
	Proxy       string `envconfig:"MF_PROXY" default:""`
	CookiesFile string `envconfig:"MF_COOKIES_FILE" default:""`

	// Queue fill ratio above which the health endpoint reports degraded.
	SaturationThreshold float64 `envconfig:"MF_SATURATION_THRESHOLD" default:"0.9"`

	ShutdownTimeout time.Duration `envconfig:"MF_SHUTDOWN_TIMEOUT" default:"30s"`

	LogLevel  string `envconfig:"MF_LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"MF_LOG_FORMAT" default:"json"`
}

// Validate checks the configuration for invalid or missing values.
// Returns an error describing the first invalid setting found.
func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}

	if c.DownloaderBin == "" {
		return fmt.Errorf("downloader binary cannot be empty")
	}

	if c.WorkerSlots <= 0 {
		return fmt.Errorf("worker slots must be positive: %d", c.WorkerSlots)
	}

	if c.QueueCapacity <= 0 {
		return fmt.Errorf("queue capacity must be positive: %d", c.QueueCapacity)
	}

	if c.DownloadTimeout <= 0 {
		return fmt.Errorf("download timeout must be positive: %s", c.DownloadTimeout)
	}

	if c.KillGracePeriod <= 0 {
		return fmt.Errorf("kill grace period must be positive: %s", c.KillGracePeriod)
	}

	if c.MaxFileSize <= 0 {
		return fmt.Errorf("max file size must be positive: %d", c.MaxFileSize)
	}

	if c.DownloadDir == "" {
		return fmt.Errorf("download directory cannot be empty")
	}

	if c.RetentionAge <= 0 {
		return fmt.Errorf("retention age must be positive: %s", c.RetentionAge)
	}

	if c.SaturationThreshold <= 0 || c.SaturationThreshold > 1 {
		return fmt.Errorf("saturation threshold must be in (0, 1]: %f", c.SaturationThreshold)
	}

	return nil
}
