package errors

import "errors"

var (
	ErrJobNotFound           = errors.New("job not found")
	ErrInvalidTransition     = errors.New("invalid job state transition")
	ErrQueueFull             = errors.New("download queue is full")
	ErrShuttingDown          = errors.New("service is shutting down")
	ErrDownloaderUnavailable = errors.New("downloader binary unavailable")
)
