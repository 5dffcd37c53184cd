package converter

import (
	"errors"

	"chromi/internal/queue"
)

// Validation errors. Transcoder failures surface as the transcoder package's
// kinds and queue failures as queue.ErrQueueUnavailable.
var (
	ErrNoVideo              = errors.New("no video file provided")
	ErrUnsupportedFormat    = errors.New("unsupported video format")
	ErrStartExceedsDuration = errors.New("start time exceeds video duration")
	ErrUploadTooLarge       = errors.New("upload exceeds size limit")
	// ErrUploadExpired means a queued job's upload was swept before a
	// worker reached it.
	ErrUploadExpired = errors.New("upload expired before processing")
)

// Message returns the short, caller-safe text for err. It never includes
// paths or transcoder diagnostics.
func Message(err error) string {
	switch {
	case errors.Is(err, ErrNoVideo):
		return "No video file provided"
	case errors.Is(err, ErrUnsupportedFormat):
		return "Only .mp4, .mov, .webm, and .gif files are supported"
	case errors.Is(err, ErrStartExceedsDuration):
		return "Start time exceeds video duration"
	case errors.Is(err, ErrUploadTooLarge):
		return "Uploaded file is too large"
	case errors.Is(err, ErrUploadExpired):
		return "Upload expired before the job ran"
	case errors.Is(err, queue.ErrQueueUnavailable):
		return "Job queue unavailable"
	default:
		return "Conversion failed"
	}
}
