// Package queue runs conversions outside the request that submitted them.
//
// Three implementations satisfy Queue: Disabled (no queue configured),
// Local (an in-process worker pool) and Redis (a list consumed by the
// chromi-worker binary). Callers only see handles and statuses; how a job is
// executed stays behind the interface.
package queue

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrQueueUnavailable is returned when no queue is configured or the
	// backend cannot accept work.
	ErrQueueUnavailable = errors.New("job queue unavailable")
	// ErrJobNotFound is returned by Fetch for unknown or expired job IDs.
	ErrJobNotFound = errors.New("job not found")
	// ErrUnknownTask is returned by Enqueue for task names with no handler.
	ErrUnknownTask = errors.New("unknown task")
)

// TaskConvert is the only task chromi enqueues.
const TaskConvert = "convert_video"

// Job states.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusFinished   = "finished"
	StatusFailed     = "failed"
)

// Payload is everything a worker needs to run a conversion. Paths are
// resolved by the worker; only the upload path crosses the boundary since
// it already exists on the shared work directory.
type Payload struct {
	UploadPath      string  `json:"upload_path"`
	OutputName      string  `json:"output_name"`
	StartSeconds    float64 `json:"start_seconds"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Result is what a finished job reports.
type Result struct {
	Success      bool   `json:"success"`
	ConvertedURL string `json:"converted_url,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Handle identifies an enqueued job.
type Handle struct {
	ID string `json:"id"`
}

// Status is a point-in-time view of a job.
type Status struct {
	ID     string            `json:"id"`
	Status string            `json:"status"`
	Result *Result           `json:"result,omitempty"`
	Meta   map[string]string `json:"meta,omitempty"`
}

// ConvertedURL returns the download URL of a finished job, if any.
func (s Status) ConvertedURL() string {
	if s.Result != nil && s.Result.ConvertedURL != "" {
		return s.Result.ConvertedURL
	}
	return s.Meta["converted_url"]
}

// Handler executes one job. It must not panic and must always return a
// Result, reporting failures through Result.Error.
type Handler func(ctx context.Context, id string, p Payload) Result

// Queue is the capability the orchestrator depends on.
type Queue interface {
	Enabled() bool
	Enqueue(ctx context.Context, task string, p Payload) (Handle, error)
	Fetch(ctx context.Context, id string) (Status, error)
}

// Disabled is the Queue used when no backend is configured.
type Disabled struct{}

// Enabled implements Queue.
func (Disabled) Enabled() bool { return false }

// Enqueue implements Queue.
func (Disabled) Enqueue(context.Context, string, Payload) (Handle, error) {
	return Handle{}, ErrQueueUnavailable
}

// Fetch implements Queue.
func (Disabled) Fetch(context.Context, string) (Status, error) {
	return Status{}, ErrQueueUnavailable
}

func resultStatus(r Result) string {
	if r.Success {
		return StatusFinished
	}
	return StatusFailed
}

// defaultRetention is how long finished job records are kept when the
// caller passes zero.
const defaultRetention = 10 * time.Minute
