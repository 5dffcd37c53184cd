package transcoder

import (
	"context"
	"time"
)

// Job describes one clip-to-GIF conversion.
type Job struct {
	InputPath       string
	OutputPath      string
	StartSeconds    float64
	DurationSeconds float64
}

// Invoker turns a Job into a GIF at Job.OutputPath. Implementations never
// modify the input and never retry internally.
type Invoker interface {
	Name() string
	Transcode(ctx context.Context, job Job) error
}

// Options configures both invokers.
type Options struct {
	FFmpegPath string
	Timeout    time.Duration
	FPS        int
	MaxWidth   int
	MaxHeight  int
}

// DefaultOptions returns the settings used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		FFmpegPath: "ffmpeg",
		Timeout:    120 * time.Second,
		FPS:        15,
		MaxWidth:   1280,
		MaxHeight:  720,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.FFmpegPath == "" {
		o.FFmpegPath = d.FFmpegPath
	}
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.FPS <= 0 {
		o.FPS = d.FPS
	}
	if o.MaxWidth <= 0 {
		o.MaxWidth = d.MaxWidth
	}
	if o.MaxHeight <= 0 {
		o.MaxHeight = d.MaxHeight
	}
	return o
}
