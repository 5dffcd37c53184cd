package transcoder

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"chromi/internal/logging"
)

// NameFFmpeg is the invoker label of the palette pipeline.
const NameFFmpeg = "ffmpeg"

// FFmpeg converts clips with a single ffmpeg run that builds a palette from
// the clip and applies it, which gives far better colour than a fixed
// palette.
type FFmpeg struct {
	*runner
	opts Options
}

// NewFFmpeg creates the primary invoker.
func NewFFmpeg(opts Options) *FFmpeg {
	return &FFmpeg{
		runner: newRunner(NameFFmpeg),
		opts:   opts.withDefaults(),
	}
}

// Name implements Invoker.
func (f *FFmpeg) Name() string {
	return NameFFmpeg
}

// Transcode implements Invoker.
func (f *FFmpeg) Transcode(ctx context.Context, job Job) error {
	if err := checkJob(NameFFmpeg, job); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	start := time.Now()
	if err := f.run(ctx, job.InputPath, f.opts.FFmpegPath, f.args(job)...); err != nil {
		if Kind(err) == ErrTimeout {
			discardPartial(job.OutputPath)
		}
		return err
	}

	if err := checkOutput(NameFFmpeg, job.OutputPath); err != nil {
		return err
	}

	logging.Duration("ffmpeg palette conversion", start)
	return nil
}

// FilterGraph returns the -filter_complex expression for the given settings.
func FilterGraph(fps, maxWidth, maxHeight int) string {
	return fmt.Sprintf(
		"fps=%d,scale=%d:%d:force_original_aspect_ratio=decrease:flags=lanczos,split[a][b];"+
			"[a]palettegen=stats_mode=diff[p];[b][p]paletteuse=dither=sierra2_4a",
		fps, maxWidth, maxHeight)
}

func (f *FFmpeg) args(job Job) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostdin",
		"-y",
		"-ss", formatSeconds(job.StartSeconds),
		"-t", formatSeconds(job.DurationSeconds),
		"-i", job.InputPath,
		"-filter_complex", FilterGraph(f.opts.FPS, f.opts.MaxWidth, f.opts.MaxHeight),
		"-loop", strconv.Itoa(0),
		"-an",
		"-f", "gif",
		job.OutputPath,
	}
}
