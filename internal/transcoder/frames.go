package transcoder

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"chromi/internal/logging"
	"chromi/internal/media"
)

// NameFallback is the invoker label of the frame encoder.
const NameFallback = "fallback"

// ScratchSpace hands out and reclaims temporary directories.
// *filesystem.Manager satisfies it.
type ScratchSpace interface {
	AllocateDir(suffix string) (string, error)
	Release(path string) error
}

// FrameEncoder is the fallback invoker. ffmpeg only extracts PNG frames;
// scaling, quantization and GIF encoding happen in process, so it still
// works when the ffmpeg build lacks palettegen or chokes on the filter graph.
type FrameEncoder struct {
	*runner
	opts    Options
	scratch ScratchSpace
}

// NewFrameEncoder creates the fallback invoker.
func NewFrameEncoder(opts Options, scratch ScratchSpace) *FrameEncoder {
	return &FrameEncoder{
		runner:  newRunner(NameFallback),
		opts:    opts.withDefaults(),
		scratch: scratch,
	}
}

// Name implements Invoker.
func (e *FrameEncoder) Name() string {
	return NameFallback
}

// Transcode implements Invoker.
func (e *FrameEncoder) Transcode(ctx context.Context, job Job) error {
	if err := checkJob(NameFallback, job); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	dir, err := e.scratch.AllocateDir(".frames")
	if err != nil {
		return newError(ErrProcessFailed, NameFallback, err)
	}
	defer func() {
		if err := e.scratch.Release(dir); err != nil {
			logging.Warn("failed to release frame directory %s: %v", dir, err)
		}
	}()

	start := time.Now()
	if err := e.run(ctx, job.InputPath, e.opts.FFmpegPath, e.extractArgs(job, dir)...); err != nil {
		return err
	}

	frames, err := listFrames(dir)
	if err != nil {
		return newError(ErrProcessFailed, NameFallback, err)
	}
	if len(frames) == 0 {
		return newError(ErrEmptyOutput, NameFallback, errors.New("no frames extracted"))
	}

	anim, err := e.buildAnimation(ctx, frames)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			discardPartial(job.OutputPath)
			return newError(ErrTimeout, NameFallback, ctx.Err())
		}
		return newError(ErrProcessFailed, NameFallback, err)
	}

	if err := writeGIF(job.OutputPath, anim); err != nil {
		return newError(ErrProcessFailed, NameFallback, err)
	}

	if err := checkOutput(NameFallback, job.OutputPath); err != nil {
		return err
	}

	logging.Duration(fmt.Sprintf("fallback conversion (%d frames)", len(frames)), start)
	return nil
}

func (e *FrameEncoder) extractArgs(job Job, dir string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostdin",
		"-y",
		"-ss", formatSeconds(job.StartSeconds),
		"-t", formatSeconds(job.DurationSeconds),
		"-i", job.InputPath,
		"-vf", "fps=" + strconv.Itoa(e.opts.FPS),
		"-an",
		filepath.Join(dir, "frame_%05d.png"),
	}
}

func (e *FrameEncoder) buildAnimation(ctx context.Context, frames []string) (*gif.GIF, error) {
	// GIF delays are in hundredths of a second
	delay := 100 / e.opts.FPS
	if delay < 2 {
		delay = 2
	}

	anim := &gif.GIF{
		Image:     make([]*image.Paletted, 0, len(frames)),
		Delay:     make([]int, 0, len(frames)),
		LoopCount: 0,
	}

	for _, path := range frames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		img, err := media.LoadFrame(path, e.opts.MaxWidth, e.opts.MaxHeight)
		if err != nil {
			return nil, fmt.Errorf("frame %s: %w", filepath.Base(path), err)
		}

		anim.Image = append(anim.Image, media.Quantize(img, nil))
		anim.Delay = append(anim.Delay, delay)
	}

	return anim, nil
}

func listFrames(dir string) ([]string, error) {
	frames, err := filepath.Glob(filepath.Join(dir, "frame_*.png"))
	if err != nil {
		return nil, err
	}
	sort.Strings(frames)
	return frames, nil
}

func writeGIF(path string, anim *gif.GIF) (err error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return gif.EncodeAll(f, anim)
}
