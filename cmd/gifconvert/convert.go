package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"chromi/internal/converter"
	"chromi/internal/filesystem"
	"chromi/internal/transcoder"
)

type convertOptions struct {
	output    string
	start     string
	fps       int
	maxWidth  int
	maxHeight int
	timeout   time.Duration
	ffmpeg    string
	ffprobe   string
	fallback  bool
}

func newConvertCmd() *cobra.Command {
	d := transcoder.DefaultOptions()
	o := convertOptions{}

	cmd := &cobra.Command{
		Use:   "convert <input>",
		Short: "Convert a clip to a GIF",
		Long: `Convert writes <input-name>.gif next to the input unless --output is given.
Use --output - to write the GIF to stdout; stdout must not be a terminal.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), args[0], o)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&o.output, "output", "o", "", "output file, or - for stdout")
	f.StringVarP(&o.start, "start", "s", "00:00:00", "start time as HH:MM:SS")
	f.IntVar(&o.fps, "fps", d.FPS, "frames per second")
	f.IntVar(&o.maxWidth, "max-width", d.MaxWidth, "maximum width in pixels")
	f.IntVar(&o.maxHeight, "max-height", d.MaxHeight, "maximum height in pixels")
	f.DurationVar(&o.timeout, "timeout", d.Timeout, "time limit per encoder attempt")
	f.StringVar(&o.ffmpeg, "ffmpeg", d.FFmpegPath, "ffmpeg binary")
	f.StringVar(&o.ffprobe, "ffprobe", "ffprobe", "ffprobe binary")
	f.BoolVar(&o.fallback, "fallback", true, "retry with the frame encoder when ffmpeg fails")
	return cmd
}

func defaultOutput(input string) string {
	return strings.TrimSuffix(input, filepath.Ext(input)) + ".gif"
}

func runConvert(ctx context.Context, stdout, stderr io.Writer, input string, o convertOptions) error {
	if ext := strings.ToLower(filepath.Ext(input)); !converter.Supported(ext) {
		return converter.ErrUnsupportedFormat
	}
	if _, err := os.Stat(input); err != nil {
		return err
	}

	toStdout := o.output == "-"
	if toStdout && isTerminal(stdout) {
		return errors.New("refusing to write a GIF to a terminal; redirect stdout or use --output")
	}
	chatty := isTerminal(stderr)
	say := func(format string, args ...interface{}) {
		if chatty {
			fmt.Fprintf(stderr, format+"\n", args...)
		}
	}

	start := converter.ParseStartTime(o.start)
	info, err := transcoder.NewFFprobe(o.ffprobe, 0).Probe(ctx, input)
	probed := err == nil
	if probed {
		say("%s: %.1fs %dx%d %s", filepath.Base(input), info.Duration, info.Width, info.Height, info.Codec)
		if start >= info.Duration {
			return converter.ErrStartExceedsDuration
		}
	}

	work, err := os.MkdirTemp("", "gifconvert-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(work)

	scratch, err := filesystem.NewManager("scratch", work)
	if err != nil {
		return err
	}

	outPath := o.output
	switch {
	case toStdout:
		outPath = filepath.Join(work, "out.gif")
	case outPath == "":
		outPath = defaultOutput(input)
	}

	opts := transcoder.Options{
		FFmpegPath: o.ffmpeg,
		Timeout:    o.timeout,
		FPS:        o.fps,
		MaxWidth:   o.maxWidth,
		MaxHeight:  o.maxHeight,
	}
	invokers := []transcoder.Invoker{transcoder.NewFFmpeg(opts)}
	if o.fallback {
		invokers = append(invokers, transcoder.NewFrameEncoder(opts, scratch))
	}

	job := transcoder.Job{
		InputPath:       input,
		OutputPath:      outPath,
		StartSeconds:    start,
		DurationSeconds: converter.ClipDuration,
	}
	if err := encode(ctx, invokers, job, say); err != nil {
		_ = os.Remove(outPath)
		if !probed && start > 0 && errors.Is(err, transcoder.ErrEmptyOutput) {
			return converter.ErrStartExceedsDuration
		}
		return err
	}

	if toStdout {
		f, err := os.Open(outPath)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(stdout, f)
		return err
	}

	say("wrote %s", outPath)
	return nil
}

// encode tries each invoker in turn while the failure is retryable.
func encode(ctx context.Context, invokers []transcoder.Invoker, job transcoder.Job, say func(string, ...interface{})) error {
	var err error
	for i, inv := range invokers {
		if i > 0 {
			say("%s failed, trying %s", invokers[i-1].Name(), inv.Name())
		}
		begin := time.Now()
		if err = inv.Transcode(ctx, job); err == nil {
			say("%s finished in %v", inv.Name(), time.Since(begin).Round(time.Millisecond))
			return nil
		}
		if !transcoder.Retryable(err) {
			return err
		}
	}
	return err
}
