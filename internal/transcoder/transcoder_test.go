package transcoder

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"chromi/internal/filesystem"
)

// writeScript installs an executable shell script standing in for ffmpeg.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fakes require a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("Failed to create fake ffmpeg: %v", err)
	}
	return path
}

// newJob creates an input clip and an empty output file, as the orchestrator would.
func newJob(t *testing.T) Job {
	t.Helper()
	dir := t.TempDir()
	in := filepath.Join(dir, "in.mp4")
	out := filepath.Join(dir, "out.gif")
	if err := os.WriteFile(in, []byte("not really a video"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(out, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	return Job{InputPath: in, OutputPath: out, StartSeconds: 2, DurationSeconds: 6}
}

const writeLastArg = `for last; do :; done
printf 'GIF89a-fake' > "$last"
`

func TestFFmpegSuccess(t *testing.T) {
	bin := writeScript(t, writeLastArg)
	job := newJob(t)

	ff := NewFFmpeg(Options{FFmpegPath: bin, Timeout: 5 * time.Second})
	if err := ff.Transcode(context.Background(), job); err != nil {
		t.Fatalf("Transcode() error = %v", err)
	}

	data, err := os.ReadFile(job.OutputPath)
	if err != nil || !strings.HasPrefix(string(data), "GIF89a") {
		t.Errorf("output = %q, %v", data, err)
	}
	if _, err := os.Stat(job.InputPath); err != nil {
		t.Errorf("input was touched: %v", err)
	}
}

func TestFFmpegFailureKinds(t *testing.T) {
	tests := []struct {
		name       string
		script     string
		timeout    time.Duration
		wantKind   error
		wantStderr string
	}{
		{
			name:       "non-zero exit",
			script:     "echo 'Invalid data found when processing input' >&2\nexit 1\n",
			timeout:    5 * time.Second,
			wantKind:   ErrProcessFailed,
			wantStderr: "Invalid data found",
		},
		{
			name:     "exit zero without output",
			script:   "exit 0\n",
			timeout:  5 * time.Second,
			wantKind: ErrEmptyOutput,
		},
		{
			name:     "timeout",
			script:   "exec sleep 10\n",
			timeout:  200 * time.Millisecond,
			wantKind: ErrTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bin := writeScript(t, tt.script)
			job := newJob(t)

			ff := NewFFmpeg(Options{FFmpegPath: bin, Timeout: tt.timeout})
			start := time.Now()
			err := ff.Transcode(context.Background(), job)

			if !errors.Is(err, tt.wantKind) {
				t.Fatalf("Transcode() error = %v, want %v", err, tt.wantKind)
			}
			if Kind(err) != tt.wantKind {
				t.Errorf("Kind() = %v, want %v", Kind(err), tt.wantKind)
			}

			var te *Error
			if !errors.As(err, &te) {
				t.Fatalf("error is not *Error: %T", err)
			}
			if te.Invoker != NameFFmpeg {
				t.Errorf("Invoker = %q, want %q", te.Invoker, NameFFmpeg)
			}
			if tt.wantStderr != "" && !strings.Contains(te.Stderr, tt.wantStderr) {
				t.Errorf("Stderr = %q, want it to contain %q", te.Stderr, tt.wantStderr)
			}
			if tt.wantKind == ErrTimeout && time.Since(start) > 5*time.Second {
				t.Errorf("timeout took %v to return", time.Since(start))
			}
			if ff.Active() != 0 {
				t.Errorf("Active() = %d after Transcode returned", ff.Active())
			}
		})
	}
}

func TestFFmpegCancelled(t *testing.T) {
	bin := writeScript(t, "exec sleep 10\n")
	job := newJob(t)
	ff := NewFFmpeg(Options{FFmpegPath: bin, Timeout: 5 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	err := ff.Transcode(ctx, job)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Transcode() error = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrTimeout) {
		t.Error("cancellation reported as a timeout")
	}
	if Retryable(err) {
		t.Error("cancelled run should not be retryable")
	}
}

func TestFFmpegMissingBinary(t *testing.T) {
	job := newJob(t)
	ff := NewFFmpeg(Options{FFmpegPath: filepath.Join(t.TempDir(), "no-such-ffmpeg")})

	if err := ff.Transcode(context.Background(), job); !errors.Is(err, ErrProcessFailed) {
		t.Errorf("Transcode() error = %v, want ErrProcessFailed", err)
	}
}

func TestPreconditionsSkipProcess(t *testing.T) {
	// The fake would create a marker if it were ever run.
	marker := filepath.Join(t.TempDir(), "ran")
	bin := writeScript(t, "touch '"+marker+"'\n")

	base := newJob(t)
	tests := []struct {
		name string
		job  Job
	}{
		{"negative start", Job{InputPath: base.InputPath, OutputPath: base.OutputPath, StartSeconds: -1, DurationSeconds: 6}},
		{"zero duration", Job{InputPath: base.InputPath, OutputPath: base.OutputPath, DurationSeconds: 0}},
		{"missing input", Job{InputPath: base.InputPath + ".gone", OutputPath: base.OutputPath, DurationSeconds: 6}},
		{"no output path", Job{InputPath: base.InputPath, DurationSeconds: 6}},
	}

	ff := NewFFmpeg(Options{FFmpegPath: bin})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ff.Transcode(context.Background(), tt.job); !errors.Is(err, ErrProcessFailed) {
				t.Errorf("Transcode() error = %v, want ErrProcessFailed", err)
			}
		})
	}

	if _, err := os.Stat(marker); err == nil {
		t.Error("ffmpeg was invoked despite failed preconditions")
	}
}

func TestFFmpegArgs(t *testing.T) {
	ff := NewFFmpeg(Options{})
	args := strings.Join(ff.args(Job{InputPath: "in.mp4", OutputPath: "out.gif", StartSeconds: 83, DurationSeconds: 6}), " ")

	for _, want := range []string{
		"-ss 83.000",
		"-t 6.000",
		"-i in.mp4",
		"fps=15,scale=1280:720:force_original_aspect_ratio=decrease:flags=lanczos",
		"palettegen=stats_mode=diff",
		"paletteuse=dither=sierra2_4a",
		"-loop 0",
		"-an",
	} {
		if !strings.Contains(args, want) {
			t.Errorf("args missing %q: %s", want, args)
		}
	}
	if !strings.HasSuffix(args, "out.gif") {
		t.Errorf("output path should be the last argument: %s", args)
	}
}

func TestOptionsDefaults(t *testing.T) {
	got := Options{FPS: 10}.withDefaults()
	if got.FPS != 10 {
		t.Errorf("FPS = %d, want explicit 10", got.FPS)
	}
	if got.Timeout != 120*time.Second || got.MaxWidth != 1280 || got.MaxHeight != 720 || got.FFmpegPath != "ffmpeg" {
		t.Errorf("withDefaults() = %+v", got)
	}
}

func TestTailBuffer(t *testing.T) {
	tb := &tailBuffer{max: 8}
	_, _ = tb.Write([]byte("hello "))
	_, _ = tb.Write([]byte("world"))
	if got := tb.String(); got != "lo world" {
		t.Errorf("tail = %q, want %q", got, "lo world")
	}
	_, _ = tb.Write([]byte("0123456789abcdef"))
	if got := tb.String(); got != "89abcdef" {
		t.Errorf("tail = %q, want %q", got, "89abcdef")
	}
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 90, A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func newScratch(t *testing.T) *filesystem.Manager {
	t.Helper()
	m, err := filesystem.NewManager("converted", t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestFrameEncoderSuccess(t *testing.T) {
	fixture := filepath.Join(t.TempDir(), "fixture.png")
	writePNG(t, fixture, 200, 100)

	bin := writeScript(t, `for last; do :; done
dir=$(dirname "$last")
cp '`+fixture+`' "$dir/frame_00001.png"
cp '`+fixture+`' "$dir/frame_00002.png"
cp '`+fixture+`' "$dir/frame_00003.png"
`)
	job := newJob(t)
	scratch := newScratch(t)

	enc := NewFrameEncoder(Options{FFmpegPath: bin, MaxWidth: 100, MaxHeight: 100}, scratch)
	if err := enc.Transcode(context.Background(), job); err != nil {
		t.Fatalf("Transcode() error = %v", err)
	}

	f, err := os.Open(job.OutputPath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	anim, err := gif.DecodeAll(f)
	if err != nil {
		t.Fatalf("output is not a GIF: %v", err)
	}
	if len(anim.Image) != 3 {
		t.Errorf("frames = %d, want 3", len(anim.Image))
	}
	if anim.LoopCount != 0 {
		t.Errorf("LoopCount = %d, want 0 (loop forever)", anim.LoopCount)
	}
	if b := anim.Image[0].Bounds(); b.Dx() != 100 || b.Dy() != 50 {
		t.Errorf("frame size = %dx%d, want 100x50", b.Dx(), b.Dy())
	}

	entries, _ := os.ReadDir(scratch.Dir())
	if len(entries) != 0 {
		t.Errorf("scratch directory not released: %d entries left", len(entries))
	}
}

func TestFrameEncoderNoFrames(t *testing.T) {
	bin := writeScript(t, "exit 0\n")
	job := newJob(t)

	enc := NewFrameEncoder(Options{FFmpegPath: bin}, newScratch(t))
	if err := enc.Transcode(context.Background(), job); !errors.Is(err, ErrEmptyOutput) {
		t.Errorf("Transcode() error = %v, want ErrEmptyOutput", err)
	}
}

func TestFrameEncoderTimeout(t *testing.T) {
	bin := writeScript(t, "exec sleep 10\n")
	job := newJob(t)

	enc := NewFrameEncoder(Options{FFmpegPath: bin, Timeout: 200 * time.Millisecond}, newScratch(t))
	if err := enc.Transcode(context.Background(), job); !errors.Is(err, ErrTimeout) {
		t.Errorf("Transcode() error = %v, want ErrTimeout", err)
	}
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Kind: ErrProcessFailed, Invoker: "ffmpeg", Err: errors.New("exit status 1"), Stderr: "boom"}
	msg := err.Error()
	for _, want := range []string{"ffmpeg", "process failed", "exit status 1", "boom"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
	if Kind(errors.New("other")) != nil {
		t.Error("Kind() of a foreign error should be nil")
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{newError(ErrProcessFailed, "ffmpeg", nil), true},
		{newError(ErrEmptyOutput, "ffmpeg", nil), true},
		{newError(ErrTimeout, "ffmpeg", nil), false},
		{newError(ErrProcessFailed, "ffmpeg", context.Canceled), false},
		{errors.New("other"), false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := Retryable(tt.err); got != tt.want {
			t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
