package converter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"chromi/internal/filesystem"
	"chromi/internal/queue"
	"chromi/internal/tokens"
	"chromi/internal/transcoder"
)

// =============================================================================
// Fakes
// =============================================================================

var gifBody = []byte("GIF89a\x01\x00\x01\x00\x80\x00\x00\xff\xff\xff\x00\x00\x00!\xf9\x04\x00\x00\x00\x00\x00,\x00\x00\x00\x00\x01\x00\x01\x00\x00\x02\x02D\x01\x00;")

type fakeInvoker struct {
	name string
	err  error
	// partial is written to the output even when err is set
	partial bool
	// during runs while the conversion is in flight
	during func()

	mu   sync.Mutex
	jobs []transcoder.Job
}

func (f *fakeInvoker) Name() string { return f.name }

func (f *fakeInvoker) Transcode(_ context.Context, job transcoder.Job) error {
	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	f.mu.Unlock()

	if f.during != nil {
		f.during()
	}

	if f.err == nil || f.partial {
		if err := os.WriteFile(job.OutputPath, gifBody, 0o644); err != nil {
			return err
		}
	}
	return f.err
}

func (f *fakeInvoker) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

type fakeProber struct {
	info transcoder.MediaInfo
	err  error
}

func (p fakeProber) Probe(context.Context, string) (transcoder.MediaInfo, error) {
	return p.info, p.err
}

type fakeQueue struct {
	err      error
	payloads []queue.Payload
}

func (q *fakeQueue) Enabled() bool { return true }

func (q *fakeQueue) Enqueue(_ context.Context, _ string, p queue.Payload) (queue.Handle, error) {
	if q.err != nil {
		return queue.Handle{}, q.err
	}
	q.payloads = append(q.payloads, p)
	return queue.Handle{ID: "01JOB"}, nil
}

func (q *fakeQueue) Fetch(context.Context, string) (queue.Status, error) {
	return queue.Status{}, queue.ErrJobNotFound
}

func transcodeErr(kind error) error {
	return &transcoder.Error{Kind: kind, Invoker: "fake"}
}

type harness struct {
	conv      *Converter
	uploads   *filesystem.Manager
	converted *filesystem.Manager
	tokens    *tokens.MemoryStore
	primary   *fakeInvoker
	fallback  *fakeInvoker
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	root := t.TempDir()

	uploads, err := filesystem.NewManager("uploads", filepath.Join(root, "uploads"))
	if err != nil {
		t.Fatal(err)
	}
	converted, err := filesystem.NewManager("converted", filepath.Join(root, "converted"))
	if err != nil {
		t.Fatal(err)
	}
	store, err := tokens.NewMemoryStore(16, converted.Release)
	if err != nil {
		t.Fatal(err)
	}

	h := &harness{
		uploads:   uploads,
		converted: converted,
		tokens:    store,
		primary:   &fakeInvoker{name: "primary"},
		fallback:  &fakeInvoker{name: "fallback"},
	}

	cfg := Config{
		Uploads:   uploads,
		Converted: converted,
		Primary:   h.primary,
		Fallback:  h.fallback,
		Prober:    fakeProber{info: transcoder.MediaInfo{Duration: 30}},
		Tokens:    store,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	h.conv, err = New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return h
}

func countEntries(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	return len(entries)
}

func gifUpload(start string) Upload {
	return Upload{Filename: "clip.gif", Body: bytes.NewReader(gifBody), StartTime: start, Duration: "30"}
}

// =============================================================================
// Parsing
// =============================================================================

func TestParseStartTime(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"01:02:03", 3723},
		{"00:00:00", 0},
		{"00:00:07", 7},
		{" 00:01:00 ", 60},
		{"1:2", 0},
		{"aa:bb:cc", 0},
		{"", 0},
		{"-1:00:00", 0},
		{"00:00:01:00", 0},
		{"00:00:1.5", 0},
		{"5124095576030432:00:00", 0},
		{"2562047788015216:00:00", 0},
		{"00:01:9223372036854775807", 0},
		{"99999999999999999999:00:00", 0},
		{"100000:00:00", 360_000_000},
		{"100000:00:01", 0},
	}

	for _, tt := range tests {
		if got := ParseStartTime(tt.in); got != tt.want {
			t.Errorf("ParseStartTime(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New(Config{}) should fail")
	}
}

// =============================================================================
// Synchronous conversion
// =============================================================================

func TestConvertSuccess(t *testing.T) {
	h := newHarness(t, nil)

	out, err := h.conv.Convert(context.Background(), gifUpload("00:00:04"))
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if out.Enqueued {
		t.Error("Convert() enqueued without a queue")
	}
	if !strings.HasPrefix(out.ConvertedURL, "/download/") || !strings.HasSuffix(out.ConvertedURL, "/") {
		t.Errorf("ConvertedURL = %q", out.ConvertedURL)
	}

	job := h.primary.jobs[0]
	if job.StartSeconds != 4 || job.DurationSeconds != ClipDuration {
		t.Errorf("job = %+v, want start 4 and duration %v", job, ClipDuration)
	}
	if h.fallback.calls() != 0 {
		t.Error("fallback ran after a successful primary")
	}

	if n := countEntries(t, h.uploads.Dir()); n != 0 {
		t.Errorf("%d uploads left behind", n)
	}
	if n := countEntries(t, h.converted.Dir()); n != 1 {
		t.Errorf("%d converted files, want 1", n)
	}

	token := strings.TrimSuffix(strings.TrimPrefix(out.ConvertedURL, "/download/"), "/")
	path, err := h.tokens.TakeOnce(context.Background(), token)
	if err != nil {
		t.Fatalf("TakeOnce() error = %v", err)
	}
	if path != job.OutputPath {
		t.Errorf("token resolves to %s, want %s", path, job.OutputPath)
	}
}

func TestConvertRejections(t *testing.T) {
	tests := []struct {
		name    string
		upload  Upload
		mutate  func(*Config)
		wantErr error
	}{
		{
			name:    "no body",
			upload:  Upload{Filename: "clip.mp4"},
			wantErr: ErrNoVideo,
		},
		{
			name:    "empty body",
			upload:  Upload{Filename: "clip.mp4", Body: strings.NewReader("")},
			wantErr: ErrNoVideo,
		},
		{
			name:    "bad extension",
			upload:  Upload{Filename: "setup.exe", Body: bytes.NewReader(gifBody)},
			wantErr: ErrUnsupportedFormat,
		},
		{
			name:    "no extension",
			upload:  Upload{Filename: "clip", Body: bytes.NewReader(gifBody)},
			wantErr: ErrUnsupportedFormat,
		},
		{
			name:    "text content",
			upload:  Upload{Filename: "clip.mp4", Body: strings.NewReader("this is plainly not a video file\n")},
			wantErr: ErrUnsupportedFormat,
		},
		{
			name:    "too large",
			upload:  gifUpload(""),
			mutate:  func(c *Config) { c.MaxUploadBytes = 8 },
			wantErr: ErrUploadTooLarge,
		},
		{
			name:    "start at end",
			upload:  gifUpload("00:00:30"),
			wantErr: ErrStartExceedsDuration,
		},
		{
			name:    "start past end",
			upload:  gifUpload("01:00:00"),
			wantErr: ErrStartExceedsDuration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.mutate)

			_, err := h.conv.Convert(context.Background(), tt.upload)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Convert() error = %v, want %v", err, tt.wantErr)
			}
			if h.primary.calls() != 0 {
				t.Error("transcoder ran for a rejected upload")
			}
			if n := countEntries(t, h.uploads.Dir()); n != 0 {
				t.Errorf("%d uploads left behind", n)
			}
			if n := countEntries(t, h.converted.Dir()); n != 0 {
				t.Errorf("%d outputs left behind", n)
			}
		})
	}
}

func TestConvertFallbackPolicy(t *testing.T) {
	tests := []struct {
		name         string
		primaryErr   error
		fallbackErr  error
		noFallback   bool
		wantFallback bool
		wantErr      error
	}{
		{
			name:         "process failure falls back",
			primaryErr:   transcodeErr(transcoder.ErrProcessFailed),
			wantFallback: true,
		},
		{
			name:         "empty output falls back",
			primaryErr:   transcodeErr(transcoder.ErrEmptyOutput),
			wantFallback: true,
		},
		{
			name:       "timeout is final",
			primaryErr: transcodeErr(transcoder.ErrTimeout),
			wantErr:    transcoder.ErrTimeout,
		},
		{
			name:       "fallback disabled",
			primaryErr: transcodeErr(transcoder.ErrProcessFailed),
			noFallback: true,
			wantErr:    transcoder.ErrProcessFailed,
		},
		{
			name:         "both fail",
			primaryErr:   transcodeErr(transcoder.ErrProcessFailed),
			fallbackErr:  transcodeErr(transcoder.ErrEmptyOutput),
			wantFallback: true,
			wantErr:      transcoder.ErrEmptyOutput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(c *Config) {
				if tt.noFallback {
					c.Fallback = nil
				}
			})
			h.primary.err = tt.primaryErr
			h.primary.partial = true
			h.fallback.err = tt.fallbackErr

			out, err := h.conv.Convert(context.Background(), gifUpload("00:00:02"))

			if (h.fallback.calls() > 0) != tt.wantFallback {
				t.Errorf("fallback calls = %d, want fallback %v", h.fallback.calls(), tt.wantFallback)
			}

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Convert() error = %v, want %v", err, tt.wantErr)
				}
				if out.ConvertedURL != "" {
					t.Error("failed conversion returned a URL")
				}
				if n := countEntries(t, h.converted.Dir()); n != 0 {
					t.Errorf("%d outputs left behind", n)
				}
				if h.tokens.Len() != 0 {
					t.Error("failed conversion left a token")
				}
			} else if err != nil {
				t.Fatalf("Convert() error = %v", err)
			}

			if n := countEntries(t, h.uploads.Dir()); n != 0 {
				t.Errorf("%d uploads left behind", n)
			}
		})
	}
}

func TestConvertCancelledSkipsFallback(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A client disconnect kills ffmpeg mid-run, which looks like a process failure.
	h.primary.err = transcodeErr(transcoder.ErrProcessFailed)
	h.primary.during = cancel

	if _, err := h.conv.Convert(ctx, gifUpload("00:00:02")); err == nil {
		t.Fatal("Convert() succeeded on a cancelled request")
	}
	if h.fallback.calls() != 0 {
		t.Error("fallback ran after the request was cancelled")
	}
	if n := countEntries(t, h.converted.Dir()); n != 0 {
		t.Errorf("%d outputs left behind", n)
	}
	if n := countEntries(t, h.uploads.Dir()); n != 0 {
		t.Errorf("%d uploads left behind", n)
	}
}

func TestConvertDeferredStartCheck(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Prober = fakeProber{err: errors.New("ffprobe missing")}
	})
	h.primary.err = transcodeErr(transcoder.ErrEmptyOutput)

	_, err := h.conv.Convert(context.Background(), gifUpload("00:10:00"))
	if !errors.Is(err, ErrStartExceedsDuration) {
		t.Fatalf("Convert() error = %v, want ErrStartExceedsDuration", err)
	}
	if h.fallback.calls() != 0 {
		t.Error("fallback ran for a start past the end")
	}
	if n := countEntries(t, h.converted.Dir()); n != 0 {
		t.Errorf("%d outputs left behind", n)
	}
}

func TestConvertWithoutProbeAtZeroStart(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Prober = nil
		c.Fallback = nil
	})
	h.primary.err = transcodeErr(transcoder.ErrEmptyOutput)

	_, err := h.conv.Convert(context.Background(), gifUpload("00:00:00"))
	if errors.Is(err, ErrStartExceedsDuration) || !errors.Is(err, transcoder.ErrEmptyOutput) {
		t.Fatalf("Convert() error = %v, want ErrEmptyOutput only", err)
	}
}

// =============================================================================
// Queued conversion
// =============================================================================

func TestConvertEnqueues(t *testing.T) {
	q := &fakeQueue{}
	h := newHarness(t, func(c *Config) { c.Queue = q })

	out, err := h.conv.Convert(context.Background(), gifUpload("00:00:03"))
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if !out.Enqueued || out.JobID != "01JOB" {
		t.Errorf("Convert() = %+v, want enqueued job 01JOB", out)
	}
	if h.primary.calls() != 0 {
		t.Error("converted synchronously with a queue configured")
	}

	p := q.payloads[0]
	if p.StartSeconds != 3 || p.DurationSeconds != ClipDuration || !strings.HasSuffix(p.OutputName, ".gif") {
		t.Errorf("payload = %+v", p)
	}
	if _, err := os.Stat(p.UploadPath); err != nil {
		t.Errorf("upload handed to the job was removed: %v", err)
	}
}

func TestConvertQueueUnavailable(t *testing.T) {
	q := &fakeQueue{err: errors.New("connection refused")}
	h := newHarness(t, func(c *Config) { c.Queue = q })

	_, err := h.conv.Convert(context.Background(), gifUpload(""))
	if !errors.Is(err, queue.ErrQueueUnavailable) {
		t.Fatalf("Convert() error = %v, want ErrQueueUnavailable", err)
	}
	if h.primary.calls() != 0 {
		t.Error("fell back to synchronous conversion")
	}
	if n := countEntries(t, h.uploads.Dir()); n != 0 {
		t.Errorf("%d uploads left behind", n)
	}
}

func TestProcess(t *testing.T) {
	h := newHarness(t, nil)

	upload, err := h.uploads.Allocate(".gif")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(upload, gifBody, 0o644); err != nil {
		t.Fatal(err)
	}

	res := h.conv.Process(context.Background(), "job-1", queue.Payload{
		UploadPath:      upload,
		OutputName:      "out.gif",
		StartSeconds:    1,
		DurationSeconds: 60,
	})
	if !res.Success || !strings.HasPrefix(res.ConvertedURL, "/download/") {
		t.Fatalf("Process() = %+v", res)
	}
	if got := h.primary.jobs[0].DurationSeconds; got != ClipDuration {
		t.Errorf("duration = %v, want %v", got, ClipDuration)
	}
	if _, err := os.Stat(upload); !os.IsNotExist(err) {
		t.Error("upload was not released after the job")
	}
	if _, err := os.Stat(filepath.Join(h.converted.Dir(), "out.gif")); err != nil {
		t.Errorf("output missing: %v", err)
	}
}

func stagedUpload(t *testing.T, h *harness) string {
	t.Helper()
	path, err := h.uploads.Allocate(".mp4")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, gifBody, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestProcessRefreshesUpload(t *testing.T) {
	h := newHarness(t, nil)
	upload := stagedUpload(t, h)

	// Queued long enough that the orphan sweep would consider it stale.
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(upload, old, old); err != nil {
		t.Fatal(err)
	}

	var mtime time.Time
	h.primary.during = func() {
		if info, err := os.Stat(upload); err == nil {
			mtime = info.ModTime()
		}
	}

	res := h.conv.Process(context.Background(), "job", queue.Payload{UploadPath: upload, OutputName: "out.gif"})
	if !res.Success {
		t.Fatalf("Process() = %+v", res)
	}
	if time.Since(mtime) > time.Minute {
		t.Errorf("upload mtime during conversion = %v, want refreshed", mtime)
	}
}

func TestProcessFailures(t *testing.T) {
	tests := []struct {
		name    string
		payload func(t *testing.T, h *harness) queue.Payload
		fail    bool
		wantMsg string
	}{
		{
			name: "upload outside work dir",
			payload: func(*testing.T, *harness) queue.Payload {
				return queue.Payload{UploadPath: "/etc/passwd", OutputName: "a.gif"}
			},
			wantMsg: "Conversion failed",
		},
		{
			name: "output name escapes",
			payload: func(_ *testing.T, h *harness) queue.Payload {
				return queue.Payload{UploadPath: filepath.Join(h.uploads.Dir(), "x.mp4"), OutputName: "../a.gif"}
			},
			wantMsg: "Conversion failed",
		},
		{
			name: "upload already swept",
			payload: func(_ *testing.T, h *harness) queue.Payload {
				return queue.Payload{UploadPath: filepath.Join(h.uploads.Dir(), "gone.mp4"), OutputName: "a.gif"}
			},
			wantMsg: "Upload expired before the job ran",
		},
		{
			name: "start past end",
			payload: func(t *testing.T, h *harness) queue.Payload {
				return queue.Payload{UploadPath: stagedUpload(t, h), OutputName: "a.gif", StartSeconds: 45}
			},
			wantMsg: "Start time exceeds video duration",
		},
		{
			name: "transcoder fails",
			payload: func(t *testing.T, h *harness) queue.Payload {
				return queue.Payload{UploadPath: stagedUpload(t, h), OutputName: "a.gif"}
			},
			fail:    true,
			wantMsg: "Conversion failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(c *Config) { c.Fallback = nil })
			if tt.fail {
				h.primary.err = transcodeErr(transcoder.ErrProcessFailed)
				h.primary.partial = true
			}

			res := h.conv.Process(context.Background(), "job", tt.payload(t, h))
			if res.Success {
				t.Fatal("Process() succeeded")
			}
			if res.Error != tt.wantMsg {
				t.Errorf("Error = %q, want %q", res.Error, tt.wantMsg)
			}
			if n := countEntries(t, h.converted.Dir()); n != 0 {
				t.Errorf("%d outputs left behind", n)
			}
		})
	}
}

func TestMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrNoVideo, "No video file provided"},
		{ErrUnsupportedFormat, "Only .mp4, .mov, .webm, and .gif files are supported"},
		{ErrStartExceedsDuration, "Start time exceeds video duration"},
		{ErrUploadTooLarge, "Uploaded file is too large"},
		{fmt.Errorf("%w: x.mp4", ErrUploadExpired), "Upload expired before the job ran"},
		{queue.ErrQueueUnavailable, "Job queue unavailable"},
		{transcodeErr(transcoder.ErrTimeout), "Conversion failed"},
		{errors.New("/secret/path: permission denied"), "Conversion failed"},
	}

	for _, tt := range tests {
		if got := Message(tt.err); got != tt.want {
			t.Errorf("Message(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
