package converter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"chromi/internal/filesystem"
	"chromi/internal/logging"
	"chromi/internal/mediatypes"
	"chromi/internal/metrics"
	"chromi/internal/queue"
	"chromi/internal/tokens"
	"chromi/internal/transcoder"
)

// ClipDuration is the length of every GIF in seconds. Callers cannot
// change it.
const ClipDuration = 6.0

const (
	defaultTokenTTL       = 600 * time.Second
	defaultMaxUploadBytes = 100 << 20
)

// Supported reports whether ext (lower case, with the dot) is an accepted
// upload extension.
func Supported(ext string) bool {
	return mediatypes.IsUpload(ext)
}

// maxStartSeconds caps parsed offsets well below integer overflow. No clip
// is a hundred thousand hours long.
const maxStartSeconds = 100_000 * 3600

// ParseStartTime converts "HH:MM:SS" into seconds. Anything malformed,
// including negative or out of range fields, yields 0.
func ParseStartTime(s string) float64 {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return 0
	}

	total := 0
	for i, unit := range []int{3600, 60, 1} {
		n, err := strconv.Atoi(parts[i])
		if err != nil || n < 0 || n > (maxStartSeconds-total)/unit {
			return 0
		}
		total += n * unit
	}
	return float64(total)
}

// DownloadURL is the relative URL at which token is redeemed.
func DownloadURL(token string) string {
	return "/download/" + token + "/"
}

// Upload is one conversion request as received from a caller.
type Upload struct {
	Filename  string
	Body      io.Reader
	StartTime string
	// Duration is accepted for compatibility and ignored.
	Duration string
}

// Outcome is either a finished conversion or a queued job.
type Outcome struct {
	ConvertedURL string
	Enqueued     bool
	JobID        string
}

// Config wires a Converter. Uploads, Converted, Primary and Tokens are
// required.
type Config struct {
	Uploads   *filesystem.Manager
	Converted *filesystem.Manager

	Primary transcoder.Invoker
	// Fallback runs when Primary fails with ErrProcessFailed or
	// ErrEmptyOutput. Nil disables it.
	Fallback transcoder.Invoker
	// Prober is used to reject start offsets before converting. When nil
	// or failing, the check happens after conversion.
	Prober transcoder.Prober

	Tokens tokens.Store
	// Queue defaults to queue.Disabled.
	Queue queue.Queue

	TokenTTL       time.Duration
	MaxUploadBytes int64
}

// Converter validates uploads, runs conversions and issues download tokens.
type Converter struct {
	cfg    Config
	tracer trace.Tracer
}

// New validates cfg and returns a Converter.
func New(cfg Config) (*Converter, error) {
	switch {
	case cfg.Uploads == nil || cfg.Converted == nil:
		return nil, errors.New("converter: upload and output directories are required")
	case cfg.Primary == nil:
		return nil, errors.New("converter: a primary invoker is required")
	case cfg.Tokens == nil:
		return nil, errors.New("converter: a token store is required")
	}

	if cfg.Queue == nil {
		cfg.Queue = queue.Disabled{}
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}

	return &Converter{cfg: cfg, tracer: otel.Tracer("chromi/converter")}, nil
}

// QueueEnabled reports whether conversions are handed to a job queue.
func (c *Converter) QueueEnabled() bool {
	return c.cfg.Queue.Enabled()
}

// Convert stages up and either converts it in place or enqueues it. On
// any error every file created for the request has been removed by the
// time Convert returns.
func (c *Converter) Convert(ctx context.Context, up Upload) (Outcome, error) {
	ctx, span := c.tracer.Start(ctx, "converter.Convert")
	defer span.End()

	if up.Body == nil {
		reject("no_video")
		return Outcome{}, ErrNoVideo
	}

	ext := strings.ToLower(filepath.Ext(up.Filename))
	if !Supported(ext) {
		reject("unsupported_format")
		return Outcome{}, fmt.Errorf("%w: extension %q", ErrUnsupportedFormat, ext)
	}

	scope := filesystem.NewScope()
	defer scope.Close()

	uploadPath, err := scope.Allocate(c.cfg.Uploads, ext)
	if err != nil {
		return Outcome{}, fmt.Errorf("stage upload: %w", err)
	}
	if err := c.stage(uploadPath, up.Body); err != nil {
		return Outcome{}, err
	}

	start := ParseStartTime(up.StartTime)
	span.SetAttributes(attribute.Float64("start_seconds", start))

	probed, err := c.checkStart(ctx, uploadPath, start)
	if err != nil {
		return Outcome{}, err
	}

	if c.cfg.Queue.Enabled() {
		return c.enqueue(ctx, scope, uploadPath, start)
	}

	outPath, err := scope.Allocate(c.cfg.Converted, ".gif")
	if err != nil {
		return Outcome{}, fmt.Errorf("allocate output: %w", err)
	}

	url, err := c.produce(ctx, scope, uploadPath, outPath, start, probed)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "conversion failed")
		return Outcome{}, err
	}
	return Outcome{ConvertedURL: url}, nil
}

// Process runs a queued conversion. It follows the same rules as a
// synchronous Convert: the upload is always released and the output is
// kept only once a token exists for it.
func (c *Converter) Process(ctx context.Context, id string, p queue.Payload) queue.Result {
	ctx, span := c.tracer.Start(ctx, "converter.Process", trace.WithAttributes(attribute.String("job_id", id)))
	defer span.End()

	scope := filesystem.NewScope()
	defer scope.Close()

	if !c.cfg.Uploads.Owns(p.UploadPath) {
		return c.fail(id, fmt.Errorf("upload %q: %w", p.UploadPath, filesystem.ErrOutsideRoot))
	}
	scope.Track(c.cfg.Uploads, p.UploadPath)

	outPath, err := c.cfg.Converted.Resolve(p.OutputName)
	if err != nil {
		return c.fail(id, err)
	}
	scope.Track(c.cfg.Converted, outPath)

	if err := touch(p.UploadPath); err != nil {
		return c.fail(id, err)
	}

	probed, err := c.checkStart(ctx, p.UploadPath, p.StartSeconds)
	if err != nil {
		return c.fail(id, err)
	}

	url, err := c.produce(ctx, scope, p.UploadPath, outPath, p.StartSeconds, probed)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "conversion failed")
		return c.fail(id, err)
	}

	logging.Info("Job %s finished: %s", id, url)
	return queue.Result{Success: true, ConvertedURL: url}
}

// touch marks a claimed upload as fresh so the orphan sweep leaves it
// alone while it converts.
func touch(path string) error {
	now := time.Now()
	err := os.Chtimes(path, now, now)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%w: %s", ErrUploadExpired, filepath.Base(path))
	case err != nil:
		logging.Warn("Failed to refresh %s: %v", filepath.Base(path), err)
	}
	return nil
}

func (c *Converter) fail(id string, err error) queue.Result {
	logging.Error("Job %s failed: %v", id, err)
	return queue.Result{Error: Message(err)}
}

// stage copies the request body into path, enforcing the size limit and
// checking that the content looks like video.
func (c *Converter) stage(path string, body io.Reader) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}

	n, err := io.Copy(f, io.LimitReader(body, c.cfg.MaxUploadBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write upload: %w", err)
	}

	switch {
	case n == 0:
		reject("no_video")
		return ErrNoVideo
	case n > c.cfg.MaxUploadBytes:
		reject("too_large")
		return fmt.Errorf("%w: limit is %d bytes", ErrUploadTooLarge, c.cfg.MaxUploadBytes)
	}
	metrics.UploadSizeBytes.Observe(float64(n))

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return fmt.Errorf("sniff upload: %w", err)
	}
	if !acceptedContent(mt) {
		reject("unsupported_format")
		return fmt.Errorf("%w: content is %s", ErrUnsupportedFormat, mt.String())
	}

	logging.Debug("Staged %d byte upload (%s) at %s", n, mt.String(), filepath.Base(path))
	return nil
}

// acceptedContent lets through anything recognized as video or GIF, and
// containers the sniffer does not know, which ffmpeg gets to judge.
func acceptedContent(mt *mimetype.MIME) bool {
	return strings.HasPrefix(mt.String(), "video/") ||
		mt.Is(mediatypes.GIF) ||
		mt.Is("application/octet-stream")
}

// checkStart rejects start offsets at or past the end of the clip. It
// reports whether the source duration was known.
func (c *Converter) checkStart(ctx context.Context, path string, start float64) (bool, error) {
	if c.cfg.Prober == nil {
		return false, nil
	}

	begin := time.Now()
	info, err := c.cfg.Prober.Probe(ctx, path)
	metrics.ProbeDuration.Observe(time.Since(begin).Seconds())
	if err != nil {
		logging.Warn("Probe of %s failed, start time will be checked after conversion: %v", filepath.Base(path), err)
		return false, nil
	}

	if start >= info.Duration {
		reject("start_exceeds_duration")
		return true, fmt.Errorf("%w: start %.0fs, clip is %.2fs", ErrStartExceedsDuration, start, info.Duration)
	}
	return true, nil
}

func (c *Converter) enqueue(ctx context.Context, scope *filesystem.Scope, uploadPath string, start float64) (Outcome, error) {
	h, err := c.cfg.Queue.Enqueue(ctx, queue.TaskConvert, queue.Payload{
		UploadPath:      uploadPath,
		OutputName:      uuid.NewString() + ".gif",
		StartSeconds:    start,
		DurationSeconds: ClipDuration,
	})
	if err != nil {
		if !errors.Is(err, queue.ErrQueueUnavailable) {
			err = fmt.Errorf("%w: %w", queue.ErrQueueUnavailable, err)
		}
		return Outcome{}, err
	}

	// The job owns the upload now.
	scope.Keep(uploadPath)
	logging.Info("Enqueued conversion job %s", h.ID)
	return Outcome{Enqueued: true, JobID: h.ID}, nil
}

// produce converts the upload into outPath and issues a token for it.
func (c *Converter) produce(ctx context.Context, scope *filesystem.Scope, uploadPath, outPath string, start float64, probed bool) (string, error) {
	job := transcoder.Job{
		InputPath:       uploadPath,
		OutputPath:      outPath,
		StartSeconds:    start,
		DurationSeconds: ClipDuration,
	}
	if err := c.transcode(ctx, job, probed); err != nil {
		return "", err
	}

	token, err := c.cfg.Tokens.Put(ctx, outPath, c.cfg.TokenTTL)
	if err != nil {
		return "", fmt.Errorf("issue download token: %w", err)
	}
	scope.Keep(outPath)
	return DownloadURL(token), nil
}

// transcode runs the primary invoker, then the fallback when the primary
// failed in a way a different encoder may not. Timeouts are final.
func (c *Converter) transcode(ctx context.Context, job transcoder.Job, probed bool) error {
	err := c.run(ctx, c.cfg.Primary, job)
	if err == nil {
		return nil
	}
	if serr := startPastEnd(err, job, probed); serr != nil {
		return serr
	}
	if c.cfg.Fallback == nil || !transcoder.Retryable(err) || ctx.Err() != nil {
		return err
	}

	logging.Warn("%s failed, retrying with %s", c.cfg.Primary.Name(), c.cfg.Fallback.Name())
	ferr := c.run(ctx, c.cfg.Fallback, job)
	if ferr == nil {
		return nil
	}
	if serr := startPastEnd(ferr, job, probed); serr != nil {
		return serr
	}
	return ferr
}

// startPastEnd turns empty output into ErrStartExceedsDuration when the
// clip length was never known and the job started past zero.
func startPastEnd(err error, job transcoder.Job, probed bool) error {
	if probed || job.StartSeconds <= 0 || !errors.Is(err, transcoder.ErrEmptyOutput) {
		return nil
	}
	reject("start_exceeds_duration")
	return fmt.Errorf("%w: %w", ErrStartExceedsDuration, err)
}

func (c *Converter) run(ctx context.Context, inv transcoder.Invoker, job transcoder.Job) error {
	name := inv.Name()
	ctx, span := c.tracer.Start(ctx, "transcoder.Transcode", trace.WithAttributes(attribute.String("invoker", name)))
	defer span.End()

	metrics.ConversionsInProgress.Inc()
	defer metrics.ConversionsInProgress.Dec()

	begin := time.Now()
	err := inv.Transcode(ctx, job)
	metrics.ConversionDuration.WithLabelValues(name).Observe(time.Since(begin).Seconds())
	metrics.ConversionsTotal.WithLabelValues(name, conversionStatus(err)).Inc()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transcode failed")
		logging.Error("%s conversion of %s failed: %v", name, filepath.Base(job.InputPath), err)
		return err
	}

	if info, err := os.Stat(job.OutputPath); err == nil {
		metrics.GIFOutputBytes.Observe(float64(info.Size()))
	}
	logging.Info("%s converted %s in %v", name, filepath.Base(job.InputPath), time.Since(begin).Round(time.Millisecond))
	return nil
}

func conversionStatus(err error) string {
	if err == nil {
		return metrics.StatusSuccess
	}
	switch transcoder.Kind(err) {
	case transcoder.ErrTimeout:
		return metrics.StatusTimeout
	case transcoder.ErrEmptyOutput:
		return metrics.StatusEmpty
	default:
		return metrics.StatusFailed
	}
}

func reject(reason string) {
	metrics.ConversionRejections.WithLabelValues(reason).Inc()
}
