package main

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"chromi/internal/converter"
	"chromi/internal/filesystem"
	"chromi/internal/handlers"
	"chromi/internal/logging"
	"chromi/internal/metrics"
	"chromi/internal/queue"
	"chromi/internal/redisconn"
	"chromi/internal/startup"
	"chromi/internal/tokens"
	"chromi/internal/transcoder"
	"chromi/internal/workers"
)

const (
	probeTimeout   = 15 * time.Second
	expiryInterval = time.Minute
	sweepLockName  = "chromi:lock:sweep"
)

// app holds everything main wires together so shutdown can unwind it.
type app struct {
	cfg *startup.Config

	uploads   *filesystem.Manager
	converted *filesystem.Manager
	scratch   *filesystem.Manager

	redis  redis.UniversalClient
	locker *redisconn.Locker

	tokens   tokens.Store
	memStore *tokens.MemoryStore

	jobs       queue.Queue
	localQueue *queue.Local
	redisQueue *queue.Redis

	// Kept so shutdown can kill conversions still running on request
	// goroutines.
	primary  *transcoder.FFmpeg
	fallback *transcoder.FrameEncoder

	conv     *converter.Converter
	handlers *handlers.Handlers
}

func newApp(ctx context.Context, cfg *startup.Config) (*app, error) {
	a := &app{cfg: cfg}

	var err error
	if a.uploads, err = filesystem.NewManager(metrics.AreaUploads, cfg.UploadDir); err != nil {
		return nil, err
	}
	if a.converted, err = filesystem.NewManager(metrics.AreaConverted, cfg.ConvertedDir); err != nil {
		return nil, err
	}
	if a.scratch, err = filesystem.NewManager(metrics.AreaScratch, filepath.Join(cfg.WorkDir, "scratch")); err != nil {
		return nil, err
	}

	if cfg.TokenBackend == startup.BackendRedis || cfg.QueueBackend == startup.BackendRedis {
		client, err := redisconn.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.redis = client
		a.locker = redisconn.NewLocker(client)
	}

	switch cfg.TokenBackend {
	case startup.BackendRedis:
		a.tokens = tokens.NewRedisStore(a.redis)
	default:
		store, err := tokens.NewMemoryStore(cfg.TokenCapacity, a.converted.Release)
		if err != nil {
			a.close()
			return nil, err
		}
		store.Start(expiryInterval)
		a.memStore = store
		a.tokens = store
	}

	opts := transcoder.Options{
		FFmpegPath: cfg.FFmpegPath,
		Timeout:    cfg.TranscodeTimeout,
		FPS:        cfg.GIFFPS,
		MaxWidth:   cfg.GIFMaxWidth,
		MaxHeight:  cfg.GIFMaxHeight,
	}
	a.primary = transcoder.NewFFmpeg(opts)
	var fallback transcoder.Invoker
	if cfg.FallbackEnabled {
		a.fallback = transcoder.NewFrameEncoder(opts, a.scratch)
		fallback = a.fallback
	}

	switch cfg.QueueBackend {
	case startup.BackendLocal:
		// Jobs reach the converter through a closure; the converter needs the
		// queue to exist first.
		a.localQueue = queue.NewLocal(func(ctx context.Context, id string, p queue.Payload) queue.Result {
			return a.conv.Process(ctx, id, p)
		}, workers.ForCPU(cfg.QueueWorkers), 0, cfg.TokenTTL)
		a.jobs = a.localQueue
	case startup.BackendRedis:
		// Job state lives as long as the upload it points at.
		a.redisQueue = queue.NewRedis(a.redis, cfg.OrphanAge())
		a.jobs = a.redisQueue
	default:
		a.jobs = queue.Disabled{}
	}

	a.conv, err = converter.New(converter.Config{
		Uploads:        a.uploads,
		Converted:      a.converted,
		Primary:        a.primary,
		Fallback:       fallback,
		Prober:         transcoder.NewFFprobe(cfg.FFprobePath, probeTimeout),
		Tokens:         a.tokens,
		Queue:          a.jobs,
		TokenTTL:       cfg.TokenTTL,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	if err != nil {
		a.close()
		return nil, err
	}

	if a.localQueue != nil {
		a.localQueue.Start(ctx)
	}

	a.handlers = handlers.New(handlers.Config{
		Converter:      a.conv,
		Jobs:           a.jobs,
		Tokens:         a.tokens,
		Converted:      a.converted,
		StaticDir:      cfg.StaticDir,
		MaxUploadBytes: cfg.MaxUploadBytes,
		FFmpegPath:     cfg.FFmpegPath,
	})

	return a, nil
}

// stats feeds the metrics collector.
func (a *app) stats() metrics.Stats {
	var s metrics.Stats
	if a.memStore != nil {
		s.ActiveTokens = a.memStore.Len()
	}
	switch {
	case a.localQueue != nil:
		s.QueueDepth = a.localQueue.Depth()
	case a.redisQueue != nil:
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if n, err := a.redisQueue.Depth(ctx); err == nil {
			s.QueueDepth = int(n)
		}
	}
	return s
}

func (a *app) sweepMaxAge() time.Duration {
	return a.cfg.OrphanAge()
}

// sweep removes orphaned files once. With Redis configured, replicas
// sharing the work directory take turns.
func (a *app) sweep(ctx context.Context) error {
	maxAge := a.sweepMaxAge()
	run := func() error {
		var errs []error
		for _, m := range []*filesystem.Manager{a.uploads, a.converted, a.scratch} {
			if _, err := m.Sweep(maxAge); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	if a.locker == nil {
		return run()
	}
	ran, err := a.locker.TryWithLock(ctx, sweepLockName, a.cfg.SweepInterval, run)
	if !ran && err == nil {
		logging.Debug("Sweep skipped, another replica holds the lock")
	}
	return err
}

func (a *app) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := a.sweep(ctx); err != nil {
				logging.Warn("Sweep failed: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// killConversions stops external processes that outlived the HTTP
// server's shutdown grace period.
func (a *app) killConversions() {
	if a.primary == nil {
		return
	}
	running := a.primary.Active()
	if a.fallback != nil {
		running += a.fallback.Active()
	}
	if running == 0 {
		return
	}
	startup.LogShutdownStep("Stopping running conversions")
	a.primary.Cleanup()
	if a.fallback != nil {
		a.fallback.Cleanup()
	}
	startup.LogShutdownStepComplete("Conversions stopped")
}

// close releases background resources. Safe on a partially built app.
func (a *app) close() {
	a.killConversions()
	if a.localQueue != nil {
		startup.LogShutdownStep("Draining job queue")
		a.localQueue.Close()
		startup.LogShutdownStepComplete("Job queue stopped")
	}
	if a.memStore != nil {
		a.memStore.Stop()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			logging.Warn("Failed to close Redis client: %v", err)
		}
	}
}
