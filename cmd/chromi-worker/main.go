package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"chromi/internal/converter"
	"chromi/internal/filesystem"
	"chromi/internal/logging"
	"chromi/internal/media"
	"chromi/internal/memory"
	"chromi/internal/metrics"
	"chromi/internal/queue"
	"chromi/internal/redisconn"
	"chromi/internal/startup"
	"chromi/internal/tokens"
	"chromi/internal/tracing"
	"chromi/internal/transcoder"
	"chromi/internal/workers"
)

const probeTimeout = 15 * time.Second

func main() {
	memory.ConfigureFromEnv()

	config, err := startup.LoadConfig()
	if err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}
	if config.QueueBackend != startup.BackendRedis {
		startup.LogFatal("chromi-worker needs QUEUE_BACKEND=redis (got %s)", config.QueueBackend)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		Endpoint:       config.OTLPEndpoint,
		ServiceName:    "chromi-worker",
		ServiceVersion: startup.Version,
	})
	if err != nil {
		logging.Warn("Tracing disabled: %v", err)
	}

	if config.VipsEnabled {
		if err := media.InitVips(); err != nil {
			logging.Warn("libvips unavailable: %v", err)
		}
		defer media.ShutdownVips()
	}

	if config.MetricsEnabled {
		metrics.SetAppInfo(startup.Version, startup.Commit, startup.GoVersion)
		metrics.InitializeMetrics()
		filesystem.SetObserver(metrics.NewFilesystemObserver())
		go serveMetrics(ctx, config.MetricsPort)
	}

	startup.LogTranscoderInit(config)

	client, err := redisconn.Connect(ctx, config.RedisURL)
	if err != nil {
		startup.LogFatal("Redis: %v", err)
	}
	defer client.Close()

	conv, err := newConverter(config, client)
	if err != nil {
		startup.LogFatal("Failed to initialize converter: %v", err)
	}

	jobs := queue.NewRedis(client, config.OrphanAge())
	n := workers.ForCPU(config.QueueWorkers)
	logging.Info("Consuming %s with %d workers", queue.QueueKey, n)

	if err := consume(ctx, jobs, conv.Process, n); err != nil {
		logging.Error("Worker stopped: %v", err)
	}

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer flushCancel()
	if err := shutdownTracing(flushCtx); err != nil {
		logging.Warn("Tracing shutdown error: %v", err)
	}
	startup.LogShutdownComplete()
}

// consume runs n consumers until ctx ends. A cancelled ctx is a clean stop.
func consume(ctx context.Context, jobs *queue.Redis, handler queue.Handler, n int) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := jobs.Consume(ctx, handler); err != nil && !errors.Is(err, context.Canceled) {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

func newConverter(cfg *startup.Config, client redis.UniversalClient) (*converter.Converter, error) {
	uploads, err := filesystem.NewManager(metrics.AreaUploads, cfg.UploadDir)
	if err != nil {
		return nil, err
	}
	converted, err := filesystem.NewManager(metrics.AreaConverted, cfg.ConvertedDir)
	if err != nil {
		return nil, err
	}
	scratch, err := filesystem.NewManager(metrics.AreaScratch, filepath.Join(cfg.WorkDir, "scratch"))
	if err != nil {
		return nil, err
	}

	opts := transcoder.Options{
		FFmpegPath: cfg.FFmpegPath,
		Timeout:    cfg.TranscodeTimeout,
		FPS:        cfg.GIFFPS,
		MaxWidth:   cfg.GIFMaxWidth,
		MaxHeight:  cfg.GIFMaxHeight,
	}
	var fallback transcoder.Invoker
	if cfg.FallbackEnabled {
		fallback = transcoder.NewFrameEncoder(opts, scratch)
	}

	// Queue stays disabled: the worker only runs jobs, it never enqueues.
	return converter.New(converter.Config{
		Uploads:        uploads,
		Converted:      converted,
		Primary:        transcoder.NewFFmpeg(opts),
		Fallback:       fallback,
		Prober:         transcoder.NewFFprobe(cfg.FFprobePath, probeTimeout),
		Tokens:         tokens.NewRedisStore(client),
		TokenTTL:       cfg.TokenTTL,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
}

func serveMetrics(ctx context.Context, port string) {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logging.Info("Worker metrics on :%s/metrics", port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logging.Error("Metrics server error: %v", err)
	}
}
