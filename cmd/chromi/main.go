package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"chromi/internal/filesystem"
	"chromi/internal/handlers"
	"chromi/internal/logging"
	"chromi/internal/media"
	"chromi/internal/memory"
	"chromi/internal/metrics"
	"chromi/internal/middleware"
	"chromi/internal/startup"
	"chromi/internal/tracing"
)

const shutdownTimeout = 30 * time.Second

func main() {
	startTime := time.Now()

	// Must run before anything allocates much
	mem := memory.ConfigureFromEnv()

	config, err := startup.LoadConfig()
	if err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}
	startup.LogMemoryConfig(startup.MemoryConfig{
		Configured:     mem.Configured(),
		Source:         mem.Source,
		ContainerLimit: mem.Container,
		GoMemLimit:     mem.Bytes,
		Ratio:          mem.Ratio,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		Endpoint:       config.OTLPEndpoint,
		ServiceName:    "chromi",
		ServiceVersion: startup.Version,
	})
	if err != nil {
		logging.Warn("Tracing disabled: %v", err)
	}

	if config.VipsEnabled {
		if err := media.InitVips(); err != nil {
			logging.Warn("libvips unavailable, fallback frames use imaging: %v", err)
		}
	}

	if config.MetricsEnabled {
		metrics.SetAppInfo(startup.Version, startup.Commit, startup.GoVersion)
		metrics.InitializeMetrics()
		filesystem.SetObserver(metrics.NewFilesystemObserver())
	}

	startup.LogTranscoderInit(config)

	a, err := newApp(ctx, config)
	if err != nil {
		startup.LogFatal("Failed to initialize: %v", err)
	}

	// Orphans from a previous run
	if err := a.sweep(ctx); err != nil {
		logging.Warn("Initial sweep failed: %v", err)
	}
	go a.sweepLoop(ctx)

	var collector *metrics.Collector
	if config.MetricsEnabled {
		collector = metrics.NewCollector(metrics.StatsFunc(a.stats), 15*time.Second)
		collector.Start()
	}

	router := setupRouter(a.handlers, config.StaticDir)
	startup.LogHTTPRoutes(router, config.LogStaticFiles, config.LogHealthChecks)

	loggingConfig := middleware.DefaultLoggingConfig()
	loggingConfig.LogStaticFiles = config.LogStaticFiles
	loggingConfig.LogHealthChecks = config.LogHealthChecks
	handler := middleware.Logger(loggingConfig)(router)

	srv := &http.Server{
		Addr:              ":" + config.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// Uploads can be large; conversions run inside the request.
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	var metricsSrv *http.Server
	if config.MetricsEnabled {
		metricsSrv = &http.Server{
			Addr:              ":" + config.MetricsPort,
			Handler:           a.handlers.MetricsHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error("Metrics server error: %v", err)
			}
		}()
	}

	done := make(chan struct{})
	go handleShutdown(shutdown{
		srv:        srv,
		metricsSrv: metricsSrv,
		app:        a,
		collector:  collector,
		tracing:    shutdownTracing,
		cancel:     cancel,
		done:       done,
	})

	startup.LogServerStarted(startup.ServerConfig{
		Port:            config.Port,
		MetricsPort:     config.MetricsPort,
		MetricsEnabled:  config.MetricsEnabled,
		StartupDuration: time.Since(startTime),
	})
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		startup.LogFatal("Server error: %v", err)
	}

	// ListenAndServe returns as soon as Shutdown starts
	<-done
}

func setupRouter(h *handlers.Handlers, staticDir string) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Metrics(middleware.DefaultMetricsConfig()))

	r.HandleFunc("/", h.Home).Methods("GET", "HEAD")

	// The web client posts to the slash-terminated URLs
	for _, p := range []string{"/health", "/health/"} {
		r.HandleFunc(p, h.HealthCheck).Methods("GET")
	}
	r.HandleFunc("/livez", h.LivenessCheck).Methods("GET", "HEAD")
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods("GET")
	r.HandleFunc("/version", h.GetVersion).Methods("GET")

	for _, p := range []string{"/convert", "/convert/"} {
		r.HandleFunc(p, h.Convert).Methods("POST")
	}
	for _, p := range []string{"/jobs/{id}", "/jobs/{id}/"} {
		r.HandleFunc(p, h.JobStatus).Methods("GET")
	}
	for _, p := range []string{"/download/{token}", "/download/{token}/"} {
		r.HandleFunc(p, h.Download).Methods("GET")
	}

	r.PathPrefix("/static/").Handler(http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))

	return r
}

type shutdown struct {
	srv        *http.Server
	metricsSrv *http.Server
	app        *app
	collector  *metrics.Collector
	tracing    tracing.ShutdownFunc
	cancel     context.CancelFunc
	done       chan struct{}
}

func handleShutdown(s shutdown) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	startup.LogShutdownInitiated(sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	startup.LogShutdownStep("Shutting down HTTP server")
	if err := s.srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("HTTP server stopped")
	}

	if s.metricsSrv != nil {
		if err := s.metricsSrv.Shutdown(ctx); err != nil {
			logging.Warn("Metrics server shutdown error: %v", err)
		}
	}

	// Stops queued jobs and the sweep loop; close kills whatever
	// synchronous conversions are still running.
	s.cancel()

	s.app.close()

	if s.collector != nil {
		s.collector.Stop()
	}

	if media.IsVipsAvailable() {
		media.ShutdownVips()
	}

	if s.tracing != nil {
		if err := s.tracing(ctx); err != nil {
			logging.Warn("Tracing shutdown error: %v", err)
		}
	}

	startup.LogShutdownComplete()
	close(s.done)
}
