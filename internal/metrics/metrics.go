package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chromi_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chromi_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chromi_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	UploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chromi_upload_size_bytes",
			Help:    "Size of accepted video uploads in bytes",
			Buckets: prometheus.ExponentialBuckets(64*1024, 4, 8),
		},
	)
)

// Conversion metrics
var (
	ConversionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chromi_conversions_total",
			Help: "Total number of GIF conversions by invoker and outcome",
		},
		[]string{"invoker", "status"},
	)

	ConversionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chromi_conversion_duration_seconds",
			Help:    "Wall time spent converting a clip to GIF",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 90, 120, 180},
		},
		[]string{"invoker"},
	)

	ConversionsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chromi_conversions_in_progress",
			Help: "Number of conversions currently running",
		},
	)

	ConversionRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chromi_conversion_rejections_total",
			Help: "Requests rejected before conversion started, by reason",
		},
		[]string{"reason"},
	)

	GIFOutputBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chromi_gif_output_bytes",
			Help:    "Size of produced GIF files in bytes",
			Buckets: prometheus.ExponentialBuckets(32*1024, 4, 8),
		},
	)

	ProbeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chromi_probe_duration_seconds",
			Help:    "Time spent probing clip duration with ffprobe",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)
)

// Download token metrics
var (
	TokensIssuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chromi_tokens_issued_total",
			Help: "Total number of download tokens minted",
		},
	)

	TokenRedemptionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chromi_token_redemptions_total",
			Help: "Download token redemption attempts by result",
		},
		[]string{"result"},
	)

	TokenEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chromi_token_evictions_total",
			Help: "Tokens dropped without being redeemed, by reason",
		},
		[]string{"reason"},
	)

	TokensActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chromi_tokens_active",
			Help: "Number of unredeemed download tokens held in memory",
		},
	)
)

// Job queue metrics
var (
	QueueJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chromi_queue_jobs_total",
			Help: "Background conversion jobs by backend and state transition",
		},
		[]string{"backend", "status"},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chromi_queue_depth",
			Help: "Number of jobs waiting to be picked up",
		},
	)

	QueueWaitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chromi_queue_wait_seconds",
			Help:    "Time between enqueue and the start of processing",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"backend"},
	)
)

// Ephemeral file metrics
var (
	FilesAllocatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chromi_files_allocated_total",
			Help: "Temporary files allocated by area",
		},
		[]string{"area"},
	)

	FilesReleasedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chromi_files_released_total",
			Help: "Temporary files released by area",
		},
		[]string{"area"},
	)

	FilesSweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chromi_files_swept_total",
			Help: "Orphaned files removed by the periodic sweep",
		},
	)

	FilesystemOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chromi_filesystem_operation_duration_seconds",
			Help:    "Duration of filesystem operations by volume and type",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"volume", "operation"},
	)

	FilesystemOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chromi_filesystem_operation_errors_total",
			Help: "Filesystem operation errors by volume and type",
		},
		[]string{"volume", "operation"},
	)

	FilesystemRetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chromi_filesystem_retry_attempts_total",
			Help: "Retries issued after a stale file handle",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetrySuccess = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chromi_filesystem_retry_success_total",
			Help: "Operations that succeeded after one or more retries",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chromi_filesystem_retry_failures_total",
			Help: "Operations that failed after exhausting retries",
		},
		[]string{"operation", "volume"},
	)

	FilesystemStaleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chromi_filesystem_stale_errors_total",
			Help: "ESTALE errors observed",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chromi_filesystem_retry_duration_seconds",
			Help:    "Total time spent in a retried filesystem operation",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
		[]string{"operation", "volume"},
	)
)

// Process metrics
var (
	MemoryLimitBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chromi_memory_limit_bytes",
			Help: "Configured Go soft memory limit in bytes (0 when unset)",
		},
	)

	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chromi_app_info",
			Help: "Application build information",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// SetAppInfo sets the application info metric
func SetAppInfo(version, commit, goVersion string) {
	AppInfo.WithLabelValues(version, commit, goVersion).Set(1)
}
