package metrics

// Label values shared between the packages that record metrics and
// InitializeMetrics.
const (
	InvokerFFmpeg   = "ffmpeg"
	InvokerFallback = "fallback"

	StatusSuccess = "success"
	StatusTimeout = "timeout"
	StatusFailed  = "failed"
	StatusEmpty   = "empty_output"

	RedeemSuccess  = "success"
	RedeemNotFound = "not_found"

	EvictExpired  = "expired"
	EvictCapacity = "capacity"

	AreaUploads   = "uploads"
	AreaConverted = "converted"
	AreaScratch   = "scratch"
)

// InitializeMetrics pre-populates all expected label combinations so that
// every metric is exported from the first Prometheus scrape.
// Call this once at startup after metric registration.
func InitializeMetrics() {
	// --- Conversions per invoker ---
	for _, inv := range []string{InvokerFFmpeg, InvokerFallback} {
		for _, status := range []string{StatusSuccess, StatusTimeout, StatusFailed, StatusEmpty} {
			ConversionsTotal.WithLabelValues(inv, status)
		}
		ConversionDuration.WithLabelValues(inv)
	}

	for _, reason := range []string{"no_video", "unsupported_format", "too_large", "start_exceeds_duration"} {
		ConversionRejections.WithLabelValues(reason)
	}

	// --- Tokens ---
	TokenRedemptionsTotal.WithLabelValues(RedeemSuccess)
	TokenRedemptionsTotal.WithLabelValues(RedeemNotFound)
	TokenEvictionsTotal.WithLabelValues(EvictExpired)
	TokenEvictionsTotal.WithLabelValues(EvictCapacity)

	// --- Queue ---
	for _, backend := range []string{"local", "redis"} {
		for _, status := range []string{"enqueued", "started", "finished", "failed"} {
			QueueJobsTotal.WithLabelValues(backend, status)
		}
		QueueWaitDuration.WithLabelValues(backend)
	}

	// --- Ephemeral files ---
	for _, area := range []string{AreaUploads, AreaConverted, AreaScratch} {
		FilesAllocatedTotal.WithLabelValues(area)
		FilesReleasedTotal.WithLabelValues(area)
	}

	// --- Filesystem operation metrics (per volume x operation) ---
	volumes := []string{AreaUploads, AreaConverted, "unknown"}
	for _, vol := range volumes {
		for _, op := range []string{"open", "remove", "create"} {
			FilesystemOperationDuration.WithLabelValues(vol, op)
			FilesystemOperationErrors.WithLabelValues(vol, op)
		}
		FilesystemRetryAttempts.WithLabelValues("open", vol)
		FilesystemRetrySuccess.WithLabelValues("open", vol)
		FilesystemRetryFailures.WithLabelValues("open", vol)
		FilesystemStaleErrors.WithLabelValues("open", vol)
		FilesystemRetryDuration.WithLabelValues("open", vol)
	}
}
