// Package metrics provides Prometheus instrumentation for chromi.
//
// All metrics are registered with the default registry through promauto and
// are prefixed with "chromi_".
//
// # Metric Categories
//
// ## HTTP Metrics
//
//   - HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight
//   - UploadSizeBytes: accepted upload sizes
//
// ## Conversion Metrics
//
//   - ConversionsTotal: by invoker (ffmpeg, fallback) and status
//   - ConversionDuration: wall time per invoker
//   - ConversionRejections: requests refused before any work started
//   - GIFOutputBytes, ProbeDuration
//
// ## Token Metrics
//
//   - TokensIssuedTotal, TokenRedemptionsTotal, TokenEvictionsTotal
//   - TokensActive: polled by the Collector
//
// ## Queue Metrics
//
//   - QueueJobsTotal, QueueWaitDuration
//   - QueueDepth: polled by the Collector
//
// ## Ephemeral File Metrics
//
// Recorded through the filesystem.Observer returned by NewFilesystemObserver,
// which keeps the filesystem package free of a Prometheus import.
//
// # Usage
//
//	metrics.InitializeMetrics()
//	filesystem.SetObserver(metrics.NewFilesystemObserver())
//	collector := metrics.NewCollector(metrics.StatsFunc(func() metrics.Stats {
//	    return metrics.Stats{ActiveTokens: store.Len()}
//	}), 15*time.Second)
//	collector.Start()
//	defer collector.Stop()
//
// Metrics are served by promhttp.Handler() on METRICS_PORT.
package metrics
