// Package main is the chromi HTTP server.
//
// Chromi turns a short video clip into a looping GIF suitable as a page
// background. A client posts a clip and a start time to /convert/, and gets
// back a one-time download URL, or a job ID to poll when a queue is
// configured.
//
// # Application Lifecycle
//
//  1. Memory configuration: GOMEMLIMIT from MEMORY_LIMIT
//  2. Configuration loading: environment and optional .env file
//  3. Tracing, libvips and metrics setup (each optional)
//  4. Component wiring:
//     - File managers for uploads, converted GIFs and scratch frames
//     - Token store (memory or Redis)
//     - Job queue (none, local worker pool, or Redis)
//     - ffmpeg palette invoker, frame encoder fallback, ffprobe
//  5. Initial sweep of files left over by a previous run
//  6. HTTP server and, on a separate port, the Prometheus endpoint
//  7. Graceful shutdown on SIGINT/SIGTERM
//
// # Background Services
//
//   - Sweep: removes files older than TOKEN_TTL plus two transcode timeouts.
//     With Redis configured, only one replica sweeps at a time.
//   - Token expiry: the memory store drops expired tokens every minute and
//     deletes their GIFs.
//   - Metrics collector: active tokens and queue depth every 15 seconds.
//   - Local queue workers when QUEUE_BACKEND=local.
//
// With QUEUE_BACKEND=redis the server only enqueues; conversions run in
// chromi-worker.
//
// # Graceful Shutdown
//
//  1. Stop accepting HTTP requests (30s timeout)
//  2. Stop the metrics server
//  3. Cancel running conversions and the sweep loop
//  4. Drain the local queue, stop token expiry, close Redis
//  5. Stop the metrics collector, libvips and the span exporter
//
// See [chromi/internal/startup] for the environment variables.
package main
