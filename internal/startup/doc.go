// Package startup handles application initialization, configuration loading,
// and startup/shutdown logging.
//
// # Configuration
//
// Configuration is parsed from the environment into [Config] with
// caarlos0/env struct tags. A .env file in the working directory is loaded
// first when present. The most important variables:
//
//   - PORT: HTTP server port (default: 8000)
//   - METRICS_PORT / METRICS_ENABLED: Prometheus server (default: 9090, true)
//   - WORK_DIR: Root for the uploads/ and converted/ directories (default: ./media)
//   - MAX_UPLOAD_BYTES: Upload size limit (default: 100 MiB)
//   - FFMPEG_PATH / FFPROBE_PATH: External tools (default: ffmpeg, ffprobe)
//   - TRANSCODE_TIMEOUT: Wall-clock limit per conversion (default: 120s)
//   - TOKEN_TTL: Lifetime of a download token (default: 600s)
//   - TOKEN_BACKEND: memory or redis (default: memory)
//   - QUEUE_BACKEND: none, local or redis (default: none; USE_RQ=true selects redis)
//   - REDIS_URL: Redis connection URL (default: redis://localhost:6379/0)
//   - LOG_LEVEL / LOG_FORMAT: Logging level and console|json output
//
// [Parse] is side-effect free and is what tests use; [LoadConfig] adds the
// banner, the configuration dump and directory preparation.
//
// # Build Information
//
// Build-time variables are injected via ldflags and exposed via [GetBuildInfo].
package startup
