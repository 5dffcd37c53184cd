// Package memory sets GOMEMLIMIT for containerized deployments.
//
// Go picks up CPU quotas on its own but not memory limits. When the
// container limit is passed in as MEMORY_LIMIT, [ConfigureFromEnv] gives a
// share of it (MEMORY_RATIO, default 0.7) to the Go heap. The rest is left
// for ffmpeg, which runs in the same cgroup, and for libvips. An explicit
// GOMEMLIMIT always wins.
package memory
