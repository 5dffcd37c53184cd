// Package handlers provides the HTTP handlers for chromi.
//
// It includes handlers for:
//   - The upload page
//   - Clip conversion and job polling
//   - Single-use GIF downloads
//   - Health, liveness and readiness probes
//   - Version information and Prometheus metrics
package handlers
