// Package middleware provides HTTP middleware for chromi.
//
// It includes:
//   - Request logging in W3C Extended Log Format, with download tokens masked
//   - Prometheus request metrics labelled by route template
//   - Configurable filtering for static files and health checks
package middleware
