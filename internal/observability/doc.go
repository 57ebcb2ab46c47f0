// Package observability provides the service's own structured logging and
// Prometheus metrics.
//
// This package implements:
//   - zap loggers with optional rotating file output
//   - Prometheus collectors for provider calls, tokens and store failures
//
// The collectors live on a dedicated registry served at /metrics.
package observability
