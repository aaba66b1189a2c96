// Package observability provides an OpenTelemetry metrics extension for
// the gateway. MetricsExtension implements workflow lifecycle hooks and
// records outcome counters, retry counts and reconciliation counts.
//
// For per-step tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
