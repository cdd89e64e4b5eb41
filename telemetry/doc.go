// Package telemetry provides Prometheus metrics and OpenTelemetry tracing for
// pipeline runs, nodes and tasks.
//
// Metrics are registered on a private registry exposed through Handler so
// several engines can coexist in one process (and in tests) without colliding
// on the global registry. Tracing uses the global tracer provider, which
// SetupProvider points at an OTLP collector when an endpoint is configured.
package telemetry
