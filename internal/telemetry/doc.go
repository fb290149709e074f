// Package telemetry installs the global OpenTelemetry tracer provider. Spans
// from the stream pipeline are exported to stdout or an OTLP collector, or
// dropped when tracing is disabled.
package telemetry
