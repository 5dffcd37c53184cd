// Package tracing wires OpenTelemetry span export over OTLP/HTTP.
//
// Conversions are traced with the global tracer; until [Init] is called with
// an endpoint those spans go nowhere.
package tracing
