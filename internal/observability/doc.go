// Package observability provides metrics, structured logging, and
// distributed tracing for the Golem engine.
//
// The three components share the same correlation model: task, step,
// and sandbox IDs travel in the context and are attached automatically
// to log records and spans.
//
//   - Metrics: Prometheus counters, histograms, and gauges covering
//     task outcomes, step execution, LLM calls, sandbox lifecycle, and
//     the HTTP API. Exposed at /metrics on the gateway.
//   - Logging: slog with JSON or text output and built-in redaction of
//     API keys, tokens, and passwords.
//   - Tracing: OpenTelemetry spans exported over OTLP gRPC, sampled
//     per config. Disabled when no endpoint is configured.
package observability
