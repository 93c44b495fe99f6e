// Package observability provides logging, metrics, and tracing for
// the govgate pipeline.
//
// # Logging
//
// The Logger interface wraps zap:
//
//	logger, err := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
//	if err != nil {
//	    return err
//	}
//	defer func() { _ = logger.Sync() }()
//
//	logger.Info("stage rejected request",
//	    observability.String("stage", "csrf"),
//	    observability.Int("status", 403),
//	)
//
// # Metrics
//
// Metrics owns the Prometheus registry served on /metrics. Package level
// metric singletons register themselves into it through MustRegister.
//
// # Tracing
//
// Tracer configures an OpenTelemetry tracer provider with an OTLP gRPC
// exporter. TracingMiddleware starts the server span; pipeline stages
// add child spans.
package observability
