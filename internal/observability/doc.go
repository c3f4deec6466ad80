// Package observability provides the fabric's observability infrastructure:
// distributed tracing, metrics collection, structured logging, and health
// checks, all built on OpenTelemetry and Prometheus.
//
// # Overview
//
//   - Distributed tracing (OpenTelemetry, exported over OTLP/gRPC)
//   - Metrics collection (Prometheus, via the OTel metrics bridge)
//   - Structured logging (log/slog, with trace context injected)
//   - HTTP health and readiness endpoints
//   - Graceful shutdown with trace flushing
//
// The fabric's components take what they need of a *TraceManager,
// *MetricsManager, and *slog.Logger constructed once here at startup: the
// event publisher and the WebSocket connection manager take all three;
// the Redis broker gateway, the scheduler, and the alert manager take the
// metrics manager and the logger; the latency monitor takes none of them.
//
// # Quick Start
//
//	cfg := observability.DefaultConfig("fabricd")
//	obs, err := observability.NewObservability(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer obs.Shutdown(context.Background())
//
//	logger := obs.Logger
//	tracer := obs.Tracer
//	meter := obs.Meter
//
// # Architecture
//
//	Application code (publisher, connection manager, broker, scheduler, alerts)
//	  -> TraceManager   (publish/fanout/scheduling span conventions)
//	  -> MetricsManager (event, connection, scheduler, alert counters)
//	  -> slog.Logger    (structured logs, trace-context aware)
//
// # Health checks
//
// HealthServer exposes /health, /ready, and /metrics over HTTP. fabricd
// registers a BasicHealthChecker for the process itself and, when the
// Redis broker gateway is in use, a PingerHealthChecker for it, so a
// failing broker surfaces before it causes silent fan-out gaps. No other
// component registers a checker.
package observability
