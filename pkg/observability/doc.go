// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry setup and health checks for chronicle.
//
// # Structured Logging
//
// Library packages never write to stdout on their own. Install a logger on
// the context and the commit pipeline picks it up:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stderr)
//	ctx = observability.WithLogger(ctx, logger)
//	observability.FromContext(ctx).Info("commit finished")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	pipeline := trigger.NewPipeline(registry, trigger.WithMetrics(metrics))
//
// Every recording method is safe to call on a nil *Metrics.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	observability.RegisterHealthRoutes(router, checker)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "chronicle",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
package observability
