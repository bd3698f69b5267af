package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/chronicle/pkg/audit"
	"github.com/platinummonkey/chronicle/pkg/chronicle"
	"github.com/platinummonkey/chronicle/pkg/config"
	"github.com/platinummonkey/chronicle/pkg/httputil"
	"github.com/platinummonkey/chronicle/pkg/observability"
	pgstore "github.com/platinummonkey/chronicle/pkg/uow/postgres"
)

var version = "dev"

// chronicle serves the audit query API over the postgres sink and runs
// scheduled retention
func main() {
	runOnce := flag.Bool("cleanup-once", false, "Run retention cleanup once and exit")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger := setupLogger(cfg.Observability.LogLevel)
	logger.WithField("version", version).Info("Starting Chronicle audit service")

	// Structured JSON logs for request-scoped and library logging
	appLogger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    1,
	}, appLogger)
	if err != nil {
		logger.Fatalf("Failed to initialize OpenTelemetry: %v", err)
	}

	db, err := pgstore.Open(cfg.Postgres)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	sink, err := audit.NewDBSink(ctx, db, audit.WithTable(cfg.Sinks.PostgresTable))
	if err != nil {
		logger.Fatalf("Failed to prepare audit table: %v", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	store := audit.NewDBStore(sink, metrics)

	var rdb *redis.Client
	if cfg.Sinks.Has(config.SinkRedis) {
		rdb, err = audit.OpenRedis(ctx, cfg.Sinks.Redis)
		if err != nil {
			logger.Fatalf("Failed to connect to redis: %v", err)
		}
		defer rdb.Close()
	}

	if *runOnce {
		if err := runCleanup(ctx, cfg, store, logger); err != nil {
			logger.Fatalf("Retention cleanup failed: %v", err)
		}
		return
	}

	scheduler, err := scheduleRetention(ctx, cfg, store, logger)
	if err != nil {
		logger.Fatalf("Failed to schedule retention: %v", err)
	}

	// Audit API
	router := mux.NewRouter()
	router.Use(observability.HTTPMetricsMiddleware(metrics))
	audit.NewHandlers(store).RegisterRoutes(router)

	server := &http.Server{
		Addr: cfg.Server.Host + ":" + cfg.Server.Port,
		Handler: httputil.Chain(
			httputil.RequestLogger(appLogger),
			httputil.RequestIDMiddleware,
			httputil.RecoveryMiddleware,
		)(router),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics on a separate port for probes
	healthRouter := mux.NewRouter()
	observability.RegisterHealthRoutes(healthRouter, observability.NewHealthChecker(db, rdb, version))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthRouter, registry)
	}
	healthServer := &http.Server{
		Addr:              cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler:           healthRouter,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErrors := make(chan error, 2)
	go func() {
		logger.Infof("Audit API listening on %s", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()
	go func() {
		logger.Infof("Health endpoints listening on %s", healthServer.Addr)
		serverErrors <- healthServer.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Infof("Received %s, shutting down gracefully...", sig)
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Server failed: %v", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if scheduler != nil {
		<-scheduler.Stop().Done()
	}
	cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Audit API shutdown failed: %v", err)
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Health server shutdown failed: %v", err)
	}
	if err := observability.ShutdownOTel(shutdownCtx, otelProviders, appLogger); err != nil {
		logger.Errorf("OpenTelemetry shutdown failed: %v", err)
	}

	logger.Info("Chronicle stopped")
}

func setupLogger(level observability.LogLevel) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	parsed, err := logrus.ParseLevel(level.String())
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)

	return logger
}

// scheduleRetention starts the cleanup cron job. It returns nil when
// retention is disabled.
func scheduleRetention(ctx context.Context, cfg *config.Config, store audit.Store, logger *logrus.Logger) (*cron.Cron, error) {
	if cfg.Retention.Days == 0 {
		logger.Info("Audit retention is disabled")
		return nil, nil
	}

	c := cron.New()
	_, err := c.AddFunc(cfg.Retention.Schedule, func() {
		if err := runCleanup(ctx, cfg, store, logger); err != nil {
			logger.Errorf("Retention cleanup failed: %v", err)
		}
	})
	if err != nil {
		return nil, err
	}

	c.Start()
	logger.Infof("Retention schedule: %s (%d days)", cfg.Retention.Schedule, cfg.Retention.Days)
	return c, nil
}

func runCleanup(ctx context.Context, cfg *config.Config, store audit.Store, logger *logrus.Logger) error {
	policy := audit.RetentionPolicy{RetentionDays: cfg.Retention.Days}
	if cfg.Retention.ArchiveToS3 {
		archive, err := chronicle.OpenS3(ctx, cfg.Sinks.S3)
		if err != nil {
			return err
		}
		policy.Archive = archive
	}

	start := time.Now()
	removed, err := store.Cleanup(ctx, policy)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"removed":  removed,
		"duration": time.Since(start).String(),
	}).Info("Retention cleanup completed")
	return nil
}
