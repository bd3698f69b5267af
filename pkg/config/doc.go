// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates the chronicle daemon's configuration from
// CHRONICLE_* environment variables with sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	CHRONICLE_HOST="0.0.0.0"
//	CHRONICLE_PORT="8080"
//	CHRONICLE_HEALTH_PORT="9090"
//	CHRONICLE_READ_TIMEOUT="15s"
//	CHRONICLE_WRITE_TIMEOUT="60s"
//
// Database settings:
//
//	CHRONICLE_POSTGRES_URL="postgres://localhost:5432/chronicle?sslmode=disable"
//	CHRONICLE_POSTGRES_MAX_CONNS="20"
//
// Audit settings:
//
//	CHRONICLE_AUDIT_DEFAULT_STRATEGY="partial"  # partial, full
//	CHRONICLE_AUDIT_DROP_EMPTY="true"
//	CHRONICLE_AUDIT_RULES_FILE="/etc/chronicle/rules.yaml"
//	CHRONICLE_LOOKUP_CACHE_SIZE="1024"
//	CHRONICLE_LOOKUP_CACHE_TTL="5m"
//	CHRONICLE_LOOKUP_CONCURRENCY="4"
//
// Sink settings:
//
//	CHRONICLE_AUDIT_SINKS="postgres,kafka"  # postgres, file, kafka, redis, s3, log
//	CHRONICLE_FANOUT_PARALLEL="false"
//	CHRONICLE_POSTGRES_AUDIT_TABLE="audit_entries"
//	CHRONICLE_FILE_PATH="/var/log/chronicle/audit"
//	CHRONICLE_KAFKA_BROKERS="kafka-1:9092,kafka-2:9092"
//	CHRONICLE_KAFKA_TOPIC="chronicle.audit"
//	CHRONICLE_REDIS_URL="redis://localhost:6379/0"
//	CHRONICLE_REDIS_STREAM="chronicle:audit"
//	CHRONICLE_S3_BUCKET="audit-archive"
//
// Retention settings:
//
//	CHRONICLE_RETENTION_DAYS="90"  # 0 disables cleanup
//	CHRONICLE_RETENTION_SCHEDULE="0 3 * * *"
//	CHRONICLE_RETENTION_ARCHIVE_S3="false"
//
// Observability settings:
//
//	CHRONICLE_LOG_LEVEL="info"  # debug, info, warn, error
//	CHRONICLE_METRICS_ENABLED="true"
//	CHRONICLE_OTEL_ENABLED="true"
//	CHRONICLE_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	if cfg.Sinks.Has(config.SinkKafka) {
//		sink, err := audit.NewKafkaSink(cfg.Sinks.Kafka)
//		...
//	}
//
// # Related Packages
//
//   - pkg/audit: sink and capture settings
//   - pkg/uow/postgres: database settings
//   - pkg/observability: Uses observability configuration
package config
