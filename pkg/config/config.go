package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/chronicle/pkg/audit"
	"github.com/platinummonkey/chronicle/pkg/observability"
	pgstore "github.com/platinummonkey/chronicle/pkg/uow/postgres"
)

// Sink names accepted in CHRONICLE_AUDIT_SINKS
const (
	SinkPostgres = "postgres"
	SinkFile     = "file"
	SinkKafka    = "kafka"
	SinkRedis    = "redis"
	SinkS3       = "s3"
	SinkLog      = "log"
)

var knownSinks = []string{SinkPostgres, SinkFile, SinkKafka, SinkRedis, SinkS3, SinkLog}

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database backing the unit of work, the postgres sink and the query API
	Postgres pgstore.Config

	// Audit capture and delivery
	Audit AuditConfig
	Sinks SinksConfig

	Retention RetentionConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// AuditConfig holds audit capture settings
type AuditConfig struct {
	DefaultStrategy audit.Strategy
	DropEmpty       bool
	RulesFile       string

	LookupCacheSize   int
	LookupCacheTTL    time.Duration
	LookupConcurrency int
}

// SinksConfig selects and configures audit sinks
type SinksConfig struct {
	Enabled  []string
	Parallel bool

	PostgresTable string
	File          audit.FileSinkConfig
	Kafka         audit.KafkaSinkConfig
	Redis         audit.RedisConfig
	RedisStream   string
	RedisMaxLen   int64
	S3            audit.S3SinkConfig
}

// Has reports whether the named sink is enabled
func (s SinksConfig) Has(name string) bool {
	return slices.Contains(s.Enabled, name)
}

// RetentionConfig controls scheduled cleanup of stored audit entries
type RetentionConfig struct {
	// Days to keep entries; zero disables cleanup
	Days     int
	Schedule string
	// ArchiveToS3 copies expired entries to the S3 sink before deleting them
	ArchiveToS3 bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Postgres:      loadPostgresConfig(),
		Audit:         loadAuditConfig(),
		Sinks:         loadSinksConfig(),
		Retention:     loadRetentionConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("CHRONICLE_HOST", "0.0.0.0"),
		Port:            getEnv("CHRONICLE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("CHRONICLE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("CHRONICLE_WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:     getEnvDuration("CHRONICLE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("CHRONICLE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("CHRONICLE_HEALTH_PORT", "9090"),
	}
}

// loadPostgresConfig loads database settings from environment
func loadPostgresConfig() pgstore.Config {
	cfg := pgstore.DefaultConfig()

	if pgURL := getEnv("CHRONICLE_POSTGRES_URL", ""); pgURL != "" {
		cfg.URL = pgURL
	}
	if maxConns := getEnvInt("CHRONICLE_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns := getEnvInt("CHRONICLE_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.MinConns = minConns
	}
	if timeout := getEnvDuration("CHRONICLE_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.Timeout = timeout
	}

	return cfg
}

// loadAuditConfig loads audit capture settings from environment
func loadAuditConfig() AuditConfig {
	return AuditConfig{
		DefaultStrategy:   audit.Strategy(strings.ToLower(getEnv("CHRONICLE_AUDIT_DEFAULT_STRATEGY", string(audit.Partial)))),
		DropEmpty:         getEnvBool("CHRONICLE_AUDIT_DROP_EMPTY", true),
		RulesFile:         getEnv("CHRONICLE_AUDIT_RULES_FILE", ""),
		LookupCacheSize:   getEnvInt("CHRONICLE_LOOKUP_CACHE_SIZE", 1024),
		LookupCacheTTL:    getEnvDuration("CHRONICLE_LOOKUP_CACHE_TTL", 5*time.Minute),
		LookupConcurrency: getEnvInt("CHRONICLE_LOOKUP_CONCURRENCY", 4),
	}
}

// loadSinksConfig loads sink selection and settings from environment
func loadSinksConfig() SinksConfig {
	file := audit.DefaultFileSinkConfig()
	file.BasePath = getEnv("CHRONICLE_FILE_PATH", file.BasePath)
	file.Rotate = getEnvBool("CHRONICLE_FILE_ROTATE", file.Rotate)
	file.MaxSize = getEnvInt64("CHRONICLE_FILE_MAX_SIZE", file.MaxSize)
	file.MaxFiles = getEnvInt("CHRONICLE_FILE_MAX_FILES", file.MaxFiles)

	return SinksConfig{
		Enabled:       splitList(getEnv("CHRONICLE_AUDIT_SINKS", SinkPostgres)),
		Parallel:      getEnvBool("CHRONICLE_FANOUT_PARALLEL", false),
		PostgresTable: getEnv("CHRONICLE_POSTGRES_AUDIT_TABLE", audit.DefaultTable),
		File:          file,
		Kafka: audit.KafkaSinkConfig{
			Brokers:       splitList(getEnv("CHRONICLE_KAFKA_BROKERS", "")),
			Topic:         getEnv("CHRONICLE_KAFKA_TOPIC", "chronicle.audit"),
			TLS:           getEnvBool("CHRONICLE_KAFKA_TLS", false),
			SASLMechanism: getEnv("CHRONICLE_KAFKA_SASL_MECHANISM", ""),
			Username:      getEnv("CHRONICLE_KAFKA_USERNAME", ""),
			Password:      getEnv("CHRONICLE_KAFKA_PASSWORD", ""),
			BatchSize:     getEnvInt("CHRONICLE_KAFKA_BATCH_SIZE", 0),
			BatchTimeout:  getEnvDuration("CHRONICLE_KAFKA_BATCH_TIMEOUT", 0),
			WriteTimeout:  getEnvDuration("CHRONICLE_KAFKA_WRITE_TIMEOUT", 0),
			RequiredAcks:  getEnvInt("CHRONICLE_KAFKA_REQUIRED_ACKS", 0),
			Compression:   getEnv("CHRONICLE_KAFKA_COMPRESSION", ""),
		},
		Redis: audit.RedisConfig{
			URL:        getEnv("CHRONICLE_REDIS_URL", "redis://localhost:6379/0"),
			Password:   getEnv("CHRONICLE_REDIS_PASSWORD", ""),
			DB:         getEnvInt("CHRONICLE_REDIS_DB", -1),
			MaxRetries: getEnvInt("CHRONICLE_REDIS_MAX_RETRIES", 3),
			PoolSize:   getEnvInt("CHRONICLE_REDIS_POOL_SIZE", 10),
		},
		RedisStream: getEnv("CHRONICLE_REDIS_STREAM", audit.DefaultStream),
		RedisMaxLen: getEnvInt64("CHRONICLE_REDIS_MAX_LEN", 100000),
		S3: audit.S3SinkConfig{
			Bucket:       getEnv("CHRONICLE_S3_BUCKET", ""),
			Prefix:       getEnv("CHRONICLE_S3_PREFIX", "audit"),
			Region:       getEnv("CHRONICLE_S3_REGION", "us-east-1"),
			Endpoint:     getEnv("CHRONICLE_S3_ENDPOINT", ""),
			AccessKey:    getEnv("CHRONICLE_S3_ACCESS_KEY", ""),
			SecretKey:    getEnv("CHRONICLE_S3_SECRET_KEY", ""),
			UsePathStyle: getEnvBool("CHRONICLE_S3_USE_PATH_STYLE", false),
		},
	}
}

// loadRetentionConfig loads retention settings from environment
func loadRetentionConfig() RetentionConfig {
	return RetentionConfig{
		Days:        getEnvInt("CHRONICLE_RETENTION_DAYS", audit.DefaultRetentionPolicy().RetentionDays),
		Schedule:    getEnv("CHRONICLE_RETENTION_SCHEDULE", "0 3 * * *"),
		ArchiveToS3: getEnvBool("CHRONICLE_RETENTION_ARCHIVE_S3", false),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLevel(getEnv("CHRONICLE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("CHRONICLE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("CHRONICLE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("CHRONICLE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("CHRONICLE_OTEL_SERVICE_NAME", "chronicle"),
		OTelServiceVersion: getEnv("CHRONICLE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("CHRONICLE_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Postgres.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	// Validate audit config
	if !c.Audit.DefaultStrategy.Valid() {
		return fmt.Errorf("invalid audit strategy: %s (must be partial or full)", c.Audit.DefaultStrategy)
	}
	if c.Audit.LookupConcurrency < 1 {
		return fmt.Errorf("lookup concurrency must be at least 1")
	}

	if err := c.Sinks.validate(c.Retention); err != nil {
		return err
	}

	// Validate retention config
	if c.Retention.Days < 0 {
		return fmt.Errorf("retention days must not be negative")
	}
	if c.Retention.Days > 0 {
		if _, err := cron.ParseStandard(c.Retention.Schedule); err != nil {
			return fmt.Errorf("invalid retention schedule %q: %w", c.Retention.Schedule, err)
		}
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

func (s SinksConfig) validate(retention RetentionConfig) error {
	if len(s.Enabled) == 0 {
		return fmt.Errorf("at least one audit sink is required")
	}
	for _, name := range s.Enabled {
		if !slices.Contains(knownSinks, name) {
			return fmt.Errorf("invalid audit sink: %s (must be one of %s)", name, strings.Join(knownSinks, ", "))
		}
	}

	if s.Has(SinkPostgres) && s.PostgresTable == "" {
		return fmt.Errorf("audit table is required for the postgres sink")
	}
	if s.Has(SinkFile) && s.File.BasePath == "" {
		return fmt.Errorf("file path is required for the file sink")
	}
	if s.Has(SinkKafka) {
		if len(s.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka brokers are required for the kafka sink")
		}
		if s.Kafka.Topic == "" {
			return fmt.Errorf("kafka topic is required for the kafka sink")
		}
	}
	if s.Has(SinkRedis) && s.Redis.URL == "" {
		return fmt.Errorf("redis URL is required for the redis sink")
	}
	if (s.Has(SinkS3) || retention.ArchiveToS3) && s.S3.Bucket == "" {
		return fmt.Errorf("S3 bucket is required for the s3 sink and archiving")
	}
	return nil
}

// splitList parses a comma separated list, dropping empty items
func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.ToLower(strings.TrimSpace(item)); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
