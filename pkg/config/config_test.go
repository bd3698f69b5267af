package config

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/platinummonkey/chronicle/pkg/audit"
	"github.com/platinummonkey/chronicle/pkg/observability"
)

// TestGetEnv tests the getEnv helper function
func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns env value when set",
			key:          "TEST_VAR",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when env not set",
			key:          "TEST_VAR_NOT_SET",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvTyped tests the typed environment helpers
func TestGetEnvTyped(t *testing.T) {
	t.Run("bool", func(t *testing.T) {
		for value, want := range map[string]bool{"true": true, "TRUE": true, "1": true, "false": false, "yes": false} {
			t.Setenv("TEST_BOOL", value)
			if got := getEnvBool("TEST_BOOL", !want); got != want {
				t.Errorf("getEnvBool(%q) = %v, want %v", value, got, want)
			}
		}
	})

	t.Run("int falls back on invalid values", func(t *testing.T) {
		t.Setenv("TEST_INT", "not-a-number")
		if got := getEnvInt("TEST_INT", 7); got != 7 {
			t.Errorf("getEnvInt() = %v, want 7", got)
		}
		t.Setenv("TEST_INT", "42")
		if got := getEnvInt("TEST_INT", 7); got != 42 {
			t.Errorf("getEnvInt() = %v, want 42", got)
		}
	})

	t.Run("int64", func(t *testing.T) {
		t.Setenv("TEST_INT64", "9223372036854775807")
		if got := getEnvInt64("TEST_INT64", 0); got != 9223372036854775807 {
			t.Errorf("getEnvInt64() = %v", got)
		}
	})

	t.Run("duration", func(t *testing.T) {
		t.Setenv("TEST_DURATION", "90s")
		if got := getEnvDuration("TEST_DURATION", time.Second); got != 90*time.Second {
			t.Errorf("getEnvDuration() = %v, want 90s", got)
		}
		t.Setenv("TEST_DURATION", "soon")
		if got := getEnvDuration("TEST_DURATION", time.Second); got != time.Second {
			t.Errorf("getEnvDuration() = %v, want 1s", got)
		}
	})
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"postgres", []string{"postgres"}},
		{" Postgres , kafka,,s3 ", []string{"postgres", "kafka", "s3"}},
	}
	for _, tt := range tests {
		if got := splitList(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("splitList(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLoadServerConfig(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want ServerConfig
	}{
		{
			name: "defaults",
			env:  map[string]string{},
			want: ServerConfig{
				Host:            "0.0.0.0",
				Port:            "8080",
				ReadTimeout:     15 * time.Second,
				WriteTimeout:    60 * time.Second,
				IdleTimeout:     60 * time.Second,
				ShutdownTimeout: 30 * time.Second,
				HealthPort:      "9090",
			},
		},
		{
			name: "custom values",
			env: map[string]string{
				"CHRONICLE_HOST":             "localhost",
				"CHRONICLE_PORT":             "3000",
				"CHRONICLE_READ_TIMEOUT":     "30s",
				"CHRONICLE_WRITE_TIMEOUT":    "2m",
				"CHRONICLE_IDLE_TIMEOUT":     "90s",
				"CHRONICLE_SHUTDOWN_TIMEOUT": "10s",
				"CHRONICLE_HEALTH_PORT":      "3001",
			},
			want: ServerConfig{
				Host:            "localhost",
				Port:            "3000",
				ReadTimeout:     30 * time.Second,
				WriteTimeout:    2 * time.Minute,
				IdleTimeout:     90 * time.Second,
				ShutdownTimeout: 10 * time.Second,
				HealthPort:      "3001",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if got := loadServerConfig(); got != tt.want {
				t.Errorf("loadServerConfig() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestLoadAuditConfig(t *testing.T) {
	t.Setenv("CHRONICLE_AUDIT_DEFAULT_STRATEGY", "FULL")
	t.Setenv("CHRONICLE_AUDIT_DROP_EMPTY", "false")
	t.Setenv("CHRONICLE_AUDIT_RULES_FILE", "/etc/chronicle/rules.yaml")
	t.Setenv("CHRONICLE_LOOKUP_CACHE_SIZE", "64")
	t.Setenv("CHRONICLE_LOOKUP_CACHE_TTL", "30s")
	t.Setenv("CHRONICLE_LOOKUP_CONCURRENCY", "2")

	want := AuditConfig{
		DefaultStrategy:   audit.Full,
		DropEmpty:         false,
		RulesFile:         "/etc/chronicle/rules.yaml",
		LookupCacheSize:   64,
		LookupCacheTTL:    30 * time.Second,
		LookupConcurrency: 2,
	}
	if got := loadAuditConfig(); got != want {
		t.Errorf("loadAuditConfig() = %+v, want %+v", got, want)
	}
}

func TestLoadSinksConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := loadSinksConfig()
		if !reflect.DeepEqual(cfg.Enabled, []string{SinkPostgres}) {
			t.Errorf("Enabled = %v, want [postgres]", cfg.Enabled)
		}
		if cfg.PostgresTable != audit.DefaultTable {
			t.Errorf("PostgresTable = %q", cfg.PostgresTable)
		}
		if cfg.RedisStream != audit.DefaultStream {
			t.Errorf("RedisStream = %q", cfg.RedisStream)
		}
		if cfg.Redis.DB != -1 {
			t.Errorf("Redis.DB = %d, want -1 to keep the URL database", cfg.Redis.DB)
		}
		if cfg.File != audit.DefaultFileSinkConfig() {
			t.Errorf("File = %+v", cfg.File)
		}
	})

	t.Run("custom values", func(t *testing.T) {
		t.Setenv("CHRONICLE_AUDIT_SINKS", "postgres,kafka,s3,file")
		t.Setenv("CHRONICLE_FANOUT_PARALLEL", "true")
		t.Setenv("CHRONICLE_KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")
		t.Setenv("CHRONICLE_KAFKA_TOPIC", "orders.audit")
		t.Setenv("CHRONICLE_KAFKA_COMPRESSION", "zstd")
		t.Setenv("CHRONICLE_S3_BUCKET", "audit-archive")
		t.Setenv("CHRONICLE_S3_USE_PATH_STYLE", "true")
		t.Setenv("CHRONICLE_FILE_PATH", "/tmp/audit")
		t.Setenv("CHRONICLE_FILE_MAX_SIZE", "1024")
		t.Setenv("CHRONICLE_REDIS_MAX_LEN", "500")

		cfg := loadSinksConfig()
		if !cfg.Has(SinkKafka) || !cfg.Has(SinkS3) || cfg.Has(SinkRedis) {
			t.Errorf("Enabled = %v", cfg.Enabled)
		}
		if !cfg.Parallel {
			t.Error("Parallel = false, want true")
		}
		if !reflect.DeepEqual(cfg.Kafka.Brokers, []string{"kafka-1:9092", "kafka-2:9092"}) {
			t.Errorf("Kafka.Brokers = %v", cfg.Kafka.Brokers)
		}
		if cfg.Kafka.Topic != "orders.audit" || cfg.Kafka.Compression != "zstd" {
			t.Errorf("Kafka = %+v", cfg.Kafka)
		}
		if cfg.S3.Bucket != "audit-archive" || !cfg.S3.UsePathStyle || cfg.S3.Prefix != "audit" {
			t.Errorf("S3 = %+v", cfg.S3)
		}
		if cfg.File.BasePath != "/tmp/audit" || cfg.File.MaxSize != 1024 {
			t.Errorf("File = %+v", cfg.File)
		}
		if cfg.RedisMaxLen != 500 {
			t.Errorf("RedisMaxLen = %d", cfg.RedisMaxLen)
		}
	})
}

func TestLoadObservabilityConfig(t *testing.T) {
	t.Setenv("CHRONICLE_LOG_LEVEL", "debug")
	t.Setenv("CHRONICLE_METRICS_ENABLED", "false")
	t.Setenv("CHRONICLE_OTEL_ENABLED", "true")
	t.Setenv("CHRONICLE_OTEL_ENDPOINT", "collector:4317")

	want := ObservabilityConfig{
		LogLevel:           observability.DebugLevel,
		MetricsEnabled:     false,
		OTelEnabled:        true,
		OTelEndpoint:       "collector:4317",
		OTelServiceName:    "chronicle",
		OTelServiceVersion: "1.0.0",
		OTelInsecure:       true,
	}
	if got := loadObservabilityConfig(); got != want {
		t.Errorf("loadObservabilityConfig() = %+v, want %+v", got, want)
	}
}

func validConfig() Config {
	return Config{
		Server:   ServerConfig{Port: "8080", HealthPort: "9090"},
		Postgres: loadPostgresConfig(),
		Audit: AuditConfig{
			DefaultStrategy:   audit.Partial,
			LookupConcurrency: 4,
		},
		Sinks: SinksConfig{
			Enabled:       []string{SinkPostgres},
			PostgresTable: audit.DefaultTable,
		},
		Retention: RetentionConfig{Days: 90, Schedule: "0 3 * * *"},
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			modify: func(*Config) {},
		},
		{
			name:    "missing server port",
			modify:  func(c *Config) { c.Server.Port = "" },
			wantErr: "server port is required",
		},
		{
			name:    "missing health port",
			modify:  func(c *Config) { c.Server.HealthPort = "" },
			wantErr: "health port is required",
		},
		{
			name:    "same server and health port",
			modify:  func(c *Config) { c.Server.HealthPort = "8080" },
			wantErr: "server port and health port must be different",
		},
		{
			name:    "missing postgres url",
			modify:  func(c *Config) { c.Postgres.URL = "" },
			wantErr: "postgres URL is required",
		},
		{
			name:    "invalid strategy",
			modify:  func(c *Config) { c.Audit.DefaultStrategy = "everything" },
			wantErr: "invalid audit strategy: everything (must be partial or full)",
		},
		{
			name:    "zero lookup concurrency",
			modify:  func(c *Config) { c.Audit.LookupConcurrency = 0 },
			wantErr: "lookup concurrency must be at least 1",
		},
		{
			name:    "no sinks",
			modify:  func(c *Config) { c.Sinks.Enabled = nil },
			wantErr: "at least one audit sink is required",
		},
		{
			name:    "unknown sink",
			modify:  func(c *Config) { c.Sinks.Enabled = []string{"carrier-pigeon"} },
			wantErr: "invalid audit sink: carrier-pigeon",
		},
		{
			name:    "kafka without brokers",
			modify:  func(c *Config) { c.Sinks.Enabled = []string{SinkKafka}; c.Sinks.Kafka.Topic = "t" },
			wantErr: "kafka brokers are required for the kafka sink",
		},
		{
			name: "kafka without topic",
			modify: func(c *Config) {
				c.Sinks.Enabled = []string{SinkKafka}
				c.Sinks.Kafka.Brokers = []string{"localhost:9092"}
			},
			wantErr: "kafka topic is required for the kafka sink",
		},
		{
			name:    "file without path",
			modify:  func(c *Config) { c.Sinks.Enabled = []string{SinkFile} },
			wantErr: "file path is required for the file sink",
		},
		{
			name:    "redis without url",
			modify:  func(c *Config) { c.Sinks.Enabled = []string{SinkRedis} },
			wantErr: "redis URL is required for the redis sink",
		},
		{
			name:    "archive without bucket",
			modify:  func(c *Config) { c.Retention.ArchiveToS3 = true },
			wantErr: "S3 bucket is required for the s3 sink and archiving",
		},
		{
			name:    "negative retention",
			modify:  func(c *Config) { c.Retention.Days = -1 },
			wantErr: "retention days must not be negative",
		},
		{
			name:    "invalid schedule",
			modify:  func(c *Config) { c.Retention.Schedule = "every night" },
			wantErr: "invalid retention schedule",
		},
		{
			name: "schedule ignored when retention is disabled",
			modify: func(c *Config) {
				c.Retention.Days = 0
				c.Retention.Schedule = ""
			},
		},
		{
			name: "otel enabled without endpoint",
			modify: func(c *Config) {
				c.Observability.OTelEnabled = true
				c.Observability.OTelServiceName = "test"
			},
			wantErr: "OpenTelemetry endpoint is required when OTel is enabled",
		},
		{
			name: "otel enabled without service name",
			modify: func(c *Config) {
				c.Observability.OTelEnabled = true
				c.Observability.OTelEndpoint = "localhost:4317"
			},
			wantErr: "OpenTelemetry service name is required when OTel is enabled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
	}{
		{
			name:    "defaults are valid",
			env:     map[string]string{},
			wantErr: false,
		},
		{
			name: "invalid config - same ports",
			env: map[string]string{
				"CHRONICLE_PORT":        "8080",
				"CHRONICLE_HEALTH_PORT": "8080",
			},
			wantErr: true,
		},
		{
			name: "invalid config - s3 sink without bucket",
			env: map[string]string{
				"CHRONICLE_AUDIT_SINKS": "postgres,s3",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := LoadConfig()
			if (err != nil) != tt.wantErr {
				t.Errorf("LoadConfig() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && cfg == nil {
				t.Error("LoadConfig() returned nil config without error")
			}
		})
	}
}
