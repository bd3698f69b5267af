package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultStream is the stream the Redis sink appends to
const DefaultStream = "chronicle:audit"

// RedisConfig holds connection settings for OpenRedis
type RedisConfig struct {
	URL        string
	Password   string
	DB         int // negative keeps the DB from the URL
	MaxRetries int
	PoolSize   int
}

// OpenRedis connects to Redis and verifies the connection
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB >= 0 {
		opts.DB = cfg.DB
	}
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// RedisSink appends each entry to a Redis stream
type RedisSink struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

// RedisSinkOption configures a RedisSink
type RedisSinkOption func(*RedisSink)

// WithStream overrides the stream key
func WithStream(stream string) RedisSinkOption {
	return func(s *RedisSink) {
		if stream != "" {
			s.stream = stream
		}
	}
}

// WithMaxLen caps the stream at roughly n entries; zero leaves it unbounded
func WithMaxLen(n int64) RedisSinkOption {
	return func(s *RedisSink) { s.maxLen = n }
}

// NewRedisSink creates a sink on a shared client. Close does not close the client.
func NewRedisSink(client redis.UniversalClient, opts ...RedisSinkOption) *RedisSink {
	s := &RedisSink{client: client, stream: DefaultStream}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Mode() DeliveryMode { return Detached }

// Deliver adds one stream message per entry in a single pipeline
func (s *RedisSink) Deliver(ctx context.Context, entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, e := range entries {
		data, err := e.ToJSON()
		if err != nil {
			return fmt.Errorf("failed to marshal audit entry %s: %w", e.ID, err)
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: s.stream,
			MaxLen: s.maxLen,
			Approx: s.maxLen > 0,
			Values: map[string]any{
				"id":        e.ID,
				"commit_id": e.CommitID,
				"entity":    e.ShortName,
				"state":     string(e.State),
				"entry":     data,
			},
		})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis stream append failed: %w", err)
	}
	return nil
}

func (s *RedisSink) Close() error { return nil }
