// Package chronicle assembles a trigger pipeline, its audit configuration and
// its sinks from a config.Config, for applications that commit through the
// PostgreSQL unit of work.
package chronicle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/chronicle/pkg/audit"
	"github.com/platinummonkey/chronicle/pkg/config"
	"github.com/platinummonkey/chronicle/pkg/observability"
	"github.com/platinummonkey/chronicle/pkg/schema"
	"github.com/platinummonkey/chronicle/pkg/trigger"
	pgstore "github.com/platinummonkey/chronicle/pkg/uow/postgres"
)

// Service bundles everything an application needs to commit audited units of work
type Service struct {
	Registry *trigger.Registry
	Pipeline *trigger.Pipeline
	Units    *pgstore.Store
	Auditor  *audit.Auditor
	Fanout   *audit.Fanout

	// Entries is the query surface over the postgres sink; nil when that sink is disabled
	Entries *audit.DBStore
	// Redis is the client behind the redis sink; nil when that sink is disabled
	Redis *redis.Client
}

// BuildConfiguration resolves the audit configuration for s. Environment
// defaults are applied first, then the rules file, then configure.
func BuildConfiguration(cfg config.AuditConfig, s *schema.Schema, configure func(*audit.Builder)) (*audit.Configuration, error) {
	b := audit.NewBuilder(
		audit.WithDefaultStrategy(cfg.DefaultStrategy),
		audit.WithDropEmpty(cfg.DropEmpty),
	)
	if cfg.RulesFile != "" {
		rules, err := audit.LoadRulesFile(cfg.RulesFile)
		if err != nil {
			return nil, err
		}
		rules.Apply(b)
	}
	if configure != nil {
		configure(b)
	}
	return b.Build(s)
}

// Sinks holds the sinks opened from configuration
type Sinks struct {
	Fanout   *audit.Fanout
	Postgres *audit.DBSink
	S3       *audit.S3Sink
	Redis    *redis.Client
}

// Close closes every sink and the redis client
func (s *Sinks) Close() error {
	var errs []error
	if s.Fanout != nil {
		errs = append(errs, s.Fanout.Close())
	}
	if s.Redis != nil {
		errs = append(errs, s.Redis.Close())
	}
	return errors.Join(errs...)
}

// OpenSinks creates the enabled sinks in configuration order. db is required
// only for the postgres sink. Sinks opened before a failure are closed.
func OpenSinks(ctx context.Context, cfg config.SinksConfig, db *sql.DB, logger *observability.Logger, metrics *observability.Metrics) (_ *Sinks, err error) {
	if logger == nil {
		logger = observability.Discard()
	}
	sinks := &Sinks{Fanout: audit.NewFanout()}
	sinks.Fanout.SetParallel(cfg.Parallel)
	sinks.Fanout.SetLogger(logger)
	sinks.Fanout.SetMetrics(metrics)
	defer func() {
		if err != nil {
			if closeErr := sinks.Close(); closeErr != nil {
				logger.WithError(closeErr).Warn("Failed to close sinks after setup error")
			}
		}
	}()

	for _, name := range cfg.Enabled {
		switch name {
		case config.SinkPostgres:
			sink, err := audit.NewDBSink(ctx, db, audit.WithTable(cfg.PostgresTable))
			if err != nil {
				return nil, fmt.Errorf("failed to open postgres sink: %w", err)
			}
			sinks.Postgres = sink
			sinks.Fanout.Add(sink)
		case config.SinkFile:
			fileCfg := cfg.File
			fileCfg.Logger = logger
			sink, err := audit.NewFileSink(fileCfg)
			if err != nil {
				return nil, fmt.Errorf("failed to open file sink: %w", err)
			}
			sinks.Fanout.Add(sink)
		case config.SinkKafka:
			sink, err := audit.NewKafkaSink(cfg.Kafka)
			if err != nil {
				return nil, fmt.Errorf("failed to open kafka sink: %w", err)
			}
			sinks.Fanout.Add(sink)
		case config.SinkRedis:
			client, err := audit.OpenRedis(ctx, cfg.Redis)
			if err != nil {
				return nil, fmt.Errorf("failed to open redis sink: %w", err)
			}
			sinks.Redis = client
			sinks.Fanout.Add(audit.NewRedisSink(client,
				audit.WithStream(cfg.RedisStream),
				audit.WithMaxLen(cfg.RedisMaxLen),
			))
		case config.SinkS3:
			sink, err := OpenS3(ctx, cfg.S3)
			if err != nil {
				return nil, err
			}
			sinks.S3 = sink
			sinks.Fanout.Add(sink)
		case config.SinkLog:
			sinks.Fanout.Add(audit.NewLogSink(logger))
		default:
			return nil, fmt.Errorf("unknown audit sink: %s", name)
		}
		logger.WithField("sink", name).Info("Audit sink enabled")
	}
	return sinks, nil
}

// OpenS3 creates the S3 sink, also used as the retention archive
func OpenS3(ctx context.Context, cfg audit.S3SinkConfig) (*audit.S3Sink, error) {
	sink, err := audit.NewS3Sink(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open s3 sink: %w", err)
	}
	return sink, nil
}

// New builds the service for the entity types in s. configure may add
// code-level audit configuration on top of the environment and rules file.
func New(ctx context.Context, cfg *config.Config, db *sql.DB, s *schema.Schema, configure func(*audit.Builder), logger *observability.Logger, metrics *observability.Metrics) (*Service, error) {
	if logger == nil {
		logger = observability.Discard()
	}
	auditCfg, err := BuildConfiguration(cfg.Audit, s, configure)
	if err != nil {
		return nil, err
	}
	units, err := pgstore.NewStore(db, s)
	if err != nil {
		return nil, err
	}
	sinks, err := OpenSinks(ctx, cfg.Sinks, db, logger, metrics)
	if err != nil {
		return nil, err
	}

	auditor := audit.NewAuditor(auditCfg,
		audit.WithAuditLogger(logger),
		audit.WithAuditMetrics(metrics),
		audit.WithLookupCache(audit.NewLookupCache(cfg.Audit.LookupCacheSize, cfg.Audit.LookupCacheTTL)),
		audit.WithLookupConcurrency(cfg.Audit.LookupConcurrency),
	)
	registry := trigger.NewRegistry()
	svc := &Service{
		Registry: registry,
		Pipeline: trigger.NewPipeline(registry,
			trigger.WithAuditor(auditor),
			trigger.WithFanout(sinks.Fanout),
			trigger.WithLogger(logger),
			trigger.WithMetrics(metrics),
		),
		Units:   units,
		Auditor: auditor,
		Fanout:  sinks.Fanout,
		Redis:   sinks.Redis,
	}
	if sinks.Postgres != nil {
		svc.Entries = audit.NewDBStore(sinks.Postgres, metrics)
	}
	return svc, nil
}

// Commit runs u through the pipeline
func (s *Service) Commit(ctx context.Context, u *pgstore.UnitOfWork) error {
	return s.Pipeline.Commit(ctx, u)
}

// Close closes the pipeline's sinks and the redis client
func (s *Service) Close() error {
	err := s.Pipeline.Close()
	if s.Redis != nil {
		err = errors.Join(err, s.Redis.Close())
	}
	return err
}
