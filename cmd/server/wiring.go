package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kgo"

	"certledger/internal/certificate/artifact"
	"certledger/internal/certificate/generator"
	certmetrics "certledger/internal/certificate/metrics"
	"certledger/internal/certificate/ports"
	"certledger/internal/certificate/sequence"
	"certledger/internal/certificate/service"
	"certledger/internal/certificate/store"
	"certledger/internal/platform/config"
	"certledger/internal/platform/migrations"
	platformredis "certledger/internal/platform/redis"
	"certledger/pkg/platform/audit"
	auditpublisher "certledger/pkg/platform/audit/publisher"
	auditmemory "certledger/pkg/platform/audit/store/memory"
	auditpostgres "certledger/pkg/platform/audit/store/postgres"
	"certledger/pkg/platform/audit/worker"
	"certledger/pkg/platform/circuit"
)

// app holds the wired service and everything that must be closed on exit.
type app struct {
	service *service.Service
	breaker *circuit.Breaker
	relay   *worker.Worker
	db      *sql.DB
	redis   *platformredis.Client
	closers []func() error
	log     *slog.Logger
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("shutdown cleanup failed", "error", err)
		}
	}
}

// ready reports whether the backing stores answer.
func (a *app) ready(ctx context.Context) error {
	if a.db != nil {
		if err := a.db.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Health(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

func build(ctx context.Context, cfg config.Config, log *slog.Logger, reg prometheus.Registerer) (_ *app, err error) {
	a := &app{log: log}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	var (
		tx         ports.StoreTx
		reads      ports.Stores
		auditStore audit.Store
	)
	if cfg.Database.URL != "" {
		db, err := openDatabase(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		a.db = db
		a.closers = append(a.closers, db.Close)

		reads = ports.Stores{
			Certificates: store.NewPostgresCertificateStore(db),
			Subjects:     store.NewPostgresSubjectStore(db),
		}
		tx = store.NewPostgresTx(db, store.WithTxTimeout(cfg.Server.RequestTimeout))
		outbox := auditpostgres.New(db)
		auditStore = outbox

		if len(cfg.Kafka.Brokers) > 0 {
			relay, client, err := newRelay(cfg.Kafka, outbox, log)
			if err != nil {
				return nil, err
			}
			a.relay = relay
			a.closers = append(a.closers, func() error {
				client.Close()
				return nil
			})
		}
	} else {
		log.Warn("no database configured, using in-memory stores")
		certificates := store.NewInMemoryCertificateStore()
		subjects := store.NewInMemorySubjectStore()
		reads = ports.Stores{Certificates: certificates, Subjects: subjects}
		tx = store.NewInMemoryTx(certificates, subjects, store.WithTxTimeout(cfg.Server.RequestTimeout))
		auditStore = auditmemory.NewInMemoryStore()
	}

	allocator, err := a.newAllocator(ctx, cfg)
	if err != nil {
		return nil, err
	}

	artifacts, closeArtifacts, err := artifact.Open(ctx, artifact.Config{
		Backend:         cfg.Artifacts.Backend,
		Dir:             cfg.Artifacts.Dir,
		Bucket:          cfg.Artifacts.Bucket,
		CredentialsFile: cfg.Artifacts.CredentialsFile,
		Logger:          log,
	})
	if err != nil {
		return nil, fmt.Errorf("open artifact store: %w", err)
	}
	a.closers = append(a.closers, closeArtifacts)

	gen, err := generator.New(artifacts,
		generator.WithExpiryPolicy(cfg.ExpiryPolicy()),
		generator.WithLatency(cfg.Certificates.RenderLatency),
	)
	if err != nil {
		return nil, err
	}

	roles, err := cfg.RolePolicy()
	if err != nil {
		return nil, err
	}

	publisher := auditpublisher.NewPublisher(auditStore, auditpublisher.WithLogger(log))
	a.closers = append(a.closers, func() error {
		publisher.Close()
		return nil
	})

	a.breaker = circuit.New("document-generator",
		circuit.WithFailureThreshold(cfg.Certificates.BreakerFailures),
		circuit.WithCooldown(cfg.Certificates.BreakerCooldown),
	)

	a.service, err = service.New(tx, reads, allocator, gen, artifacts,
		service.WithLogger(log),
		service.WithAuditPublisher(publisher),
		service.WithMetrics(certmetrics.New(reg)),
		service.WithBreaker(a.breaker),
		service.WithRolePolicy(roles),
		service.WithExpiryPolicy(cfg.ExpiryPolicy()),
		service.WithRenderTimeout(cfg.Certificates.RenderTimeout),
		service.WithMaxAttempts(cfg.Certificates.MaxAttempts),
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func openDatabase(ctx context.Context, cfg config.Database) (*sql.DB, error) {
	// "postgres" is lib/pq, "pgx" is pgx's database/sql driver.
	db, err := sql.Open(cfg.Driver, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if cfg.Migrate {
		if err := migrations.Apply(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
	}
	return db, nil
}

func (a *app) newAllocator(ctx context.Context, cfg config.Config) (ports.SequenceAllocator, error) {
	switch cfg.SequenceBackend() {
	case "postgres":
		if a.db == nil {
			return nil, errors.New("postgres sequence backend needs a database")
		}
		return sequence.NewPostgresAllocator(a.db), nil
	case "redis":
		client, err := platformredis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		if client == nil {
			return nil, errors.New("redis sequence backend needs a redis URL")
		}
		a.redis = client
		a.closers = append(a.closers, client.Close)
		return sequence.NewRedisAllocator(client.Client), nil
	default:
		if a.db != nil {
			a.log.Warn("in-memory serial allocation with a database; serials restart on every boot")
		}
		return sequence.NewInMemoryAllocator(), nil
	}
}

func newRelay(cfg config.Kafka, outbox *auditpostgres.Store, log *slog.Logger) (*worker.Worker, *kgo.Client, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create kafka client: %w", err)
	}
	relay, err := worker.NewWorker(outbox, client, cfg.Topic,
		worker.WithBatchSize(cfg.BatchSize),
		worker.WithInterval(cfg.RelayInterval),
		worker.WithLogger(log),
	)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return relay, client, nil
}
