package routes

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/biosync/biosync/internal/attempt"
	"github.com/biosync/biosync/internal/audit"
	"github.com/biosync/biosync/internal/auth"
	"github.com/biosync/biosync/internal/biometric"
	"github.com/biosync/biosync/internal/checkpoint"
	"github.com/biosync/biosync/internal/config"
	"github.com/biosync/biosync/internal/download"
	"github.com/biosync/biosync/internal/identity"
	"github.com/biosync/biosync/internal/mapping"
	"github.com/biosync/biosync/internal/metadata"
	"github.com/biosync/biosync/internal/queue"
	"github.com/biosync/biosync/internal/reconcile"
	"github.com/biosync/biosync/internal/status"
	"github.com/biosync/biosync/internal/store"
)

const auditStreamMaxLen = 100_000

// Components holds the wired sync engine. Every service shares one transactor so the
// reconciler's per-item transactions span all repositories.
type Components struct {
	Identities  *identity.Service
	Biometrics  *biometric.Service
	Queue       *queue.Service
	Checkpoints *checkpoint.Service
	Tracker     *metadata.Tracker
	Attempts    *attempt.Log
	Reconciler  *reconcile.Service
	Downloads   *download.Provider
	Status      *status.Aggregator
	Sessions    *auth.Sessions

	audit *audit.AsyncSink
}

// Build wires services on Postgres when db is set and on memory repositories otherwise.
// The audit trail always reaches the logger and, with Redis, a capped stream.
func Build(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, logger *slog.Logger) *Components {
	var (
		tx          store.Transactor
		identityRp  identity.Repository
		bioRepo     biometric.Repository
		queueRepo   queue.Repository
		cpRepo      checkpoint.Repository
		metaRepo    metadata.Repository
		attemptRepo attempt.Repository
		mapRepo     mapping.Repository
	)
	if db != nil {
		tx = store.NewPostgresTransactor(db)
		identityRp = identity.NewPostgresRepository(db)
		bioRepo = biometric.NewPostgresRepository(db)
		queueRepo = queue.NewPostgresRepository(db)
		cpRepo = checkpoint.NewPostgresRepository(db)
		metaRepo = metadata.NewPostgresRepository(db)
		attemptRepo = attempt.NewPostgresRepository(db)
		mapRepo = mapping.NewPostgresRepository(db)
	} else {
		tx = store.NewMemoryTransactor()
		identityRp = identity.NewMemoryRepository()
		bioRepo = biometric.NewMemoryRepository(func(ctx context.Context, id string) bool {
			_, err := identityRp.FindByID(ctx, id)
			return err == nil
		})
		queueRepo = queue.NewMemoryRepository()
		cpRepo = checkpoint.NewMemoryRepository()
		metaRepo = metadata.NewMemoryRepository()
		attemptRepo = attempt.NewMemoryRepository()
		mapRepo = mapping.NewMemoryRepository()
	}

	sinks := audit.Fanout{audit.NewLoggerSink(logger)}
	if cache != nil {
		sinks = append(sinks, audit.NewRedisStreamSink(cache, cfg.AuditStream, auditStreamMaxLen))
	}
	sink := audit.NewAsyncSink(sinks, cfg.AuditBuffer, logger)

	c := &Components{audit: sink}
	c.Identities = identity.NewService(identityRp)
	c.Biometrics = biometric.NewService(bioRepo)
	c.Queue = queue.NewService(queueRepo, cfg.QueueMaxAttempts)
	c.Checkpoints = checkpoint.NewService(cpRepo)
	c.Tracker = metadata.NewTracker(metaRepo, c.Checkpoints, tx, logger)
	c.Attempts = attempt.NewLog(attemptRepo)
	c.Reconciler = reconcile.NewService(reconcile.Deps{
		Tx:         tx,
		Mapper:     mapping.NewMapper(mapRepo),
		Identities: c.Identities,
		Biometrics: c.Biometrics,
		Queue:      c.Queue,
		Tracker:    c.Tracker,
		Attempts:   c.Attempts,
		Audit:      sink,
		Logger:     logger,
	})
	c.Downloads = download.NewProvider(c.Identities, c.Biometrics, c.Attempts, sink, logger)
	c.Status = status.NewAggregator(c.Attempts, c.Queue, c.Tracker, c.Checkpoints)
	c.Sessions = auth.NewSessions(cfg.SessionSecret, c.Identities)
	return c
}

// Close flushes buffered audit events.
func (c *Components) Close(ctx context.Context) error {
	return c.audit.Close(ctx)
}
