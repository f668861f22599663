// Package control wires the error pipeline together and manages its
// lifecycle: classification, recovery, the write-ahead log, telemetry and the
// HTTP surface.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/vietddude/faultline/internal/classify"
	"github.com/vietddude/faultline/internal/core/events"
	"github.com/vietddude/faultline/internal/health"
	"github.com/vietddude/faultline/internal/infra/redis"
	"github.com/vietddude/faultline/internal/infra/storage"
	"github.com/vietddude/faultline/internal/infra/storage/memory"
	"github.com/vietddude/faultline/internal/infra/storage/postgres"
	"github.com/vietddude/faultline/internal/recovery"
	"github.com/vietddude/faultline/internal/retro"
	"github.com/vietddude/faultline/internal/telemetry"
)

// Config holds the supervisor configuration.
type Config struct {
	Port      int
	Classify  classify.Config
	Recovery  recovery.Config
	Retry     RetryConfig
	Retro     retro.Config
	Telemetry telemetry.Config
	Redis     redis.Config
	Database  postgres.Config

	// Collaborators lets an embedding application plug in its real
	// connection monitor, token source and so on. Zero value means null
	// objects throughout.
	Collaborators recovery.Collaborators
}

// RetryConfig tunes the shared retry policy.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
}

// Supervisor owns every component of the pipeline.
type Supervisor struct {
	cfg Config
	log *slog.Logger

	bus          *events.Bus
	handler      *classify.Handler
	strategies   *recovery.Strategies
	engine       *retro.Engine
	telemetry    *telemetry.System
	healthServer *health.Server

	db          *postgres.DB
	redisClient *redis.Client
	archive     storage.ErrorLogRepository
	unsubs      []func()
}

// NewSupervisor creates the supervisor with all dependencies initialized.
func NewSupervisor(cfg Config) (*Supervisor, error) {
	log := slog.Default()
	bus := events.NewBus()

	// 1. Storage: postgres when configured, in-memory otherwise.
	var archive storage.ErrorLogRepository
	var db *postgres.DB
	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := goose.SetDialect("postgres"); err != nil {
			return nil, err
		}
		if err := goose.Up(db.DB.DB, "migrations"); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		archive = postgres.NewErrorLogRepo(db)
		log.Info("using postgresql error archive")
	} else {
		archive = memory.NewErrorLogRepo(0)
		log.Info("using in-memory error archive")
	}

	// 2. Redis mirror for the write-ahead log. Optional: the WAL works
	// in-memory only, it just won't survive a restart.
	var redisClient *redis.Client
	var mirror retro.Mirror
	if cfg.Redis.URL != "" {
		var err error
		redisClient, err = redis.NewClient(cfg.Redis)
		if err != nil {
			log.Warn("failed to connect to redis, wal mirroring disabled", "error", err)
		} else {
			mirror = redisClient
			log.Info("wal mirroring enabled")
		}
	}

	// 3. Recovery strategies with the shared retry policy.
	collab := cfg.Collaborators
	if collab.Retry == nil && cfg.Retry.MaxRetries > 0 {
		collab.Retry = recovery.NewBackoffPolicy(cfg.Retry.MaxRetries, cfg.Retry.InitialBackoff)
	}
	strategies := recovery.NewStrategies(cfg.Recovery, collab, bus, log)

	// 4. Classification handler dispatching into the strategies.
	handler := classify.NewHandler(cfg.Classify, bus, strategies, log)

	// 5. Retroactive recovery engine over the WAL.
	engine := retro.NewEngine(cfg.Retro, strategies, bus, mirror, log)

	// 6. Telemetry.
	tel := telemetry.NewSystem(cfg.Telemetry, bus, log)

	// 7. Archive subscriber: persist every classification and outcome.
	var unsubs []func()
	unsubs = append(unsubs,
		bus.Subscribe(events.TopicErrorDetected, func(p any) {
			d, ok := p.(events.ErrorDetected)
			if !ok {
				return
			}
			if err := archive.Append(context.Background(), d.Error); err != nil {
				log.Warn("failed to archive error", "error", err)
			}
		}),
		bus.Subscribe(events.TopicRecoveryCompleted, func(p any) {
			d, ok := p.(events.RecoveryCompleted)
			if !ok {
				return
			}
			if err := archive.RecordOutcome(context.Background(), d.Error.ID, d.Result); err != nil {
				log.Warn("failed to archive recovery outcome", "error", err)
			}
		}),
	)

	// 8. Health monitor and HTTP surface.
	monitor := health.NewMonitor(handler, engine, tel)
	healthServer := health.NewServer(monitor, engine, tel, archive, cfg.Port, log)

	return &Supervisor{
		cfg:          cfg,
		log:          log,
		bus:          bus,
		handler:      handler,
		strategies:   strategies,
		engine:       engine,
		telemetry:    tel,
		healthServer: healthServer,
		db:           db,
		redisClient:  redisClient,
		archive:      archive,
		unsubs:       unsubs,
	}, nil
}

// Start restores the WAL mirror and launches the background loops.
func (s *Supervisor) Start(ctx context.Context) error {
	if err := s.engine.Restore(ctx); err != nil {
		s.log.Warn("failed to restore wal from mirror", "error", err)
	}

	go func() {
		if err := s.healthServer.Start(); err != nil {
			s.log.Error("health server failed", "error", err)
		}
	}()

	s.telemetry.StartMonitoring(ctx)
	s.engine.Start(ctx)

	s.log.Info("pipeline started", "port", s.cfg.Port)
	return nil
}

// Stop shuts the pipeline down in reverse order of startup.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.log.Info("stopping pipeline")

	s.engine.Destroy()
	s.telemetry.StopMonitoring()
	for _, unsub := range s.unsubs {
		unsub()
	}

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.log.Warn("failed to close redis", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.log.Warn("failed to close db", "error", err)
		}
	}

	return s.healthServer.Stop(ctx)
}

// Handler exposes the classification entry point for embedding applications.
func (s *Supervisor) Handler() *classify.Handler { return s.handler }

// Engine exposes the retroactive recovery engine.
func (s *Supervisor) Engine() *retro.Engine { return s.engine }

// Telemetry exposes the telemetry system.
func (s *Supervisor) Telemetry() *telemetry.System { return s.telemetry }
