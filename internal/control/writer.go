package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/writer/internal/api"
	"github.com/vietddude/writer/internal/core/config"
	"github.com/vietddude/writer/internal/core/worker"
	"github.com/vietddude/writer/internal/durable"
	"github.com/vietddude/writer/internal/health"
	"github.com/vietddude/writer/internal/infra/downstream"
	redisclient "github.com/vietddude/writer/internal/infra/redis"
	"github.com/vietddude/writer/internal/infra/storage"
	"github.com/vietddude/writer/internal/infra/storage/memory"
	"github.com/vietddude/writer/internal/infra/storage/postgres"
	"github.com/vietddude/writer/internal/ingest"
	"github.com/vietddude/writer/internal/orchestration"
)

// Writer is the main application struct that manages the service lifecycle.
type Writer struct {
	cfg         Config
	engine      *durable.Engine
	records     storage.RecordRepository
	store       durable.Store
	scheduler   *ingest.Scheduler
	subscriber  *ingest.Subscriber
	api         *api.Server
	grpcHealth  *health.GRPCServer
	pruner      *worker.Pruner
	healthMon   *health.Monitor
	db          *postgres.DB
	redisClient *redisclient.Client
	log         *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
}

// Config holds the application configuration.
type Config struct {
	Port            int
	GRPCPort        int
	Database        postgres.Config
	Redis           redisclient.Config
	Downstream      downstream.Config
	Engine          config.EngineConfig
	SubmissionRetry durable.RetryPolicy
	Ingest          config.IngestConfig
	Retention       config.RetentionConfig
}

// ConfigFrom maps the file configuration onto the writer configuration.
func ConfigFrom(cfg *config.AppConfig) Config {
	return Config{
		Port:            cfg.Server.Port,
		GRPCPort:        cfg.Server.GRPCPort,
		Database:        cfg.Database,
		Redis:           cfg.Redis,
		Downstream:      cfg.Downstream,
		Engine:          cfg.Engine,
		SubmissionRetry: cfg.SubmissionRetry.Policy(),
		Ingest:          cfg.Ingest,
		Retention:       cfg.Retention,
	}
}

// NewWriter creates a new Writer instance with all dependencies initialized.
// An empty database URL keeps records in memory; an empty Redis URL keeps
// orchestration state in memory and disables pub/sub intake.
func NewWriter(ctx context.Context, cfg Config) (*Writer, error) {
	w := &Writer{cfg: cfg, log: slog.Default().With("component", "writer")}

	var checks []health.Check
	mem := memory.NewMemoryStorage()

	// 1. Record storage
	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		w.db = db
		w.records = postgres.NewRecordRepo(db)
		checks = append(checks, health.Check{Name: "database", Critical: true, Probe: db.Health})
		w.log.Info("Using PostgreSQL record storage")
	} else {
		w.records = memory.NewRecordRepo(mem)
		w.log.Info("Using memory record storage")
	}

	// 2. Orchestration state
	engineOpts := []durable.Option{durable.WithConfig(cfg.Engine.Config)}
	if cfg.Redis.URL != "" {
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			w.closeStores()
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		w.redisClient = client
		w.store = redisclient.NewDurableStore(client, cfg.Redis.KeyPrefix)
		engineOpts = append(engineOpts,
			durable.WithLocker(redisclient.NewInstanceLocker(client, cfg.Redis.KeyPrefix, cfg.Engine.LockTTL)))
		checks = append(checks, health.Check{Name: "redis", Critical: true, Probe: client.Health})
		w.log.Info("Using Redis orchestration store")
	} else {
		w.store = memory.NewDurableStore(mem)
		w.log.Info("Using memory orchestration store")
	}

	// 3. Engine and orchestrations
	w.engine = durable.NewEngine(w.store, engineOpts...)

	submitter := downstream.NewClient(cfg.Downstream)
	checks = append(checks, health.Check{Name: "downstream", Probe: submitter.Check})

	workflows := orchestration.NewWorkflows()
	if cfg.SubmissionRetry.MaxAttempts > 0 {
		workflows.SubmissionPolicy = cfg.SubmissionRetry
	}
	orchestration.Register(w.engine, workflows, &orchestration.Activities{
		Submitter: submitter,
		Records:   w.records,
		Instances: w.store,
	})

	// 4. Intake
	w.scheduler = ingest.NewScheduler(w.engine, w.records, nil)
	if cfg.Ingest.Enabled {
		if w.redisClient == nil {
			w.log.Warn("Pub/sub intake requires Redis, disabled")
		} else {
			w.subscriber = ingest.NewSubscriber(w.redisClient, cfg.Ingest.Channel, w.scheduler, nil)
		}
	}

	// 5. Health, API and background workers
	w.healthMon = health.NewMonitor(health.DefaultCacheTTL, checks...)
	w.api = api.NewServer(cfg.Port, w.scheduler, w.engine, w.records, w.healthMon, nil)
	if cfg.GRPCPort > 0 {
		w.grpcHealth = health.NewGRPCServer(w.healthMon, cfg.GRPCPort, health.DefaultCacheTTL)
	}
	w.pruner = worker.NewPruner(cfg.Retention, w.store)

	return w, nil
}

// Engine returns the durable engine.
func (w *Writer) Engine() *durable.Engine { return w.engine }

// Scheduler returns the intake scheduler.
func (w *Writer) Scheduler() *ingest.Scheduler { return w.scheduler }

// Records returns the record repository.
func (w *Writer) Records() storage.RecordRepository { return w.records }

// Start resumes interrupted orchestrations and starts all components.
func (w *Writer) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)

	if err := w.engine.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("failed to start engine: %w", err)
	}

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		if err := w.api.Start(); err != nil {
			w.log.Error("API server failed", "error", err)
			return err
		}
		return nil
	})

	if w.grpcHealth != nil {
		g.Go(func() error { return w.grpcHealth.Run(gctx) })
	}

	if w.subscriber != nil {
		w.log.Info("Starting pub/sub intake", "channel", w.cfg.Ingest.Channel)
		g.Go(func() error { return w.subscriber.Run(gctx) })
	}

	if w.cfg.Retention.Period > 0 {
		w.log.Info("Starting pruner", "retention", w.cfg.Retention.Period)
		g.Go(func() error {
			w.pruner.Start(gctx)
			return nil
		})
	}

	w.mu.Lock()
	w.cancel = cancel
	w.group = g
	w.mu.Unlock()
	return nil
}

// Stop stops intake first, then the engine, then closes the stores.
// Interrupted orchestrations resume on the next Start.
func (w *Writer) Stop(ctx context.Context) error {
	w.log.Info("Stopping Writer...")

	var errs []error
	if err := w.api.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop api: %w", err))
	}

	w.mu.Lock()
	cancel, g := w.cancel, w.group
	w.mu.Unlock()
	if cancel != nil {
		cancel()
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
		}
	}

	if err := w.engine.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop engine: %w", err))
	}

	w.closeStores()
	return errors.Join(errs...)
}

func (w *Writer) closeStores() {
	if w.redisClient != nil {
		if err := w.redisClient.Close(); err != nil {
			w.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if w.db != nil {
		if err := w.db.Close(); err != nil {
			w.log.Warn("Failed to close database", "error", err)
		}
	}
}
