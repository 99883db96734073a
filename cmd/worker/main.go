package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/joshu-sajeev/sourcestage/internal/apiclient"
	"github.com/joshu-sajeev/sourcestage/internal/batch"
	"github.com/joshu-sajeev/sourcestage/internal/config"
	"github.com/joshu-sajeev/sourcestage/internal/credentials"
	"github.com/joshu-sajeev/sourcestage/internal/discovery"
	"github.com/joshu-sajeev/sourcestage/internal/job"
	"github.com/joshu-sajeev/sourcestage/internal/pool"
	"github.com/joshu-sajeev/sourcestage/internal/scheduler"
	"github.com/joshu-sajeev/sourcestage/internal/staging"
	"github.com/joshu-sajeev/sourcestage/internal/storage/postgres"
	"github.com/joshu-sajeev/sourcestage/internal/worker"
	"gorm.io/gorm"
)

var errSkillServiceUnset = errors.New("SKILL_SERVICE_URL is not set")

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWorkerConfig(ctx)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer closeLog()
	slog.SetDefault(logger)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("worker exited", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.WorkerConfig, logger *slog.Logger) error {
	dbCfg, err := postgres.LoadConfigFromEnv(ctx)
	if err != nil {
		return err
	}
	db, err := postgres.ConnectDB(ctx, dbCfg)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("database handle: %w", err)
	}
	defer sqlDB.Close()

	secrets, err := credentials.StoreFor(ctx, cfg.SecretBackend, postgres.NewSecretRepository(db))
	if err != nil {
		return err
	}

	handlers, err := buildHandlers(db, secrets, cfg, logger)
	if err != nil {
		return err
	}
	jobs := postgres.NewJobRepository(db)

	manager, err := pool.NewManager(jobs, handlers, cfg, logger)
	if err != nil {
		return err
	}
	manager.Start(ctx)
	logger.Info("worker pools active", "queues", cfg.Queues, "concurrency", cfg.Concurrency)

	if schedulesDiscovery(cfg) {
		sched := scheduler.New(
			postgres.NewConnectionRepository(db),
			job.NewJobService(jobs, job.PolicyFromConfig(cfg)),
			scheduler.Config{
				Interval: cfg.DiscoveryInterval,
				Overlap:  cfg.DiscoveryOverlap,
				Limit:    cfg.DiscoveryLimit,
			},
			logger,
		)
		go sched.Run(ctx)
	} else {
		logger.Info("discovery scheduler not started", "queues", cfg.Queues)
	}

	<-ctx.Done()
	logger.Info("shutting down worker pools", "timeout", cfg.ShutdownTimeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return manager.Stop(shutdownCtx)
}

// schedulesDiscovery reports whether this process enqueues periodic
// discovery. Only processes serving the discovery queue do.
func schedulesDiscovery(cfg *config.WorkerConfig) bool {
	return cfg.DiscoveryInterval > 0 && slices.Contains(cfg.Queues, config.QueueDiscovery)
}

func buildHandlers(db *gorm.DB, secrets credentials.SecretStore, cfg *config.WorkerConfig, logger *slog.Logger) (worker.Handlers, error) {
	allow, err := worker.ParseURLAllowlist(cfg.FileFetchHosts)
	if err != nil {
		return worker.Handlers{}, err
	}
	if allow.Empty() {
		logger.Warn("file processing jobs will fail", "error", "FILE_FETCH_HOSTS is not set")
	}

	connections := postgres.NewConnectionRepository(db)
	sources := postgres.NewStagedSourceRepository(db)
	stager := staging.NewStager(sources, logger)

	registry := discovery.NewRegistry(discovery.Deps{
		Credentials: discovery.NewManagers(secrets, connections, cfg.CredentialTTL, logger),
		Clients:     apiclient.NewPool(),
		BatchSize:   batch.DefaultSize,
		BatchDelay:  batch.DefaultDelay,
		Logger:      logger,
	})

	fetcher := apiclient.New("", nil, apiclient.WithName("file-fetch"), apiclient.WithLogger(logger))

	var generator worker.SkillGenerator = unconfiguredSkills{}
	if cfg.SkillServiceURL != "" {
		generator = worker.NewHTTPSkillGenerator(
			apiclient.New(cfg.SkillServiceURL, nil, apiclient.WithName("skill-service"), apiclient.WithLogger(logger)),
		)
	} else {
		logger.Warn("skill generation jobs will fail", "error", errSkillServiceUnset)
	}

	return worker.NewHandlers(
		worker.NewFileHandler(fetcher, stager, allow),
		worker.NewSkillHandler(sources, generator, logger),
		worker.NewBulkHandler(sources),
		worker.NewAnalyticsHandler(sources),
		worker.NewDiscoveryHandler(connections, registry, stager, logger),
	), nil
}

type unconfiguredSkills struct{}

func (unconfiguredSkills) Generate(context.Context, worker.SkillRequest) (*worker.Skill, error) {
	return nil, worker.Permanent(errSkillServiceUnset)
}
