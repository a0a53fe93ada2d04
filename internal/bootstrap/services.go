package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jobwell/jobwell-go/config"
	"github.com/jobwell/jobwell-go/internal/adapters/ats"
	redisadapter "github.com/jobwell/jobwell-go/internal/adapters/redis"
	"github.com/jobwell/jobwell-go/internal/adapters/runner"
	"github.com/jobwell/jobwell-go/internal/adapters/sources"
	"github.com/jobwell/jobwell-go/internal/core"
	"github.com/jobwell/jobwell-go/internal/data"
	"github.com/jobwell/jobwell-go/internal/data/memory"
	"github.com/jobwell/jobwell-go/internal/domain/model"
	"github.com/jobwell/jobwell-go/internal/domain/task"
	"github.com/jobwell/jobwell-go/internal/match"
	"github.com/jobwell/jobwell-go/internal/service"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Applications *service.ApplicationService
	Ingest       *service.IngestService
	Submissions  *service.SubmissionService
	Scheduler    *service.SchedulerService
	Reaper       *service.ReaperService
	Sources      *sources.Registry
	Jobs         core.JobStore
	Broker       core.Broker
	Retry        *task.RetryPolicy
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// serviceStores groups data adapters backing service ports.
type serviceStores struct {
	Jobs        core.JobStore
	Apps        core.ApplicationStore
	Broker      core.Broker
	Leaser      core.SubmissionLeaser
	Maintenance core.TaskMaintenance
}

// buildStores picks the backing adapters. Development mode swaps Postgres
// and Redis for in-memory stores so the pipeline runs without
// infrastructure.
func buildStores(deps *ServiceDeps) (*serviceStores, error) {
	if deps.Config.IsDev {
		tp := &data.RealTimeProvider{}
		broker := memory.NewBroker(tp)
		return &serviceStores{
			Jobs:        memory.NewJobStore(tp),
			Apps:        memory.NewApplicationStore(tp),
			Broker:      broker,
			Leaser:      memory.NewSubmissionLeaser(tp),
			Maintenance: broker,
		}, nil
	}

	if deps.DB == nil {
		return nil, errors.New("database connection is required outside development mode")
	}
	if deps.RedisClient == nil {
		return nil, errors.New("redis client is required outside development mode")
	}

	taskRepo := data.NewTaskRepo(deps.DB, data.TaskRepoConfig{Logger: deps.Logger})
	return &serviceStores{
		Jobs:        data.NewJobRepo(deps.DB, data.JobRepoConfig{Logger: deps.Logger}),
		Apps:        data.NewApplicationRepo(deps.DB, data.ApplicationRepoConfig{Logger: deps.Logger}),
		Broker:      taskRepo,
		Leaser:      redisadapter.NewSubmissionLeaser(deps.RedisClient),
		Maintenance: taskRepo,
	}, nil
}

// buildSourceRegistry registers every configured source client.
func buildSourceRegistry(cfg *config.AppConfig, logger *slog.Logger) (*sources.Registry, error) {
	registry := sources.NewRegistry()

	if cfg.Adzuna.Enabled() {
		client, err := sources.NewAdzunaClient(sources.AdzunaOptions{
			AppID:   cfg.Adzuna.AppID,
			AppKey:  cfg.Adzuna.AppKey,
			Country: cfg.Adzuna.Country,
			BaseURL: cfg.Adzuna.BaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("build adzuna client: %w", err)
		}
		if err := registry.Register(client); err != nil {
			return nil, fmt.Errorf("register adzuna client: %w", err)
		}
	} else if logger != nil {
		logger.Warn("adzuna credentials not set; adzuna source disabled")
	}

	return registry, nil
}

// submissionChannels holds the configured outbound submission adapters.
type submissionChannels struct {
	ATS   core.ATSAdapter
	Agent core.AutomationAgent
}

// buildSubmissionChannels configures the outbound submission adapters.
func buildSubmissionChannels(cfg *config.AppConfig, logger *slog.Logger) (submissionChannels, error) {
	var channels submissionChannels

	if cfg.ATS.Enabled() {
		adapter, err := ats.NewHTTPAdapter(ats.HTTPAdapterOptions{
			BaseURL: cfg.ATS.BaseURL,
			APIKey:  cfg.ATS.APIKey,
			Logger:  logger,
		})
		if err != nil {
			return channels, fmt.Errorf("build ats adapter: %w", err)
		}
		channels.ATS = adapter
	}

	if cfg.Agent.Enabled() {
		agent, err := ats.NewAgentClient(ats.AgentClientOptions{
			BaseURL: cfg.Agent.BaseURL,
			Logger:  logger,
		})
		if err != nil {
			return channels, fmt.Errorf("build automation agent client: %w", err)
		}
		channels.Agent = agent
	}

	return channels, nil
}

// buildSearchSpecs expands the scheduler config into one search per query.
func buildSearchSpecs(cfg config.SchedulerConfig) []service.SearchSpec {
	specs := make([]service.SearchSpec, 0, len(cfg.Queries))
	for _, query := range cfg.Queries {
		if query == "" {
			continue
		}
		specs = append(specs, service.SearchSpec{
			Source:  cfg.Source,
			Query:   query,
			Where:   cfg.Where,
			Pages:   cfg.Pages,
			PerPage: cfg.PerPage,
		})
	}
	return specs
}

// InitializeServices builds every service from configuration.
func InitializeServices(deps *ServiceDeps) (*ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return nil, errors.New("service deps with config are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	stores, err := buildStores(deps)
	if err != nil {
		return nil, err
	}

	registry, err := buildSourceRegistry(deps.Config, logger)
	if err != nil {
		return nil, err
	}

	retry, err := task.NewRetryPolicy(task.RetryPolicyOptions{
		Base:        deps.Config.Retry.Base,
		MaxDelay:    deps.Config.Retry.MaxDelay,
		MaxAttempts: deps.Config.Retry.MaxAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("build retry policy: %w", err)
	}

	applications, err := service.NewApplicationService(service.ApplicationServiceOptions{
		Apps:   stores.Apps,
		Jobs:   stores.Jobs,
		Scorer: match.NewRandomScorer(),
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build application service: %w", err)
	}

	ingest, err := service.NewIngestService(service.IngestServiceOptions{
		Jobs:    stores.Jobs,
		Broker:  stores.Broker,
		Sources: registry,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build ingest service: %w", err)
	}

	container := &ServiceContainer{
		Applications: applications,
		Ingest:       ingest,
		Sources:      registry,
		Jobs:         stores.Jobs,
		Broker:       stores.Broker,
		Retry:        retry,
	}

	channels, err := buildSubmissionChannels(deps.Config, logger)
	if err != nil {
		return nil, err
	}
	if channels.ATS != nil || channels.Agent != nil {
		submissions, subErr := service.NewSubmissionService(service.SubmissionServiceOptions{
			Apps:     stores.Apps,
			Jobs:     stores.Jobs,
			Broker:   stores.Broker,
			Leaser:   stores.Leaser,
			ATS:      channels.ATS,
			Agent:    channels.Agent,
			Retry:    retry,
			LeaseTTL: deps.Config.SubmitRunner.InFlightTTL,
			Logger:   logger,
		})
		if subErr != nil {
			return nil, fmt.Errorf("build submission service: %w", subErr)
		}
		container.Submissions = submissions
	} else if deps.Config.IsSubmitRunnerEnabled() {
		return nil, errors.New("submit-runner is enabled but no submission channel is configured; set ATS_BASE_URL or AGENT_BASE_URL")
	}

	scheduler, err := service.NewSchedulerService(service.SchedulerServiceOptions{
		Ingest:   ingest,
		Searches: buildSearchSpecs(deps.Config.Scheduler),
		Interval: deps.Config.Scheduler.Interval,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build scheduler service: %w", err)
	}
	container.Scheduler = scheduler

	reaper, err := service.NewReaperService(service.ReaperServiceOptions{
		Tasks: stores.Maintenance,
		Jobs:  stores.Jobs,
		Config: service.ReaperConfig{
			Interval:        deps.Config.Reaper.Interval,
			CompletedMaxAge: deps.Config.Reaper.CompletedMaxAge,
			DeadMaxAge:      deps.Config.Reaper.DeadMaxAge,
			StaleAfter:      deps.Config.Reaper.StaleAfter,
			StaleSources:    registry.Names(),
			BatchSize:       deps.Config.Reaper.BatchSize,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build reaper service: %w", err)
	}
	container.Reaper = reaper

	return container, nil
}

// ServiceOrchestrationConfig contains everything RunServicesWithShutdown
// needs to start and stop the enabled services.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services *ServiceContainer
	Logger   *slog.Logger
}

const (
	// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
	shutdownWaitTimeout = 15 * time.Second
)

type serviceStartupDeps struct {
	ctx             context.Context
	cfg             *ServiceOrchestrationConfig
	logger          *slog.Logger
	enabledServices map[config.ServiceMode]bool
	errCh           chan error
}

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

// backgroundServiceHandle tracks a running background service.
type backgroundServiceHandle struct {
	mode config.ServiceMode
	name string
	done <-chan struct{}
}

func launchBackground(ctx context.Context, deps *serviceStartupDeps, descriptor backgroundService) <-chan struct{} {
	if deps == nil || !deps.enabledServices[descriptor.mode] {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := descriptor.start(ctx); err != nil {
			errMsg := fmt.Errorf("%s failed: %w", descriptor.name, err)
			select {
			case deps.errCh <- errMsg:
			case <-ctx.Done():
			default:
				deps.logger.WarnContext(ctx, "dropping background service error", "service", descriptor.name, "error", errMsg)
			}
		}
	}()

	deps.logger.InfoContext(ctx, "background service started", "service", descriptor.name, "mode", descriptor.mode)

	return done
}

func startBackgroundServices(deps *serviceStartupDeps, services []backgroundService) []backgroundServiceHandle {
	if deps == nil {
		return nil
	}
	handles := make([]backgroundServiceHandle, 0, len(services))

	for _, svc := range services {
		done := launchBackground(deps.ctx, deps, svc)
		if done == nil {
			continue
		}

		handles = append(handles, backgroundServiceHandle{
			mode: svc.mode,
			name: svc.name,
			done: done,
		})
	}

	return handles
}

func newIngestRunnerBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeIngestRunner,
		name: "ingest runner",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil {
				return nil
			}
			r, err := runner.New(runner.Options{
				Broker:      deps.cfg.Services.Broker,
				TaskType:    model.TaskTypeIngestion,
				Handler:     deps.cfg.Services.Ingest.HandleTask,
				Retry:       deps.cfg.Services.Retry,
				Concurrency: deps.cfg.Config.IngestRunner.Concurrency,
				Lease:       deps.cfg.Config.IngestRunner.TaskLease,
				Logger:      deps.logger,
			})
			if err != nil {
				return err
			}
			return r.Run(ctx)
		},
	}
}

func newSubmitRunnerBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeSubmitRunner,
		name: "submit runner",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil {
				return nil
			}
			if deps.cfg.Services.Submissions == nil {
				return errors.New("submission service is not configured")
			}
			r, err := runner.New(runner.Options{
				Broker:      deps.cfg.Services.Broker,
				TaskType:    model.TaskTypeSubmission,
				Handler:     deps.cfg.Services.Submissions.HandleTask,
				Retry:       deps.cfg.Services.Retry,
				Concurrency: deps.cfg.Config.SubmitRunner.Concurrency,
				Lease:       deps.cfg.Config.SubmitRunner.TaskLease,
				Logger:      deps.logger,
			})
			if err != nil {
				return err
			}
			return r.Run(ctx)
		},
	}
}

func newSchedulerBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeScheduler,
		name: "scheduler",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil {
				return nil
			}
			return deps.cfg.Services.Scheduler.Run(ctx)
		},
	}
}

func newReaperBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeReaper,
		name: "reaper",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil {
				return nil
			}
			return deps.cfg.Services.Reaper.Run(ctx)
		},
	}
}

func buildBackgroundServices(deps *serviceStartupDeps) []backgroundService {
	if deps == nil {
		return nil
	}
	return []backgroundService{
		newIngestRunnerBackgroundService(deps),
		newSubmitRunnerBackgroundService(deps),
		newSchedulerBackgroundService(deps),
		newReaperBackgroundService(deps),
	}
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}
	if cfg.Services == nil {
		return errors.New("service orchestration config missing service container")
	}

	ctx := context.Background()
	serviceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Determine which services are enabled
	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}
	errCh := make(chan error, errorChannelBufferSize(enabledServices))

	deps := &serviceStartupDeps{
		ctx:             serviceCtx,
		cfg:             cfg,
		logger:          logger,
		enabledServices: enabledServices,
		errCh:           errCh,
	}
	backgrounds := startBackgroundServices(deps, buildBackgroundServices(deps))

	// Wait for shutdown signal or error
	return waitForShutdown(shutdownConfig{
		ctx:         serviceCtx,
		cancel:      cancel,
		errCh:       errCh,
		logger:      logger,
		backgrounds: backgrounds,
	})
}

func errorChannelBufferSize(enabled map[config.ServiceMode]bool) int {
	count := 0
	for _, mode := range config.ValidServiceModes() {
		if enabled[mode] {
			count++
		}
	}
	return count + 1
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	ctx         context.Context
	cancel      context.CancelFunc
	errCh       <-chan error
	logger      *slog.Logger
	backgrounds []backgroundServiceHandle
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		cfg.logger.Info("shutting down services...")
		cfg.cancel() // Cancel service context before waiting
		gracefulStop(cfg)
		return nil
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel() // Cancel service context before waiting
		gracefulStop(cfg)
		return err
	}
}

// gracefulStop waits for every background service to finish.
func gracefulStop(cfg shutdownConfig) {
	for _, svc := range cfg.backgrounds {
		waitForService(svc.done, svc.name, cfg.logger)
	}
}

// waitForService waits for a service to finish with timeout.
func waitForService(done <-chan struct{}, name string, logger *slog.Logger) {
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info(name + " stopped")
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("timeout waiting for " + name + " to stop")
	}
}
