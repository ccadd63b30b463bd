package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shaobai0824/model-api/internal/config"
	"github.com/shaobai0824/model-api/internal/cron"
	"github.com/shaobai0824/model-api/internal/httpapi"
	"github.com/shaobai0824/model-api/internal/memory"
	"github.com/shaobai0824/model-api/internal/observability"
	"github.com/shaobai0824/model-api/internal/pipeline"
	"github.com/shaobai0824/model-api/internal/service"
)

type BuildResult struct {
	Config   config.Config
	Logger   *slog.Logger
	Metrics  *observability.Metrics
	Service  *service.Service
	API      *httpapi.Server
	Pipeline *pipeline.Pipeline

	// Scheduler is nil when the sweep schedule is empty.
	Scheduler *cron.Scheduler

	// Cleanup should be called on shutdown to release the persistence backend.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	logger := observability.SetupLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	backend, err := memory.NewBackend(ctx, backendConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("memory backend init failed: %w", err)
	}

	store := memory.NewStore(backend, memory.Config{
		MaxMessagesPerUser: cfg.MaxMessagesPerUser,
		MaxContextMessages: cfg.MaxContextMessages,
		ExpireDays:         cfg.MemoryExpireDays,
	}, memory.WithLogger(logger), memory.WithObserver(metrics))

	svc := service.New(store, service.Options{
		RedactPII: cfg.RedactPII,
		Metrics:   metrics,
		Logger:    logger,
	})

	// Real speech and language providers are outside this service; the mock
	// keeps the pipeline usable from the CLI.
	mock := pipeline.NewMockProvider()
	chat := pipeline.New(svc, mock, mock, mock, pipeline.Config{Logger: logger})

	var scheduler *cron.Scheduler
	if cfg.SweepSchedule != "" {
		scheduler = cron.NewScheduler(logger)
		if err := scheduler.RegisterJob(&cron.ExpiryJob{
			Sweeper:      svc,
			Logger:       logger,
			ScheduleExpr: cfg.SweepSchedule,
		}); err != nil {
			_ = backend.Close()
			return nil, err
		}
	}

	api := httpapi.New(cfg, svc, metrics, logger)

	logger.Info("memory service built",
		"backend", backendConfig(cfg).ResolveKind(),
		"max_messages_per_user", cfg.MaxMessagesPerUser,
		"max_context_messages", cfg.MaxContextMessages,
		"expire_days", cfg.MemoryExpireDays,
		"sweep_schedule", cfg.SweepSchedule,
	)

	cleanup := func() error {
		if err := backend.Close(); err != nil {
			return fmt.Errorf("close memory backend: %w", err)
		}
		return nil
	}

	return &BuildResult{
		Config:    cfg,
		Logger:    logger,
		Metrics:   metrics,
		Service:   svc,
		API:       api,
		Pipeline:  chat,
		Scheduler: scheduler,
		Cleanup:   cleanup,
	}, nil
}

func backendConfig(cfg config.Config) memory.BackendConfig {
	return memory.BackendConfig{
		Kind:        cfg.MemoryBackend,
		DataDir:     cfg.MemoryDataDir,
		SQLitePath:  cfg.MemorySQLitePath,
		DatabaseURL: cfg.DatabaseURL,
	}
}
