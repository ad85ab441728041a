// Package app wires the stores, clients and services of the evaluation-run
// core from a loaded configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/animus-labs/evalcore/internal/cache"
	"github.com/animus-labs/evalcore/internal/config"
	"github.com/animus-labs/evalcore/internal/platform/httpserver"
	"github.com/animus-labs/evalcore/internal/platform/objectstore"
	"github.com/animus-labs/evalcore/internal/platform/sqldb"
	"github.com/animus-labs/evalcore/internal/queue"
	"github.com/animus-labs/evalcore/internal/repo/tables"
	"github.com/animus-labs/evalcore/internal/service/artifacts"
	"github.com/animus-labs/evalcore/internal/service/reconcile"
	"github.com/animus-labs/evalcore/internal/service/results"
	"github.com/animus-labs/evalcore/internal/service/runs"
	"github.com/animus-labs/evalcore/internal/storage/blobstore"
	"github.com/animus-labs/evalcore/internal/tablestore"
	"github.com/animus-labs/evalcore/internal/upstream"
	"github.com/minio/minio-go/v7"
)

type App struct {
	DB        *sqldb.DB
	Queue     *queue.Queue
	Blobs     blobstore.Store
	Runs      *runs.Service
	Artifacts *artifacts.Service
	Results   *results.Service
	// Sweeper is nil when reconciliation is disabled.
	Sweeper *reconcile.Sweeper

	minio  *minio.Client
	memory *cache.Memory
	logger *slog.Logger
}

// Build opens the database, migrates it and assembles the services. The
// caller owns the returned App and must Close it.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sqldb.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	a := &App{DB: db, logger: logger}
	if err := a.build(ctx, cfg); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, cfg config.Config) error {
	logger := a.logger

	store := tablestore.New(a.DB)
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate table store: %w", err)
	}
	a.Queue = queue.New(a.DB, logger)
	if err := a.Queue.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate queue: %w", err)
	}

	switch cfg.BlobBackend {
	case config.BlobBackendMemory:
		logger.Warn("using in-memory blob store, content is lost on restart")
		a.Blobs = blobstore.NewMemoryStore()
	default:
		client, err := objectstore.NewMinIOClient(cfg.ObjectStore)
		if err != nil {
			return fmt.Errorf("object store client: %w", err)
		}
		ms, err := blobstore.NewMinioStoreWithClient(client, cfg.ObjectStore, logger)
		if err != nil {
			return err
		}
		a.minio, a.Blobs = client, ms
	}

	var aside *cache.Aside
	if cfg.Cache.Enabled {
		a.memory = cache.NewMemory(cfg.Cache.Capacity)
		aside = cache.NewAside(a.memory, cfg.Cache.TTLs, logger)
	}

	var (
		enricher runs.Enricher
		mirror   runs.StatusMirror
		fetcher  artifacts.ContentFetcher
	)
	if cfg.UpstreamEnabled() {
		client, err := upstream.New(cfg.Upstream, logger)
		if err != nil {
			return fmt.Errorf("upstream client: %w", err)
		}
		enricher, fetcher = client, client
		if cfg.MirrorStatus {
			mirror = client
		}
	} else {
		logger.Warn("no upstream platform configured")
	}

	datasets := tables.NewDatasetStore(store)
	metrics := tables.NewMetricsConfigurationStore(store)

	var err error
	a.Runs, err = runs.New(runs.Deps{
		Runs:     tables.NewRunStore(store),
		Datasets: datasets,
		Metrics:  metrics,
		History:  tables.NewStatusHistoryStore(store),
		Enricher: enricher,
		Mirror:   mirror,
		Cache:    aside,
		Logger:   logger,
	}, runs.Options{
		DispatchTimeout:   cfg.Runs.DispatchTimeout,
		MaxUpdateAttempts: cfg.Runs.MaxUpdateAttempts,
	})
	if err != nil {
		return fmt.Errorf("runs service: %w", err)
	}

	a.Artifacts, err = artifacts.NewService(artifacts.Deps{
		Datasets:  datasets,
		Metrics:   metrics,
		Keys:      tables.NewBusinessKeyStore(store),
		Blobs:     a.Blobs,
		Runs:      a.Runs,
		Publisher: a.Queue,
		Fetcher:   fetcher,
		Cache:     aside,
		Logger:    logger,
	}, artifacts.Options{
		DatasetsFolder:  cfg.Storage.DatasetsFolder,
		MetricsFolder:   cfg.Storage.MetricsFolder,
		ProcessingQueue: cfg.Queues.Processing,
	})
	if err != nil {
		return fmt.Errorf("artifacts service: %w", err)
	}

	a.Results, err = results.NewService(results.Deps{
		Runs:      a.Runs,
		Blobs:     a.Blobs,
		Enriched:  a.Artifacts,
		Publisher: a.Queue,
		Logger:    logger,
	}, results.Options{
		DataPlatformEnabled: cfg.Queues.DataPlatformEnabled,
		DataPlatformQueue:   cfg.Queues.DataPlatform,
	})
	if err != nil {
		return fmt.Errorf("results service: %w", err)
	}

	if cfg.Reconcile.Enabled {
		a.Sweeper, err = reconcile.New(reconcile.Deps{
			Runs:      a.Runs,
			Artifacts: a.Artifacts,
			Queue:     a.Queue,
			Logger:    logger,
		}, cfg.Queues.Processing, cfg.Reconcile)
		if err != nil {
			return fmt.Errorf("reconcile sweeper: %w", err)
		}
	}
	return nil
}

// ReadinessChecks reports the database and, when used, the object store.
func (a *App) ReadinessChecks() []httpserver.ReadinessCheck {
	checks := []httpserver.ReadinessCheck{{
		Name:  a.DB.Driver(),
		Check: a.DB.PingContext,
	}}
	if a.minio != nil {
		checks = append(checks, httpserver.ReadinessCheck{
			Name: "minio",
			Check: func(ctx context.Context) error {
				return objectstore.Check(ctx, a.minio)
			},
		})
	}
	return checks
}

// Close waits for background upstream calls and releases resources. The
// sweeper must be stopped first.
func (a *App) Close() {
	if a.Runs != nil {
		a.Runs.Wait()
	}
	if a.memory != nil {
		a.memory.Close()
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.logger.Warn("database close failed", "error", err)
		}
	}
}
