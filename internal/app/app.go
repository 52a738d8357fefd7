// Package app wires configuration into the running components shared by the
// casefeed commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/rpattn/casefeed/internal/config"
	"github.com/rpattn/casefeed/internal/dates"
	"github.com/rpattn/casefeed/internal/db"
	"github.com/rpattn/casefeed/internal/export"
	"github.com/rpattn/casefeed/internal/fetch"
	"github.com/rpattn/casefeed/internal/headers"
	"github.com/rpattn/casefeed/internal/ingestion"
	"github.com/rpattn/casefeed/internal/jobs"
	"github.com/rpattn/casefeed/internal/metrics"
	"github.com/rpattn/casefeed/internal/middleware"
	"github.com/rpattn/casefeed/internal/platform/logger"
	"github.com/rpattn/casefeed/internal/registry"
	"github.com/rpattn/casefeed/internal/repository"
	"github.com/rpattn/casefeed/internal/storage"
)

// Stores are the persistence dependencies of an App.
type Stores struct {
	Files        repository.TrackedFileRepository
	Observations repository.ObservationRepository
	History      repository.IngestionLogRepository
	Blobs        storage.BlobStore
}

type App struct {
	Config config.Config
	Log    *logger.Logger

	Gatherer prometheus.Gatherer
	Metrics  *metrics.Metrics

	Registry     *registry.Registry
	Observations repository.ObservationRepository
	Pipeline     *ingestion.Pipeline
	Queue        jobs.Queue
	Dispatcher   *jobs.Dispatcher
	Coordinator  *fetch.Coordinator
	Export       *export.Service

	closers []func()
}

// New connects to Postgres, the blob store and the queue backend named in cfg.
func New(ctx context.Context, cfg config.Config, log *logger.Logger) (*App, error) {
	var closers []func()
	fail := func(err error) (*App, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		return nil, err
	}

	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, conn.Close)

	blobs, closeBlobs, err := OpenBlobStore(ctx, cfg.Storage)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, closeBlobs)

	stores := Stores{
		Files:        repository.NewTrackedFileRepository(conn.Pool),
		Observations: repository.NewObservationRepository(conn.Pool),
		History:      repository.NewIngestionLogRepository(conn.Pool),
		Blobs:        blobs,
	}

	var queue func(jobs.Handler) jobs.Queue
	if cfg.Queue.Backend == "redis" {
		rdb, err := jobs.NewRedisClient(ctx, cfg.Queue.RedisAddr)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func() { _ = rdb.Close() })
		queue = func(handler jobs.Handler) jobs.Queue {
			return jobs.NewRedisQueue(rdb, cfg.Queue.RedisKey, handler, cfg.Queue.Workers, log)
		}
	}

	a, err := Assemble(cfg, log, stores, queue)
	if err != nil {
		return fail(err)
	}
	a.closers = closers
	return a, nil
}

// OpenBlobStore builds the configured blob store and its release function.
func OpenBlobStore(ctx context.Context, cfg config.StorageConfig) (storage.BlobStore, func(), error) {
	switch cfg.Backend {
	case "gcs":
		store, err := storage.NewGCSStore(ctx, cfg.Bucket, cfg.Prefix)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case "local":
		store, err := storage.NewLocalStore(cfg.Dir)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// Assemble builds every component over stores. A nil queue factory selects
// the in-process queue.
func Assemble(cfg config.Config, log *logger.Logger, stores Stores, queue func(jobs.Handler) jobs.Queue) (*App, error) {
	if log == nil {
		log = logger.Nop()
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(promRegistry)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	mapper, err := headers.NewMapper(cfg.Headers)
	if err != nil {
		return nil, fmt.Errorf("invalid header table: %w", err)
	}
	normalizer, err := dates.NewNormalizer(cfg.Dates.Formats)
	if err != nil {
		return nil, fmt.Errorf("invalid date formats: %w", err)
	}

	reg := registry.New(stores.Files, stores.Blobs, log)
	pipeline := ingestion.NewPipeline(reg, stores.Observations, mapper, normalizer,
		ingestion.WithMetrics(m),
		ingestion.WithHistory(stores.History),
		ingestion.WithLogger(log),
	)

	handler := func(ctx context.Context, id uuid.UUID) error {
		_, err := pipeline.Run(ctx, id)
		return err
	}
	var q jobs.Queue
	if queue != nil {
		q = queue(handler)
	} else {
		q = jobs.NewMemoryQueue(handler, cfg.Queue.Workers, cfg.Queue.Buffer, log)
	}
	dispatcher := jobs.NewDispatcher(q, reg, log)

	client := fetch.NewClient(nil, cfg.Upstream.ClientConfig, m, log)
	coordinator := fetch.NewCoordinator(client, reg, dispatcher,
		fetch.WithPaths(cfg.Upstream.Paths),
		fetch.WithConcurrency(cfg.Upstream.Concurrency),
		fetch.WithInFlightWindow(cfg.Upstream.InFlightWindow),
		fetch.WithMetrics(m),
		fetch.WithLogger(log),
	)

	if cfg.HTTP.DownloadSecret == "" && cfg.Queue.Backend == "redis" {
		log.Warn("http.download_secret is empty; download links only verify on the instance that issued them")
	}
	exporter := export.NewService(stores.Observations, reg,
		export.WithDownloadTokenTTL(cfg.HTTP.DownloadTTL),
		export.WithDownloadSecret(cfg.HTTP.DownloadSecret),
		export.WithHistory(stores.History),
		export.WithLogger(log),
	)

	return &App{
		Config:       cfg,
		Log:          log,
		Gatherer:     promRegistry,
		Metrics:      m,
		Registry:     reg,
		Observations: stores.Observations,
		Pipeline:     pipeline,
		Queue:        q,
		Dispatcher:   dispatcher,
		Coordinator:  coordinator,
		Export:       exporter,
	}, nil
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// Handler returns the HTTP surface: the read API, uploads and /metrics.
func (a *App) Handler() http.Handler {
	upload := ingestion.NewHTTPHandler(a.Registry, a.Dispatcher)
	api := export.NewHTTPHandler(a.Export, a.Dispatcher, upload)

	mux := http.NewServeMux()
	mux.Handle("/api/", api)
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.Gatherer, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   a.Config.HTTP.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})
	return corsHandler.Handler(middleware.LoggingMiddleware(a.Log)(mux))
}

// Drain runs submit while workers consume the queue. For the in-process
// queue it returns once every submitted job has finished; a shared Redis
// queue is left to its own workers.
func (a *App) Drain(ctx context.Context, submit func(ctx context.Context) error) error {
	memory, ok := a.Queue.(*jobs.MemoryQueue)
	if !ok {
		return submit(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return memory.Start(gctx)
	})
	submitErr := submit(gctx)
	memory.Close()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return submitErr
}
