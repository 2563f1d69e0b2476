// Package server provides the core application server and dependency wiring.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/influence-crawler/internal/api"
	"github.com/JakeFAU/influence-crawler/internal/clock/system"
	"github.com/JakeFAU/influence-crawler/internal/config"
	"github.com/JakeFAU/influence-crawler/internal/crawler"
	"github.com/JakeFAU/influence-crawler/internal/dispatcher"
	"github.com/JakeFAU/influence-crawler/internal/graph"
	"github.com/JakeFAU/influence-crawler/internal/id/uuid"
	"github.com/JakeFAU/influence-crawler/internal/metrics"
	"github.com/JakeFAU/influence-crawler/internal/orchestrator"
	kafkapublisher "github.com/JakeFAU/influence-crawler/internal/publisher/kafka"
	memorypublisher "github.com/JakeFAU/influence-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/influence-crawler/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/influence-crawler/internal/queue/memory"
	gcsstorage "github.com/JakeFAU/influence-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/influence-crawler/internal/storage/local"
	memoryStorage "github.com/JakeFAU/influence-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/influence-crawler/internal/storage/postgres"
	redisstore "github.com/JakeFAU/influence-crawler/internal/storage/redis"
	"github.com/JakeFAU/influence-crawler/internal/worker"
)

const janitorInterval = time.Minute

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	apiServer *api.Server
	dispatch  *dispatcher.Dispatcher
	queue     *queueMemory.Queue
	memStore  *memoryStorage.JobStore
	closers   []func(context.Context) error
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the workers and the HTTP server and blocks until the context is
// canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Jobs.Concurrency))
		a.dispatch.Run(ctx)
	}()
	if a.memStore != nil {
		go a.memStore.RunJanitor(ctx, janitorInterval, a.logger.Named("janitor"))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers still running at shutdown deadline")
	}
	closeErr := a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// Close releases every backend client in reverse order of construction.
func (a *App) Close(ctx context.Context) error {
	a.queue.Close()
	err := a.closeAll(ctx)
	a.logger.Info("shutdown complete")
	return err
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Build creates the application's dependencies. On error every client built
// so far is closed.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *App, err error) {
	metrics.Init()
	app := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = app.closeAll(context.WithoutCancel(ctx))
		}
	}()
	logger.Info("building application dependencies",
		zap.String("provider", cfg.Provider.Kind),
		zap.String("store", cfg.Store.Backend),
		zap.String("export", cfg.Export.Backend),
		zap.String("events", cfg.Events.Backend),
	)

	var redisClient *goredis.Client
	if cfg.Store.Backend == "redis" || cfg.Cache.Enabled {
		redisClient, err = NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		app.onClose(func(context.Context) error { return redisClient.Close() })
	}

	clock := system.New()
	jobStore := setupJobStore(app, redisClient, clock)

	source, err := NewSourceProvider(cfg, logger)
	if err != nil {
		return nil, err
	}
	engine := NewEngine(cfg, NewProviderStack(cfg, source, redisClient, logger), logger)

	sinks, err := setupSinks(ctx, app)
	if err != nil {
		return nil, err
	}

	app.queue = queueMemory.NewQueue(cfg.Jobs.QueueDepth)
	registry := worker.NewRegistry()
	workerCfg := worker.Config{
		Timeout:      cfg.Jobs.Timeout,
		Topic:        cfg.Events.Topic,
		ExportPrefix: cfg.Export.Prefix,
	}
	var workers []*worker.Worker
	for i := 0; i < cfg.Jobs.Concurrency; i++ {
		workers = append(workers, worker.New(
			app.queue,
			jobStore,
			engine,
			registry,
			sinks,
			workerCfg,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	app.dispatch = dispatcher.New(app.queue, workers)

	orch := orchestrator.New(jobStore, app.dispatch, registry, uuid.NewUUIDGenerator(), clock, orchestrator.Config{
		DefaultDepth:        cfg.Crawler.DefaultDepth,
		MaxDepth:            cfg.Crawler.MaxDepth,
		DefaultMinFollowers: cfg.Crawler.MinFollowers,
		EnqueueTimeout:      cfg.Jobs.EnqueueTimeout,
	}, logger.Named("orchestrator"))

	opts := api.Options{Readiness: map[string]api.ReadinessCheck{}}
	if cfg.Auth.Enabled {
		opts.APIKey = cfg.Auth.APIKey
	}
	if redisClient != nil {
		opts.Readiness["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}
	app.apiServer = api.NewServer(orch, opts, logger.Named("api"))
	return app, nil
}

func (a *App) closeAll(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func setupJobStore(app *App, redisClient *goredis.Client, clock crawler.Clock) crawler.JobStore {
	if app.cfg.Store.Backend == "redis" {
		app.logger.Info("using redis job store",
			zap.String("addr", app.cfg.Redis.Addr),
			zap.Duration("retention", app.cfg.Jobs.Retention),
		)
		return redisstore.NewJobStore(redisClient, app.cfg.Redis.JobPrefix, app.cfg.Jobs.Retention, clock)
	}
	app.logger.Info("using in-memory job store", zap.Duration("retention", app.cfg.Jobs.Retention))
	app.memStore = memoryStorage.NewJobStore(clock, app.cfg.Jobs.Retention)
	return app.memStore
}

func setupSinks(ctx context.Context, app *App) (worker.Sinks, error) {
	var sinks worker.Sinks
	var err error
	if sinks.Blobs, err = setupExport(ctx, app); err != nil {
		return sinks, err
	}
	if sinks.Publisher, err = setupPublisher(ctx, app); err != nil {
		return sinks, err
	}
	if app.cfg.Database.DSN != "" {
		archive, err := pgstore.NewArchive(ctx, pgstore.ArchiveConfig{
			DSN:   app.cfg.Database.DSN,
			Table: app.cfg.Database.Table,
		})
		if err != nil {
			return sinks, fmt.Errorf("archive init failed: %w", err)
		}
		app.onClose(func(context.Context) error { archive.Close(); return nil })
		app.logger.Info("postgres archive initialized", zap.String("table", app.cfg.Database.Table))
		sinks.Archive = archive
	}
	if app.cfg.Graph.Neo4jURI != "" {
		writer, err := graph.Connect(ctx, graph.Config{
			URI:      app.cfg.Graph.Neo4jURI,
			User:     app.cfg.Graph.Neo4jUser,
			Password: app.cfg.Graph.Neo4jPassword,
		}, app.logger.Named("graph"))
		if err != nil {
			return sinks, fmt.Errorf("graph init failed: %w", err)
		}
		app.onClose(writer.Close)
		app.logger.Info("neo4j graph export enabled", zap.String("uri", app.cfg.Graph.Neo4jURI))
		sinks.Graph = writer
	}
	return sinks, nil
}

func setupExport(ctx context.Context, app *App) (crawler.BlobStore, error) {
	switch app.cfg.Export.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.onClose(func(context.Context) error { return client.Close() })
		blobStore, err := gcsstorage.New(client, gcsstorage.Config{Bucket: app.cfg.Export.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Info("exporting results to GCS", zap.String("bucket", app.cfg.Export.Bucket))
		return blobStore, nil
	case "local":
		blobStore, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Export.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Info("exporting results to disk", zap.String("path", app.cfg.Export.BaseDir))
		return blobStore, nil
	case "memory":
		app.logger.Info("exporting results in memory")
		return memoryStorage.NewBlobStore(), nil
	default:
		app.logger.Info("result export disabled")
		return nil, nil
	}
}

func setupPublisher(ctx context.Context, app *App) (crawler.Publisher, error) {
	switch app.cfg.Events.Backend {
	case "kafka":
		p := kafkapublisher.New(app.cfg.Events.KafkaBroker)
		app.onClose(func(context.Context) error { return p.Close() })
		app.logger.Info("kafka publisher initialized",
			zap.String("broker", app.cfg.Events.KafkaBroker),
			zap.String("topic", app.cfg.Events.Topic),
		)
		return p, nil
	case "pubsub":
		client, err := pubsub.NewClient(ctx, app.cfg.Events.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		p := gcppublisher.New(client)
		app.onClose(func(context.Context) error {
			p.Stop()
			return client.Close()
		})
		app.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", app.cfg.Events.ProjectID),
			zap.String("topic", app.cfg.Events.Topic),
		)
		return p, nil
	case "memory":
		app.logger.Info("using in-memory publisher")
		return memorypublisher.New(), nil
	default:
		app.logger.Info("lifecycle events disabled")
		return nil, nil
	}
}
