// Package server builds the application's dependencies and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/sheet-similarity/internal/api"
	"github.com/JakeFAU/sheet-similarity/internal/clock/system"
	"github.com/JakeFAU/sheet-similarity/internal/config"
	"github.com/JakeFAU/sheet-similarity/internal/content"
	"github.com/JakeFAU/sheet-similarity/internal/dispatcher"
	"github.com/JakeFAU/sheet-similarity/internal/embedding"
	"github.com/JakeFAU/sheet-similarity/internal/extract"
	collyfetcher "github.com/JakeFAU/sheet-similarity/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/sheet-similarity/internal/fetcher/headless"
	"github.com/JakeFAU/sheet-similarity/internal/hash/sha256"
	"github.com/JakeFAU/sheet-similarity/internal/id/uuid"
	"github.com/JakeFAU/sheet-similarity/internal/logging"
	"github.com/JakeFAU/sheet-similarity/internal/metrics"
	"github.com/JakeFAU/sheet-similarity/internal/pacing"
	"github.com/JakeFAU/sheet-similarity/internal/progress"
	memorypublisher "github.com/JakeFAU/sheet-similarity/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/sheet-similarity/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/sheet-similarity/internal/queue/memory"
	"github.com/JakeFAU/sheet-similarity/internal/sheets"
	googlesheets "github.com/JakeFAU/sheet-similarity/internal/sheets/google"
	"github.com/JakeFAU/sheet-similarity/internal/sheets/xlsx"
	"github.com/JakeFAU/sheet-similarity/internal/sheetsim"
	"github.com/JakeFAU/sheet-similarity/internal/similarity"
	gcsstorage "github.com/JakeFAU/sheet-similarity/internal/storage/gcs"
	localstorage "github.com/JakeFAU/sheet-similarity/internal/storage/local"
	memoryStorage "github.com/JakeFAU/sheet-similarity/internal/storage/memory"
	pgstore "github.com/JakeFAU/sheet-similarity/internal/storage/postgres"
	"github.com/JakeFAU/sheet-similarity/internal/telemetry"
	"github.com/JakeFAU/sheet-similarity/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg      *config.Config
	logger   *zap.Logger
	api      *api.Server
	dispatch *dispatcher.Dispatcher
	queue    *queueMemory.Queue
	jobStore sheetsim.JobStore

	pgStore        *pgstore.JobStore
	pubsubClient   *pubsub.Client
	gcpPublisher   *gcppublisher.Publisher
	localEvents    *memorypublisher.Publisher
	storage        *storage.Client
	headless       *headlessfetcher.Fetcher
	tracerShutdown func(context.Context) error

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// Build creates a logger from cfg and then the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return BuildWithLogger(ctx, cfg, logger)
}

// BuildWithLogger creates the application's dependencies using logger.
func BuildWithLogger(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application",
		zap.Int("port", cfg.Server.Port),
		zap.String("job_store", cfg.Jobs.Store),
		zap.String("sheets_backend", cfg.Sheets.Backend),
		zap.String("fetch_mode", cfg.Fetch.Mode),
	)
	metrics.Init()

	if cfg.Telemetry.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
			ServiceName: cfg.Telemetry.ServiceName,
			SampleRatio: cfg.Telemetry.SampleRatio,
		})
		if err != nil {
			return nil, fmt.Errorf("tracer init failed: %w", err)
		}
		app.tracerShutdown = tp.Shutdown
	}

	var err error
	if app.jobStore, err = setupJobStore(ctx, app); err != nil {
		return app.abort(ctx, err)
	}
	archive, err := setupArchive(ctx, app)
	if err != nil {
		return app.abort(ctx, err)
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return app.abort(ctx, err)
	}
	pages, err := setupPageFetcher(app)
	if err != nil {
		return app.abort(ctx, err)
	}
	embedder, err := embedding.New(embedding.Config{
		BaseURL:       cfg.Embedding.BaseURL,
		APIKey:        cfg.Embedding.APIKey,
		Model:         cfg.Embedding.Model,
		MaxInputRunes: cfg.Embedding.MaxInputRunes,
		RPS:           cfg.Embedding.RPS,
	})
	if err != nil {
		return app.abort(ctx, fmt.Errorf("embedding client init failed: %w", err))
	}
	tabular, err := setupSheets(app)
	if err != nil {
		return app.abort(ctx, err)
	}

	app.queue = queueMemory.NewQueue(cfg.Jobs.QueueDepth)
	deps := worker.Dependencies{
		Queue:     app.queue,
		Jobs:      app.jobStore,
		Pages:     pages,
		Extractor: extract.New(),
		Engine:    similarity.NewEngine(embedder),
		Sheets:    tabular,
		WriteLimiter: pacing.NewWriteLimiter(pacing.LimiterConfig{
			RPS:   cfg.Sheets.WriteRPS,
			Burst: cfg.Sheets.WriteBurst,
		}),
		Pause: pacing.NewJitter(cfg.RowDelay()),
		Progress: progress.Multi{
			progress.NewStoreReporter(app.jobStore, logger.Named("progress")),
			progress.NewLogReporter(logger.Named("progress")),
		},
		Publisher: publisher,
		Archive:   archive,
		Hasher:    sha256.New(),
		Clock:     system.New(),
	}
	workerCfg := worker.Config{
		Topic:          cfg.PubSub.TopicName,
		FlushThreshold: cfg.Sheets.FlushThreshold,
		ArchivePrefix:  cfg.Content.ArchivePrefix,
		ContentLimits:  content.Limits{MinChars: cfg.Content.MinChars, MinWords: cfg.Content.MinWords},
		FetchTimeout:   cfg.FetchTimeout(),
		UserAgents:     cfg.Fetch.UserAgents,
	}
	runners := make([]dispatcher.Runner, 0, cfg.Jobs.Concurrency)
	for i := 0; i < cfg.Jobs.Concurrency; i++ {
		runners = append(runners, worker.New(deps, workerCfg, logger.Named("worker").With(zap.Int("index", i))))
	}
	app.dispatch = dispatcher.New(app.queue, runners...)
	logger.Info("worker pool ready",
		zap.Int("workers", cfg.Jobs.Concurrency),
		zap.Int("queue_depth", cfg.Jobs.QueueDepth),
		zap.Int("flush_threshold", workerCfg.FlushThreshold),
	)

	app.api = api.NewServer(app.jobStore, app.dispatch, uuid.New(), *cfg, logger.Named("api"))
	return app, nil
}

// abort releases whatever was built before a setup failure.
func (a *App) abort(ctx context.Context, err error) (*App, error) {
	a.closeInfrastructure()
	a.closeObservability(ctx)
	return nil, err
}

func setupJobStore(ctx context.Context, app *App) (sheetsim.JobStore, error) {
	if app.cfg.Jobs.Store != config.JobStorePostgres {
		app.logger.Info("using in-memory job store")
		return memoryStorage.NewJobStore(system.New()), nil
	}
	store, err := pgstore.NewJobStore(ctx, pgstore.Config{
		DSN:             app.cfg.Database.DSN,
		Table:           app.cfg.Database.Table,
		MaxConns:        app.cfg.Database.MaxConns,
		MinConns:        app.cfg.Database.MinConns,
		MaxConnLifetime: time.Duration(app.cfg.Database.MaxConnLifetimeMinutes) * time.Minute,
	}, system.New())
	if err != nil {
		return nil, fmt.Errorf("postgres job store init failed: %w", err)
	}
	app.pgStore = store
	if err := store.Migrate(ctx); err != nil {
		return nil, err
	}
	app.logger.Info("using postgres job store", zap.String("table", app.cfg.Database.Table))
	return store, nil
}

func setupArchive(ctx context.Context, app *App) (sheetsim.BlobStore, error) {
	switch app.cfg.Content.Archive {
	case config.ArchiveGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.storage = client
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: app.cfg.Content.ArchiveBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Info("archiving content to GCS", zap.String("bucket", app.cfg.Content.ArchiveBucket))
		return store, nil
	case config.ArchiveLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Content.ArchiveDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Info("archiving content locally", zap.String("path", app.cfg.Content.ArchiveDir))
		return store, nil
	case config.ArchiveMemory:
		app.logger.Info("archiving content in memory")
		return memoryStorage.NewBlobStore(), nil
	default:
		app.logger.Debug("content archive disabled")
		return nil, nil
	}
}

func setupPublisher(ctx context.Context, app *App) (sheetsim.Publisher, error) {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Warn("no Pub/Sub topic configured, keeping job events in memory")
		app.localEvents = memorypublisher.New()
		return app.localEvents, nil
	}
	client, err := pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubClient = client
	app.gcpPublisher = gcppublisher.New(client)
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return app.gcpPublisher, nil
}

func setupPageFetcher(app *App) (sheetsim.PageFetcher, error) {
	if app.cfg.Fetch.Mode == config.FetchModeHeadless {
		f, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       app.cfg.Fetch.HeadlessMaxParallel,
			NavigationTimeout: app.cfg.FetchTimeout(),
			Headers:           collyfetcher.DefaultHeaders(),
		})
		if err != nil {
			return nil, fmt.Errorf("headless fetcher init failed: %w", err)
		}
		app.headless = f
		app.logger.Info("using headless page fetcher", zap.Int("max_parallel", app.cfg.Fetch.HeadlessMaxParallel))
		return f, nil
	}
	app.logger.Info("using http page fetcher", zap.Duration("timeout", app.cfg.FetchTimeout()))
	return collyfetcher.New(collyfetcher.Config{
		Timeout:     app.cfg.FetchTimeout(),
		MaxBodySize: app.cfg.Fetch.MaxBodyBytes,
	}), nil
}

func setupSheets(app *App) (sheets.TabularStore, error) {
	if app.cfg.Sheets.Backend == config.SheetsXLSX {
		store, err := xlsx.New(app.cfg.Sheets.XLSXDir)
		if err != nil {
			return nil, fmt.Errorf("xlsx store init failed: %w", err)
		}
		app.logger.Info("using workbook tabular store", zap.String("dir", app.cfg.Sheets.XLSXDir))
		return store, nil
	}
	if app.cfg.Sheets.CredentialsJSON == "" && app.cfg.Sheets.CredentialsFile == "" && app.cfg.Sheets.Endpoint == "" {
		app.logger.Warn("google sheets credentials not configured; jobs will fail until they are")
	}
	return googlesheets.New(googlesheets.Config{
		CredentialsJSON: app.cfg.Sheets.CredentialsJSON,
		CredentialsFile: app.cfg.Sheets.CredentialsFile,
		Endpoint:        app.cfg.Sheets.Endpoint,
	}), nil
}

// Handler exposes the HTTP router.
func (a *App) Handler() http.Handler {
	return a.api.Handler()
}

// Start launches the worker pool and the janitor in the background.
func (a *App) Start(ctx context.Context) {
	ctx, a.bgCancel = context.WithCancel(ctx)
	a.bgWG.Add(2)
	go func() {
		defer a.bgWG.Done()
		a.logger.Info("dispatcher started")
		a.dispatch.Run(ctx)
	}()
	go func() {
		defer a.bgWG.Done()
		runJanitor(ctx, a.jobStore, a.cfg.JanitorInterval(), a.cfg.Retention(), a.logger.Named("janitor"))
	}()
}

// Run starts the application and blocks until the context is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.Start(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	return a.Close(shutdownCtx)
}

// Close stops background work, waiting for in-flight jobs, and releases
// every client.
func (a *App) Close(ctx context.Context) error {
	if a.bgCancel != nil {
		a.bgCancel()
	}
	a.bgWG.Wait()
	if a.queue != nil {
		a.queue.Close()
	}
	a.closeInfrastructure()
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure() {
	if a.headless != nil {
		a.headless.Close()
	}
	if a.gcpPublisher != nil {
		a.gcpPublisher.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
