// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	gpubsub "cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/snapshotter/internal/browser/headless"
	"github.com/JakeFAU/snapshotter/internal/config"
	"github.com/JakeFAU/snapshotter/internal/externaltask"
	"github.com/JakeFAU/snapshotter/internal/hash/sha256"
	"github.com/JakeFAU/snapshotter/internal/id/uuid"
	"github.com/JakeFAU/snapshotter/internal/publisher/pubsub"
	"github.com/JakeFAU/snapshotter/internal/render"
	"github.com/JakeFAU/snapshotter/internal/sink"
	"github.com/JakeFAU/snapshotter/internal/storage/gcs"
	"github.com/JakeFAU/snapshotter/internal/storage/local"
	"github.com/JakeFAU/snapshotter/internal/storage/memory"
	"github.com/JakeFAU/snapshotter/internal/storage/postgres"
	"github.com/JakeFAU/snapshotter/internal/storage/s3"
	"github.com/JakeFAU/snapshotter/internal/worker"
	"github.com/JakeFAU/snapshotter/internal/workflow"
)

// App holds the shared, long-lived services. It is built once per process and closed on exit.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	blobs     sink.BlobStore
	browser   render.Browser
	engine    *workflow.Client
	outcomes  *postgres.OutcomeStore
	publisher *pubsub.Publisher
	ids       *uuid.Generator
	workerID  string
	closers   []func() error
}

// Option overrides a service during construction, mainly for tests.
type Option func(*App)

// WithBlobStore replaces the configured object store.
func WithBlobStore(store sink.BlobStore) Option {
	return func(a *App) { a.blobs = store }
}

// WithBrowser replaces the chromedp browser.
func WithBrowser(browser render.Browser) Option {
	return func(a *App) { a.browser = browser }
}

// New creates the container from cfg. It fails fast when a configured backend cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, ids: uuid.New()}
	for _, opt := range opts {
		opt(a)
	}
	logger.Info("initializing application services")

	if err := a.initWorkflow(); err != nil {
		return nil, err
	}
	if a.blobs == nil {
		if err := a.initBlobStore(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	if a.browser == nil {
		browser, err := headless.NewChromedp(headless.Config{
			MaxParallel: cfg.Render.MaxParallel,
			UserAgent:   cfg.Render.UserAgent,
			ExecPath:    cfg.Render.ExecPath,
			NoSandbox:   cfg.Render.NoSandbox,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init browser: %w", err)
		}
		a.browser = browser
	}
	if cfg.DB.DSN != "" {
		store, err := postgres.NewOutcomeStore(ctx, postgres.Config{
			DSN:      cfg.DB.DSN,
			Table:    cfg.DB.Table,
			MaxConns: cfg.DB.MaxConns,
			MinConns: cfg.DB.MinConns,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init outcome store: %w", err)
		}
		logger.Info("recording task outcomes in postgres", zap.String("table", cfg.DB.Table))
		a.outcomes = store
		a.closers = append(a.closers, func() error { store.Close(); return nil })
	}
	if cfg.PubSub.ProjectID != "" {
		client, err := gpubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init pubsub: %w", err)
		}
		logger.Info("publishing task outcomes", zap.String("topic", cfg.PubSub.TopicName))
		a.publisher = pubsub.New(client)
		a.closers = append(a.closers, func() error {
			a.publisher.Close()
			return client.Close()
		})
	}

	logger.Info("application services initialized", zap.String("worker_id", a.workerID))
	return a, nil
}

func (a *App) initWorkflow() error {
	session, err := workflow.NewSession(workflow.SessionConfig{
		URL:           a.cfg.Workflow.URL,
		Timeout:       a.cfg.Workflow.Timeout,
		RetryAttempts: a.cfg.Workflow.RetryAttempts,
		RetryDelay:    a.cfg.Workflow.RetryDelay,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("init workflow session: %w", err)
	}
	a.engine, err = workflow.NewClient(session, a.logger)
	if err != nil {
		return fmt.Errorf("init workflow client: %w", err)
	}
	a.workerID = a.cfg.Workflow.WorkerID
	if a.workerID == "" {
		a.workerID = defaultWorkerID(a.ids)
	}
	return nil
}

func defaultWorkerID(ids *uuid.Generator) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "snapshotter"
	}
	return host + "-" + ids.MustNewID()
}

func (a *App) initBlobStore(ctx context.Context) error {
	storageCfg := a.cfg.Storage
	switch storageCfg.Backend {
	case config.BackendS3:
		store, err := s3.NewFromConfig(ctx, s3.Config{
			Region:       storageCfg.S3.Region,
			Endpoint:     storageCfg.S3.Endpoint,
			UsePathStyle: storageCfg.S3.UsePathStyle,
		})
		if err != nil {
			return fmt.Errorf("init s3: %w", err)
		}
		a.blobs = store
	case config.BackendGCS:
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("init gcs client: %w", err)
		}
		store, err := gcs.New(client)
		if err != nil {
			return err
		}
		a.blobs = store
		a.closers = append(a.closers, client.Close)
	case config.BackendLocal:
		store, err := local.New(local.Config{BaseDir: storageCfg.LocalDir})
		if err != nil {
			return fmt.Errorf("init local storage: %w", err)
		}
		a.blobs = store
	case config.BackendMemory:
		a.blobs = memory.NewBlobStore()
	default:
		return fmt.Errorf("unknown storage backend %q", storageCfg.Backend)
	}
	a.logger.Info("object store ready", zap.String("backend", storageCfg.Backend))
	return nil
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the process logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// BlobStore returns the configured object store.
func (a *App) BlobStore() sink.BlobStore { return a.blobs }

// Engine returns the workflow engine client.
func (a *App) Engine() *workflow.Client { return a.engine }

// WorkerID returns the identity used for task locks.
func (a *App) WorkerID() string { return a.workerID }

// Runner returns a command runner bound to the engine and worker id.
func (a *App) Runner() (*externaltask.Runner, error) {
	return externaltask.NewRunner(a.engine, a.workerID, a.logger)
}

// Strategy builds the named capture strategy, applying render settings to screenshots.
func (a *App) Strategy(name string) (render.Strategy, error) {
	strategy, err := render.StrategyByName(name)
	if err != nil {
		return nil, err
	}
	if shot, ok := strategy.(*render.ScreenshotStrategy); ok {
		rc := a.cfg.Render
		if rc.JPEGQuality > 0 {
			shot.Quality = rc.JPEGQuality
		}
		if rc.StabilizeAttempts > 0 {
			shot.Stabilizer.MaxAttempts = rc.StabilizeAttempts
		}
		if rc.StabilizeInterval > 0 {
			shot.Stabilizer.Interval = rc.StabilizeInterval
		}
		if rc.MinColors > 0 {
			shot.Stabilizer.MinColors = rc.MinColors
		}
	}
	return strategy, nil
}

// Pipeline builds a render pipeline for the named strategy.
func (a *App) Pipeline(strategyName string) (*render.Pipeline, error) {
	strategy, err := a.Strategy(strategyName)
	if err != nil {
		return nil, err
	}
	return render.NewPipeline(a.browser, strategy, a.cfg.Render.Timeout, a.logger)
}

// Worker assembles the external-task worker from configuration.
func (a *App) Worker() (*worker.Worker, error) {
	wc := a.cfg.Worker
	dims := render.DefaultDimensions
	if len(wc.Dimensions) > 0 {
		parsed, err := render.ParseDimensions(wc.Dimensions)
		if err != nil {
			return nil, fmt.Errorf("worker.dimensions: %w", err)
		}
		dims = parsed
	}
	runner, err := a.Runner()
	if err != nil {
		return nil, err
	}
	pipeline, err := a.Pipeline(wc.Strategy)
	if err != nil {
		return nil, err
	}

	extension := ".jpg"
	switch wc.Strategy {
	case "html":
		extension = ".html"
	case "pdf":
		extension = ".pdf"
	}

	deps := worker.Deps{
		Runner:   runner,
		Renderer: pipeline,
		Blobs:    a.blobs,
		Hasher:   sha256.New(),
		IDs:      a.ids,
	}
	if a.outcomes != nil {
		deps.Recorder = a.outcomes
	}
	if a.publisher != nil {
		deps.Publisher = a.publisher
	}
	return worker.New(deps, worker.Config{
		Topic:                wc.Topic,
		LockDuration:         wc.LockDurationMs,
		TasksPerRun:          wc.TasksPerRun,
		JobIDVariable:        wc.JobIDVariable,
		URLVariable:          wc.URLVariable,
		LoopDelay:            wc.LoopDelay,
		ErrorCode:            wc.ErrorCode,
		ExitOnFetchExhausted: wc.ExitOnFetchExhausted,
		NotifyTopic:          a.cfg.PubSub.TopicName,
		Dimensions:           dims,
		Layout: sink.Layout{
			Buckets:       a.cfg.Storage.BucketMap(),
			DefaultBucket: a.cfg.Storage.CommonBucket(),
			Slots:         sink.DefaultSlots,
			Prefix:        a.cfg.Storage.Prefix,
			Extension:     extension,
		},
	}, a.logger)
}

// Ready reports whether optional backends are reachable.
func (a *App) Ready(ctx context.Context) error {
	if a.outcomes == nil {
		return nil
	}
	return a.outcomes.Ping(ctx)
}

// Close shuts down every service in reverse construction order.
func (a *App) Close() {
	a.logger.Info("shutting down application services")
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error closing services", zap.Error(err))
	}
	// Sync on stdout returns EINVAL on some platforms; nothing useful can be logged.
	_ = a.logger.Sync()
}
