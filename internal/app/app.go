// Package app builds the long-lived services of a site-capture process from
// configuration and hands out pipeline runners per capture mode.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	gcsstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-capture/internal/capture"
	"github.com/JakeFAU/site-capture/internal/clock/system"
	"github.com/JakeFAU/site-capture/internal/config"
	"github.com/JakeFAU/site-capture/internal/crawler"
	"github.com/JakeFAU/site-capture/internal/id/uuid"
	"github.com/JakeFAU/site-capture/internal/logging"
	"github.com/JakeFAU/site-capture/internal/metrics"
	"github.com/JakeFAU/site-capture/internal/orchestrator"
	"github.com/JakeFAU/site-capture/internal/pipeline"
	"github.com/JakeFAU/site-capture/internal/policy/ratelimit"
	"github.com/JakeFAU/site-capture/internal/progress"
	"github.com/JakeFAU/site-capture/internal/progress/sinks"
	"github.com/JakeFAU/site-capture/internal/publisher/pubsub"
	"github.com/JakeFAU/site-capture/internal/render"
	"github.com/JakeFAU/site-capture/internal/storage/gcs"
	"github.com/JakeFAU/site-capture/internal/storage/postgres"
)

// App holds the shared services of one process. Build it once at startup
// and Close it on the way out.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  crawler.Clock
	ids    crawler.IDGenerator

	fetcher    *crawler.CollyFetcher
	discoverer *crawler.Discoverer
	renderer   *render.Renderer
	hub        *progress.Hub

	gcsClient *gcsstorage.Client
	mirror    *gcs.BlobStore
	runStore  *postgres.RunStore
	publisher *pubsub.Publisher

	closers []func() error

	mu      sync.Mutex
	runners map[crawler.CaptureMode]*pipeline.Runner
}

type options struct {
	logger     *zap.Logger
	registerer prometheus.Registerer
	spinnerOut io.Writer
	launcher   render.Launcher
}

// Option customizes New.
type Option func(*options)

// WithLogger uses logger instead of building one from cfg.Logging.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRegisterer registers progress collectors with reg instead of the
// default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithSpinner draws a terminal spinner on out when progress.spinner is set.
func WithSpinner(out io.Writer) Option {
	return func(o *options) { o.spinnerOut = out }
}

// WithLauncher replaces the chromedp browser launcher.
func WithLauncher(l render.Launcher) Option {
	return func(o *options) { o.launcher = l }
}

// New wires every service cfg enables. Optional integrations (GCS mirror,
// Postgres run store, Pub/Sub publisher) are skipped when unconfigured and
// fail fast when configured but unreachable.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{
		cfg:     cfg,
		clock:   system.New(),
		ids:     uuid.New(),
		runners: make(map[crawler.CaptureMode]*pipeline.Runner),
	}

	if o.logger != nil {
		a.logger = o.logger
	} else {
		logger, closeLog, err := logging.New(logging.Config{
			Development: cfg.Logging.Development,
			Level:       cfg.Logging.Level,
			FilePath:    cfg.LogFilePath(),
			FileLevel:   cfg.Logging.File.Level,
			MaxSizeMB:   cfg.Logging.File.MaxSizeMB,
			MaxBackups:  cfg.Logging.File.MaxBackups,
			MaxAgeDays:  cfg.Logging.File.MaxAgeDays,
			Compress:    cfg.Logging.File.Compress,
		})
		if err != nil {
			return nil, fmt.Errorf("init logger: %w", err)
		}
		a.logger = logger
		a.closers = append(a.closers, closeLog)
	}

	metrics.Init()
	limiter := ratelimit.New(cfg.RateLimit, metrics.ObserveRateLimitDelay)
	a.fetcher = crawler.NewCollyFetcher(
		crawler.FetcherConfig{
			UserAgent:       cfg.Discovery.UserAgent,
			RequestTimeout:  cfg.Discovery.RequestTimeout,
			IgnoreTLSErrors: cfg.Discovery.IgnoreTLSErrors,
		},
		crawler.NewExponentialRetryPolicy(crawler.RetryConfig{
			MaxAttempts: cfg.Discovery.FetchAttempts(),
			BaseDelay:   cfg.Discovery.RetryBaseDelay,
			MaxDelay:    cfg.Discovery.RetryMaxDelay,
			Jitter:      true,
		}),
		a.logger,
		crawler.WithRateLimiter(limiter),
	)
	a.discoverer = crawler.NewDiscoverer(a.fetcher,
		crawler.DiscoveryConfig{
			Delay:          cfg.Discovery.Delay,
			MaxURLs:        cfg.Discovery.MaxURLs,
			ExcludeMarkers: cfg.Discovery.ExcludeMarkers,
		},
		a.logger,
		crawler.WithRobots(crawler.NewRobotsPolicy(cfg.Discovery.RespectRobots, a.fetcher, cfg.Discovery.UserAgent, a.logger)),
	)

	if cfg.Render.Enabled {
		a.renderer = newRenderer(cfg.Render, o.launcher, limiter, a.logger)
	}

	hub, err := newHub(cfg.Progress, o, a.logger)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	a.hub = hub

	if err := a.connect(ctx, cfg); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	a.logger.Info("application services initialized",
		zap.String("mode", string(cfg.Mode())),
		zap.Bool("render", cfg.Render.Enabled),
		zap.Bool("gcs_mirror", a.mirror != nil),
		zap.Bool("run_store", a.runStore != nil),
		zap.Bool("publisher", a.publisher != nil),
	)
	return a, nil
}

func newRenderer(cfg config.RenderConfig, launcher render.Launcher, limiter crawler.RateLimiter, logger *zap.Logger) *render.Renderer {
	if launcher == nil {
		launcher = render.NewChromedpLauncher(render.ChromedpConfig{
			ExecPath:     cfg.ExecPath,
			Headless:     cfg.Headless,
			NoSandbox:    cfg.NoSandbox,
			UserAgent:    cfg.UserAgent,
			WindowWidth:  cfg.WindowWidth,
			WindowHeight: cfg.WindowHeight,
		}, logger)
	}
	opts := []render.Option{render.WithRateLimiter(limiter)}
	if sweeper := render.NewProcessSweeper(cfg.ReapProcessNames, logger); sweeper != nil {
		opts = append(opts, render.WithSweeper(sweeper))
	}
	return render.New(launcher, render.Config{
		PageLoadTimeout: cfg.PageLoadTimeout,
		ScriptTimeout:   cfg.ScriptTimeout,
		ScrollSteps:     cfg.ScrollSteps,
		SettleDelay:     cfg.SettleDelay,
		PDF:             cfg.PDF,
	}, logger, opts...)
}

func newHub(cfg config.ProgressConfig, o options, logger *zap.Logger) (*progress.Hub, error) {
	promSink, err := sinks.NewPrometheusSink(o.registerer)
	if err != nil {
		return nil, err
	}
	hubSinks := []progress.Sink{sinks.NewLogSink(logger), promSink}
	if cfg.Spinner && o.spinnerOut != nil {
		hubSinks = append(hubSinks, sinks.NewSpinnerSink(o.spinnerOut))
	}
	return progress.NewHub(progress.Config{BufferSize: cfg.BufferSize, Logger: logger}, hubSinks...), nil
}

// connect opens the optional remote integrations.
func (a *App) connect(ctx context.Context, cfg config.Config) error {
	if cfg.Storage.GCS.Bucket != "" {
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("init gcs client: %w", err)
		}
		a.gcsClient = client
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCS.Bucket, Prefix: cfg.Storage.GCS.Prefix})
		if err != nil {
			return fmt.Errorf("init gcs mirror: %w", err)
		}
		a.mirror = store
	}
	if cfg.Database.DSN != "" {
		store, err := postgres.NewRunStore(ctx, postgres.Config{
			DSN:      cfg.Database.DSN,
			Table:    cfg.Database.Table,
			MaxConns: cfg.Database.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("init run store: %w", err)
		}
		a.runStore = store
	}
	if cfg.PubSub.Topic != "" {
		pub, err := pubsub.New(ctx, pubsub.Config{ProjectID: cfg.PubSub.ProjectID, Topic: cfg.PubSub.Topic}, a.logger)
		if err != nil {
			return fmt.Errorf("init publisher: %w", err)
		}
		a.publisher = pub
	}
	return nil
}

// Logger returns the process logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// IDGenerator returns the run id source.
func (a *App) IDGenerator() crawler.IDGenerator {
	return a.ids
}

// Discoverer returns the shared link discoverer.
func (a *App) Discoverer() *crawler.Discoverer {
	return a.discoverer
}

// Runner returns the pipeline runner for mode, building it on first use.
func (a *App) Runner(mode crawler.CaptureMode) (*pipeline.Runner, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if r, ok := a.runners[mode]; ok {
		return r, nil
	}
	r, err := a.buildRunner(mode)
	if err != nil {
		return nil, err
	}
	a.runners[mode] = r
	return r, nil
}

func (a *App) buildRunner(mode crawler.CaptureMode) (*pipeline.Runner, error) {
	deps := capture.Deps{Fetcher: a.fetcher, Clock: a.clock}
	if a.renderer != nil {
		deps.Renderer = a.renderer
	}
	strategies, err := capture.Build(mode, a.cfg.Strategies(mode), deps)
	if err != nil {
		return nil, err
	}
	chainOpts := []capture.ChainOption{capture.WithClock(a.clock)}
	if a.cfg.Capture.Precheck {
		chainOpts = append(chainOpts, capture.WithHeadChecker(a.fetcher))
	}
	chain, err := capture.NewChain(strategies, capture.ChainConfig{
		MaxRetries:       a.cfg.Capture.MaxRetries,
		RetryBaseDelay:   a.cfg.Capture.RetryBaseDelay,
		RetryMaxDelay:    a.cfg.Capture.RetryMaxDelay,
		MinArtifactBytes: a.cfg.Capture.MinArtifactBytes,
		Precheck:         a.cfg.Capture.Precheck,
	}, a.logger, chainOpts...)
	if err != nil {
		return nil, err
	}

	runnerOpts := []pipeline.Option{
		pipeline.WithEmitter(a.hub),
		pipeline.WithIDGenerator(a.ids),
		pipeline.WithClock(a.clock),
	}
	if a.mirror != nil {
		runnerOpts = append(runnerOpts, pipeline.WithMirror(func(runID string) crawler.BlobStore {
			return a.mirror.Scoped(runID)
		}))
	}
	if a.runStore != nil {
		runnerOpts = append(runnerOpts, pipeline.WithRunStore(a.runStore))
	}
	if a.publisher != nil {
		runnerOpts = append(runnerOpts, pipeline.WithPublisher(a.publisher))
	}
	a.logger.Debug("capture chain built", zap.String("mode", string(mode)), zap.Strings("strategies", chain.Names()))
	return pipeline.New(a.discoverer, chain, pipeline.Config{
		ExcludeMarkers: a.cfg.Discovery.ExcludeMarkers,
		Orchestrator: orchestrator.Config{
			Workers:       a.cfg.Orchestrator.Workers,
			InterURLDelay: a.cfg.Orchestrator.InterURLDelay,
			MaxURLs:       a.cfg.Orchestrator.MaxURLs,
		},
		FlushTimeout: a.cfg.Output.FlushTimeout,
		PublishTopic: a.cfg.PubSub.Topic,
	}, a.logger, runnerOpts...)
}

// Close drains progress and releases every connection. The logger is
// flushed last.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		}
	}
	if a.runStore != nil {
		a.runStore.Close()
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close gcs client: %w", err))
		}
	}
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
