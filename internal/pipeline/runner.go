// Package pipeline runs one crawl-and-capture job end to end: discovery,
// exclusion filtering, capture, aggregation and the optional notifications.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-capture/internal/aggregate"
	"github.com/JakeFAU/site-capture/internal/clock/system"
	"github.com/JakeFAU/site-capture/internal/crawler"
	"github.com/JakeFAU/site-capture/internal/id/uuid"
	"github.com/JakeFAU/site-capture/internal/orchestrator"
	"github.com/JakeFAU/site-capture/internal/progress"
	"github.com/JakeFAU/site-capture/internal/storage"
	"github.com/JakeFAU/site-capture/internal/storage/local"
)

const defaultFlushTimeout = 30 * time.Second

// Discoverer lists the in-scope URLs of a target.
type Discoverer interface {
	Discover(ctx context.Context, target crawler.CrawlTarget) ([]string, error)
}

// Capturer captures one URL in a fixed mode. capture.Chain satisfies it.
type Capturer interface {
	orchestrator.Capturer
	Mode() crawler.CaptureMode
}

// OutputFactory opens the BlobStore that receives one run's files.
type OutputFactory func(outputDir, runID string) (crawler.BlobStore, error)

// MirrorFactory returns a secondary store for a run, or nil to skip mirroring.
type MirrorFactory func(runID string) crawler.BlobStore

// Config controls a Runner.
type Config struct {
	ExcludeMarkers []string
	Orchestrator   orchestrator.Config
	// FlushTimeout bounds writing output after the run context has ended.
	FlushTimeout time.Duration
	// PublishTopic is passed to the Publisher; empty uses its default topic.
	PublishTopic string
}

// Runner wires the pipeline stages together.
type Runner struct {
	cfg        Config
	discoverer Discoverer
	capturer   Capturer
	output     OutputFactory
	mirror     MirrorFactory
	emitter    progress.Emitter
	runStore   crawler.RunStore
	publisher  crawler.Publisher
	ids        crawler.IDGenerator
	clock      crawler.Clock
	pauser     crawler.Pauser
	logger     *zap.Logger
}

// Option customizes a Runner.
type Option func(*Runner)

// WithOutput replaces the local-directory output store.
func WithOutput(f OutputFactory) Option {
	return func(r *Runner) {
		if f != nil {
			r.output = f
		}
	}
}

// WithMirror copies every output file to a secondary store, best effort.
func WithMirror(f MirrorFactory) Option {
	return func(r *Runner) { r.mirror = f }
}

// WithEmitter sends run and capture progress to e.
func WithEmitter(e progress.Emitter) Option {
	return func(r *Runner) {
		if e != nil {
			r.emitter = e
		}
	}
}

// WithRunStore persists every summary, best effort.
func WithRunStore(s crawler.RunStore) Option {
	return func(r *Runner) { r.runStore = s }
}

// WithPublisher announces every summary, best effort.
func WithPublisher(p crawler.Publisher) Option {
	return func(r *Runner) { r.publisher = p }
}

// WithIDGenerator replaces the run id source.
func WithIDGenerator(g crawler.IDGenerator) Option {
	return func(r *Runner) {
		if g != nil {
			r.ids = g
		}
	}
}

// WithClock replaces the clock.
func WithClock(c crawler.Clock) Option {
	return func(r *Runner) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithPauser replaces the inter-URL sleeper.
func WithPauser(p crawler.Pauser) Option {
	return func(r *Runner) {
		if p != nil {
			r.pauser = p
		}
	}
}

// New builds a Runner.
func New(discoverer Discoverer, capturer Capturer, cfg Config, logger *zap.Logger, opts ...Option) (*Runner, error) {
	if discoverer == nil || capturer == nil {
		return nil, fmt.Errorf("%w: discoverer and capturer are required", crawler.ErrConfiguration)
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = defaultFlushTimeout
	}
	if cfg.ExcludeMarkers == nil {
		cfg.ExcludeMarkers = crawler.DefaultExcludeMarkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		cfg:        cfg,
		discoverer: discoverer,
		capturer:   capturer,
		output:     LocalOutput,
		emitter:    progress.Discard{},
		ids:        uuid.New(),
		clock:      system.New(),
		pauser:     crawler.TimerPauser{},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// LocalOutput writes run files under outputDir.
func LocalOutput(outputDir, _ string) (crawler.BlobStore, error) {
	store, err := local.New(local.Config{BaseDir: outputDir})
	if err != nil {
		return nil, err
	}
	return store, nil
}

// Mode reports the capture mode of every run.
func (r *Runner) Mode() crawler.CaptureMode {
	return r.capturer.Mode()
}

// CrawlAndCapture discovers pages under startURL, captures each one and
// writes the aggregate output to outputDir. A summary is returned for every
// run that got as far as opening its output; the error is set only for a bad
// start URL or unwritable output.
func (r *Runner) CrawlAndCapture(ctx context.Context, startURL, outputDir string, maxDepth int) (crawler.RunSummary, error) {
	runID, err := r.ids.NewID()
	if err != nil {
		return crawler.RunSummary{}, fmt.Errorf("generate run id: %w", err)
	}
	return r.Run(ctx, runID, startURL, outputDir, maxDepth)
}

// Run is CrawlAndCapture with a caller-chosen run id.
func (r *Runner) Run(ctx context.Context, runID, startURL, outputDir string, maxDepth int) (crawler.RunSummary, error) {
	target, err := crawler.NewCrawlTarget(startURL, maxDepth)
	if err != nil {
		return crawler.RunSummary{}, err
	}
	store, err := r.output(outputDir, runID)
	if err != nil {
		return crawler.RunSummary{}, fmt.Errorf("open output %q: %w", outputDir, err)
	}
	if r.mirror != nil {
		if secondary := r.mirror(runID); secondary != nil {
			store = storage.NewMirror(store, secondary, r.logger)
		}
	}

	logger := r.logger.With(zap.String("run_id", runID), zap.String("start_url", target.StartURL.String()))
	site := target.Site()
	started := r.clock.Now()
	logger.Info("run started", zap.Int("max_depth", maxDepth), zap.String("mode", string(r.Mode())))

	urls, discoverErr := r.discoverer.Discover(ctx, target)
	if discoverErr != nil {
		logger.Warn("discovery interrupted", zap.Int("found", len(urls)), zap.Error(discoverErr))
	}
	discovered := len(urls)
	urls = crawler.FilterExcluded(urls, r.cfg.ExcludeMarkers)
	logger.Info("discovery finished", zap.Int("discovered", discovered), zap.Int("eligible", len(urls)))

	r.emitter.Emit(progress.Event{
		RunID: runID,
		TS:    r.clock.Now(),
		Stage: progress.StageRunStart,
		Site:  site,
		Total: len(urls),
		Note:  fmt.Sprintf("discovered %d", discovered),
	})

	orch := orchestrator.New(r.capturer, r.cfg.Orchestrator, logger,
		orchestrator.WithEmitter(r.emitter),
		orchestrator.WithPauser(r.pauser),
		orchestrator.WithClock(r.clock),
		orchestrator.WithRun(runID, site),
	)
	res := orch.Run(ctx, urls)

	// Output is flushed even when ctx was canceled.
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.FlushTimeout)
	defer cancel()

	agg, err := aggregate.New(store, logger, aggregate.WithClock(r.clock))
	if err != nil {
		return crawler.RunSummary{}, err
	}
	_, summary, err := agg.Write(flushCtx, aggregate.RunInput{
		RunID:      runID,
		StartURL:   target.StartURL.String(),
		Site:       site,
		Mode:       r.Mode(),
		Discovered: discovered,
		Results:    res.Results,
		Failed:     res.Failed,
		Canceled:   res.Canceled || errors.Is(discoverErr, context.Canceled) || errors.Is(discoverErr, context.DeadlineExceeded),
		StartedAt:  started,
	})
	r.emitDone(runID, site, started, summary, err)
	if err != nil {
		return summary, err
	}

	r.notify(flushCtx, logger, summary)
	logger.Info("run finished",
		zap.Int("total", summary.TotalURLs),
		zap.Int("successful", summary.Successful),
		zap.Int("failed", summary.Failed),
		zap.Bool("canceled", summary.Canceled),
		zap.String("artifact", summary.ArtifactPath),
	)
	return summary, nil
}

func (r *Runner) emitDone(runID, site string, started time.Time, summary crawler.RunSummary, writeErr error) {
	now := r.clock.Now()
	evt := progress.Event{
		RunID:   runID,
		TS:      now,
		Stage:   progress.StageRunDone,
		Site:    site,
		Total:   summary.TotalURLs,
		Index:   summary.TotalURLs,
		Dur:     max(now.Sub(started), 0),
		Outcome: runOutcome(summary, writeErr),
		Note:    summary.ArtifactError,
	}
	if writeErr != nil {
		evt.Note = writeErr.Error()
	}
	r.emitter.Emit(evt)
}

func runOutcome(summary crawler.RunSummary, writeErr error) progress.Outcome {
	switch {
	case summary.Canceled:
		return progress.OutcomeCanceled
	case writeErr != nil, summary.TotalURLs > 0 && summary.Successful == 0:
		return progress.OutcomeFailed
	default:
		return progress.OutcomeSuccess
	}
}

// notify stores and publishes the summary. Failures are logged only.
func (r *Runner) notify(ctx context.Context, logger *zap.Logger, summary crawler.RunSummary) {
	if r.runStore != nil {
		if err := r.runStore.StoreRun(ctx, summary); err != nil {
			logger.Warn("run summary not stored", zap.Error(err))
		}
	}
	if r.publisher != nil {
		id, err := r.publisher.Publish(ctx, r.cfg.PublishTopic, summary)
		if err != nil {
			logger.Warn("run summary not published", zap.Error(err))
			return
		}
		logger.Debug("run summary published", zap.String("message_id", id))
	}
}
