// Package orchestrator drives the capture chain over a discovered URL list.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/site-capture/internal/clock/system"
	"github.com/JakeFAU/site-capture/internal/crawler"
	"github.com/JakeFAU/site-capture/internal/progress"
)

// Capturer captures one URL. capture.Chain satisfies it.
type Capturer interface {
	Capture(ctx context.Context, rawURL string) crawler.CaptureResult
}

// Config controls pacing and parallelism.
type Config struct {
	// Workers is the number of concurrent captures; 1 is strictly sequential.
	Workers int
	// InterURLDelay is the pause after each capture, skipped after the last URL.
	InterURLDelay time.Duration
	// MaxURLs caps how many URLs are captured; 0 is unlimited.
	MaxURLs int
}

// Result is the outcome of one Run.
type Result struct {
	// Results holds successful captures in completion order.
	Results []crawler.CaptureResult
	Failed  []crawler.FailedURL
	// Canceled is set when ctx ended before every URL was attempted.
	Canceled bool
	// Attempted counts URLs handed to the capturer.
	Attempted int
}

// Orchestrator captures URL lists.
type Orchestrator struct {
	capturer Capturer
	cfg      Config
	emitter  progress.Emitter
	pauser   crawler.Pauser
	clock    crawler.Clock
	runID    string
	site     string
	logger   *zap.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithEmitter sends CAPTURE_START and CAPTURE_DONE events to e.
func WithEmitter(e progress.Emitter) Option {
	return func(o *Orchestrator) {
		if e != nil {
			o.emitter = e
		}
	}
}

// WithPauser replaces the inter-URL sleeper.
func WithPauser(p crawler.Pauser) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.pauser = p
		}
	}
}

// WithClock replaces the clock used to time captures.
func WithClock(c crawler.Clock) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithRun labels emitted events with the run id and site.
func WithRun(runID, site string) Option {
	return func(o *Orchestrator) {
		o.runID = runID
		o.site = site
	}
}

// New builds an Orchestrator around capturer.
func New(capturer Capturer, cfg Config, logger *zap.Logger, opts ...Option) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.InterURLDelay < 0 {
		cfg.InterURLDelay = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		capturer: capturer,
		cfg:      cfg,
		emitter:  progress.Discard{},
		pauser:   crawler.TimerPauser{},
		clock:    system.New(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run captures urls in order. Repeated URLs are captured once. Cancellation
// is observed between URLs; a capture already in flight finishes or times
// out on its own, and URLs never started are left out of the result.
func (o *Orchestrator) Run(ctx context.Context, urls []string) Result {
	queue := o.plan(urls)
	rec := &recorder{}
	if o.cfg.Workers == 1 {
		o.runSequential(ctx, queue, rec)
	} else {
		o.runPool(ctx, queue, rec)
	}
	res := rec.result()
	if res.Attempted < len(queue) || ctx.Err() != nil {
		res.Canceled = true
	}
	o.logger.Info("capture run finished",
		zap.Int("queued", len(queue)),
		zap.Int("attempted", res.Attempted),
		zap.Int("succeeded", len(res.Results)),
		zap.Int("failed", len(res.Failed)),
		zap.Bool("canceled", res.Canceled),
	)
	return res
}

// plan drops repeats and applies the URL cap.
func (o *Orchestrator) plan(urls []string) []string {
	processed := make(map[string]struct{}, len(urls))
	queue := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, seen := processed[u]; seen {
			o.logger.Debug("skipping already processed url", zap.String("url", u))
			continue
		}
		processed[u] = struct{}{}
		queue = append(queue, u)
	}
	if o.cfg.MaxURLs > 0 && len(queue) > o.cfg.MaxURLs {
		o.logger.Info("capping capture list",
			zap.Int("discovered", len(queue)),
			zap.Int("max_urls", o.cfg.MaxURLs),
		)
		queue = queue[:o.cfg.MaxURLs]
	}
	return queue
}

func (o *Orchestrator) runSequential(ctx context.Context, queue []string, rec *recorder) {
	for i, u := range queue {
		if ctx.Err() != nil {
			o.logger.Warn("capture run canceled", zap.Int("remaining", len(queue)-i))
			return
		}
		o.captureOne(ctx, i+1, len(queue), u, rec)
		if i < len(queue)-1 {
			o.pauser.Pause(ctx, o.cfg.InterURLDelay)
		}
	}
}

func (o *Orchestrator) runPool(ctx context.Context, queue []string, rec *recorder) {
	var g errgroup.Group
	g.SetLimit(o.cfg.Workers)
	for i, u := range queue {
		if ctx.Err() != nil {
			o.logger.Warn("capture run canceled", zap.Int("remaining", len(queue)-i))
			break
		}
		g.Go(func() error {
			// The slot is re-checked after a worker frees up.
			if ctx.Err() != nil {
				return nil
			}
			o.captureOne(ctx, i+1, len(queue), u, rec)
			if i < len(queue)-1 {
				o.pauser.Pause(ctx, o.cfg.InterURLDelay)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (o *Orchestrator) captureOne(ctx context.Context, index, total int, rawURL string, rec *recorder) {
	start := o.clock.Now()
	o.emitter.Emit(progress.Event{
		RunID: o.runID,
		TS:    start,
		Stage: progress.StageCaptureStart,
		Site:  o.site,
		URL:   rawURL,
		Index: index,
		Total: total,
	})
	o.logger.Info("capturing url", zap.String("url", rawURL), zap.Int("index", index), zap.Int("total", total))

	// Cancellation stops the run between URLs. A capture already in flight
	// finishes under the fetcher and renderer timeouts.
	res := o.capturer.Capture(context.WithoutCancel(ctx), rawURL)
	res.URL = rawURL
	rec.add(res)

	done := o.clock.Now()
	evt := progress.Event{
		RunID:    o.runID,
		TS:       done,
		Stage:    progress.StageCaptureDone,
		Site:     o.site,
		URL:      rawURL,
		Index:    index,
		Total:    total,
		Strategy: res.Strategy,
		Attempts: res.Attempts,
		Bytes:    int64(res.Artifact.Size()),
		Dur:      max(done.Sub(start), 0),
		Outcome:  progress.OutcomeSuccess,
	}
	if !res.Success {
		evt.Outcome = progress.OutcomeFailed
		evt.Note = failureReason(res)
	}
	o.emitter.Emit(evt)
}

func failureReason(res crawler.CaptureResult) string {
	if res.Err == nil {
		return "capture failed"
	}
	return res.Err.Error()
}

// recorder collects results from concurrent captures.
type recorder struct {
	mu        sync.Mutex
	results   []crawler.CaptureResult
	failed    []crawler.FailedURL
	attempted int
}

func (r *recorder) add(res crawler.CaptureResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempted++
	if res.Success {
		r.results = append(r.results, res)
		return
	}
	r.failed = append(r.failed, crawler.FailedURL{URL: res.URL, Reason: failureReason(res)})
}

func (r *recorder) result() Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Result{
		Results:   append([]crawler.CaptureResult(nil), r.results...),
		Failed:    append([]crawler.FailedURL(nil), r.failed...),
		Attempted: r.attempted,
	}
}
