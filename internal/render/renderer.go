package render

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-capture/internal/crawler"
)

// Config tunes the Renderer.
type Config struct {
	PageLoadTimeout time.Duration
	ScriptTimeout   time.Duration
	// ScrollSteps bounds the lazy-load scroll loop.
	ScrollSteps int
	SettleDelay time.Duration
	PDF         PDFOptions
}

func (c Config) withDefaults() Config {
	if c.PageLoadTimeout <= 0 {
		c.PageLoadTimeout = 30 * time.Second
	}
	if c.ScriptTimeout <= 0 {
		c.ScriptTimeout = 30 * time.Second
	}
	if c.ScrollSteps < 0 {
		c.ScrollSteps = 0
	}
	if c.PDF == (PDFOptions{}) {
		c.PDF = DefaultPDFOptions()
	}
	return c
}

// Sweeper removes browser processes left behind by earlier sessions.
type Sweeper interface {
	Sweep(ctx context.Context) error
}

// Renderer loads pages in a fresh browser session per call.
type Renderer struct {
	launcher Launcher
	cfg      Config
	limiter  crawler.RateLimiter
	pauser   crawler.Pauser
	sweeper  Sweeper
	logger   *zap.Logger
}

// Option customizes a Renderer.
type Option func(*Renderer)

// WithRateLimiter throttles navigations through limiter.
func WithRateLimiter(l crawler.RateLimiter) Option {
	return func(r *Renderer) { r.limiter = l }
}

// WithPauser replaces the settle-delay sleeper.
func WithPauser(p crawler.Pauser) Option {
	return func(r *Renderer) { r.pauser = p }
}

// WithSweeper runs s after every session teardown.
func WithSweeper(s Sweeper) Option {
	return func(r *Renderer) { r.sweeper = s }
}

// New builds a Renderer on top of launcher.
func New(launcher Launcher, cfg Config, logger *zap.Logger, opts ...Option) *Renderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Renderer{
		launcher: launcher,
		cfg:      cfg.withDefaults(),
		pauser:   crawler.TimerPauser{},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render fully loads rawURL and extracts its DOM state.
func (r *Renderer) Render(ctx context.Context, rawURL string) (*crawler.RenderedPage, error) {
	page, _, err := r.render(ctx, rawURL, false)
	return page, err
}

// RenderPDF fully loads rawURL and prints it with the configured PDF options.
func (r *Renderer) RenderPDF(ctx context.Context, rawURL string) ([]byte, *crawler.RenderedPage, error) {
	page, pdf, err := r.render(ctx, rawURL, true)
	return pdf, page, err
}

func (r *Renderer) render(ctx context.Context, rawURL string, wantPDF bool) (*crawler.RenderedPage, []byte, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx, rawURL); err != nil {
			return nil, nil, fmt.Errorf("render rate limit: %w", err)
		}
	}
	start := time.Now()
	session, err := r.launcher.Launch(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: launch browser: %w", crawler.ErrRender, err)
	}
	defer r.teardown(session, rawURL)

	if err := r.navigate(ctx, session, rawURL); err != nil {
		return nil, nil, err
	}

	r.dismissPopups(ctx, session, rawURL)
	r.expand(ctx, session, rawURL)
	r.dismissPopups(ctx, session, rawURL)

	page, err := r.extract(ctx, session, rawURL)
	if err != nil {
		return nil, nil, err
	}
	if !wantPDF {
		r.logger.Debug("rendered page", zap.String("url", rawURL), zap.Duration("dur", time.Since(start)))
		return page, nil, nil
	}

	printCtx, cancel := context.WithTimeout(ctx, r.cfg.ScriptTimeout)
	defer cancel()
	pdf, err := session.PrintPDF(printCtx, r.cfg.PDF)
	if err != nil {
		return nil, nil, r.classify(ctx, "print pdf", err)
	}
	r.logger.Debug("printed page",
		zap.String("url", rawURL),
		zap.Int("bytes", len(pdf)),
		zap.Duration("dur", time.Since(start)),
	)
	return page, pdf, nil
}

func (r *Renderer) navigate(ctx context.Context, session Session, rawURL string) error {
	loadCtx, cancel := context.WithTimeout(ctx, r.cfg.PageLoadTimeout)
	defer cancel()
	if err := session.Navigate(loadCtx, rawURL); err != nil {
		return r.classify(ctx, "navigate "+rawURL, err)
	}
	return nil
}

// classify maps session errors onto the render taxonomy. A deadline that hit
// while the caller's context is still live is a render timeout.
func (r *Renderer) classify(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, crawler.ErrRenderTimeout) {
		return fmt.Errorf("%w: %s: %w", crawler.ErrRenderTimeout, op, err)
	}
	if errors.Is(err, crawler.ErrRender) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", crawler.ErrRender, op, err)
}

func (r *Renderer) dismissPopups(ctx context.Context, session Session, rawURL string) {
	var touched int
	if err := r.eval(ctx, session, dismissPopupsJS, &touched); err != nil {
		r.logger.Debug("popup dismissal failed", zap.String("url", rawURL), zap.Error(err))
		return
	}
	if touched > 0 {
		r.logger.Debug("dismissed overlays", zap.String("url", rawURL), zap.Int("elements", touched))
	}
}

func (r *Renderer) expand(ctx context.Context, session Session, rawURL string) {
	var touched int
	if err := r.eval(ctx, session, expandJS, &touched); err != nil {
		r.logger.Debug("content expansion failed", zap.String("url", rawURL), zap.Error(err))
	}
	lastHeight := -1
	for step := 0; step < r.cfg.ScrollSteps; step++ {
		var height int
		if err := r.eval(ctx, session, scrollJS, &height); err != nil {
			r.logger.Debug("scroll failed", zap.String("url", rawURL), zap.Int("step", step), zap.Error(err))
			return
		}
		r.pauser.Pause(ctx, r.cfg.SettleDelay)
		if ctx.Err() != nil || height == lastHeight {
			return
		}
		lastHeight = height
	}
}

func (r *Renderer) extract(ctx context.Context, session Session, rawURL string) (*crawler.RenderedPage, error) {
	var page crawler.RenderedPage
	if err := r.eval(ctx, session, extractJS, &page); err != nil {
		return nil, r.classify(ctx, "extract "+rawURL, err)
	}
	// Records stay attributed to the requested URL even after redirects.
	page.URL = rawURL
	return &page, nil
}

func (r *Renderer) eval(ctx context.Context, session Session, script string, out any) error {
	evalCtx, cancel := context.WithTimeout(ctx, r.cfg.ScriptTimeout)
	defer cancel()
	return session.Evaluate(evalCtx, script, out)
}

func (r *Renderer) teardown(session Session, rawURL string) {
	if err := session.Close(); err != nil {
		r.logger.Warn("browser teardown incomplete", zap.String("url", rawURL), zap.Error(err))
	}
	if r.sweeper == nil {
		return
	}
	sweepCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.sweeper.Sweep(sweepCtx); err != nil {
		r.logger.Warn("browser process sweep failed", zap.Error(err))
	}
}
