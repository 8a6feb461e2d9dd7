package render

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-capture/internal/crawler"
)

// ChromedpConfig controls how browsers are launched.
type ChromedpConfig struct {
	ExecPath     string
	Headless     bool
	NoSandbox    bool
	UserAgent    string
	WindowWidth  int
	WindowHeight int
	// ReapGrace is how long Close waits for the browser to exit before killing it.
	ReapGrace time.Duration
}

// ChromedpLauncher launches a fresh headless Chrome per session.
type ChromedpLauncher struct {
	cfg    ChromedpConfig
	logger *zap.Logger
}

// NewChromedpLauncher returns a Launcher backed by chromedp's exec allocator.
func NewChromedpLauncher(cfg ChromedpConfig, logger *zap.Logger) *ChromedpLauncher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = crawler.DefaultUserAgent
	}
	if cfg.WindowWidth <= 0 || cfg.WindowHeight <= 0 {
		cfg.WindowWidth, cfg.WindowHeight = 1920, 1080
	}
	if cfg.ReapGrace <= 0 {
		cfg.ReapGrace = 2 * time.Second
	}
	return &ChromedpLauncher{cfg: cfg, logger: logger}
}

// Launch starts a browser. The browser's lifetime is bound to the returned
// session, not to ctx; callers must Close it.
func (l *ChromedpLauncher) Launch(ctx context.Context) (Session, error) {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", l.cfg.Headless),
		chromedp.DisableGPU,
		chromedp.UserAgent(l.cfg.UserAgent),
		chromedp.WindowSize(l.cfg.WindowWidth, l.cfg.WindowHeight),
	)
	if l.cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if l.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.cfg.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	cancel := func() {
		browserCancel()
		allocCancel()
	}

	s := &chromedpSession{
		ctx:    browserCtx,
		cancel: cancel,
		grace:  l.cfg.ReapGrace,
		logger: l.logger,
	}
	chromedp.ListenTarget(browserCtx, s.recordDocumentStatus)

	// The first Run allocates the browser and must use the browser context
	// itself; a derived deadline would kill the browser when it expires.
	stopLaunch := context.AfterFunc(ctx, cancel)
	err := chromedp.Run(browserCtx, network.Enable())
	stopLaunch()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	if c := chromedp.FromContext(browserCtx); c != nil && c.Browser != nil {
		s.proc = c.Browser.Process()
	}
	return s, nil
}

type chromedpSession struct {
	ctx    context.Context
	cancel context.CancelFunc
	proc   *os.Process
	grace  time.Duration
	logger *zap.Logger

	status    atomic.Int64
	closeOnce sync.Once
	closeErr  error
}

// bind derives a chromedp-capable context that also ends when ctx does.
func (s *chromedpSession) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(s.ctx)
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		prev := cancel
		cancel = func() {
			cancelDeadline()
			prev()
		}
	}
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (s *chromedpSession) recordDocumentStatus(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	s.status.Store(resp.Response.Status)
}

func (s *chromedpSession) Navigate(ctx context.Context, rawURL string) error {
	runCtx, stop := s.bind(ctx)
	defer stop()
	s.status.Store(0)
	err := chromedp.Run(runCtx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		waitDocumentComplete(100*time.Millisecond),
	)
	if err != nil {
		if runCtx.Err() != nil {
			return fmt.Errorf("%w: %w", crawler.ErrRenderTimeout, runCtx.Err())
		}
		return fmt.Errorf("%w: %w", crawler.ErrRender, err)
	}
	if code := int(s.status.Load()); code >= 400 {
		return fmt.Errorf("%w: %w", crawler.ErrRender, &crawler.StatusError{URL: rawURL, StatusCode: code})
	}
	return nil
}

func (s *chromedpSession) Evaluate(ctx context.Context, script string, out any) error {
	runCtx, stop := s.bind(ctx)
	defer stop()
	if err := chromedp.Run(runCtx, chromedp.Evaluate(script, out)); err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	return nil
}

func (s *chromedpSession) PrintPDF(ctx context.Context, opts PDFOptions) ([]byte, error) {
	runCtx, stop := s.bind(ctx)
	defer stop()
	var buf []byte
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		data, _, err := page.PrintToPDF().
			WithPaperWidth(opts.PaperWidth).
			WithPaperHeight(opts.PaperHeight).
			WithMarginTop(opts.Margin).
			WithMarginBottom(opts.Margin).
			WithMarginLeft(opts.Margin).
			WithMarginRight(opts.Margin).
			WithScale(opts.Scale).
			WithPrintBackground(opts.PrintBackground).
			WithPreferCSSPageSize(opts.PreferCSSPageSize).
			WithLandscape(opts.Landscape).
			Do(ctx)
		if err != nil {
			return err
		}
		buf = data
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("print to pdf: %w", err)
	}
	return buf, nil
}

// Close cancels the browser contexts, which asks chromedp to shut Chrome
// down, then kills the process if it is still alive after the grace period.
func (s *chromedpSession) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.closeErr = reapProcess(s.proc, s.grace)
		if s.closeErr != nil {
			s.logger.Warn("browser process survived teardown", zap.Error(s.closeErr))
		}
	})
	return s.closeErr
}

func waitDocumentComplete(interval time.Duration) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		for {
			var state string
			if err := chromedp.Evaluate(readyStateJS, &state).Do(ctx); err != nil {
				return err
			}
			if state == "complete" {
				return nil
			}
			timer := time.NewTimer(interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
}
