package crawler

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// DefaultUserAgent mimics a desktop browser; many sites serve bots a stub page.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// FetcherConfig tunes the Colly-backed PageFetcher.
type FetcherConfig struct {
	UserAgent       string
	RequestTimeout  time.Duration
	MaxBodyBytes    int
	IgnoreTLSErrors bool
}

// CollyFetcher implements PageFetcher using a Colly collector.
type CollyFetcher struct {
	baseCollector *colly.Collector
	retry         RetryPolicy
	limiter       RateLimiter
	pauser        Pauser
	logger        *zap.Logger
}

// FetcherOption customizes a CollyFetcher.
type FetcherOption func(*CollyFetcher)

// WithRateLimiter throttles every request through limiter.
func WithRateLimiter(limiter RateLimiter) FetcherOption {
	return func(f *CollyFetcher) {
		if limiter != nil {
			f.limiter = limiter
		}
	}
}

// WithPauser replaces the backoff sleeper (tests use an instant one).
func WithPauser(p Pauser) FetcherOption {
	return func(f *CollyFetcher) {
		if p != nil {
			f.pauser = p
		}
	}
}

// NewCollyFetcher constructs a configured Colly-based PageFetcher.
func NewCollyFetcher(cfg FetcherConfig, retry RetryPolicy, logger *zap.Logger, opts ...FetcherOption) *CollyFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if retry == nil {
		retry = NewExponentialRetryPolicy(RetryConfig{})
	}
	collectorOpts := []colly.CollectorOption{
		colly.UserAgent(cfg.UserAgent),
	}
	if cfg.MaxBodyBytes > 0 {
		collectorOpts = append(collectorOpts, colly.MaxBodySize(cfg.MaxBodyBytes))
	}
	base := colly.NewCollector(collectorOpts...)
	base.AllowURLRevisit = true
	base.ParseHTTPErrorResponse = true
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          32,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.RequestTimeout,
		ForceAttemptHTTP2:     true,
		// #nosec G402 -- opt-in for sites with broken certificate chains.
		TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.IgnoreTLSErrors},
	})
	base.SetRequestTimeout(cfg.RequestTimeout)

	f := &CollyFetcher{
		baseCollector: base,
		retry:         retry,
		limiter:       noopLimiter{},
		pauser:        TimerPauser{},
		logger:        logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch GETs rawURL, retrying transient failures per the retry policy.
// A final non-2xx response is returned together with a *StatusError.
func (f *CollyFetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	var (
		page    Page
		lastErr error
	)
	for attempt := 0; ; attempt++ {
		if err := f.limiter.Wait(ctx, rawURL); err != nil {
			return Page{}, fmt.Errorf("fetch %s: %w", rawURL, err)
		}
		start := time.Now()
		var err error
		page, err = f.do(ctx, http.MethodGet, rawURL)
		if err == nil && page.StatusCode >= http.StatusBadRequest {
			err = &StatusError{URL: rawURL, StatusCode: page.StatusCode}
		}
		if err == nil {
			f.logger.Info("fetched page",
				zap.String("url", rawURL),
				zap.Int("status", page.StatusCode),
				zap.Int("bytes", len(page.Body)),
				zap.Int("attempt", attempt+1),
				zap.Duration("dur", time.Since(start)),
			)
			return page, nil
		}
		lastErr = err
		if !f.retry.ShouldRetry(err, attempt) {
			break
		}
		delay := f.retry.Backoff(attempt)
		f.logger.Warn("fetch failed; retrying",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		f.pauser.Pause(ctx, delay)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Page{}, fmt.Errorf("fetch %s: %w", rawURL, ctxErr)
		}
	}
	f.logger.Warn("fetch failed", zap.String("url", rawURL), zap.Error(lastErr))
	var statusErr *StatusError
	if errors.As(lastErr, &statusErr) {
		return page, fmt.Errorf("fetch %s: %w", rawURL, lastErr)
	}
	return Page{}, fmt.Errorf("fetch %s: %w", rawURL, lastErr)
}

// Head issues a single HEAD request and returns the response status.
func (f *CollyFetcher) Head(ctx context.Context, rawURL string) (int, error) {
	if err := f.limiter.Wait(ctx, rawURL); err != nil {
		return 0, fmt.Errorf("head %s: %w", rawURL, err)
	}
	page, err := f.do(ctx, http.MethodHead, rawURL)
	if err != nil {
		f.logger.Debug("head request failed", zap.String("url", rawURL), zap.Error(err))
		return 0, fmt.Errorf("head %s: %w", rawURL, err)
	}
	return page.StatusCode, nil
}

func (f *CollyFetcher) do(ctx context.Context, method, rawURL string) (Page, error) {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	resultCh := make(chan fetchResult, 1)
	var once sync.Once
	send := func(res fetchResult) {
		once.Do(func() {
			resultCh <- res
		})
	}

	// Clone does not carry callbacks over, so every hook is registered here.
	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.5")
	})
	collector.OnResponse(func(r *colly.Response) {
		headers := http.Header{}
		if r.Headers != nil {
			for k, v := range *r.Headers {
				headers[k] = append([]string(nil), v...)
			}
		}
		send(fetchResult{page: Page{
			URL:        rawURL,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Header:     headers,
			Body:       append([]byte(nil), r.Body...),
		}})
	})
	collector.OnError(func(r *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		send(fetchResult{err: classifyTransportError(ctx, rawURL, status, err)})
	})

	done := make(chan error, 1)
	go func() {
		if method == http.MethodHead {
			done <- collector.Head(rawURL)
			return
		}
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return Page{}, ctx.Err()
	case visitErr := <-done:
		select {
		case res := <-resultCh:
			return res.page, res.err
		default:
		}
		if visitErr != nil {
			return Page{}, classifyTransportError(ctx, rawURL, 0, visitErr)
		}
		return Page{}, errors.New("colly fetch produced no result")
	}
}

func classifyTransportError(ctx context.Context, rawURL string, status int, err error) error {
	if status > 0 {
		return &StatusError{URL: rawURL, StatusCode: status}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("%w: %w", ErrTransientNetwork, err)
}

type fetchResult struct {
	page Page
	err  error
}
