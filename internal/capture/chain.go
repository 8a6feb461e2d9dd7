package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-capture/internal/clock/system"
	"github.com/JakeFAU/site-capture/internal/crawler"
	"github.com/JakeFAU/site-capture/internal/hash/sha256"
)

// DefaultMinArtifactBytes is the size a PDF must exceed to count as a real capture.
const DefaultMinArtifactBytes = 1000

// ChainConfig tunes retries and validation across a strategy chain.
type ChainConfig struct {
	// MaxRetries is the number of attempts per strategy.
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	// MinArtifactBytes rejects PDFs of this size or smaller. Zero means the default and a
	// negative value disables the check.
	MinArtifactBytes int
	// Precheck issues a HEAD request before any strategy runs.
	Precheck bool
}

func (c ChainConfig) withDefaults() ChainConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 2
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 5 * time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 30 * time.Second
	}
	if c.MinArtifactBytes == 0 {
		c.MinArtifactBytes = DefaultMinArtifactBytes
	}
	return c
}

// HeadChecker answers the reachability precheck.
type HeadChecker interface {
	Head(ctx context.Context, rawURL string) (int, error)
}

// Chain runs strategies in order until one yields a valid artifact.
type Chain struct {
	strategies []Strategy
	mode       crawler.CaptureMode
	cfg        ChainConfig
	head       HeadChecker
	hasher     crawler.Hasher
	clock      crawler.Clock
	pauser     crawler.Pauser
	logger     *zap.Logger
}

// ChainOption customizes a Chain.
type ChainOption func(*Chain)

// WithHeadChecker enables the HEAD precheck through h when cfg.Precheck is set.
func WithHeadChecker(h HeadChecker) ChainOption {
	return func(c *Chain) { c.head = h }
}

// WithHasher replaces the artifact checksum function.
func WithHasher(h crawler.Hasher) ChainOption {
	return func(c *Chain) {
		if h != nil {
			c.hasher = h
		}
	}
}

// WithClock replaces the clock used to stamp results.
func WithClock(clock crawler.Clock) ChainOption {
	return func(c *Chain) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithBackoffPauser replaces the sleeper used between attempts.
func WithBackoffPauser(p crawler.Pauser) ChainOption {
	return func(c *Chain) {
		if p != nil {
			c.pauser = p
		}
	}
}

// NewChain validates that strategies is non-empty and single-mode.
func NewChain(strategies []Strategy, cfg ChainConfig, logger *zap.Logger, opts ...ChainOption) (*Chain, error) {
	if len(strategies) == 0 {
		return nil, fmt.Errorf("%w: capture chain needs at least one strategy", crawler.ErrConfiguration)
	}
	mode := strategies[0].Mode()
	for _, s := range strategies[1:] {
		if s.Mode() != mode {
			return nil, fmt.Errorf("%w: strategy %q produces %s, chain produces %s",
				crawler.ErrConfiguration, s.Name(), s.Mode(), mode)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Chain{
		strategies: strategies,
		mode:       mode,
		cfg:        cfg.withDefaults(),
		hasher:     sha256.New(),
		clock:      system.New(),
		pauser:     crawler.TimerPauser{},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Mode reports the kind of artifact the chain produces.
func (c *Chain) Mode() crawler.CaptureMode { return c.mode }

// Names lists the strategies in fallback order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.strategies))
	for i, s := range c.strategies {
		names[i] = s.Name()
	}
	return names
}

// Capture produces exactly one result for rawURL. Failures are reported in
// the result, never returned.
func (c *Chain) Capture(ctx context.Context, rawURL string) (result crawler.CaptureResult) {
	result.URL = rawURL
	defer func() { result.CapturedAt = c.clock.Now() }()

	if err := ctx.Err(); err != nil {
		result.Err = err
		return result
	}
	if c.cfg.Precheck && c.head != nil {
		if err := c.precheck(ctx, rawURL); err != nil {
			c.logger.Warn("precheck rejected url", zap.String("url", rawURL), zap.Error(err))
			result.Err = err
			return result
		}
	}

	var lastErr error
	for _, strategy := range c.strategies {
		artifact, attempts, err := c.try(ctx, strategy, rawURL)
		result.Attempts += attempts
		if err == nil {
			result.Success = true
			result.Artifact = artifact
			result.Strategy = strategy.Name()
			c.logger.Info("captured url",
				zap.String("url", rawURL),
				zap.String("strategy", strategy.Name()),
				zap.Int("bytes", artifact.Size()),
				zap.Int("attempts", result.Attempts),
			)
			return result
		}
		lastErr = err
		if ctxErr := ctx.Err(); ctxErr != nil {
			result.Err = ctxErr
			return result
		}
		c.logger.Warn("capture strategy failed",
			zap.String("url", rawURL),
			zap.String("strategy", strategy.Name()),
			zap.Error(err),
		)
	}
	result.Err = fmt.Errorf("all strategies failed: %w", lastErr)
	c.logger.Error("capture failed", zap.String("url", rawURL), zap.Error(lastErr))
	return result
}

func (c *Chain) try(ctx context.Context, strategy Strategy, rawURL string) (*crawler.Artifact, int, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt - 1)
			c.logger.Info("retrying capture strategy",
				zap.String("url", rawURL),
				zap.String("strategy", strategy.Name()),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", delay),
			)
			c.pauser.Pause(ctx, delay)
		}
		if err := ctx.Err(); err != nil {
			return nil, attempt, err
		}

		artifact, err := strategy.Attempt(ctx, rawURL)
		if err == nil {
			err = c.validate(artifact)
		}
		if err == nil {
			if err := c.fingerprint(artifact); err != nil {
				return nil, attempt + 1, err
			}
			return artifact, attempt + 1, nil
		}
		lastErr = fmt.Errorf("%s attempt %d: %w", strategy.Name(), attempt+1, err)
		if !retryable(err) {
			return nil, attempt + 1, lastErr
		}
	}
	return nil, c.cfg.MaxRetries, lastErr
}

func (c *Chain) precheck(ctx context.Context, rawURL string) error {
	status, err := c.head.Head(ctx, rawURL)
	if err != nil {
		return fmt.Errorf("%w: %w", crawler.ErrPrecheck, err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: %w", crawler.ErrPrecheck, &crawler.StatusError{URL: rawURL, StatusCode: status})
	}
	return nil
}

func (c *Chain) validate(artifact *crawler.Artifact) error {
	if artifact == nil {
		return fmt.Errorf("%w: strategy returned no artifact", crawler.ErrInvalidArtifact)
	}
	switch artifact.Kind {
	case crawler.ModePDF:
		if len(artifact.PDF) == 0 {
			return fmt.Errorf("%w: empty pdf", crawler.ErrInvalidArtifact)
		}
		if c.cfg.MinArtifactBytes > 0 && len(artifact.PDF) <= c.cfg.MinArtifactBytes {
			return fmt.Errorf("%w: pdf is %d bytes, want more than %d",
				crawler.ErrInvalidArtifact, len(artifact.PDF), c.cfg.MinArtifactBytes)
		}
	case crawler.ModeJSON:
		if artifact.Record == nil || artifact.Size() == 0 {
			return fmt.Errorf("%w: empty page record", crawler.ErrInvalidArtifact)
		}
	default:
		return fmt.Errorf("%w: unknown artifact kind %q", crawler.ErrInvalidArtifact, artifact.Kind)
	}
	return nil
}

func (c *Chain) fingerprint(artifact *crawler.Artifact) error {
	payload := artifact.PDF
	if artifact.Kind == crawler.ModeJSON {
		var err error
		if payload, err = json.Marshal(artifact.Record); err != nil {
			return fmt.Errorf("%w: encode record: %w", crawler.ErrInvalidArtifact, err)
		}
	}
	sum, err := c.hasher.Hash(payload)
	if err != nil {
		return fmt.Errorf("checksum artifact: %w", err)
	}
	artifact.Checksum = sum
	return nil
}

func (c *Chain) backoff(retry int) time.Duration {
	delay := c.cfg.RetryBaseDelay
	for i := 0; i < retry; i++ {
		delay *= 2
		if delay >= c.cfg.RetryMaxDelay {
			return c.cfg.RetryMaxDelay
		}
	}
	return min(delay, c.cfg.RetryMaxDelay)
}

// retryable reports whether the same strategy deserves another attempt.
// Browser and validation failures move straight to the next strategy.
func retryable(err error) bool {
	switch {
	case errors.Is(err, crawler.ErrRenderTimeout),
		errors.Is(err, crawler.ErrRender),
		errors.Is(err, crawler.ErrInvalidArtifact):
		return false
	case errors.Is(err, crawler.ErrTransientNetwork):
		return true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	default:
		return true
	}
}
