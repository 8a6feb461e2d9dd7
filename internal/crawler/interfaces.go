package crawler

import (
	"context"
	"io"
	"time"
)

// PageFetcher performs plain HTTP requests without a browser.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (Page, error)
	Head(ctx context.Context, rawURL string) (int, error)
}

// RobotsPolicy decides whether a URL may be crawled.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// RetryPolicy decides whether and when an operation is retried.
// attempt is zero-based and counts attempts already made minus one.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Pauser blocks for a politeness delay, returning early on cancellation.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration)
}

// RateLimiter throttles the aggregate request rate to an origin.
type RateLimiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// BlobStore writes output files and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes run notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RunStore persists completed run summaries.
type RunStore interface {
	StoreRun(ctx context.Context, summary RunSummary) error
}

// Hasher computes digests for artifact integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
