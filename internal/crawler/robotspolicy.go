package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

// RobotsEnforcer enforces robots.txt directives per host.
type RobotsEnforcer struct {
	fetcher   PageFetcher
	cache     sync.Map
	userAgent string
	logger    *zap.Logger
}

// NewRobotsPolicy returns an enforcer when respect is set and an allow-all
// policy otherwise. robots.txt files are fetched through fetcher.
func NewRobotsPolicy(respect bool, fetcher PageFetcher, userAgent string, logger *zap.Logger) RobotsPolicy {
	if !respect || fetcher == nil {
		return AllowAll{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RobotsEnforcer{
		fetcher:   fetcher,
		userAgent: userAgent,
		logger:    logger,
	}
}

// Allowed implements RobotsPolicy. Unreadable robots files allow access.
func (r *RobotsEnforcer) Allowed(ctx context.Context, rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	data, err := r.load(ctx, parsed)
	if err != nil {
		r.logger.Warn("robots fetch failed; allowing access", zap.String("host", parsed.Host), zap.Error(err))
		return true
	}
	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}
	return data.TestAgent(path, r.userAgent)
}

func (r *RobotsEnforcer) load(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, error) {
	hostKey := strings.ToLower(parsed.Host)
	if cached, ok := r.cache.Load(hostKey); ok {
		data, assertOK := cached.(*robotstxt.RobotsData)
		if !assertOK {
			return nil, fmt.Errorf("robots cache type mismatch: %T", cached)
		}
		return data, nil
	}

	robotsURL := url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: "/robots.txt"}
	page, err := r.fetcher.Fetch(ctx, robotsURL.String())
	var statusErr *StatusError
	switch {
	case err == nil:
	case errors.As(err, &statusErr):
		page.StatusCode = statusErr.StatusCode
		page.Body = nil
	default:
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(page.StatusCode, page.Body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	r.cache.Store(hostKey, data)
	return data, nil
}

// AllowAll is a RobotsPolicy that permits every URL.
type AllowAll struct{}

// Allowed implements RobotsPolicy.
func (AllowAll) Allowed(context.Context, string) bool { return true }
