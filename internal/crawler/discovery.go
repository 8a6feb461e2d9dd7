package crawler

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// DefaultExcludeMarkers filters mail-obfuscation links out of every run.
var DefaultExcludeMarkers = []string{"email-protection"}

// DiscoveryConfig tunes the Discoverer.
type DiscoveryConfig struct {
	// Delay is enforced between consecutive page fetches.
	Delay time.Duration
	// MaxURLs caps the number of collected URLs; zero means unlimited.
	MaxURLs        int
	ExcludeMarkers []string
}

// Discoverer performs a depth-bounded breadth-first traversal of the links
// reachable from a start page, staying on the start page's host.
type Discoverer struct {
	fetcher PageFetcher
	robots  RobotsPolicy
	pauser  Pauser
	cfg     DiscoveryConfig
	logger  *zap.Logger
}

// DiscovererOption customizes a Discoverer.
type DiscovererOption func(*Discoverer)

// WithRobots gates fetching and collection on robots.txt.
func WithRobots(policy RobotsPolicy) DiscovererOption {
	return func(d *Discoverer) {
		if policy != nil {
			d.robots = policy
		}
	}
}

// WithDiscoveryPauser replaces the inter-fetch sleeper.
func WithDiscoveryPauser(p Pauser) DiscovererOption {
	return func(d *Discoverer) {
		if p != nil {
			d.pauser = p
		}
	}
}

// NewDiscoverer wires a Discoverer around fetcher.
func NewDiscoverer(fetcher PageFetcher, cfg DiscoveryConfig, logger *zap.Logger, opts ...DiscovererOption) *Discoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ExcludeMarkers == nil {
		cfg.ExcludeMarkers = DefaultExcludeMarkers
	}
	d := &Discoverer{
		fetcher: fetcher,
		robots:  AllowAll{},
		pauser:  TimerPauser{},
		cfg:     cfg,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Discover returns the normalized in-scope URLs reachable from the target's
// start URL within MaxDepth hops, in first-seen order. The start URL itself is
// only included when some page links to it. Fetch failures are logged and
// treated as pages without links. On cancellation the URLs collected so far
// are returned together with the context error.
func (d *Discoverer) Discover(ctx context.Context, target CrawlTarget) ([]string, error) {
	visited := make(map[string]struct{})
	found := newOrderedSet()
	queue := &frontier{}
	if target.MaxDepth > 0 {
		queue.Push(frontierItem{url: normalizeParsed(target.StartURL), depth: target.MaxDepth})
	}

	fetches := 0
	for queue.Len() > 0 && !d.full(found) {
		if err := ctx.Err(); err != nil {
			return found.List(), fmt.Errorf("discovery interrupted: %w", err)
		}
		item, _ := queue.Pop()
		if _, seen := visited[item.url]; seen {
			continue
		}
		visited[item.url] = struct{}{}
		if !d.robots.Allowed(ctx, item.url) {
			d.logger.Debug("robots disallow", zap.String("url", item.url))
			continue
		}

		if fetches > 0 {
			d.pauser.Pause(ctx, d.cfg.Delay)
		}
		fetches++
		links, err := d.pageLinks(ctx, target, item.url)
		if err != nil {
			d.logger.Warn("discovery fetch failed; skipping node",
				zap.String("url", item.url),
				zap.Int("depth_remaining", item.depth),
				zap.Error(err),
			)
			continue
		}

		for _, link := range links {
			if IsExcluded(link, d.cfg.ExcludeMarkers) || found.Has(link) {
				continue
			}
			if !d.robots.Allowed(ctx, link) {
				continue
			}
			found.Add(link)
			if d.full(found) {
				d.logger.Info("discovery url cap reached", zap.Int("max_urls", d.cfg.MaxURLs))
				break
			}
			if item.depth-1 > 0 {
				queue.Push(frontierItem{url: link, depth: item.depth - 1})
			}
		}
		d.logger.Debug("expanded page",
			zap.String("url", item.url),
			zap.Int("depth_remaining", item.depth),
			zap.Int("links", len(links)),
			zap.Int("discovered", found.Len()),
		)
	}
	d.logger.Info("discovery complete",
		zap.String("start_url", target.StartURL.String()),
		zap.Int("max_depth", target.MaxDepth),
		zap.Int("fetched", fetches),
		zap.Int("discovered", found.Len()),
	)
	return found.List(), nil
}

func (d *Discoverer) full(found *orderedSet) bool {
	return d.cfg.MaxURLs > 0 && found.Len() >= d.cfg.MaxURLs
}

// pageLinks fetches rawURL and returns its normalized in-scope anchors.
func (d *Discoverer) pageLinks(ctx context.Context, target CrawlTarget, rawURL string) ([]string, error) {
	page, err := d.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if ct := page.ContentType(); ct != "" && !strings.Contains(ct, "html") {
		return nil, nil
	}
	base, err := url.Parse(page.FinalURL)
	if err != nil || page.FinalURL == "" {
		base, err = url.Parse(rawURL)
		if err != nil {
			return nil, fmt.Errorf("parse page url: %w", err)
		}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return ExtractLinks(doc, base, target), nil
}

// ExtractLinks returns the normalized in-scope hrefs of doc, resolved against
// base, with duplicates removed.
func ExtractLinks(doc *goquery.Document, base *url.URL, target CrawlTarget) []string {
	seen := newOrderedSet()
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		resolved, ok := ResolveLink(base, href)
		if !ok || !target.InScope(resolved) {
			return
		}
		seen.Add(normalizeParsed(resolved))
	})
	return seen.List()
}
