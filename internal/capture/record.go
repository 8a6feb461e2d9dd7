package capture

import (
	"context"
	"fmt"

	"github.com/JakeFAU/site-capture/internal/clock/system"
	"github.com/JakeFAU/site-capture/internal/crawler"
)

// StaticRecord builds a PageRecord from the served HTML without a browser.
type StaticRecord struct {
	fetcher crawler.PageFetcher
	clock   crawler.Clock
}

// NewStaticRecord builds the HTML record strategy. clock may be nil.
func NewStaticRecord(fetcher crawler.PageFetcher, clock crawler.Clock) *StaticRecord {
	if clock == nil {
		clock = system.New()
	}
	return &StaticRecord{fetcher: fetcher, clock: clock}
}

// Name implements Strategy.
func (*StaticRecord) Name() string { return NameStaticRecord }

// Mode implements Strategy.
func (*StaticRecord) Mode() crawler.CaptureMode { return crawler.ModeJSON }

// Attempt implements Strategy.
func (s *StaticRecord) Attempt(ctx context.Context, rawURL string) (*crawler.Artifact, error) {
	page, err := s.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("static record: %w", err)
	}
	if !isHTML(page) {
		return nil, fmt.Errorf("%w: static record: unsupported content type %q", crawler.ErrInvalidArtifact, page.ContentType())
	}
	doc, err := parseHTML(page.Body)
	if err != nil {
		return nil, err
	}
	base := baseURL(page, rawURL)
	rendered := crawler.RenderedPage{
		URL:     rawURL,
		Title:   docTitle(doc),
		HTML:    string(page.Body),
		Headers: headings(doc),
		Links:   links(doc, base),
		Images:  images(doc, base),
	}
	rendered.TextContent = visibleText(doc)

	record := crawler.NewPageRecord(rendered, s.clock.Now())
	return &crawler.Artifact{Kind: crawler.ModeJSON, Record: &record}, nil
}
