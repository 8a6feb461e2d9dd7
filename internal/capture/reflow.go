package capture

import (
	"context"
	"fmt"
	"strings"

	"github.com/JakeFAU/site-capture/internal/clock/system"
	"github.com/JakeFAU/site-capture/internal/crawler"
)

// ReflowPDF is the last-resort PDF strategy: it keeps only the visible text
// and paginates it in a single body font.
type ReflowPDF struct {
	fetcher crawler.PageFetcher
	clock   crawler.Clock
}

// NewReflowPDF builds the text reflow strategy. clock may be nil.
func NewReflowPDF(fetcher crawler.PageFetcher, clock crawler.Clock) *ReflowPDF {
	if clock == nil {
		clock = system.New()
	}
	return &ReflowPDF{fetcher: fetcher, clock: clock}
}

// Name implements Strategy.
func (*ReflowPDF) Name() string { return NameReflow }

// Mode implements Strategy.
func (*ReflowPDF) Mode() crawler.CaptureMode { return crawler.ModePDF }

// Attempt implements Strategy.
func (s *ReflowPDF) Attempt(ctx context.Context, rawURL string) (*crawler.Artifact, error) {
	page, err := s.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("reflow pdf: %w", err)
	}
	if !isHTML(page) {
		return nil, fmt.Errorf("%w: reflow pdf: unsupported content type %q", crawler.ErrInvalidArtifact, page.ContentType())
	}
	doc, err := parseHTML(page.Body)
	if err != nil {
		return nil, err
	}
	title := docTitle(doc)
	body := visibleText(doc)
	if body == "" {
		return nil, fmt.Errorf("%w: reflow pdf: page has no visible text", crawler.ErrInvalidArtifact)
	}

	out := newPDFDoc(title, rawURL, s.clock.Now())
	if title != "" {
		out.heading(1, title)
	}
	out.plain(strings.Split(body, "\n"))
	pdf, err := out.bytes()
	if err != nil {
		return nil, fmt.Errorf("reflow pdf: %w", err)
	}
	return &crawler.Artifact{Kind: crawler.ModePDF, PDF: pdf}, nil
}
