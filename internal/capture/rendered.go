package capture

import (
	"context"
	"fmt"

	"github.com/JakeFAU/site-capture/internal/clock/system"
	"github.com/JakeFAU/site-capture/internal/crawler"
)

// RenderedPDF prints the fully rendered page through the browser.
type RenderedPDF struct {
	renderer PDFRenderer
}

// NewRenderedPDF builds the browser-print strategy.
func NewRenderedPDF(renderer PDFRenderer) *RenderedPDF {
	return &RenderedPDF{renderer: renderer}
}

// Name implements Strategy.
func (*RenderedPDF) Name() string { return NameRendered }

// Mode implements Strategy.
func (*RenderedPDF) Mode() crawler.CaptureMode { return crawler.ModePDF }

// Attempt implements Strategy.
func (s *RenderedPDF) Attempt(ctx context.Context, rawURL string) (*crawler.Artifact, error) {
	pdf, _, err := s.renderer.RenderPDF(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("rendered pdf: %w", err)
	}
	return &crawler.Artifact{Kind: crawler.ModePDF, PDF: pdf}, nil
}

// RenderedRecord extracts a PageRecord from the rendered DOM.
type RenderedRecord struct {
	renderer PageRenderer
	clock    crawler.Clock
}

// NewRenderedRecord builds the browser-record strategy. clock may be nil.
func NewRenderedRecord(renderer PageRenderer, clock crawler.Clock) *RenderedRecord {
	if clock == nil {
		clock = system.New()
	}
	return &RenderedRecord{renderer: renderer, clock: clock}
}

// Name implements Strategy.
func (*RenderedRecord) Name() string { return NameRenderedRecord }

// Mode implements Strategy.
func (*RenderedRecord) Mode() crawler.CaptureMode { return crawler.ModeJSON }

// Attempt implements Strategy.
func (s *RenderedRecord) Attempt(ctx context.Context, rawURL string) (*crawler.Artifact, error) {
	page, err := s.renderer.Render(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("rendered record: %w", err)
	}
	record := crawler.NewPageRecord(*page, s.clock.Now())
	record.URL = rawURL
	return &crawler.Artifact{Kind: crawler.ModeJSON, Record: &record}, nil
}
