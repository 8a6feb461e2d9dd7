package capture

import (
	"context"
	"fmt"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"

	"github.com/JakeFAU/site-capture/internal/clock/system"
	"github.com/JakeFAU/site-capture/internal/crawler"
)

// StaticPDF converts the served HTML to Markdown and typesets it, without a
// browser. Documents already served as PDF pass through unchanged.
type StaticPDF struct {
	fetcher crawler.PageFetcher
	clock   crawler.Clock
}

// NewStaticPDF builds the HTML-conversion strategy. clock may be nil.
func NewStaticPDF(fetcher crawler.PageFetcher, clock crawler.Clock) *StaticPDF {
	if clock == nil {
		clock = system.New()
	}
	return &StaticPDF{fetcher: fetcher, clock: clock}
}

// Name implements Strategy.
func (*StaticPDF) Name() string { return NameStatic }

// Mode implements Strategy.
func (*StaticPDF) Mode() crawler.CaptureMode { return crawler.ModePDF }

// Attempt implements Strategy.
func (s *StaticPDF) Attempt(ctx context.Context, rawURL string) (*crawler.Artifact, error) {
	page, err := s.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("static pdf: %w", err)
	}
	if isPDF(page) {
		return &crawler.Artifact{Kind: crawler.ModePDF, PDF: page.Body}, nil
	}
	if !isHTML(page) {
		return nil, fmt.Errorf("%w: static pdf: unsupported content type %q", crawler.ErrInvalidArtifact, page.ContentType())
	}

	base := baseURL(page, rawURL)
	markdown, err := htmltomarkdown.ConvertString(string(page.Body),
		converter.WithDomain(base.Scheme+"://"+base.Host))
	if err != nil {
		return nil, fmt.Errorf("%w: static pdf: convert html: %w", crawler.ErrInvalidArtifact, err)
	}
	blocks := markdownBlocks([]byte(markdown))
	if len(blocks) == 0 {
		return nil, fmt.Errorf("%w: static pdf: no readable content", crawler.ErrInvalidArtifact)
	}

	title := ""
	if doc, err := parseHTML(page.Body); err == nil {
		title = docTitle(doc)
	}
	out := newPDFDoc(title, rawURL, s.clock.Now())
	if title != "" && (blocks[0].kind != blockHeading || blocks[0].text != title) {
		out.heading(1, title)
	}
	out.blocks(blocks)
	pdf, err := out.bytes()
	if err != nil {
		return nil, fmt.Errorf("static pdf: %w", err)
	}
	return &crawler.Artifact{Kind: crawler.ModePDF, PDF: pdf}, nil
}
