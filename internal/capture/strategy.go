package capture

import (
	"context"
	"fmt"
	"strings"

	"github.com/JakeFAU/site-capture/internal/crawler"
)

// Built-in strategy names, as used in capture.strategies.
const (
	NameRendered       = "rendered"
	NameStatic         = "static"
	NameReflow         = "reflow"
	NameRenderedRecord = "rendered-record"
	NameStaticRecord   = "static-record"
)

// Strategy is one way of capturing a URL.
type Strategy interface {
	Name() string
	Mode() crawler.CaptureMode
	Attempt(ctx context.Context, rawURL string) (*crawler.Artifact, error)
}

// PageRenderer loads a page in a browser and returns its DOM state.
type PageRenderer interface {
	Render(ctx context.Context, rawURL string) (*crawler.RenderedPage, error)
}

// PDFRenderer loads a page in a browser and prints it.
type PDFRenderer interface {
	RenderPDF(ctx context.Context, rawURL string) ([]byte, *crawler.RenderedPage, error)
}

// DefaultStrategies returns the fallback order for mode.
func DefaultStrategies(mode crawler.CaptureMode) []string {
	if mode == crawler.ModeJSON {
		return []string{NameRenderedRecord, NameStaticRecord}
	}
	return []string{NameRendered, NameStatic, NameReflow}
}

// Deps holds the collaborators strategies are built from.
type Deps struct {
	Renderer interface {
		PageRenderer
		PDFRenderer
	}
	Fetcher crawler.PageFetcher
	Clock   crawler.Clock
}

// Build resolves names into strategies for mode, in order. Unknown names,
// strategies of the wrong mode and strategies whose dependency is missing
// are configuration errors.
func Build(mode crawler.CaptureMode, names []string, deps Deps) ([]Strategy, error) {
	if len(names) == 0 {
		names = DefaultStrategies(mode)
	}
	out := make([]Strategy, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		strategy, err := build(name, deps)
		if err != nil {
			return nil, err
		}
		if strategy.Mode() != mode {
			return nil, fmt.Errorf("%w: strategy %q produces %s, run mode is %s",
				crawler.ErrConfiguration, name, strategy.Mode(), mode)
		}
		out = append(out, strategy)
	}
	return out, nil
}

func build(name string, deps Deps) (Strategy, error) {
	needRenderer := func() error {
		if deps.Renderer == nil {
			return fmt.Errorf("%w: strategy %q needs a browser renderer", crawler.ErrConfiguration, name)
		}
		return nil
	}
	needFetcher := func() error {
		if deps.Fetcher == nil {
			return fmt.Errorf("%w: strategy %q needs a page fetcher", crawler.ErrConfiguration, name)
		}
		return nil
	}

	switch name {
	case NameRendered:
		if err := needRenderer(); err != nil {
			return nil, err
		}
		return NewRenderedPDF(deps.Renderer), nil
	case NameStatic:
		if err := needFetcher(); err != nil {
			return nil, err
		}
		return NewStaticPDF(deps.Fetcher, deps.Clock), nil
	case NameReflow:
		if err := needFetcher(); err != nil {
			return nil, err
		}
		return NewReflowPDF(deps.Fetcher, deps.Clock), nil
	case NameRenderedRecord:
		if err := needRenderer(); err != nil {
			return nil, err
		}
		return NewRenderedRecord(deps.Renderer, deps.Clock), nil
	case NameStaticRecord:
		if err := needFetcher(); err != nil {
			return nil, err
		}
		return NewStaticRecord(deps.Fetcher, deps.Clock), nil
	default:
		return nil, fmt.Errorf("%w: unknown capture strategy %q", crawler.ErrConfiguration, name)
	}
}
