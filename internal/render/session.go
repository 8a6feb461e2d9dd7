package render

import "context"

// PDFOptions configures print-to-PDF. Dimensions are in inches.
type PDFOptions struct {
	PaperWidth        float64 `mapstructure:"paper_width"`
	PaperHeight       float64 `mapstructure:"paper_height"`
	Margin            float64 `mapstructure:"margin"`
	Scale             float64 `mapstructure:"scale"`
	PrintBackground   bool    `mapstructure:"print_background"`
	PreferCSSPageSize bool    `mapstructure:"prefer_css_page_size"`
	Landscape         bool    `mapstructure:"landscape"`
}

// DefaultPDFOptions prints A4 portrait with narrow margins at 90% scale.
func DefaultPDFOptions() PDFOptions {
	return PDFOptions{
		PaperWidth:        8.27,
		PaperHeight:       11.7,
		Margin:            0.4,
		Scale:             0.9,
		PrintBackground:   true,
		PreferCSSPageSize: true,
	}
}

// Session is one exclusively owned browser instance.
type Session interface {
	// Navigate loads rawURL and blocks until the document is ready.
	Navigate(ctx context.Context, rawURL string) error
	// Evaluate runs script and decodes its JSON result into out (may be nil).
	Evaluate(ctx context.Context, script string, out any) error
	PrintPDF(ctx context.Context, opts PDFOptions) ([]byte, error)
	// Close tears the browser down and reaps its process. It is idempotent.
	Close() error
}

// Launcher starts browser sessions.
type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}
