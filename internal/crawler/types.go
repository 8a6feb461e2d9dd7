package crawler

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// CrawlTarget describes the immutable scope of one discovery run.
type CrawlTarget struct {
	StartURL *url.URL
	// Domain is the lowercased host (port included) every in-scope URL must match.
	Domain   string
	MaxDepth int
}

// NewCrawlTarget validates raw and derives the crawl domain from its host.
func NewCrawlTarget(raw string, maxDepth int) (CrawlTarget, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return CrawlTarget{}, fmt.Errorf("%w: start url is required", ErrConfiguration)
	}
	if maxDepth < 0 {
		return CrawlTarget{}, fmt.Errorf("%w: max depth must be >= 0, got %d", ErrConfiguration, maxDepth)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return CrawlTarget{}, fmt.Errorf("%w: parse start url %q: %v", ErrConfiguration, raw, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return CrawlTarget{}, fmt.Errorf("%w: start url %q must be an absolute http(s) url", ErrConfiguration, raw)
	}
	if u.Hostname() == "" {
		return CrawlTarget{}, fmt.Errorf("%w: start url %q has no host", ErrConfiguration, raw)
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	return CrawlTarget{
		StartURL: u,
		Domain:   u.Host,
		MaxDepth: maxDepth,
	}, nil
}

// InScope reports whether u lives on exactly the target's host.
func (t CrawlTarget) InScope(u *url.URL) bool {
	if u == nil {
		return false
	}
	return strings.EqualFold(u.Host, t.Domain)
}

// Site returns a short label for the target host, used to name merged output.
func (t CrawlTarget) Site() string {
	return SiteLabel(t.Domain)
}

// Page is the raw result of a plain HTTP fetch.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// ContentType returns the response content type, if any.
func (p Page) ContentType() string {
	if p.Header == nil {
		return ""
	}
	return p.Header.Get("Content-Type")
}

// Heading is one h1-h6 element of a page.
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// Link is an anchor with its resolved href.
type Link struct {
	Text string `json:"text"`
	Href string `json:"href"`
}

// Image is an img element.
type Image struct {
	Alt string `json:"alt"`
	Src string `json:"src"`
}

// RenderedPage is the DOM state of a fully loaded page.
type RenderedPage struct {
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	HTML        string    `json:"html"`
	TextContent string    `json:"text_content"`
	Headers     []Heading `json:"headers"`
	Links       []Link    `json:"links"`
	Images      []Image   `json:"images"`
}

// PageMetadata groups the structural elements extracted from a page.
type PageMetadata struct {
	Headers []Heading `json:"headers"`
	Links   []Link    `json:"links"`
	Images  []Image   `json:"images"`
}

// PageRecord is the JSON capture of one page.
type PageRecord struct {
	URL         string       `json:"url"`
	Timestamp   time.Time    `json:"timestamp"`
	Title       string       `json:"title"`
	HTML        string       `json:"html"`
	TextContent string       `json:"text_content"`
	Metadata    PageMetadata `json:"metadata"`
}

// NewPageRecord converts a rendered page into a record stamped at ts.
func NewPageRecord(page RenderedPage, ts time.Time) PageRecord {
	return PageRecord{
		URL:         page.URL,
		Timestamp:   ts,
		Title:       page.Title,
		HTML:        page.HTML,
		TextContent: page.TextContent,
		Metadata: PageMetadata{
			Headers: nonNil(page.Headers),
			Links:   nonNil(page.Links),
			Images:  nonNil(page.Images),
		},
	}
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

// CaptureMode selects the kind of artifact a run produces.
type CaptureMode string

// Supported capture modes.
const (
	ModePDF  CaptureMode = "pdf"
	ModeJSON CaptureMode = "json"
)

// ParseCaptureMode validates a mode name.
func ParseCaptureMode(raw string) (CaptureMode, error) {
	switch CaptureMode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModePDF:
		return ModePDF, nil
	case ModeJSON:
		return ModeJSON, nil
	default:
		return "", fmt.Errorf("%w: unknown capture mode %q", ErrConfiguration, raw)
	}
}

// Artifact is the durable output of one successful capture.
type Artifact struct {
	Kind     CaptureMode
	PDF      []byte
	Record   *PageRecord
	Checksum string
}

// Size returns the artifact payload length used for sanity thresholds.
func (a *Artifact) Size() int {
	if a == nil {
		return 0
	}
	switch a.Kind {
	case ModePDF:
		return len(a.PDF)
	case ModeJSON:
		if a.Record == nil {
			return 0
		}
		return len(a.Record.HTML) + len(a.Record.TextContent)
	default:
		return 0
	}
}

// CaptureResult records the outcome of capturing one URL.
type CaptureResult struct {
	URL        string
	Success    bool
	Artifact   *Artifact
	Strategy   string
	Attempts   int
	Err        error
	CapturedAt time.Time
}

// FailedURL is a URL whose capture exhausted every strategy.
type FailedURL struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

// RunSummary is the audit record written at the end of every run.
type RunSummary struct {
	RunID         string      `json:"run_id"`
	StartURL      string      `json:"start_url"`
	Mode          CaptureMode `json:"mode"`
	TotalURLs     int         `json:"total_urls"`
	Successful    int         `json:"successful"`
	Failed        int         `json:"failed"`
	FailedURLs    []string    `json:"failed_urls"`
	Failures      []FailedURL `json:"failures,omitempty"`
	Timestamp     time.Time   `json:"timestamp"`
	StartedAt     time.Time   `json:"started_at"`
	FinishedAt    time.Time   `json:"finished_at"`
	Canceled      bool        `json:"canceled"`
	Discovered    int         `json:"discovered"`
	ArtifactPath  string      `json:"artifact_path,omitempty"`
	SummaryPath   string      `json:"summary_path,omitempty"`
	MergedPages   int         `json:"merged_pages,omitempty"`
	ArtifactError string      `json:"artifact_error,omitempty"`
}

// RunStatus is the lifecycle state of a run started through the API.
type RunStatus string

// Supported run statuses.
const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
)

// Terminal reports whether no further transitions are possible.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusCanceled:
		return true
	default:
		return false
	}
}

// RunRequest is the input of one capture run.
type RunRequest struct {
	StartURL  string      `json:"start_url"`
	MaxDepth  int         `json:"max_depth"`
	Mode      CaptureMode `json:"mode"`
	OutputDir string      `json:"output_dir,omitempty"`
}

// RunState tracks an asynchronous run and, once finished, its summary.
type RunState struct {
	ID         string      `json:"run_id"`
	Request    RunRequest  `json:"request"`
	Status     RunStatus   `json:"status"`
	Error      string      `json:"error,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	StartedAt  *time.Time  `json:"started_at,omitempty"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	Summary    *RunSummary `json:"summary,omitempty"`
}

// AggregateArtifact describes the combined output of a run.
type AggregateArtifact struct {
	// Path is the URI of the merged PDF or the JSON content summary.
	Path    string `json:"path,omitempty"`
	Pages   int    `json:"pages,omitempty"`
	Records int    `json:"records,omitempty"`
}
