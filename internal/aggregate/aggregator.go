// Package aggregate turns capture results into the files a run leaves
// behind: a merged PDF or per-page JSON records, plus run_summary.json.
package aggregate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-capture/internal/clock/system"
	"github.com/JakeFAU/site-capture/internal/crawler"
)

// Output file names.
const (
	RunSummaryFile     = "run_summary.json"
	ContentSummaryFile = "content_summary.json"
	RawContentDir      = "raw_content"
	mergedStampLayout  = "20060102_150405"
)

// RunInput is everything the aggregator needs from a finished capture run.
type RunInput struct {
	RunID      string
	StartURL   string
	Site       string
	Mode       crawler.CaptureMode
	Discovered int
	// Results are successful captures in completion order.
	Results   []crawler.CaptureResult
	Failed    []crawler.FailedURL
	Canceled  bool
	StartedAt time.Time
}

// ContentSummary is the JSON-mode manifest.
type ContentSummary struct {
	TotalURLs  int                  `json:"total_urls"`
	Successful int                  `json:"successful"`
	Failed     int                  `json:"failed"`
	FailedURLs []string             `json:"failed_urls"`
	Timestamp  time.Time            `json:"timestamp"`
	Content    []crawler.PageRecord `json:"content"`
}

// Aggregator writes run output through a BlobStore.
type Aggregator struct {
	store  crawler.BlobStore
	merger *Merger
	clock  crawler.Clock
	logger *zap.Logger
}

// Option customizes an Aggregator.
type Option func(*Aggregator)

// WithClock replaces the clock used for timestamps and file names.
func WithClock(c crawler.Clock) Option {
	return func(a *Aggregator) {
		if c != nil {
			a.clock = c
		}
	}
}

// New builds an Aggregator writing to store.
func New(store crawler.BlobStore, logger *zap.Logger, opts ...Option) (*Aggregator, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: blob store is required", crawler.ErrConfiguration)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Aggregator{
		store:  store,
		merger: NewMerger(logger),
		clock:  system.New(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Write produces the mode's artifact and always attempts run_summary.json.
// Artifact failures are recorded in the summary; the returned error is set
// only when the summary itself could not be written.
func (a *Aggregator) Write(ctx context.Context, in RunInput) (crawler.AggregateArtifact, crawler.RunSummary, error) {
	now := a.clock.Now()
	summary := newSummary(in, now)

	var (
		artifact crawler.AggregateArtifact
		err      error
	)
	switch in.Mode {
	case crawler.ModePDF:
		artifact, err = a.writePDF(ctx, in, now)
	case crawler.ModeJSON:
		artifact, err = a.writeJSON(ctx, in, summary)
	default:
		err = fmt.Errorf("%w: unknown capture mode %q", crawler.ErrConfiguration, in.Mode)
	}
	if err != nil {
		summary.ArtifactError = err.Error()
		a.logger.Warn("aggregate artifact not written", zap.String("run_id", in.RunID), zap.Error(err))
	}
	summary.ArtifactPath = artifact.Path
	summary.MergedPages = artifact.Pages

	uri, err := a.putJSON(ctx, RunSummaryFile, summary)
	if err != nil {
		return artifact, summary, fmt.Errorf("write run summary: %w", err)
	}
	summary.SummaryPath = uri
	a.logger.Info("run output written",
		zap.String("run_id", in.RunID),
		zap.String("summary", uri),
		zap.String("artifact", artifact.Path),
		zap.Int("successful", summary.Successful),
		zap.Int("failed", summary.Failed),
	)
	return artifact, summary, nil
}

func newSummary(in RunInput, now time.Time) crawler.RunSummary {
	failedURLs := make([]string, 0, len(in.Failed))
	for _, f := range in.Failed {
		failedURLs = append(failedURLs, f.URL)
	}
	return crawler.RunSummary{
		RunID:      in.RunID,
		StartURL:   in.StartURL,
		Mode:       in.Mode,
		TotalURLs:  len(in.Results) + len(in.Failed),
		Successful: len(in.Results),
		Failed:     len(in.Failed),
		FailedURLs: failedURLs,
		Failures:   in.Failed,
		Timestamp:  now,
		StartedAt:  in.StartedAt,
		FinishedAt: now,
		Canceled:   in.Canceled,
		Discovered: in.Discovered,
	}
}

func (a *Aggregator) writePDF(ctx context.Context, in RunInput, now time.Time) (crawler.AggregateArtifact, error) {
	pdfs := make([]MergeInput, 0, len(in.Results))
	for _, res := range in.Results {
		if res.Artifact != nil && len(res.Artifact.PDF) > 0 {
			pdfs = append(pdfs, MergeInput{Title: res.URL, PDF: res.Artifact.PDF})
		}
	}
	if len(pdfs) == 0 {
		return crawler.AggregateArtifact{}, errors.New("no pdfs were captured")
	}
	merged, err := a.merger.Merge(pdfs)
	if err != nil {
		return crawler.AggregateArtifact{}, err
	}
	if merged.Skipped > 0 {
		a.logger.Warn("some pdfs were left out of the merge",
			zap.String("run_id", in.RunID),
			zap.Int("skipped", merged.Skipped),
			zap.Int("merged", merged.Merged),
		)
	}
	name := fmt.Sprintf("%s_merged_%s.pdf", in.Site, now.Format(mergedStampLayout))
	uri, err := a.store.PutObject(ctx, name, "application/pdf", bytes.NewReader(merged.PDF))
	if err != nil {
		return crawler.AggregateArtifact{}, fmt.Errorf("write %s: %w", name, err)
	}
	return crawler.AggregateArtifact{Path: uri, Pages: merged.Pages, Records: merged.Merged}, nil
}

func (a *Aggregator) writeJSON(ctx context.Context, in RunInput, summary crawler.RunSummary) (crawler.AggregateArtifact, error) {
	content := make([]crawler.PageRecord, 0, len(in.Results))
	used := make(map[string]int, len(in.Results))
	var firstErr error
	for _, res := range in.Results {
		if res.Artifact == nil || res.Artifact.Record == nil {
			continue
		}
		record := *res.Artifact.Record
		content = append(content, record)

		name := uniqueSlug(used, crawler.Slug(in.StartURL, res.URL))
		if _, err := a.putJSON(ctx, path.Join(RawContentDir, name+".json"), record); err != nil {
			a.logger.Warn("record not written", zap.String("url", res.URL), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	manifest := ContentSummary{
		TotalURLs:  summary.TotalURLs,
		Successful: summary.Successful,
		Failed:     summary.Failed,
		FailedURLs: summary.FailedURLs,
		Timestamp:  summary.Timestamp,
		Content:    content,
	}
	uri, err := a.putJSON(ctx, ContentSummaryFile, manifest)
	if err != nil {
		return crawler.AggregateArtifact{}, err
	}
	return crawler.AggregateArtifact{Path: uri, Records: len(content)}, firstErr
}

// uniqueSlug suffixes repeats so distinct URLs never overwrite each other.
func uniqueSlug(used map[string]int, slug string) string {
	used[slug]++
	if n := used[slug]; n > 1 {
		return slug + "-" + strconv.Itoa(n)
	}
	return slug
}

func (a *Aggregator) putJSON(ctx context.Context, name string, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", name, err)
	}
	uri, err := a.store.PutObject(ctx, name, "application/json", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return uri, nil
}
