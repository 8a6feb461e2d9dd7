package aggregate

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-capture/internal/crawler"
)

var disableConfigDir sync.Once

// MergeResult is the outcome of merging captured PDFs.
type MergeResult struct {
	PDF     []byte
	Pages   int
	Merged  int
	Skipped int
}

// Merger validates and concatenates PDF documents with pdfcpu.
type Merger struct {
	logger *zap.Logger
}

// NewMerger returns a Merger. pdfcpu is kept from reading or writing a user
// config directory.
func NewMerger(logger *zap.Logger) *Merger {
	disableConfigDir.Do(api.DisableConfigDir)
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Merger{logger: logger}
}

// pdfcpu mutates the configuration per command, so every call gets its own.
func newConf() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// MergeInput is one captured document and the outline title it gets.
type MergeInput struct {
	Title string
	PDF   []byte
}

// Merge concatenates docs in order and adds one outline entry per merged
// document at its first page. Documents that fail validation are skipped;
// if none survive the error wraps crawler.ErrInvalidArtifact.
func (m *Merger) Merge(docs []MergeInput) (MergeResult, error) {
	var (
		res       MergeResult
		valid     []io.ReadSeeker
		bookmarks []pdfcpu.Bookmark
	)
	page := 1
	for i, doc := range docs {
		pages, err := m.pageCount(doc.PDF)
		if err != nil {
			res.Skipped++
			m.logger.Warn("skipping invalid pdf", zap.Int("index", i), zap.Int("bytes", len(doc.PDF)), zap.Error(err))
			continue
		}
		title := doc.Title
		if title == "" {
			title = fmt.Sprintf("Page %d", len(valid)+1)
		}
		bookmarks = append(bookmarks, pdfcpu.Bookmark{Title: title, PageFrom: page})
		valid = append(valid, bytes.NewReader(doc.PDF))
		page += pages
	}
	if len(valid) == 0 {
		return res, fmt.Errorf("%w: no valid pdf among %d inputs", crawler.ErrInvalidArtifact, len(docs))
	}

	var merged bytes.Buffer
	if err := api.MergeRaw(valid, &merged, false, newConf()); err != nil {
		return res, fmt.Errorf("merge %d pdfs: %w", len(valid), err)
	}
	var out bytes.Buffer
	if err := api.AddBookmarks(bytes.NewReader(merged.Bytes()), &out, bookmarks, true, newConf()); err != nil {
		return res, fmt.Errorf("add outline: %w", err)
	}
	pages, err := api.PageCount(bytes.NewReader(out.Bytes()), newConf())
	if err != nil {
		return res, fmt.Errorf("count merged pages: %w", err)
	}
	res.PDF = out.Bytes()
	res.Pages = pages
	res.Merged = len(valid)
	return res, nil
}

func (m *Merger) pageCount(doc []byte) (int, error) {
	if err := api.Validate(bytes.NewReader(doc), newConf()); err != nil {
		return 0, err
	}
	pages, err := api.PageCount(bytes.NewReader(doc), newConf())
	if err != nil {
		return 0, err
	}
	if pages == 0 {
		return 0, errors.New("document has no pages")
	}
	return pages, nil
}
