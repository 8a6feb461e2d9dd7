package capture

import (
	"bytes"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/site-capture/internal/crawler"
)

const blockElements = "p, div, section, article, header, footer, main, aside, nav, " +
	"li, dt, dd, tr, table, ul, ol, pre, blockquote, h1, h2, h3, h4, h5, h6"

func isHTML(page crawler.Page) bool {
	ct := strings.ToLower(page.ContentType())
	if ct == "" {
		ct = strings.ToLower(http.DetectContentType(page.Body))
	}
	return strings.Contains(ct, "html")
}

func isPDF(page crawler.Page) bool {
	return strings.Contains(strings.ToLower(page.ContentType()), "application/pdf") ||
		bytes.HasPrefix(page.Body, []byte("%PDF-"))
}

func parseHTML(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %w", crawler.ErrInvalidArtifact, err)
	}
	return doc, nil
}

// baseURL is the URL relative references resolve against.
func baseURL(page crawler.Page, rawURL string) *url.URL {
	for _, candidate := range []string{page.FinalURL, rawURL} {
		if u, err := url.Parse(candidate); err == nil && u.IsAbs() {
			return u
		}
	}
	return &url.URL{}
}

func docTitle(doc *goquery.Document) string {
	return collapseSpace(doc.Find("title").First().Text())
}

func headings(doc *goquery.Document) []crawler.Heading {
	out := []crawler.Heading{}
	doc.Find("h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		text := collapseSpace(s.Text())
		if text == "" {
			return
		}
		name := goquery.NodeName(s)
		out = append(out, crawler.Heading{Level: int(name[1] - '0'), Text: text})
	})
	return out
}

func links(doc *goquery.Document, base *url.URL) []crawler.Link {
	out := []crawler.Link{}
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		ref, err := base.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		out = append(out, crawler.Link{Text: collapseSpace(s.Text()), Href: ref.String()})
	})
	return out
}

func images(doc *goquery.Document, base *url.URL) []crawler.Image {
	out := []crawler.Image{}
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		alt, _ := s.Attr("alt")
		src, _ := s.Attr("src")
		if src != "" {
			if ref, err := base.Parse(strings.TrimSpace(src)); err == nil {
				src = ref.String()
			}
		}
		out = append(out, crawler.Image{Alt: strings.TrimSpace(alt), Src: src})
	})
	return out
}

// visibleText returns the document's readable text, one block per line.
// It mutates doc.
func visibleText(doc *goquery.Document) string {
	doc.Find("script, style, noscript, template").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find(blockElements).AppendHtml("\n")

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	lines := strings.Split(root.Text(), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = collapseSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
