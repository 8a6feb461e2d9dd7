package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL standardizes a URL to avoid duplicates.
// It lowercases the scheme and host, removes default ports and the fragment,
// and strips trailing slashes from the path.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	return normalizeParsed(u), nil
}

func normalizeParsed(in *url.URL) string {
	u := *in
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawFragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = strings.TrimRight(u.RawPath, "/")

	return strings.TrimRight(u.String(), "/")
}

var skippedSchemes = []string{"mailto:", "javascript:", "tel:", "data:"}

// ResolveLink resolves href against base and reports whether the result is a
// crawlable http(s) URL.
func ResolveLink(base *url.URL, href string) (*url.URL, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return nil, false
	}
	lower := strings.ToLower(href)
	for _, prefix := range skippedSchemes {
		if strings.HasPrefix(lower, prefix) {
			return nil, false
		}
	}
	ref, err := url.Parse(href)
	if err != nil {
		return nil, false
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return nil, false
	}
	resolved.Fragment = ""
	return resolved, true
}

// IsExcluded reports whether rawURL contains any exclusion marker.
func IsExcluded(rawURL string, markers []string) bool {
	for _, marker := range markers {
		if marker != "" && strings.Contains(rawURL, marker) {
			return true
		}
	}
	return false
}

// FilterExcluded returns urls without the entries matching any marker,
// preserving order.
func FilterExcluded(urls []string, markers []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if IsExcluded(u, markers) {
			continue
		}
		out = append(out, u)
	}
	return out
}
