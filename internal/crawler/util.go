package crawler

import (
	"net"
	"regexp"
	"strings"
)

var invalidFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Slug derives a file-safe name for pageURL relative to startURL:
// the start prefix is removed, separators become underscores and an empty
// remainder maps to "index".
func Slug(startURL, pageURL string) string {
	rest := strings.TrimPrefix(pageURL, strings.TrimRight(startURL, "/"))
	rest = strings.ReplaceAll(rest, "/", "_")
	rest = invalidFilenameChars.ReplaceAllString(rest, "_")
	rest = strings.Trim(rest, "_")
	if rest == "" {
		return "index"
	}
	return rest
}

// SiteLabel returns the first DNS label of host, skipping a leading "www".
func SiteLabel(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	label, _, _ := strings.Cut(host, ".")
	label = invalidFilenameChars.ReplaceAllString(label, "_")
	if label == "" {
		return "site"
	}
	return label
}
