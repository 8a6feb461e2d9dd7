// Package crawler holds the core crawl model shared by every stage of a
// capture run: crawl targets, fetched and rendered pages, capture results and
// run summaries. It also implements the same-domain URL discovery engine and
// the HTTP fetcher it runs on.
package crawler
