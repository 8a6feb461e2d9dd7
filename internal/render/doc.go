// Package render drives a headless browser to load a page completely:
// it waits for document-ready, dismisses overlays, forces lazy content to
// load, then extracts the DOM state or prints the page to PDF.
//
// Browser process management lives behind the Launcher and Session
// interfaces; the chromedp implementation launches a fresh browser per call
// and reaps it on Close.
package render
