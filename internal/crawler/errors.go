package crawler

import (
	"errors"
	"fmt"
	"net/http"
)

// Error taxonomy shared by discovery, rendering, capture and aggregation.
var (
	// ErrTransientNetwork marks timeouts, resets and retryable HTTP statuses.
	ErrTransientNetwork = errors.New("transient network error")
	// ErrRenderTimeout means the browser did not reach document-ready in time.
	ErrRenderTimeout = errors.New("render timeout")
	// ErrRender covers navigation and script failures inside the browser.
	ErrRender = errors.New("render error")
	// ErrInvalidArtifact marks output below the size threshold or unparsable.
	ErrInvalidArtifact = errors.New("invalid artifact")
	// ErrResourceLeak is reported when a browser process survives teardown.
	ErrResourceLeak = errors.New("browser resource leak")
	// ErrConfiguration is fatal and surfaces before any crawling begins.
	ErrConfiguration = errors.New("configuration error")
	// ErrPrecheck is returned when the reachability check rejects a URL.
	ErrPrecheck = errors.New("reachability precheck failed")
)

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Unwrap classifies retryable statuses as transient network errors.
func (e *StatusError) Unwrap() error {
	if IsTransientStatus(e.StatusCode) {
		return ErrTransientNetwork
	}
	return nil
}

// IsTransientStatus reports whether an HTTP status is worth retrying.
// A zero status means no response was received at all.
func IsTransientStatus(code int) bool {
	switch code {
	case 0,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
