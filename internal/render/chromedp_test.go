package render

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestChromedpRendererEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("browser test skipped in short mode")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<!doctype html><html><head><title>Fixture</title></head><body>
			<div class="modal">subscribe!</div>
			<h1>Heading</h1><p>Body text</p><a href="/next">next</a>
			<img src="/logo.png" alt="logo">
			<script>document.body.insertAdjacentHTML("beforeend", "<p id='late'>late content</p>");</script>
		</body></html>`)
	}))
	defer srv.Close()

	launcher := NewChromedpLauncher(ChromedpConfig{Headless: true, NoSandbox: true}, zap.NewNop())
	r := New(launcher, Config{PageLoadTimeout: 20 * time.Second, ScrollSteps: 2, SettleDelay: 50 * time.Millisecond}, zap.NewNop())

	pdf, page, err := r.RenderPDF(context.Background(), srv.URL)
	if err != nil {
		t.Skipf("chromedp unavailable: %v", err)
	}
	require.Equal(t, "Fixture", page.Title)
	require.Contains(t, page.TextContent, "late content")
	require.NotContains(t, page.TextContent, "subscribe!")
	require.NotEmpty(t, page.Headers)
	require.Equal(t, srv.URL+"/next", page.Links[0].Href)
	require.True(t, bytes.HasPrefix(pdf, []byte("%PDF")))
	require.Greater(t, len(pdf), 1000)
}
