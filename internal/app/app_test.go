package app_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-capture/internal/aggregate"
	"github.com/JakeFAU/site-capture/internal/app"
	"github.com/JakeFAU/site-capture/internal/config"
	"github.com/JakeFAU/site-capture/internal/crawler"
	"github.com/JakeFAU/site-capture/internal/render"
)

type stubLauncher struct{}

func (stubLauncher) Launch(context.Context) (render.Session, error) {
	return nil, errors.New("no browser in tests")
}

func baseConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Render.Enabled = false
	cfg.Discovery.Delay = 0
	cfg.Orchestrator.InterURLDelay = 0
	cfg.RateLimit.RPS = 0
	cfg.Output.Dir = t.TempDir()
	return cfg
}

func newApp(t *testing.T, cfg config.Config, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{
		app.WithLogger(zap.NewNop()),
		app.WithRegisterer(prometheus.NewRegistry()),
	}, opts...)
	a, err := app.New(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

func TestNew_BuildsRunnersPerMode(t *testing.T) {
	t.Parallel()

	a := newApp(t, baseConfig(t))
	require.NotNil(t, a.Discoverer())
	require.NotNil(t, a.IDGenerator())

	pdf, err := a.Runner(crawler.ModePDF)
	require.NoError(t, err)
	require.Equal(t, crawler.ModePDF, pdf.Mode())

	again, err := a.Runner(crawler.ModePDF)
	require.NoError(t, err)
	require.Same(t, pdf, again)

	jsonRunner, err := a.Runner(crawler.ModeJSON)
	require.NoError(t, err)
	require.Equal(t, crawler.ModeJSON, jsonRunner.Mode())
}

func TestNew_BrowserStrategiesWithRenderer(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(t)
	cfg.Render.Enabled = true
	cfg.Render.ReapProcessNames = []string{"chrome-test-process"}
	a := newApp(t, cfg, app.WithLauncher(stubLauncher{}))

	r, err := a.Runner(crawler.ModeJSON)
	require.NoError(t, err)
	require.Equal(t, crawler.ModeJSON, r.Mode())
}

func TestRunner_BrowserStrategyWithoutRenderer(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(t)
	cfg.Capture.Strategies = []string{"rendered"}
	a := newApp(t, cfg)

	_, err := a.Runner(crawler.ModePDF)
	require.ErrorIs(t, err, crawler.ErrConfiguration)
}

func TestNew_RejectsBadRunStoreTable(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(t)
	cfg.Database.DSN = "postgres://capture@localhost:5432/capture"
	cfg.Database.Table = "runs; drop table runs"

	_, err := app.New(context.Background(), cfg,
		app.WithLogger(zap.NewNop()),
		app.WithRegisterer(prometheus.NewRegistry()),
	)
	require.Error(t, err)
	require.Contains(t, err.Error(), "init run store")
}

func TestRunner_CapturesSiteAsJSON(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	page := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(body))
		}
	}
	mux.HandleFunc("/", page(`<html><head><title>Home</title></head><body>
		<a href="/a">A</a> <a href="/b">B</a></body></html>`))
	mux.HandleFunc("/a", page(`<html><head><title>A</title></head><body><h1>Alpha</h1><p>first page</p></body></html>`))
	mux.HandleFunc("/b", page(`<html><head><title>B</title></head><body><h1>Beta</h1><p>second page</p></body></html>`))
	site := httptest.NewServer(mux)
	t.Cleanup(site.Close)

	cfg := baseConfig(t)
	cfg.Capture.Mode = "json"
	a := newApp(t, cfg)

	runner, err := a.Runner(crawler.ModeJSON)
	require.NoError(t, err)

	outDir := filepath.Join(cfg.Output.Dir, "run")
	summary, err := runner.Run(context.Background(), "run-1", site.URL+"/", outDir, 1)
	require.NoError(t, err)
	require.Equal(t, 2, summary.TotalURLs)
	require.Equal(t, 2, summary.Successful)
	require.False(t, summary.Canceled)

	for _, name := range []string{aggregate.RunSummaryFile, aggregate.ContentSummaryFile} {
		_, statErr := os.Stat(filepath.Join(outDir, name))
		require.NoError(t, statErr, name)
	}
	records, err := os.ReadDir(filepath.Join(outDir, aggregate.RawContentDir))
	require.NoError(t, err)
	require.Len(t, records, 2)
}
