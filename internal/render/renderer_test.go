package render

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-capture/internal/crawler"
)

// fakeSession scripts browser behavior for renderer tests.
type fakeSession struct {
	mu          sync.Mutex
	navigateErr error
	navigateDur time.Duration
	popupErr    error
	heights     []int
	extracted   crawler.RenderedPage
	extractErr  error
	pdf         []byte
	pdfOpts     PDFOptions
	scrolls     int
	closed      int
}

func (s *fakeSession) Navigate(ctx context.Context, _ string) error {
	if s.navigateDur > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.navigateDur):
		}
	}
	return s.navigateErr
}

func (s *fakeSession) Evaluate(_ context.Context, script string, out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch script {
	case dismissPopupsJS:
		if s.popupErr != nil {
			return s.popupErr
		}
		return decode(1, out)
	case expandJS:
		return decode(0, out)
	case scrollJS:
		h := 0
		if s.scrolls < len(s.heights) {
			h = s.heights[s.scrolls]
		} else if len(s.heights) > 0 {
			h = s.heights[len(s.heights)-1]
		}
		s.scrolls++
		return decode(h, out)
	case extractJS:
		if s.extractErr != nil {
			return s.extractErr
		}
		return decode(s.extracted, out)
	}
	return errors.New("unexpected script")
}

func decode(v any, out any) error {
	if out == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (s *fakeSession) PrintPDF(_ context.Context, opts PDFOptions) ([]byte, error) {
	s.pdfOpts = opts
	return s.pdf, nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

type fakeLauncher struct {
	session  *fakeSession
	err      error
	launches int
}

func (l *fakeLauncher) Launch(context.Context) (Session, error) {
	l.launches++
	if l.err != nil {
		return nil, l.err
	}
	return l.session, nil
}

type nopPauser struct{}

func (nopPauser) Pause(context.Context, time.Duration) {}

type countingSweeper struct{ calls int }

func (c *countingSweeper) Sweep(context.Context) error {
	c.calls++
	return nil
}

func newTestRenderer(l Launcher, cfg Config, opts ...Option) *Renderer {
	opts = append([]Option{WithPauser(nopPauser{})}, opts...)
	return New(l, cfg, zap.NewNop(), opts...)
}

func TestRenderExtractsPageAndClosesSession(t *testing.T) {
	t.Parallel()

	session := &fakeSession{
		heights: []int{100, 200, 200, 300},
		extracted: crawler.RenderedPage{
			URL:         "https://example.com/redirected",
			Title:       "Example",
			HTML:        "<html><body><h1>Hi</h1></body></html>",
			TextContent: "Hi",
			Headers:     []crawler.Heading{{Level: 1, Text: "Hi"}},
			Links:       []crawler.Link{{Text: "a", Href: "https://example.com/a"}},
			Images:      []crawler.Image{{Alt: "logo", Src: "https://example.com/logo.png"}},
		},
	}
	launcher := &fakeLauncher{session: session}
	sweeper := &countingSweeper{}
	r := newTestRenderer(launcher, Config{ScrollSteps: 10}, WithSweeper(sweeper))

	page, err := r.Render(context.Background(), "https://example.com")
	require.NoError(t, err)
	require.Equal(t, "https://example.com", page.URL)
	require.Equal(t, "Example", page.Title)
	require.Equal(t, []crawler.Heading{{Level: 1, Text: "Hi"}}, page.Headers)
	require.Len(t, page.Links, 1)
	require.Len(t, page.Images, 1)
	require.Equal(t, 3, session.scrolls, "scrolling stops once the height stops growing")
	require.Equal(t, 1, session.closed)
	require.Equal(t, 1, sweeper.calls)
}

func TestRenderScrollIsBounded(t *testing.T) {
	t.Parallel()

	session := &fakeSession{heights: []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}}
	r := newTestRenderer(&fakeLauncher{session: session}, Config{ScrollSteps: 4})

	_, err := r.Render(context.Background(), "https://example.com")
	require.NoError(t, err)
	require.Equal(t, 4, session.scrolls)
}

func TestRenderNavigationTimeout(t *testing.T) {
	t.Parallel()

	session := &fakeSession{navigateDur: time.Second}
	r := newTestRenderer(&fakeLauncher{session: session}, Config{PageLoadTimeout: 20 * time.Millisecond})

	_, err := r.Render(context.Background(), "https://example.com")
	require.ErrorIs(t, err, crawler.ErrRenderTimeout)
	require.Equal(t, 1, session.closed)
}

func TestRenderNavigationError(t *testing.T) {
	t.Parallel()

	session := &fakeSession{navigateErr: errors.New("net::ERR_NAME_NOT_RESOLVED")}
	r := newTestRenderer(&fakeLauncher{session: session}, Config{})

	_, err := r.Render(context.Background(), "https://example.com")
	require.ErrorIs(t, err, crawler.ErrRender)
	require.NotErrorIs(t, err, crawler.ErrRenderTimeout)
	require.Equal(t, 1, session.closed)
}

func TestRenderCallerCancellationIsNotATimeout(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	session := &fakeSession{navigateDur: time.Second}
	r := newTestRenderer(&fakeLauncher{session: session}, Config{})
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := r.Render(ctx, "https://example.com")
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, crawler.ErrRenderTimeout)
}

func TestRenderPopupFailuresAreSwallowed(t *testing.T) {
	t.Parallel()

	session := &fakeSession{popupErr: errors.New("script blocked"), extracted: crawler.RenderedPage{Title: "ok"}}
	r := newTestRenderer(&fakeLauncher{session: session}, Config{})

	page, err := r.Render(context.Background(), "https://example.com")
	require.NoError(t, err)
	require.Equal(t, "ok", page.Title)
}

func TestRenderExtractFailure(t *testing.T) {
	t.Parallel()

	session := &fakeSession{extractErr: errors.New("target closed")}
	r := newTestRenderer(&fakeLauncher{session: session}, Config{})

	_, err := r.Render(context.Background(), "https://example.com")
	require.ErrorIs(t, err, crawler.ErrRender)
	require.Equal(t, 1, session.closed)
}

func TestRenderLaunchFailure(t *testing.T) {
	t.Parallel()

	r := newTestRenderer(&fakeLauncher{err: errors.New("chrome not found")}, Config{})
	_, err := r.Render(context.Background(), "https://example.com")
	require.ErrorIs(t, err, crawler.ErrRender)
}

func TestRenderPDFUsesConfiguredOptions(t *testing.T) {
	t.Parallel()

	session := &fakeSession{pdf: []byte("%PDF-1.7 fake")}
	r := newTestRenderer(&fakeLauncher{session: session}, Config{})

	pdf, page, err := r.RenderPDF(context.Background(), "https://example.com")
	require.NoError(t, err)
	require.NotNil(t, page)
	require.Equal(t, []byte("%PDF-1.7 fake"), pdf)
	require.Equal(t, DefaultPDFOptions(), session.pdfOpts)
	require.Equal(t, 1, session.closed)
}

func TestProcessSweeper(t *testing.T) {
	t.Parallel()

	require.Nil(t, NewProcessSweeper(nil, nil))
	var nilSweeper *ProcessSweeper
	require.NoError(t, nilSweeper.Sweep(context.Background()))

	var swept []string
	s := NewProcessSweeper([]string{"chrome", "chromedriver"}, zap.NewNop())
	s.run = func(_ context.Context, name string) error {
		swept = append(swept, name)
		if name == "chromedriver" {
			return errors.New("permission denied")
		}
		return nil
	}
	err := s.Sweep(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "chromedriver")
	require.Equal(t, []string{"chrome", "chromedriver"}, swept)
}
