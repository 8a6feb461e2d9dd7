package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-capture/internal/aggregate"
	"github.com/JakeFAU/site-capture/internal/crawler"
	"github.com/JakeFAU/site-capture/internal/progress"
	pubmemory "github.com/JakeFAU/site-capture/internal/publisher/memory"
	"github.com/JakeFAU/site-capture/internal/storage/memory"
)

// MockDiscoverer is a mock implementation of the Discoverer interface.
type MockDiscoverer struct {
	mock.Mock
}

func (m *MockDiscoverer) Discover(ctx context.Context, target crawler.CrawlTarget) ([]string, error) {
	args := m.Called(ctx, target.StartURL.String(), target.MaxDepth)
	urls, _ := args.Get(0).([]string)
	return urls, args.Error(1)
}

// MockRunStore is a mock implementation of the crawler.RunStore interface.
type MockRunStore struct {
	mock.Mock
}

func (m *MockRunStore) StoreRun(ctx context.Context, summary crawler.RunSummary) error {
	return m.Called(ctx, summary.RunID).Error(0)
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, any) (string, error) {
	return "", errors.New("topic not found")
}

// recordCapturer returns JSON records, failing URLs listed in fail.
type recordCapturer struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls []string
}

func (c *recordCapturer) Mode() crawler.CaptureMode { return crawler.ModeJSON }

func (c *recordCapturer) Capture(_ context.Context, rawURL string) crawler.CaptureResult {
	c.mu.Lock()
	c.calls = append(c.calls, rawURL)
	c.mu.Unlock()
	if c.fail[rawURL] {
		return crawler.CaptureResult{URL: rawURL, Attempts: 2, Err: errors.New("render error")}
	}
	rec := crawler.NewPageRecord(crawler.RenderedPage{URL: rawURL, Title: "t", HTML: "<p>x</p>", TextContent: "x"}, time.Now())
	return crawler.CaptureResult{
		URL:      rawURL,
		Success:  true,
		Strategy: "static-record",
		Attempts: 1,
		Artifact: &crawler.Artifact{Kind: crawler.ModeJSON, Record: &rec},
	}
}

func (c *recordCapturer) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *recordingEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *recordingEmitter) Events() []progress.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]progress.Event(nil), e.events...)
}

type fixedID string

func (f fixedID) NewID() (string, error) { return string(f), nil }

type instantPauser struct{}

func (instantPauser) Pause(context.Context, time.Duration) {}

func memoryOutput(store *memory.BlobStore) Option {
	return WithOutput(func(string, string) (crawler.BlobStore, error) { return store, nil })
}

func newTestRunner(t *testing.T, d Discoverer, c Capturer, opts ...Option) *Runner {
	t.Helper()
	opts = append([]Option{WithIDGenerator(fixedID("run-1")), WithPauser(instantPauser{})}, opts...)
	r, err := New(d, c, Config{}, zap.NewNop(), opts...)
	require.NoError(t, err)
	return r
}

func TestCrawlAndCaptureHappyPath(t *testing.T) {
	t.Parallel()

	discoverer := new(MockDiscoverer)
	discoverer.On("Discover", mock.Anything, "https://example.com", 2).Return([]string{
		"https://example.com/a",
		"https://example.com/cdn-cgi/l/email-protection",
		"https://example.com/b",
	}, nil).Once()
	capturer := &recordCapturer{fail: map[string]bool{"https://example.com/b": true}}
	store := memory.NewBlobStore()
	emitter := &recordingEmitter{}
	publisher := pubmemory.New()
	runStore := new(MockRunStore)
	runStore.On("StoreRun", mock.Anything, "run-1").Return(nil).Once()

	r := newTestRunner(t, discoverer, capturer,
		memoryOutput(store),
		WithEmitter(emitter),
		WithPublisher(publisher),
		WithRunStore(runStore),
	)

	summary, err := r.CrawlAndCapture(context.Background(), "https://example.com", "out", 2)
	require.NoError(t, err)

	require.Equal(t, "run-1", summary.RunID)
	require.Equal(t, crawler.ModeJSON, summary.Mode)
	require.Equal(t, 3, summary.Discovered)
	require.Equal(t, 2, summary.TotalURLs)
	require.Equal(t, 1, summary.Successful)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, []string{"https://example.com/b"}, summary.FailedURLs)
	require.False(t, summary.Canceled)
	require.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, capturer.Calls())

	_, ok := store.Get(aggregate.RunSummaryFile)
	require.True(t, ok)
	_, ok = store.Get("raw_content/a.json")
	require.True(t, ok)

	msgs := publisher.Messages()
	require.Len(t, msgs, 1)
	var published crawler.RunSummary
	require.NoError(t, json.Unmarshal(msgs[0].Data, &published))
	require.Equal(t, "run-1", published.RunID)
	runStore.AssertExpectations(t)

	events := emitter.Events()
	require.NotEmpty(t, events)
	require.Equal(t, progress.StageRunStart, events[0].Stage)
	require.Equal(t, 2, events[0].Total)
	last := events[len(events)-1]
	require.Equal(t, progress.StageRunDone, last.Stage)
	require.Equal(t, progress.OutcomeSuccess, last.Outcome)
	for _, evt := range events {
		require.NoError(t, evt.Validate())
		require.Equal(t, "example", evt.Site)
	}
}

func TestCrawlAndCaptureRejectsBadStartURL(t *testing.T) {
	t.Parallel()

	discoverer := new(MockDiscoverer)
	r := newTestRunner(t, discoverer, &recordCapturer{}, memoryOutput(memory.NewBlobStore()))

	_, err := r.CrawlAndCapture(context.Background(), "not a url", "out", 1)
	require.ErrorIs(t, err, crawler.ErrConfiguration)
	discoverer.AssertNotCalled(t, "Discover", mock.Anything, mock.Anything, mock.Anything)
}

func TestCrawlAndCaptureUnwritableOutput(t *testing.T) {
	t.Parallel()

	discoverer := new(MockDiscoverer)
	r := newTestRunner(t, discoverer, &recordCapturer{}, WithOutput(func(string, string) (crawler.BlobStore, error) {
		return nil, errors.New("read-only file system")
	}))

	_, err := r.CrawlAndCapture(context.Background(), "https://example.com", "/ro", 1)
	require.ErrorContains(t, err, "read-only")
	discoverer.AssertNotCalled(t, "Discover", mock.Anything, mock.Anything, mock.Anything)
}

func TestCrawlAndCaptureCanceledStillWritesSummary(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	discoverer := new(MockDiscoverer)
	discoverer.On("Discover", mock.Anything, "https://example.com", 3).
		Return([]string{"https://example.com/a"}, context.Canceled).Once()
	capturer := &recordCapturer{}
	store := memory.NewBlobStore()
	emitter := &recordingEmitter{}

	r := newTestRunner(t, discoverer, capturer, memoryOutput(store), WithEmitter(emitter))
	summary, err := r.CrawlAndCapture(ctx, "https://example.com", "out", 3)
	require.NoError(t, err)
	require.True(t, summary.Canceled)
	require.Zero(t, summary.TotalURLs)
	require.Empty(t, capturer.Calls())

	raw, ok := store.Get(aggregate.RunSummaryFile)
	require.True(t, ok)
	var written crawler.RunSummary
	require.NoError(t, json.Unmarshal(raw, &written))
	require.True(t, written.Canceled)

	events := emitter.Events()
	require.Equal(t, progress.OutcomeCanceled, events[len(events)-1].Outcome)
}

func TestCrawlAndCaptureNotificationFailuresAreBestEffort(t *testing.T) {
	t.Parallel()

	discoverer := new(MockDiscoverer)
	discoverer.On("Discover", mock.Anything, "https://example.com", 1).Return([]string{"https://example.com/a"}, nil)
	runStore := new(MockRunStore)
	runStore.On("StoreRun", mock.Anything, "run-1").Return(errors.New("connection refused")).Once()

	r := newTestRunner(t, discoverer, &recordCapturer{},
		memoryOutput(memory.NewBlobStore()),
		WithRunStore(runStore),
		WithPublisher(failingPublisher{}),
	)
	summary, err := r.CrawlAndCapture(context.Background(), "https://example.com", "out", 1)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Successful)
	runStore.AssertExpectations(t)
}

func TestCrawlAndCaptureMirrorsOutput(t *testing.T) {
	t.Parallel()

	discoverer := new(MockDiscoverer)
	discoverer.On("Discover", mock.Anything, "https://example.com", 1).Return([]string{}, nil)
	primary := memory.NewBlobStore()
	secondary := memory.NewBlobStore()
	var mirroredRun string

	r := newTestRunner(t, discoverer, &recordCapturer{},
		memoryOutput(primary),
		WithMirror(func(runID string) crawler.BlobStore {
			mirroredRun = runID
			return secondary
		}),
	)
	summary, err := r.CrawlAndCapture(context.Background(), "https://example.com", "out", 1)
	require.NoError(t, err)
	require.Equal(t, "memory://"+aggregate.RunSummaryFile, summary.SummaryPath)
	require.Equal(t, "run-1", mirroredRun)
	require.Equal(t, primary.Paths(), secondary.Paths())
}

func TestCrawlAndCaptureLocalOutput(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested", "out")
	discoverer := new(MockDiscoverer)
	discoverer.On("Discover", mock.Anything, "https://example.com", 1).Return([]string{"https://example.com/docs/"}, nil)

	r := newTestRunner(t, discoverer, &recordCapturer{})
	summary, err := r.CrawlAndCapture(context.Background(), "https://example.com", dir, 1)
	require.NoError(t, err)
	require.Equal(t, "file://"+filepath.Join(dir, aggregate.RunSummaryFile), summary.SummaryPath)

	for _, name := range []string{aggregate.RunSummaryFile, aggregate.ContentSummaryFile, "raw_content/docs.json"} {
		_, err := os.Stat(filepath.Join(dir, filepath.FromSlash(name)))
		require.NoError(t, err, name)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(nil, &recordCapturer{}, Config{}, nil)
	require.ErrorIs(t, err, crawler.ErrConfiguration)
}
