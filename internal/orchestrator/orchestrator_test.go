package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-capture/internal/crawler"
	"github.com/JakeFAU/site-capture/internal/progress"
)

// fakeCapturer succeeds unless the URL is listed in fail.
type fakeCapturer struct {
	mu       sync.Mutex
	fail     map[string]bool
	calls    []string
	onCall   func(rawURL string)
	delay    time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeCapturer) Capture(_ context.Context, rawURL string) crawler.CaptureResult {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	f.mu.Lock()
	f.calls = append(f.calls, rawURL)
	onCall := f.onCall
	failing := f.fail[rawURL]
	f.mu.Unlock()
	if onCall != nil {
		onCall(rawURL)
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if failing {
		return crawler.CaptureResult{URL: rawURL, Attempts: 3, Err: errors.New("all strategies failed")}
	}
	return crawler.CaptureResult{
		URL:      rawURL,
		Success:  true,
		Strategy: "rendered",
		Attempts: 1,
		Artifact: &crawler.Artifact{Kind: crawler.ModePDF, PDF: make([]byte, 1500)},
	}
}

func (f *fakeCapturer) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type recordingPauser struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (p *recordingPauser) Pause(_ context.Context, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delays = append(p.delays, d)
}

func (p *recordingPauser) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.delays)
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

func urls(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("https://example.com/p%d", i)
	}
	return out
}

func TestRunSequentialInOrder(t *testing.T) {
	t.Parallel()

	capturer := &fakeCapturer{fail: map[string]bool{"https://example.com/p1": true}}
	pauser := &recordingPauser{}
	emitter := &recordingEmitter{}
	o := New(capturer, Config{InterURLDelay: 3 * time.Second}, zap.NewNop(),
		WithPauser(pauser), WithEmitter(emitter), WithRun("run-1", "example"))

	input := append(urls(3), "https://example.com/p0")
	res := o.Run(context.Background(), input)

	require.Equal(t, urls(3), capturer.Calls())
	require.False(t, res.Canceled)
	require.Equal(t, 3, res.Attempted)
	require.Len(t, res.Results, 2)
	require.Equal(t, []crawler.FailedURL{{URL: "https://example.com/p1", Reason: "all strategies failed"}}, res.Failed)
	require.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second}, pauser.delays)

	require.Len(t, emitter.events, 6)
	first, last := emitter.events[0], emitter.events[5]
	require.Equal(t, progress.StageCaptureStart, first.Stage)
	require.Equal(t, 1, first.Index)
	require.Equal(t, 3, first.Total)
	require.Equal(t, "run-1", first.RunID)
	require.Equal(t, progress.StageCaptureDone, last.Stage)
	require.Equal(t, progress.OutcomeSuccess, last.Outcome)
	require.EqualValues(t, 1500, last.Bytes)
	failed := emitter.events[3]
	require.Equal(t, progress.OutcomeFailed, failed.Outcome)
	require.Equal(t, "all strategies failed", failed.Note)
	for _, evt := range emitter.events {
		require.NoError(t, evt.Validate())
	}
}

func TestRunMaxURLs(t *testing.T) {
	t.Parallel()

	capturer := &fakeCapturer{}
	o := New(capturer, Config{MaxURLs: 2}, nil, WithPauser(&recordingPauser{}))
	res := o.Run(context.Background(), urls(5))

	require.Equal(t, urls(2), capturer.Calls())
	require.Len(t, res.Results, 2)
	require.False(t, res.Canceled)
}

func TestRunEmpty(t *testing.T) {
	t.Parallel()

	pauser := &recordingPauser{}
	res := New(&fakeCapturer{}, Config{}, nil, WithPauser(pauser)).Run(context.Background(), nil)
	require.Zero(t, res.Attempted)
	require.Empty(t, res.Results)
	require.False(t, res.Canceled)
	require.Zero(t, pauser.Count())
}

func TestRunStopsBetweenURLsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	capturer := &fakeCapturer{onCall: func(rawURL string) {
		if rawURL == "https://example.com/p1" {
			cancel()
		}
	}}
	o := New(capturer, Config{}, nil, WithPauser(&recordingPauser{}))
	res := o.Run(ctx, urls(4))

	require.Equal(t, urls(2), capturer.Calls())
	require.True(t, res.Canceled)
	require.Equal(t, 2, res.Attempted)
	require.Len(t, res.Results, 2, "in-flight capture is still recorded")
}

func TestRunPoolBoundsConcurrency(t *testing.T) {
	t.Parallel()

	capturer := &fakeCapturer{delay: 20 * time.Millisecond, fail: map[string]bool{"https://example.com/p4": true}}
	pauser := &recordingPauser{}
	o := New(capturer, Config{Workers: 3, InterURLDelay: time.Second}, nil, WithPauser(pauser))
	res := o.Run(context.Background(), urls(10))

	require.Len(t, capturer.Calls(), 10)
	require.Equal(t, 10, res.Attempted)
	require.Len(t, res.Results, 9)
	require.Len(t, res.Failed, 1)
	require.LessOrEqual(t, capturer.peak.Load(), int32(3))
	require.Greater(t, capturer.peak.Load(), int32(1))
	require.Equal(t, 9, pauser.Count())
	require.False(t, res.Canceled)
}

func TestRunPoolCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	capturer := &fakeCapturer{delay: 10 * time.Millisecond}
	capturer.onCall = func(rawURL string) {
		if rawURL == "https://example.com/p0" {
			cancel()
		}
	}
	o := New(capturer, Config{Workers: 2}, nil, WithPauser(&recordingPauser{}))
	res := o.Run(ctx, urls(20))

	require.True(t, res.Canceled)
	require.Less(t, res.Attempted, 20)
	require.Equal(t, res.Attempted, len(res.Results)+len(res.Failed))
}

// slowCapturer fails if its context ends before the capture takes effect.
type slowCapturer struct {
	mu      sync.Mutex
	calls   []string
	started func()
	took    time.Duration
}

func (s *slowCapturer) Capture(ctx context.Context, rawURL string) crawler.CaptureResult {
	s.mu.Lock()
	s.calls = append(s.calls, rawURL)
	s.mu.Unlock()
	if s.started != nil {
		s.started()
	}
	select {
	case <-ctx.Done():
		return crawler.CaptureResult{URL: rawURL, Attempts: 1, Err: ctx.Err()}
	case <-time.After(s.took):
	}
	return crawler.CaptureResult{
		URL:      rawURL,
		Success:  true,
		Strategy: "rendered",
		Attempts: 1,
		Artifact: &crawler.Artifact{Kind: crawler.ModePDF, PDF: make([]byte, 1500)},
	}
}

func TestRunLetsInFlightCaptureFinishOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	capturer := &slowCapturer{started: cancel, took: 50 * time.Millisecond}
	o := New(capturer, Config{}, nil, WithPauser(&recordingPauser{}))
	res := o.Run(ctx, []string{"https://example.com/a", "https://example.com/b"})

	require.Equal(t, []string{"https://example.com/a"}, capturer.calls)
	require.True(t, res.Canceled)
	require.Empty(t, res.Failed)
	require.Len(t, res.Results, 1)
	require.Equal(t, "https://example.com/a", res.Results[0].URL)
}
