package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-capture/internal/crawler"
)

func TestRunRegistryLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg := NewRunRegistry()
	req := crawler.RunRequest{StartURL: "https://example.com", MaxDepth: 2, Mode: crawler.ModePDF}

	state, err := reg.Create(ctx, "run-1", req)
	require.NoError(t, err)
	require.Equal(t, crawler.RunStatusQueued, state.Status)

	_, err = reg.Create(ctx, "run-1", req)
	require.Error(t, err)

	require.NoError(t, reg.MarkRunning(ctx, "run-1"))
	got, err := reg.Get(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, crawler.RunStatusRunning, got.Status)
	require.NotNil(t, got.StartedAt)

	summary := &crawler.RunSummary{RunID: "run-1", TotalURLs: 3, Successful: 3}
	require.NoError(t, reg.Finish(ctx, "run-1", summary, nil))
	got, err = reg.Get(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, crawler.RunStatusSucceeded, got.Status)
	require.Equal(t, 3, got.Summary.Successful)
	require.NotNil(t, got.FinishedAt)

	require.Error(t, reg.MarkRunning(ctx, "run-1"))
}

func TestRunRegistryFailureAndCancel(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg := NewRunRegistry()
	_, err := reg.Create(ctx, "bad", crawler.RunRequest{StartURL: "ftp://x"})
	require.NoError(t, err)
	require.NoError(t, reg.Finish(ctx, "bad", nil, errors.New("configuration error: scheme")))
	got, err := reg.Get(ctx, "bad")
	require.NoError(t, err)
	require.Equal(t, crawler.RunStatusFailed, got.Status)
	require.Contains(t, got.Error, "scheme")

	_, err = reg.Create(ctx, "stopped", crawler.RunRequest{StartURL: "https://example.com"})
	require.NoError(t, err)
	require.NoError(t, reg.Finish(ctx, "stopped", &crawler.RunSummary{Canceled: true}, nil))
	got, err = reg.Get(ctx, "stopped")
	require.NoError(t, err)
	require.Equal(t, crawler.RunStatusCanceled, got.Status)

	_, err = reg.Create(ctx, "never-started", crawler.RunRequest{StartURL: "https://example.com"})
	require.NoError(t, err)
	require.NoError(t, reg.Finish(ctx, "never-started", nil, context.Canceled))
	got, err = reg.Get(ctx, "never-started")
	require.NoError(t, err)
	require.Equal(t, crawler.RunStatusCanceled, got.Status)
}

func TestRunRegistryNotFoundAndList(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg := NewRunRegistry()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	reg.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	_, err := reg.Get(ctx, "nope")
	require.ErrorIs(t, err, ErrRunNotFound)
	require.ErrorIs(t, reg.MarkRunning(ctx, "nope"), ErrRunNotFound)
	require.ErrorIs(t, reg.Finish(ctx, "nope", nil, nil), ErrRunNotFound)

	_, err = reg.Create(ctx, "a", crawler.RunRequest{})
	require.NoError(t, err)
	_, err = reg.Create(ctx, "b", crawler.RunRequest{})
	require.NoError(t, err)

	list := reg.List(ctx)
	require.Len(t, list, 2)
	require.Equal(t, "b", list[0].ID)
}
