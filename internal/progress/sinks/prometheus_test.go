package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-capture/internal/progress"
)

func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	batch := []progress.Event{
		{RunID: "r1", TS: now, Stage: progress.StageRunStart, Site: "example", Total: 2},
		{RunID: "r1", TS: now, Stage: progress.StageCaptureStart, Site: "example", URL: "https://example.com/a", Index: 1, Total: 2},
		{
			RunID: "r1", TS: now, Stage: progress.StageCaptureDone, Site: "example",
			URL: "https://example.com/a", Index: 1, Total: 2,
			Strategy: "rendered", Outcome: progress.OutcomeSuccess, Attempts: 1, Bytes: 2048, Dur: 3 * time.Second,
		},
		{
			RunID: "r1", TS: now, Stage: progress.StageCaptureDone, Site: "example",
			URL: "https://example.com/b", Index: 2, Total: 2,
			Outcome: progress.OutcomeFailed, Attempts: 4, Dur: time.Second,
		},
		{RunID: "r1", TS: now, Stage: progress.StageRunDone, Site: "example", Outcome: progress.OutcomeSuccess, Dur: time.Minute},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsActive))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.captures.WithLabelValues("example", "rendered", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.captures.WithLabelValues("example", "none", "failed")))
	require.InDelta(t, 5.0, testutil.ToFloat64(sink.captureAttempts.WithLabelValues("example")), 1e-9)
	require.InDelta(t, 2048.0, testutil.ToFloat64(sink.captureBytes.WithLabelValues("example")), 1e-9)
	require.Equal(t, 2, testutil.CollectAndCount(sink.captureDuration, "sitecapture_capture_duration_seconds"))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
