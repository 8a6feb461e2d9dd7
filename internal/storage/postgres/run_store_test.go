package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-capture/internal/crawler"
)

func TestStoreRunInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "")
	require.NoError(t, err)

	started := time.Unix(1700000000, 0).UTC()
	summary := crawler.RunSummary{
		RunID:        "0191d7a4-run",
		StartURL:     "https://example.com",
		Mode:         crawler.ModePDF,
		StartedAt:    started,
		FinishedAt:   started.Add(5 * time.Minute),
		Discovered:   12,
		TotalURLs:    10,
		Successful:   9,
		Failed:       1,
		Failures:     []crawler.FailedURL{{URL: "https://example.com/x", Reason: "timeout"}},
		ArtifactPath: "file:///out/example_merged_20231114_221320.pdf",
		MergedPages:  42,
	}

	mock.ExpectExec("INSERT INTO capture_runs").
		WithArgs(
			summary.RunID,
			summary.StartURL,
			"pdf",
			summary.StartedAt,
			summary.FinishedAt,
			12,
			10,
			9,
			1,
			[]byte(`[{"url":"https://example.com/x","reason":"timeout"}]`),
			false,
			summary.ArtifactPath,
			42,
			"",
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.StoreRun(context.Background(), summary))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreRunPropagatesError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "runs_v2")
	require.NoError(t, err)

	args := make([]any, 14)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	mock.ExpectExec("INSERT INTO runs_v2").
		WithArgs(args...).
		WillReturnError(errors.New("connection reset"))
	err = store.StoreRun(context.Background(), crawler.RunSummary{RunID: "r"})
	require.ErrorContains(t, err, "connection reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewRunStoreWithPool(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewRunStoreWithPool(mock, "runs; DROP TABLE x")
	require.Error(t, err)

	store, err := NewRunStoreWithPool(mock, "")
	require.NoError(t, err)
	require.Error(t, store.StoreRun(context.Background(), crawler.RunSummary{}))

	_, err = NewRunStore(context.Background(), Config{})
	require.Error(t, err)
}
