package crawler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExponentialRetryPolicyShouldRetry(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(RetryConfig{MaxAttempts: 3})
	transient := fmt.Errorf("fetch: %w", &StatusError{URL: "u", StatusCode: 502})

	require.False(t, p.ShouldRetry(nil, 0))
	require.True(t, p.ShouldRetry(transient, 0))
	require.True(t, p.ShouldRetry(transient, 1))
	require.False(t, p.ShouldRetry(transient, 2), "third attempt is the last")
	require.False(t, p.ShouldRetry(&StatusError{URL: "u", StatusCode: 404}, 0))
	require.False(t, p.ShouldRetry(context.Canceled, 0))
	require.True(t, p.ShouldRetry(errors.New("boom"), 0))
}

func TestExponentialRetryPolicyBackoff(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(RetryConfig{BaseDelay: time.Second, MaxDelay: 5 * time.Second})
	require.Equal(t, time.Second, p.Backoff(0))
	require.Equal(t, 2*time.Second, p.Backoff(1))
	require.Equal(t, 4*time.Second, p.Backoff(2))
	require.Equal(t, 5*time.Second, p.Backoff(3))

	jittered := NewExponentialRetryPolicy(RetryConfig{BaseDelay: time.Second, MaxDelay: 5 * time.Second, Jitter: true})
	for i := 0; i < 20; i++ {
		d := jittered.Backoff(1)
		require.GreaterOrEqual(t, d, time.Second)
		require.Less(t, d, 2*time.Second)
	}
}
