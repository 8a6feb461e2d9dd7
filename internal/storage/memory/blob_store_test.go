package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "raw_content/index.json", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://raw_content/index.json", uri)

	payload[0] = 'X'
	got, ok := store.Get("raw_content/index.json")
	require.True(t, ok)
	require.Equal(t, "content", string(got))
	require.Equal(t, "application/json", store.ContentType("raw_content/index.json"))

	_, err = store.PutObject(context.Background(), "a.pdf", "application/pdf", bytes.NewReader(nil))
	require.NoError(t, err)
	require.Equal(t, []string{"a.pdf", "raw_content/index.json"}, store.Paths())

	_, ok = store.Get("missing")
	require.False(t, ok)
}
