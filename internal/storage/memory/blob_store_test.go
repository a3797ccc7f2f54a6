package memory

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "job-1/abc.txt", "text/plain", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://job-1/abc.txt", uri)

	payload[0] = 'C'
	stored, ok := store.Object("job-1/abc.txt")
	require.True(t, ok)
	require.Equal(t, "content", string(stored))
	require.Equal(t, []string{"job-1/abc.txt"}, store.Paths())
}

func TestBlobStoreRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := NewBlobStore().PutObject(context.Background(), "  ", "", strings.NewReader("x"))
	require.Error(t, err)
}
