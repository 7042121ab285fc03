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
	payload := []byte("<html>snapshot</html>")
	uri, err := store.PutObject(context.Background(), "snapshots/1/2/c.html", "text/html", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://snapshots/1/2/c.html", uri)

	payload[0] = 'X'
	stored, contentType, ok := store.Object("snapshots/1/2/c.html")
	require.True(t, ok)
	require.Equal(t, "<html>snapshot</html>", string(stored))
	require.Equal(t, "text/html", contentType)
	require.Equal(t, []string{"snapshots/1/2/c.html"}, store.Paths())
}

func TestBlobStoreRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	_, err := NewBlobStore().PutObject(context.Background(), "", "text/html", bytes.NewReader(nil))
	require.Error(t, err)
}
