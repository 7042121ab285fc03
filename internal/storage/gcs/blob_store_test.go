package gcs

import (
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "snapshots"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = New(client, Config{Bucket: "  "})
	require.Error(t, err)

	store, err := New(client, Config{Bucket: "snapshots", Prefix: "/backlinks/"})
	require.NoError(t, err)
	require.Equal(t, "backlinks", store.prefix)
}

func TestObjectName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		prefix string
		path   string
		want   string
	}{
		{name: "no prefix", path: "snapshots/1/2/c.html", want: "snapshots/1/2/c.html"},
		{name: "prefix", prefix: "backlinks", path: "snapshots/1/2/c.html", want: "backlinks/snapshots/1/2/c.html"},
		{name: "leading slash", prefix: "backlinks", path: "/snapshots/c.html", want: "backlinks/snapshots/c.html"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := &BlobStore{bucket: "b", prefix: tt.prefix}
			require.Equal(t, tt.want, s.objectName(tt.path))
		})
	}
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	s := &BlobStore{bucket: "b"}
	_, err := s.PutObject(context.Background(), " ", "text/html", nil)
	require.Error(t, err)
}
