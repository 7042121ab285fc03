// Package snapshot persists the fetched page behind a status transition.
package snapshot

import (
	"bytes"
	"context"
	"fmt"

	"github.com/JakeFAU/backlink-monitor/internal/backlink"
)

// ContentType is recorded on every stored page.
const ContentType = "text/html; charset=utf-8"

// Store writes snapshots through a BlobStore.
type Store struct {
	blobs backlink.BlobStore
}

// New returns a Store writing to blobs.
func New(blobs backlink.BlobStore) *Store {
	return &Store{blobs: blobs}
}

// Snapshot writes body under snapshots/<project>/<backlink>/<check>.html and returns its URI.
func (s *Store) Snapshot(ctx context.Context, b backlink.Backlink, checkID string, body []byte) (string, error) {
	if checkID == "" {
		return "", fmt.Errorf("check id is required")
	}
	uri, err := s.blobs.PutObject(ctx, Path(b, checkID), ContentType, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("put snapshot: %w", err)
	}
	return uri, nil
}

// Path is the blob path for a snapshot.
func Path(b backlink.Backlink, checkID string) string {
	return fmt.Sprintf("snapshots/%d/%d/%s.html", b.ProjectID, b.ID, checkID)
}
