package backlink

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrNotFound signals that the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict signals that a backlink changed since it was read.
	ErrConflict = errors.New("backlink modified concurrently")
	// ErrNotChanged signals an acknowledge on a backlink that is not in changed status.
	ErrNotChanged = errors.New("backlink is not in changed status")
	// ErrQueueClosed signals that a queue was closed and fully drained.
	ErrQueueClosed = errors.New("queue closed")
)

// VerificationCommit is everything one verification writes, applied atomically.
type VerificationCommit struct {
	// Backlink carries the new field values; Version is the version that was read.
	Backlink Backlink
	Check    Check
	Alert    *Alert
}

// Store persists backlinks, their audit trail and alerts.
type Store interface {
	GetBacklink(ctx context.Context, id int64) (Backlink, error)
	// ListDue returns backlinks matching sel, never-checked first, then oldest check first.
	ListDue(ctx context.Context, sel Selection, now time.Time) ([]Backlink, error)
	// CommitVerification writes the backlink, check and optional alert, or returns ErrConflict
	// when the stored version no longer matches.
	CommitVerification(ctx context.Context, commit VerificationCommit) error
	// AcknowledgeChange resets a changed backlink to active, or returns ErrNotChanged.
	AcknowledgeChange(ctx context.Context, id int64) (Backlink, error)
	UpdateDomainAuthority(ctx context.Context, id int64, authority int) error
	ListChecks(ctx context.Context, backlinkID int64, limit int) ([]Check, error)

	GetProject(ctx context.Context, id int64) (Project, error)
	GetSubscriber(ctx context.Context, userID int64) (Subscriber, error)

	GetAlert(ctx context.Context, id string) (Alert, error)
	ListAlerts(ctx context.Context, unreadOnly bool, limit int) ([]Alert, error)
	MarkAlertRead(ctx context.Context, id string) error
	// DeleteReadAlertsBefore removes read alerts created before cutoff and returns how many went.
	DeleteReadAlertsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// BlobStore writes raw page snapshots and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher pushes alert events to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for tasks. Dequeue returns ErrQueueClosed
// once the queue is closed and empty.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	Dequeue(ctx context.Context) (Task, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces check and alert IDs.
type IDGenerator interface {
	NewID() (string, error)
}
