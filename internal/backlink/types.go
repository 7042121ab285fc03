// Package backlink defines the core types shared across the verification engine.
package backlink

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status represents the lifecycle state of a tracked backlink.
type Status string

// Backlink status values persisted in the backlink store.
const (
	StatusActive  Status = "active"
	StatusLost    Status = "lost"
	StatusChanged Status = "changed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusLost, StatusChanged:
		return true
	default:
		return false
	}
}

// TierLevel is the business importance of a backlink.
type TierLevel string

// Tier levels, tier1 being the most valuable.
const (
	Tier1 TierLevel = "tier1"
	Tier2 TierLevel = "tier2"
)

// Backlink is a hyperlink on a third-party page pointing at a tracked target URL.
type Backlink struct {
	ID              int64               `json:"id"`
	ProjectID       int64               `json:"project_id"`
	SourceURL       string              `json:"source_url"`
	TargetURL       string              `json:"target_url"`
	AnchorText      *string             `json:"anchor_text"`
	Status          Status              `json:"status"`
	HTTPStatus      *int                `json:"http_status"`
	RelAttributes   *string             `json:"rel_attributes"`
	IsDofollow      bool                `json:"is_dofollow"`
	TierLevel       TierLevel           `json:"tier_level"`
	Price           decimal.NullDecimal `json:"price"`
	DomainAuthority *int                `json:"domain_authority,omitempty"`
	FirstSeenAt     time.Time           `json:"first_seen_at"`
	LastCheckedAt   *time.Time          `json:"last_checked_at"`
	// Version is bumped on every committed verification and guards concurrent writers.
	Version int64 `json:"-"`
}

// HasPrice reports whether the backlink was paid for.
func (b Backlink) HasPrice() bool {
	return b.Price.Valid && b.Price.Decimal.IsPositive()
}

// Check is the immutable audit row appended for every verification attempt.
type Check struct {
	ID            string    `json:"id"`
	BacklinkID    int64     `json:"backlink_id"`
	CheckedAt     time.Time `json:"checked_at"`
	IsPresent     bool      `json:"is_present"`
	HTTPStatus    *int      `json:"http_status"`
	AnchorText    *string   `json:"anchor_text"`
	RelAttributes *string   `json:"rel_attributes"`
	ErrorMessage  *string   `json:"error_message"`
	SnapshotURI   *string   `json:"snapshot_uri,omitempty"`
}

// CheckResult is what the checker observed on the source page.
type CheckResult struct {
	IsPresent     bool    `json:"is_present"`
	HTTPStatus    *int    `json:"http_status"`
	AnchorText    *string `json:"anchor_text"`
	RelAttributes *string `json:"rel_attributes"`
	IsDofollow    bool    `json:"is_dofollow"`
	ErrorMessage  *string `json:"error_message"`
	// Retryable is set for transport failures that a later attempt may not hit.
	Retryable bool `json:"-"`
	// Body holds the fetched page for snapshotting; never persisted on the check row.
	Body []byte `json:"-"`
}

// Project groups backlinks under one owner.
type Project struct {
	ID      int64  `json:"id"`
	OwnerID int64  `json:"owner_id"`
	Name    string `json:"name"`
}

// Subscriber holds a user's webhook settings.
type Subscriber struct {
	UserID        int64       `json:"user_id"`
	WebhookURL    string      `json:"webhook_url"`
	WebhookSecret string      `json:"-"`
	WebhookEvents []AlertType `json:"webhook_events"`
}

// AlertType names the transition an alert reports.
type AlertType string

// Alert types raised by the state machine.
const (
	AlertLost      AlertType = "backlink_lost"
	AlertChanged   AlertType = "backlink_changed"
	AlertRecovered AlertType = "backlink_recovered"
)

// Severity ranks alerts for triage.
type Severity string

// Severity values, lowest first.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Alert is raised once per qualifying status transition.
type Alert struct {
	ID         string        `json:"id"`
	BacklinkID *int64        `json:"backlink_id"`
	ProjectID  int64         `json:"project_id"`
	Type       AlertType     `json:"type"`
	Severity   Severity      `json:"severity"`
	Title      string        `json:"title"`
	Message    string        `json:"message"`
	Metadata   AlertMetadata `json:"metadata"`
	IsRead     bool          `json:"is_read"`
	CreatedAt  time.Time     `json:"created_at"`
}

// AlertMetadata snapshots the values involved in a transition.
type AlertMetadata struct {
	PreviousStatus Status         `json:"previous_status"`
	NewStatus      Status         `json:"new_status"`
	HTTPStatus     *int           `json:"http_status,omitempty"`
	ErrorMessage   *string        `json:"error_message,omitempty"`
	Diff           *AttributeDiff `json:"diff,omitempty"`
}

// StringChange is an old/new pair for an optional string field.
type StringChange struct {
	Old *string `json:"old"`
	New *string `json:"new"`
}

// BoolChange is an old/new pair for a boolean field.
type BoolChange struct {
	Old bool `json:"old"`
	New bool `json:"new"`
}

// AttributeDiff lists the link attributes that differ between the stored backlink and a check.
// A nil field means that attribute did not change.
type AttributeDiff struct {
	RelAttributes *StringChange `json:"rel_attributes,omitempty"`
	IsDofollow    *BoolChange   `json:"is_dofollow,omitempty"`
	AnchorText    *StringChange `json:"anchor_text,omitempty"`
}

// Empty reports whether nothing changed.
func (d *AttributeDiff) Empty() bool {
	return d == nil || (d.RelAttributes == nil && d.IsDofollow == nil && d.AnchorText == nil)
}

// LinkChanged reports whether rel or dofollow changed; anchor text alone does not count.
func (d *AttributeDiff) LinkChanged() bool {
	return d != nil && (d.RelAttributes != nil || d.IsDofollow != nil)
}

// DofollowLost reports whether the link went from dofollow to nofollow.
func (d *AttributeDiff) DofollowLost() bool {
	return d != nil && d.IsDofollow != nil && d.IsDofollow.Old && !d.IsDofollow.New
}

// TaskKind selects the handler a queued task is routed to.
type TaskKind string

// Task kinds.
const (
	TaskVerify  TaskKind = "verify"
	TaskDeliver TaskKind = "deliver"
)

// Task is one unit of asynchronous work.
type Task struct {
	Kind       TaskKind
	BacklinkID int64
	AlertID    string
	// Attempt is 1-based and filled in by the worker.
	Attempt     int
	MaxAttempts int
	Submitted   time.Time
}

// FinalAttempt reports whether no retry follows this attempt.
func (t Task) FinalAttempt() bool {
	return t.MaxAttempts <= 0 || t.Attempt >= t.MaxAttempts
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}

// StringValue dereferences s, treating nil as empty.
func StringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// EqualStrings compares two optional strings.
func EqualStrings(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
