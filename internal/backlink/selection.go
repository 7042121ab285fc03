package backlink

import (
	"fmt"
	"strings"
	"time"
)

// Frequency picks how stale a backlink must be before it is re-checked.
type Frequency string

// Frequencies accepted by the check-backlinks command.
const (
	FrequencyDaily  Frequency = "daily"
	FrequencyWeekly Frequency = "weekly"
	FrequencyAll    Frequency = "all"
)

// StatusAll disables status filtering.
const StatusAll Status = "all"

// Selection filters the backlinks a dispatch batch picks up.
type Selection struct {
	Frequency Frequency
	Status    Status
	ProjectID *int64
	// Limit caps the batch; zero means unlimited.
	Limit int
}

// ParseFrequency validates a frequency flag value.
func ParseFrequency(raw string) (Frequency, error) {
	switch f := Frequency(strings.ToLower(strings.TrimSpace(raw))); f {
	case FrequencyDaily, FrequencyWeekly, FrequencyAll:
		return f, nil
	default:
		return "", fmt.Errorf("invalid frequency %q: want daily, weekly or all", raw)
	}
}

// ParseStatusFilter validates a status flag value; "all" disables filtering.
func ParseStatusFilter(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if s == StatusAll || s.Valid() {
		return s, nil
	}
	return "", fmt.Errorf("invalid status %q: want active, lost, changed or all", raw)
}

// StaleBefore returns the cutoff a backlink's last check must precede, or nil when recency is ignored.
func (s Selection) StaleBefore(now time.Time) *time.Time {
	var cutoff time.Time
	switch s.Frequency {
	case FrequencyDaily:
		cutoff = now.Add(-24 * time.Hour)
	case FrequencyWeekly:
		cutoff = now.Add(-7 * 24 * time.Hour)
	default:
		return nil
	}
	return &cutoff
}

// Matches reports whether b belongs in the batch, ignoring ordering and limit.
func (s Selection) Matches(b Backlink, now time.Time) bool {
	if s.Status != "" && s.Status != StatusAll && b.Status != s.Status {
		return false
	}
	if s.ProjectID != nil && b.ProjectID != *s.ProjectID {
		return false
	}
	cutoff := s.StaleBefore(now)
	if cutoff == nil || b.LastCheckedAt == nil {
		return true
	}
	return b.LastCheckedAt.Before(*cutoff)
}

// DueBefore orders backlinks for dispatch: never checked first, then oldest check, then ID.
func DueBefore(a, b Backlink) bool {
	switch {
	case a.LastCheckedAt == nil && b.LastCheckedAt != nil:
		return true
	case a.LastCheckedAt != nil && b.LastCheckedAt == nil:
		return false
	case a.LastCheckedAt != nil && !a.LastCheckedAt.Equal(*b.LastCheckedAt):
		return a.LastCheckedAt.Before(*b.LastCheckedAt)
	default:
		return a.ID < b.ID
	}
}
