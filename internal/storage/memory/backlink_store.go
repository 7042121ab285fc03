// Package memory provides in-memory stores for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/backlink-monitor/internal/backlink"
)

// Store is an in-memory backlink.Store.
type Store struct {
	mu          sync.RWMutex
	backlinks   map[int64]backlink.Backlink
	checks      map[int64][]backlink.Check
	alerts      map[string]backlink.Alert
	projects    map[int64]backlink.Project
	subscribers map[int64]backlink.Subscriber
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		backlinks:   make(map[int64]backlink.Backlink),
		checks:      make(map[int64][]backlink.Check),
		alerts:      make(map[string]backlink.Alert),
		projects:    make(map[int64]backlink.Project),
		subscribers: make(map[int64]backlink.Subscriber),
	}
}

// PutBacklink inserts or replaces a backlink, defaulting its status to active.
func (s *Store) PutBacklink(b backlink.Backlink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.Status == "" {
		b.Status = backlink.StatusActive
	}
	if b.TierLevel == "" {
		b.TierLevel = backlink.Tier2
	}
	s.backlinks[b.ID] = b
}

// PutProject inserts or replaces a project.
func (s *Store) PutProject(p backlink.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[p.ID] = p
}

// PutSubscriber inserts or replaces a user's webhook settings.
func (s *Store) PutSubscriber(sub backlink.Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers[sub.UserID] = sub
}

// PutAlert inserts or replaces an alert.
func (s *Store) PutAlert(a backlink.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts[a.ID] = a
}

// GetBacklink fetches a backlink by ID.
func (s *Store) GetBacklink(_ context.Context, id int64) (backlink.Backlink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.backlinks[id]
	if !ok {
		return backlink.Backlink{}, fmt.Errorf("backlink %d: %w", id, backlink.ErrNotFound)
	}
	return b, nil
}

// ListDue returns matching backlinks, never-checked first, then oldest check first.
func (s *Store) ListDue(_ context.Context, sel backlink.Selection, now time.Time) ([]backlink.Backlink, error) {
	s.mu.RLock()
	out := make([]backlink.Backlink, 0, len(s.backlinks))
	for _, b := range s.backlinks {
		if sel.Matches(b, now) {
			out = append(out, b)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return backlink.DueBefore(out[i], out[j]) })
	if sel.Limit > 0 && len(out) > sel.Limit {
		out = out[:sel.Limit]
	}
	return out, nil
}

// CommitVerification applies the commit if the stored version still matches.
// Only the verification columns are copied, matching the Postgres update.
func (s *Store) CommitVerification(_ context.Context, commit backlink.VerificationCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := commit.Backlink.ID
	stored, ok := s.backlinks[id]
	if !ok {
		return fmt.Errorf("backlink %d: %w", id, backlink.ErrNotFound)
	}
	if stored.Version != commit.Backlink.Version {
		return backlink.ErrConflict
	}
	b := commit.Backlink
	stored.Status = b.Status
	stored.HTTPStatus = b.HTTPStatus
	stored.RelAttributes = b.RelAttributes
	stored.IsDofollow = b.IsDofollow
	stored.AnchorText = b.AnchorText
	stored.LastCheckedAt = b.LastCheckedAt
	stored.Version++
	s.backlinks[id] = stored
	s.checks[id] = append(s.checks[id], commit.Check)
	if commit.Alert != nil {
		s.alerts[commit.Alert.ID] = *commit.Alert
	}
	return nil
}

// AcknowledgeChange resets a changed backlink to active.
func (s *Store) AcknowledgeChange(_ context.Context, id int64) (backlink.Backlink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.backlinks[id]
	if !ok {
		return backlink.Backlink{}, fmt.Errorf("backlink %d: %w", id, backlink.ErrNotFound)
	}
	if b.Status != backlink.StatusChanged {
		return backlink.Backlink{}, backlink.ErrNotChanged
	}
	b.Status = backlink.StatusActive
	b.Version++
	s.backlinks[id] = b
	return b, nil
}

// UpdateDomainAuthority stores an SEO score for a backlink.
func (s *Store) UpdateDomainAuthority(_ context.Context, id int64, authority int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.backlinks[id]
	if !ok {
		return fmt.Errorf("backlink %d: %w", id, backlink.ErrNotFound)
	}
	b.DomainAuthority = &authority
	s.backlinks[id] = b
	return nil
}

// ListChecks returns the newest checks first.
func (s *Store) ListChecks(_ context.Context, backlinkID int64, limit int) ([]backlink.Check, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	checks := s.checks[backlinkID]
	out := make([]backlink.Check, 0, len(checks))
	for i := len(checks) - 1; i >= 0; i-- {
		out = append(out, checks[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// GetProject fetches a project by ID.
func (s *Store) GetProject(_ context.Context, id int64) (backlink.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return backlink.Project{}, fmt.Errorf("project %d: %w", id, backlink.ErrNotFound)
	}
	return p, nil
}

// GetSubscriber fetches a user's webhook settings.
func (s *Store) GetSubscriber(_ context.Context, userID int64) (backlink.Subscriber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subscribers[userID]
	if !ok {
		return backlink.Subscriber{}, fmt.Errorf("subscriber %d: %w", userID, backlink.ErrNotFound)
	}
	return sub, nil
}

// GetAlert fetches an alert by ID.
func (s *Store) GetAlert(_ context.Context, id string) (backlink.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return backlink.Alert{}, fmt.Errorf("alert %s: %w", id, backlink.ErrNotFound)
	}
	return a, nil
}

// ListAlerts returns alerts newest first.
func (s *Store) ListAlerts(_ context.Context, unreadOnly bool, limit int) ([]backlink.Alert, error) {
	s.mu.RLock()
	out := make([]backlink.Alert, 0, len(s.alerts))
	for _, a := range s.alerts {
		if unreadOnly && a.IsRead {
			continue
		}
		out = append(out, a)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkAlertRead flags an alert as read.
func (s *Store) MarkAlertRead(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return fmt.Errorf("alert %s: %w", id, backlink.ErrNotFound)
	}
	a.IsRead = true
	s.alerts[id] = a
	return nil
}

// DeleteReadAlertsBefore drops read alerts created before cutoff.
func (s *Store) DeleteReadAlertsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for id, a := range s.alerts {
		if a.IsRead && a.CreatedAt.Before(cutoff) {
			delete(s.alerts, id)
			removed++
		}
	}
	return removed, nil
}
