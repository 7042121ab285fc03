// Package webhook signs and delivers alert notifications to subscriber endpoints.
package webhook

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/JakeFAU/backlink-monitor/internal/backlink"
)

const (
	// EventAlertCreated is sent for every delivered alert.
	EventAlertCreated = "alert.created"
	// EventTest is sent by SendTest.
	EventTest = "webhook.test"
)

// Payload is the JSON body posted to subscribers.
type Payload struct {
	Event     string           `json:"event"`
	Timestamp string           `json:"timestamp"`
	Alert     *AlertPayload    `json:"alert,omitempty"`
	Backlink  *BacklinkPayload `json:"backlink"`
	Message   string           `json:"message,omitempty"`
}

// AlertPayload is the alert section of a Payload.
type AlertPayload struct {
	ID       string             `json:"id"`
	Type     backlink.AlertType `json:"type"`
	Severity backlink.Severity  `json:"severity"`
	Title    string             `json:"title"`
	Message  string             `json:"message"`
}

// BacklinkPayload is the backlink section of a Payload; null for alerts without one.
type BacklinkPayload struct {
	ID         int64              `json:"id"`
	SourceURL  string             `json:"source_url"`
	TargetURL  string             `json:"target_url"`
	AnchorText *string            `json:"anchor_text"`
	Status     backlink.Status    `json:"status"`
	TierLevel  backlink.TierLevel `json:"tier_level"`
}

// BuildPayload renders the alert.created body. b may be nil.
func BuildPayload(a backlink.Alert, b *backlink.Backlink, now time.Time) ([]byte, error) {
	p := Payload{
		Event:     EventAlertCreated,
		Timestamp: now.UTC().Format(time.RFC3339),
		Alert: &AlertPayload{
			ID:       a.ID,
			Type:     a.Type,
			Severity: a.Severity,
			Title:    a.Title,
			Message:  a.Message,
		},
	}
	if b != nil {
		p.Backlink = &BacklinkPayload{
			ID:         b.ID,
			SourceURL:  b.SourceURL,
			TargetURL:  b.TargetURL,
			AnchorText: b.AnchorText,
			Status:     b.Status,
			TierLevel:  b.TierLevel,
		}
	}
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal webhook payload: %w", err)
	}
	return body, nil
}

func buildTestPayload(now time.Time) ([]byte, error) {
	body, err := json.Marshal(Payload{
		Event:     EventTest,
		Timestamp: now.UTC().Format(time.RFC3339),
		Message:   "Webhook endpoint verified by Backlink Monitor.",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal webhook payload: %w", err)
	}
	return body, nil
}

// ShouldDeliver reports whether sub wants alerts of type t.
// An empty event filter subscribes to everything.
func ShouldDeliver(sub backlink.Subscriber, t backlink.AlertType) bool {
	if sub.WebhookURL == "" {
		return false
	}
	if len(sub.WebhookEvents) == 0 {
		return true
	}
	for _, e := range sub.WebhookEvents {
		if e == t {
			return true
		}
	}
	return false
}
