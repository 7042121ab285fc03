// Package statemachine applies check results to backlinks and decides status transitions.
package statemachine

import (
	"time"

	"github.com/JakeFAU/backlink-monitor/internal/backlink"
)

// Decision is the pure outcome of applying a check result to a stored backlink.
type Decision struct {
	Previous backlink.Status
	Next     backlink.Status
	// Alert is empty when the transition raises nothing.
	Alert backlink.AlertType
	// Diff compares stored attributes with the result; nil when the link is absent.
	Diff *backlink.AttributeDiff
	// Updated is the backlink with every field the check touches rewritten.
	Updated backlink.Backlink
}

// Transitioned reports whether the status changed.
func (d Decision) Transitioned() bool {
	return d.Previous != d.Next
}

// Decide maps (current status, presence, attribute change) to the next status.
//
//	lost    + found              -> active  (recovered)
//	active  + found + rel/follow -> changed (changed)
//	active  + found              -> active
//	changed + found              -> changed
//	active/changed + missing     -> lost    (lost)
//	lost    + missing            -> lost
//
// changed is sticky: only an explicit acknowledge or a lost link leaves it.
func Decide(current backlink.Backlink, result backlink.CheckResult, now time.Time) Decision {
	d := Decision{Previous: current.Status, Next: current.Status, Updated: current}
	checkedAt := now
	d.Updated.LastCheckedAt = &checkedAt

	if !result.IsPresent {
		if current.Status != backlink.StatusLost {
			d.Next = backlink.StatusLost
			d.Alert = backlink.AlertLost
		}
		d.Updated.Status = d.Next
		return d
	}

	d.Diff = diffAttributes(current, result)
	switch current.Status {
	case backlink.StatusLost:
		d.Next = backlink.StatusActive
		d.Alert = backlink.AlertRecovered
	case backlink.StatusActive:
		if d.Diff.LinkChanged() {
			d.Next = backlink.StatusChanged
			d.Alert = backlink.AlertChanged
		}
	}

	d.Updated.Status = d.Next
	d.Updated.HTTPStatus = result.HTTPStatus
	d.Updated.RelAttributes = result.RelAttributes
	d.Updated.IsDofollow = result.IsDofollow
	if d.Diff.AnchorText != nil {
		d.Updated.AnchorText = result.AnchorText
	}
	return d
}

func diffAttributes(current backlink.Backlink, result backlink.CheckResult) *backlink.AttributeDiff {
	diff := &backlink.AttributeDiff{}
	if !backlink.EqualStrings(current.RelAttributes, result.RelAttributes) {
		diff.RelAttributes = &backlink.StringChange{Old: current.RelAttributes, New: result.RelAttributes}
	}
	if current.IsDofollow != result.IsDofollow {
		diff.IsDofollow = &backlink.BoolChange{Old: current.IsDofollow, New: result.IsDofollow}
	}
	if result.AnchorText != nil && !backlink.EqualStrings(current.AnchorText, result.AnchorText) {
		diff.AnchorText = &backlink.StringChange{Old: current.AnchorText, New: result.AnchorText}
	}
	return diff
}
