// Package alert maps backlink status transitions to alert severity and text.
package alert

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/JakeFAU/backlink-monitor/internal/backlink"
)

// Input carries everything a classification depends on.
type Input struct {
	Type     backlink.AlertType
	Previous backlink.Status
	Current  backlink.Status
	// Backlink holds the attributes stored before the check was applied.
	Backlink backlink.Backlink
	Project  backlink.Project
	Diff     *backlink.AttributeDiff
	Result   backlink.CheckResult
}

// Classification is the derived alert content.
type Classification struct {
	Type     backlink.AlertType
	Severity backlink.Severity
	Title    string
	Message  string
	Metadata backlink.AlertMetadata
}

// Classify is a pure function of its input.
func Classify(in Input) Classification {
	domain := SourceDomain(in.Backlink.SourceURL)
	out := Classification{
		Type: in.Type,
		Metadata: backlink.AlertMetadata{
			PreviousStatus: in.Previous,
			NewStatus:      in.Current,
			HTTPStatus:     in.Result.HTTPStatus,
			ErrorMessage:   in.Result.ErrorMessage,
		},
	}
	if !in.Diff.Empty() {
		out.Metadata.Diff = in.Diff
	}

	switch in.Type {
	case backlink.AlertLost:
		out.Severity = lostSeverity(in.Backlink)
		out.Title = "Backlink lost on " + domain
		out.Message = lostMessage(domain, in)
	case backlink.AlertChanged:
		out.Severity = changedSeverity(in.Backlink, in.Diff)
		out.Title = "Backlink changed on " + domain
		out.Message = changedMessage(domain, in)
	case backlink.AlertRecovered:
		out.Severity = backlink.SeverityLow
		out.Title = "Backlink recovered on " + domain
		out.Message = fmt.Sprintf("The backlink from %s to %s in project %q is present again.",
			domain, in.Backlink.TargetURL, in.Project.Name)
	default:
		out.Severity = backlink.SeverityLow
		out.Title = "Backlink update on " + domain
		out.Message = fmt.Sprintf("The backlink from %s in project %q was updated.", domain, in.Project.Name)
	}
	return out
}

func lostSeverity(b backlink.Backlink) backlink.Severity {
	switch {
	case b.TierLevel == backlink.Tier1:
		return backlink.SeverityCritical
	case b.HasPrice():
		return backlink.SeverityHigh
	default:
		return backlink.SeverityMedium
	}
}

func changedSeverity(b backlink.Backlink, diff *backlink.AttributeDiff) backlink.Severity {
	switch {
	case diff.DofollowLost():
		return backlink.SeverityCritical
	case diff != nil && diff.AnchorText != nil:
		return backlink.SeverityHigh
	case b.TierLevel == backlink.Tier1:
		return backlink.SeverityMedium
	default:
		return backlink.SeverityLow
	}
}

func lostMessage(domain string, in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The backlink from %s to %s in project %q is no longer present.",
		domain, in.Backlink.TargetURL, in.Project.Name)
	if reason := backlink.StringValue(in.Result.ErrorMessage); reason != "" {
		fmt.Fprintf(&b, " Reason: %s.", reason)
	}
	if in.Backlink.HasPrice() {
		fmt.Fprintf(&b, " Paid placement: %s.", in.Backlink.Price.Decimal.StringFixed(2))
	}
	return b.String()
}

func changedMessage(domain string, in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The backlink from %s to %s in project %q changed:",
		domain, in.Backlink.TargetURL, in.Project.Name)
	if in.Diff == nil {
		return b.String()
	}
	if c := in.Diff.RelAttributes; c != nil {
		fmt.Fprintf(&b, "\n- rel: %s → %s", displayString(c.Old), displayString(c.New))
	}
	if c := in.Diff.IsDofollow; c != nil {
		fmt.Fprintf(&b, "\n- dofollow: %s → %s", strconv.FormatBool(c.Old), strconv.FormatBool(c.New))
	}
	if c := in.Diff.AnchorText; c != nil {
		fmt.Fprintf(&b, "\n- anchor text: %s → %s", quoted(c.Old), quoted(c.New))
	}
	return b.String()
}

func displayString(s *string) string {
	if s == nil || *s == "" {
		return "(none)"
	}
	return *s
}

func quoted(s *string) string {
	if s == nil {
		return "(none)"
	}
	return strconv.Quote(*s)
}

// SourceDomain returns the lower-cased host of rawURL, or rawURL itself when it has none.
func SourceDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return rawURL
	}
	return strings.ToLower(u.Hostname())
}
