package decision

import (
	"fmt"

	"github.com/hairizuanbinnoorazman/screenshot-explorer/action"
)

// EscalationPredicate returns the reasons a decision should be re-asked of the
// fallback model. An empty result keeps the primary decision.
type EscalationPredicate func(d *action.Decision, c Context, cfg Config) []string

var riskyKinds = map[action.Kind]bool{
	action.KindTap:       true,
	action.KindTapText:   true,
	action.KindSwipe:     true,
	action.KindOpenLink:  true,
	action.KindInputText: true,
}

// IsRisky reports whether k is in the set of actions that need high confidence.
func IsRisky(k action.Kind) bool { return riskyKinds[k] }

// DefaultEscalation applies the stock escalation rules.
func DefaultEscalation(d *action.Decision, c Context, cfg Config) []string {
	var reasons []string
	if d.Confidence < cfg.LowConfidenceThreshold {
		reasons = append(reasons, fmt.Sprintf("low confidence %.2f below %.2f", d.Confidence, cfg.LowConfidenceThreshold))
	}
	if c.ConsecutiveActionFailures >= cfg.FailureEscalationThreshold {
		reasons = append(reasons, fmt.Sprintf("%d consecutive action failures", c.ConsecutiveActionFailures))
	}
	if c.RecentFailureRate >= HighFailureRate {
		reasons = append(reasons, fmt.Sprintf("recent failure rate %.0f%%", c.RecentFailureRate*100))
	}
	if d.Kind() == action.KindTapText && c.ConsecutiveTapTextFailures > 0 {
		reasons = append(reasons, fmt.Sprintf("tapText chosen after %d tapText failures", c.ConsecutiveTapTextFailures))
	}
	if IsRisky(d.Kind()) && d.Confidence < HighConfidenceBar {
		reasons = append(reasons, fmt.Sprintf("risky action %s at confidence %.2f", d.Kind(), d.Confidence))
	}
	return reasons
}
