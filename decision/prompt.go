package decision

import (
	"fmt"
	"strings"

	"github.com/hairizuanbinnoorazman/screenshot-explorer/action"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/hierarchy"
)

const lowCoveragePercent = 30

const systemPreamble = `You are exploring a mobile app to capture marketing screenshots of its most distinctive screens.
You see an annotated screenshot where interactive elements carry numbered boxes, plus the element list below.

Reply with exactly one JSON object and nothing else:
{"action": "<name>", "params": {...}, "reasoning": "<one sentence>", "shouldScreenshot": true|false, "confidence": 0.0-1.0}

Actions and params:
- tapElementById {"elementId": N}  preferred when the target has a number
- tap {"x": 0-100, "y": 0-100}  percent of screen
- tapText {"text": "..."}
- tapResourceId {"resourceId": "..."}
- doubleTap / longPress {"x": .., "y": ..}
- scroll {"direction": "up|down|left|right"}
- swipe {"direction": ...} or {"startX", "startY", "endX", "endY"}
- inputText {"text": "..."} / eraseText {"count": N} / hideKeyboard {}
- back {} / pressKey {"key": "..."} / openLink {"url": "..."}
- screenshot {} / wait {"ms": N} / done {}

Use the screenshot action to capture the current screen when it is polished, content-rich and not yet captured.
Set shouldScreenshot on any other action when the screen it leads to should be captured right after.
Avoid login walls, permission dialogs, empty states and error screens.`

// BuildSystemPrompt renders the system instruction for one step.
func BuildSystemPrompt(c Context, cfg Config) string {
	var sb strings.Builder
	sb.WriteString(systemPreamble)

	fmt.Fprintf(&sb, "\n\n## Session\nApp: %s\nPlatform: %s\n", c.AppID, c.Platform)
	fmt.Fprintf(&sb, "Screenshots captured: %d, remaining: %d\n", c.Captured, c.RemainingScreenshots())
	fmt.Fprintf(&sb, "Steps remaining: %d\n", c.RemainingSteps())

	sb.WriteString("\n## Elements\n")
	if c.Parsed != nil {
		sb.WriteString(hierarchy.ToElementList(c.Parsed, cfg.ListOptions))
	} else {
		sb.WriteString("(hierarchy unavailable)")
	}
	sb.WriteString("\n")

	if w := warnings(c); len(w) > 0 {
		sb.WriteString("\n## Warnings\n")
		for _, line := range w {
			sb.WriteString("- ")
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func warnings(c Context) []string {
	var out []string
	if c.SameScreenCount > 2 {
		out = append(out, fmt.Sprintf("The screen has not changed for %d steps. Try a different area, go back, or scroll.", c.SameScreenCount))
	}
	if c.ConsecutiveTapTextFailures > 0 {
		out = append(out, fmt.Sprintf("tapText failed %d times in a row. Prefer tapElementById or tap coordinates.", c.ConsecutiveTapTextFailures))
	}
	if c.Parsed != nil && c.Parsed.SemanticsCoverage < lowCoveragePercent {
		out = append(out, fmt.Sprintf("Only %.0f%% of elements carry labels. Rely on the image and coordinates.", c.Parsed.SemanticsCoverage))
	}
	errs := c.RecentErrors
	if len(errs) > 3 {
		errs = errs[len(errs)-3:]
	}
	for _, e := range errs {
		out = append(out, "Recent error: "+e)
	}
	return out
}

// BuildUserTurn summarises recent actions and the failure rate.
func BuildUserTurn(c Context) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Step %d of %d.\n", c.Step, c.MaxSteps)
	if len(c.RecentActions) == 0 {
		sb.WriteString("Recent actions: none yet.\n")
	} else {
		sb.WriteString("Recent actions:\n")
		for _, o := range c.RecentActions {
			status := "ok"
			if !o.Success {
				status = "FAILED"
			}
			fmt.Fprintf(&sb, "  %d [%s] %s", o.Step, status, o.Action)
			if o.Error != "" {
				fmt.Fprintf(&sb, " (%s)", o.Error)
			}
			sb.WriteString("\n")
		}
	}
	fmt.Fprintf(&sb, "Recent failure rate: %.0f%%\n", c.RecentFailureRate*100)
	sb.WriteString("Choose the next action.")
	return sb.String()
}

// BuildEscalationPrompt appends the rejected primary decision and the reasons
// it was escalated.
func BuildEscalationPrompt(system string, primary *action.Decision, reasons []string) string {
	var sb strings.Builder
	sb.WriteString(system)
	sb.WriteString("\n## Second opinion\nAnother model proposed:\n")
	fmt.Fprintf(&sb, "  action: %s\n  confidence: %.2f\n", primary.Action, primary.Confidence)
	if primary.Reasoning != "" {
		fmt.Fprintf(&sb, "  reasoning: %s\n", primary.Reasoning)
	}
	sb.WriteString("It was escalated because:\n")
	for _, r := range reasons {
		fmt.Fprintf(&sb, "  - %s\n", r)
	}
	sb.WriteString("Decide independently. Keep the proposal only if it is clearly right.\n")
	return sb.String()
}
