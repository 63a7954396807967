package hierarchy

import (
	"fmt"
	"strings"
)

// ListOptions bounds the textual enumeration handed to the model.
type ListOptions struct {
	MaxElements        int
	IncludeCoordinates bool
}

// DefaultListOptions are used when a zero ListOptions is given.
var DefaultListOptions = ListOptions{MaxElements: 60, IncludeCoordinates: true}

const maxLabelLength = 60

// Select returns the elements that ToElementList enumerates: interactive
// elements first, then text, then decorative ones with any semantics, each
// group in traversal order, capped at MaxElements.
func Select(p *Parsed, opts ListOptions) []*Element {
	if p == nil {
		return nil
	}
	limit := opts.MaxElements
	if limit <= 0 {
		limit = DefaultListOptions.MaxElements
	}

	out := make([]*Element, 0, min(limit, p.TotalCount))
	add := func(els []*Element) {
		for _, el := range els {
			if len(out) >= limit {
				return
			}
			out = append(out, el)
		}
	}
	add(p.Interactive)
	add(p.TextElements)
	for _, el := range p.ElementList {
		if len(out) >= limit {
			break
		}
		if el.Kind == KindDecorative && el.HasSemantics() {
			out = append(out, el)
		}
	}
	return out
}

// ToElementList renders the selected elements as one line each, e.g.
//
//	[4] Button "Sign in" id=login_btn @(50%,82%) tappable
func ToElementList(p *Parsed, opts ListOptions) string {
	els := Select(p, opts)
	if len(els) == 0 {
		return "(no elements detected)"
	}

	var sb strings.Builder
	for _, el := range els {
		fmt.Fprintf(&sb, "[%d] %s", el.ID, shortType(el.Type))
		if el.Text != "" {
			fmt.Fprintf(&sb, " %q", truncate(el.Text, maxLabelLength))
		}
		if el.AccessibilityLabel != "" {
			fmt.Fprintf(&sb, " label=%q", truncate(el.AccessibilityLabel, maxLabelLength))
		}
		if el.ResourceID != "" {
			fmt.Fprintf(&sb, " id=%s", el.ResourceID)
		}
		if opts.IncludeCoordinates && el.Bounds != nil {
			if x, y, ok := CenterPercent(el, p.ScreenBounds); ok {
				fmt.Fprintf(&sb, " @(%.0f%%,%.0f%%)", x, y)
			}
		}
		switch {
		case el.Kind == KindInteractive:
			sb.WriteString(" tappable")
		case !el.States.Enabled:
			sb.WriteString(" disabled")
		}
		sb.WriteString("\n")
	}
	if p.TotalCount > len(els) {
		fmt.Fprintf(&sb, "(%d more elements omitted)\n", p.TotalCount-len(els))
	}
	return sb.String()
}

// CenterPercent converts an element center to percentages of the screen.
func CenterPercent(el *Element, screen *Bounds) (float64, float64, bool) {
	if el == nil || el.Bounds == nil || screen == nil || screen.Width <= 0 || screen.Height <= 0 {
		return 0, 0, false
	}
	x := float64(el.Bounds.CenterX-screen.X) / float64(screen.Width) * 100
	y := float64(el.Bounds.CenterY-screen.Y) / float64(screen.Height) * 100
	return clampPercent(x), clampPercent(y), true
}

func clampPercent(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}

func shortType(t string) string {
	if i := strings.LastIndex(t, "."); i >= 0 && i < len(t)-1 {
		return t[i+1:]
	}
	return t
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
