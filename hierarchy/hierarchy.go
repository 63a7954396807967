// Package hierarchy turns raw accessibility snapshots into an indexed element
// model and renders that model for the decision engine, both as text and as
// an annotated screenshot.
package hierarchy

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrEmptySnapshot is returned when the raw snapshot has no content.
	ErrEmptySnapshot = errors.New("empty hierarchy snapshot")

	// ErrInvalidSnapshot is returned when the raw snapshot is not valid JSON.
	ErrInvalidSnapshot = errors.New("invalid hierarchy snapshot")
)

// Platform identifies the device family a snapshot came from.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
)

// IsValid reports whether p is a supported platform.
func (p Platform) IsValid() bool {
	switch p {
	case PlatformIOS, PlatformAndroid:
		return true
	}
	return false
}

// Kind classifies an element by how the explorer can use it.
type Kind string

const (
	KindInteractive Kind = "interactive"
	KindText        Kind = "text"
	KindDecorative  Kind = "decorative"
)

// Bounds is an element rectangle in device units.
type Bounds struct {
	X       int `json:"x"`
	Y       int `json:"y"`
	Width   int `json:"width"`
	Height  int `json:"height"`
	CenterX int `json:"center_x"`
	CenterY int `json:"center_y"`
	Area    int `json:"area"`
}

func newBounds(x1, y1, x2, y2 int) *Bounds {
	if x2 < x1 {
		x1, x2 = x2, x1
	}
	if y2 < y1 {
		y1, y2 = y2, y1
	}
	w, h := x2-x1, y2-y1
	return &Bounds{
		X:       x1,
		Y:       y1,
		Width:   w,
		Height:  h,
		CenterX: x1 + w/2,
		CenterY: y1 + h/2,
		Area:    w * h,
	}
}

// States holds the boolean accessibility states of an element.
type States struct {
	Clickable bool `json:"clickable"`
	Enabled   bool `json:"enabled"`
	Focused   bool `json:"focused,omitempty"`
	Checked   bool `json:"checked,omitempty"`
	Selected  bool `json:"selected,omitempty"`
}

// Element is one node of a parsed snapshot. Ids are sequential and only
// stable within the snapshot they came from.
type Element struct {
	ID                 int     `json:"id"`
	Type               string  `json:"type"`
	Text               string  `json:"text,omitempty"`
	ResourceID         string  `json:"resource_id,omitempty"`
	AccessibilityLabel string  `json:"accessibility_label,omitempty"`
	Bounds             *Bounds `json:"bounds,omitempty"`
	States             States  `json:"states"`
	Kind               Kind    `json:"kind"`
}

// Label returns the most human-readable name for the element.
func (e *Element) Label() string {
	switch {
	case e.Text != "":
		return e.Text
	case e.AccessibilityLabel != "":
		return e.AccessibilityLabel
	default:
		return e.ResourceID
	}
}

// HasSemantics reports whether the element carries any machine-readable label.
func (e *Element) HasSemantics() bool {
	return e.Text != "" || e.ResourceID != "" || e.AccessibilityLabel != ""
}

// Parsed is the structured form of one raw snapshot.
type Parsed struct {
	Platform          Platform         `json:"platform"`
	Elements          map[int]*Element `json:"-"`
	ElementList       []*Element       `json:"elements"`
	Interactive       []*Element       `json:"-"`
	TextElements      []*Element       `json:"-"`
	ScreenBounds      *Bounds          `json:"screen_bounds,omitempty"`
	TotalCount        int              `json:"total_count"`
	SemanticsCoverage float64          `json:"semantics_coverage"`
}

// Element returns the element with the given id, if present.
func (p *Parsed) Element(id int) (*Element, bool) {
	if p == nil {
		return nil, false
	}
	el, ok := p.Elements[id]
	return el, ok
}

// rawNode mirrors the JSON tree printed by `maestro hierarchy`.
type rawNode struct {
	Attributes map[string]string `json:"attributes"`
	Children   []rawNode         `json:"children"`
	Clickable  *bool             `json:"clickable"`
	Enabled    *bool             `json:"enabled"`
	Focused    *bool             `json:"focused"`
	Checked    *bool             `json:"checked"`
	Selected   *bool             `json:"selected"`
	Frame      *rawFrame         `json:"frame"`
}

// rawFrame is the origin-and-size geometry iOS snapshots carry.
type rawFrame struct {
	X      float64 `json:"X"`
	Y      float64 `json:"Y"`
	Width  float64 `json:"Width"`
	Height float64 `json:"Height"`
}

func (f *rawFrame) bounds() *Bounds {
	x, y := int(math.Round(f.X)), int(math.Round(f.Y))
	return newBounds(x, y, x+int(math.Round(f.Width)), y+int(math.Round(f.Height)))
}

var (
	boundsPattern = regexp.MustCompile(`\[(-?\d+(?:\.\d+)?),(-?\d+(?:\.\d+)?)\]\[(-?\d+(?:\.\d+)?),(-?\d+(?:\.\d+)?)\]`)
	// {{x, y}, {w, h}}
	framePattern = regexp.MustCompile(`\{\{\s*(-?\d+(?:\.\d+)?)\s*,\s*(-?\d+(?:\.\d+)?)\s*\}\s*,\s*\{\s*(-?\d+(?:\.\d+)?)\s*,\s*(-?\d+(?:\.\d+)?)\s*\}\}`)
)

// Parse flattens a raw snapshot into a Parsed hierarchy using pre-order
// traversal. The same input always yields the same ids and coverage.
func Parse(raw []byte, platform Platform) (*Parsed, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, ErrEmptySnapshot
	}

	var root rawNode
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}

	p := &Parsed{
		Platform: platform,
		Elements: make(map[int]*Element),
	}

	var walk func(n *rawNode)
	walk = func(n *rawNode) {
		if el := toElement(n, platform); el != nil {
			el.ID = len(p.ElementList)
			p.Elements[el.ID] = el
			p.ElementList = append(p.ElementList, el)
		}
		for i := range n.Children {
			walk(&n.Children[i])
		}
	}
	walk(&root)

	var labelled int
	var maxX, maxY int
	for _, el := range p.ElementList {
		switch el.Kind {
		case KindInteractive:
			p.Interactive = append(p.Interactive, el)
		case KindText:
			p.TextElements = append(p.TextElements, el)
		}
		if el.HasSemantics() {
			labelled++
		}
		if el.Bounds != nil {
			maxX = max(maxX, el.Bounds.X+el.Bounds.Width)
			maxY = max(maxY, el.Bounds.Y+el.Bounds.Height)
		}
	}

	p.TotalCount = len(p.ElementList)
	if p.TotalCount > 0 {
		p.SemanticsCoverage = math.Round(float64(labelled)/float64(p.TotalCount)*10000) / 100
	}
	if maxX > 0 && maxY > 0 {
		p.ScreenBounds = newBounds(0, 0, maxX, maxY)
	}
	return p, nil
}

func toElement(n *rawNode, platform Platform) *Element {
	attrs := n.Attributes
	if len(attrs) == 0 && n.Clickable == nil && n.Enabled == nil && n.Frame == nil {
		return nil
	}

	el := &Element{
		Type:               firstNonEmpty(attrs, "class", "elementType", "type"),
		Text:               strings.TrimSpace(firstNonEmpty(attrs, "text", "title", "value")),
		ResourceID:         strings.TrimSpace(firstNonEmpty(attrs, "resource-id", "identifier", "id")),
		AccessibilityLabel: strings.TrimSpace(firstNonEmpty(attrs, "accessibilityText", "content-desc", "label", "hintText")),
		Bounds:             parseBounds(n),
	}
	if el.Type == "" {
		el.Type = "View"
	}
	// Maestro repeats the label in text and accessibilityText on iOS.
	if el.AccessibilityLabel == el.Text {
		el.AccessibilityLabel = ""
	}

	el.States = States{
		Clickable: boolState(n.Clickable, attrs, "clickable", false),
		Enabled:   boolState(n.Enabled, attrs, "enabled", true),
		Focused:   boolState(n.Focused, attrs, "focused", false),
		Checked:   boolState(n.Checked, attrs, "checked", false),
		Selected:  boolState(n.Selected, attrs, "selected", false),
	}
	if !el.States.Clickable && platform == PlatformIOS && looksInteractive(el.Type) {
		el.States.Clickable = true
	}

	switch {
	case el.States.Clickable && el.States.Enabled && el.Bounds != nil && el.Bounds.Area > 0:
		el.Kind = KindInteractive
	case el.Text != "" || el.AccessibilityLabel != "":
		el.Kind = KindText
	default:
		el.Kind = KindDecorative
	}
	return el
}

var interactiveTypeHints = []string{"button", "textfield", "edittext", "switch", "checkbox", "cell", "link", "tab", "slider", "searchfield", "segmented"}

func looksInteractive(t string) bool {
	lower := strings.ToLower(t)
	for _, hint := range interactiveTypeHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// parseBounds reads Android "[x1,y1][x2,y2]" bounds first, then an iOS frame
// given either as a node object or as a "{{x, y}, {w, h}}" attribute.
func parseBounds(n *rawNode) *Bounds {
	if v, ok := matchInts(boundsPattern, n.Attributes["bounds"]); ok {
		return newBounds(v[0], v[1], v[2], v[3])
	}
	if n.Frame != nil {
		return n.Frame.bounds()
	}
	if v, ok := matchInts(framePattern, n.Attributes["frame"]); ok {
		return newBounds(v[0], v[1], v[0]+v[2], v[1]+v[3])
	}
	return nil
}

func matchInts(re *regexp.Regexp, s string) ([4]int, bool) {
	var v [4]int
	m := re.FindStringSubmatch(s)
	if m == nil {
		return v, false
	}
	for i := range v {
		f, err := strconv.ParseFloat(m[i+1], 64)
		if err != nil {
			return v, false
		}
		v[i] = int(math.Round(f))
	}
	return v, true
}

func boolState(field *bool, attrs map[string]string, key string, def bool) bool {
	if field != nil {
		return *field
	}
	if v, ok := attrs[key]; ok {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func firstNonEmpty(attrs map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := attrs[k]; strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
