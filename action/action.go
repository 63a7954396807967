// Package action defines the closed vocabulary of UI actions the explorer can
// take and the Decision envelope the models return.
package action

import (
	"fmt"
	"strings"
)

// Kind is the wire name of an action.
type Kind string

const (
	KindTap            Kind = "tap"
	KindTapText        Kind = "tapText"
	KindTapElementByID Kind = "tapElementById"
	KindTapResourceID  Kind = "tapResourceId"
	KindDoubleTap      Kind = "doubleTap"
	KindLongPress      Kind = "longPress"
	KindScroll         Kind = "scroll"
	KindSwipe          Kind = "swipe"
	KindInputText      Kind = "inputText"
	KindEraseText      Kind = "eraseText"
	KindHideKeyboard   Kind = "hideKeyboard"
	KindBack           Kind = "back"
	KindOpenLink       Kind = "openLink"
	KindPressKey       Kind = "pressKey"
	KindScreenshot     Kind = "screenshot"
	KindWait           Kind = "wait"
	KindDone           Kind = "done"
)

// Kinds lists the full vocabulary in prompt order.
var Kinds = []Kind{
	KindTap, KindTapText, KindTapElementByID, KindTapResourceID, KindDoubleTap,
	KindLongPress, KindScroll, KindSwipe, KindInputText, KindEraseText,
	KindHideKeyboard, KindBack, KindOpenLink, KindPressKey, KindScreenshot,
	KindWait, KindDone,
}

// IsValid reports whether k is part of the vocabulary.
func (k Kind) IsValid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Direction is a scroll or swipe direction.
type Direction string

const (
	DirectionUp    Direction = "up"
	DirectionDown  Direction = "down"
	DirectionLeft  Direction = "left"
	DirectionRight Direction = "right"
)

// ParseDirection accepts any casing of up/down/left/right.
func ParseDirection(s string) (Direction, bool) {
	d := Direction(strings.ToLower(strings.TrimSpace(s)))
	switch d {
	case DirectionUp, DirectionDown, DirectionLeft, DirectionRight:
		return d, true
	}
	return "", false
}

// Action is implemented only by the types in this package.
type Action interface {
	Kind() Kind
	String() string
	isAction()
}

// Point is a screen position in percent of width and height.
type Point struct {
	X float64
	Y float64
}

func (p Point) String() string { return fmt.Sprintf("%.0f%%,%.0f%%", p.X, p.Y) }

type (
	Tap            struct{ At Point }
	TapText        struct{ Text string }
	TapElementByID struct{ ElementID int }
	TapResourceID  struct{ ResourceID string }
	DoubleTap      struct{ At Point }
	LongPress      struct{ At Point }
	Scroll         struct{ Direction Direction }
	InputText      struct{ Text string }
	EraseText      struct{ Count int }
	HideKeyboard   struct{}
	Back           struct{}
	OpenLink       struct{ URL string }
	PressKey       struct{ Key string }
	Screenshot     struct{}
	Wait           struct{ Millis int }
	Done           struct{}
)

// Swipe moves either in a direction or between two explicit points.
type Swipe struct {
	Direction Direction
	From, To  *Point
}

func (Tap) Kind() Kind            { return KindTap }
func (TapText) Kind() Kind        { return KindTapText }
func (TapElementByID) Kind() Kind { return KindTapElementByID }
func (TapResourceID) Kind() Kind  { return KindTapResourceID }
func (DoubleTap) Kind() Kind      { return KindDoubleTap }
func (LongPress) Kind() Kind      { return KindLongPress }
func (Scroll) Kind() Kind         { return KindScroll }
func (Swipe) Kind() Kind          { return KindSwipe }
func (InputText) Kind() Kind      { return KindInputText }
func (EraseText) Kind() Kind      { return KindEraseText }
func (HideKeyboard) Kind() Kind   { return KindHideKeyboard }
func (Back) Kind() Kind           { return KindBack }
func (OpenLink) Kind() Kind       { return KindOpenLink }
func (PressKey) Kind() Kind       { return KindPressKey }
func (Screenshot) Kind() Kind     { return KindScreenshot }
func (Wait) Kind() Kind           { return KindWait }
func (Done) Kind() Kind           { return KindDone }

func (Tap) isAction()            {}
func (TapText) isAction()        {}
func (TapElementByID) isAction() {}
func (TapResourceID) isAction()  {}
func (DoubleTap) isAction()      {}
func (LongPress) isAction()      {}
func (Scroll) isAction()         {}
func (Swipe) isAction()          {}
func (InputText) isAction()      {}
func (EraseText) isAction()      {}
func (HideKeyboard) isAction()   {}
func (Back) isAction()           {}
func (OpenLink) isAction()       {}
func (PressKey) isAction()       {}
func (Screenshot) isAction()     {}
func (Wait) isAction()           {}
func (Done) isAction()           {}

func (a Tap) String() string            { return fmt.Sprintf("tap(%s)", a.At) }
func (a TapText) String() string        { return fmt.Sprintf("tapText(%q)", a.Text) }
func (a TapElementByID) String() string { return fmt.Sprintf("tapElementById(%d)", a.ElementID) }
func (a TapResourceID) String() string  { return fmt.Sprintf("tapResourceId(%q)", a.ResourceID) }
func (a DoubleTap) String() string      { return fmt.Sprintf("doubleTap(%s)", a.At) }
func (a LongPress) String() string      { return fmt.Sprintf("longPress(%s)", a.At) }
func (a Scroll) String() string         { return fmt.Sprintf("scroll(%s)", a.Direction) }
func (a InputText) String() string      { return fmt.Sprintf("inputText(%q)", a.Text) }
func (a EraseText) String() string      { return fmt.Sprintf("eraseText(%d)", a.Count) }
func (HideKeyboard) String() string     { return "hideKeyboard()" }
func (Back) String() string             { return "back()" }
func (a OpenLink) String() string       { return fmt.Sprintf("openLink(%q)", a.URL) }
func (a PressKey) String() string       { return fmt.Sprintf("pressKey(%q)", a.Key) }
func (Screenshot) String() string       { return "screenshot()" }
func (a Wait) String() string           { return fmt.Sprintf("wait(%dms)", a.Millis) }
func (Done) String() string             { return "done()" }

func (a Swipe) String() string {
	if a.From != nil && a.To != nil {
		return fmt.Sprintf("swipe(%s -> %s)", a.From, a.To)
	}
	return fmt.Sprintf("swipe(%s)", a.Direction)
}

// Decision is one model answer: exactly one action plus its metadata.
type Decision struct {
	Action           Action
	Reasoning        string
	ShouldScreenshot bool
	Confidence       float64
	ModelUsed        string
	EscalationReason string
}

// Kind is a nil-safe shortcut for d.Action.Kind().
func (d *Decision) Kind() Kind {
	if d == nil || d.Action == nil {
		return ""
	}
	return d.Action.Kind()
}
