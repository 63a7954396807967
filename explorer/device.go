package explorer

import (
	"context"
	"time"

	"github.com/hairizuanbinnoorazman/screenshot-explorer/action"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/decision"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/hierarchy"
)

// Device is the automation surface a run drives. *automation.Client
// satisfies it.
type Device interface {
	Launch(ctx context.Context, clearState bool) error
	Tap(ctx context.Context, x, y float64) error
	TapText(ctx context.Context, text string) error
	TapResourceID(ctx context.Context, id string) error
	TapElementByID(ctx context.Context, id int, parsed *hierarchy.Parsed) error
	DoubleTap(ctx context.Context, x, y float64) error
	LongPress(ctx context.Context, x, y float64) error
	Scroll(ctx context.Context, d action.Direction) error
	Swipe(ctx context.Context, d action.Direction) error
	SwipeBetween(ctx context.Context, from, to action.Point) error
	InputText(ctx context.Context, text string) error
	EraseText(ctx context.Context, n int) error
	HideKeyboard(ctx context.Context) error
	Back(ctx context.Context) error
	BackGesture(ctx context.Context) error
	PressKey(ctx context.Context, key string) error
	OpenLink(ctx context.Context, url string) error
	WaitForAnimation(ctx context.Context, timeout time.Duration) error
	Screenshot(ctx context.Context, step int, kind string) ([]byte, error)
	Hierarchy(ctx context.Context) ([]byte, error)
	SaveDebug(ctx context.Context, step int, kind string, img []byte)
}

// Decider picks the next action. *decision.Engine satisfies it.
type Decider interface {
	Decide(ctx context.Context, c decision.Context) (*action.Decision, error)
}
