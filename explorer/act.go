package explorer

import (
	"context"
	"fmt"
	"time"

	"github.com/hairizuanbinnoorazman/screenshot-explorer/action"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/hierarchy"
)

// perform dispatches a to the matching device primitive.
func (e *Explorer) perform(ctx context.Context, a action.Action, parsed *hierarchy.Parsed) error {
	switch a := a.(type) {
	case action.Tap:
		return e.device.Tap(ctx, a.At.X, a.At.Y)
	case action.TapText:
		return e.device.TapText(ctx, a.Text)
	case action.TapElementByID:
		return e.device.TapElementByID(ctx, a.ElementID, parsed)
	case action.TapResourceID:
		return e.device.TapResourceID(ctx, a.ResourceID)
	case action.DoubleTap:
		return e.device.DoubleTap(ctx, a.At.X, a.At.Y)
	case action.LongPress:
		return e.device.LongPress(ctx, a.At.X, a.At.Y)
	case action.Scroll:
		return e.device.Scroll(ctx, a.Direction)
	case action.Swipe:
		if a.From != nil && a.To != nil {
			return e.device.SwipeBetween(ctx, *a.From, *a.To)
		}
		return e.device.Swipe(ctx, a.Direction)
	case action.InputText:
		return e.device.InputText(ctx, a.Text)
	case action.EraseText:
		return e.device.EraseText(ctx, a.Count)
	case action.HideKeyboard:
		return e.device.HideKeyboard(ctx)
	case action.Back:
		return e.device.Back(ctx)
	case action.OpenLink:
		return e.device.OpenLink(ctx, a.URL)
	case action.PressKey:
		return e.device.PressKey(ctx, a.Key)
	case action.Wait:
		return e.sleep(ctx, time.Duration(a.Millis)*time.Millisecond)
	default:
		return fmt.Errorf("%w: %s", ErrNotDispatchable, a.Kind())
	}
}

// sleep waits for d unless ctx ends first.
func (e *Explorer) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	if e.sleepFn != nil {
		return e.sleepFn(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
