package explorer

import (
	"context"
	"fmt"

	"github.com/hairizuanbinnoorazman/screenshot-explorer/action"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/hierarchy"
)

var (
	edgeSwipeFrom = action.Point{X: 2, Y: 50}
	edgeSwipeTo   = action.Point{X: 80, Y: 50}
	cornerPoints  = []action.Point{{X: 94, Y: 6}, {X: 6, Y: 94}}
)

// unstick tries to move off the screen with signature stuck. It walks the
// configured ladder, then a plain back unless the ladder already swiped back,
// then the platform back gesture, and reports whether any of them produced a different screen.
func (e *Explorer) unstick(ctx context.Context, step int, stuck string) bool {
	e.state.Recoveries++
	ladder := e.cfg.RecoveryLadder[:min(len(e.cfg.RecoveryLadder), e.cfg.RecoveryAttempts)]

	attempts := make([]recoveryAttempt, 0, len(ladder)+2)
	swiped := false
	for _, r := range ladder {
		attempts = append(attempts, recoveryAttempt{name: string(r), run: e.rung(r)})
		swiped = swiped || r == RungEdgeSwipeBack
	}
	// Back on iOS is the same left-edge swipe as the first rung.
	if !swiped || e.cfg.Platform != hierarchy.PlatformIOS {
		attempts = append(attempts, recoveryAttempt{name: "back", run: e.device.Back})
	}
	attempts = append(attempts, recoveryAttempt{name: "back_gesture", run: e.device.BackGesture})

	for i, a := range attempts {
		if ctx.Err() != nil {
			return false
		}
		log := map[string]interface{}{"step": step, "attempt": i + 1, "recovery": a.name}
		if err := a.run(ctx); err != nil {
			log["error"] = err.Error()
			e.logger.Warn(ctx, "recovery action failed", log)
			e.state.addError(fmt.Sprintf("recovery %s: %v", a.name, err))
			continue
		}
		_ = e.sleep(ctx, e.cfg.DefaultSettle)
		sig, err := e.probe(ctx)
		if err != nil {
			log["error"] = err.Error()
			e.logger.Warn(ctx, "could not read screen after recovery", log)
			continue
		}
		if sig != stuck {
			e.logger.Info(ctx, "recovered from stuck screen", log)
			e.state.SameScreenCount = 0
			return true
		}
		e.logger.Debug(ctx, "screen unchanged after recovery action", log)
	}
	return false
}

type recoveryAttempt struct {
	name string
	run  func(context.Context) error
}

func (e *Explorer) rung(r Rung) func(context.Context) error {
	switch r {
	case RungEdgeSwipeBack:
		return func(ctx context.Context) error {
			return e.device.SwipeBetween(ctx, edgeSwipeFrom, edgeSwipeTo)
		}
	case RungCornerTaps:
		return func(ctx context.Context) error {
			for _, p := range cornerPoints {
				if err := e.device.Tap(ctx, p.X, p.Y); err != nil {
					return err
				}
				_ = e.sleep(ctx, e.cfg.DefaultSettle)
			}
			return nil
		}
	case RungRelaunch:
		return func(ctx context.Context) error {
			if err := e.device.Launch(ctx, false); err != nil {
				return err
			}
			return e.sleep(ctx, e.cfg.LaunchSettle)
		}
	default:
		return func(context.Context) error { return fmt.Errorf("%w: %q", ErrUnknownRung, r) }
	}
}

// probe reads the current signature from the hierarchy alone.
func (e *Explorer) probe(ctx context.Context) (string, error) {
	raw, err := e.device.Hierarchy(ctx)
	if err != nil {
		return "", err
	}
	p, err := hierarchy.Parse(raw, e.cfg.Platform)
	if err != nil {
		return "", err
	}
	return Signature(p), nil
}
