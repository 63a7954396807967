package explorer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hairizuanbinnoorazman/screenshot-explorer/action"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/automation"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/decision"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/hierarchy"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/llm/llmtest"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/logger"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/screenshot"
)

func TestNew_Validation(t *testing.T) {
	store := newTestStore(t)
	_, err := New(Config{Platform: hierarchy.PlatformIOS}, &fakeDevice{}, &scriptedDecider{}, store, logger.Noop())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(Config{AppID: "com.example", Platform: "web"}, &fakeDevice{}, &scriptedDecider{}, store, logger.Noop())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	e, err := New(Config{AppID: "com.example", Platform: hierarchy.PlatformAndroid}, &fakeDevice{}, &scriptedDecider{}, store, logger.Noop())
	require.NoError(t, err)
	assert.Equal(t, 4, e.Config().StuckThreshold)
	assert.Equal(t, 2, e.Config().MinScreenshots)
	assert.Equal(t, 64, e.Config().candidateCapacity())
}

// recordingDecider keeps every context and decision an inner decider sees.
type recordingDecider struct {
	inner     Decider
	contexts  []decision.Context
	decisions []*action.Decision
}

func (r *recordingDecider) Decide(ctx context.Context, c decision.Context) (*action.Decision, error) {
	r.contexts = append(r.contexts, c)
	d, err := r.inner.Decide(ctx, c)
	r.decisions = append(r.decisions, d)
	return d, err
}

func reply(kind string, params string, confidence float64, shot bool) string {
	return fmt.Sprintf(`{"action": %q, "params": %s, "reasoning": "test", "shouldScreenshot": %t, "confidence": %.2f}`,
		kind, params, shot, confidence)
}

func TestRun_TapTextFailuresEscalate(t *testing.T) {
	dev := newFakeDevice(t, "s0", map[string]int{"s0": 2, "s1": 3, "s2": 4, "s3": 5, "s4": 6})
	order := []string{"s0", "s1", "s2", "s3", "s4"}
	dev.route = func(call, current string) (string, error) {
		switch {
		case strings.HasPrefix(call, "tap "):
			for i, s := range order[:len(order)-1] {
				if s == current {
					return order[i+1], nil
				}
			}
			return "", nil
		case strings.HasPrefix(call, "tapText"):
			return "", fmt.Errorf("tapText: %w", automation.ErrElementNotFound)
		case call == "back":
			return "s0", nil
		}
		return "", nil
	}

	tap := reply("tap", `{"x": 50, "y": 40}`, 0.9, true)
	tapText := reply("tapText", `{"text": "Subscribe"}`, 0.9, false)
	primary := llmtest.New("primary", tap, tap, tap, tap, tapText, tapText, tapText,
		reply("scroll", `{"direction": "down"}`, 0.9, false))
	primary.Default = &llmtest.Reply{Text: reply("done", `{}`, 0.95, false)}
	fallback := llmtest.New("fallback",
		reply("tapText", `{"text": "Subscribe now"}`, 0.8, false),
		reply("tapText", `{"text": "Join"}`, 0.8, false),
		reply("back", `{}`, 0.9, false),
	)

	log := logger.NewTestLogger()
	engine, err := decision.NewEngine(decision.Policy{Primary: primary, Fallback: fallback}, decision.DefaultConfig(), log)
	require.NoError(t, err)
	rec := &recordingDecider{inner: engine}

	cfg := DefaultConfig("com.example.app", hierarchy.PlatformAndroid)
	cfg.MaxSteps = 10
	cfg.StuckThreshold = 6
	e, _, _ := newTestExplorer(t, cfg, dev, rec)

	res := e.Run(context.Background())

	require.Len(t, rec.contexts, 9)
	for i := 0; i < 4; i++ {
		assert.Equal(t, primary.ID(), rec.decisions[i].ModelUsed, "step %d", i+1)
		assert.Equal(t, action.KindTap, rec.decisions[i].Kind())
	}
	for i := 4; i < 7; i++ {
		assert.Equal(t, action.KindTapText, rec.decisions[i].Kind(), "step %d", i+1)
	}

	step8 := rec.contexts[7]
	assert.Equal(t, 8, step8.Step)
	assert.Equal(t, 3, step8.ConsecutiveTapTextFailures)
	assert.Equal(t, 3, step8.ConsecutiveActionFailures)
	assert.Equal(t, "fallback", rec.decisions[7].ModelUsed)
	assert.Contains(t, rec.decisions[7].EscalationReason, "3 consecutive action failures")
	assert.Equal(t, action.KindBack, rec.decisions[7].Kind())

	assert.Equal(t, EndDone, res.EndReason)
	assert.Equal(t, 9, res.Steps)
	assert.True(t, res.Success)
	assert.Equal(t, 4, res.DirectCount)
	assert.Zero(t, res.FallbackCount)
	assert.Len(t, res.Errors, 3)
	assert.Equal(t, 3, e.State().ConsecutiveTapTextFailures)
	assert.Zero(t, e.State().ConsecutiveActionFailures)

	stats := engine.Stats()
	assert.Equal(t, 9, stats.PrimaryCalls)
	assert.Equal(t, 3, stats.FallbackCalls)
	assert.Equal(t, 3, log.Count("info", "decision escalated to fallback model"))
}

func TestRun_StuckRunsOneLadderThenEnds(t *testing.T) {
	dev := newFakeDevice(t, "home", map[string]int{"home": 3})
	decider := &scriptedDecider{decisions: []*action.Decision{
		decide(action.Scroll{Direction: action.DirectionDown}, false),
		decide(action.Scroll{Direction: action.DirectionDown}, false),
		decide(action.Scroll{Direction: action.DirectionDown}, false),
	}}
	cfg := DefaultConfig("com.example.app", hierarchy.PlatformIOS)
	cfg.StuckThreshold = 2
	cfg.MaxSteps = 10
	e, _, _ := newTestExplorer(t, cfg, dev, decider)

	res := e.Run(context.Background())

	assert.Equal(t, EndStuck, res.EndReason)
	assert.Equal(t, 3, res.Steps)
	assert.Equal(t, 1, res.Recoveries)
	assert.Len(t, decider.contexts, 2)
	assert.Equal(t, []string{
		"launch",
		"scroll down", "scroll down",
		"swipe 2%,50%->80%,50%",
		"tap 94,6", "tap 6,94",
		"launch",
		"backGesture",
	}, dev.Calls())
	require.NotEmpty(t, res.Notes)
	assert.Contains(t, res.Notes[0], "screen stayed the same")
}

func TestRun_StuckLadderHonoursAttemptLimit(t *testing.T) {
	dev := newFakeDevice(t, "home", map[string]int{"home": 3})
	cfg := DefaultConfig("com.example.app", hierarchy.PlatformIOS)
	cfg.StuckThreshold = 1
	cfg.RecoveryAttempts = 1
	e, _, _ := newTestExplorer(t, cfg, dev, &scriptedDecider{decisions: []*action.Decision{
		decide(action.Back{}, false),
	}})

	res := e.Run(context.Background())

	assert.Equal(t, EndStuck, res.EndReason)
	assert.Equal(t, []string{"launch", "back", "swipe 2%,50%->80%,50%", "backGesture"}, dev.Calls())
}

func TestRun_StuckFallThroughSendsDistinctCommands(t *testing.T) {
	tests := []struct {
		name     string
		platform hierarchy.Platform
		ladder   []Rung
		want     []string
	}{
		{
			name:     "ios after edge swipe",
			platform: hierarchy.PlatformIOS,
			ladder:   []Rung{RungEdgeSwipeBack},
			want:     []string{"launch", "back", "swipe 2%,50%->80%,50%", "backGesture"},
		},
		{
			name:     "ios without edge swipe",
			platform: hierarchy.PlatformIOS,
			ladder:   []Rung{RungCornerTaps},
			want:     []string{"launch", "back", "tap 94,6", "tap 6,94", "back", "backGesture"},
		},
		{
			name:     "android",
			platform: hierarchy.PlatformAndroid,
			ladder:   []Rung{RungEdgeSwipeBack},
			want:     []string{"launch", "back", "swipe 2%,50%->80%,50%", "back", "backGesture"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := newFakeDevice(t, "home", map[string]int{"home": 3})
			cfg := DefaultConfig("com.example.app", tt.platform)
			cfg.StuckThreshold = 1
			cfg.RecoveryLadder = tt.ladder
			e, _, _ := newTestExplorer(t, cfg, dev, &scriptedDecider{decisions: []*action.Decision{
				decide(action.Back{}, false),
			}})

			res := e.Run(context.Background())

			assert.Equal(t, EndStuck, res.EndReason)
			assert.Equal(t, tt.want, dev.Calls())
		})
	}
}

func TestRun_StuckRecoveredByCornerTap(t *testing.T) {
	dev := newFakeDevice(t, "modal", map[string]int{"modal": 1, "feed": 4})
	dev.route = func(call, current string) (string, error) {
		if call == "tap 6,94" {
			return "feed", nil
		}
		return "", nil
	}
	decider := &scriptedDecider{decisions: []*action.Decision{
		decide(action.Wait{Millis: 100}, false),
		decide(action.Wait{Millis: 100}, false),
	}}
	cfg := DefaultConfig("com.example.app", hierarchy.PlatformAndroid)
	cfg.StuckThreshold = 2
	e, _, log := newTestExplorer(t, cfg, dev, decider)

	res := e.Run(context.Background())

	assert.Equal(t, EndDone, res.EndReason)
	assert.Equal(t, 4, res.Steps)
	assert.Equal(t, 1, res.Recoveries)
	assert.NotContains(t, dev.Calls()[1:], "launch")
	assert.Equal(t, 1, log.Count("info", "recovered from stuck screen"))
	require.Len(t, decider.contexts, 3)
	assert.Zero(t, decider.contexts[2].SameScreenCount)
	assert.Equal(t, 2, decider.contexts[2].ScreensVisited)
}

func TestRun_ObservationFailureConsumesStep(t *testing.T) {
	dev := newFakeDevice(t, "home", map[string]int{"home": 2})
	dev.screenshotErrs = 1
	cfg := DefaultConfig("com.example.app", hierarchy.PlatformIOS)
	e, _, log := newTestExplorer(t, cfg, dev, &scriptedDecider{})

	res := e.Run(context.Background())

	assert.Equal(t, EndDone, res.EndReason)
	assert.Equal(t, 2, res.Steps)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "step 1: observation failed")
	assert.Equal(t, 1, log.Count("warn", "observation failed"))
}

func TestRun_DecisionErrorSkipsStep(t *testing.T) {
	dev := newFakeDevice(t, "home", map[string]int{"home": 2})
	decider := &scriptedDecider{errs: map[int]error{0: action.ErrNoJSONObject}}
	e, _, _ := newTestExplorer(t, DefaultConfig("com.example.app", hierarchy.PlatformIOS), dev, decider)

	res := e.Run(context.Background())

	assert.Equal(t, EndDone, res.EndReason)
	assert.Equal(t, 2, res.Steps)
	assert.Equal(t, []string{"launch"}, dev.Calls())
	require.Len(t, decider.contexts, 2)
	assert.Len(t, decider.contexts[1].RecentErrors, 1)
}

func TestRun_ScreenshotActionGoesThroughDuplicateGate(t *testing.T) {
	dev := newFakeDevice(t, "home", map[string]int{"home": 2})
	decider := &scriptedDecider{decisions: []*action.Decision{
		decide(action.Screenshot{}, false),
		decide(action.Screenshot{}, false),
	}}
	e, store, _ := newTestExplorer(t, DefaultConfig("com.example.app", hierarchy.PlatformIOS), dev, decider)

	res := e.Run(context.Background())

	assert.Equal(t, 1, store.Count())
	assert.Equal(t, 1, res.DirectCount)
	assert.Zero(t, res.FallbackCount)
	require.Len(t, res.Screenshots, 1)
	assert.Equal(t, screenshot.SourceAction, res.Screenshots[0].Source)
	assert.Equal(t, "screenshot_01.png", res.Screenshots[0].Path)
	require.Len(t, res.Notes, 1)
	assert.Contains(t, res.Notes[0], "fallback pool exhausted")
}

func TestRun_StopsAtTarget(t *testing.T) {
	dev := newFakeDevice(t, "a", map[string]int{"a": 1, "b": 2, "c": 3})
	next := map[string]string{"a": "b", "b": "c", "c": "a"}
	dev.route = func(call, current string) (string, error) {
		if call == "scroll down" {
			return next[current], nil
		}
		return "", nil
	}
	scroll := decide(action.Scroll{Direction: action.DirectionDown}, true)
	decider := &scriptedDecider{decisions: []*action.Decision{scroll, scroll, scroll, scroll}}
	cfg := DefaultConfig("com.example.app", hierarchy.PlatformAndroid)
	cfg.TargetScreenshots = 2
	e, _, _ := newTestExplorer(t, cfg, dev, decider)

	res := e.Run(context.Background())

	assert.Equal(t, EndTargetReached, res.EndReason)
	assert.Equal(t, 2, res.Steps)
	assert.Equal(t, 2, res.DirectCount)
	for _, r := range res.Screenshots {
		assert.Equal(t, screenshot.SourceAuto, r.Source)
	}
	assert.Empty(t, res.Notes)

	seen := make(map[string]bool)
	autos := 0
	for _, name := range dev.shots {
		assert.False(t, seen[name], "debug image %s written twice", name)
		seen[name] = true
		if strings.HasSuffix(name, "_auto") {
			autos++
		}
	}
	assert.Equal(t, 2, autos)
}

func TestRun_FallbackTopUpByScore(t *testing.T) {
	tests := []struct {
		name      string
		min       int
		wantSteps []int
		wantNote  string
	}{
		{name: "stops at minimum", min: 2, wantSteps: []int{2, 3}, wantNote: "added 2 fallback candidates to reach 2"},
		{name: "exhausts pool", min: 5, wantSteps: []int{2, 3, 1}, wantNote: "fallback pool exhausted after adding 3, 2 short of 5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Scores: a=6, b=13, c=8.
			dev := newFakeDevice(t, "a", map[string]int{"a": 1, "b": 4, "c": 2})
			next := map[string]string{"a": "b", "b": "c"}
			dev.route = func(call, current string) (string, error) {
				if call == "scroll down" {
					return next[current], nil
				}
				return "", nil
			}
			scroll := decide(action.Scroll{Direction: action.DirectionDown}, false)
			decider := &scriptedDecider{decisions: []*action.Decision{scroll, scroll}}
			cfg := DefaultConfig("com.example.app", hierarchy.PlatformAndroid)
			cfg.MinScreenshots = tt.min
			e, _, _ := newTestExplorer(t, cfg, dev, decider)

			res := e.Run(context.Background())

			assert.Equal(t, EndDone, res.EndReason)
			assert.Zero(t, res.DirectCount)
			assert.Equal(t, len(tt.wantSteps), res.FallbackCount)
			var steps []int
			for _, r := range res.Screenshots {
				assert.Equal(t, screenshot.SourceFallback, r.Source)
				steps = append(steps, r.Step)
			}
			assert.Equal(t, tt.wantSteps, steps)
			require.Len(t, res.Notes, 1)
			assert.Contains(t, res.Notes[0], tt.wantNote)
			assert.True(t, res.Success)
		})
	}
}

func TestRun_ActionFailuresDoNotAbort(t *testing.T) {
	dev := newFakeDevice(t, "home", map[string]int{"home": 2})
	dev.route = func(call, current string) (string, error) {
		if strings.HasPrefix(call, "tapElementById") {
			return "", automation.ErrElementNotClickable
		}
		return "", nil
	}
	decider := &scriptedDecider{decisions: []*action.Decision{
		decide(action.TapElementByID{ElementID: 1}, false),
		decide(action.TapElementByID{ElementID: 1}, false),
	}}
	cfg := DefaultConfig("com.example.app", hierarchy.PlatformAndroid)
	e, _, _ := newTestExplorer(t, cfg, dev, decider)

	res := e.Run(context.Background())

	assert.Equal(t, EndDone, res.EndReason)
	require.Len(t, decider.contexts, 3)
	last := decider.contexts[2]
	assert.Equal(t, 2, last.ConsecutiveActionFailures)
	assert.Zero(t, last.ConsecutiveTapTextFailures)
	assert.InDelta(t, 1.0, last.RecentFailureRate, 0.001)
	require.Len(t, last.RecentActions, 2)
	assert.False(t, last.RecentActions[1].Success)
	assert.Contains(t, last.RecentActions[1].Error, "not clickable")
	assert.Len(t, res.Errors, 2)
}

func TestRun_CancelledContext(t *testing.T) {
	dev := newFakeDevice(t, "home", map[string]int{"home": 2})
	e, _, _ := newTestExplorer(t, DefaultConfig("com.example.app", hierarchy.PlatformIOS), dev, &scriptedDecider{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := e.Run(ctx)

	assert.Equal(t, EndCancelled, res.EndReason)
	assert.Zero(t, res.Steps)
	assert.False(t, res.Success)
}

func TestPerform_Dispatch(t *testing.T) {
	dev := newFakeDevice(t, "home", map[string]int{"home": 1})
	e, _, _ := newTestExplorer(t, DefaultConfig("com.example.app", hierarchy.PlatformIOS), dev, &scriptedDecider{})
	ctx := context.Background()

	from, to := action.Point{X: 10, Y: 80}, action.Point{X: 10, Y: 20}
	actions := []action.Action{
		action.Tap{At: action.Point{X: 50, Y: 50}},
		action.Swipe{Direction: action.DirectionLeft},
		action.Swipe{From: &from, To: &to},
		action.EraseText{Count: 4},
		action.PressKey{Key: "Enter"},
		action.Wait{Millis: 200},
	}
	for _, a := range actions {
		require.NoError(t, e.perform(ctx, a, nil), a.String())
	}
	assert.Equal(t, []string{
		"tap 50,50",
		"swipe left",
		"swipe 10%,80%->10%,20%",
		"eraseText 4",
		"pressKey Enter",
	}, dev.Calls())

	err := e.perform(ctx, action.Done{}, nil)
	assert.True(t, errors.Is(err, ErrNotDispatchable))
}
