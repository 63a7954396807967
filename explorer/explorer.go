// Package explorer drives one app through the observe, decide and act loop
// and produces the final screenshot set.
package explorer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hairizuanbinnoorazman/screenshot-explorer/action"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/decision"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/hierarchy"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/logger"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/screenshot"
)

var (
	ErrNotDispatchable = errors.New("action cannot be dispatched to the device")
	ErrUnknownRung     = errors.New("unknown recovery rung")
	ErrInvalidConfig   = errors.New("invalid explorer config")
)

// EndReason says why the loop stopped.
type EndReason string

const (
	EndDone          EndReason = "done"
	EndTargetReached EndReason = "target_reached"
	EndStepBudget    EndReason = "step_budget"
	EndStuck         EndReason = "stuck"
	EndCancelled     EndReason = "cancelled"
)

// Debug image kinds, one file per kind and step.
const (
	debugRaw       = "raw"
	debugAnnotated = "annotated"
	debugAuto      = "auto"
)

// Result is the outcome of one run. A run that saved anything is a success,
// even when it also reports errors.
type Result struct {
	Success       bool                `json:"success"`
	Screenshots   []screenshot.Record `json:"screenshots"`
	DirectCount   int                 `json:"direct_count"`
	FallbackCount int                 `json:"fallback_count"`
	Steps         int                 `json:"steps"`
	Recoveries    int                 `json:"recoveries"`
	EndReason     EndReason           `json:"end_reason"`
	Errors        []string            `json:"errors,omitempty"`
	Notes         []string            `json:"notes,omitempty"`
}

// Explorer runs a single exploration. It is not safe for concurrent use.
type Explorer struct {
	cfg     Config
	device  Device
	decider Decider
	store   *screenshot.Store
	logger  logger.Logger
	state   *State
	sleepFn func(context.Context, time.Duration) error
}

// New validates cfg, fills defaults and returns an Explorer.
func New(cfg Config, device Device, decider Decider, store *screenshot.Store, log logger.Logger) (*Explorer, error) {
	if cfg.AppID == "" {
		return nil, fmt.Errorf("%w: app id is required", ErrInvalidConfig)
	}
	if !cfg.Platform.IsValid() {
		return nil, fmt.Errorf("%w: unsupported platform %q", ErrInvalidConfig, cfg.Platform)
	}
	cfg = cfg.normalize()
	return &Explorer{
		cfg:     cfg,
		device:  device,
		decider: decider,
		store:   store,
		logger:  log.WithFields(map[string]interface{}{"app_id": cfg.AppID, "platform": string(cfg.Platform)}),
	}, nil
}

// Config returns the effective configuration.
func (e *Explorer) Config() Config { return e.cfg }

// State exposes the run's memory for inspection after Run.
func (e *Explorer) State() *State { return e.state }

type observation struct {
	raw       []byte
	annotated []byte
	parsed    *hierarchy.Parsed
	signature string
	imageHash string
}

// Run explores until the model says done, the screenshot target is met, the
// step budget runs out, recovery fails or ctx ends.
func (e *Explorer) Run(ctx context.Context) *Result {
	e.state = newState(e.cfg)
	res := &Result{}

	e.logger.Info(ctx, "exploration started", map[string]interface{}{
		"max_steps": e.cfg.MaxSteps,
		"target":    e.cfg.TargetScreenshots,
	})
	if err := e.launch(ctx); err != nil {
		e.fail(ctx, res, 0, "launch failed", err)
	}

	step := 0
loop:
	for step < e.cfg.MaxSteps {
		if ctx.Err() != nil {
			res.EndReason = EndCancelled
			break
		}
		if e.store.Count() >= e.cfg.TargetScreenshots {
			res.EndReason = EndTargetReached
			break
		}
		step++

		obs, err := e.observe(ctx, step)
		if err != nil {
			e.fail(ctx, res, step, "observation failed", err)
			_ = e.sleep(ctx, e.cfg.ObserveRetryDelay)
			continue
		}
		e.register(obs, step)

		if repeats := e.state.observe(obs.signature); repeats >= e.cfg.StuckThreshold {
			e.logger.Warn(ctx, "screen unchanged; starting recovery", map[string]interface{}{
				"step":    step,
				"repeats": repeats,
			})
			if !e.unstick(ctx, step, obs.signature) {
				res.EndReason = EndStuck
				res.Notes = append(res.Notes, fmt.Sprintf("session ended at step %d: screen stayed the same after every recovery attempt", step))
				break
			}
			continue
		}

		d, err := e.decider.Decide(ctx, e.decisionContext(obs, step))
		if err != nil {
			e.fail(ctx, res, step, "decision failed", err)
			continue
		}
		e.logger.Info(ctx, "decision", map[string]interface{}{
			"step":       step,
			"action":     d.Action.String(),
			"confidence": d.Confidence,
			"model":      d.ModelUsed,
			"reasoning":  d.Reasoning,
		})

		switch d.Kind() {
		case action.KindDone:
			res.EndReason = EndDone
			break loop
		case action.KindScreenshot:
			e.capture(ctx, obs.raw, obs.parsed, screenshot.SourceAction, step)
			continue
		}

		err = e.perform(ctx, d.Action, obs.parsed)
		e.state.record(step, d.Action, err)
		if err != nil {
			e.logger.Warn(ctx, "action failed", map[string]interface{}{
				"step":   step,
				"action": d.Action.String(),
				"error":  err.Error(),
			})
			res.Errors = append(res.Errors, fmt.Sprintf("step %d: %s failed: %v", step, d.Action, err))
			continue
		}
		_ = e.sleep(ctx, e.cfg.settleFor(d.Kind()))

		if d.ShouldScreenshot {
			e.autoCapture(ctx, step)
		}
	}
	if res.EndReason == "" {
		res.EndReason = EndStepBudget
	}
	res.Steps = step

	e.topUp(ctx, res)
	e.finish(ctx, res)
	return res
}

func (e *Explorer) launch(ctx context.Context) error {
	if err := e.device.Launch(ctx, e.cfg.ClearStateOnLaunch); err != nil {
		return err
	}
	return e.sleep(ctx, e.cfg.LaunchSettle)
}

// fail records a non-fatal error. Step 0 means outside the loop.
func (e *Explorer) fail(ctx context.Context, res *Result, step int, what string, err error) {
	e.logger.Warn(ctx, what, map[string]interface{}{"step": step, "error": err.Error()})
	msg := fmt.Sprintf("%s: %v", what, err)
	if step > 0 {
		msg = fmt.Sprintf("step %d: %s", step, msg)
	}
	res.Errors = append(res.Errors, msg)
	e.state.addError(msg)
}

// observe captures the screen and hierarchy, parses it and renders the
// annotated image the model sees.
func (e *Explorer) observe(ctx context.Context, step int) (*observation, error) {
	img, err := e.device.Screenshot(ctx, step, debugRaw)
	if err != nil {
		return nil, err
	}
	raw, err := e.device.Hierarchy(ctx)
	if err != nil {
		return nil, err
	}
	parsed, err := hierarchy.Parse(raw, e.cfg.Platform)
	if err != nil {
		return nil, err
	}

	annotated, err := hierarchy.Annotate(img, parsed, e.cfg.ListOptions)
	if err != nil {
		e.logger.Debug(ctx, "annotation skipped", map[string]interface{}{"step": step, "error": err.Error()})
		annotated = img
	} else {
		e.device.SaveDebug(ctx, step, debugAnnotated, annotated)
	}

	return &observation{
		raw:       img,
		annotated: annotated,
		parsed:    parsed,
		signature: Signature(parsed),
		imageHash: screenshot.ContentHash(img),
	}, nil
}

func (e *Explorer) register(obs *observation, step int) {
	e.state.candidates.add(&Candidate{
		Image:     obs.raw,
		Parsed:    obs.parsed,
		ImageHash: obs.imageHash,
		Score:     QualityScore(obs.parsed),
		Step:      step,
	})
}

func (e *Explorer) decisionContext(obs *observation, step int) decision.Context {
	s := e.state
	return decision.Context{
		AppID:                      e.cfg.AppID,
		Platform:                   e.cfg.Platform,
		Parsed:                     obs.parsed,
		Image:                      obs.annotated,
		Step:                       step,
		MaxSteps:                   e.cfg.MaxSteps,
		Captured:                   e.store.Count(),
		TargetScreenshots:          e.cfg.TargetScreenshots,
		SameScreenCount:            s.SameScreenCount,
		ScreensVisited:             s.ScreensVisited(),
		ConsecutiveActionFailures:  s.ConsecutiveActionFailures,
		ConsecutiveTapTextFailures: s.ConsecutiveTapTextFailures,
		RecentFailureRate:          s.FailureRate(),
		RecentActions:              append([]decision.Outcome(nil), s.LastActions...),
		RecentErrors:               append([]string(nil), s.RecentErrors...),
	}
}

// capture persists img through the duplicate gate.
func (e *Explorer) capture(ctx context.Context, img []byte, parsed *hierarchy.Parsed, src screenshot.Source, step int) bool {
	_, err := e.store.Save(ctx, img, parsed, src, step)
	switch {
	case errors.Is(err, screenshot.ErrDuplicate):
		e.logger.Debug(ctx, "duplicate screenshot skipped", map[string]interface{}{"step": step, "source": string(src)})
		return false
	case err != nil:
		e.logger.Error(ctx, "failed to save screenshot", map[string]interface{}{"step": step, "error": err.Error()})
		e.state.addError(fmt.Sprintf("save screenshot: %v", err))
		return false
	}
	return true
}

// autoCapture takes a fresh capture of the screen an action led to.
func (e *Explorer) autoCapture(ctx context.Context, step int) {
	img, err := e.device.Screenshot(ctx, step, debugAuto)
	if err != nil {
		e.logger.Warn(ctx, "auto screenshot failed", map[string]interface{}{"step": step, "error": err.Error()})
		e.state.addError(fmt.Sprintf("auto screenshot: %v", err))
		return
	}
	var parsed *hierarchy.Parsed
	if raw, err := e.device.Hierarchy(ctx); err == nil {
		parsed, _ = hierarchy.Parse(raw, e.cfg.Platform)
	}
	e.capture(ctx, img, parsed, screenshot.SourceAuto, step)
}

// topUp backfills from the candidate pool when direct captures fall short of
// the minimum.
func (e *Explorer) topUp(ctx context.Context, res *Result) {
	direct := e.store.CountDirect()
	if direct >= e.cfg.MinScreenshots {
		return
	}
	added := 0
	for _, c := range e.state.candidates.ranked() {
		if e.store.Count() >= e.cfg.MinScreenshots {
			break
		}
		if e.store.IsDuplicate(c.Image) {
			continue
		}
		if e.capture(ctx, c.Image, c.Parsed, screenshot.SourceFallback, c.Step) {
			added++
		}
	}

	if e.store.Count() >= e.cfg.MinScreenshots {
		res.Notes = append(res.Notes, fmt.Sprintf("only %d direct screenshots; added %d fallback candidates to reach %d", direct, added, e.cfg.MinScreenshots))
	} else {
		res.Notes = append(res.Notes, fmt.Sprintf("only %d direct screenshots; fallback pool exhausted after adding %d, %d short of %d", direct, added, e.cfg.MinScreenshots-e.store.Count(), e.cfg.MinScreenshots))
	}
	e.logger.Info(ctx, "fallback top-up finished", map[string]interface{}{
		"direct": direct,
		"added":  added,
		"total":  e.store.Count(),
	})
}

func (e *Explorer) finish(ctx context.Context, res *Result) {
	res.Screenshots = e.store.All()
	for _, r := range res.Screenshots {
		if r.Source.Direct() {
			res.DirectCount++
		} else {
			res.FallbackCount++
		}
	}
	res.Recoveries = e.state.Recoveries
	res.Success = len(res.Screenshots) > 0

	if err := e.store.WriteManifest(ctx); err != nil {
		e.logger.Warn(ctx, "failed to write manifest", map[string]interface{}{"error": err.Error()})
	}
	e.logger.Info(ctx, "exploration finished", map[string]interface{}{
		"steps":       res.Steps,
		"end_reason":  string(res.EndReason),
		"screenshots": len(res.Screenshots),
		"direct":      res.DirectCount,
		"fallback":    res.FallbackCount,
		"errors":      len(res.Errors),
	})
}
