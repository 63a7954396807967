// Package decision picks the next exploration action with a primary vision
// model and escalates doubtful picks to a fallback model.
package decision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hairizuanbinnoorazman/screenshot-explorer/action"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/llm"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/logger"
)

var (
	// ErrNoPrimaryModel is returned by NewEngine when the policy has no primary model.
	ErrNoPrimaryModel = errors.New("decision policy requires a primary model")
)

// Policy groups the models and the escalation rule.
type Policy struct {
	Primary    llm.Model
	Fallback   llm.Model
	Escalation EscalationPredicate
}

// Stats counts model usage over the engine's lifetime.
type Stats struct {
	PrimaryCalls     int `json:"primary_calls"`
	Escalations      int `json:"escalations"`
	FallbackCalls    int `json:"fallback_calls"`
	FallbackFailures int `json:"fallback_failures"`
}

// Engine is not safe for concurrent use; each job owns one.
type Engine struct {
	policy   Policy
	cfg      Config
	logger   logger.Logger
	history  []llm.Message
	stats    Stats
	warnOnce sync.Once
}

// NewEngine builds an engine. A nil Escalation uses DefaultEscalation.
func NewEngine(policy Policy, cfg Config, log logger.Logger) (*Engine, error) {
	if policy.Primary == nil {
		return nil, ErrNoPrimaryModel
	}
	if policy.Escalation == nil {
		policy.Escalation = DefaultEscalation
	}
	return &Engine{
		policy: policy,
		cfg:    cfg.Normalize(),
		logger: log,
	}, nil
}

// Config returns the normalized configuration.
func (e *Engine) Config() Config { return e.cfg }

// Stats returns usage counters.
func (e *Engine) Stats() Stats { return e.stats }

// Decide asks the primary model for the next action and escalates it when the
// policy finds reasons to. Errors are limited to the primary call and parse;
// a failed fallback keeps the primary decision.
func (e *Engine) Decide(ctx context.Context, c Context) (*action.Decision, error) {
	system := BuildSystemPrompt(c, e.cfg)
	userText := BuildUserTurn(c)

	e.stats.PrimaryCalls++
	reply, err := e.complete(ctx, e.policy.Primary, llm.Request{
		System:    system,
		History:   e.history,
		Text:      userText,
		Image:     c.Image,
		MaxTokens: e.cfg.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("primary model %s: %w", e.policy.Primary.ID(), err)
	}
	decision, err := action.ParseDecision(reply)
	if err != nil {
		return nil, fmt.Errorf("primary model %s reply: %w", e.policy.Primary.ID(), err)
	}
	decision.ModelUsed = e.policy.Primary.ID()
	e.remember(userText, reply)

	reasons := e.policy.Escalation(decision, c, e.cfg)
	if len(reasons) == 0 {
		return decision, nil
	}
	e.stats.Escalations++

	if e.policy.Fallback == nil {
		e.warnOnce.Do(func() {
			e.logger.Warn(ctx, "escalation requested but no fallback model configured; using primary decisions", map[string]interface{}{
				"primary_model": e.policy.Primary.ID(),
			})
		})
		return decision, nil
	}

	e.stats.FallbackCalls++
	fbReply, err := e.complete(ctx, e.policy.Fallback, llm.Request{
		System:    BuildEscalationPrompt(system, decision, reasons),
		Text:      userText,
		Image:     c.Image,
		MaxTokens: e.cfg.MaxTokens,
	})
	if err == nil {
		var fb *action.Decision
		if fb, err = action.ParseDecision(fbReply); err == nil {
			fb.ModelUsed = e.policy.Fallback.ID()
			fb.EscalationReason = strings.Join(reasons, "; ")
			e.logger.Info(ctx, "decision escalated to fallback model", map[string]interface{}{
				"step":           c.Step,
				"primary_action": decision.Action.String(),
				"final_action":   fb.Action.String(),
				"reasons":        fb.EscalationReason,
			})
			return fb, nil
		}
	}

	e.stats.FallbackFailures++
	e.logger.Warn(ctx, "fallback model failed; keeping primary decision", map[string]interface{}{
		"step":           c.Step,
		"fallback_model": e.policy.Fallback.ID(),
		"error":          err.Error(),
	})
	return decision, nil
}

func (e *Engine) complete(ctx context.Context, m llm.Model, req llm.Request) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.ModelTimeout)
	defer cancel()
	return m.Complete(callCtx, req)
}

func (e *Engine) remember(userText, reply string) {
	if e.cfg.HistoryWindow == 0 {
		return
	}
	e.history = append(e.history,
		llm.Message{Role: llm.RoleUser, Text: userText},
		llm.Message{Role: llm.RoleAssistant, Text: reply},
	)
	if limit := 2 * e.cfg.HistoryWindow; len(e.history) > limit {
		e.history = append([]llm.Message(nil), e.history[len(e.history)-limit:]...)
	}
}
