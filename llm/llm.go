// Package llm holds the vision-model providers the decision engine talks to.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyReply is returned when a model answers with no text.
	ErrEmptyReply = errors.New("model returned an empty reply")

	// ErrUnsupportedProvider is returned by New for unknown provider names.
	ErrUnsupportedProvider = errors.New("unsupported model provider")
)

// Role of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a text-only turn carried over from earlier steps.
type Message struct {
	Role Role
	Text string
}

// Request is one model invocation: system instruction, prior turns, and a
// user turn carrying one image and a short text summary.
type Request struct {
	System    string
	History   []Message
	Text      string
	Image     []byte
	MaxTokens int
}

// Model is a single vision model behind some provider.
type Model interface {
	ID() string
	Complete(ctx context.Context, req Request) (string, error)
}

// APIError carries a non-2xx provider response.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.Provider, e.StatusCode, truncate(e.Body, 300))
}

// Config selects a provider for one model id.
type Config struct {
	Provider  string // "bedrock" or "openrouter"
	ModelID   string
	Region    string
	APIKey    string
	BaseURL   string
	MaxTokens int
}

// New builds a Model from configuration. An empty ModelID yields (nil, nil)
// so optional fallback models can be left unset.
func New(ctx context.Context, cfg Config) (Model, error) {
	if strings.TrimSpace(cfg.ModelID) == "" {
		return nil, nil
	}
	switch strings.ToLower(cfg.Provider) {
	case "", "bedrock":
		m, err := NewBedrockModel(ctx, cfg.Region, cfg.ModelID, cfg.MaxTokens)
		if err != nil {
			return nil, err
		}
		return m, nil
	case "openrouter", "openai":
		return NewOpenRouterModel(cfg.APIKey, cfg.ModelID, cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, cfg.Provider)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
