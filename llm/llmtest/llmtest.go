// Package llmtest provides a scripted llm.Model for tests.
package llmtest

import (
	"context"
	"errors"
	"sync"

	"github.com/hairizuanbinnoorazman/screenshot-explorer/llm"
)

// ErrScriptExhausted is returned once every scripted reply has been used and
// no Default is set.
var ErrScriptExhausted = errors.New("llmtest: no scripted reply left")

// Reply is one scripted answer.
type Reply struct {
	Text string
	Err  error
}

// Model replays Replies in order, then Default forever.
type Model struct {
	Name    string
	Replies []Reply
	Default *Reply

	mu       sync.Mutex
	requests []llm.Request
}

// New returns a Model answering with the given texts.
func New(name string, texts ...string) *Model {
	m := &Model{Name: name}
	for _, t := range texts {
		m.Replies = append(m.Replies, Reply{Text: t})
	}
	return m
}

// ID implements llm.Model.
func (m *Model) ID() string { return m.Name }

// Complete implements llm.Model.
func (m *Model) Complete(ctx context.Context, req llm.Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req.History = append([]llm.Message(nil), req.History...)
	n := len(m.requests)
	m.requests = append(m.requests, req)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if n < len(m.Replies) {
		return m.Replies[n].Text, m.Replies[n].Err
	}
	if m.Default != nil {
		return m.Default.Text, m.Default.Err
	}
	return "", ErrScriptExhausted
}

// Calls is the number of Complete invocations so far.
func (m *Model) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of every request received.
func (m *Model) Requests() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.Request(nil), m.requests...)
}
