package decision

import (
	"math"
	"time"

	"github.com/hairizuanbinnoorazman/screenshot-explorer/hierarchy"
)

const (
	DefaultLowConfidenceThreshold     = 0.68
	DefaultFailureEscalationThreshold = 2
	DefaultHistoryWindow              = 4
	DefaultModelTimeout               = 90 * time.Second

	// HighConfidenceBar is the confidence a risky action needs to skip escalation.
	HighConfidenceBar = 0.82

	// HighFailureRate is the recent failure rate that forces escalation.
	HighFailureRate = 0.5
)

// Config tunes the engine. Start from DefaultConfig; Normalize only fills
// the timeout and list options and clamps the thresholds.
type Config struct {
	LowConfidenceThreshold     float64
	FailureEscalationThreshold int
	// HistoryWindow is the number of prior (user, assistant) exchanges resent
	// with every call.
	HistoryWindow int
	ModelTimeout  time.Duration
	MaxTokens     int
	ListOptions   hierarchy.ListOptions
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		LowConfidenceThreshold:     DefaultLowConfidenceThreshold,
		FailureEscalationThreshold: DefaultFailureEscalationThreshold,
		HistoryWindow:              DefaultHistoryWindow,
		ModelTimeout:               DefaultModelTimeout,
		ListOptions:                hierarchy.DefaultListOptions,
	}
}

// Normalize clamps the threshold to [0,1], floors the failure threshold at 1
// and fills unset fields. A NaN threshold becomes the default.
func (c Config) Normalize() Config {
	if math.IsNaN(c.LowConfidenceThreshold) {
		c.LowConfidenceThreshold = DefaultLowConfidenceThreshold
	}
	c.LowConfidenceThreshold = math.Min(1, math.Max(0, c.LowConfidenceThreshold))
	if c.FailureEscalationThreshold < 1 {
		c.FailureEscalationThreshold = 1
	}
	if c.HistoryWindow < 0 {
		c.HistoryWindow = 0
	}
	if c.ModelTimeout <= 0 {
		c.ModelTimeout = DefaultModelTimeout
	}
	if c.ListOptions.MaxElements <= 0 {
		c.ListOptions = hierarchy.DefaultListOptions
	}
	return c
}
