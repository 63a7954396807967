package decision

import (
	"github.com/hairizuanbinnoorazman/screenshot-explorer/hierarchy"
)

// Outcome is one executed action as reported back by the orchestrator.
type Outcome struct {
	Step    int
	Action  string
	Success bool
	Error   string
}

// Context is everything the engine knows when choosing the next action.
type Context struct {
	AppID    string
	Platform hierarchy.Platform
	Parsed   *hierarchy.Parsed
	// Image is the annotated screenshot shown to the model.
	Image []byte

	Step              int
	MaxSteps          int
	Captured          int
	TargetScreenshots int
	SameScreenCount   int
	ScreensVisited    int

	ConsecutiveActionFailures  int
	ConsecutiveTapTextFailures int
	RecentFailureRate          float64

	RecentActions []Outcome
	RecentErrors  []string
}

// RemainingScreenshots is the capture budget still open.
func (c Context) RemainingScreenshots() int {
	return max(0, c.TargetScreenshots-c.Captured)
}

// RemainingSteps is the step budget still open, counting the current step.
func (c Context) RemainingSteps() int {
	return max(0, c.MaxSteps-c.Step+1)
}
