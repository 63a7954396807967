package explorer

import (
	"time"

	"github.com/hairizuanbinnoorazman/screenshot-explorer/action"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/hierarchy"
)

// Rung is one recovery step tried when the screen stops changing.
type Rung string

const (
	RungEdgeSwipeBack Rung = "edge_swipe_back"
	RungCornerTaps    Rung = "corner_taps"
	RungRelaunch      Rung = "relaunch"
)

// MaxRecoveryAttempts bounds the ladder regardless of configuration.
const MaxRecoveryAttempts = 3

// Config tunes one exploration run.
type Config struct {
	AppID             string
	Platform          hierarchy.Platform
	MaxSteps          int
	TargetScreenshots int
	// MinScreenshots is the capture count the fallback top-up aims for when
	// the live loop falls short.
	MinScreenshots     int
	ClearStateOnLaunch bool

	StuckThreshold      int
	RecoveryLadder      []Rung
	RecoveryAttempts    int
	ObserveRetryDelay   time.Duration
	LaunchSettle        time.Duration
	DefaultSettle       time.Duration
	Settle              map[action.Kind]time.Duration
	OutcomeWindow       int
	RecentErrorLimit    int
	RecentActionsWindow int
	ListOptions         hierarchy.ListOptions
}

// DefaultStuckThreshold is how many repeats of one screen are tolerated
// before recovery. Android screens repeat more often during legitimate
// in-place updates.
func DefaultStuckThreshold(p hierarchy.Platform) int {
	if p == hierarchy.PlatformAndroid {
		return 4
	}
	return 3
}

// DefaultMinScreenshots is the top-up floor for a platform, capped at target.
func DefaultMinScreenshots(p hierarchy.Platform, target int) int {
	floor := 3
	if p == hierarchy.PlatformAndroid {
		floor = 2
	}
	return min(floor, target)
}

// DefaultConfig returns the stock tuning for a platform.
func DefaultConfig(appID string, platform hierarchy.Platform) Config {
	return Config{
		AppID:             appID,
		Platform:          platform,
		MaxSteps:          40,
		TargetScreenshots: 8,
		MinScreenshots:    DefaultMinScreenshots(platform, 8),
		StuckThreshold:    DefaultStuckThreshold(platform),
		RecoveryLadder:    []Rung{RungEdgeSwipeBack, RungCornerTaps, RungRelaunch},
		RecoveryAttempts:  MaxRecoveryAttempts,
		ObserveRetryDelay: 2 * time.Second,
		LaunchSettle:      3 * time.Second,
		DefaultSettle:     800 * time.Millisecond,
		Settle: map[action.Kind]time.Duration{
			action.KindScroll:       600 * time.Millisecond,
			action.KindSwipe:        700 * time.Millisecond,
			action.KindBack:         1000 * time.Millisecond,
			action.KindOpenLink:     2500 * time.Millisecond,
			action.KindInputText:    300 * time.Millisecond,
			action.KindEraseText:    200 * time.Millisecond,
			action.KindHideKeyboard: 400 * time.Millisecond,
			action.KindWait:         0,
		},
		OutcomeWindow:       10,
		RecentErrorLimit:    5,
		RecentActionsWindow: 5,
		ListOptions:         hierarchy.DefaultListOptions,
	}
}

// normalize fills zero values from the platform defaults.
func (c Config) normalize() Config {
	def := DefaultConfig(c.AppID, c.Platform)
	if c.MaxSteps <= 0 {
		c.MaxSteps = def.MaxSteps
	}
	if c.TargetScreenshots <= 0 {
		c.TargetScreenshots = def.TargetScreenshots
	}
	if c.MinScreenshots <= 0 {
		c.MinScreenshots = DefaultMinScreenshots(c.Platform, c.TargetScreenshots)
	}
	c.MinScreenshots = min(c.MinScreenshots, c.TargetScreenshots)
	if c.StuckThreshold <= 0 {
		c.StuckThreshold = def.StuckThreshold
	}
	if len(c.RecoveryLadder) == 0 {
		c.RecoveryLadder = def.RecoveryLadder
	}
	if c.RecoveryAttempts <= 0 || c.RecoveryAttempts > MaxRecoveryAttempts {
		c.RecoveryAttempts = MaxRecoveryAttempts
	}
	if c.Settle == nil {
		c.Settle = def.Settle
	}
	if c.OutcomeWindow <= 0 {
		c.OutcomeWindow = def.OutcomeWindow
	}
	if c.RecentErrorLimit <= 0 {
		c.RecentErrorLimit = def.RecentErrorLimit
	}
	if c.RecentActionsWindow <= 0 {
		c.RecentActionsWindow = def.RecentActionsWindow
	}
	if c.ListOptions.MaxElements <= 0 {
		c.ListOptions = def.ListOptions
	}
	return c
}

func (c Config) settleFor(k action.Kind) time.Duration {
	if d, ok := c.Settle[k]; ok {
		return d
	}
	return c.DefaultSettle
}

// candidateCapacity is max(12, 8*target).
func (c Config) candidateCapacity() int {
	return max(12, 8*c.TargetScreenshots)
}
