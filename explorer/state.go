package explorer

import (
	"github.com/hairizuanbinnoorazman/screenshot-explorer/action"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/decision"
)

// State is the per-run exploration memory. It is reset only when a run starts
// and mutated only by the run loop.
type State struct {
	ScreenHistory              []string
	LastActions                []decision.Outcome
	RecentErrors               []string
	ConsecutiveTapTextFailures int
	ConsecutiveActionFailures  int
	SameScreenCount            int
	Recoveries                 int

	outcomes   []bool
	visited    map[string]struct{}
	candidates *candidatePool
	cfg        Config
}

func newState(cfg Config) *State {
	return &State{
		visited:    make(map[string]struct{}),
		candidates: newCandidatePool(cfg.candidateCapacity()),
		cfg:        cfg,
	}
}

// observe records a screen signature and returns how many times in a row it
// has now repeated. The first sighting of a screen counts as zero.
func (s *State) observe(sig string) int {
	if n := len(s.ScreenHistory); n > 0 && s.ScreenHistory[n-1] == sig {
		s.SameScreenCount++
	} else {
		s.SameScreenCount = 0
	}
	s.ScreenHistory = append(s.ScreenHistory, sig)
	s.visited[sig] = struct{}{}
	return s.SameScreenCount
}

// record folds one action outcome into the counters and bounded rings.
func (s *State) record(step int, a action.Action, err error) {
	out := decision.Outcome{Step: step, Action: a.String(), Success: err == nil}
	if err != nil {
		out.Error = err.Error()
		s.ConsecutiveActionFailures++
		if a.Kind() == action.KindTapText {
			s.ConsecutiveTapTextFailures++
		}
		s.addError(a.String() + ": " + err.Error())
	} else {
		s.ConsecutiveActionFailures = 0
		if a.Kind() == action.KindTapText {
			s.ConsecutiveTapTextFailures = 0
		}
	}

	s.LastActions = appendBounded(s.LastActions, out, s.cfg.RecentActionsWindow)
	s.outcomes = appendBounded(s.outcomes, err == nil, s.cfg.OutcomeWindow)
}

func (s *State) addError(msg string) {
	s.RecentErrors = appendBounded(s.RecentErrors, msg, s.cfg.RecentErrorLimit)
}

// FailureRate is the share of failures in the recent outcome ring.
func (s *State) FailureRate() float64 {
	if len(s.outcomes) == 0 {
		return 0
	}
	failed := 0
	for _, ok := range s.outcomes {
		if !ok {
			failed++
		}
	}
	return float64(failed) / float64(len(s.outcomes))
}

// ScreensVisited is the number of distinct signatures seen.
func (s *State) ScreensVisited() int { return len(s.visited) }

func appendBounded[T any](ring []T, v T, limit int) []T {
	ring = append(ring, v)
	if over := len(ring) - limit; limit > 0 && over > 0 {
		ring = append(ring[:0:0], ring[over:]...)
	}
	return ring
}
