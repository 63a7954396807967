package decision

import (
	"context"
	"errors"
	"testing"

	"github.com/hairizuanbinnoorazman/screenshot-explorer/action"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/hierarchy"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/llm"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/llm/llmtest"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	confidentTap = `{"action":"tap","params":{"x":50,"y":50},"reasoning":"open the feed","confidence":0.9}`
	unsureTap    = `{"action":"tap","params":{"x":50,"y":50},"reasoning":"maybe","confidence":0.5}`
	fallbackBack = `{"action":"back","params":{},"reasoning":"wrong screen","confidence":0.95}`
)

func testContext() Context {
	return Context{
		AppID:             "com.example.app",
		Platform:          hierarchy.PlatformAndroid,
		Parsed:            &hierarchy.Parsed{Platform: hierarchy.PlatformAndroid, SemanticsCoverage: 80},
		Step:              1,
		MaxSteps:          10,
		TargetScreenshots: 5,
	}
}

func TestConfig_Normalize(t *testing.T) {
	tests := []struct {
		name          string
		in            Config
		wantThreshold float64
		wantFailures  int
	}{
		{name: "above one", in: Config{LowConfidenceThreshold: 1.7, FailureEscalationThreshold: 3}, wantThreshold: 1, wantFailures: 3},
		{name: "negative", in: Config{LowConfidenceThreshold: -0.1, FailureEscalationThreshold: 0}, wantThreshold: 0, wantFailures: 1},
		{name: "defaults", in: DefaultConfig(), wantThreshold: 0.68, wantFailures: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Normalize()
			assert.Equal(t, tt.wantThreshold, got.LowConfidenceThreshold)
			assert.Equal(t, tt.wantFailures, got.FailureEscalationThreshold)
			assert.Equal(t, DefaultModelTimeout, got.ModelTimeout)
		})
	}
}

func TestDefaultEscalation(t *testing.T) {
	cfg := DefaultConfig().Normalize()

	t.Run("low confidence escalates", func(t *testing.T) {
		d := &action.Decision{Action: action.Tap{At: action.Point{X: 1, Y: 1}}, Confidence: 0.5}
		reasons := DefaultEscalation(d, testContext(), cfg)
		require.NotEmpty(t, reasons)
		assert.Contains(t, reasons[0], "low confidence")
	})

	t.Run("confident and clean does not escalate", func(t *testing.T) {
		d := &action.Decision{Action: action.Tap{At: action.Point{X: 1, Y: 1}}, Confidence: 0.9}
		assert.Empty(t, DefaultEscalation(d, testContext(), cfg))
	})

	t.Run("failure counters", func(t *testing.T) {
		c := testContext()
		c.ConsecutiveActionFailures = 2
		d := &action.Decision{Action: action.Back{}, Confidence: 0.95}
		assert.Equal(t, []string{"2 consecutive action failures"}, DefaultEscalation(d, c, cfg))

		c = testContext()
		c.RecentFailureRate = 0.5
		assert.Equal(t, []string{"recent failure rate 50%"}, DefaultEscalation(d, c, cfg))
	})

	t.Run("tapText after tapText failure", func(t *testing.T) {
		c := testContext()
		c.ConsecutiveTapTextFailures = 1
		d := &action.Decision{Action: action.TapText{Text: "Next"}, Confidence: 0.95}
		assert.Equal(t, []string{"tapText chosen after 1 tapText failures"}, DefaultEscalation(d, c, cfg))
	})

	t.Run("risky below high bar", func(t *testing.T) {
		d := &action.Decision{Action: action.OpenLink{URL: "app://x"}, Confidence: 0.8}
		reasons := DefaultEscalation(d, testContext(), cfg)
		require.Len(t, reasons, 1)
		assert.Contains(t, reasons[0], "risky action openLink")

		d = &action.Decision{Action: action.Scroll{Direction: action.DirectionDown}, Confidence: 0.8}
		assert.Empty(t, DefaultEscalation(d, testContext(), cfg))
	})
}

func TestEngine_NoEscalation(t *testing.T) {
	primary := llmtest.New("primary", confidentTap)
	fallback := llmtest.New("fallback", fallbackBack)
	e, err := NewEngine(Policy{Primary: primary, Fallback: fallback}, DefaultConfig(), logger.NewTestLogger())
	require.NoError(t, err)

	d, err := e.Decide(context.Background(), testContext())
	require.NoError(t, err)
	assert.Equal(t, action.KindTap, d.Kind())
	assert.Equal(t, "primary", d.ModelUsed)
	assert.Empty(t, d.EscalationReason)
	assert.Equal(t, 0, fallback.Calls())
}

func TestEngine_EscalatesToFallback(t *testing.T) {
	primary := llmtest.New("primary", unsureTap)
	fallback := llmtest.New("fallback", fallbackBack)
	e, err := NewEngine(Policy{Primary: primary, Fallback: fallback}, DefaultConfig(), logger.NewTestLogger())
	require.NoError(t, err)

	d, err := e.Decide(context.Background(), testContext())
	require.NoError(t, err)
	assert.Equal(t, action.KindBack, d.Kind())
	assert.Equal(t, "fallback", d.ModelUsed)
	assert.Contains(t, d.EscalationReason, "low confidence")

	require.Equal(t, 1, fallback.Calls())
	assert.Contains(t, fallback.Requests()[0].System, "Another model proposed")
	assert.Contains(t, fallback.Requests()[0].System, "tap(50%,50%)")
	assert.Equal(t, Stats{PrimaryCalls: 1, Escalations: 1, FallbackCalls: 1}, e.Stats())
}

func TestEngine_FallbackFailureKeepsPrimary(t *testing.T) {
	tests := []struct {
		name  string
		reply llmtest.Reply
	}{
		{name: "call error", reply: llmtest.Reply{Err: errors.New("throttled")}},
		{name: "unparsable", reply: llmtest.Reply{Text: "no json here"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := logger.NewTestLogger()
			primary := llmtest.New("primary", unsureTap)
			fallback := &llmtest.Model{Name: "fallback", Replies: []llmtest.Reply{tt.reply}}
			e, err := NewEngine(Policy{Primary: primary, Fallback: fallback}, DefaultConfig(), log)
			require.NoError(t, err)

			d, err := e.Decide(context.Background(), testContext())
			require.NoError(t, err)
			assert.Equal(t, "primary", d.ModelUsed)
			assert.Equal(t, 1, log.Count("warn", "fallback model failed; keeping primary decision"))
			assert.Equal(t, 1, e.Stats().FallbackFailures)
		})
	}
}

func TestEngine_NoFallbackWarnsOnce(t *testing.T) {
	log := logger.NewTestLogger()
	primary := llmtest.New("primary", unsureTap, unsureTap, unsureTap)
	e, err := NewEngine(Policy{Primary: primary}, DefaultConfig(), log)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		d, err := e.Decide(context.Background(), testContext())
		require.NoError(t, err)
		assert.Equal(t, "primary", d.ModelUsed)
	}
	assert.Equal(t, 1, log.Count("warn", "escalation requested but no fallback model configured; using primary decisions"))
}

func TestEngine_PrimaryErrors(t *testing.T) {
	primary := &llmtest.Model{Name: "primary", Replies: []llmtest.Reply{
		{Text: `{"action":"fly","params":{}}`},
		{Text: "I think you should tap the button"},
		{Err: errors.New("boom")},
	}}
	e, err := NewEngine(Policy{Primary: primary}, DefaultConfig(), logger.NewTestLogger())
	require.NoError(t, err)

	_, err = e.Decide(context.Background(), testContext())
	assert.ErrorIs(t, err, action.ErrUnknownAction)
	_, err = e.Decide(context.Background(), testContext())
	assert.ErrorIs(t, err, action.ErrNoJSONObject)
	_, err = e.Decide(context.Background(), testContext())
	assert.ErrorContains(t, err, "boom")
}

func TestEngine_HistoryWindow(t *testing.T) {
	primary := llmtest.New("primary", confidentTap, confidentTap, confidentTap, confidentTap)
	cfg := DefaultConfig()
	cfg.HistoryWindow = 2
	e, err := NewEngine(Policy{Primary: primary}, cfg, logger.NewTestLogger())
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err := e.Decide(context.Background(), testContext())
		require.NoError(t, err)
	}
	reqs := primary.Requests()
	assert.Empty(t, reqs[0].History)
	assert.Len(t, reqs[1].History, 2)
	assert.Len(t, reqs[3].History, 4)
	assert.Equal(t, llm.RoleUser, reqs[3].History[0].Role)
	assert.Equal(t, llm.RoleAssistant, reqs[3].History[1].Role)
}

func TestNewEngine_RequiresPrimary(t *testing.T) {
	_, err := NewEngine(Policy{}, DefaultConfig(), logger.NewTestLogger())
	assert.ErrorIs(t, err, ErrNoPrimaryModel)
}

func TestBuildSystemPrompt_Warnings(t *testing.T) {
	c := testContext()
	c.Parsed.SemanticsCoverage = 12
	c.SameScreenCount = 3
	c.ConsecutiveTapTextFailures = 2
	c.RecentErrors = []string{"e1", "e2", "e3", "e4"}

	p := BuildSystemPrompt(c, DefaultConfig().Normalize())
	assert.Contains(t, p, "Platform: android")
	assert.Contains(t, p, "remaining: 5")
	assert.Contains(t, p, "not changed for 3 steps")
	assert.Contains(t, p, "tapText failed 2 times")
	assert.Contains(t, p, "Only 12% of elements")
	assert.NotContains(t, p, "Recent error: e1")
	assert.Contains(t, p, "Recent error: e4")

	quiet := BuildSystemPrompt(testContext(), DefaultConfig().Normalize())
	assert.NotContains(t, quiet, "## Warnings")
}

func TestBuildUserTurn(t *testing.T) {
	c := testContext()
	c.RecentActions = []Outcome{
		{Step: 1, Action: "tap(50%,50%)", Success: true},
		{Step: 2, Action: `tapText("Next")`, Success: false, Error: "element not found"},
	}
	c.RecentFailureRate = 0.5
	turn := BuildUserTurn(c)
	assert.Contains(t, turn, "2 [FAILED] tapText(\"Next\") (element not found)")
	assert.Contains(t, turn, "Recent failure rate: 50%")
}
