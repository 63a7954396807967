package explorer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hairizuanbinnoorazman/screenshot-explorer/action"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/decision"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/hierarchy"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/logger"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/screenshot"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/storage"
)

// screenJSON renders a snapshot with a title and n enabled buttons.
func screenJSON(title string, buttons int) []byte {
	var b strings.Builder
	b.WriteString(`{"attributes": {}, "children": [{"attributes": {"class": "android.widget.FrameLayout", "bounds": "[0,0][1080,2400]"}, "children": [`)
	fmt.Fprintf(&b, `{"attributes": {"class": "android.widget.TextView", "text": %q, "bounds": "[100,100][980,200]"}}`, title)
	for i := 0; i < buttons; i++ {
		top := 400 + i*200
		fmt.Fprintf(&b, `, {"attributes": {"class": "android.widget.Button", "text": "%s %d", "bounds": "[100,%d][980,%d]", "clickable": "true", "enabled": "true"}}`,
			title, i+1, top, top+150)
	}
	b.WriteString(`]}]}`)
	return []byte(b.String())
}

func screenPNG(t *testing.T, shade uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 54, 120))
	for y := 0; y < 120; y++ {
		for x := 0; x < 54; x++ {
			img.Set(x, y, color.RGBA{R: shade, G: 255 - shade, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type fakeScreen struct {
	hierarchy []byte
	image     []byte
}

// fakeDevice is a tiny app model: every primitive is logged as a call string
// and route decides which screen the call leads to, or fails it.
type fakeDevice struct {
	mu             sync.Mutex
	screens        map[string]fakeScreen
	current        string
	calls          []string
	route          func(call, current string) (string, error)
	screenshotErrs int
	debugSaves     int
	shots          []string
}

func newFakeDevice(t *testing.T, start string, screens map[string]int) *fakeDevice {
	t.Helper()
	d := &fakeDevice{screens: make(map[string]fakeScreen), current: start}
	shade := uint8(10)
	for name, buttons := range screens {
		d.screens[name] = fakeScreen{hierarchy: screenJSON(name, buttons), image: screenPNG(t, shade)}
		shade += 20
	}
	return d
}

func (f *fakeDevice) do(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	if f.route == nil {
		return nil
	}
	next, err := f.route(call, f.current)
	if err != nil {
		return err
	}
	if next != "" {
		f.current = next
	}
	return nil
}

func (f *fakeDevice) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeDevice) Launch(context.Context, bool) error {
	return f.do("launch")
}
func (f *fakeDevice) Tap(_ context.Context, x, y float64) error {
	return f.do(fmt.Sprintf("tap %.0f,%.0f", x, y))
}
func (f *fakeDevice) TapText(_ context.Context, text string) error { return f.do("tapText " + text) }
func (f *fakeDevice) TapResourceID(_ context.Context, id string) error {
	return f.do("tapResourceId " + id)
}
func (f *fakeDevice) TapElementByID(_ context.Context, id int, _ *hierarchy.Parsed) error {
	return f.do(fmt.Sprintf("tapElementById %d", id))
}
func (f *fakeDevice) DoubleTap(_ context.Context, x, y float64) error {
	return f.do(fmt.Sprintf("doubleTap %.0f,%.0f", x, y))
}
func (f *fakeDevice) LongPress(_ context.Context, x, y float64) error {
	return f.do(fmt.Sprintf("longPress %.0f,%.0f", x, y))
}
func (f *fakeDevice) Scroll(_ context.Context, d action.Direction) error {
	return f.do("scroll " + string(d))
}
func (f *fakeDevice) Swipe(_ context.Context, d action.Direction) error {
	return f.do("swipe " + string(d))
}
func (f *fakeDevice) SwipeBetween(_ context.Context, from, to action.Point) error {
	return f.do(fmt.Sprintf("swipe %s->%s", from, to))
}
func (f *fakeDevice) InputText(_ context.Context, text string) error {
	return f.do("inputText " + text)
}
func (f *fakeDevice) EraseText(_ context.Context, n int) error {
	return f.do(fmt.Sprintf("eraseText %d", n))
}
func (f *fakeDevice) HideKeyboard(context.Context) error           { return f.do("hideKeyboard") }
func (f *fakeDevice) Back(context.Context) error                   { return f.do("back") }
func (f *fakeDevice) BackGesture(context.Context) error            { return f.do("backGesture") }
func (f *fakeDevice) PressKey(_ context.Context, key string) error { return f.do("pressKey " + key) }
func (f *fakeDevice) OpenLink(_ context.Context, url string) error { return f.do("openLink " + url) }
func (f *fakeDevice) WaitForAnimation(context.Context, time.Duration) error {
	return f.do("waitForAnimation")
}

func (f *fakeDevice) Screenshot(_ context.Context, step int, kind string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shots = append(f.shots, fmt.Sprintf("step_%03d_%s", step, kind))
	if f.screenshotErrs > 0 {
		f.screenshotErrs--
		return nil, errors.New("screenshot: device busy")
	}
	return f.screens[f.current].image, nil
}

func (f *fakeDevice) Hierarchy(context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.screens[f.current].hierarchy, nil
}

func (f *fakeDevice) SaveDebug(context.Context, int, string, []byte) {
	f.mu.Lock()
	f.debugSaves++
	f.mu.Unlock()
}

// scriptedDecider replays decisions and answers done once they run out.
type scriptedDecider struct {
	decisions []*action.Decision
	errs      map[int]error
	contexts  []decision.Context
}

func (s *scriptedDecider) Decide(_ context.Context, c decision.Context) (*action.Decision, error) {
	s.contexts = append(s.contexts, c)
	n := len(s.contexts) - 1
	if err, ok := s.errs[n]; ok {
		return nil, err
	}
	if n < len(s.decisions) {
		return s.decisions[n], nil
	}
	return &action.Decision{Action: action.Done{}, Confidence: 1}, nil
}

func decide(a action.Action, shot bool) *action.Decision {
	return &action.Decision{Action: a, Confidence: 0.9, ShouldScreenshot: shot}
}

func newTestStore(t *testing.T) *screenshot.Store {
	t.Helper()
	blob, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return screenshot.NewStore(blob, logger.NewTestLogger())
}

func newTestExplorer(t *testing.T, cfg Config, dev Device, d Decider) (*Explorer, *screenshot.Store, *logger.TestLogger) {
	t.Helper()
	store := newTestStore(t)
	log := logger.NewTestLogger()
	e, err := New(cfg, dev, d, store, log)
	require.NoError(t, err)
	e.sleepFn = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return e, store, log
}
