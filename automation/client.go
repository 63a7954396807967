// Package automation drives one leased device through Maestro, one bounded
// command per call.
package automation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hairizuanbinnoorazman/screenshot-explorer/action"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/hierarchy"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/logger"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/storage"
)

var (
	ErrElementNotFound     = errors.New("element not found")
	ErrElementNotClickable = errors.New("element not clickable")
	ErrElementDisabled     = errors.New("element disabled")
	ErrElementHasNoBounds  = errors.New("element has no bounds")
	ErrInvalidArgument     = errors.New("invalid automation argument")
)

// Driver executes flows against one device.
type Driver interface {
	RunFlow(ctx context.Context, f Flow) error
	Screenshot(ctx context.Context, appID string) ([]byte, error)
	Hierarchy(ctx context.Context) ([]byte, error)
}

// Config binds a client to an app.
type Config struct {
	AppID    string
	Platform hierarchy.Platform
	// Debug, when set, receives raw and annotated per-step images.
	Debug storage.BlobStorage
}

// Client is the per-device automation facade. Calls are synchronous and must
// not overlap.
type Client struct {
	cfg    Config
	driver Driver
	logger logger.Logger
}

// NewClient wraps driver.
func NewClient(cfg Config, driver Driver, log logger.Logger) *Client {
	return &Client{cfg: cfg, driver: driver, logger: log.WithField("app_id", cfg.AppID)}
}

// Platform returns the device platform.
func (c *Client) Platform() hierarchy.Platform { return c.cfg.Platform }

func (c *Client) run(ctx context.Context, name string, steps ...Step) error {
	start := time.Now()
	err := c.driver.RunFlow(ctx, Flow{AppID: c.cfg.AppID, Steps: steps})
	if err != nil {
		c.logger.Debug(ctx, "automation command failed", map[string]interface{}{
			"command":  name,
			"duration": time.Since(start).String(),
			"error":    err.Error(),
		})
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// Launch starts the app. clearState wipes its data first.
func (c *Client) Launch(ctx context.Context, clearState bool) error {
	return c.run(ctx, "launch", Step{Command: "launchApp", Args: map[string]interface{}{
		"appId":      c.cfg.AppID,
		"clearState": clearState,
		"stopApp":    true,
	}})
}

func validPercent(x, y float64) error {
	if x < 0 || x > 100 || y < 0 || y > 100 {
		return fmt.Errorf("%w: point %.1f,%.1f outside 0-100", ErrInvalidArgument, x, y)
	}
	return nil
}

// Tap taps at a percentage position.
func (c *Client) Tap(ctx context.Context, x, y float64) error {
	if err := validPercent(x, y); err != nil {
		return err
	}
	return c.run(ctx, "tap", Step{Command: "tapOn", Args: map[string]string{"point": point(x, y)}})
}

// TapText taps the first element whose text matches.
func (c *Client) TapText(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: empty text", ErrInvalidArgument)
	}
	return c.run(ctx, "tapText", Step{Command: "tapOn", Args: map[string]string{"text": text}})
}

// TapResourceID taps the element with the given resource id.
func (c *Client) TapResourceID(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: empty resource id", ErrInvalidArgument)
	}
	return c.run(ctx, "tapResourceId", Step{Command: "tapOn", Args: map[string]string{"id": id}})
}

// TapElementByID taps an element of parsed, the snapshot the caller decided
// on. The element must exist, have bounds, and be clickable and enabled.
func (c *Client) TapElementByID(ctx context.Context, id int, parsed *hierarchy.Parsed) error {
	if parsed == nil {
		return fmt.Errorf("%w: element %d (no hierarchy)", ErrElementNotFound, id)
	}
	el, ok := parsed.Element(id)
	if !ok {
		return fmt.Errorf("%w: element %d", ErrElementNotFound, id)
	}
	if el.Bounds == nil || el.Bounds.Area <= 0 {
		return fmt.Errorf("%w: element %d", ErrElementHasNoBounds, id)
	}
	if !el.States.Clickable {
		return fmt.Errorf("%w: element %d (%s)", ErrElementNotClickable, id, el.Label())
	}
	if !el.States.Enabled {
		return fmt.Errorf("%w: element %d (%s)", ErrElementDisabled, id, el.Label())
	}
	x, y, ok := hierarchy.CenterPercent(el, parsed.ScreenBounds)
	if !ok {
		return fmt.Errorf("%w: element %d (no screen bounds)", ErrElementHasNoBounds, id)
	}
	return c.Tap(ctx, x, y)
}

// DoubleTap double-taps at a percentage position.
func (c *Client) DoubleTap(ctx context.Context, x, y float64) error {
	if err := validPercent(x, y); err != nil {
		return err
	}
	return c.run(ctx, "doubleTap", Step{Command: "doubleTapOn", Args: map[string]string{"point": point(x, y)}})
}

// LongPress presses and holds at a percentage position.
func (c *Client) LongPress(ctx context.Context, x, y float64) error {
	if err := validPercent(x, y); err != nil {
		return err
	}
	return c.run(ctx, "longPress", Step{Command: "longPressOn", Args: map[string]string{"point": point(x, y)}})
}

// Scroll moves the content so that more of it in direction d becomes
// visible; the finger travels the opposite way.
func (c *Client) Scroll(ctx context.Context, d action.Direction) error {
	finger := map[action.Direction]string{
		action.DirectionDown:  "UP",
		action.DirectionUp:    "DOWN",
		action.DirectionLeft:  "RIGHT",
		action.DirectionRight: "LEFT",
	}[d]
	if finger == "" {
		return fmt.Errorf("%w: scroll direction %q", ErrInvalidArgument, d)
	}
	return c.run(ctx, "scroll", Step{Command: "swipe", Args: map[string]string{"direction": finger}})
}

// Swipe moves the finger in direction d.
func (c *Client) Swipe(ctx context.Context, d action.Direction) error {
	if _, ok := action.ParseDirection(string(d)); !ok {
		return fmt.Errorf("%w: swipe direction %q", ErrInvalidArgument, d)
	}
	return c.run(ctx, "swipe", Step{Command: "swipe", Args: map[string]string{"direction": strings.ToUpper(string(d))}})
}

// SwipeBetween drags from one percentage point to another.
func (c *Client) SwipeBetween(ctx context.Context, from, to action.Point) error {
	if err := validPercent(from.X, from.Y); err != nil {
		return err
	}
	if err := validPercent(to.X, to.Y); err != nil {
		return err
	}
	return c.run(ctx, "swipe", Step{Command: "swipe", Args: map[string]string{
		"start": point(from.X, from.Y),
		"end":   point(to.X, to.Y),
	}})
}

// InputText types into the focused field.
func (c *Client) InputText(ctx context.Context, text string) error {
	return c.run(ctx, "inputText", Step{Command: "inputText", Args: text})
}

// EraseText deletes n characters from the focused field.
func (c *Client) EraseText(ctx context.Context, n int) error {
	if n <= 0 {
		return fmt.Errorf("%w: erase count %d", ErrInvalidArgument, n)
	}
	return c.run(ctx, "eraseText", Step{Command: "eraseText", Args: map[string]int{"charactersToErase": n}})
}

// HideKeyboard dismisses the soft keyboard.
func (c *Client) HideKeyboard(ctx context.Context) error {
	return c.run(ctx, "hideKeyboard", Step{Command: "hideKeyboard"})
}

// Back navigates back. iOS has no back button so it swipes in from the left
// edge; Android presses the system back key.
func (c *Client) Back(ctx context.Context) error {
	if c.cfg.Platform == hierarchy.PlatformIOS {
		return c.swipePoints(ctx, "back", point(1, 50), point(85, 50))
	}
	return c.run(ctx, "back", Step{Command: "back"})
}

// BackGesture is the platform gesture that leaves a screen when Back did not.
// On Android it is the gesture-navigation edge swipe. On iOS, where Back is
// already the edge swipe, it pulls down to dismiss a modal sheet.
func (c *Client) BackGesture(ctx context.Context) error {
	if c.cfg.Platform == hierarchy.PlatformIOS {
		return c.swipePoints(ctx, "backGesture", point(50, 15), point(50, 90))
	}
	return c.swipePoints(ctx, "backGesture", point(0, 50), point(70, 50))
}

func (c *Client) swipePoints(ctx context.Context, name, start, end string) error {
	return c.run(ctx, name, Step{Command: "swipe", Args: map[string]interface{}{
		"start":    start,
		"end":      end,
		"duration": 300,
	}})
}

// PressKey presses a named hardware or keyboard key.
func (c *Client) PressKey(ctx context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidArgument)
	}
	return c.run(ctx, "pressKey", Step{Command: "pressKey", Args: key})
}

// OpenLink opens a URL or deep link.
func (c *Client) OpenLink(ctx context.Context, url string) error {
	return c.run(ctx, "openLink", Step{Command: "openLink", Args: url})
}

// WaitForAnimation blocks until the screen settles or timeout passes.
func (c *Client) WaitForAnimation(ctx context.Context, timeout time.Duration) error {
	return c.run(ctx, "waitForAnimation", Step{Command: "waitForAnimationToEnd", Args: map[string]int64{
		"timeout": timeout.Milliseconds(),
	}})
}

// Screenshot captures the screen. With debug storage configured a copy is
// kept as step_NNN_<kind>.png.
func (c *Client) Screenshot(ctx context.Context, step int, kind string) ([]byte, error) {
	img, err := c.driver.Screenshot(ctx, c.cfg.AppID)
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	c.SaveDebug(ctx, step, kind, img)
	return img, nil
}

// Hierarchy returns the raw view-hierarchy snapshot.
func (c *Client) Hierarchy(ctx context.Context) ([]byte, error) {
	raw, err := c.driver.Hierarchy(ctx)
	if err != nil {
		return nil, fmt.Errorf("hierarchy: %w", err)
	}
	return raw, nil
}

// SaveDebug writes a per-step debug image when debug storage is configured.
// Failures are logged only.
func (c *Client) SaveDebug(ctx context.Context, step int, kind string, img []byte) {
	if c.cfg.Debug == nil || len(img) == 0 {
		return
	}
	path := fmt.Sprintf("step_%03d_%s.png", step, kind)
	if err := c.cfg.Debug.Upload(ctx, path, bytes.NewReader(img)); err != nil {
		c.logger.Warn(ctx, "failed to save debug image", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
	}
}
