package agent

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hairizuanbinnoorazman/screenshot-explorer/automation"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/device"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/explorer"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/hierarchy"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/job"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/llm"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/llm/llmtest"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/logger"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/storage"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/testutil"
)

const homeScreen = `{"attributes": {}, "children": [{"attributes": {"class": "android.widget.FrameLayout", "bounds": "[0,0][1080,2400]"}, "children": [
{"attributes": {"class": "android.widget.TextView", "text": "Home", "bounds": "[100,100][980,200]"}},
{"attributes": {"class": "android.widget.Button", "text": "Feed", "bounds": "[100,400][980,550]", "clickable": "true", "enabled": "true"}},
{"attributes": {"class": "android.widget.Button", "text": "Settings", "bounds": "[100,600][980,750]", "clickable": "true", "enabled": "true"}}
]}]}`

func screenPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 54, 120))
	for y := 0; y < 120; y++ {
		for x := 0; x < 54; x++ {
			img.Set(x, y, color.RGBA{R: 30, G: 200, B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// fakeDriver serves one static screen and records every flow it runs.
type fakeDriver struct {
	mu       sync.Mutex
	deviceID string
	image    []byte
	flows    []automation.Flow
}

func (d *fakeDriver) RunFlow(ctx context.Context, f automation.Flow) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flows = append(d.flows, f)
	return nil
}

func (d *fakeDriver) Screenshot(ctx context.Context, appID string) ([]byte, error) {
	return d.image, nil
}

func (d *fakeDriver) Hierarchy(ctx context.Context) ([]byte, error) {
	return []byte(homeScreen), nil
}

type fakeProvisioner struct {
	mu         sync.Mutex
	seq        int
	uninstalls []string
}

func (f *fakeProvisioner) Platform() hierarchy.Platform { return hierarchy.PlatformAndroid }
func (f *fakeProvisioner) DeviceType() string           { return "pixel_7" }

func (f *fakeProvisioner) Create(ctx context.Context, name string) (device.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return device.Instance{ID: fmt.Sprintf("emulator-%d", 5552+2*f.seq), Name: name}, nil
}

func (f *fakeProvisioner) Delete(ctx context.Context, inst device.Instance) error { return nil }
func (f *fakeProvisioner) Erase(ctx context.Context, inst device.Instance) error  { return nil }

func (f *fakeProvisioner) Uninstall(ctx context.Context, inst device.Instance, appID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uninstalls = append(f.uninstalls, inst.ID+":"+appID)
	return nil
}

func (f *fakeProvisioner) List(ctx context.Context) ([]device.Instance, error) { return nil, nil }

func decisionReply(kind string) string {
	return fmt.Sprintf(`{"action": %q, "params": {}, "reasoning": "test", "confidence": 0.9}`, kind)
}

type harness struct {
	pipeline *Pipeline
	jobs     job.Store
	driver   *fakeDriver
	primary  *llmtest.Model
	dir      string
	log      *logger.TestLogger
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PrimaryModel = "primary"
	cfg.FallbackModel = ""
	cfg.Tune = func(c *explorer.Config) {
		c.LaunchSettle = 0
		c.DefaultSettle = 0
		c.Settle = nil
		c.ObserveRetryDelay = 0
	}
	return cfg
}

func newHarness(t *testing.T, pools map[hierarchy.Platform]*device.Pool) *harness {
	t.Helper()
	db := testutil.SetupTestDB(t)
	testutil.AutoMigrate(t, db, &job.Job{})
	log := logger.NewTestLogger()

	dir := t.TempDir()
	blob, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)

	h := &harness{
		jobs:    job.NewMySQLStore(db, log),
		driver:  &fakeDriver{image: screenPNG(t)},
		primary: llmtest.New("primary", decisionReply("screenshot")),
		dir:     dir,
		log:     log,
	}
	h.primary.Default = &llmtest.Reply{Text: decisionReply("done")}

	h.pipeline = NewPipeline(testConfig(), h.jobs, pools, blob, log).
		WithDriverFactory(func(cfg automation.MaestroConfig) (automation.Driver, error) {
			h.driver.mu.Lock()
			h.driver.deviceID = cfg.DeviceID
			h.driver.mu.Unlock()
			return h.driver, nil
		}).
		WithModelFactory(func(ctx context.Context, cfg llm.Config) (llm.Model, error) {
			if cfg.ModelID == "primary" {
				return h.primary, nil
			}
			return nil, nil
		})
	return h
}

func (h *harness) createJob(t *testing.T, cfg JobConfig) *job.Job {
	t.Helper()
	m, err := cfg.ToJSONMap()
	require.NoError(t, err)
	j := &job.Job{
		Type:        job.JobTypeScreenshotExploration,
		AppID:       cfg.AppID,
		Platform:    string(cfg.Platform),
		Config:      m,
		RequestedBy: "release-pipeline",
	}
	require.NoError(t, h.jobs.Create(context.Background(), j))
	return j
}
