package automation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hairizuanbinnoorazman/screenshot-explorer/internal/command"
)

// CommandError is returned when a Maestro invocation exits non-zero or times
// out. Its Output is already truncated.
type CommandError = command.Error

// MaestroConfig configures the Maestro CLI driver.
type MaestroConfig struct {
	Bin      string
	DeviceID string
	Timeout  time.Duration
	// WorkDir holds temporary flow files; empty uses the OS temp dir.
	WorkDir string
}

// MaestroDriver runs single-step flows through the maestro CLI.
type MaestroDriver struct {
	cfg    MaestroConfig
	runner command.Runner
}

// NewMaestroDriver builds a driver bound to one device.
func NewMaestroDriver(cfg MaestroConfig, runner command.Runner) (*MaestroDriver, error) {
	if cfg.DeviceID == "" {
		return nil, errors.New("maestro driver requires a device id")
	}
	if cfg.Bin == "" {
		cfg.Bin = "maestro"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &MaestroDriver{cfg: cfg, runner: runner}, nil
}

// RunFlow writes f to a temporary file and runs it.
func (m *MaestroDriver) RunFlow(ctx context.Context, f Flow) error {
	data, err := f.Encode()
	if err != nil {
		return err
	}
	file, err := os.CreateTemp(m.cfg.WorkDir, "flow-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create flow file: %w", err)
	}
	defer os.Remove(file.Name())
	if _, err := file.Write(data); err != nil {
		file.Close()
		return fmt.Errorf("failed to write flow file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to write flow file: %w", err)
	}

	_, err = m.runner.Run(ctx, m.cfg.Timeout, m.cfg.Bin, "--device", m.cfg.DeviceID, "test", file.Name())
	return err
}

// Screenshot captures the screen as PNG with a takeScreenshot flow.
func (m *MaestroDriver) Screenshot(ctx context.Context, appID string) ([]byte, error) {
	dir, err := os.MkdirTemp(m.cfg.WorkDir, "shot-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create screenshot dir: %w", err)
	}
	defer os.RemoveAll(dir)

	base := filepath.Join(dir, "screen")
	if err := m.RunFlow(ctx, Flow{AppID: appID, Steps: []Step{{Command: "takeScreenshot", Args: base}}}); err != nil {
		return nil, err
	}
	img, err := os.ReadFile(base + ".png")
	if err != nil {
		return nil, fmt.Errorf("failed to read screenshot: %w", err)
	}
	return img, nil
}

// Hierarchy dumps the view hierarchy as JSON. Log lines printed before the
// document are dropped.
func (m *MaestroDriver) Hierarchy(ctx context.Context) ([]byte, error) {
	out, err := m.runner.Run(ctx, m.cfg.Timeout, m.cfg.Bin, "--device", m.cfg.DeviceID, "hierarchy")
	if err != nil {
		return nil, err
	}
	start := bytes.IndexByte(out, '{')
	if start < 0 {
		return nil, fmt.Errorf("maestro hierarchy returned no JSON: %s", command.Truncate(string(out), command.MaxOutput))
	}
	return out[start:], nil
}
