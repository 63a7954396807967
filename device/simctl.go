package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hairizuanbinnoorazman/screenshot-explorer/hierarchy"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/internal/command"
)

// SimctlConfig configures iOS simulator provisioning.
type SimctlConfig struct {
	DeviceType     string // e.g. "iPhone 15 Pro"
	Runtime        string // e.g. "com.apple.CoreSimulator.SimRuntime.iOS-17-5"; empty picks the newest
	CommandTimeout time.Duration
	BootTimeout    time.Duration
}

// SimctlProvisioner manages iOS simulators through xcrun simctl.
type SimctlProvisioner struct {
	cfg    SimctlConfig
	runner command.Runner
}

// NewSimctlProvisioner builds a provisioner over runner.
func NewSimctlProvisioner(cfg SimctlConfig, runner command.Runner) *SimctlProvisioner {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 60 * time.Second
	}
	if cfg.BootTimeout <= 0 {
		cfg.BootTimeout = 3 * time.Minute
	}
	if cfg.DeviceType == "" {
		cfg.DeviceType = "iPhone 15"
	}
	return &SimctlProvisioner{cfg: cfg, runner: runner}
}

func (s *SimctlProvisioner) Platform() hierarchy.Platform { return hierarchy.PlatformIOS }
func (s *SimctlProvisioner) DeviceType() string           { return s.cfg.DeviceType }

func (s *SimctlProvisioner) simctl(ctx context.Context, timeout time.Duration, args ...string) ([]byte, error) {
	out, err := s.runner.Run(ctx, timeout, "xcrun", append([]string{"simctl"}, args...)...)
	if err != nil && isMissingSimulator(err) {
		return out, errors.Join(ErrDeviceUnavailable, err)
	}
	return out, err
}

// Create makes a simulator named name and boots it.
func (s *SimctlProvisioner) Create(ctx context.Context, name string) (Instance, error) {
	args := []string{"create", name, s.cfg.DeviceType}
	if s.cfg.Runtime != "" {
		args = append(args, s.cfg.Runtime)
	}
	out, err := s.simctl(ctx, s.cfg.CommandTimeout, args...)
	if err != nil {
		return Instance{}, fmt.Errorf("simctl create: %w", err)
	}
	inst := Instance{ID: strings.TrimSpace(string(out)), Name: name}
	if inst.ID == "" {
		return Instance{}, fmt.Errorf("simctl create returned no udid for %s", name)
	}
	if err := s.boot(ctx, inst); err != nil {
		_ = s.Delete(context.WithoutCancel(ctx), inst)
		return Instance{}, err
	}
	return inst, nil
}

func (s *SimctlProvisioner) boot(ctx context.Context, inst Instance) error {
	if _, err := s.simctl(ctx, s.cfg.CommandTimeout, "boot", inst.ID); err != nil {
		return fmt.Errorf("simctl boot %s: %w", inst.Name, err)
	}
	if _, err := s.simctl(ctx, s.cfg.BootTimeout, "bootstatus", inst.ID, "-b"); err != nil {
		return fmt.Errorf("simctl bootstatus %s: %w", inst.Name, err)
	}
	return nil
}

// Delete shuts the simulator down and removes it.
func (s *SimctlProvisioner) Delete(ctx context.Context, inst Instance) error {
	_, _ = s.simctl(ctx, s.cfg.CommandTimeout, "shutdown", inst.ID)
	if _, err := s.simctl(ctx, s.cfg.CommandTimeout, "delete", inst.ID); err != nil {
		return fmt.Errorf("simctl delete %s: %w", inst.Name, err)
	}
	return nil
}

// Erase resets the simulator to factory state and boots it again.
func (s *SimctlProvisioner) Erase(ctx context.Context, inst Instance) error {
	_, _ = s.simctl(ctx, s.cfg.CommandTimeout, "shutdown", inst.ID)
	if _, err := s.simctl(ctx, s.cfg.CommandTimeout, "erase", inst.ID); err != nil {
		return fmt.Errorf("simctl erase %s: %w", inst.Name, err)
	}
	return s.boot(ctx, inst)
}

// Uninstall removes bundleID from the simulator.
func (s *SimctlProvisioner) Uninstall(ctx context.Context, inst Instance, bundleID string) error {
	if _, err := s.simctl(ctx, s.cfg.CommandTimeout, "uninstall", inst.ID, bundleID); err != nil {
		return fmt.Errorf("simctl uninstall %s from %s: %w", bundleID, inst.Name, err)
	}
	return nil
}

type simctlList struct {
	Devices map[string][]struct {
		UDID  string `json:"udid"`
		Name  string `json:"name"`
		State string `json:"state"`
	} `json:"devices"`
}

// List returns every simulator known to CoreSimulator.
func (s *SimctlProvisioner) List(ctx context.Context) ([]Instance, error) {
	out, err := s.simctl(ctx, s.cfg.CommandTimeout, "list", "devices", "-j")
	if err != nil {
		return nil, fmt.Errorf("simctl list: %w", err)
	}
	var parsed simctlList
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse simctl list output: %w", err)
	}
	var insts []Instance
	for _, devs := range parsed.Devices {
		for _, d := range devs {
			insts = append(insts, Instance{ID: d.UDID, Name: d.Name})
		}
	}
	sort.Slice(insts, func(i, j int) bool { return insts[i].Name < insts[j].Name })
	return insts, nil
}

func isMissingSimulator(err error) bool {
	var cerr *command.Error
	if !errors.As(err, &cerr) {
		return false
	}
	out := strings.ToLower(cerr.Output)
	return strings.Contains(out, "invalid device") || strings.Contains(out, "unable to boot")
}
