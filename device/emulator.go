package device

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hairizuanbinnoorazman/screenshot-explorer/hierarchy"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/internal/command"
)

const (
	firstEmulatorPort = 5554
	lastEmulatorPort  = 5682
)

// ErrNoEmulatorPort is returned when every console port is taken.
var ErrNoEmulatorPort = errors.New("no free emulator console port")

// EmulatorConfig configures Android emulator provisioning.
type EmulatorConfig struct {
	SystemImage    string // e.g. "system-images;android-34;google_apis;x86_64"
	DeviceType     string // avdmanager device profile, e.g. "pixel_7"
	Headless       bool
	CommandTimeout time.Duration
	BootTimeout    time.Duration
	PollInterval   time.Duration
}

// EmulatorProvisioner manages Android virtual devices with avdmanager,
// emulator and adb.
type EmulatorProvisioner struct {
	cfg     EmulatorConfig
	runner  command.Runner
	starter command.Starter

	mu      sync.Mutex
	running map[string]*emulatorProcess
	ports   map[int]bool
}

type emulatorProcess struct {
	port int
	stop func() error
}

// NewEmulatorProvisioner builds a provisioner. starter launches the emulator
// processes; runner executes the short-lived tools.
func NewEmulatorProvisioner(cfg EmulatorConfig, runner command.Runner, starter command.Starter) *EmulatorProvisioner {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 60 * time.Second
	}
	if cfg.BootTimeout <= 0 {
		cfg.BootTimeout = 4 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.DeviceType == "" {
		cfg.DeviceType = "pixel_7"
	}
	return &EmulatorProvisioner{
		cfg:     cfg,
		runner:  runner,
		starter: starter,
		running: make(map[string]*emulatorProcess),
		ports:   make(map[int]bool),
	}
}

func (e *EmulatorProvisioner) Platform() hierarchy.Platform { return hierarchy.PlatformAndroid }
func (e *EmulatorProvisioner) DeviceType() string           { return e.cfg.DeviceType }

func serialFor(port int) string { return fmt.Sprintf("emulator-%d", port) }

// Create registers an AVD called name, starts it and waits for boot. The
// instance id is the adb serial.
func (e *EmulatorProvisioner) Create(ctx context.Context, name string) (Instance, error) {
	if e.cfg.SystemImage == "" {
		return Instance{}, errors.New("emulator system image is not configured")
	}
	_, err := e.runner.Run(ctx, e.cfg.CommandTimeout, "avdmanager", "create", "avd",
		"--name", name, "--package", e.cfg.SystemImage, "--device", e.cfg.DeviceType, "--force")
	if err != nil {
		return Instance{}, fmt.Errorf("avdmanager create %s: %w", name, err)
	}

	port, err := e.allocatePort(0)
	if err == nil {
		var inst Instance
		if inst, err = e.start(ctx, name, port, false); err == nil {
			return inst, nil
		}
	}
	_ = e.Delete(context.WithoutCancel(ctx), Instance{ID: name, Name: name})
	return Instance{}, err
}

// start launches the AVD on an already reserved console port.
func (e *EmulatorProvisioner) start(ctx context.Context, name string, port int, wipe bool) (Instance, error) {
	args := []string{"-avd", name, "-port", fmt.Sprint(port), "-no-snapshot", "-no-audio", "-no-boot-anim"}
	if e.cfg.Headless {
		args = append(args, "-no-window")
	}
	if wipe {
		args = append(args, "-wipe-data")
	}
	stop, err := e.starter.Start("emulator", args...)
	if err != nil {
		e.freePort(port)
		return Instance{}, fmt.Errorf("start emulator %s: %w", name, err)
	}

	e.mu.Lock()
	e.running[name] = &emulatorProcess{port: port, stop: stop}
	e.mu.Unlock()

	inst := Instance{ID: serialFor(port), Name: name}
	if err := e.waitForBoot(ctx, inst.ID); err != nil {
		e.kill(ctx, name)
		return Instance{}, err
	}
	return inst, nil
}

func (e *EmulatorProvisioner) waitForBoot(ctx context.Context, serial string) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.BootTimeout)
	defer cancel()

	if _, err := e.runner.Run(ctx, 0, "adb", "-s", serial, "wait-for-device"); err != nil {
		return fmt.Errorf("adb wait-for-device %s: %w", serial, err)
	}
	tick := time.NewTicker(e.cfg.PollInterval)
	defer tick.Stop()
	for {
		out, err := e.runner.Run(ctx, e.cfg.CommandTimeout, "adb", "-s", serial, "shell", "getprop", "sys.boot_completed")
		if err == nil && strings.TrimSpace(string(out)) == "1" {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("emulator %s did not finish booting: %w", serial, ctx.Err())
		case <-tick.C:
		}
	}
}

// allocatePort reserves want, or the lowest free port when want is zero.
func (e *EmulatorProvisioner) allocatePort(want int) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if want != 0 {
		if e.ports[want] {
			return 0, fmt.Errorf("%w: %d is taken", ErrNoEmulatorPort, want)
		}
		e.ports[want] = true
		return want, nil
	}
	for port := firstEmulatorPort; port <= lastEmulatorPort; port += 2 {
		if !e.ports[port] {
			e.ports[port] = true
			return port, nil
		}
	}
	return 0, ErrNoEmulatorPort
}

func (e *EmulatorProvisioner) freePort(port int) {
	e.mu.Lock()
	delete(e.ports, port)
	e.mu.Unlock()
}

func (e *EmulatorProvisioner) kill(ctx context.Context, name string) {
	e.mu.Lock()
	proc, ok := e.running[name]
	delete(e.running, name)
	e.mu.Unlock()
	if !ok {
		return
	}
	_, _ = e.runner.Run(ctx, e.cfg.CommandTimeout, "adb", "-s", serialFor(proc.port), "emu", "kill")
	_ = proc.stop()
	e.freePort(proc.port)
}

// Delete stops the emulator if this process started it and removes the AVD.
func (e *EmulatorProvisioner) Delete(ctx context.Context, inst Instance) error {
	e.kill(ctx, inst.Name)
	if _, err := e.runner.Run(ctx, e.cfg.CommandTimeout, "avdmanager", "delete", "avd", "--name", inst.Name); err != nil {
		return fmt.Errorf("avdmanager delete %s: %w", inst.Name, err)
	}
	return nil
}

// Erase restarts the emulator with wiped user data on the same console port
// so the adb serial stays valid.
func (e *EmulatorProvisioner) Erase(ctx context.Context, inst Instance) error {
	e.mu.Lock()
	proc, ok := e.running[inst.Name]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: emulator %s is not running", ErrDeviceUnavailable, inst.Name)
	}
	e.kill(ctx, inst.Name)
	port, err := e.allocatePort(proc.port)
	if err != nil {
		return errors.Join(ErrDeviceUnavailable, err)
	}
	if _, err := e.start(ctx, inst.Name, port, true); err != nil {
		return fmt.Errorf("%w: restart %s: %v", ErrDeviceUnavailable, inst.Name, err)
	}
	return nil
}

// Uninstall removes packageName from the emulator.
func (e *EmulatorProvisioner) Uninstall(ctx context.Context, inst Instance, packageName string) error {
	out, err := e.runner.Run(ctx, e.cfg.CommandTimeout, "adb", "-s", inst.ID, "uninstall", packageName)
	if err != nil {
		var cerr *command.Error
		if errors.As(err, &cerr) && strings.Contains(cerr.Output, "not found") {
			return errors.Join(ErrDeviceUnavailable, err)
		}
		return fmt.Errorf("adb uninstall %s: %w", packageName, err)
	}
	if !bytes.Contains(out, []byte("Success")) {
		return fmt.Errorf("adb uninstall %s: %s", packageName, command.Truncate(string(out), command.MaxOutput))
	}
	return nil
}

// List returns every AVD name. Instances not started by this process carry
// their name as id.
func (e *EmulatorProvisioner) List(ctx context.Context) ([]Instance, error) {
	out, err := e.runner.Run(ctx, e.cfg.CommandTimeout, "avdmanager", "list", "avd", "-c")
	if err != nil {
		return nil, fmt.Errorf("avdmanager list: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	var insts []Instance
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		name := strings.TrimSpace(sc.Text())
		if name == "" {
			continue
		}
		id := name
		if proc, ok := e.running[name]; ok {
			id = serialFor(proc.port)
		}
		insts = append(insts, Instance{ID: id, Name: name})
	}
	return insts, sc.Err()
}
