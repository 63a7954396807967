// Package device leases ephemeral simulators and emulators to exploration
// jobs from a bounded pool.
package device

import (
	"context"
	"errors"
	"time"

	"github.com/hairizuanbinnoorazman/screenshot-explorer/hierarchy"
)

var (
	ErrAcquireTimeout     = errors.New("timed out waiting for a device")
	ErrPoolClosed         = errors.New("device pool is shut down")
	ErrDeviceCorrupted    = errors.New("device corrupted during cleanup")
	ErrDeviceUnavailable  = errors.New("device unavailable")
	ErrInvalidState       = errors.New("invalid device state transition")
	ErrInvalidConfig      = errors.New("invalid pool configuration")
	ErrUnsupportedCleanup = errors.New("unsupported cleanup strategy")
)

// State is the lifecycle state of a managed device.
type State string

const (
	StateIdle      State = "idle"
	StateInUse     State = "in_use"
	StateCleaning  State = "cleaning"
	StateCorrupted State = "corrupted"
)

var transitions = map[State][]State{
	StateIdle:     {StateInUse, StateCorrupted},
	StateInUse:    {StateCleaning, StateCorrupted},
	StateCleaning: {StateIdle, StateCorrupted},
}

// CanTransition reports whether s may move to next. A device only cycles
// idle, in_use, cleaning and back to idle; corrupted is terminal.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CleanupStrategy picks what Release does to a device before reuse.
type CleanupStrategy string

const (
	CleanupUninstall CleanupStrategy = "uninstall"
	CleanupErase     CleanupStrategy = "erase"
)

// IsValid checks the strategy name.
func (c CleanupStrategy) IsValid() bool {
	return c == CleanupUninstall || c == CleanupErase
}

// Instance is a device as the provisioner sees it.
type Instance struct {
	ID   string
	Name string
}

// Device is a managed device as the pool tracks it.
type Device struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	DeviceType  string             `json:"device_type"`
	Platform    hierarchy.Platform `json:"platform"`
	State       State              `json:"state"`
	LeaseHolder string             `json:"lease_holder,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	LastUsedAt  time.Time          `json:"last_used_at"`
}

// Lease is one job's exclusive hold on one device.
type Lease struct {
	ID         string
	JobID      string
	Device     Device
	AcquiredAt time.Time
}

// Provisioner creates and destroys the underlying environments.
type Provisioner interface {
	Platform() hierarchy.Platform
	DeviceType() string
	Create(ctx context.Context, name string) (Instance, error)
	Delete(ctx context.Context, inst Instance) error
	Erase(ctx context.Context, inst Instance) error
	Uninstall(ctx context.Context, inst Instance, appID string) error
	List(ctx context.Context) ([]Instance, error)
}

// Config bounds the pool.
type Config struct {
	MinIdle         int
	MaxSize         int
	AcquireTimeout  time.Duration
	DrainTimeout    time.Duration
	NamePrefix      string
	CleanupStrategy CleanupStrategy
	// ReconcileInterval is how often Maintain reruns orphan and corrupted
	// device cleanup. Zero disables it.
	ReconcileInterval time.Duration
}

// DefaultConfig is a two-device pool with uninstall cleanup.
func DefaultConfig() Config {
	return Config{
		MinIdle:         0,
		MaxSize:         2,
		AcquireTimeout:  5 * time.Minute,
		DrainTimeout:    30 * time.Second,
		NamePrefix:      "explorer-",
		CleanupStrategy: CleanupUninstall,

		ReconcileInterval: 5 * time.Minute,
	}
}

func (c Config) validate() error {
	if c.MaxSize < 1 {
		return errors.Join(ErrInvalidConfig, errors.New("max size must be at least 1"))
	}
	if c.MinIdle < 0 || c.MinIdle > c.MaxSize {
		return errors.Join(ErrInvalidConfig, errors.New("min idle must be between 0 and max size"))
	}
	if c.AcquireTimeout <= 0 {
		return errors.Join(ErrInvalidConfig, errors.New("acquire timeout must be positive"))
	}
	if c.NamePrefix == "" {
		return errors.Join(ErrInvalidConfig, errors.New("name prefix is required"))
	}
	if !c.CleanupStrategy.IsValid() {
		return errors.Join(ErrUnsupportedCleanup, errors.New(string(c.CleanupStrategy)))
	}
	return nil
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Total       int `json:"total"`
	Idle        int `json:"idle"`
	InUse       int `json:"in_use"`
	Cleaning    int `json:"cleaning"`
	Corrupted   int `json:"corrupted"`
	Creating    int `json:"creating"`
	QueueLength int `json:"queue_length"`
	MaxSize     int `json:"max_size"`
}
