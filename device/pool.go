package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hairizuanbinnoorazman/screenshot-explorer/logger"
)

const (
	drainPollInterval = 25 * time.Millisecond
	teardownParallel  = 4
)

type managed struct {
	Device
	inst    Instance
	leaseID string
}

// grant resolves one waiter: a handed-over lease, a reserved creation slot,
// or an error.
type grant struct {
	lease    *Lease
	slotName string
	err      error
}

type waiter struct {
	jobID      string
	ch         chan grant
	enqueuedAt time.Time
}

// Pool hands out device leases. Construct one per process and share it.
type Pool struct {
	cfg    Config
	prov   Provisioner
	logger logger.Logger
	now    func() time.Time
	// observe sees every state change; tests use it to check the state table.
	observe func(id string, from, to State)

	mu      sync.Mutex
	devices map[string]*managed
	pending map[string]struct{}
	waiters []*waiter
	closed  bool
}

// NewPool validates cfg and builds an empty pool.
func NewPool(cfg Config, prov Provisioner, log logger.Logger) (*Pool, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultConfig().DrainTimeout
	}
	return &Pool{
		cfg:     cfg,
		prov:    prov,
		logger:  log.WithField("component", "device_pool"),
		now:     time.Now,
		devices: make(map[string]*managed),
		pending: make(map[string]struct{}),
	}, nil
}

// Initialize pre-warms MinIdle devices concurrently and fails on the first
// creation error.
func (p *Pool) Initialize(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	need := min(p.cfg.MinIdle-p.countLocked(StateIdle), p.cfg.MaxSize-p.sizeLocked())
	names := make([]string, 0, max(need, 0))
	for i := 0; i < need; i++ {
		names = append(names, p.reserveLocked())
	}
	p.mu.Unlock()

	if len(names) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		g.Go(func() error {
			inst, err := p.prov.Create(gctx, name)
			d, err := p.finishCreate(ctx, name, inst, err)
			if err != nil {
				return fmt.Errorf("failed to pre-warm device %s: %w", name, err)
			}
			p.mu.Lock()
			p.handOffLocked(d)
			p.mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	p.logger.Info(ctx, "device pool initialized", map[string]interface{}{
		"prewarmed": len(names),
		"max_size":  p.cfg.MaxSize,
	})
	return nil
}

// Acquire leases an idle device, creates one while under MaxSize, or queues
// until a release hands one over. A queued caller that hits AcquireTimeout
// gets ErrAcquireTimeout and is never resolved afterwards.
func (p *Pool) Acquire(ctx context.Context, jobID string) (*Lease, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if d := p.idleDeviceLocked(); d != nil {
		lease := p.leaseLocked(d, jobID)
		p.mu.Unlock()
		p.logLease(ctx, lease, "reused")
		return lease, nil
	}
	if p.sizeLocked() < p.cfg.MaxSize {
		name := p.reserveLocked()
		p.mu.Unlock()
		return p.createLeased(ctx, name, jobID)
	}

	w := &waiter{jobID: jobID, ch: make(chan grant, 1), enqueuedAt: p.now()}
	p.waiters = append(p.waiters, w)
	queued := len(p.waiters)
	p.mu.Unlock()

	p.logger.Info(ctx, "waiting for device", map[string]interface{}{
		"job_id":       jobID,
		"queue_length": queued,
	})

	timer := time.NewTimer(p.cfg.AcquireTimeout)
	defer timer.Stop()

	select {
	case g := <-w.ch:
		return p.resolve(ctx, g, jobID)
	case <-timer.C:
		return p.abandon(ctx, w, ErrAcquireTimeout)
	case <-ctx.Done():
		return p.abandon(ctx, w, ctx.Err())
	}
}

// abandon removes w from the queue. If a grant raced ahead of the removal the
// grant wins.
func (p *Pool) abandon(ctx context.Context, w *waiter, cause error) (*Lease, error) {
	p.mu.Lock()
	for i, q := range p.waiters {
		if q == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			p.mu.Unlock()
			p.logger.Warn(ctx, "gave up waiting for device", map[string]interface{}{
				"job_id": w.jobID,
				"waited": p.now().Sub(w.enqueuedAt).String(),
				"error":  cause.Error(),
			})
			return nil, cause
		}
	}
	p.mu.Unlock()
	return p.resolve(ctx, <-w.ch, w.jobID)
}

func (p *Pool) resolve(ctx context.Context, g grant, jobID string) (*Lease, error) {
	switch {
	case g.err != nil:
		return nil, g.err
	case g.lease != nil:
		p.logLease(ctx, g.lease, "handed over")
		return g.lease, nil
	default:
		return p.createLeased(ctx, g.slotName, jobID)
	}
}

func (p *Pool) createLeased(ctx context.Context, name, jobID string) (*Lease, error) {
	inst, err := p.prov.Create(ctx, name)
	d, err := p.finishCreate(ctx, name, inst, err)
	if err != nil {
		return nil, fmt.Errorf("failed to create device: %w", err)
	}
	p.mu.Lock()
	lease := p.leaseLocked(d, jobID)
	p.mu.Unlock()
	p.logLease(ctx, lease, "created")
	return lease, nil
}

// finishCreate records the outcome of a provisioner Create for a reserved
// name. On failure the slot passes to the head waiter.
func (p *Pool) finishCreate(ctx context.Context, name string, inst Instance, createErr error) (*managed, error) {
	p.mu.Lock()
	delete(p.pending, name)
	if createErr != nil {
		p.grantSlotLocked()
		p.mu.Unlock()
		return nil, createErr
	}
	if p.closed {
		p.mu.Unlock()
		if err := p.prov.Delete(context.WithoutCancel(ctx), inst); err != nil {
			p.logger.Warn(ctx, "failed to delete device created during shutdown", map[string]interface{}{
				"device": inst.Name,
				"error":  err.Error(),
			})
		}
		return nil, ErrPoolClosed
	}
	now := p.now()
	d := &managed{
		Device: Device{
			ID:         inst.ID,
			Name:       inst.Name,
			DeviceType: p.prov.DeviceType(),
			Platform:   p.prov.Platform(),
			State:      StateIdle,
			CreatedAt:  now,
			LastUsedAt: now,
		},
		inst: inst,
	}
	p.devices[inst.ID] = d
	p.mu.Unlock()
	return d, nil
}

// Release cleans the device and returns it to the pool or to the head waiter.
// Releasing an inactive lease is a no-op. An environment-level cleanup
// failure marks the device corrupted and returns ErrDeviceCorrupted.
func (p *Pool) Release(ctx context.Context, lease *Lease, cleanupKey string) error {
	if lease == nil {
		return nil
	}

	p.mu.Lock()
	d, ok := p.devices[lease.Device.ID]
	if !ok || d.leaseID != lease.ID || !d.State.CanTransition(StateCleaning) {
		p.mu.Unlock()
		p.logger.Debug(ctx, "release ignored for inactive lease", map[string]interface{}{
			"lease_id": lease.ID,
			"job_id":   lease.JobID,
		})
		return nil
	}
	p.setStateLocked(d, StateCleaning)
	d.leaseID = ""
	d.LeaseHolder = ""
	p.mu.Unlock()

	cleanErr := p.cleanup(ctx, d.inst, cleanupKey)

	p.mu.Lock()
	if cur, ok := p.devices[d.ID]; !ok || cur != d {
		p.mu.Unlock()
		return nil
	}
	if cleanErr != nil && errors.Is(cleanErr, ErrDeviceUnavailable) {
		p.setStateLocked(d, StateCorrupted)
		p.mu.Unlock()
		p.logger.Error(ctx, "device corrupted during cleanup", map[string]interface{}{
			"device": d.Name,
			"job_id": lease.JobID,
			"error":  cleanErr.Error(),
		})
		p.reap(ctx, d)
		return fmt.Errorf("%w: %s: %v", ErrDeviceCorrupted, d.Name, cleanErr)
	}
	d.LastUsedAt = p.now()
	p.handOffLocked(d)
	p.mu.Unlock()

	fields := map[string]interface{}{
		"device": d.Name,
		"job_id": lease.JobID,
		"held":   p.now().Sub(lease.AcquiredAt).String(),
	}
	if cleanErr != nil {
		fields["error"] = cleanErr.Error()
		p.logger.Warn(ctx, "device cleanup failed; device kept in pool", fields)
	} else {
		p.logger.Info(ctx, "device released", fields)
	}
	return nil
}

// WithLease runs fn under a lease and releases it however fn returns,
// panics included.
func (p *Pool) WithLease(ctx context.Context, jobID, cleanupKey string, fn func(context.Context, *Lease) error) error {
	lease, err := p.Acquire(ctx, jobID)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := p.Release(context.WithoutCancel(ctx), lease, cleanupKey); rerr != nil {
			p.logger.Warn(ctx, "release reported an error", map[string]interface{}{
				"job_id": jobID,
				"error":  rerr.Error(),
			})
		}
	}()
	return fn(ctx, lease)
}

func (p *Pool) cleanup(ctx context.Context, inst Instance, appID string) error {
	switch p.cfg.CleanupStrategy {
	case CleanupErase:
		if err := p.prov.Erase(ctx, inst); err != nil {
			return errors.Join(ErrDeviceUnavailable, err)
		}
		return nil
	default:
		if appID == "" {
			return nil
		}
		return p.prov.Uninstall(ctx, inst, appID)
	}
}

// reap deletes a corrupted device and frees its slot. It reports whether the
// device is gone.
func (p *Pool) reap(ctx context.Context, d *managed) bool {
	if err := p.prov.Delete(context.WithoutCancel(ctx), d.inst); err != nil {
		p.logger.Warn(ctx, "failed to delete corrupted device; will retry on cleanup", map[string]interface{}{
			"device": d.Name,
			"error":  err.Error(),
		})
		return false
	}
	p.mu.Lock()
	if cur, ok := p.devices[d.ID]; ok && cur == d {
		delete(p.devices, d.ID)
		p.grantSlotLocked()
	}
	p.mu.Unlock()
	return true
}

// Maintain runs CleanupOrphanedDevices every ReconcileInterval until ctx ends
// or the pool shuts down, so a corrupted device whose delete failed does not
// hold its slot until the next restart.
func (p *Pool) Maintain(ctx context.Context) {
	if p.cfg.ReconcileInterval <= 0 {
		return
	}
	ticker := time.NewTicker(p.cfg.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return
		}
		removed, err := p.CleanupOrphanedDevices(ctx)
		if err != nil {
			p.logger.Warn(ctx, "device reconciliation failed", map[string]interface{}{"error": err.Error()})
		}
		if removed > 0 {
			p.logger.Info(ctx, "device reconciliation removed devices", map[string]interface{}{"removed": removed})
		}
	}
}

// Shutdown rejects queued waiters, waits up to DrainTimeout for leases to come
// back, then deletes every managed device.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for _, w := range p.waiters {
		w.ch <- grant{err: ErrPoolClosed}
	}
	rejected := len(p.waiters)
	p.waiters = nil
	p.mu.Unlock()

	drained := p.drain(ctx)

	p.mu.Lock()
	devices := make([]*managed, 0, len(p.devices))
	for _, d := range p.devices {
		devices = append(devices, d)
	}
	p.devices = make(map[string]*managed)
	p.mu.Unlock()

	p.logger.Info(ctx, "shutting down device pool", map[string]interface{}{
		"devices":          len(devices),
		"rejected_waiters": rejected,
		"drained":          drained,
	})

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(teardownParallel)
	teardownCtx := context.WithoutCancel(ctx)
	for _, d := range devices {
		g.Go(func() error {
			if err := p.prov.Delete(teardownCtx, d.inst); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("delete %s: %w", d.Name, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (p *Pool) drain(ctx context.Context) bool {
	deadline := time.NewTimer(p.cfg.DrainTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(drainPollInterval)
	defer tick.Stop()

	for {
		if p.busy() == 0 {
			return true
		}
		select {
		case <-deadline.C:
			p.logger.Warn(ctx, "drain timeout reached; forcing device teardown", map[string]interface{}{
				"busy": p.busy(),
			})
			return false
		case <-ctx.Done():
			return false
		case <-tick.C:
		}
	}
}

func (p *Pool) busy() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.countLocked(StateInUse) + p.countLocked(StateCleaning) + len(p.pending)
}

// CleanupOrphanedDevices deletes provisioner devices that carry this pool's
// name prefix but are not tracked, and retries deletion of corrupted ones.
func (p *Pool) CleanupOrphanedDevices(ctx context.Context) (int, error) {
	insts, err := p.prov.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list devices: %w", err)
	}

	p.mu.Lock()
	known := make(map[string]bool, len(p.devices)+len(p.pending))
	var corrupted []*managed
	for _, d := range p.devices {
		known[d.Name] = true
		if d.State == StateCorrupted {
			corrupted = append(corrupted, d)
		}
	}
	for name := range p.pending {
		known[name] = true
	}
	p.mu.Unlock()

	removed := 0
	var errs []error
	for _, inst := range insts {
		if !strings.HasPrefix(inst.Name, p.cfg.NamePrefix) || known[inst.Name] {
			continue
		}
		if err := p.prov.Delete(ctx, inst); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", inst.Name, err))
			continue
		}
		removed++
		p.logger.Info(ctx, "deleted orphaned device", map[string]interface{}{"device": inst.Name})
	}
	for _, d := range corrupted {
		if p.reap(ctx, d) {
			removed++
		}
	}
	return removed, errors.Join(errs...)
}

// Stats reports current counts.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Stats{
		Total:       len(p.devices),
		Creating:    len(p.pending),
		QueueLength: len(p.waiters),
		MaxSize:     p.cfg.MaxSize,
	}
	for _, d := range p.devices {
		switch d.State {
		case StateIdle:
			s.Idle++
		case StateInUse:
			s.InUse++
		case StateCleaning:
			s.Cleaning++
		case StateCorrupted:
			s.Corrupted++
		}
	}
	return s
}

// Devices returns a snapshot of managed devices ordered by name.
func (p *Pool) Devices() []Device {
	p.mu.Lock()
	out := make([]Device, 0, len(p.devices))
	for _, d := range p.devices {
		out = append(out, d.Device)
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (p *Pool) sizeLocked() int {
	return len(p.devices) + len(p.pending)
}

func (p *Pool) countLocked(s State) int {
	n := 0
	for _, d := range p.devices {
		if d.State == s {
			n++
		}
	}
	return n
}

func (p *Pool) reserveLocked() string {
	name := p.cfg.NamePrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	p.pending[name] = struct{}{}
	return name
}

// idleDeviceLocked picks the idle device unused the longest.
func (p *Pool) idleDeviceLocked() *managed {
	var best *managed
	for _, d := range p.devices {
		if d.State != StateIdle {
			continue
		}
		if best == nil || d.LastUsedAt.Before(best.LastUsedAt) ||
			(d.LastUsedAt.Equal(best.LastUsedAt) && d.Name < best.Name) {
			best = d
		}
	}
	return best
}

func (p *Pool) leaseLocked(d *managed, jobID string) *Lease {
	now := p.now()
	p.setStateLocked(d, StateInUse)
	d.leaseID = uuid.NewString()
	d.LeaseHolder = jobID
	d.LastUsedAt = now
	return &Lease{ID: d.leaseID, JobID: jobID, Device: d.Device, AcquiredAt: now}
}

// handOffLocked parks d idle and then gives it to the head waiter, if any.
func (p *Pool) handOffLocked(d *managed) {
	p.setStateLocked(d, StateIdle)
	if !p.closed && len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		w.ch <- grant{lease: p.leaseLocked(d, w.jobID)}
	}
}

func (p *Pool) setStateLocked(d *managed, next State) {
	if d.State == next {
		return
	}
	if p.observe != nil {
		p.observe(d.ID, d.State, next)
	}
	d.State = next
}

// grantSlotLocked lets the head waiter create a device when capacity frees up.
func (p *Pool) grantSlotLocked() {
	if p.closed || len(p.waiters) == 0 || p.sizeLocked() >= p.cfg.MaxSize {
		return
	}
	w := p.waiters[0]
	p.waiters = p.waiters[1:]
	w.ch <- grant{slotName: p.reserveLocked()}
}

func (p *Pool) logLease(ctx context.Context, lease *Lease, how string) {
	p.logger.Info(ctx, "device leased", map[string]interface{}{
		"device":   lease.Device.Name,
		"job_id":   lease.JobID,
		"lease_id": lease.ID,
		"how":      how,
	})
}
