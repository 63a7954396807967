package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/automation"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/decision"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/device"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/explorer"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/hierarchy"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/internal/command"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/job"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/llm"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/logger"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/screenshot"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/storage"
)

// ErrNoDevicePool is returned when a job targets a platform with no pool and
// names no device of its own.
var ErrNoDevicePool = errors.New("no device pool for platform")

var _ explorer.Device = (*automation.Client)(nil)

// DriverFactory builds the automation driver for one device.
type DriverFactory func(cfg automation.MaestroConfig) (automation.Driver, error)

// ModelFactory builds a model from provider settings. A nil model with a nil
// error means the model is not configured.
type ModelFactory func(ctx context.Context, cfg llm.Config) (llm.Model, error)

// Pipeline runs exploration jobs: lease a device, explore, record the result.
type Pipeline struct {
	config    Config
	jobStore  job.Store
	pools     map[hierarchy.Platform]*device.Pool
	storage   storage.BlobStorage
	logger    logger.Logger
	newDriver DriverFactory
	newModel  ModelFactory
}

// NewPipeline creates a pipeline that drives devices through the maestro CLI.
func NewPipeline(
	config Config,
	jobStore job.Store,
	pools map[hierarchy.Platform]*device.Pool,
	blobStorage storage.BlobStorage,
	log logger.Logger,
) *Pipeline {
	return &Pipeline{
		config:   config,
		jobStore: jobStore,
		pools:    pools,
		storage:  blobStorage,
		logger:   log,
		newDriver: func(cfg automation.MaestroConfig) (automation.Driver, error) {
			return automation.NewMaestroDriver(cfg, command.Exec{})
		},
		newModel: llm.New,
	}
}

// WithDriverFactory replaces how drivers are built.
func (p *Pipeline) WithDriverFactory(f DriverFactory) *Pipeline {
	p.newDriver = f
	return p
}

// WithModelFactory replaces how models are built.
func (p *Pipeline) WithModelFactory(f ModelFactory) *Pipeline {
	p.newModel = f
	return p
}

// Run marks a created job as running and executes it.
func (p *Pipeline) Run(ctx context.Context, jobID uuid.UUID) {
	if err := p.jobStore.Start(ctx, jobID); err != nil {
		p.failJob(ctx, jobID, fmt.Sprintf("failed to start job: %v", err))
		return
	}
	p.RunAfterClaim(ctx, jobID)
}

// RunAfterClaim executes a job that is already running, as handed out by
// ClaimNextCreated.
func (p *Pipeline) RunAfterClaim(ctx context.Context, jobID uuid.UUID) {
	p.logger.Info(ctx, "starting exploration job", map[string]interface{}{
		"job_id": jobID.String(),
	})

	if p.config.TimeLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.TimeLimit)
		defer cancel()
	}

	j, err := p.jobStore.GetByID(ctx, jobID)
	if err != nil {
		p.failJob(ctx, jobID, fmt.Sprintf("failed to fetch job: %v", err))
		return
	}
	cfg, err := ParseJobConfig(j.Config)
	if err != nil {
		p.failJob(ctx, jobID, err.Error())
		return
	}

	out, err := p.Execute(ctx, jobID.String(), cfg)
	if err != nil {
		p.failJob(ctx, jobID, fmt.Sprintf("exploration failed: %v", err))
		return
	}

	result, err := out.ToJSONMap()
	if err != nil {
		p.failJob(ctx, jobID, fmt.Sprintf("failed to encode result: %v", err))
		return
	}
	status := job.StatusFailed
	if out.Result.Success {
		status = job.StatusSuccess
	}
	if err := p.jobStore.Complete(context.WithoutCancel(ctx), jobID, status, result); err != nil {
		p.logger.Error(ctx, "failed to complete job", map[string]interface{}{
			"error":  err.Error(),
			"job_id": jobID.String(),
		})
		return
	}

	p.logger.Info(ctx, "exploration job finished", map[string]interface{}{
		"job_id":      jobID.String(),
		"status":      string(status),
		"screenshots": len(out.Result.Screenshots),
		"end_reason":  string(out.Result.EndReason),
	})
}

// Execute explores one app. A job naming a device runs on it directly;
// otherwise a device is leased from the platform's pool for the duration and
// cleaned of the app on release.
func (p *Pipeline) Execute(ctx context.Context, jobID string, cfg JobConfig) (*Outcome, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.DeviceID != "" {
		return p.explore(ctx, jobID, cfg.DeviceID, cfg)
	}

	pool, ok := p.pools[cfg.Platform]
	if !ok || pool == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoDevicePool, cfg.Platform)
	}
	var out *Outcome
	err := pool.WithLease(ctx, jobID, cfg.AppID, func(ctx context.Context, lease *device.Lease) error {
		var err error
		out, err = p.explore(ctx, jobID, lease.Device.ID, cfg)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Pipeline) explore(ctx context.Context, jobID, deviceID string, cfg JobConfig) (*Outcome, error) {
	log := p.logger.WithFields(map[string]interface{}{
		"job_id":    jobID,
		"device_id": deviceID,
	})

	driver, err := p.newDriver(automation.MaestroConfig{
		Bin:      p.config.MaestroBin,
		DeviceID: deviceID,
		Timeout:  p.config.MaestroTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create driver: %w", err)
	}

	prefix := cfg.outputPrefix(jobID)
	output := storage.WithPrefix(p.storage, prefix)
	clientCfg := automation.Config{AppID: cfg.AppID, Platform: cfg.Platform}
	if cfg.Debug {
		clientCfg.Debug = storage.WithPrefix(output, "debug")
	}
	client := automation.NewClient(clientCfg, driver, log)

	engine, err := p.decisionEngine(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	ecfg := explorer.DefaultConfig(cfg.AppID, cfg.Platform)
	ecfg.MaxSteps = firstPositive(cfg.MaxSteps, p.config.MaxSteps, ecfg.MaxSteps)
	ecfg.TargetScreenshots = firstPositive(cfg.TargetScreenshots, p.config.TargetScreenshots, ecfg.TargetScreenshots)
	ecfg.MinScreenshots = cfg.MinScreenshots
	ecfg.ClearStateOnLaunch = cfg.ClearState
	if p.config.Tune != nil {
		p.config.Tune(&ecfg)
	}

	ex, err := explorer.New(ecfg, client, engine, screenshot.NewStore(output, log), log)
	if err != nil {
		return nil, err
	}
	res := ex.Run(ctx)

	return &Outcome{
		DeviceID:     deviceID,
		OutputPrefix: prefix,
		Result:       res,
		Decisions:    engine.Stats(),
	}, nil
}

func (p *Pipeline) decisionEngine(ctx context.Context, cfg JobConfig, log logger.Logger) (*decision.Engine, error) {
	primary, err := p.model(ctx, firstNonEmpty(cfg.PrimaryModel, p.config.PrimaryModel))
	if err != nil {
		return nil, fmt.Errorf("failed to create primary model: %w", err)
	}
	fallback, err := p.model(ctx, firstNonEmpty(cfg.FallbackModel, p.config.FallbackModel))
	if err != nil {
		return nil, fmt.Errorf("failed to create fallback model: %w", err)
	}

	dcfg := p.config.Decision
	if cfg.LowConfidenceThreshold > 0 {
		dcfg.LowConfidenceThreshold = cfg.LowConfidenceThreshold
	}
	if cfg.FailureEscalationThreshold > 0 {
		dcfg.FailureEscalationThreshold = cfg.FailureEscalationThreshold
	}
	return decision.NewEngine(decision.Policy{Primary: primary, Fallback: fallback}, dcfg, log)
}

func (p *Pipeline) model(ctx context.Context, id string) (llm.Model, error) {
	mc := p.config.Model
	mc.ModelID = id
	return p.newModel(ctx, mc)
}

// failJob marks a job as failed with the given reason.
func (p *Pipeline) failJob(ctx context.Context, jobID uuid.UUID, reason string) {
	p.logger.Error(ctx, "exploration job failed", map[string]interface{}{
		"job_id": jobID.String(),
		"reason": reason,
	})

	ctx = context.WithoutCancel(ctx)
	if err := p.jobStore.Complete(ctx, jobID, job.StatusFailed, job.JSONMap{
		"error": reason,
	}); err != nil {
		// The job may never have reached running.
		if err2 := p.jobStore.Update(ctx, jobID, job.SetStatus(job.StatusFailed), job.SetResult(job.JSONMap{
			"error": reason,
		})); err2 != nil {
			p.logger.Error(ctx, "failed to mark job as failed", map[string]interface{}{
				"error":  err2.Error(),
				"job_id": jobID.String(),
			})
		}
	}
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
