package agent

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/job"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/logger"
)

// JobRunner executes one claimed job.
type JobRunner interface {
	RunAfterClaim(ctx context.Context, jobID uuid.UUID)
}

// WorkerPool manages a pool of goroutines that process jobs from the database.
// Workers wake on Notify and drain the queue, claiming each job with a
// conditional update so no job runs twice.
type WorkerPool struct {
	Work       chan struct{}
	maxWorkers int
	jobStore   job.Store
	runner     JobRunner
	logger     logger.Logger
	wg         sync.WaitGroup
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(maxWorkers int, jobStore job.Store, runner JobRunner, log logger.Logger) *WorkerPool {
	maxWorkers = max(maxWorkers, 1)
	return &WorkerPool{
		Work:       make(chan struct{}, maxWorkers),
		maxWorkers: maxWorkers,
		jobStore:   jobStore,
		runner:     runner,
		logger:     log,
	}
}

// Start spawns worker goroutines and wakes them once so jobs queued before
// startup are picked up.
func (p *WorkerPool) Start(ctx context.Context) {
	p.logger.Info(ctx, "starting worker pool", map[string]interface{}{
		"max_workers": p.maxWorkers,
	})
	for i := 0; i < p.maxWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	for i := 0; i < p.maxWorkers; i++ {
		p.Notify()
	}
}

// Notify wakes an idle worker without blocking.
func (p *WorkerPool) Notify() {
	select {
	case p.Work <- struct{}{}:
	default:
	}
}

// Wait blocks until every worker has returned.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

func (p *WorkerPool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	p.logger.Info(ctx, "worker started", map[string]interface{}{
		"worker_id": id,
	})
	for {
		select {
		case <-p.Work:
			// Drain all available created jobs before going back to wait
			for ctx.Err() == nil {
				j, err := p.jobStore.ClaimNextCreated(ctx)
				if err != nil {
					p.logger.Error(ctx, "worker failed to claim job", map[string]interface{}{
						"worker_id": id,
						"error":     err.Error(),
					})
					break
				}
				if j == nil {
					break
				}
				p.logger.Info(ctx, "worker processing job", map[string]interface{}{
					"worker_id": id,
					"job_id":    j.ID.String(),
				})
				p.runner.RunAfterClaim(ctx, j.ID)
			}
		case <-ctx.Done():
			p.logger.Info(ctx, "worker stopping", map[string]interface{}{
				"worker_id": id,
			})
			return
		}
	}
}
