package job

import (
	"context"

	"github.com/google/uuid"
)

type Store interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*Job, error)
	Update(ctx context.Context, id uuid.UUID, setters ...UpdateSetter) error
	List(ctx context.Context, filter Filter, limit, offset int) ([]*Job, error)
	Count(ctx context.Context, filter Filter) (int, error)
	Start(ctx context.Context, id uuid.UUID) error
	Complete(ctx context.Context, id uuid.UUID, status Status, result JSONMap) error
	// ClaimNextCreated moves the oldest created job to running and returns
	// it, or returns nil when nothing is queued.
	ClaimNextCreated(ctx context.Context) (*Job, error)
	// FailStale fails every job left running by a previous process.
	FailStale(ctx context.Context, reason string) (int, error)
}

// Filter narrows List and Count. Zero fields match everything.
type Filter struct {
	Status Status
	AppID  string
	Type   JobType
}

type UpdateSetter func(*Job) error
