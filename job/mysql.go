package job

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/logger"
	"gorm.io/gorm"
)

const claimAttempts = 5

// MySQLStore implements the Store interface using GORM and MySQL.
type MySQLStore struct {
	db     *gorm.DB
	logger logger.Logger
}

// NewMySQLStore creates a new MySQL-backed job store.
func NewMySQLStore(db *gorm.DB, log logger.Logger) *MySQLStore {
	return &MySQLStore{
		db:     db,
		logger: log,
	}
}

// Create creates a new job in the database.
func (s *MySQLStore) Create(ctx context.Context, j *Job) error {
	if err := j.Validate(); err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Create(j).Error; err != nil {
		s.logger.Error(ctx, "failed to create job", map[string]interface{}{
			"error":  err.Error(),
			"type":   string(j.Type),
			"app_id": j.AppID,
		})
		return err
	}

	s.logger.Info(ctx, "job created", map[string]interface{}{
		"job_id": j.ID.String(),
		"type":   string(j.Type),
		"app_id": j.AppID,
	})

	return nil
}

// GetByID retrieves a job by its ID.
func (s *MySQLStore) GetByID(ctx context.Context, id uuid.UUID) (*Job, error) {
	var j Job
	err := s.db.WithContext(ctx).
		Where("id = ?", id).
		First(&j).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		s.logger.Error(ctx, "failed to get job by ID", map[string]interface{}{
			"error":  err.Error(),
			"job_id": id.String(),
		})
		return nil, err
	}

	return &j, nil
}

// Update updates a job with the given setters.
func (s *MySQLStore) Update(ctx context.Context, id uuid.UUID, setters ...UpdateSetter) error {
	j, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}

	for _, setter := range setters {
		if err := setter(j); err != nil {
			return err
		}
	}

	if err := s.db.WithContext(ctx).Save(j).Error; err != nil {
		s.logger.Error(ctx, "failed to update job", map[string]interface{}{
			"error":  err.Error(),
			"job_id": id.String(),
		})
		return err
	}

	s.logger.Info(ctx, "job updated", map[string]interface{}{
		"job_id": id.String(),
	})

	return nil
}

// List returns jobs matching filter, newest first.
func (s *MySQLStore) List(ctx context.Context, filter Filter, limit, offset int) ([]*Job, error) {
	var jobs []*Job
	err := s.filtered(ctx, filter).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&jobs).Error

	if err != nil {
		s.logger.Error(ctx, "failed to list jobs", map[string]interface{}{
			"error":  err.Error(),
			"status": string(filter.Status),
			"app_id": filter.AppID,
			"limit":  limit,
			"offset": offset,
		})
		return nil, err
	}

	return jobs, nil
}

// Count returns how many jobs match filter.
func (s *MySQLStore) Count(ctx context.Context, filter Filter) (int, error) {
	var count int64
	err := s.filtered(ctx, filter).Count(&count).Error

	if err != nil {
		s.logger.Error(ctx, "failed to count jobs", map[string]interface{}{
			"error":  err.Error(),
			"status": string(filter.Status),
			"app_id": filter.AppID,
		})
		return 0, err
	}

	return int(count), nil
}

func (s *MySQLStore) filtered(ctx context.Context, filter Filter) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&Job{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.AppID != "" {
		q = q.Where("app_id = ?", filter.AppID)
	}
	if filter.Type != "" {
		q = q.Where("type = ?", filter.Type)
	}
	return q
}

// ClaimNextCreated takes the oldest created job. The status guard on the
// update makes the claim safe when several workers race for the same row;
// the loser simply looks again.
func (s *MySQLStore) ClaimNextCreated(ctx context.Context) (*Job, error) {
	for attempt := 0; attempt < claimAttempts; attempt++ {
		var j Job
		err := s.db.WithContext(ctx).
			Where("status = ?", StatusCreated).
			Order("created_at ASC").
			First(&j).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			s.logger.Error(ctx, "failed to find queued job", map[string]interface{}{
				"error": err.Error(),
			})
			return nil, err
		}

		now := time.Now()
		res := s.db.WithContext(ctx).
			Model(&Job{}).
			Where("id = ? AND status = ?", j.ID, StatusCreated).
			Updates(map[string]interface{}{"status": StatusRunning, "start_time": now})
		if res.Error != nil {
			s.logger.Error(ctx, "failed to claim job", map[string]interface{}{
				"error":  res.Error.Error(),
				"job_id": j.ID.String(),
			})
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			j.Status = StatusRunning
			j.StartTime = &now
			s.logger.Info(ctx, "job claimed", map[string]interface{}{
				"job_id": j.ID.String(),
				"app_id": j.AppID,
			})
			return &j, nil
		}
	}
	return nil, nil
}

// FailStale marks every running job as failed with reason as its error.
func (s *MySQLStore) FailStale(ctx context.Context, reason string) (int, error) {
	res := s.db.WithContext(ctx).
		Model(&Job{}).
		Where("status = ?", StatusRunning).
		Updates(map[string]interface{}{
			"status":   StatusFailed,
			"end_time": time.Now(),
			"result":   JSONMap{"error": reason},
		})
	if res.Error != nil {
		s.logger.Error(ctx, "failed to fail stale jobs", map[string]interface{}{
			"error": res.Error.Error(),
		})
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		s.logger.Warn(ctx, "stale running jobs marked failed", map[string]interface{}{
			"count": res.RowsAffected,
		})
	}
	return int(res.RowsAffected), nil
}

// Start marks a job as running.
func (s *MySQLStore) Start(ctx context.Context, id uuid.UUID) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var j Job
		if err := tx.WithContext(ctx).Where("id = ?", id).First(&j).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrJobNotFound
			}
			return err
		}

		if err := j.Start(); err != nil {
			return err
		}

		return tx.WithContext(ctx).Save(&j).Error
	})

	if err != nil {
		if !errors.Is(err, ErrJobNotFound) && !errors.Is(err, ErrJobAlreadyStarted) {
			s.logger.Error(ctx, "failed to start job", map[string]interface{}{
				"error":  err.Error(),
				"job_id": id.String(),
			})
		}
		return err
	}

	s.logger.Info(ctx, "job started", map[string]interface{}{
		"job_id": id.String(),
	})

	return nil
}

// Complete marks a job as finished with the given status and result.
func (s *MySQLStore) Complete(ctx context.Context, id uuid.UUID, status Status, result JSONMap) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var j Job
		if err := tx.WithContext(ctx).Where("id = ?", id).First(&j).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrJobNotFound
			}
			return err
		}

		if err := j.Complete(status, result); err != nil {
			return err
		}

		return tx.WithContext(ctx).Save(&j).Error
	})

	if err != nil {
		if !errors.Is(err, ErrJobNotFound) && !errors.Is(err, ErrJobNotRunning) && !errors.Is(err, ErrInvalidStatus) {
			s.logger.Error(ctx, "failed to complete job", map[string]interface{}{
				"error":  err.Error(),
				"job_id": id.String(),
				"status": string(status),
			})
		}
		return err
	}

	s.logger.Info(ctx, "job completed", map[string]interface{}{
		"job_id": id.String(),
		"status": string(status),
	})

	return nil
}
