package job

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrJobNotFound        = errors.New("job not found")
	ErrInvalidJobType     = errors.New("job type is required")
	ErrInvalidRequestedBy = errors.New("requested_by is required")
	ErrInvalidAppID       = errors.New("app_id is required")
	ErrInvalidStatus      = errors.New("invalid job status")
	ErrJobAlreadyStarted  = errors.New("job already started")
	ErrJobNotRunning      = errors.New("job is not running")
	ErrJobFinished        = errors.New("job already finished")
)

type Status string

const (
	StatusCreated Status = "created"
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusFailed  Status = "failed"
	StatusSuccess Status = "success"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusCreated, StatusRunning, StatusStopped, StatusFailed, StatusSuccess:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusStopped || s == StatusFailed || s == StatusSuccess
}

type JobType string

const (
	JobTypeScreenshotExploration JobType = "screenshot_exploration"
)

func (jt JobType) IsValid() bool {
	switch jt {
	case JobTypeScreenshotExploration:
		return true
	}
	return false
}

// JSONMap is a custom type for JSON columns.
type JSONMap map[string]interface{}

func (j JSONMap) Value() (driver.Value, error) {
	if j == nil {
		return json.Marshal(map[string]interface{}{})
	}
	return json.Marshal(j)
}

func (j *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*j = make(JSONMap)
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("failed to scan JSONMap: not a byte slice")
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	*j = m
	return nil
}

// Job is one queued exploration. Config holds the exploration parameters and
// Result the run summary once the job finishes.
type Job struct {
	ID          uuid.UUID  `json:"id" gorm:"type:char(36);primaryKey"`
	Type        JobType    `json:"type" gorm:"column:type;type:varchar(50);not null"`
	Status      Status     `json:"status" gorm:"type:varchar(20);not null;default:'created';index:idx_jobs_status_created,priority:1"`
	AppID       string     `json:"app_id" gorm:"column:app_id;type:varchar(255);not null;index:idx_jobs_app_id"`
	Platform    string     `json:"platform" gorm:"type:varchar(20)"`
	Config      JSONMap    `json:"config" gorm:"type:json"`
	Result      JSONMap    `json:"result" gorm:"type:json"`
	StartTime   *time.Time `json:"start_time,omitempty"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	Duration    *int64     `json:"duration,omitempty"`
	RequestedBy string     `json:"requested_by" gorm:"type:varchar(100);not null"`
	CreatedAt   time.Time  `json:"created_at" gorm:"index:idx_jobs_status_created,priority:2"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (j *Job) BeforeCreate(tx *gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if j.Status == "" {
		j.Status = StatusCreated
	}
	return nil
}

func (j *Job) Validate() error {
	if !j.Type.IsValid() {
		return ErrInvalidJobType
	}
	if j.RequestedBy == "" {
		return ErrInvalidRequestedBy
	}
	if j.AppID == "" {
		return ErrInvalidAppID
	}
	return nil
}

// Start marks the job as running.
func (j *Job) Start() error {
	if j.Status != StatusCreated {
		return ErrJobAlreadyStarted
	}
	now := time.Now()
	j.Status = StatusRunning
	j.StartTime = &now
	return nil
}

// Complete marks the job as finished with the given status and result.
func (j *Job) Complete(status Status, result JSONMap) error {
	if j.Status != StatusRunning {
		return ErrJobNotRunning
	}
	if !status.IsTerminal() {
		return ErrInvalidStatus
	}
	now := time.Now()
	j.Status = status
	j.EndTime = &now
	j.Result = result
	if j.StartTime != nil {
		duration := now.Sub(*j.StartTime).Milliseconds()
		j.Duration = &duration
	}
	return nil
}
