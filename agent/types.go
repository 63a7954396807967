package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hairizuanbinnoorazman/screenshot-explorer/decision"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/explorer"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/hierarchy"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/job"
)

var ErrInvalidJobConfig = errors.New("invalid job config")

// JobConfig is the exploration request stored in a job's config column.
// Zero numeric fields fall back to the pipeline defaults.
type JobConfig struct {
	AppID                      string             `json:"app_id"`
	Platform                   hierarchy.Platform `json:"platform"`
	DeviceID                   string             `json:"device_id,omitempty"`
	MaxSteps                   int                `json:"max_steps,omitempty"`
	TargetScreenshots          int                `json:"target_screenshots,omitempty"`
	MinScreenshots             int                `json:"min_screenshots,omitempty"`
	OutputPrefix               string             `json:"output_prefix,omitempty"`
	PrimaryModel               string             `json:"primary_model,omitempty"`
	FallbackModel              string             `json:"fallback_model,omitempty"`
	LowConfidenceThreshold     float64            `json:"low_confidence_threshold,omitempty"`
	FailureEscalationThreshold int                `json:"failure_escalation_threshold,omitempty"`
	Debug                      bool               `json:"debug,omitempty"`
	ClearState                 bool               `json:"clear_state,omitempty"`
}

// Validate checks the fields a job cannot run without.
func (c JobConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.AppID) == "" {
		errs = append(errs, errors.New("app_id is required"))
	}
	if !c.Platform.IsValid() {
		errs = append(errs, fmt.Errorf("platform must be ios or android, got %q", c.Platform))
	}
	if c.MaxSteps < 0 || c.TargetScreenshots < 0 || c.MinScreenshots < 0 {
		errs = append(errs, errors.New("budgets must not be negative"))
	}
	if c.LowConfidenceThreshold < 0 || c.LowConfidenceThreshold > 1 {
		errs = append(errs, errors.New("low_confidence_threshold must be within [0,1]"))
	}
	if strings.Contains(c.OutputPrefix, "..") {
		errs = append(errs, errors.New("output_prefix must not contain '..'"))
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidJobConfig}, errs...)...)
	}
	return nil
}

// outputPrefix is where the job's screenshots go.
func (c JobConfig) outputPrefix(jobID string) string {
	if p := strings.Trim(c.OutputPrefix, "/ "); p != "" {
		return p
	}
	return jobID
}

// ParseJobConfig decodes and validates a job's config column.
func ParseJobConfig(m job.JSONMap) (JobConfig, error) {
	var cfg JobConfig
	if err := remarshal(m, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalidJobConfig, err)
	}
	return cfg, cfg.Validate()
}

// ToJSONMap encodes the config for storage.
func (c JobConfig) ToJSONMap() (job.JSONMap, error) {
	var m job.JSONMap
	err := remarshal(c, &m)
	return m, err
}

// Outcome is what one exploration produced.
type Outcome struct {
	DeviceID     string           `json:"device_id"`
	OutputPrefix string           `json:"output_prefix"`
	Result       *explorer.Result `json:"result"`
	Decisions    decision.Stats   `json:"decisions"`
}

// ToJSONMap flattens the outcome into a job result.
func (o *Outcome) ToJSONMap() (job.JSONMap, error) {
	var m job.JSONMap
	err := remarshal(o, &m)
	return m, err
}

func remarshal(from, to interface{}) error {
	raw, err := json.Marshal(from)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, to)
}
