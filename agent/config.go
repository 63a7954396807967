package agent

import (
	"time"

	"github.com/hairizuanbinnoorazman/screenshot-explorer/decision"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/device"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/explorer"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/llm"
)

// Config holds the pipeline configuration shared by every job.
type Config struct {
	TimeLimit            time.Duration
	MaxConcurrentWorkers int

	MaestroBin     string
	MaestroTimeout time.Duration

	// Model carries provider credentials; the model ids come from
	// PrimaryModel and FallbackModel unless a job overrides them.
	Model         llm.Config
	PrimaryModel  string
	FallbackModel string
	Decision      decision.Config

	MaxSteps          int
	TargetScreenshots int

	// Pool is the device pool tuning, one pool per configured platform.
	Pool device.Config

	// Tune, when set, adjusts every job's explorer config last.
	Tune func(*explorer.Config)
}

// DefaultConfig is a single worker with a 30 minute budget per job.
func DefaultConfig() Config {
	return Config{
		TimeLimit:            30 * time.Minute,
		MaxConcurrentWorkers: 1,
		MaestroBin:           "maestro",
		MaestroTimeout:       60 * time.Second,
		Model:                llm.Config{Provider: "bedrock", Region: "us-east-1", MaxTokens: 1024},
		PrimaryModel:         "anthropic.claude-3-5-haiku-20241022-v1:0",
		Decision:             decision.DefaultConfig(),
		MaxSteps:             40,
		TargetScreenshots:    8,
		Pool:                 device.DefaultConfig(),
	}
}
