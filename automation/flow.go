package automation

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Step is one Maestro command. Bare commands such as "back" have no Args.
type Step struct {
	Command string
	Args    interface{}
}

// MarshalYAML renders the step as a bare string or a single-key mapping.
func (s Step) MarshalYAML() (interface{}, error) {
	if s.Args == nil {
		return s.Command, nil
	}
	return map[string]interface{}{s.Command: s.Args}, nil
}

// Flow is a minimal Maestro flow: an app header document followed by a
// command list document.
type Flow struct {
	AppID string
	Steps []Step
}

type flowHeader struct {
	AppID string `yaml:"appId"`
}

// Encode renders the flow as multi-document YAML.
func (f Flow) Encode() ([]byte, error) {
	if f.AppID == "" {
		return nil, fmt.Errorf("flow requires an app id")
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(flowHeader{AppID: f.AppID}); err != nil {
		return nil, fmt.Errorf("failed to encode flow header: %w", err)
	}
	if err := enc.Encode(f.Steps); err != nil {
		return nil, fmt.Errorf("failed to encode flow steps: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func point(x, y float64) string {
	return fmt.Sprintf("%.0f%%,%.0f%%", x, y)
}
