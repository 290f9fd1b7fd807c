package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/conductor"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/timeline"
)

// Scenario is one deterministic conductor run.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Start is the virtual clock time when the conductor starts.
	Start int64 `yaml:"start"`

	// Until is the time the clock is advanced to before the run ends.
	Until int64 `yaml:"until"`

	Conductor conductor.Config `yaml:"conductor,omitempty"`

	Devices  []conductor.DeviceConfig `yaml:"devices"`
	Mappings timeline.Mappings        `yaml:"mappings"`
	Timeline []timeline.Object        `yaml:"timeline"`

	// Steps replace the timeline or mappings mid-run.
	Steps []Step `yaml:"steps,omitempty"`

	Assertions []Assertion `yaml:"assertions"`
}

// Step applies a new timeline and/or mappings at a time. A nil field keeps
// the current value; an empty list clears the timeline.
type Step struct {
	At       int64             `yaml:"at"`
	Timeline []timeline.Object `yaml:"timeline,omitempty"`
	Mappings timeline.Mappings `yaml:"mappings,omitempty"`
}

// Assertion validates the trace.
type Assertion struct {
	// Type is one of command_count, command_at, no_commands_after.
	Type string `yaml:"type"`

	// Device restricts the assertion to one device (command_count, command_at).
	Device string `yaml:"device,omitempty"`

	// Count is the expected number of commands (command_count).
	Count int `yaml:"count,omitempty"`

	// At is the execution time (command_at) or the cutoff (no_commands_after).
	At int64 `yaml:"at,omitempty"`

	// Object and Context must match exactly when set (command_at).
	Object  string `yaml:"object,omitempty"`
	Context string `yaml:"context,omitempty"`

	// Payload is a subset match against the command payload (command_at).
	Payload map[string]any `yaml:"payload,omitempty"`
}

// Assertion type constants.
const (
	AssertCommandCount    = "command_count"
	AssertCommandAt       = "command_at"
	AssertNoCommandsAfter = "no_commands_after"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Until < s.Start {
		return fmt.Errorf("until (%d) is before start (%d)", s.Until, s.Start)
	}
	if len(s.Devices) == 0 {
		return fmt.Errorf("devices list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	seen := map[string]bool{}
	for i, d := range s.Devices {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("devices[%d]: %w", i, err)
		}
		if seen[d.ID] {
			return fmt.Errorf("devices[%d]: duplicate id %q", i, d.ID)
		}
		seen[d.ID] = true
	}

	if err := timeline.Validate(s.Timeline); err != nil {
		return fmt.Errorf("timeline: %w", err)
	}
	if err := timeline.ValidateMappings(s.Mappings); err != nil {
		return fmt.Errorf("mappings: %w", err)
	}

	last := s.Start
	for i, step := range s.Steps {
		if step.At < last {
			return fmt.Errorf("steps[%d]: at %d is before %d", i, step.At, last)
		}
		if step.At > s.Until {
			return fmt.Errorf("steps[%d]: at %d is after until %d", i, step.At, s.Until)
		}
		if step.Timeline == nil && step.Mappings == nil {
			return fmt.Errorf("steps[%d]: timeline or mappings is required", i)
		}
		if err := timeline.Validate(step.Timeline); err != nil {
			return fmt.Errorf("steps[%d].timeline: %w", i, err)
		}
		if step.Mappings != nil {
			if err := timeline.ValidateMappings(step.Mappings); err != nil {
				return fmt.Errorf("steps[%d].mappings: %w", i, err)
			}
		}
		last = step.At
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertCommandCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for command_count", index)
		}
	case AssertCommandAt:
		if a.Object == "" && a.Context == "" && a.Payload == nil && a.Device == "" {
			return fmt.Errorf("assertions[%d]: command_at needs device, object, context or payload", index)
		}
	case AssertNoCommandsAfter:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
