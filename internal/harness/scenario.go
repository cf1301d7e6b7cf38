package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario drives one document through a scripted sequence of commands and
// asserts on the resulting trace and final state.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schema names the document type under test. A program with the same
	// name must exist in the demo package.
	Schema string `yaml:"schema"`

	// Specs optionally lists CUE files to compile instead of the embedded
	// schema. Paths are relative to the scenario file location.
	Specs []string `yaml:"specs,omitempty"`

	// Key is the document id. Defaults to "scenario".
	Key string `yaml:"key,omitempty"`

	// Entropy seeds the document's random source. Defaults to "0".
	Entropy string `yaml:"entropy,omitempty"`

	// Start is the clock reading in milliseconds when the scenario begins.
	// Defaults to 1000.
	Start int64 `yaml:"start,omitempty"`

	// Steps run in order against one document.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	// Supported types: trace_contains, trace_order, trace_count,
	// final_state, view_state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is exactly one of: a document command, a clock advance, or opening a
// private view.
type Step struct {
	// Command is an envelope command: construct, connect, disconnect, send,
	// attach, apply, expire, invalidate, deploy.
	Command string `yaml:"command,omitempty"`

	// Who is "agent" or "agent@authority". The authority defaults to "test".
	Who string `yaml:"who,omitempty"`

	// Envelope fields, passed through when set.
	Arg     map[string]interface{} `yaml:"arg,omitempty"`
	Channel string                 `yaml:"channel,omitempty"`
	Message interface{}            `yaml:"message,omitempty"`
	Marker  string                 `yaml:"marker,omitempty"`
	Patch   map[string]interface{} `yaml:"patch,omitempty"`
	Asset   map[string]interface{} `yaml:"asset,omitempty"`
	Limit   *int64                 `yaml:"limit,omitempty"`
	Target  string                 `yaml:"schema,omitempty"`

	// Advance moves the clock forward by this many milliseconds.
	Advance int64 `yaml:"advance,omitempty"`

	// View opens a private view for this client. State is its viewer state.
	View  string                 `yaml:"view,omitempty"`
	State map[string]interface{} `yaml:"state,omitempty"`

	// Expect specifies the outcome. If nil the step must succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// kind reports which of the step forms is set.
func (s Step) kind() string {
	switch {
	case s.Command != "":
		return "command"
	case s.Advance != 0:
		return "advance"
	case s.View != "":
		return "view"
	default:
		return ""
	}
}

// ExpectClause specifies the outcome of a step.
type ExpectClause struct {
	// Code is the expected error code. Zero means success.
	Code int `yaml:"code,omitempty"`

	// Seq is the expected seq after a successful step.
	Seq int64 `yaml:"seq,omitempty"`

	// Destroyed expects the step to delete the document.
	Destroyed bool `yaml:"destroyed,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": some step ran command (as who, with code)
	// - "trace_order": commands appear in order
	// - "trace_count": command appears exactly Count times
	// - "final_state": document fields match Expect
	// - "view_state": the merged view of Who matches Expect
	Type string `yaml:"type"`

	// Command is the command name (used by trace_contains, trace_count).
	Command string `yaml:"command,omitempty"`

	// Who narrows trace and view assertions to one client.
	Who string `yaml:"who,omitempty"`

	// Code is the expected error code (used by trace_contains, trace_count).
	// Zero matches successful steps only.
	Code int `yaml:"code,omitempty"`

	// Count is the expected number of occurrences (used by trace_count).
	Count int `yaml:"count,omitempty"`

	// Commands is the expected command order (used by trace_order).
	Commands []string `yaml:"commands,omitempty"`

	// Expect contains expected field values (used by final_state and
	// view_state). Subset match: only listed fields are validated.
	Expect map[string]interface{} `yaml:"expect,omitempty"`

	// Seq is the expected final seq (used by final_state).
	Seq int64 `yaml:"seq,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertViewState     = "view_state"
)

// LoadScenario reads and parses a scenario YAML file. Spec paths are
// resolved relative to the file's directory.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving spec paths relative to the provided base path.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data, basePath)
}

// ParseScenario parses scenario YAML. Unknown fields are rejected.
func ParseScenario(data []byte, basePath string) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	// Resolve spec paths relative to base path BEFORE validation
	for i, specPath := range scenario.Specs {
		if !filepath.IsAbs(specPath) && basePath != "" {
			scenario.Specs[i] = filepath.Join(basePath, specPath)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// LoadDir loads every *.yaml scenario in dir, sorted by file name.
func LoadDir(dir string) ([]*Scenario, []string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, nil, err
	}
	scenarios := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", p, err)
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, paths, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Schema == "" {
		return fmt.Errorf("schema is required")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for _, specPath := range s.Specs {
		if _, err := os.Stat(specPath); os.IsNotExist(err) {
			return fmt.Errorf("spec file not found: %s", specPath)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(index int, s Step) error {
	set := 0
	if s.Command != "" {
		set++
	}
	if s.Advance != 0 {
		set++
	}
	if s.View != "" {
		set++
	}
	switch {
	case set == 0:
		return fmt.Errorf("steps[%d]: one of command, advance or view is required", index)
	case set > 1:
		return fmt.Errorf("steps[%d]: command, advance and view are exclusive", index)
	case s.Advance < 0:
		return fmt.Errorf("steps[%d]: advance must be positive", index)
	case s.Expect != nil && s.kind() != "command":
		return fmt.Errorf("steps[%d]: expect only applies to commands", index)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Command == "" {
			return fmt.Errorf("assertions[%d]: command is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Commands) == 0 {
			return fmt.Errorf("assertions[%d]: commands list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Command == "" {
			return fmt.Errorf("assertions[%d]: command is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if len(a.Expect) == 0 && a.Seq == 0 {
			return fmt.Errorf("assertions[%d]: expect or seq is required for final_state", index)
		}
	case AssertViewState:
		if a.Who == "" {
			return fmt.Errorf("assertions[%d]: who is required for view_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for view_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
