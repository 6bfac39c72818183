package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/rocicorp/diff-server/internal/engine"
)

// Scenario is a conformance scenario: a sequence of executions on one
// connection, with expectations.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Store is the store spec to open. Defaults to engine.MemorySpec.
	// Relative directory specs resolve inside the run's root directory.
	Store string `yaml:"store,omitempty"`

	// Steps are run in order on a single connection.
	Steps []Step `yaml:"steps"`

	// Objects maps object ids to their expected stored JSON after the
	// steps. A null value asserts the object does not exist.
	Objects map[string]*string `yaml:"objects,omitempty"`
}

// Step is one execution.
type Step struct {
	// Exec is the command payload.
	Exec string `yaml:"exec"`

	// Input, when present, is written before any read. An empty string
	// is still written.
	Input *string `yaml:"input,omitempty"`

	// Read collects the output until the end-of-output signal.
	Read bool `yaml:"read,omitempty"`

	// Chunk is the read capacity. Zero means the run's default.
	Chunk int `yaml:"chunk,omitempty"`

	// Expect holds the step's expectations. Nil means it must succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect specifies the expected outcome of a step.
type Expect struct {
	// Output is the exact expected output. Requires Read.
	Output *string `yaml:"output,omitempty"`

	// Error is a substring of the expected Write, Read or End error.
	Error string `yaml:"error,omitempty"`

	// BeginError is a substring of the expected Begin error.
	BeginError string `yaml:"begin_error,omitempty"`

	// Code is the expected error code, for whichever call failed.
	Code string `yaml:"code,omitempty"`
}

func (e *Expect) wantsFailure() bool {
	return e != nil && (e.Error != "" || e.BeginError != "" || e.Code != "")
}

// StoreSpec returns the store spec, applying the default.
func (s *Scenario) StoreSpec() string {
	if s.Store == "" {
		return engine.MemorySpec
	}
	return s.Store
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // catches typos like "step:" vs "steps:"
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadScenarios loads every *.yaml and *.yml file in dir, sorted by file
// name. Names must be unique.
func LoadScenarios(dir string) ([]*Scenario, error) {
	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		paths = append(paths, matches...)
	}
	sort.Strings(paths)

	seen := make(map[string]string)
	scenarios := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		if prev, ok := seen[s.Name]; ok {
			return nil, fmt.Errorf("%s: scenario name %q already used by %s", p, s.Name, prev)
		}
		seen[s.Name] = p
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// validateScenario checks that required fields are present and consistent.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for id := range s.Objects {
		if id == "" {
			return fmt.Errorf("objects: id must be non-empty")
		}
	}
	return nil
}

func validateStep(i int, step *Step) error {
	if step.Exec == "" {
		return fmt.Errorf("steps[%d]: exec is required", i)
	}
	if step.Chunk < 0 {
		return fmt.Errorf("steps[%d]: chunk must be non-negative", i)
	}

	e := step.Expect
	if e == nil {
		return nil
	}
	if e.Output != nil && !step.Read {
		return fmt.Errorf("steps[%d].expect: output requires read: true", i)
	}
	if e.BeginError != "" && (step.Input != nil || step.Read) {
		return fmt.Errorf("steps[%d]: begin_error cannot be combined with input or read", i)
	}
	if e.BeginError != "" && e.Error != "" {
		return fmt.Errorf("steps[%d].expect: begin_error and error are exclusive", i)
	}
	return nil
}
