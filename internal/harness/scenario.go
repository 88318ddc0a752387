package harness

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario defines an end-to-end cabinet scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Algorithm selects the digest algorithm of the cabinet. Default sha256.
	Algorithm string `yaml:"algorithm,omitempty"`

	// Files is the initial tree under the scenario root.
	Files []FileSpec `yaml:"files,omitempty"`

	// Config holds settings applied before the flow, in key order.
	Config map[string]string `yaml:"config,omitempty"`

	// Flow contains the operations to run, with expected outcomes.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace and registry state.
	Assertions []Assertion `yaml:"assertions"`
}

// FileSpec describes one entry of the initial tree. Exactly one of Content,
// Size or Link is used; an empty Content with no Size makes an empty file.
type FileSpec struct {
	// Path is slash separated and relative to the scenario root.
	Path string `yaml:"path"`

	Content string `yaml:"content,omitempty"`

	// Size and Seed produce deterministic patterned content.
	Size int64 `yaml:"size,omitempty"`
	Seed int   `yaml:"seed,omitempty"`

	// Link makes the entry a symlink with this target.
	Link string `yaml:"link,omitempty"`

	// AgeDays sets the modification time this many days before the start
	// of the scenario clock.
	AgeDays int `yaml:"age_days,omitempty"`
}

// FlowStep is one operation of the flow.
type FlowStep struct {
	// Op names the operation (index, checkin, checkout, ...).
	Op string `yaml:"op"`

	// Args are the operation arguments.
	Args map[string]any `yaml:"args,omitempty"`

	// Expect specifies the expected outcome. If nil the step must succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected result of a step.
type ExpectClause struct {
	// Outcome is "OK" or a fault code.
	Outcome string `yaml:"outcome"`

	// Result is a subset match on the step result.
	Result map[string]any `yaml:"result,omitempty"`
}

// Assertion validates the trace or the final registry state.
type Assertion struct {
	// Type is one of trace_contains, trace_order, trace_count, final_state.
	Type string `yaml:"type"`

	// Op is the operation name (trace_contains, trace_count).
	Op string `yaml:"op,omitempty"`

	// Outcome optionally narrows trace_contains.
	Outcome string `yaml:"outcome,omitempty"`

	// Args is a subset match on step args (trace_contains).
	Args map[string]any `yaml:"args,omitempty"`

	// Ops is the expected order (trace_order).
	Ops []string `yaml:"ops,omitempty"`

	// Count is the expected number of occurrences (trace_count).
	Count int `yaml:"count,omitempty"`

	// Table, Where and Expect describe a final_state row check.
	Table  string         `yaml:"table,omitempty"`
	Where  map[string]any `yaml:"where,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// Operations understood by Run.
var knownOps = []string{
	"index", "checkin", "checkout", "verify", "find", "remove", "status",
	"config", "write", "delete", "corrupt", "advance",
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(file string) (*Scenario, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, f := range s.Files {
		if err := validateRelPath(f.Path); err != nil {
			return fmt.Errorf("files[%d]: %w", i, err)
		}
		if f.Size < 0 {
			return fmt.Errorf("files[%d]: size must be non-negative", i)
		}
		if f.Link != "" && (f.Content != "" || f.Size > 0) {
			return fmt.Errorf("files[%d]: link cannot have content", i)
		}
	}

	for i, step := range s.Flow {
		if !slices.Contains(knownOps, step.Op) {
			return fmt.Errorf("flow[%d]: unknown op %q", i, step.Op)
		}
		if step.Expect != nil && step.Expect.Outcome == "" {
			return fmt.Errorf("flow[%d].expect: outcome is required", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateRelPath(p string) error {
	if p == "" {
		return fmt.Errorf("path is required")
	}
	if path.IsAbs(p) || p != path.Clean(p) || p == ".." || strings.HasPrefix(p, "../") {
		return fmt.Errorf("path %q must be clean and relative", p)
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
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Ops) == 0 {
			return fmt.Errorf("assertions[%d]: ops list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
