package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/statefold/internal/ir"
	"github.com/roach88/statefold/internal/reducers"
	"github.com/roach88/statefold/internal/testutil"
)

// Scenario describes one projection run: the chain as it is when the
// projection opens, the cached checkpoint, and the live deliveries that
// follow.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Reducer is the registered reducer to run.
	Reducer string `yaml:"reducer"`

	// Head is the chain height reported at startup.
	Head uint64 `yaml:"head"`

	// Checkpoint seeds the cache before the projection opens.
	Checkpoint *CheckpointSpec `yaml:"checkpoint,omitempty"`

	// Past is the history of the main source.
	Past []EventSpec `yaml:"past,omitempty"`

	// IgnoreRange makes the main source return its whole history whatever
	// range is requested.
	IgnoreRange bool `yaml:"ignore_range,omitempty"`

	// Externals are additional sources merged into the projection. Flow
	// steps address them as source 1, 2, ...
	Externals []ExternalSpec `yaml:"externals,omitempty"`

	// Flow is the sequence of live deliveries.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace.
	Assertions []Assertion `yaml:"assertions"`
}

// CheckpointSpec is a cached checkpoint.
type CheckpointSpec struct {
	BlockNumber uint64 `yaml:"blockNumber"`
	State       any    `yaml:"state"`
}

// EventSpec is an event in scenario form. A missing tx is derived from the
// event position.
type EventSpec struct {
	Event    string `yaml:"event"`
	Payload  any    `yaml:"payload"`
	Block    uint64 `yaml:"block"`
	LogIndex uint64 `yaml:"log_index,omitempty"`
	Tx       string `yaml:"tx,omitempty"`
}

// ExternalSpec is an additional event source.
type ExternalSpec struct {
	Past []EventSpec `yaml:"past"`
}

// Step outcomes.
const (
	ExpectApply = "apply"
	ExpectSkip  = "skip"
	ExpectFail  = "fail"
)

// FlowStep is one live delivery. Exactly one of Push, Fail and Close is set.
type FlowStep struct {
	// Push delivers an event on Source.
	Push *EventSpec `yaml:"push,omitempty"`

	// Fail sends an error with this message on Source.
	Fail string `yaml:"fail,omitempty"`

	// Close ends Source without an error.
	Close bool `yaml:"close,omitempty"`

	// Source is 0 for the main source, i for Externals[i-1].
	Source int `yaml:"source,omitempty"`

	// Expect is apply, skip or fail. Push defaults to apply; Fail and Close
	// always fail.
	Expect string `yaml:"expect,omitempty"`
}

// outcome returns the expected outcome with defaults applied.
func (s FlowStep) outcome() string {
	if s.Push == nil {
		return ExpectFail
	}
	if s.Expect == "" {
		return ExpectApply
	}
	return s.Expect
}

// Assertion validates the trace.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Event is the trace event type (trace_contains, trace_count).
	Event string `yaml:"event,omitempty"`

	// Block, when set, must equal the event block (checkpoint,
	// trace_contains).
	Block *uint64 `yaml:"block,omitempty"`

	// Expect contains expected state fields. Subset match.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is the expected number of events (trace_count).
	Count int `yaml:"count,omitempty"`

	// Code is the expected failure code (failure).
	Code string `yaml:"code,omitempty"`
}

// Assertion type constants.
const (
	AssertFinalState    = "final_state"
	AssertCheckpoint    = "checkpoint"
	AssertTraceContains = "trace_contains"
	AssertTraceCount    = "trace_count"
	AssertFailure       = "failure"
	AssertClean         = "clean"
	AssertMonotonic     = "monotonic"
)

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
	// Strict field validation catches typos like "assertion:" vs "assertions:".
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

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if _, err := reducers.Lookup(s.Reducer); err != nil {
		return err
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, ev := range s.Past {
		if ev.Event == "" {
			return fmt.Errorf("past[%d]: event is required", i)
		}
	}
	for i, ext := range s.Externals {
		for j, ev := range ext.Past {
			if ev.Event == "" {
				return fmt.Errorf("externals[%d].past[%d]: event is required", i, j)
			}
		}
	}

	for i, step := range s.Flow {
		set := 0
		if step.Push != nil {
			set++
		}
		if step.Fail != "" {
			set++
		}
		if step.Close {
			set++
		}
		if set != 1 {
			return fmt.Errorf("flow[%d]: exactly one of push, fail and close is required", i)
		}
		if step.Source < 0 || step.Source > len(s.Externals) {
			return fmt.Errorf("flow[%d]: source %d does not exist", i, step.Source)
		}
		if step.Push != nil && step.Push.Event == "" {
			return fmt.Errorf("flow[%d].push: event is required", i)
		}
		switch step.Expect {
		case "", ExpectApply, ExpectSkip, ExpectFail:
		default:
			return fmt.Errorf("flow[%d]: unknown expect %q", i, step.Expect)
		}
		if step.Push == nil && step.Expect != "" && step.Expect != ExpectFail {
			return fmt.Errorf("flow[%d]: fail and close steps can only expect fail", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertFinalState:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertCheckpoint:
		if a.Block == nil && len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: block or expect is required for checkpoint", index)
		}
	case AssertTraceContains:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_contains", index)
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFailure:
		if a.Code == "" {
			return fmt.Errorf("assertions[%d]: code is required for failure", index)
		}
	case AssertClean, AssertMonotonic:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// toEvent converts an EventSpec into an event.
func (e EventSpec) toEvent() ir.Event {
	ev := testutil.Event(e.Event, e.Payload, e.Block, e.LogIndex)
	if e.Tx != "" {
		ev.TransactionHash = e.Tx
	}
	return ev
}

func toEvents(specs []EventSpec) []ir.Event {
	events := make([]ir.Event, len(specs))
	for i, spec := range specs {
		events[i] = spec.toEvent()
	}
	return events
}
