package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/statefold/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, describeEvent(event))
		}
	}
	return buf.String()
}

func describeEvent(e TraceEvent) string {
	switch e.Type {
	case EventFetch:
		return fmt.Sprintf("fetch %v", e.Range)
	case EventFailure:
		return fmt.Sprintf("failure %s at %d", e.Code, e.Block)
	case EventSnapshot:
		return fmt.Sprintf("snapshot #%d at %d %s", e.Seq, e.Block, e.State)
	default:
		return fmt.Sprintf("%s at %d %s", e.Type, e.Block, e.State)
	}
}

// assertFinalState checks the state of the last snapshot.
func assertFinalState(result *Result, assertion Assertion) error {
	snap, ok := result.last(EventSnapshot)
	if !ok {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: "at least one snapshot",
			Actual:   "no snapshots in trace",
			Trace:    result.Trace,
		}
	}
	if err := matchState(snap.State, assertion.Expect); err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("state with %s", formatExpect(assertion.Expect)),
			Actual:   err.Error(),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertCheckpoint checks the last checkpoint written.
func assertCheckpoint(result *Result, assertion Assertion) error {
	cp, ok := result.last(EventCheckpoint)
	if !ok {
		return &AssertionError{
			Type:     AssertCheckpoint,
			Expected: "a checkpoint write",
			Actual:   "no checkpoint written",
			Trace:    result.Trace,
		}
	}
	if assertion.Block != nil && cp.Block != *assertion.Block {
		return &AssertionError{
			Type:     AssertCheckpoint,
			Expected: fmt.Sprintf("checkpoint at block %d", *assertion.Block),
			Actual:   fmt.Sprintf("checkpoint at block %d", cp.Block),
			Trace:    result.Trace,
		}
	}
	if err := matchState(cp.State, assertion.Expect); err != nil {
		return &AssertionError{
			Type:     AssertCheckpoint,
			Expected: fmt.Sprintf("checkpoint state with %s", formatExpect(assertion.Expect)),
			Actual:   err.Error(),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertTraceContains checks for an event of the given type, block and state.
func assertTraceContains(result *Result, assertion Assertion) error {
	for _, event := range result.Trace {
		if event.Type != assertion.Event {
			continue
		}
		if assertion.Block != nil && event.Block != *assertion.Block {
			continue
		}
		if matchState(event.State, assertion.Expect) == nil {
			return nil
		}
	}

	expected := assertion.Event
	if assertion.Block != nil {
		expected += fmt.Sprintf(" at block %d", *assertion.Block)
	}
	if len(assertion.Expect) > 0 {
		expected += " with " + formatExpect(assertion.Expect)
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: expected,
		Actual:   "not found in trace",
		Trace:    result.Trace,
	}
}

// assertTraceCount checks the number of events of one type.
func assertTraceCount(result *Result, assertion Assertion) error {
	count := 0
	for _, event := range result.Trace {
		if event.Type == assertion.Event {
			count++
		}
	}
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d %s events", assertion.Count, assertion.Event),
			Actual:   fmt.Sprintf("%d events", count),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertFailure checks the failure code.
func assertFailure(result *Result, assertion Assertion) error {
	failure, ok := result.last(EventFailure)
	if !ok {
		return &AssertionError{
			Type:     AssertFailure,
			Expected: fmt.Sprintf("failure %s", assertion.Code),
			Actual:   "projection did not fail",
			Trace:    result.Trace,
		}
	}
	if failure.Code != assertion.Code {
		return &AssertionError{
			Type:     AssertFailure,
			Expected: fmt.Sprintf("failure %s", assertion.Code),
			Actual:   fmt.Sprintf("failure %s", failure.Code),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertClean(result *Result) error {
	if failure, ok := result.last(EventFailure); ok {
		return &AssertionError{
			Type:     AssertClean,
			Expected: "no failure",
			Actual:   fmt.Sprintf("failure %s at block %d", failure.Code, failure.Block),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertMonotonic checks that snapshots never go backwards.
func assertMonotonic(result *Result) error {
	var prev *TraceEvent
	for i := range result.Trace {
		event := &result.Trace[i]
		if event.Type != EventSnapshot {
			continue
		}
		if prev != nil && (event.Seq <= prev.Seq || event.Block < prev.Block) {
			return &AssertionError{
				Type:     AssertMonotonic,
				Expected: "increasing seq and non-decreasing block",
				Actual: fmt.Sprintf("#%d at %d after #%d at %d",
					event.Seq, event.Block, prev.Seq, prev.Block),
				Trace: result.Trace,
			}
		}
		prev = event
	}
	return nil
}

// matchState checks that every expected field is present in state with an
// equal value. Values are compared as canonical JSON, so 5 in YAML matches
// 5 in the state whatever Go type carried it.
func matchState(state json.RawMessage, expect map[string]any) error {
	if len(expect) == 0 {
		return nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(state, &fields); err != nil {
		return fmt.Errorf("state %s is not an object", state)
	}

	for _, key := range sortedKeys(expect) {
		actual, ok := fields[key]
		if !ok {
			return fmt.Errorf("field %q missing from %s", key, state)
		}
		want, err := ir.MarshalCanonical(expect[key])
		if err != nil {
			return fmt.Errorf("field %q: %v", key, err)
		}
		got, err := ir.Canonicalize(actual)
		if err != nil {
			return fmt.Errorf("field %q: %v", key, err)
		}
		if !bytes.Equal(want, got) {
			return fmt.Errorf("field %q = %s, want %s", key, got, want)
		}
	}
	return nil
}

func formatExpect(expect map[string]any) string {
	if len(expect) == 0 {
		return "(any state)"
	}
	parts := make([]string, 0, len(expect))
	for _, k := range sortedKeys(expect) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, expect[k]))
	}
	return strings.Join(parts, " ")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertFinalState:
			err = assertFinalState(result, assertion)
		case AssertCheckpoint:
			err = assertCheckpoint(result, assertion)
		case AssertTraceContains:
			err = assertTraceContains(result, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result, assertion)
		case AssertFailure:
			err = assertFailure(result, assertion)
		case AssertClean:
			err = assertClean(result)
		case AssertMonotonic:
			err = assertMonotonic(result)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
