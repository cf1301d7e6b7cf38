package harness

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/livedoc/internal/ir"
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
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", event.Step, ir.Canonical(event.Object()))
		}
	}

	return buf.String()
}

// matches reports whether event ran command as who (if set) with code.
func matches(event TraceEvent, command, who string, code int) bool {
	if event.Command != command || event.Code != code {
		return false
	}
	return who == "" || event.Who == clientName(who)
}

// assertTraceContains checks that some step matches command, who and code.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if matches(event, assertion.Command, assertion.Who, assertion.Code) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: describe(assertion.Command, assertion.Who, assertion.Code),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

func describe(command, who string, code int) string {
	s := "command " + command
	if who != "" {
		s += " by " + clientName(who)
	}
	if code != 0 {
		s += fmt.Sprintf(" failing with %d", code)
	}
	return s
}

// assertTraceOrder checks if commands appear in the specified order.
// Commands don't need to be consecutive (intervening steps are allowed),
// and each expected command matches the first successful step after the
// previous match.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	pos := 0
	for i, command := range assertion.Commands {
		found := false
		for pos < len(trace) {
			event := trace[pos]
			pos++
			if event.Command == command && event.Code == 0 {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("commands in order: %v", assertion.Commands),
				Actual:   fmt.Sprintf("no %s after %v", command, assertion.Commands[:i]),
				Trace:    trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks if the command appears exactly the specified number of times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if matches(event, assertion.Command, assertion.Who, assertion.Code) {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%s exactly %d times", describe(assertion.Command, assertion.Who, assertion.Code), assertion.Count),
			Actual:   fmt.Sprintf("found %d times", count),
			Trace:    trace,
		}
	}

	return nil
}

// assertFinalState checks the document's final fields and seq.
func assertFinalState(result *Result, assertion Assertion) error {
	if assertion.Seq != 0 && assertion.Seq != result.Seq {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("seq %d", assertion.Seq),
			Actual:   fmt.Sprintf("seq %d", result.Seq),
		}
	}
	return assertSubset(AssertFinalState, "document", result.State, assertion.Expect)
}

// assertViewState checks the merged view a client received.
func assertViewState(result *Result, assertion Assertion) error {
	who := clientName(assertion.Who)
	view, ok := result.Views[who]
	if !ok {
		return &AssertionError{
			Type:     AssertViewState,
			Expected: fmt.Sprintf("a view for %s", who),
			Actual:   "no view opened",
		}
	}
	return assertSubset(AssertViewState, "view of "+who, view, assertion.Expect)
}

// assertSubset checks each expected field (subset semantics: only fields
// in expect are checked). A YAML null expects the field to be absent.
func assertSubset(kind, subject string, actual ir.IRObject, expect map[string]interface{}) error {
	keys := make([]string, 0, len(expect))
	for k := range expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		expected := expect[key]
		value, exists := actual[key]
		if expected == nil {
			if exists {
				return &AssertionError{
					Type:     kind,
					Expected: fmt.Sprintf("%s field %q to be absent", subject, key),
					Actual:   fmt.Sprintf("%q = %s", key, ir.Canonical(value)),
				}
			}
			continue
		}
		want, err := convertToIRValue(expected)
		if err != nil {
			return fmt.Errorf("%s: field %q: %w", kind, key, err)
		}
		if !exists {
			return &AssertionError{
				Type:     kind,
				Expected: fmt.Sprintf("%s field %q to exist", subject, key),
				Actual:   "field not present",
			}
		}
		if !ir.Equal(want, value) {
			return &AssertionError{
				Type:     kind,
				Expected: fmt.Sprintf("%q = %s", key, ir.Canonical(want)),
				Actual:   fmt.Sprintf("%q = %s", key, ir.Canonical(value)),
			}
		}
	}
	return nil
}

// EvaluateAssertions runs every assertion and returns one message per
// failure, in assertion order.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState:
			err = assertFinalState(result, assertion)
		case AssertViewState:
			err = assertViewState(result, assertion)
		default:
			err = fmt.Errorf("unknown assertion type: %s", assertion.Type)
		}

		if err != nil {
			errors = append(errors, fmt.Sprintf("assertion %d (%s): %v", i, assertion.Type, err))
		}
	}

	return errors
}
