package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livedoc/internal/ir"
)

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Step: 0, Command: "construct", Who: "alice@test", Seq: 1},
		{Step: 1, Command: "connect", Who: "alice@test", Seq: 2},
		{Step: 2, Command: "send", Who: "alice@test", Seq: 3},
		{Step: 3, Command: "send", Who: "bob@test", Code: 143373},
		{Step: 4, Command: "send", Who: "alice@test", Seq: 4},
	}
}

func TestAssertTraceContains(t *testing.T) {
	trace := sampleTrace()

	tests := []struct {
		name      string
		assertion Assertion
		wantErr   bool
	}{
		{"command only", Assertion{Command: "connect"}, false},
		{"with who", Assertion{Command: "send", Who: "alice"}, false},
		{"full client name", Assertion{Command: "send", Who: "alice@test"}, false},
		{"with code", Assertion{Command: "send", Who: "bob", Code: 143373}, false},
		{"zero code skips failures", Assertion{Command: "send", Who: "bob"}, true},
		{"wrong code", Assertion{Command: "send", Code: 1}, true},
		{"missing command", Assertion{Command: "deploy"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.assertion.Type = AssertTraceContains
			err := assertTraceContains(trace, tt.assertion)
			if tt.wantErr {
				require.Error(t, err)
				var aerr *AssertionError
				require.ErrorAs(t, err, &aerr)
				assert.Equal(t, AssertTraceContains, aerr.Type)
				assert.Len(t, aerr.Trace, len(trace))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestAssertTraceOrder(t *testing.T) {
	trace := sampleTrace()

	tests := []struct {
		name     string
		commands []string
		wantErr  bool
	}{
		{"full order", []string{"construct", "connect", "send", "send"}, false},
		{"gaps allowed", []string{"construct", "send"}, false},
		{"reversed", []string{"send", "construct"}, true},
		{"failed step is not counted", []string{"send", "send", "send"}, true},
		{"unknown command", []string{"construct", "deploy"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertTraceOrder(trace, Assertion{Type: AssertTraceOrder, Commands: tt.commands})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestAssertTraceCount(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceCount(trace, Assertion{Command: "send", Count: 2}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Command: "send", Who: "alice", Count: 2}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Command: "send", Code: 143373, Count: 1}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Command: "deploy", Count: 0}))

	err := assertTraceCount(trace, Assertion{Type: AssertTraceCount, Command: "send", Count: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "found 2 times")
}

func TestAssertFinalState(t *testing.T) {
	result := &Result{
		Seq: 4,
		State: ir.IRObject{
			"count": ir.IRInt(8),
			"owner": ir.IRObject{"agent": ir.IRString("alice"), "authority": ir.IRString("test")},
			"tags":  ir.IRArray{ir.IRString("a")},
		},
	}

	assert.NoError(t, assertFinalState(result, Assertion{Seq: 4}))
	assert.NoError(t, assertFinalState(result, Assertion{Expect: map[string]interface{}{"count": 8}}))
	assert.NoError(t, assertFinalState(result, Assertion{Expect: map[string]interface{}{
		"owner": map[string]interface{}{"agent": "alice", "authority": "test"},
		"tags":  []interface{}{"a"},
	}}))
	assert.NoError(t, assertFinalState(result, Assertion{Expect: map[string]interface{}{"gone": nil}}))

	err := assertFinalState(result, Assertion{Type: AssertFinalState, Seq: 5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "seq 5")

	err = assertFinalState(result, Assertion{Expect: map[string]interface{}{"count": 9}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"count" = 9`)
	assert.Contains(t, err.Error(), `"count" = 8`)

	err = assertFinalState(result, Assertion{Expect: map[string]interface{}{"missing": 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field not present")

	err = assertFinalState(result, Assertion{Expect: map[string]interface{}{"count": nil}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "to be absent")

	err = assertFinalState(result, Assertion{Expect: map[string]interface{}{"count": 1.5}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floats are forbidden")
}

func TestAssertViewState(t *testing.T) {
	result := &Result{Views: map[string]ir.IRObject{
		"alice@test": {"count": ir.IRInt(3), "you": ir.IRString("alice")},
	}}

	assert.NoError(t, assertViewState(result, Assertion{Who: "alice", Expect: map[string]interface{}{"count": 3, "secret": nil}}))

	err := assertViewState(result, Assertion{Who: "bob", Expect: map[string]interface{}{"count": 3}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no view opened")

	err = assertViewState(result, Assertion{Who: "alice", Expect: map[string]interface{}{"you": "bob"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "view of alice@test")
}

func TestEvaluateAssertions(t *testing.T) {
	result := &Result{Trace: sampleTrace(), Seq: 4, State: ir.IRObject{"count": ir.IRInt(1)}}

	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceContains, Command: "construct"},
		{Type: AssertTraceCount, Command: "connect", Count: 5},
		{Type: AssertFinalState, Seq: 4},
		{Type: "bogus"},
	})

	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "assertion 1 (trace_count)")
	assert.Contains(t, errs[1], "unknown assertion type: bogus")
}

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{
		Type:     AssertTraceCount,
		Expected: "command send exactly 1 times",
		Actual:   "found 0 times",
		Trace:    []TraceEvent{{Step: 0, Command: "construct", Seq: 1}},
	}

	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: trace_count")
	assert.Contains(t, msg, "Expected: command send exactly 1 times")
	assert.Contains(t, msg, `[0] {"command":"construct","seq":1,"step":0}`)
}
