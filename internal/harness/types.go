package harness

import "github.com/roach88/livedoc/internal/ir"

// TraceEvent records the outcome of one scenario step.
type TraceEvent struct {
	Step    int    `json:"step"`
	Command string `json:"command"` // envelope command, "advance" or "view"
	Who     string `json:"who,omitempty"`

	// Seq is the document seq after the step. Zero when the step failed.
	Seq int64 `json:"seq,omitempty"`
	// Code is the error code of a failed step.
	Code int `json:"code,omitempty"`
	// Changed is the merge patch of user fields the step produced.
	Changed ir.IRObject `json:"changed,omitempty"`
	// State is the pending state label after the step.
	State   string `json:"state,omitempty"`
	Blocked bool   `json:"blocked,omitempty"`
	// At is the clock reading after an advance.
	At int64 `json:"at,omitempty"`
}

// Object converts the event to its canonical trace form. Empty fields are
// omitted so golden files stay small.
func (e TraceEvent) Object() ir.IRObject {
	obj := ir.IRObject{
		"step":    ir.IRInt(e.Step),
		"command": ir.IRString(e.Command),
	}
	if e.Who != "" {
		obj["who"] = ir.IRString(e.Who)
	}
	if e.Seq != 0 {
		obj["seq"] = ir.IRInt(e.Seq)
	}
	if e.Code != 0 {
		obj["code"] = ir.IRInt(e.Code)
	}
	if len(e.Changed) > 0 {
		obj["changed"] = e.Changed
	}
	if e.State != "" {
		obj["state"] = ir.IRString(e.State)
	}
	if e.Blocked {
		obj["blocked"] = ir.IRBool(true)
	}
	if e.At != 0 {
		obj["at"] = ir.IRInt(e.At)
	}
	return obj
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every step met its expectation and every assertion held.
	Pass bool `json:"pass"`

	// Trace contains one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State is the final document: stored fields and formulas.
	State ir.IRObject `json:"state,omitempty"`

	// Views holds the merged state each client's private view received.
	Views map[string]ir.IRObject `json:"views,omitempty"`

	// Seq is the document seq at the end of the run.
	Seq int64 `json:"seq"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  ir.IRObject{},
		Views:  make(map[string]ir.IRObject),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddEvent appends a step outcome to the trace.
func (r *Result) AddEvent(e TraceEvent) {
	r.Trace = append(r.Trace, e)
}
