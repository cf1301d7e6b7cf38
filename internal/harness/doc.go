// Package harness runs YAML scenarios against real documents.
//
// A scenario names a document type, a list of steps and a list of
// assertions:
//
//	name: counter_basics
//	description: Bumps and a refused reset
//	schema: counter
//	steps:
//	  - command: construct
//	    who: alice
//	    arg: {start: 5}
//	  - command: connect
//	    who: alice
//	  - command: send
//	    who: alice
//	    channel: bump
//	    message: {by: 2}
//	  - advance: 500
//	  - view: alice
//	assertions:
//	  - type: final_state
//	    expect: {count: 7}
//
// Steps execute through engine.Document with a mock clock, an in-memory
// data service and sequential view ids, so two runs of a scenario produce
// byte-identical traces. Each step yields one TraceEvent: the seq it
// committed or the error code it failed with, the merge patch of user
// fields it produced, and the state machine's label afterwards.
//
// Traces are compared against golden files under testdata/golden with
// goldie; run the package tests with -update to regenerate them.
//
// Schemas come from the demo package unless the scenario lists CUE spec
// files, which are compiled and bound to the demo program of the same name.
package harness
