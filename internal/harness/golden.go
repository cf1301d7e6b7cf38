package harness

import (
	"bytes"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/livedoc/internal/ir"
)

// TraceSnapshot captures the complete trace for a scenario execution.
// Every line is canonical JSON, so equal runs produce equal bytes.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario"`
	Trace        []TraceEvent `json:"trace"`
	Seq          int64        `json:"seq"`
}

// Bytes renders the snapshot: a header line, then one line per event.
func (s *TraceSnapshot) Bytes() []byte {
	var buf bytes.Buffer
	buf.WriteString(ir.Canonical(ir.IRObject{
		"scenario": ir.IRString(s.ScenarioName),
		"seq":      ir.IRInt(s.Seq),
	}))
	buf.WriteByte('\n')
	for _, event := range s.Trace {
		buf.WriteString(ir.Canonical(event.Object()))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// Snapshot builds the golden form of a result.
func Snapshot(name string, result *Result) *TraceSnapshot {
	return &TraceSnapshot{ScenarioName: name, Trace: result.Trace, Seq: result.Seq}
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can check Pass. Test failure (via goldie)
// occurs if the trace doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenarioName string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, Snapshot(scenarioName, result).Bytes())
}
