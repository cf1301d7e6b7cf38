package harness

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/roach88/livedoc/internal/ir"
)

// UnknownSchemaError is returned when a scenario names a schema that is
// not among those being validated.
type UnknownSchemaError struct {
	Scenario string
	Path     string
	Schema   string
}

// Error implements the error interface.
func (e *UnknownSchemaError) Error() string {
	return fmt.Sprintf("scenario %q (%s) targets unknown schema %q", e.Scenario, e.Path, e.Schema)
}

// CoverageResult summarizes a scenario directory run against a set of
// schemas.
type CoverageResult struct {
	TotalSchemas   int               `json:"total_schemas"`
	TotalScenarios int               `json:"total_scenarios"`
	Passed         int               `json:"passed"`
	Failed         int               `json:"failed"`
	Uncovered      []string          `json:"uncovered,omitempty"` // Schemas no scenario targets
	Failures       []ScenarioFailure `json:"failures,omitempty"`
	Results        []ScenarioOutcome `json:"results"`
}

// ScenarioFailure is one scenario that failed to load, run or pass.
type ScenarioFailure struct {
	Schema       string `json:"schema"`
	Scenario     string `json:"scenario"`
	ScenarioPath string `json:"scenario_path"`
	Error        string `json:"error"`
}

// ScenarioOutcome is the result of one scenario.
type ScenarioOutcome struct {
	Schema   string `json:"schema"`
	Scenario string `json:"scenario"`
	Path     string `json:"path"`
	Pass     bool   `json:"pass"`
	Steps    int    `json:"steps"`
	Seq      int64  `json:"seq"`
}

// ValidateCoverage runs every scenario in dir and reports, per schema,
// whether its scenarios pass. Schemas without any scenario are listed as
// uncovered.
func ValidateCoverage(ctx context.Context, specs []*ir.SchemaSpec, dir string, logger *slog.Logger) (*CoverageResult, error) {
	scenarios, paths, err := LoadDir(dir)
	if err != nil {
		return nil, err
	}

	result := &CoverageResult{TotalSchemas: len(specs)}
	known := make(map[string]bool, len(specs))
	covered := make(map[string]bool, len(specs))
	for _, s := range specs {
		known[s.Name] = true
	}

	for i, scenario := range scenarios {
		result.TotalScenarios++
		fail := func(msg string) {
			result.Failed++
			result.Failures = append(result.Failures, ScenarioFailure{
				Schema:       scenario.Schema,
				Scenario:     scenario.Name,
				ScenarioPath: paths[i],
				Error:        msg,
			})
		}

		if !known[scenario.Schema] {
			fail((&UnknownSchemaError{Scenario: scenario.Name, Path: paths[i], Schema: scenario.Schema}).Error())
			continue
		}
		covered[scenario.Schema] = true

		runResult, err := RunContext(ctx, scenario, WithLogger(logger))
		if err != nil {
			fail(fmt.Sprintf("scenario execution failed: %v", err))
			continue
		}
		result.Results = append(result.Results, ScenarioOutcome{
			Schema:   scenario.Schema,
			Scenario: scenario.Name,
			Path:     paths[i],
			Pass:     runResult.Pass,
			Steps:    len(runResult.Trace),
			Seq:      runResult.Seq,
		})
		if !runResult.Pass {
			fail(fmt.Sprintf("scenario assertions failed: %v", runResult.Errors))
			continue
		}
		result.Passed++
	}

	for name := range known {
		if !covered[name] {
			result.Uncovered = append(result.Uncovered, name)
		}
	}
	sort.Strings(result.Uncovered)
	return result, nil
}

// OK reports whether every scenario passed and every schema is covered.
func (r *CoverageResult) OK() bool {
	return r.Failed == 0 && len(r.Uncovered) == 0
}
