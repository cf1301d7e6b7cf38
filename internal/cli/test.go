package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/roach88/livedoc/internal/demo"
	"github.com/roach88/livedoc/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Golden   string // golden directory, default <scenarios-dir>/golden
	Update   bool   // regenerate golden files
	Filter   string // scenario filter (glob pattern)
	Watch    bool   // rerun when files change
	Coverage bool   // require a scenario for every demo schema
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Schema string   `json:"schema,omitempty"`
	Pass   bool     `json:"pass"`
	Steps  int      `json:"steps"`
	Seq    int64    `json:"seq"`
	Golden string   `json:"golden,omitempty"` // "match", "updated", "mismatch" or "none"
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
	Uncovered []string         `json:"uncovered,omitempty"` // demo schemas no scenario targets
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run every scenario in a directory",
		Long: `Run every scenario in a directory, checking assertions and comparing
each trace with its golden file when one exists.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  livedoc test ./testdata/scenarios
  livedoc test ./testdata/scenarios --golden ./internal/harness/testdata/golden
  livedoc test ./testdata/scenarios --filter "lobby_*"
  livedoc test ./testdata/scenarios --update
  livedoc test ./testdata/scenarios --coverage
  livedoc test ./testdata/scenarios --watch`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.Prepare(cmd.ErrOrStderr()); err != nil {
				return err
			}
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Golden, "golden", "", "golden file directory (default <scenarios-dir>/golden)")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "rerun when scenarios, schemas or goldens change")
	cmd.Flags().BoolVar(&opts.Coverage, "coverage", false, "fail when a demo schema has no scenario")

	return cmd
}

func runTests(opts *TestOptions, scenariosDir string, cmd *cobra.Command) error {
	if _, err := os.Stat(scenariosDir); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", scenariosDir))
	}
	if opts.Golden == "" {
		opts.Golden = filepath.Join(scenariosDir, "golden")
	}
	if _, err := filepath.Match(opts.Filter, ""); err != nil {
		return WrapExitError(ExitCommandError, "invalid filter pattern", err)
	}

	ctx := commandContext(cmd)

	result, err := runSuite(ctx, opts, scenariosDir)
	if err != nil {
		return err
	}
	if !opts.Watch {
		return outputTestResult(opts, cmd, result)
	}

	_ = outputTestResult(opts, cmd, result)
	return watchTests(ctx, opts, scenariosDir, cmd)
}

// watchTests reruns the suite on every change until interrupted.
func watchTests(ctx context.Context, opts *TestOptions, scenariosDir string, cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	dirs := []string{scenariosDir}
	if info, err := os.Stat(opts.Golden); err == nil && info.IsDir() {
		dirs = append(dirs, opts.Golden)
	}
	w, err := NewWatcher(dirs, ".yaml", ".yml", ".cue", ".golden")
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to watch scenarios", err)
	}
	defer w.Stop()

	opts.Logger.Info("watching for changes", "dirs", dirs)
	watchAndRerun(ctx, w, func(changed string) {
		opts.Logger.Info("change detected, rerunning", "file", changed)
		result, err := runSuite(ctx, opts, scenariosDir)
		if err != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "✗ %v\n", err)
			return
		}
		_ = outputTestResult(opts, cmd, result)
	})
	return nil
}

func runSuite(ctx context.Context, opts *TestOptions, scenariosDir string) (TestResult, error) {
	files, err := findScenarioFiles(scenariosDir, opts.Filter)
	if err != nil {
		return TestResult{}, WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}

	result := TestResult{Scenarios: make([]ScenarioResult, 0, len(files)), Total: len(files)}
	for _, file := range files {
		sr := runOne(ctx, opts, file)
		result.Scenarios = append(result.Scenarios, sr)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if opts.Coverage {
		specs, err := demo.Schemas()
		if err != nil {
			return result, WrapExitError(ExitCommandError, "failed to load demo schemas", err)
		}
		coverage, err := harness.ValidateCoverage(ctx, specs, scenariosDir, opts.Logger)
		if err != nil {
			return result, WrapExitError(ExitCommandError, "coverage check failed", err)
		}
		result.Uncovered = coverage.Uncovered
	}
	return result, nil
}

// findScenarioFiles finds all YAML scenario files directly in a directory,
// sorted by name.
func findScenarioFiles(dir string, filter string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		if filter != "" {
			matched, err := filepath.Match(filter, strings.TrimSuffix(entry.Name(), ext))
			if err != nil {
				return nil, fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				continue
			}
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	return files, nil
}

// runOne executes a single scenario and returns the result.
func runOne(ctx context.Context, opts *TestOptions, file string) ScenarioResult {
	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return ScenarioResult{
			Name:   filepath.Base(file),
			Errors: []string{fmt.Sprintf("failed to load scenario: %v", err)},
		}
	}

	sr := ScenarioResult{Name: scenario.Name, Schema: scenario.Schema}
	result, err := harness.RunContext(ctx, scenario,
		harness.WithLogger(opts.Logger),
		harness.WithDocumentOptions(opts.Config.DocumentOptions()...),
	)
	if err != nil {
		sr.Errors = []string{fmt.Sprintf("execution failed: %v", err)}
		return sr
	}
	sr.Steps = len(result.Trace)
	sr.Seq = result.Seq
	sr.Errors = append(sr.Errors, result.Errors...)

	got := harness.Snapshot(scenario.Name, result).Bytes()
	path := filepath.Join(opts.Golden, scenario.Name+".golden")
	switch {
	case opts.Update:
		if err := writeGolden(path, got); err != nil {
			sr.Errors = append(sr.Errors, fmt.Sprintf("failed to update golden file: %v", err))
		} else {
			sr.Golden = "updated"
		}
	default:
		want, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			sr.Golden = "none"
		case err != nil:
			sr.Errors = append(sr.Errors, fmt.Sprintf("failed to read golden file: %v", err))
		case bytes.Equal(want, got):
			sr.Golden = "match"
		default:
			sr.Golden = "mismatch"
			sr.Errors = append(sr.Errors, "trace does not match golden file (run with --update to regenerate)")
		}
	}

	sr.Pass = len(sr.Errors) == 0
	return sr
}

func writeGolden(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

func outputTestResult(opts *TestOptions, cmd *cobra.Command, result TestResult) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	failed := result.Failed > 0 || len(result.Uncovered) > 0
	if formatter.Format == "json" {
		var failure *CLIError
		switch {
		case result.Failed > 0:
			failure = &CLIError{
				Code:    "E_TEST_FAILED",
				Message: fmt.Sprintf("%d scenario(s) failed", result.Failed),
			}
		case len(result.Uncovered) > 0:
			failure = &CLIError{
				Code:    "E_UNCOVERED",
				Message: fmt.Sprintf("no scenario for %s", strings.Join(result.Uncovered, ", ")),
			}
		}
		if err := formatter.Respond(result, failure); err != nil {
			return err
		}
	} else {
		outputTestText(formatter, result)
	}

	if failed {
		// Test failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed, %d schema(s) uncovered", result.Failed, len(result.Uncovered)))
	}
	return nil
}

func outputTestText(formatter *OutputFormatter, result TestResult) {
	w := formatter.Writer
	if result.Total == 0 {
		fmt.Fprintln(w, "No scenarios found.")
		return
	}

	rows := make([]table.Row, 0, len(result.Scenarios))
	for _, s := range result.Scenarios {
		status := "✓"
		if !s.Pass {
			status = "✗"
		}
		rows = append(rows, table.Row{status, s.Name, s.Schema, s.Steps, s.Seq, s.Golden})
	}
	formatter.Table(table.Row{"", "Scenario", "Schema", "Steps", "Seq", "Golden"}, rows)

	for _, s := range result.Scenarios {
		if s.Pass {
			continue
		}
		fmt.Fprintf(w, "\n✗ %s\n", s.Name)
		for _, e := range s.Errors {
			printIndented(w, e)
		}
	}

	fmt.Fprintln(w)
	for _, name := range result.Uncovered {
		fmt.Fprintf(w, "✗ no scenario for schema %s\n", name)
	}
	fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
	if result.Failed == 0 && len(result.Uncovered) == 0 {
		fmt.Fprintln(w, "✓ All scenarios passed")
	}
}

func printIndented(w io.Writer, s string) {
	for _, line := range strings.Split(strings.TrimRight(s, "\n"), "\n") {
		fmt.Fprintf(w, "  %s\n", line)
	}
}
