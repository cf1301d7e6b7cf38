package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/livedoc/internal/harness"
	"github.com/roach88/livedoc/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string // persist the document here; in memory when empty
}

// RunResult is the JSON form of one scenario run.
type RunResult struct {
	Scenario string               `json:"scenario"`
	Pass     bool                 `json:"pass"`
	Seq      int64                `json:"seq"`
	Trace    []harness.TraceEvent `json:"trace"`
	Errors   []string             `json:"errors,omitempty"`
	State    map[string]string    `json:"state,omitempty"`
	Views    map[string]string    `json:"views,omitempty"`
	Database string               `json:"database,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run one scenario and print its trace",
		Long: `Run one scenario against a fresh document and print the trace.

By default the document lives in memory. With --db, every change is
written to a SQLite database (created if it doesn't exist), where the
history, dump and replay commands can inspect it.

Exit codes:
  0 - The scenario passed
  1 - An expectation or assertion failed
  2 - Command error (unreadable scenario, database error, etc.)

Examples:
  livedoc run testdata/scenarios/counter_basics.yaml
  livedoc run testdata/scenarios/lobby_rounds.yaml --db ./livedoc.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.Prepare(cmd.ErrOrStderr()); err != nil {
				return err
			}
			return runScenarioFile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database")

	return cmd
}

func runScenarioFile(opts *RunOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	runOpts := []harness.Option{
		harness.WithLogger(opts.Logger),
		harness.WithDocumentOptions(opts.Config.DocumentOptions()...),
	}
	if opts.Database != "" {
		opts.Logger.Info("opening database", "path", opts.Database)
		st, err := store.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				opts.Logger.Error("error closing database", "error", closeErr)
			}
		}()
		runOpts = append(runOpts, harness.WithDataService(st))
	}

	ctx := commandContext(cmd)
	result, err := harness.RunContext(ctx, scenario, runOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "scenario could not run", err)
	}

	if formatter.Format == "json" {
		out := RunResult{
			Scenario: scenario.Name,
			Pass:     result.Pass,
			Seq:      result.Seq,
			Trace:    result.Trace,
			Errors:   result.Errors,
			State:    canonicalFields(result.State),
			Views:    make(map[string]string, len(result.Views)),
			Database: opts.Database,
		}
		for who, view := range result.Views {
			out.Views[who] = canonical(view)
		}
		var failure *CLIError
		if !result.Pass {
			failure = &CLIError{Code: "E_SCENARIO_FAILED", Message: fmt.Sprintf("%d error(s)", len(result.Errors))}
		}
		if err := formatter.Respond(out, failure); err != nil {
			return err
		}
	} else {
		w := formatter.Writer
		_, _ = w.Write(harness.Snapshot(scenario.Name, result).Bytes())
		fmt.Fprintln(w)
		fmt.Fprintf(w, "state: %s\n", canonical(result.State))
		for _, who := range sortedKeys(result.Views) {
			fmt.Fprintf(w, "view %s: %s\n", who, canonical(result.Views[who]))
		}
		for _, e := range result.Errors {
			fmt.Fprintf(w, "✗ %s\n", e)
		}
		if result.Pass {
			fmt.Fprintf(w, "✓ %s passed at seq %d\n", scenario.Name, result.Seq)
		}
	}

	if !result.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", scenario.Name))
	}
	return nil
}
