package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/livedoc/internal/demo"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Bind bool // also require a sample program for every schema
}

// ValidationIssue is one problem found in a schema path.
type ValidationIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid   bool              `json:"valid"`
	Schemas []string          `json:"schemas"`
	Errors  []ValidationIssue `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <schema-path>",
		Short: "Validate document schemas",
		Long: `Validate CUE document schemas without writing output.

Reports every problem in every file. With --bind, each schema must also
have a sample program of the same name to run it.

Examples:
  livedoc validate ./schemas
  livedoc validate ./schemas/lobby.cue --bind`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.Prepare(cmd.ErrOrStderr()); err != nil {
				return err
			}
			return runValidate(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Bind, "bind", false, "require a sample program for every schema")

	return cmd
}

func runValidate(opts *ValidateOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	loadResult, loadErrors := LoadSchemas(path, LoadModeCollectAll)
	if loadResult == nil && len(loadErrors) > 0 {
		code, message := parseCompileError(loadErrors[0])
		_ = formatter.Error(code, message, nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
	}
	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, path)

	result := ValidationResult{Schemas: make([]string, 0, len(loadResult.Schemas))}
	for _, spec := range loadResult.Schemas {
		result.Schemas = append(result.Schemas, spec.Name)
	}
	for _, err := range loadErrors {
		result.Errors = append(result.Errors, toIssue(err))
	}
	if opts.Bind && len(loadErrors) == 0 {
		for _, spec := range loadResult.Schemas {
			if _, ok := demo.Programs[spec.Name]; !ok {
				result.Errors = append(result.Errors, ValidationIssue{
					Code:    ErrCodeNoProgram,
					Message: fmt.Sprintf("no program for schema %q", spec.Name),
				})
			}
		}
		if len(result.Errors) == 0 {
			if _, err := demo.Bind(loadResult.Schemas); err != nil {
				result.Errors = append(result.Errors, ValidationIssue{Code: ErrCodeNoProgram, Message: err.Error()})
			}
		}
	}
	result.Valid = len(result.Errors) == 0

	if formatter.Format == "json" {
		var failure *CLIError
		if !result.Valid {
			failure = &CLIError{Code: result.Errors[0].Code, Message: result.Errors[0].Message}
		}
		if err := formatter.Respond(result, failure); err != nil {
			return err
		}
	} else {
		outputValidateText(formatter, result)
	}

	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))
	}
	return nil
}

func toIssue(err error) ValidationIssue {
	code, message := parseCompileError(err)
	issue := ValidationIssue{Code: code, Message: message}
	var loadErr *LoadError
	if errors.As(err, &loadErr) && loadErr.Pos.IsValid() {
		issue.File = loadErr.Pos.Filename()
		issue.Line = loadErr.Pos.Line()
	}
	return issue
}

func outputValidateText(formatter *OutputFormatter, result ValidationResult) {
	w := formatter.Writer
	if result.Valid {
		fmt.Fprintf(w, "✓ %d schema(s) valid\n", len(result.Schemas))
		for _, name := range result.Schemas {
			fmt.Fprintf(w, "  %s\n", name)
		}
		return
	}

	fmt.Fprintln(w, "✗ Validation failed")
	fmt.Fprintln(w)
	for _, issue := range result.Errors {
		if issue.File != "" {
			fmt.Fprintf(w, "%s:%d\n", issue.File, issue.Line)
		}
		fmt.Fprintf(w, "  %s: %s\n", issue.Code, issue.Message)
	}
}
