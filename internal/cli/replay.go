package cli

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/roach88/livedoc/internal/ir"
	"github.com/roach88/livedoc/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
}

// IntegrityRow is the verification outcome for one document.
type IntegrityRow struct {
	Key        string  `json:"key"`
	HeadSeq    int64   `json:"head_seq"`
	Changes    int     `json:"changes"`
	Gaps       []int64 `json:"gaps,omitempty"`
	Consistent bool    `json:"consistent"`
	HeadHash   string  `json:"head_hash"`
	FoldHash   string  `json:"fold_hash"`
	OK         bool    `json:"ok"`
}

// ReplayResult is the outcome of verifying a database.
type ReplayResult struct {
	Documents []IntegrityRow `json:"documents"`
	Failed    int            `json:"failed"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay [space/id]",
		Short: "Verify change logs reproduce their stored snapshots",
		Long: `Fold each document's forward patches onto an empty object and compare
the result with the stored head, reporting missing seqs and hash
mismatches. Without a key every document in the database is checked.

Exit codes:
  0 - Every log is complete and consistent
  1 - At least one document has gaps or a mismatched snapshot
  2 - Command error (bad key, database error)

Examples:
  livedoc replay --db ./livedoc.db
  livedoc replay --db ./livedoc.db lobby/scenario`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.Prepare(cmd.ErrOrStderr()); err != nil {
				return err
			}
			return runReplay(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")

	return cmd
}

func runReplay(opts *ReplayOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	var keys []ir.Key
	if len(args) == 1 {
		key, err := parseKey(args[0])
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid key", err)
		}
		keys = append(keys, key)
	}

	st, closeStore, err := openStore(opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	defer closeStore()

	ctx := commandContext(cmd)
	if keys == nil {
		docs, err := st.List(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list documents", err)
		}
		for _, d := range docs {
			keys = append(keys, d.Key)
		}
	}

	result := ReplayResult{Documents: make([]IntegrityRow, 0, len(keys))}
	for _, key := range keys {
		report, err := store.Verify(ctx, st, key)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to verify "+key.String(), err)
		}
		row := IntegrityRow{
			Key:        key.String(),
			HeadSeq:    report.HeadSeq,
			Changes:    report.Changes,
			Gaps:       report.Gaps,
			Consistent: report.Consistent,
			HeadHash:   report.HeadHash,
			FoldHash:   report.FoldHash,
			OK:         report.OK(),
		}
		if !row.OK {
			result.Failed++
			opts.Logger.Warn("log does not reproduce head", "key", row.Key, "gaps", len(row.Gaps), "consistent", row.Consistent)
		}
		result.Documents = append(result.Documents, row)
	}

	if formatter.Format == "json" {
		var failure *CLIError
		if result.Failed > 0 {
			failure = &CLIError{Code: "E_REPLAY_MISMATCH", Message: fmt.Sprintf("%d document(s) failed verification", result.Failed)}
		}
		if err := formatter.Respond(result, failure); err != nil {
			return err
		}
	} else {
		outputReplayText(formatter, result)
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d document(s) failed verification", result.Failed))
	}
	return nil
}

func outputReplayText(formatter *OutputFormatter, result ReplayResult) {
	w := formatter.Writer
	if len(result.Documents) == 0 {
		fmt.Fprintln(w, "No documents found.")
		return
	}
	rows := make([]table.Row, 0, len(result.Documents))
	for _, d := range result.Documents {
		status := "✓"
		if !d.OK {
			status = "✗"
		}
		rows = append(rows, table.Row{status, d.Key, d.HeadSeq, d.Changes, formatGaps(d.Gaps), truncate(d.HeadHash, 16)})
	}
	formatter.Table(table.Row{"", "Key", "Seq", "Changes", "Gaps", "Hash"}, rows)

	if result.Failed == 0 {
		fmt.Fprintf(w, "✓ %d document(s) verified\n", len(result.Documents))
	} else {
		fmt.Fprintf(w, "✗ %d of %d document(s) failed verification\n", result.Failed, len(result.Documents))
	}
}

func formatGaps(gaps []int64) string {
	if len(gaps) == 0 {
		return "-"
	}
	parts := make([]string, len(gaps))
	for i, g := range gaps {
		parts[i] = fmt.Sprint(g)
	}
	return strings.Join(parts, ",")
}
