package cli

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/roach88/livedoc/internal/ir"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
	Limit    int // most recent changes to show, 0 for all
}

// DocumentRow is one stored document in the listing.
type DocumentRow struct {
	Key       string `json:"key"`
	Seq       int64  `json:"seq"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// ChangeRow is one logged change.
type ChangeRow struct {
	Seq     int64  `json:"seq"`
	Who     string `json:"who,omitempty"`
	Request string `json:"request"`
	Forward string `json:"forward"`
	Reverse string `json:"reverse"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history [space/id]",
		Short: "List stored documents or one document's change log",
		Long: `Without a key, list every document in the database with its head seq.
With a key, print the document's change log: who sent each request and the
forward and reverse patches it committed.

Examples:
  livedoc history --db ./livedoc.db
  livedoc history --db ./livedoc.db counter/scenario
  livedoc history --db ./livedoc.db counter/scenario --limit 5 --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.Prepare(cmd.ErrOrStderr()); err != nil {
				return err
			}
			if len(args) == 0 {
				return runListDocuments(opts, cmd)
			}
			return runChangeLog(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "show only the most recent N changes")

	return cmd
}

func runListDocuments(opts *HistoryOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	st, closeStore, err := openStore(opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	defer closeStore()

	docs, err := st.List(commandContext(cmd))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list documents", err)
	}

	out := make([]DocumentRow, 0, len(docs))
	for _, d := range docs {
		out = append(out, DocumentRow{
			Key:       d.Key.String(),
			Seq:       d.Seq,
			CreatedAt: formatMillis(d.CreatedAt),
			UpdatedAt: formatMillis(d.UpdatedAt),
		})
	}

	if formatter.Format == "json" {
		return formatter.Success(out)
	}
	if len(out) == 0 {
		fmt.Fprintln(formatter.Writer, "No documents found.")
		return nil
	}
	rows := make([]table.Row, 0, len(out))
	for _, d := range out {
		rows = append(rows, table.Row{d.Key, d.Seq, d.CreatedAt, d.UpdatedAt})
	}
	formatter.Table(table.Row{"Key", "Seq", "Created", "Updated"}, rows)
	return nil
}

func runChangeLog(opts *HistoryOptions, rawKey string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	key, err := parseKey(rawKey)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid key", err)
	}
	if opts.Limit < 0 {
		return NewExitError(ExitCommandError, "--limit must not be negative")
	}

	st, closeStore, err := openStore(opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	defer closeStore()

	changes, err := st.Changes(commandContext(cmd), key)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read change log", err)
	}
	if opts.Limit > 0 && len(changes) > opts.Limit {
		changes = changes[len(changes)-opts.Limit:]
	}
	out := changeRows(changes)

	if formatter.Format == "json" {
		return formatter.Success(out)
	}
	if len(out) == 0 {
		fmt.Fprintf(formatter.Writer, "No changes logged for %s.\n", key)
		return nil
	}
	rows := make([]table.Row, 0, len(out))
	for _, c := range out {
		rows = append(rows, table.Row{c.Seq, c.Who, truncate(c.Request, 60), truncate(c.Forward, 60)})
	}
	formatter.Table(table.Row{"Seq", "Who", "Request", "Forward"}, rows)
	return nil
}

func changeRows(changes []ir.Change) []ChangeRow {
	out := make([]ChangeRow, 0, len(changes))
	for _, c := range changes {
		row := ChangeRow{
			Seq:     c.Seq,
			Request: c.Request,
			Forward: canonical(c.Forward),
			Reverse: canonical(c.Reverse),
		}
		if c.Who != nil {
			row.Who = c.Who.String()
		}
		out = append(out, row)
	}
	return out
}

// commandContext returns cmd's context, or Background when it has none.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
