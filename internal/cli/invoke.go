package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/livedoc/internal/demo"
	"github.com/roach88/livedoc/internal/engine"
	"github.com/roach88/livedoc/internal/ir"
)

// InvokeOptions holds flags for the invoke command.
type InvokeOptions struct {
	*RootOptions
	Database string
	Who      string // default who, as agent@authority
}

// InvokeResult is the outcome of one command against a stored document.
type InvokeResult struct {
	Key       string            `json:"key"`
	Command   string            `json:"command"`
	Seq       int64             `json:"seq"`
	Destroyed bool              `json:"destroyed,omitempty"`
	Forward   string            `json:"forward,omitempty"`
	Reverse   string            `json:"reverse,omitempty"`
	State     map[string]string `json:"state,omitempty"`
}

// NewInvokeCommand creates the invoke command.
func NewInvokeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InvokeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "invoke <space/id> <envelope-json>",
		Short: "Run one command against a stored document",
		Long: `Run one command envelope against a document in the database.

The document space names a demo schema (counter, lobby, looper, vault).
A construct envelope creates the document; anything else loads it from
the database and applies the command. A missing timestamp is filled in
with the current time, and a missing who with --who.

Exit codes:
  0 - The command committed
  1 - The document rejected the command (the error code is printed)
  2 - Command error (bad key, malformed envelope, database error)

Examples:
  livedoc invoke --db ./livedoc.db counter/c1 '{"command":"construct","arg":{"start":1}}' --who alice@test
  livedoc invoke --db ./livedoc.db counter/c1 '{"command":"connect"}' --who alice@test
  livedoc invoke --db ./livedoc.db counter/c1 '{"command":"send","channel":"bump","message":{"by":2}}' --who alice@test`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.Prepare(cmd.ErrOrStderr()); err != nil {
				return err
			}
			return runInvoke(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().StringVar(&opts.Who, "who", "", "client used when the envelope has no who (agent@authority)")

	return cmd
}

func runInvoke(opts *InvokeOptions, rawKey, rawEnvelope string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	key, err := parseKey(rawKey)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid key", err)
	}
	env, err := ir.ParseObject([]byte(rawEnvelope))
	if err != nil {
		return WrapExitError(ExitCommandError, "envelope must be a JSON object", err)
	}
	if err := fillEnvelope(env, opts.Who, time.Now()); err != nil {
		return WrapExitError(ExitCommandError, "invalid envelope", err)
	}
	factories, err := demo.Factories()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load schemas", err)
	}

	st, closeStore, err := openStore(opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	defer closeStore()

	ctx := commandContext(cmd)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	svcOpts := append(opts.Config.ServiceOptions(), engine.WithLogger(opts.Logger))
	svc := engine.NewService(st, factories, svcOpts...)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			opts.Logger.Error("service stopped", "error", err)
		}
	}()
	defer func() {
		svc.Stop()
		<-stopped
	}()

	res, err := invoke(ctx, svc, key, env)
	if err != nil {
		code := engine.ErrorCode(err)
		if code == 0 {
			return WrapExitError(ExitCommandError, "command could not run", err)
		}
		if formatter.Format == "json" {
			_ = formatter.Error(fmt.Sprintf("%d", code), err.Error(), nil)
		} else {
			fmt.Fprintf(formatter.Writer, "✗ %s rejected %s: %v\n", key, commandOf(env), err)
		}
		return WrapExitError(ExitFailure, fmt.Sprintf("rejected with code %d", code), err)
	}

	out := InvokeResult{
		Key:       key.String(),
		Command:   commandOf(env),
		Seq:       res.Seq,
		Destroyed: res.Destroyed,
	}
	if res.Change.Forward != nil {
		out.Forward = canonical(res.Change.Forward)
		out.Reverse = canonical(res.Change.Reverse)
	}
	if !res.Destroyed {
		head, err := st.Get(ctx, key)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read document", err)
		}
		out.State = canonicalFields(head.Patch)
	}

	if formatter.Format == "json" {
		return formatter.Success(out)
	}
	w := formatter.Writer
	switch {
	case out.Destroyed:
		fmt.Fprintf(w, "✓ %s %s destroyed the document\n", out.Key, out.Command)
	default:
		fmt.Fprintf(w, "✓ %s %s committed seq %d\n", out.Key, out.Command, out.Seq)
		if out.Forward != "" {
			fmt.Fprintf(w, "  forward: %s\n", out.Forward)
		}
	}
	return nil
}

// invoke sends env to key. Construct envelopes create the document and are
// passed through as given.
func invoke(ctx context.Context, svc *engine.Service, key ir.Key, env ir.IRObject) (*engine.Result, error) {
	if commandOf(env) == "construct" {
		return svc.CreateEnvelope(ctx, key, env)
	}
	return svc.Transact(ctx, key, []byte(ir.Canonical(env)))
}

// fillEnvelope adds the timestamp and who a hand-typed envelope leaves out.
func fillEnvelope(env ir.IRObject, defaultWho string, now time.Time) error {
	if commandOf(env) == "" {
		return errors.New("envelope has no command")
	}
	if _, ok := env["timestamp"]; !ok {
		env["timestamp"] = ir.IRInt(now.UnixMilli())
	}
	if _, ok := env["who"]; !ok && defaultWho != "" {
		who, err := parseWho(defaultWho)
		if err != nil {
			return err
		}
		env["who"] = who.Object()
	}
	return nil
}

func commandOf(env ir.IRObject) string {
	s, _ := env["command"].(ir.IRString)
	return string(s)
}
