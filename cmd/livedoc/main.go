// Command livedoc compiles, runs and inspects living documents.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/roach88/livedoc/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := cli.NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(cli.GetExitCode(err))
	}
}
