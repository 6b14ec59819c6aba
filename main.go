// ABOUTME: Entry point for the timesync CLI
// ABOUTME: Runs the cobra command tree until interrupted
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Resonate-Protocol/timesync-go/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
