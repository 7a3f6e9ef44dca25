package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/davidmoltin/leadflow/cmd/cli/commands"
)

func main() {
	// Ctrl-C stops a running dry run instead of killing it mid-report
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := commands.Execute(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
