package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bookrelay/bookrelay/internal/bookrelay/config"
	"github.com/bookrelay/bookrelay/internal/bookrelay/provider"
	"github.com/bookrelay/bookrelay/internal/bookrelay/worker"
	"github.com/bookrelay/bookrelay/internal/common/logtrace"
)

// newWorkerCmd runs a single booking worker speaking the line protocol on
// stdin and stdout. It is started by the process supervisor, not by users.
func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "worker",
		Short:  "Run one booking worker on stdin/stdout",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("loading config file: %w", err)
			}
			// stdout carries the protocol
			logtrace.InitLoggerWithWriter(os.Stderr, c.LogLevel)

			p, perr := provider.New(&c.Provider)
			if perr != nil {
				return fmt.Errorf("creating provider: %w", perr)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return worker.RunWorker(ctx, os.Stdin, os.Stdout, p)
		},
	}
}
