// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/coffer-foundation/coffer/cmd/coffer/commands"
	"github.com/coffer-foundation/coffer/lib/redact"
)

func main() {
	if err := run(); err != nil {
		// Commands that print their own output (like agent status)
		// return an ExitError with the desired exit code. Don't print
		// a redundant "error:" line for those.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// CLI output goes to stdout from the commands themselves; the
	// logger carries internal warnings only, passed through the
	// redaction filter like every other log surface.
	logger := slog.New(redact.NewHandler(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	})))

	return commands.Root().Execute(ctx, os.Args[1:], logger)
}
