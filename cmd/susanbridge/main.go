package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/emtools/susanbridge/internal/app"
	"github.com/emtools/susanbridge/internal/cli"
	"github.com/emtools/susanbridge/internal/ctxlog"
	"github.com/emtools/susanbridge/internal/hcl"
	"github.com/emtools/susanbridge/internal/install"
	"github.com/emtools/susanbridge/internal/susanexec"
)

// main is the entrypoint for the susanbridge application.
func main() {
	// Use a minimal logger until the full one is configured.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	// The real main function handles errors and exit codes.
	if err := run(os.Stdout, os.Args[1:]); err != nil {
		if exitErr, ok := err.(*cli.ExitError); ok {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run encapsulates the main application logic for easier testing and error handling.
func run(outW io.Writer, args []string) (err error) {
	opts, shouldExit, err := cli.Parse(args, outW)
	if err != nil {
		return err
	}
	if shouldExit {
		return nil
	}

	// The app panics on critical config errors, so we recover here to provide
	// a clean exit message to the user.
	defer func() {
		if r := recover(); r != nil {
			err = &cli.ExitError{Code: 1, Message: fmt.Sprintf("A critical startup error occurred: %v", r)}
		}
	}()

	runner := susanexec.NewLocal()
	ctx := context.Background()

	if opts.Command == cli.CmdInstall {
		logger := slog.Default()
		return install.Install(ctxlog.WithLogger(ctx, logger), runner, opts.InstallPrefix)
	}

	loader := hcl.NewLoader()
	bridgeApp := app.NewApp(outW, &opts.App, loader, runner)

	if opts.Command == cli.CmdCheck {
		return bridgeApp.Check(ctx)
	}
	return bridgeApp.Run(ctx)
}
