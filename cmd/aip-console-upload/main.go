// Package main provides the aip-console-upload CLI.
//
// Usage:
//
//	aip-console-upload step
//	aip-console-upload upload --app-guid <guid> --source <path|url>
//
// Exit codes:
//   - 0: the archive was uploaded, and extracted when extraction was requested
//   - 1: the upload failed or AIP Console could not extract the archive
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/urfave/cli/v2"
)

func main() {
	logger := log.NewLogger()
	app := newApp(logger, env.NewRepository())

	ctx, interrupts, stop := handleSignals(context.Background(), logger)
	defer stop()
	app.Metadata = map[string]interface{}{interruptsKey: interrupts}

	if err := app.RunContext(ctx, os.Args); err != nil {
		var exitErr cli.ExitCoder
		if !errors.As(err, &exitErr) {
			logger.Errorf("%s", err)
		}
		os.Exit(1)
	}
}

func newApp(logger log.Logger, envRepo env.Repository) *cli.App {
	return &cli.App{
		Name:  "aip-console-upload",
		Usage: "Upload source code to AIP Console in chunks and wait for its extraction",
		Commands: []*cli.Command{
			stepCommand(logger, envRepo),
			uploadCommand(logger, envRepo),
		},
		ExitErrHandler: func(_ *cli.Context, err error) {
			var exitErr cli.ExitCoder
			if errors.As(err, &exitErr) && exitErr.Error() != "" {
				logger.Errorf("%s", exitErr.Error())
			}
		},
	}
}

func failf(format string, args ...interface{}) error {
	return cli.Exit(fmt.Sprintf(format, args...), 1)
}
