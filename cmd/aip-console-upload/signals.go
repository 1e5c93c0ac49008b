package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/urfave/cli/v2"
)

const interruptsKey = "interrupts"

// handleSignals turns SIGINT into a soft interrupt of the extraction wait and SIGTERM into
// cancellation of ctx.
func handleSignals(ctx context.Context, logger log.Logger) (context.Context, <-chan struct{}, func()) {
	ctx, cancel := context.WithCancel(ctx)
	interrupts := make(chan struct{}, 1)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-signals:
				if sig == syscall.SIGTERM {
					logger.Warnf("Terminated, aborting upload")
					cancel()
					return
				}
				logger.Warnf("Interrupted, the upload keeps running")
				select {
				case interrupts <- struct{}{}:
				default:
				}
			}
		}
	}()

	return ctx, interrupts, func() {
		signal.Stop(signals)
		cancel()
	}
}

func interruptsFrom(c *cli.Context) <-chan struct{} {
	if c.App == nil || c.App.Metadata == nil {
		return nil
	}
	interrupts, _ := c.App.Metadata[interruptsKey].(<-chan struct{})
	return interrupts
}
