// Command autobolt-runner is the process entry point for the
// directory-submission job-processing engine: it assembles the app, starts
// the Job Runner's poll loop, and shuts down cleanly on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/autobolt/runner/internal/app"
	"github.com/autobolt/runner/internal/common"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := os.Getenv("AUTOBOLT_CONFIG")

	a, err := app.NewApp(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize autobolt runner: %v\n", err)
		return 1
	}
	defer a.Close()

	common.PrintBanner(a.Config, a.Logger)
	a.Logger.Info().
		Str("worker_id", a.Config.WorkerID).
		Int("catalog_size", a.Catalog.Len()).
		Msg("autobolt runner starting")

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		a.Logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
		a.Runner.Shutdown()
		cancel()
	}()

	if err := a.Runner.Start(ctx); err != nil {
		a.Logger.Error().Err(err).Msg("runner exited with error")
		return 1
	}

	a.Logger.Info().Msg("autobolt runner stopped")
	return 0
}
