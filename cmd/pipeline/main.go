// Command pipeline runs the market data ETL service. Without -schedule
// it pulls every enabled entity once and exits; with it the built-in
// cron keeps pulling on the configured spec until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mdetl/internal/app"
	"mdetl/internal/config"
)

func main() {
	sourcesFile := flag.String("sources", "config/sources.yaml", "per-source settings file (optional)")
	schedule := flag.Bool("schedule", false, "run on the configured cron spec instead of once")
	flag.Parse()

	if err := run(*sourcesFile, *schedule); err != nil {
		slog.Error("pipeline exited with error", "error", err)
		os.Exit(1)
	}
}

func run(sourcesFile string, schedule bool) error {
	cfg, err := config.Load(sourcesFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if schedule {
		cfg.Schedule.Enabled = true
	}

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := application.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		application.Logger.Info("shutdown signal received")
		runErr = nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	application.Shutdown(shutdownCtx)

	return runErr
}
