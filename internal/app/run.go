package app

import (
	"context"
	"os/signal"
	"syscall"

	"energy-ingest/internal/scheduler"
)

// Run executes the long-running ingestion service: all recurring fetch jobs
// plus the nightly maintenance backfill, until interrupted.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	orch := a.newOrchestrator(store)

	sched, err := scheduler.New(orch, a.Config.Scheduler, a.Logger)
	if err != nil {
		return err
	}

	a.Logger.Info().Msg("starting ingestion service")
	sched.Run(ctx)
	a.Logger.Info().Msg("ingestion service stopped")
	return nil
}
