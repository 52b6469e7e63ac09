package app

import (
	"context"
	"errors"

	"energy-ingest/internal/model"
)

// Backfill loads historical data for the requested sources over [From, To].
// Sources run sequentially so a long historical load does not hammer every
// upstream at once. Per-window failures accumulate; only cancellation aborts.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	if opts.From.After(opts.To) {
		return errors.New("backfill range is empty; check --from/--to")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	orch := a.newOrchestrator(store)

	sources := opts.Sources
	if len(sources) == 0 {
		sources = model.AllSources()
	}

	failedSources := 0
	for _, source := range sources {
		res, err := orch.Backfill(ctx, source, opts.From, opts.To, opts.Force)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			failedSources++
			a.Logger.Error().Err(err).Str("source", string(source)).Msg("backfill failed")
			continue
		}

		event := a.Logger.Info()
		if len(res.Errors) > 0 {
			failedSources++
			event = a.Logger.Error().Strs("errors", res.Errors)
		}
		event.
			Str("source", string(source)).
			Int("fetched", res.Fetched).
			Int("inserted", res.Inserted).
			Int("updated", res.Updated).
			Int("skipped", res.Skipped).
			Msg("backfill source done")
	}

	if failedSources > 0 {
		return errors.New("some backfill windows failed; rerun to retry them")
	}
	return nil
}
