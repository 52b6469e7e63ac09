package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"energy-ingest/internal/model"
)

// Status reports stored settlement-price coverage, the latest successful run
// per fetch type, and any runs stuck in running state.
func (a *App) Status(ctx context.Context, opts StatusOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	minDate, maxDate, err := store.SettlementPriceDateRange(ctx)
	if err != nil {
		return err
	}
	if minDate == nil || maxDate == nil {
		fmt.Fprintln(os.Stdout, "settlement prices: no data stored")
	} else {
		fmt.Fprintf(os.Stdout, "settlement prices: %s .. %s\n",
			minDate.Format("2006-01-02"), maxDate.Format("2006-01-02"))
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Fetch type\tLast success\tFetched\tInserted\tUpdated")

	for _, source := range model.AllSources() {
		fetchType := source.FetchType()
		run, err := store.LatestFetchRun(ctx, fetchType)
		if err != nil {
			return err
		}
		if run == nil {
			fmt.Fprintf(writer, "%s\tnever\t-\t-\t-\n", fetchType)
			continue
		}

		completed := "-"
		if run.CompletedAt != nil {
			completed = run.CompletedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(writer, "%s\t%s\t%d\t%d\t%d\n",
			fetchType, completed, run.RecordsFetched, run.RecordsInserted, run.RecordsUpdated)
	}
	writer.Flush()

	stale, err := store.ListStaleRuns(ctx, time.Now().UTC().Add(-opts.StaleAfter))
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}

	fmt.Fprintf(os.Stdout, "\n%d run(s) stuck in running state (started over %s ago):\n", len(stale), opts.StaleAfter)
	for _, run := range stale {
		fmt.Fprintf(os.Stdout, "  #%d %s started %s\n",
			run.ID, run.FetchType, run.StartedAt.UTC().Format(time.RFC3339))
	}
	return nil
}
