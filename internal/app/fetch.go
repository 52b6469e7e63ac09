package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"energy-ingest/internal/model"
)

// Fetch runs a one-shot fetch over the recent window and prints a per-source
// summary. A non-nil error is returned when any source failed outright.
func (a *App) Fetch(ctx context.Context, opts FetchOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	orch := a.newOrchestrator(store)
	results := orch.FetchRecent(ctx, opts.Sources, opts.DaysBack)

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Source\tFetched\tInserted\tUpdated\tSkipped\tErrors")

	failed := 0
	for _, source := range orderedSources(opts.Sources) {
		res, ok := results[source]
		if !ok {
			continue
		}
		if len(res.Errors) > 0 {
			failed++
		}
		fmt.Fprintf(
			writer,
			"%s\t%d\t%d\t%d\t%d\t%s\n",
			source,
			res.Fetched,
			res.Inserted,
			res.Updated,
			res.Skipped,
			sanitizeInline(strings.Join(res.Errors, "; ")),
		)
	}
	writer.Flush()

	if failed > 0 {
		return errors.New("one or more sources reported errors")
	}
	return nil
}

func orderedSources(requested []model.Source) []model.Source {
	if len(requested) == 0 {
		return model.AllSources()
	}
	return requested
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
