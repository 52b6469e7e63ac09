package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"energy-ingest/internal/app"
	"energy-ingest/internal/model"
)

var (
	backfillSources []string
	backfillFrom    string
	backfillTo      string
	backfillForce   bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Backfill a historical date range",
	RunE: func(cmd *cobra.Command, args []string) error {
		if backfillFrom == "" || backfillTo == "" {
			return fmt.Errorf("--from and --to must be provided")
		}

		from, err := time.Parse("2006-01-02", backfillFrom)
		if err != nil {
			return fmt.Errorf("invalid --from value: %w", err)
		}

		to, err := time.Parse("2006-01-02", backfillTo)
		if err != nil {
			return fmt.Errorf("invalid --to value: %w", err)
		}

		if from.After(to) {
			return fmt.Errorf("--from must not be after --to")
		}

		sources, err := parseSources(backfillSources)
		if err != nil {
			return err
		}

		opts := app.BackfillOptions{
			Sources: sources,
			From:    from,
			To:      to,
			Force:   backfillForce,
		}

		return getApp().Backfill(cmd.Context(), opts)
	},
}

func parseSources(names []string) ([]model.Source, error) {
	sources := make([]model.Source, 0, len(names))
	for _, name := range names {
		source, err := model.ParseSource(name)
		if err != nil {
			return nil, err
		}
		sources = append(sources, source)
	}
	return sources, nil
}

func init() {
	backfillCmd.Flags().StringSliceVar(&backfillSources, "source", nil, "Sources to backfill (default all)")
	backfillCmd.Flags().StringVar(&backfillFrom, "from", "", "Start date (YYYY-MM-DD, inclusive)")
	backfillCmd.Flags().StringVar(&backfillTo, "to", "", "End date (YYYY-MM-DD, inclusive)")
	backfillCmd.Flags().BoolVar(&backfillForce, "force", false, "Refetch windows already covered by successful runs")
}
