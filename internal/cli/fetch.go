package cli

import (
	"github.com/spf13/cobra"

	"energy-ingest/internal/app"
)

var (
	fetchSources []string
	fetchDays    int
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch the recent window once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		sources, err := parseSources(fetchSources)
		if err != nil {
			return err
		}

		opts := app.FetchOptions{
			Sources:  sources,
			DaysBack: fetchDays,
		}

		return getApp().Fetch(cmd.Context(), opts)
	},
}

func init() {
	fetchCmd.Flags().StringSliceVar(&fetchSources, "source", nil, "Sources to fetch (system, dayahead, carbon, fuelmix; default all)")
	fetchCmd.Flags().IntVar(&fetchDays, "days", 0, "Days back to fetch (defaults to config)")
}
