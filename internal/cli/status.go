package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"energy-ingest/internal/app"
)

var statusStaleAfter time.Duration

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stored coverage and recent fetch runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		if statusStaleAfter <= 0 {
			return fmt.Errorf("--stale-after must be greater than zero")
		}

		opts := app.StatusOptions{
			StaleAfter: statusStaleAfter,
		}

		return getApp().Status(cmd.Context(), opts)
	},
}

func init() {
	statusCmd.Flags().DurationVar(&statusStaleAfter, "stale-after", time.Hour, "Age after which a running fetch is reported as stuck")
}
