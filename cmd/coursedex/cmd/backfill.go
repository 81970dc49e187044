package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newBackfillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backfill",
		Short: "Re-embed every stored course into the vector index",
		Long: `Scan the course store and resync every course into the vector
index. The scan cursor is checkpointed after each page, so an
interrupted backfill resumes where it stopped. Only one backfill can
run per data directory at a time.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.coord.Backfill(cmd.Context())
			if err != nil {
				return err
			}

			resumed := ""
			if report.Resumed {
				resumed = " (resumed)"
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"backfill %s%s: %d synced, %d skipped, %d pages in %s\n",
				report.RunID, resumed, report.Synced, report.Skipped,
				report.Pages, report.Duration.Round(time.Millisecond))
			return nil
		},
	}
}
