package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/coursedex/coursedex/internal/course"
)

func newIngestCmd() *cobra.Command {
	var resync bool

	cmd := &cobra.Command{
		Use:   "ingest <platform> <file.json>",
		Short: "Ingest raw scraped course records",
		Long: `Ingest a JSON array of raw provider records into the course store.

The platform argument selects the raw shape: edx, coursera or udemy.
Records without a usable identifier are dropped and counted, never
fatal. Existing courses with the same id are overwritten.

Examples:
  coursedex ingest edx scraped/edx-2026-08.json
  coursedex ingest udemy scraped/udemy.json --resync`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			platform := course.Platform(args[0])
			if !platform.Valid() {
				return fmt.Errorf("unknown platform %q (want edx, coursera or udemy)", args[0])
			}

			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			var raws []map[string]any
			if err := json.Unmarshal(data, &raws); err != nil {
				return fmt.Errorf("parse %s: %w", args[1], err)
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			stored, dropped, err := a.coord.IngestRaw(ctx, raws, platform)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ingested %d courses (%d dropped) from %s\n",
				stored, dropped, args[1])

			if resync {
				report, err := a.coord.Backfill(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "resynced %d courses into the index (%d skipped)\n",
					report.Synced, report.Skipped)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&resync, "resync", false, "Run a backfill after ingesting")

	return cmd
}
