package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newAuditCmd() *cobra.Command {
	var repair bool

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Check store and index consistency",
		Long: `Compare the course store against the vector index: duplicate index
documents, courses missing from the index, and index documents whose
course no longer exists. With --repair, duplicated ids are collapsed
to their oldest document.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.coord.Audit(cmd.Context(), repair)
			if err != nil {
				return err
			}
			if repair {
				if err := a.saveIndex(); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "store:  %d courses\n", report.StoreCount)
			fmt.Fprintf(out, "index:  %d documents, %d unique ids\n",
				report.IndexDocuments, report.IndexUniqueIDs)

			if report.Consistent() {
				fmt.Fprintln(out, "store and index are consistent")
				return nil
			}

			if len(report.Duplicates) > 0 {
				fmt.Fprintf(out, "duplicated ids: %d\n", len(report.Duplicates))
				for id, n := range report.Duplicates {
					fmt.Fprintf(out, "  %s: %d documents\n", id, n)
				}
			}
			if report.Repaired > 0 {
				fmt.Fprintf(out, "repaired: removed %d duplicate documents\n", report.Repaired)
			}
			if len(report.MissingFromIndex) > 0 {
				fmt.Fprintf(out, "missing from index: %d (run \"coursedex backfill\")\n",
					len(report.MissingFromIndex))
			}
			if len(report.OrphanedInIndex) > 0 {
				fmt.Fprintf(out, "orphaned in index: %d\n", len(report.OrphanedInIndex))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&repair, "repair", false, "Collapse duplicated ids to their oldest document")

	return cmd
}
