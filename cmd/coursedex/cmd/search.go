package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

type searchOptions struct {
	limit  int
	format string
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the course catalog",
		Long: `Search the catalog with semantic retrieval: the query is embedded,
matched against the vector index, and hits are hydrated from the
course store.

Examples:
  coursedex search "machine learning with python"
  coursedex search "data visualization" --limit 5 --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			results, err := a.retriever.Search(cmd.Context(), query, opts.limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.format == "json" {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}

			if len(results) == 0 {
				fmt.Fprintln(out, "no results")
				return nil
			}
			for i, r := range results {
				fmt.Fprintf(out, "%2d. [%.3f] %s (%s", i+1, r.Score, r.Course.Title, r.Course.Platform)
				if p := r.Course.PartnerPrimary(); p != "" {
					fmt.Fprintf(out, ", %s", p)
				}
				fmt.Fprintln(out, ")")
				if r.Course.LandingURL != "" {
					fmt.Fprintf(out, "    %s\n", r.Course.LandingURL)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}
