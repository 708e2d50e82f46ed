package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/knowhost/corekit/internal/core"
)

func newSearchCmd() *cobra.Command {
	var limit int
	var hostID string
	var tags []string
	var rerank bool

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Hybrid search over the knowledge core (spec §4.8 search)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")

			app, err := buildApp(cmd.Context(), dataDirFlag)
			if err != nil {
				return err
			}
			defer app.Close()

			opts := core.SearchOptions{Limit: limit, HostID: hostID, Tags: tags}
			if cmd.Flags().Changed("rerank") {
				opts.EnableRerank = &rerank
			}

			results, err := app.Core.Search(cmd.Context(), query, opts)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(results) == 0 {
				fmt.Fprintf(out, "no results for %q\n", query)
				return nil
			}
			for i, r := range results {
				fmt.Fprintf(out, "%d. [%s] score=%.4f doc=%s", i+1, r.Source, r.Score, r.DocID)
				if r.Metadata.Filename != "" {
					fmt.Fprintf(out, " file=%s", r.Metadata.Filename)
				}
				if len(r.Metadata.Tags) > 0 {
					fmt.Fprintf(out, " tags=%s", joinTags(r.Metadata.Tags))
				}
				fmt.Fprintln(out)
				fmt.Fprintln(out, "   "+truncateLine(r.Content, 200))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of results (default: settings.search_top_k)")
	cmd.Flags().StringVar(&hostID, "host", "", "Restrict to chunks visible to this host id")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Restrict to chunks carrying any of these tags (repeatable)")
	cmd.Flags().BoolVar(&rerank, "rerank", false, "Force-enable the LLM reranker for this query")
	return cmd
}

func truncateLine(s string, max int) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "\n", " ")
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
