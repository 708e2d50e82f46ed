package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show document/chunk/index counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context(), dataDirFlag)
			if err != nil {
				return err
			}
			defer app.Close()

			vecStats := app.Vectors.Stats()
			bm25Stats := app.BM25.Stats()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "documents:   %d\n", app.Docs.Count())
			fmt.Fprintf(out, "chunks:      %d\n", vecStats.ChunkCount)
			fmt.Fprintf(out, "bm25 docs:   %d\n", bm25Stats.DocumentCount)
			fmt.Fprintf(out, "dimensions:  %d\n", app.Embedder.Dimensions())
			fmt.Fprintf(out, "model:       %s (%s)\n", app.Embedder.CurrentModel().ModelName, app.Embedder.CurrentModel().Tier)
			fmt.Fprintf(out, "data dir:    %s\n", app.DataDir)

			snap := app.Metrics.Snapshot()
			fmt.Fprintf(out, "queries:     %d (%.1f%% zero-result)\n", snap.TotalQueries, snap.ZeroResultPercentage())
			if snap.TotalQueries > 0 {
				fmt.Fprintf(out, "repetition:  %s\n", snap.RepetitionSummary())
			}
			return nil
		},
	}
	return cmd
}
