package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/knowhost/corekit/internal/docindex"
)

func newMemoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Manage encrypted host memories (spec §4.8 addHostMemorySmart)",
	}
	cmd.AddCommand(newMemoryAddCmd())
	cmd.AddCommand(newMemoryListCmd())
	return cmd
}

func newMemoryAddCmd() *cobra.Command {
	var hostID string

	cmd := &cobra.Command{
		Use:   "add <host-id> <text...>",
		Short: "Add a host memory, deduping/conflict-resolving against existing ones",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if hostID == "" {
				hostID = args[0]
				args = args[1:]
			}
			if len(args) == 0 {
				return fmt.Errorf("missing memory text")
			}
			memory := strings.Join(args, " ")

			app, err := buildApp(cmd.Context(), dataDirFlag)
			if err != nil {
				return err
			}
			defer app.Close()

			decision, err := app.Core.AddHostMemorySmart(cmd.Context(), hostID, memory)
			if err != nil {
				return fmt.Errorf("add host memory: %w", err)
			}
			if err := app.Save(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "action=%s doc=%s", decision.Action, decision.DocID)
			if decision.Reason != "" {
				fmt.Fprintf(cmd.OutOrStdout(), " reason=%q", decision.Reason)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
	cmd.Flags().StringVar(&hostID, "host", "", "Host id (defaults to the first positional argument)")
	return cmd
}

func newMemoryListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <host-id>",
		Short: "List a host's decrypted memories",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context(), dataDirFlag)
			if err != nil {
				return err
			}
			defer app.Close()

			out := cmd.OutOrStdout()
			count := 0
			for _, doc := range app.Docs.ByHost(args[0]) {
				if doc.FileType != docindex.FileTypeHostMemory {
					continue
				}
				count++
				content := doc.Content
				if app.Crypto.IsEncrypted(content) {
					if plain, err := app.Crypto.Decrypt(content); err == nil {
						content = plain
					} else {
						content = "<locked>"
					}
				}
				fmt.Fprintf(out, "%s: %s\n", doc.ID, truncateLine(content, 200))
			}
			if count == 0 {
				fmt.Fprintf(out, "no memories for host %s\n", args[0])
			}
			return nil
		},
	}
	return cmd
}
