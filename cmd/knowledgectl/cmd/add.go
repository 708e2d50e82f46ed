package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/knowhost/corekit/internal/core"
)

func newAddCmd() *cobra.Command {
	var hostID string
	var tags []string

	cmd := &cobra.Command{
		Use:   "add <file>",
		Short: "Ingest a file into the knowledge core (spec §4.8 addDocument)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			content, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}

			app, err := buildApp(cmd.Context(), dataDirFlag)
			if err != nil {
				return err
			}
			defer app.Close()

			docID, duplicate, err := app.Core.AddDocument(cmd.Context(), core.AddDocumentInput{
				Filename: filepath.Base(path),
				Content:  string(content),
				FileSize: int64(len(content)),
				HostID:   hostID,
				Tags:     tags,
			})
			if err != nil {
				return fmt.Errorf("add document: %w", err)
			}
			if err := app.Save(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !isTTY(out) {
				// Piped/scripted output: just the id, nothing decorative.
				fmt.Fprintln(out, docID)
				return nil
			}
			if duplicate {
				fmt.Fprintf(out, "duplicate: %s already ingested as %s\n", path, docID)
				return nil
			}
			fmt.Fprintf(out, "ingested %s as %s\n", path, docID)
			return nil
		},
	}

	cmd.Flags().StringVar(&hostID, "host", "", "Associate the document with a host id")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Tag to attach (repeatable)")
	return cmd
}

func newRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <doc-id>",
		Short: "Remove a document and its chunks (spec §4.8 removeDocument)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context(), dataDirFlag)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Core.RemoveDocument(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("remove document: %w", err)
			}
			if err := app.Save(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	}
	return cmd
}

func joinTags(tags []string) string {
	return strings.Join(tags, ",")
}
