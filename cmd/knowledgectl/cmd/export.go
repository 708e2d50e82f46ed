package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/knowhost/corekit/internal/config"
)

// Export/import (spec §6) move the knowledge/ data directory's portable
// state — documents.json, a settings snapshot, the vectors/ directory,
// and the .password file if one exists — between machines. The bm25/
// index is deliberately left out: it's a derived mirror of the vector
// store's content, and the next Startup's Reconcile (spec §4.8) rebuilds
// whichever index comes up empty.
func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <dest-dir>",
		Short: "Export documents.json, settings, vectors/, and .password to dest-dir",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dest := args[0]
			dataDir := dataDirFlag
			if dataDir == "" {
				dataDir = config.KnowledgeDir()
			}
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return fmt.Errorf("create export dir: %w", err)
			}

			if err := copyFile(filepath.Join(dataDir, "documents.json"), filepath.Join(dest, "documents.json")); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("export documents.json: %w", err)
			}

			settings, err := config.Load()
			if err != nil {
				return fmt.Errorf("load settings: %w", err)
			}
			if err := settings.WriteYAML(filepath.Join(dest, "settings.yaml")); err != nil {
				return fmt.Errorf("export settings: %w", err)
			}

			if err := copyDir(filepath.Join(dataDir, vectorsDirName), filepath.Join(dest, vectorsDirName)); err != nil {
				return fmt.Errorf("export vectors: %w", err)
			}

			pwPath := filepath.Join(dataDir, ".password")
			if _, err := os.Stat(pwPath); err == nil {
				if err := copyFile(pwPath, filepath.Join(dest, ".password")); err != nil {
					return fmt.Errorf("export password file: %w", err)
				}
			}
			saltPath := filepath.Join(dataDir, ".salt")
			if _, err := os.Stat(saltPath); err == nil {
				if err := copyFile(saltPath, filepath.Join(dest, ".salt")); err != nil {
					return fmt.Errorf("export salt file: %w", err)
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "exported %s to %s\n", dataDir, dest)
			return nil
		},
	}
	return cmd
}

func newImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <src-dir>",
		Short: "Import an export produced by 'knowledgectl export'",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := args[0]
			dataDir := dataDirFlag
			if dataDir == "" {
				dataDir = config.KnowledgeDir()
			}
			if err := os.MkdirAll(dataDir, 0o755); err != nil {
				return fmt.Errorf("create data dir: %w", err)
			}

			// Copy .password (and .salt) first so the imported payloads
			// become decryptable before anything else touches them (spec
			// §6 import step (a)).
			for _, name := range []string{".salt", ".password"} {
				srcPath := filepath.Join(src, name)
				if _, err := os.Stat(srcPath); err == nil {
					if err := copyFile(srcPath, filepath.Join(dataDir, name)); err != nil {
						return fmt.Errorf("import %s: %w", name, err)
					}
				}
			}

			if err := os.RemoveAll(filepath.Join(dataDir, vectorsDirName)); err != nil {
				return fmt.Errorf("clear existing vectors: %w", err)
			}
			if err := copyDir(filepath.Join(src, vectorsDirName), filepath.Join(dataDir, vectorsDirName)); err != nil {
				return fmt.Errorf("import vectors: %w", err)
			}

			if err := copyFile(filepath.Join(src, "documents.json"), filepath.Join(dataDir, "documents.json")); err != nil {
				return fmt.Errorf("import documents.json: %w", err)
			}

			// Re-initializing the VectorStore/BM25Index/DocumentIndex
			// happens the next time buildApp runs (spec §6 import step
			// (d)); a fresh process picks up the imported files directly.
			fmt.Fprintf(cmd.OutOrStdout(), "imported %s into %s; restart knowledgectl to pick up the new state\n", src, dataDir)
			return nil
		},
	}
	return cmd
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

func copyDir(src, dst string) error {
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return nil
	}
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}
