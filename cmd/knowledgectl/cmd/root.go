package cmd

import (
	"github.com/spf13/cobra"

	"github.com/knowhost/corekit/pkg/version"
)

var (
	dataDirFlag string
	verboseFlag bool
)

// NewRootCmd creates the root command for the knowledgectl CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "knowledgectl",
		Short:   "Local hybrid-search knowledge core",
		Long:    `knowledgectl exercises the knowledge core's ingest, search, and host-memory commands against a local on-disk index.`,
		Version: version.Version,
	}
	cmd.SetVersionTemplate("knowledgectl version {{.Version}}\n")
	cmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "Override the knowledge/ data directory (default: ~/.corekit/knowledge)")
	cmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Log at debug level instead of info")

	cmd.AddCommand(newAddCmd())
	cmd.AddCommand(newRemoveCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newMemoryCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newPasswordCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newExportCmd())
	cmd.AddCommand(newImportCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
