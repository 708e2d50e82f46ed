package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/knowhost/corekit/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and manage the user configuration file",
	}
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigBackupsCmd())
	cmd.AddCommand(newConfigRestoreCmd())
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the resolved settings and the user config file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "path=%s exists=%t\n", config.GetUserConfigPath(), config.UserConfigExists())
			fmt.Fprintf(cmd.OutOrStdout(), "search_top_k=%d chunk_strategy=%s local_model=%s enable_rerank=%t\n",
				settings.SearchTopK, settings.ChunkStrategy, settings.LocalModel, settings.EnableRerank)
			return nil
		},
	}
}

func newConfigBackupsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backups",
		Short: "List timestamped backups of the user config file, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			backups, err := config.ListUserConfigBackups()
			if err != nil {
				return fmt.Errorf("list config backups: %w", err)
			}
			if len(backups) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no backups found")
				return nil
			}
			for _, b := range backups {
				fmt.Fprintln(cmd.OutOrStdout(), b)
			}
			return nil
		},
	}
}

func newConfigRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <backup-path>",
		Short: "Restore the user config from a backup, backing up the current one first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.RestoreUserConfig(args[0]); err != nil {
				return fmt.Errorf("restore config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored config from %s\n", args[0])
			return nil
		},
	}
}
