package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nvandessel/btsynth/internal/backup"
	"github.com/nvandessel/btsynth/internal/config"
)

func backupDir() string {
	return filepath.Join(config.HomeDir(), "backups")
}

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the controller store to a backup file",
		Long: `Back up every stored controller and the rounds of the patch runs that
produced them to a compressed, checksummed file.

Default location: ~/.btsynth/backups/btsynth-backup-YYYYMMDD-HHMMSS.bak
Backups in that directory are pruned to --keep, plus any newer than
--max-age, plus the newest backup still holding each controller unless
--keep-last-copies=false.

Examples:
  btsynth backup                       # Backup to the default location
  btsynth backup --output store.bak    # Backup to a specific file
  btsynth backup list                  # List backups
  btsynth backup verify <file>         # Verify backup integrity
  btsynth backup restore <file>        # Merge a backup into the store`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			outputPath, _ := cmd.Flags().GetString("output")
			keep, _ := cmd.Flags().GetInt("keep")
			maxAge, _ := cmd.Flags().GetString("max-age")
			lastCopies, _ := cmd.Flags().GetBool("keep-last-copies")

			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			rotate := outputPath == ""
			if rotate {
				outputPath = backup.GenerateBackupPath(backupDir())
			} else {
				outputPath = rootPath(cmd, outputPath)
			}

			cs, err := openStore(settings, newLogger(cmd, settings))
			if err != nil {
				return err
			}
			defer cs.Close()

			snap, err := backup.Backup(cmd.Context(), cs, outputPath)
			if err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			if rotate {
				retention := backup.Retention{Keep: keep, LastCopies: lastCopies}
				if maxAge != "" {
					if retention.MaxAge, err = backup.ParseAge(maxAge); err != nil {
						return err
					}
				}
				if _, err := backup.Prune(backupDir(), retention); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: failed to apply retention: %v\n", err)
				}
			}

			if jsonOut {
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{
					"path":             outputPath,
					"controller_count": len(snap.Controllers),
					"run_count":        len(snap.Runs),
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Backup created: %d controllers, %d runs\n", len(snap.Controllers), len(snap.Runs))
			fmt.Fprintf(cmd.OutOrStdout(), "  Path: %s\n", outputPath)
			return nil
		},
	}
	cmd.Flags().String("output", "", "Output file path (default: auto-generated in ~/.btsynth/backups/)")
	cmd.Flags().Int("keep", 10, "Number of default-location backups to keep")
	cmd.Flags().String("max-age", "", "Also keep default-location backups newer than this (e.g. 30d, 2w)")
	cmd.Flags().Bool("keep-last-copies", true, "Also keep the newest backup holding each controller")

	cmd.AddCommand(newBackupListCmd(), newBackupVerifyCmd(), newBackupRestoreCmd())
	return cmd
}

func newBackupListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List backups in the default location",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			backups, err := backup.ListBackups(backupDir())
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{"backups": backups, "count": len(backups)})
			}
			if len(backups) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No backups found.")
				return nil
			}
			for _, b := range backups {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %d controllers  %d bytes\n",
					filepath.Base(b.Path), b.CreatedAt.Format("2006-01-02 15:04"), b.Controllers, b.Size)
			}
			return nil
		},
	}
}

func newBackupVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <file>",
		Short: "Verify the checksum of a backup file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := backup.Verify(rootPath(cmd, args[0]))
			if err != nil {
				return fmt.Errorf("verification failed: %w", err)
			}
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), h)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Backup is intact: %d controllers, %d runs, created %s\n",
				h.ControllerCount, h.RunCount, h.CreatedAt.Format("2006-01-02 15:04"))
			return nil
		},
	}
}

func newBackupRestoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore <file>",
		Short: "Restore controllers from a backup file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, _ := cmd.Flags().GetString("mode")
			path := rootPath(cmd, args[0])
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("backup file: %w", err)
			}

			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			cs, err := openStore(settings, newLogger(cmd, settings))
			if err != nil {
				return err
			}
			defer cs.Close()

			result, err := backup.Restore(cmd.Context(), cs, path, backup.RestoreMode(mode))
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored %d controllers (%d skipped), %d runs\n",
				result.ControllersRestored, result.ControllersSkipped, result.RunsRestored)
			return nil
		},
	}
	cmd.Flags().String("mode", string(backup.RestoreMerge), "Restore mode: merge or replace")
	return cmd
}
