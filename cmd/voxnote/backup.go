package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/dukerupert/voxnote/internal/backup"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	backupPassphrase string
	restoreOut       string
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Encrypted snapshots of the local cache",
}

// passphrase falls back to VOXNOTE_BACKUP_PASSPHRASE so it stays out of
// shell history.
func passphrase() string {
	if backupPassphrase != "" {
		return backupPassphrase
	}
	return os.Getenv("VOXNOTE_BACKUP_PASSPHRASE")
}

func openBackups() (*app, *backup.Manager) {
	a, err := openApp()
	if err != nil {
		fatal("Failed to open cache", err)
	}
	m := a.backupManager(nil)
	if !m.Enabled() {
		a.Close()
		fatal("Backup unavailable", backup.ErrDisabled)
	}
	return a, m
}

var backupRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Snapshot, encrypt, and upload the cache now",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		a, m := openBackups()
		defer a.Close()

		ctx, stop := signalContext()
		defer stop()

		rec, err := m.RunNow(ctx, passphrase())
		if err != nil {
			fatal("Backup failed", err)
		}
		fmt.Printf("Backup %d uploaded: %s (%s)\n", rec.ID, rec.ObjectKey, humanize.Bytes(uint64(rec.SizeBytes)))
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded snapshots",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp()
		if err != nil {
			fatal("Failed to open cache", err)
		}
		defer a.Close()

		backups, err := a.backups.List(50)
		if err != nil {
			fatal("Failed to list backups", err)
		}
		if len(backups) == 0 {
			fmt.Println("No backups.")
			return
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTATUS\tSIZE\tCREATED\tFILE")
		for _, b := range backups {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
				b.ID, b.Status, humanize.Bytes(uint64(b.SizeBytes)), humanize.Time(b.CreatedAt), b.Filename)
		}
		tw.Flush()
	},
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore <id>",
	Short: "Download and decrypt a snapshot into a separate file",
	Long: `Download and decrypt a snapshot, verify its integrity, and write it to
--out. The live cache is not modified; stop voxnote and move the file over
the configured database path to complete a restore.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			fatal("Invalid backup id", err)
		}
		pass := passphrase()
		if pass == "" {
			fatal("Restore failed", backup.ErrNoPassphrase)
		}
		out := restoreOut
		if out == "" {
			out = cfg.DBPath + ".restored"
		}

		a, m := openBackups()
		defer a.Close()

		ctx, stop := signalContext()
		defer stop()

		if err := m.Restore(ctx, id, pass, out); err != nil {
			if errors.Is(err, backup.ErrNotFound) {
				fatal("Restore failed", fmt.Errorf("backup %d not found or incomplete", id))
			}
			fatal("Restore failed", err)
		}
		info, err := os.Stat(out)
		if err != nil {
			fatal("Restore failed", err)
		}
		fmt.Printf("Restored backup %d to %s (%s).\n", id, out, humanize.Bytes(uint64(info.Size())))
	},
}

var backupCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete snapshots older than the retention period",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		days, _ := cmd.Flags().GetInt("days")
		a, m := openBackups()
		defer a.Close()

		ctx, stop := signalContext()
		defer stop()

		if err := m.Cleanup(ctx, days); err != nil {
			fatal("Cleanup failed", err)
		}
		fmt.Println("Expired backups removed.")
	},
}

func init() {
	backupCmd.PersistentFlags().StringVar(&backupPassphrase, "passphrase", "", "encryption passphrase (or VOXNOTE_BACKUP_PASSPHRASE)")
	backupRestoreCmd.Flags().StringVarP(&restoreOut, "out", "o", "", "where to write the restored database (default <db>.restored)")
	backupCleanupCmd.Flags().Int("days", 30, "retention in days")

	backupCmd.AddCommand(backupRunCmd, backupListCmd, backupRestoreCmd, backupCleanupCmd)
	rootCmd.AddCommand(backupCmd)
}
