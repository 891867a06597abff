package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Upload pending recordings and task changes once",
	Long: `Upload every pending recording in one batch, then push local task
status changes. Notes stay pending when the upload fails and are retried by
the next run.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp()
		if err != nil {
			fatal("Failed to open cache", err)
		}
		defer a.Close()
		if !a.registered() {
			fatal("Sync unavailable", fmt.Errorf("device not registered, run 'voxnote register' first"))
		}

		ctx, stop := signalContext()
		defer stop()

		res, err := a.reconciler.SyncAudio(ctx)
		if err != nil {
			fatal("Upload failed", err)
		}
		switch {
		case res.Pending == 0:
			fmt.Println("No pending recordings.")
		default:
			fmt.Printf("Uploaded %d of %d pending recordings", res.Uploaded, res.Pending)
			if res.BatchJobID != "" {
				fmt.Printf(" (batch %s)", res.BatchJobID)
			}
			fmt.Println()
			if res.Skipped > 0 {
				fmt.Printf("%d skipped: recording file missing\n", res.Skipped)
			}
		}

		n, err := a.reconciler.PushTaskStatus(ctx)
		if err != nil {
			fatal("Task sync failed", err)
		}
		if n > 0 {
			fmt.Printf("Pushed %d task changes.\n", n)
		}
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Pull the dashboard and task center into the local cache",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp()
		if err != nil {
			fatal("Failed to open cache", err)
		}
		defer a.Close()
		if !a.registered() {
			fatal("Refresh unavailable", fmt.Errorf("device not registered, run 'voxnote register' first"))
		}

		ctx, stop := signalContext()
		defer stop()

		snap, err := a.reconciler.Refresh(ctx)
		if err != nil {
			fatal("Refresh failed", err)
		}
		s := snap.Dashboard.Stats
		c := snap.TaskCenter.Counts
		fmt.Printf("Notes: %d (%d processed)\n", s.TotalNotes, s.ProcessedNotes)
		fmt.Printf("Tasks: %d pending, %d in progress, %d done\n", c.Pending, c.InProgress, c.Done)
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(refreshCmd)
}
