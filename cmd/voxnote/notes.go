package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dukerupert/voxnote/internal/model"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	notesJSON    bool
	notesPending bool
)

var notesCmd = &cobra.Command{
	Use:   "notes",
	Short: "List notes in the local cache",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp()
		if err != nil {
			fatal("Failed to open cache", err)
		}
		defer a.Close()

		var notes []model.Note
		if notesPending {
			notes, err = a.notes.ListUnsynced()
		} else {
			notes, err = a.notes.List()
		}
		if err != nil {
			fatal("Failed to list notes", err)
		}

		if notesJSON {
			printJSON(notes)
			return
		}
		if len(notes) == 0 {
			fmt.Println("No notes.")
			return
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTATUS\tSYNCED\tRECORDED\tAUDIO\tTITLE")
		for _, n := range notes {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				shortID(n.ID), n.Status, yesNo(n.Synced), humanize.Time(n.Timestamp), audioSize(n), n.Title)
		}
		tw.Flush()
	},
}

// audioSize describes the local recording behind a note.
func audioSize(n model.Note) string {
	if n.LocalAudioPath == nil {
		if n.AudioURL != nil {
			return "remote"
		}
		return "-"
	}
	info, err := os.Stat(*n.LocalAudioPath)
	if err != nil {
		return "missing"
	}
	return humanize.Bytes(uint64(info.Size()))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatal("Failed to encode JSON", err)
	}
}

func init() {
	notesCmd.Flags().BoolVar(&notesJSON, "json", false, "output in JSON format")
	notesCmd.Flags().BoolVar(&notesPending, "pending", false, "only notes waiting for upload")
	rootCmd.AddCommand(notesCmd)
}
