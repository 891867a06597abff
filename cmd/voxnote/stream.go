package main

import (
	"fmt"

	"github.com/dukerupert/voxnote/internal/stream"
	"github.com/spf13/cobra"
)

var streamQuiet bool

var streamCmd = &cobra.Command{
	Use:   "stream <file>",
	Short: "Stream a recording for live transcription",
	Long: `Stream a recording over the audio WebSocket and print transcript segments
as they arrive. When the backend reports the note it created, the note is
fetched into the local cache.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp()
		if err != nil {
			fatal("Failed to open cache", err)
		}
		defer a.Close()
		if !a.registered() {
			fatal("Streaming unavailable", fmt.Errorf("device not registered, run 'voxnote register' first"))
		}

		ctx, stop := signalContext()
		defer stop()

		streamer := stream.NewAudioStreamer(cfg.APIBaseURL, a.client.Token, cfg.StreamChunk, logger)
		transcript, err := streamer.StreamFile(ctx, args[0], func(seg stream.Segment) {
			if !streamQuiet && seg.Text != "" {
				fmt.Printf("[%6.1fs] %s\n", seg.Start, seg.Text)
			}
		})
		if err != nil {
			fatal("Streaming failed", err)
		}

		fmt.Println()
		fmt.Println(transcript.Text)
		if !transcript.Final {
			fmt.Println("(connection closed before the final transcript)")
		}

		if transcript.NoteID != "" {
			if _, err := a.reconciler.FetchNote(ctx, transcript.NoteID); err != nil {
				logger.Warn("fetch streamed note", "note_id", transcript.NoteID, "error", err)
				return
			}
			fmt.Printf("Saved as note %s.\n", shortID(transcript.NoteID))
		}
	},
}

func init() {
	streamCmd.Flags().BoolVarP(&streamQuiet, "quiet", "q", false, "only print the final transcript")
	rootCmd.AddCommand(streamCmd)
}
