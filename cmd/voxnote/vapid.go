package main

import (
	"fmt"

	"github.com/dukerupert/voxnote/internal/push"
	"github.com/spf13/cobra"
)

var vapidCmd = &cobra.Command{
	Use:   "vapid-keys",
	Short: "Generate a VAPID key pair for local web push",
	Args:  cobra.NoArgs,
	// no config or database needed
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		public, private, err := push.GenerateVAPIDKeys()
		if err != nil {
			fatal("Key generation failed", err)
		}
		fmt.Println("# add to voxnote.yaml")
		fmt.Println("push:")
		fmt.Printf("  vapid_public_key: %s\n", public)
		fmt.Printf("  vapid_private_key: %s\n", private)
	},
}

func init() {
	rootCmd.AddCommand(vapidCmd)
}
