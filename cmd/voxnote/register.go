package main

import (
	"fmt"

	"github.com/dukerupert/voxnote/internal/push"
	"github.com/dukerupert/voxnote/internal/store"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	registerPushToken string
	registerForce     bool
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register this device with the backend",
	Long: `Register this device with the backend and store the returned user id and
token in the local cache. The device id is generated once and reused.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp()
		if err != nil {
			fatal("Failed to open cache", err)
		}
		defer a.Close()

		account, err := a.settings.GetAccount()
		if err != nil {
			fatal("Failed to read settings", err)
		}
		if account[store.KeyUserID] != "" && !registerForce {
			fmt.Printf("Already registered as %s (use --force to register again).\n", account[store.KeyUserID])
			return
		}

		deviceID := account[store.KeyDeviceID]
		if deviceID == "" {
			deviceID = uuid.NewString()
			if err := a.settings.Set(store.KeyDeviceID, deviceID); err != nil {
				fatal("Failed to store device id", err)
			}
		}
		pushToken := registerPushToken
		if pushToken == "" {
			pushToken = account[store.KeyPushToken]
		}

		ctx, stop := signalContext()
		defer stop()

		reg, err := a.client.Register(ctx, deviceID, pushToken)
		if err != nil {
			fatal("Registration failed", err)
		}

		for key, value := range map[string]string{
			store.KeyUserID:    reg.UserID,
			store.KeyAuthToken: reg.Token,
			store.KeyPushToken: pushToken,
		} {
			if err := a.settings.Set(key, value); err != nil {
				fatal("Failed to store registration", err)
			}
		}
		fmt.Printf("Registered device %s as user %s.\n", deviceID, reg.UserID)
	},
}

var pushTokenCmd = &cobra.Command{
	Use:   "push-token <token>",
	Short: "Store a rotated push token and send it to the backend",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp()
		if err != nil {
			fatal("Failed to open cache", err)
		}
		defer a.Close()

		ctx, stop := signalContext()
		defer stop()

		if err := push.NewTokenRefresher(a.client, a.settings, logger).Refresh(ctx, args[0]); err != nil {
			fatal("Token refresh failed", err)
		}
		fmt.Println("Push token updated.")
	},
}

func init() {
	registerCmd.Flags().StringVar(&registerPushToken, "push-token", "", "platform push token to register")
	registerCmd.Flags().BoolVar(&registerForce, "force", false, "register again even if a user id is stored")
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(pushTokenCmd)
}
