package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"pairlink/internal/token"
)

func init() {
	rootCmd.AddCommand(registerCmd)
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register this device and obtain a token",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, log, err := setup()
		if err != nil {
			fail(err)
		}
		defer func() { _ = log.Sync() }()

		deviceID := cfg.DeviceID
		if deviceID == "" {
			deviceID = uuid.NewString()
			fmt.Println("Generated device id:", deviceID)
			fmt.Println("Persist it as PAIRLINK_DEVICE_ID.")
		}

		tokens := token.NewManager(cfg.ServerURL, token.Device{
			ID:         deviceID,
			Name:       cfg.DeviceName,
			Type:       string(cfg.Role),
			AppVersion: appVersion,
		}, log)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		tok, err := tokens.Register(ctx)
		if err != nil {
			fail(err)
		}
		fmt.Println("Registered successfully.")
		if !tok.Expiry.IsZero() {
			fmt.Println("Token expires at:", tok.Expiry.Format(time.RFC3339))
		}
	},
}

const appVersion = "0.1.0"
