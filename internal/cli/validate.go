package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pairlink/internal/api"
	"pairlink/internal/token"
)

func init() {
	rootCmd.AddCommand(validateCmd)
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check that the server accepts this device's token",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, log, err := setup()
		if err != nil {
			fail(err)
		}
		defer func() { _ = log.Sync() }()

		if cfg.DeviceID == "" {
			fail(fmt.Errorf("PAIRLINK_DEVICE_ID is required"))
		}

		tokens := token.NewManager(cfg.ServerURL, token.Device{
			ID:         cfg.DeviceID,
			Name:       cfg.DeviceName,
			Type:       string(cfg.Role),
			AppVersion: appVersion,
		}, log)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if _, err := tokens.Register(ctx); err != nil {
			fail(err)
		}
		client := api.NewClient(cfg.ServerURL, tokens, log)
		if err := client.Validate(ctx); err != nil {
			fail(err)
		}
		fmt.Println("Token accepted.")
	},
}
