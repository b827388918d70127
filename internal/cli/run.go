package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pairlink/internal/api"
	"pairlink/internal/conn"
	"pairlink/internal/protocol"
	"pairlink/internal/token"
)

var runRole string

func init() {
	runCmd.Flags().StringVar(&runRole, "role", "", "override role (watcher|watched)")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect and stay online until interrupted",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, log, err := setup()
		if err != nil {
			fail(err)
		}
		defer func() { _ = log.Sync() }()

		if runRole != "" {
			role := protocol.Role(runRole)
			if !role.Valid() {
				fail(fmt.Errorf("invalid role %q", runRole))
			}
			cfg.Role = role
		}
		if cfg.DeviceID == "" {
			fail(fmt.Errorf("PAIRLINK_DEVICE_ID is required"))
		}

		tokens := token.NewManager(cfg.ServerURL, token.Device{
			ID:         cfg.DeviceID,
			Name:       cfg.DeviceName,
			Type:       string(cfg.Role),
			AppVersion: appVersion,
		}, log)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		regCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if _, err := tokens.Register(regCtx); err != nil {
			cancel()
			fail(err)
		}
		cancel()

		client := api.NewClient(cfg.ServerURL, tokens, log)
		mgr, err := conn.New(conn.Options{
			ServerURL:          cfg.ServerURL,
			SocketPath:         cfg.SocketPath,
			DeviceID:           cfg.DeviceID,
			DeviceName:         cfg.DeviceName,
			PeerID:             cfg.PeerID,
			Role:               cfg.Role,
			API:                client,
			HandshakeWait:      cfg.HandshakeWait,
			HeartbeatInterval:  cfg.HeartbeatInterval,
			ReregisterInterval: cfg.ReregisterInterval,
			ReconcileLimit:     cfg.ReconcileLimit,
			DialTimeout:        cfg.DialTimeout,
			BackoffBase:        cfg.BackoffBase,
			BackoffMax:         cfg.BackoffMax,
			Logger:             log,
		})
		if err != nil {
			fail(err)
		}
		defer mgr.Cleanup()

		mgr.AddStateListener(func(ev conn.StateEvent) {
			if ev.Err != nil {
				log.Warn("connection state", zap.Stringer("state", ev.State), zap.Error(ev.Err))
				return
			}
			fmt.Println("state:", ev.State)
		})
		mgr.AddChatListener(func(msg protocol.ChatMessage) {
			fmt.Printf("[%s] %s\n", msg.Sender, msg.Text)
		})
		mgr.OnCommand(protocol.CommandCriticalAlert, func(cmd protocol.CommandPayload) {
			fmt.Println("critical alert:", string(cmd.Data))
		})
		mgr.OnCommand(protocol.CommandParentLocation, func(cmd protocol.CommandPayload) {
			fmt.Println("peer location:", string(cmd.Data))
		})

		if err := mgr.Start(ctx); err != nil {
			log.Warn("initial connect failed, retrying in background", zap.Error(err))
		}

		<-ctx.Done()
		fmt.Println("shutting down")
	},
}
