package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pairlink/internal/config"
	"pairlink/internal/logging"

	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:   "pairlink",
	Short: "Realtime pairing client for watcher/watched devices",
}

func Execute() error {
	return rootCmd.Execute()
}

// setup loads config and builds the logger shared by all commands.
func setup() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, log, nil
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}
