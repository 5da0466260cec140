package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ifirmawan/akvo-mis-sub000/internal/config"
	"github.com/ifirmawan/akvo-mis-sub000/internal/logging"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "mis-device",
	Short:         "Offline-first data collection sync daemon",
	Long:          "Reconciles locally captured form submissions, drafts, and form definitions with the remote service.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: mis.yaml in . or ./data)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
}

// loadConfig reads configuration and initializes logging from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	level := logging.ParseLevel(cfg.LogLevel)
	if cfg.LogFile != "" {
		logging.InitFile(cfg.LogFile, level)
	} else {
		logging.Init(os.Stderr, level)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return cfg, nil
}
