// Package cli implements the devicebridge command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/telhawk-devicebridge/internal/config"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/logging"
)

// Version is set at build time with -ldflags.
var Version = "0.1.0"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "devicebridge",
	Short: "TelHawk device telemetry bridge",
	Long: `devicebridge normalizes telemetry artifacts and change-feed batches into
canonical envelopes, dispatches them to devices over NATS, and persists
device-relayed telemetry into OpenSearch.`,
	Version:      Version,
	SilenceUsage:  true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml or /etc/telhawk/devicebridge/config.yaml)")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *logging.Logger {
	logger := logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format).
		With(logging.Service("devicebridge"))
	logging.SetDefault(logger)
	return logger
}
