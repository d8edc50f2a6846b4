// Package main implements pcdimport, a CLI that imports point-cloud episode
// projects into the platform.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pcdimport/internal/config"
	"github.com/fyrsmithlabs/pcdimport/internal/logging"
	"github.com/fyrsmithlabs/pcdimport/internal/telemetry"
)

var (
	// configPath overrides the default config file location
	configPath string
	logLevel   string
	logFormat  string

	// version information, set at build time
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pcdimport",
	Short: "Import point-cloud episode projects into the platform",
	Long: `pcdimport uploads a point-cloud episode project to the platform.

A project is a directory holding meta.json and one subdirectory per dataset.
Each dataset has pointcloud/*.pcd, and optionally frame_pointcloud_map.json,
annotation.json and related_images/.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/pcdimport/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: console or json")
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

// loadConfig loads the configuration and applies the global flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	lc, err := logging.NewConfig(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(lc)
}

// newTelemetry starts the OTLP providers. An unreachable collector only
// degrades telemetry, it never fails the command.
func newTelemetry(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*telemetry.Telemetry, error) {
	return telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry, version),
		telemetry.WithDegradedHandler(func(err error) {
			logger.Warn(ctx, "telemetry degraded", zap.Error(err))
		}),
	)
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
