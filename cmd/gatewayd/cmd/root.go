package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/chaoschain/gateway/internal/config"
	"github.com/chaoschain/gateway/internal/logging"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"

	// Global flags
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "gatewayd",
	Short: "Durable ledger workflow gateway",
	Long: `gatewayd turns work submissions, score submissions and epoch closures
into crash-safe workflows against the studio and rewards contracts.

Configuration is read from a YAML file (--config) and GATEWAY_* environment
variables, e.g. GATEWAY_STORE_DSN overrides store.dsn.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("gatewayd {{.Version}}\n")
}

func setup(cmd *cobra.Command, _ []string) error {
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	logger, err = logging.New(cmd.ErrOrStderr(), cfg.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	return nil
}
