package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"cryptoledger/config"
	"cryptoledger/logger"
)

// Version is set at build time with -ldflags "-X cryptoledger/internal/commands.Version=...".
var Version = "dev"

// app carries the state shared by every subcommand once the configuration
// has been loaded.
type app struct {
	configPath string
	cfg        *config.Config
	log        *logger.Log
}

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	a := &app{log: logger.GetLogger()}

	rootCmd := &cobra.Command{
		Use:     "cryptoledger",
		Short:   "Export Binance transaction history to CSV, Parquet and XLSX",
		Version: Version,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}
	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", config.DefaultConfigPath, "path to configuration file")

	rootCmd.AddCommand(newFetchCommand(a))
	rootCmd.AddCommand(newAverageCommand(a))
	rootCmd.AddCommand(newBalancesCommand(a))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == "version" {
		return nil
	}

	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		a.log.WithError(err).Error("failed to load configuration")
		return err
	}

	if err := a.log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}

	if cfg.Metrics.CloudWatch.Enabled {
		logger.InitCloudWatch(cmd.Context(), cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace)
	}

	a.log.WithFields(logger.Fields{
		"service": cfg.CryptoLedger.Name,
		"version": cfg.CryptoLedger.Version,
		"command": cmd.Name(),
	}).WithEnv("APP_ENV").Info("starting cryptoledger")

	a.cfg = cfg
	return nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "cryptoledger %s\n", Version)
			return err
		},
	}
}
