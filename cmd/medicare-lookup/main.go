package main

import (
	"io"
	"os"

	"github.com/gyeh/medicare-lookup/internal/config"
	"github.com/gyeh/medicare-lookup/internal/logging"
	"github.com/gyeh/medicare-lookup/internal/resolver"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootFlags struct {
	envFile   string
	logLevel  string
	logFormat string
}

func newRootCmd() *cobra.Command {
	rf := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:          "medicare-lookup",
		Short:        "Look up Medicare physicians by name or NPI in the CMS utilization dataset",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&rf.envFile, "env-file", ".env", "Dotenv file with configuration overrides")
	rootCmd.PersistentFlags().StringVar(&rf.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&rf.logFormat, "log-format", "json", "Log format (json or console)")

	rootCmd.AddCommand(newServeCmd(rf))
	rootCmd.AddCommand(newLookupCmd(rf))
	rootCmd.AddCommand(newBulkCmd(rf))
	rootCmd.AddCommand(newCloudSetupCmd())

	return rootCmd
}

// load reads configuration, applies any explicitly set logging flags and
// builds a logger writing to w.
func (rf *rootFlags) load(cmd *cobra.Command, w io.Writer) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.LoadFrom(rf.envFile)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = rf.logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.LogFormat = rf.logFormat
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, w)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, logger, nil
}

func newResolver(cfg *config.Config, logger zerolog.Logger) *resolver.Resolver {
	return resolver.NewFromConfig(cfg.CMS(),
		resolver.WithMaxNameResults(cfg.CMSMaxResults),
		resolver.WithLogger(logger),
	)
}
