package main

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/rpattn/bulkingest/internal/config"
)

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	rc := &cobra.Command{
		Use:   "bulkingest",
		Short: "CSV bulk upload service.",
		Long: `bulkingest accepts CSV uploads over HTTP, normalizes every row into a
typed record and stores the records in batches. Requests are rate limited
per client.`,
		SilenceUsage: true,
	}
	rc.PersistentFlags().StringP("config", "c", ".", "Directory containing config.yaml.")

	rc.AddCommand(newServeCommand(stderr))
	rc.AddCommand(newMigrateCommand(stdout, stderr))

	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

// loadConfig reads the configuration named by the --config flag and builds
// the logger it asks for.
func loadConfig(cmd *cobra.Command, logOut io.Writer) (config.Config, *slog.Logger, error) {
	dir, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Config{}, nil, err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return config.Config{}, nil, err
	}

	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if cfg.ConfigFile != "" {
		logger.Info("loaded config file", "path", cfg.ConfigFile)
	} else {
		logger.Info("no config.yaml found, using defaults and env vars")
	}
	return cfg, logger, nil
}
