package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"gallery/internal/logging"
	"gallery/internal/models"
)

type rootOptions struct {
	configPath string
	cfg        *models.Config
	log        *slog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "gallery",
		Short:         "Image gallery API and thumbnail worker",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := models.LoadConfig(opts.configPath)
			if err != nil {
				return err
			}
			logger, err := logging.Setup(os.Stdout, cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			opts.log = logger
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "config.yaml", "path to the YAML config file")

	cmd.AddCommand(
		newServeCmd(opts),
		newWorkerCmd(opts),
		newMigrateCmd(opts),
	)
	return cmd
}
