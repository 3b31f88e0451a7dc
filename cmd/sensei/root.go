package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/suPer8Hu/sensei/internal/config"
	"github.com/suPer8Hu/sensei/internal/logging"
)

type globals struct {
	cfg config.Config
	log *zap.Logger
}

func newRootCmd() *cobra.Command {
	g := &globals{}

	rootCmd := &cobra.Command{
		Use:           "sensei",
		Short:         "Sensei: grounded trading tutor backend",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, cfgErr := config.Load()
			g.cfg = cfg
			log, err := logging.New(g.cfg.LogLevel, g.cfg.LogDev)
			if err != nil {
				return err
			}
			g.log = log
			if cfgErr != nil {
				log.Warn("config file not loaded, using environment and defaults", zap.Error(cfgErr))
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if g.log != nil {
				_ = g.log.Sync()
			}
		},
	}

	rootCmd.AddCommand(
		newServeCmd(g),
		newWorkerCmd(g),
		newIngestCmd(g),
	)
	return rootCmd
}
