package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/open-cradle/cradle-sub002/config"
)

type rootFlags struct {
	configPath string

	cfg    config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	rf := new(rootFlags)
	rootCmd := &cobra.Command{
		Use:   "cradle",
		Short: "Resolve requests through the cradle caches.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(rf.configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger, err := config.NewLogger(cfg.Log)
			if err != nil {
				return fmt.Errorf("failed to init logger: %w", err)
			}
			rf.cfg = cfg
			rf.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if rf.logger != nil {
				_ = rf.logger.Sync()
			}
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&rf.configPath, "config", "c", "", "config file")
	rootCmd.AddCommand(newResolveCmd(rf), newDiskCacheCmd(rf))
	return rootCmd
}
