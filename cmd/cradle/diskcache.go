package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/open-cradle/cradle-sub002/secondary"
)

func newDiskCacheCmd(rf *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "disk-cache",
		Short: "Inspect or clear the configured secondary cache.",
	}
	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Print the secondary cache summary as YAML.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, rf, func(ctx context.Context, store secondary.Storage) error {
				informer, ok := secondary.Unwrap(store).(secondary.Informer)
				if !ok {
					return fmt.Errorf("%w: %s storage does not report info", secondary.ErrUnsupported, store.Driver())
				}
				info, err := informer.Info(ctx)
				if err != nil {
					return err
				}
				out, err := yaml.Marshal(info)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(out)
				return err
			})
		},
	}
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every secondary cache entry.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, rf, func(ctx context.Context, store secondary.Storage) error {
				if err := store.Flush(ctx); err != nil {
					return err
				}
				rf.logger.Info("secondary cache cleared")
				return nil
			})
		},
	}
	cmd.AddCommand(infoCmd, clearCmd)
	return cmd
}

func withStore(cmd *cobra.Command, rf *rootFlags, fn func(context.Context, secondary.Storage) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := openStore(ctx, rf.cfg, rf.logger)
	if err != nil {
		return err
	}
	err = fn(ctx, store)
	if closeErr := store.Close(); err == nil {
		err = closeErr
	}
	return err
}
