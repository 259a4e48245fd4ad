package main

import (
	"context"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/open-cradle/cradle-sub002/cachekey"
	"github.com/open-cradle/cradle-sub002/resolve"
	"github.com/open-cradle/cradle-sub002/sample"
)

type resolveFlags struct {
	metrics bool
}

func newResolveCmd(rf *rootFlags) *cobra.Command {
	flags := new(resolveFlags)
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve a sample request.",
	}
	cmd.PersistentFlags().BoolVar(&flags.metrics, "metrics", false, "print resolution metrics after the result")

	var size int
	var fill uint8
	blobCmd := &cobra.Command{
		Use:   "blob",
		Short: "Resolve a blob of --size bytes and print its digest and length.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := sample.MakeBlob{Size: size, Fill: fill}
			return runResolve(cmd, rf, flags, req, func(ctx context.Context, rc *resolve.Context) (string, error) {
				blob, err := resolve.Resolve[[]byte](ctx, rc, req)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("length: %d", len(blob)), nil
			})
		},
	}
	blobCmd.Flags().IntVar(&size, "size", 1024, "blob size in bytes")
	blobCmd.Flags().Uint8Var(&fill, "fill", 0, "first byte of the pattern")

	var values []int64
	sumCmd := &cobra.Command{
		Use:   "sum",
		Short: "Resolve the sum of --values.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := sample.Sum{Values: values}
			return runResolve(cmd, rf, flags, req, func(ctx context.Context, rc *resolve.Context) (string, error) {
				total, err := resolve.Resolve[int64](ctx, rc, req)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("sum: %d", total), nil
			})
		},
	}
	sumCmd.Flags().Int64SliceVar(&values, "values", nil, "values to add")

	cmd.AddCommand(blobCmd, sumCmd)
	return cmd
}

func runResolve(cmd *cobra.Command, rf *rootFlags, flags *resolveFlags, req cachekey.Captured, run func(context.Context, *resolve.Context) (string, error)) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	var (
		reg        *prometheus.Registry
		registerer prometheus.Registerer
	)
	if flags.metrics {
		reg = prometheus.NewRegistry()
		registerer = reg
	}
	st, err := newStack(ctx, rf.cfg, rf.logger, registerer)
	if err != nil {
		return err
	}
	line, err := run(ctx, st.rc)
	if closeErr := st.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "digest: %s\n%s\n", cachekey.New(req).Digest(), line)
	if reg != nil {
		return writeMetrics(out, reg)
	}
	return nil
}

func writeMetrics(w io.Writer, reg *prometheus.Registry) error {
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
