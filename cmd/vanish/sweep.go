package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haukened/vanish/internal/janitor"
)

func newSweepCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire due shares, purge spent blobs and remove orphans once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			rt, err := setup(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.Close()
			defer rt.metrics.Stop(ctx)

			jan := janitor.New(rt.svc, rt.reconciler, janitor.Config{Logger: rt.logger, Metrics: rt.metrics})
			swept, orphans, err := jan.RunOnce(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "swept %d shares, removed %d orphan blobs\n", swept, orphans)
			return err
		},
	}
}
