package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRevokeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke TOKEN...",
		Short: "Revoke shares and purge their files immediately",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			for _, token := range args {
				if err := rt.svc.RevokeShare(ctx, token); err != nil {
					return fmt.Errorf("revoke %s: %w", token, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", token)
			}
			return nil
		},
	}
}
